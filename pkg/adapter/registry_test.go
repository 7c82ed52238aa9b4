package adapter

import (
	"testing"

	"github.com/netmapper/netmapper/pkg/entity"
)

type stubAdapter struct {
	name       string
	priority   int
	dependsOn  []string
	matchType  entity.Type
	criteria   Criteria
}

func (s *stubAdapter) Name() string             { return s.name }
func (s *stubAdapter) Priority() int             { return s.priority }
func (s *stubAdapter) DependsOn() []string       { return s.dependsOn }
func (s *stubAdapter) OptionalDependsOn() []string { return nil }
func (s *stubAdapter) Matches(e *entity.Entity) bool {
	return e.Type == s.matchType
}
func (s *stubAdapter) Criteria() Criteria { return s.criteria }
func (s *stubAdapter) Scan(ctx *Context, e *entity.Entity) ScanResult {
	return Success(Patch{}, nil)
}

func TestFindApplicableOrdersByDependency(t *testing.T) {
	r := NewRegistry()
	docker := &stubAdapter{name: "Docker", priority: 20}
	portainer := &stubAdapter{name: "Portainer", priority: 30, dependsOn: []string{"Docker"}}
	// Registered out of dependency order on purpose.
	r.Register(portainer)
	r.Register(docker)

	e := entity.New("host-1", entity.TypeDockerHost)
	e.OpenPorts[9000] = struct{}{}
	portainer.criteria = Criteria{RequiredOpenPorts: []int{9000, 9010, 9443}}

	applicable := r.FindApplicable(&Context{}, e)
	if len(applicable) != 2 {
		t.Fatalf("got %d applicable adapters, want 2", len(applicable))
	}
	if applicable[0].Name() != "Docker" || applicable[1].Name() != "Portainer" {
		t.Errorf("order = [%s, %s], want [Docker, Portainer]", applicable[0].Name(), applicable[1].Name())
	}
}

func TestFindApplicableTypeMatchBypassesCriteria(t *testing.T) {
	r := NewRegistry()
	proxmox := &stubAdapter{
		name:      "Proxmox",
		priority:  10,
		matchType: entity.TypeProxmox,
		criteria:  Criteria{RequiredOpenPorts: []int{9999}}, // would otherwise fail
	}
	r.Register(proxmox)

	e := entity.New("host-1", entity.TypeProxmox)
	applicable := r.FindApplicable(&Context{}, e)
	if len(applicable) != 1 || applicable[0].Name() != "Proxmox" {
		t.Errorf("type-matched adapter was filtered by criteria, got %v", applicable)
	}
}

func TestFindApplicableExcludesNonMatchingCriteria(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{
		name:     "Router",
		priority: 5,
		criteria: Criteria{RequiredOpenPorts: []int{80}},
	})

	e := entity.New("host-1", entity.TypeUnknown)
	applicable := r.FindApplicable(&Context{}, e)
	if len(applicable) != 0 {
		t.Errorf("expected no applicable adapters, got %v", applicable)
	}
}

func TestFindApplicableDegradesOnCycle(t *testing.T) {
	r := NewRegistry()
	a := &stubAdapter{name: "A", priority: 1, dependsOn: []string{"B"}, criteria: Criteria{}}
	b := &stubAdapter{name: "B", priority: 2, dependsOn: []string{"A"}, criteria: Criteria{}}
	r.Register(a)
	r.Register(b)

	e := entity.New("host-1", entity.TypeUnknown)
	applicable := r.FindApplicable(&Context{}, e)
	if len(applicable) != 2 {
		t.Fatalf("expected degraded fallback to still return both adapters, got %d", len(applicable))
	}
	// Degraded fallback is priority order: A (priority 1) before B (priority 2).
	if applicable[0].Name() != "A" || applicable[1].Name() != "B" {
		t.Errorf("degraded order = [%s, %s], want [A, B]", applicable[0].Name(), applicable[1].Name())
	}
}

func TestFindApplicableHeaderCriteria(t *testing.T) {
	r := NewRegistry()
	r.Register(&stubAdapter{
		name:     "Unraid",
		priority: 35,
		criteria: Criteria{RequiredHTTPHeaders: map[string]string{"X-Csrf-Token": "unraid"}},
	})

	e := entity.New("host-1", entity.TypeUnknown)
	e.HTTPHeaders["X-Csrf-Token"] = "unraid-csrf-abc123"
	applicable := r.FindApplicable(&Context{}, e)
	if len(applicable) != 1 {
		t.Errorf("expected header criteria to match, got %v", applicable)
	}
}
