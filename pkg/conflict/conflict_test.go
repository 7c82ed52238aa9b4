package conflict

import (
	"testing"

	"github.com/netmapper/netmapper/pkg/entity"
)

func TestDetectMergesUnknownWithSingleIdentified(t *testing.T) {
	unknown := entity.New("192.168.1.200", entity.TypeUnknown)
	unknown.IP = "192.168.1.200"
	unknown.OpenPorts[80] = struct{}{}
	unknown.OpenPorts[443] = struct{}{}
	unknown.OpenPorts[9443] = struct{}{}

	svc := entity.New("portainer-192.168.1.200", entity.TypePortainerService)
	svc.IP = "192.168.1.200"
	svc.OpenPorts[9443] = struct{}{}

	out, conflicts := Detect([]*entity.Entity{unknown, svc})

	if len(out) != 1 {
		t.Fatalf("got %d entities, want 1 (merged), out=%v", len(out), idsOf(out))
	}
	if out[0].Type != entity.TypePortainerService {
		t.Errorf("surviving entity type = %v, want PortainerService", out[0].Type)
	}
	if !out[0].HasPort(80) {
		t.Error("expected Unknown's port 80 merged into PortainerService")
	}
	for _, c := range conflicts {
		if c.Kind == entity.ConflictTypeMismatch {
			t.Errorf("expected no TypeMismatch conflict for Unknown/identified merge, got %+v", c)
		}
	}
}

func TestDetectEmitsTypeMismatchForTwoIdentifiedTypes(t *testing.T) {
	a := entity.New("a", entity.TypeDockerHost)
	a.IP = "192.168.1.10"
	a.OpenPorts[2375] = struct{}{}

	b := entity.New("b", entity.TypeRouter)
	b.IP = "192.168.1.10"
	b.OpenPorts[2375] = struct{}{}

	_, conflicts := Detect([]*entity.Entity{a, b})

	found := false
	for _, c := range conflicts {
		if c.Kind == entity.ConflictTypeMismatch {
			found = true
		}
	}
	if !found {
		t.Error("expected a TypeMismatch conflict for two distinct identified types at the same (ip,port)")
	}
}

func TestDetectEmitsUnverifiedEntity(t *testing.T) {
	e := entity.New("x", entity.TypeVM)
	e.Status = entity.StatusUnverified

	_, conflicts := Detect([]*entity.Entity{e})
	if len(conflicts) != 1 || conflicts[0].Kind != entity.ConflictUnverified {
		t.Errorf("conflicts = %+v, want one UnverifiedEntity", conflicts)
	}
}

func TestDetectEmitsIPMismatch(t *testing.T) {
	e := entity.New("x", entity.TypeVM)
	e.IP = "192.168.1.80"
	e.Status = entity.StatusReachable
	e.Metadata[entity.MetaAPIReportedIP] = entity.String("192.168.1.90")

	_, conflicts := Detect([]*entity.Entity{e})
	found := false
	for _, c := range conflicts {
		if c.Kind == entity.ConflictIPMismatch {
			found = true
		}
	}
	if !found {
		t.Error("expected an IpMismatch conflict")
	}
}

func TestDetectExcludesLogicalTypesFromCollisionCheck(t *testing.T) {
	cluster := entity.New("proxmox-cluster-pve", entity.TypeProxmoxCluster)
	stack := entity.New("portainer-stack-1", entity.TypePortainerStack)
	// Verified, so no UnverifiedEntity conflict is expected either.
	cluster.Status = entity.StatusReachable
	stack.Status = entity.StatusReachable
	_, conflicts := Detect([]*entity.Entity{cluster, stack})
	if len(conflicts) != 0 {
		t.Errorf("logical entities should never collide, got %+v", conflicts)
	}
}

func idsOf(entities []*entity.Entity) []string {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	return ids
}
