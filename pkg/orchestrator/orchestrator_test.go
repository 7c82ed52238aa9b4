package orchestrator

import (
	"context"
	"testing"

	"github.com/netmapper/netmapper/pkg/adapter"
	"github.com/netmapper/netmapper/pkg/entity"
)

type fakeAdapter struct {
	name     string
	priority int
	matchT   entity.Type
	fn       func(e *entity.Entity) adapter.ScanResult
}

func (f *fakeAdapter) Name() string                 { return f.name }
func (f *fakeAdapter) Priority() int                 { return f.priority }
func (f *fakeAdapter) DependsOn() []string           { return nil }
func (f *fakeAdapter) OptionalDependsOn() []string   { return nil }
func (f *fakeAdapter) Matches(e *entity.Entity) bool { return e.Type == f.matchT }
func (f *fakeAdapter) Criteria() adapter.Criteria    { return adapter.Criteria{} }
func (f *fakeAdapter) Scan(ctx *adapter.Context, e *entity.Entity) adapter.ScanResult {
	return f.fn(e)
}

func TestRunAppliesPatchAndEnqueuesChildren(t *testing.T) {
	reg := adapter.NewRegistry()
	newType := entity.TypeDockerHost
	reg.Register(&fakeAdapter{
		name: "Docker", priority: 20, matchT: entity.TypeUnknown,
		fn: func(e *entity.Entity) adapter.ScanResult {
			child := entity.New("docker-child", entity.TypeContainer)
			return adapter.Success(adapter.Patch{NewType: &newType}, []*entity.Entity{child})
		},
	})

	seed := entity.New("host-1", entity.TypeUnknown)
	seed.IP = "192.168.1.5"
	swept := map[string]struct{}{"192.168.1.5": {}}

	actx := &adapter.Context{Context: context.Background(), SweptIPs: swept}
	out := Run(context.Background(), []*entity.Entity{seed}, Options{Registry: reg, SweptIPs: swept}, actx)

	if len(out) != 2 {
		t.Fatalf("got %d entities, want 2 (host + child)", len(out))
	}
	var host, child *entity.Entity
	for _, e := range out {
		if e.ID == "host-1" {
			host = e
		}
		if e.ID == "docker-child" {
			child = e
		}
	}
	if host == nil || host.Type != entity.TypeDockerHost {
		t.Errorf("host not promoted to DockerHost: %+v", host)
	}
	if child == nil || child.ParentID != "host-1" {
		t.Errorf("child not parented to host: %+v", child)
	}
}

func TestRunFiltersNonSweptIPs(t *testing.T) {
	reg := adapter.NewRegistry()
	called := false
	reg.Register(&fakeAdapter{
		name: "Docker", priority: 20, matchT: entity.TypeUnknown,
		fn: func(e *entity.Entity) adapter.ScanResult {
			called = true
			return adapter.Success(adapter.Patch{}, nil)
		},
	})

	seed := entity.New("container-1", entity.TypeUnknown)
	seed.IP = "172.17.0.2" // bridge-local; not in swept set
	swept := map[string]struct{}{}

	actx := &adapter.Context{Context: context.Background(), SweptIPs: swept}
	Run(context.Background(), []*entity.Entity{seed}, Options{Registry: reg, SweptIPs: swept}, actx)

	if called {
		t.Error("adapter ran against an entity whose IP was not in the swept set")
	}
}

func TestRunRecoversFromAdapterPanic(t *testing.T) {
	reg := adapter.NewRegistry()
	reg.Register(&fakeAdapter{
		name: "Flaky", priority: 1, matchT: entity.TypeUnknown,
		fn: func(e *entity.Entity) adapter.ScanResult {
			panic("boom")
		},
	})

	seed := entity.New("host-1", entity.TypeUnknown)
	seed.IP = "192.168.1.5"
	swept := map[string]struct{}{"192.168.1.5": {}}

	actx := &adapter.Context{Context: context.Background(), SweptIPs: swept}
	out := Run(context.Background(), []*entity.Entity{seed}, Options{Registry: reg, SweptIPs: swept}, actx)

	if len(out) != 1 {
		t.Fatalf("got %d entities, want 1", len(out))
	}
	if out[0].Status != entity.StatusUnverified {
		t.Errorf("status = %v, want Unverified after panic recovery", out[0].Status)
	}
	if _, ok := out[0].Metadata[entity.MetaScanException]; !ok {
		if _, ok := out[0].Metadata[entity.MetaScanError]; !ok {
			t.Error("expected scan_error/scan_exception metadata after panic recovery")
		}
	}
}
