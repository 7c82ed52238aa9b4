package diff

import (
	"testing"

	"github.com/netmapper/netmapper/pkg/entity"
)

func snapshot(scanID string, entities ...*entity.Entity) *entity.TopologyReport {
	return &entity.TopologyReport{ScanID: scanID, Entities: entities}
}

func TestFingerprintStableAcrossRename(t *testing.T) {
	e := entity.New("docker-abc123", entity.TypeContainer)
	e.Name = "web-1"
	e.Metadata[entity.MetaDockerID] = entity.String("abc123")

	fp1 := Fingerprint(e)
	e.Name = "web-2"
	fp2 := Fingerprint(e)

	if fp1 != fp2 {
		t.Errorf("fingerprint changed on rename: %q vs %q, want stable", fp1, fp2)
	}
}

func TestCompareDetectsIPChangeBeforeOtherFields(t *testing.T) {
	base := entity.New("vm-1", entity.TypeVM)
	base.Metadata[entity.MetaProxmoxVMID] = entity.String("100")
	base.IP = "192.168.1.80"

	cur := entity.New("vm-1", entity.TypeVM)
	cur.Metadata[entity.MetaProxmoxVMID] = entity.String("100")
	cur.IP = "192.168.1.81"
	cur.Status = entity.StatusReachable // also differs; IP still decides the kind

	report := Compare(snapshot("scan-1", base), snapshot("scan-2", cur))
	if len(report.Changes) != 1 {
		t.Fatalf("got %d changes, want 1: %+v", len(report.Changes), report.Changes)
	}
	if report.Changes[0].Kind != ChangeModifiedIP {
		t.Errorf("Kind = %v, want ChangeModifiedIP", report.Changes[0].Kind)
	}
}

func TestCompareDetectsAddedAndRemoved(t *testing.T) {
	kept := entity.New("host-1", entity.TypeUnknown)
	kept.IP = "192.168.1.5"
	removed := entity.New("host-2", entity.TypeUnknown)
	removed.IP = "192.168.1.6"
	added := entity.New("host-3", entity.TypeUnknown)
	added.IP = "192.168.1.7"

	report := Compare(snapshot("scan-1", kept, removed), snapshot("scan-2", kept, added))

	var sawAdded, sawRemoved bool
	for _, c := range report.Changes {
		if c.Kind == ChangeAdded && c.EntityID == "host-3" {
			sawAdded = true
		}
		if c.Kind == ChangeRemoved && c.EntityID == "host-2" {
			sawRemoved = true
		}
	}
	if !sawAdded || !sawRemoved {
		t.Errorf("Changes = %+v, expected Added host-3 and Removed host-2", report.Changes)
	}
}

func TestCompareNoChangesForIdenticalSnapshots(t *testing.T) {
	e := entity.New("host-1", entity.TypeUnknown)
	e.IP = "192.168.1.5"
	report := Compare(snapshot("scan-1", e), snapshot("scan-2", e))
	if len(report.Changes) != 0 {
		t.Errorf("expected no changes for identical entities, got %+v", report.Changes)
	}
}
