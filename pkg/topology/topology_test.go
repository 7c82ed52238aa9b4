package topology

import (
	"os"
	"testing"
	"time"

	"github.com/netmapper/netmapper/pkg/entity"
)

func TestAssembleDedupesByIDFirstWins(t *testing.T) {
	first := entity.New("host-1", entity.TypeUnknown)
	first.Name = "first"
	dup := entity.New("host-1", entity.TypeVM)
	dup.Name = "second"

	report := Assemble("scan-20260101-000000", []string{"192.168.1.0/24"}, []*entity.Entity{first, dup}, nil, time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	if len(report.Entities) != 1 {
		t.Fatalf("got %d entities, want 1", len(report.Entities))
	}
	if report.Entities[0].Name != "first" {
		t.Errorf("kept entity = %q, want first occurrence", report.Entities[0].Name)
	}
}

func TestAssembleSummaryCounts(t *testing.T) {
	a := entity.New("a", entity.TypeVM)
	a.Status = entity.StatusReachable
	b := entity.New("b", entity.TypeVM)
	b.Status = entity.StatusUnreachable

	report := Assemble("scan-1", nil, []*entity.Entity{a, b}, nil, time.Now())
	if report.Summary.ByType[entity.TypeVM] != 2 {
		t.Errorf("ByType[Vm] = %d, want 2", report.Summary.ByType[entity.TypeVM])
	}
	if report.Summary.ByStatus[entity.StatusReachable] != 1 {
		t.Errorf("ByStatus[Reachable] = %d, want 1", report.Summary.ByStatus[entity.StatusReachable])
	}
}

func TestNewScanIDFormat(t *testing.T) {
	got := NewScanID(time.Date(2026, 7, 30, 14, 5, 9, 0, time.UTC))
	want := "scan-20260730-140509"
	if got != want {
		t.Errorf("NewScanID = %q, want %q", got, want)
	}
}

func TestHistorySaveLoadRoundTrip(t *testing.T) {
	dir := t.TempDir()
	h := &History{Dir: dir}

	e := entity.New("host-1", entity.TypeUnknown)
	report := Assemble("scan-20260101-000000", nil, []*entity.Entity{e}, nil, time.Now())

	if err := h.Save(report); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := h.Load("scan-20260101-000000")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.ScanID != report.ScanID || len(loaded.Entities) != 1 {
		t.Errorf("loaded report mismatch: %+v", loaded)
	}
}

func TestHistoryRetentionKeepsNewest(t *testing.T) {
	dir := t.TempDir()
	h := &History{Dir: dir, Retention: 2}

	for _, id := range []string{"scan-20260101-000000", "scan-20260102-000000", "scan-20260103-000000"} {
		report := Assemble(id, nil, nil, nil, time.Now())
		if err := h.Save(report); err != nil {
			t.Fatalf("Save(%s): %v", id, err)
		}
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("ReadDir: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("got %d snapshot files, want 2 after retention", len(entries))
	}
	if _, err := h.Load("scan-20260101-000000"); err == nil {
		t.Error("expected oldest snapshot to be pruned")
	}
}

func TestHistoryPrevious(t *testing.T) {
	dir := t.TempDir()
	h := &History{Dir: dir}
	for _, id := range []string{"scan-20260101-000000", "scan-20260102-000000", "scan-20260103-000000"} {
		if err := h.Save(Assemble(id, nil, nil, nil, time.Now())); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	prev, err := h.Previous("scan-20260103-000000")
	if err != nil {
		t.Fatalf("Previous: %v", err)
	}
	if prev != "scan-20260102-000000" {
		t.Errorf("Previous = %q, want scan-20260102-000000", prev)
	}
	if _, err := h.Previous("scan-20260101-000000"); err == nil {
		t.Error("expected an error requesting the predecessor of the oldest snapshot")
	}
}

func TestHistoryLatest(t *testing.T) {
	dir := t.TempDir()
	h := &History{Dir: dir}
	for _, id := range []string{"scan-20260101-000000", "scan-20260103-000000", "scan-20260102-000000"} {
		if err := h.Save(Assemble(id, nil, nil, nil, time.Now())); err != nil {
			t.Fatalf("Save: %v", err)
		}
	}
	latest, err := h.Latest()
	if err != nil {
		t.Fatalf("Latest: %v", err)
	}
	if latest != "scan-20260103-000000" {
		t.Errorf("Latest = %q, want scan-20260103-000000", latest)
	}
}
