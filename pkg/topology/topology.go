// Package topology implements the Topology Assembler (L8): deduplicates
// the post-conflict-detection universe, computes summary counters, freezes
// a TopologyReport, and persists/retains snapshots on disk for the Diff
// Engine.
package topology

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/hashicorp/go-version"
	"github.com/pkg/errors"

	"github.com/netmapper/netmapper/pkg/entity"
)

// ToolVersion is stamped into every snapshot's metadata so a future reader
// can detect a schema change across tool versions.
const ToolVersion = "1.0.0"

// Assemble deduplicates entities by id (first occurrence wins), computes
// the type/status summary, and freezes a TopologyReport.
// scanID is expected in "scan-YYYYMMDD-HHMMSS" (UTC) form.
func Assemble(scanID string, subnets []string, entities []*entity.Entity, conflicts []entity.Conflict, timestamp time.Time) *entity.TopologyReport {
	seen := make(map[string]bool, len(entities))
	var deduped []*entity.Entity
	for _, e := range entities {
		if seen[e.ID] {
			continue
		}
		seen[e.ID] = true
		deduped = append(deduped, e)
	}

	summary := entity.Summary{
		ByType:   make(map[entity.Type]int),
		ByStatus: make(map[entity.Status]int),
	}
	for _, e := range deduped {
		summary.ByType[e.Type]++
		summary.ByStatus[e.Status]++
	}

	return &entity.TopologyReport{
		Timestamp: timestamp.UTC().Format(time.RFC3339),
		ScanID:    scanID,
		Subnets:   subnets,
		Entities:  deduped,
		Conflicts: conflicts,
		Summary:   summary,
	}
}

// NewScanID formats t as the canonical scan identifier.
func NewScanID(t time.Time) string {
	return "scan-" + t.UTC().Format("20060102-150405")
}

// snapshotEnvelope wraps a TopologyReport with the tool version that wrote
// it. History.Load decodes the version along with the report and does not
// compare it against ToolVersion.
type snapshotEnvelope struct {
	ToolVersion string               `json:"toolVersion"`
	Report      *entity.TopologyReport `json:"report"`
}

// History manages the on-disk directory of persisted snapshots used by the
// diff CLI command.
type History struct {
	Dir       string
	Retention int // keep the N newest; 0 means unlimited
}

// Save writes report as "<scanId>.json" in h.Dir, then applies retention.
func (h *History) Save(report *entity.TopologyReport) error {
	if err := os.MkdirAll(h.Dir, 0o755); err != nil {
		return errors.Wrapf(err, "creating history directory %q", h.Dir)
	}

	if _, err := version.NewVersion(ToolVersion); err != nil {
		return errors.Wrap(err, "invalid tool version constant")
	}

	envelope := snapshotEnvelope{ToolVersion: ToolVersion, Report: report}
	data, err := json.MarshalIndent(envelope, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshaling topology snapshot")
	}

	path := filepath.Join(h.Dir, report.ScanID+".json")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return errors.Wrapf(err, "writing snapshot %q", path)
	}

	return h.applyRetention()
}

// Load reads the snapshot for scanID from h.Dir.
func (h *History) Load(scanID string) (*entity.TopologyReport, error) {
	path := filepath.Join(h.Dir, scanID+".json")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading snapshot %q", path)
	}
	var envelope snapshotEnvelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, errors.Wrapf(err, "decoding snapshot %q", path)
	}
	return envelope.Report, nil
}

// Latest returns the most recent scanID present in h.Dir, or an error if
// the directory is empty.
func (h *History) Latest() (string, error) {
	ids, err := h.scanIDs()
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("no snapshots found in %q", h.Dir)
	}
	return ids[len(ids)-1], nil
}

// Previous returns the scanId immediately preceding scanID in h.Dir
// (chronologically), for a "diff against the last run" default.
func (h *History) Previous(scanID string) (string, error) {
	ids, err := h.scanIDs()
	if err != nil {
		return "", err
	}
	for i, id := range ids {
		if id == scanID && i > 0 {
			return ids[i-1], nil
		}
	}
	return "", fmt.Errorf("no snapshot precedes %q in %q", scanID, h.Dir)
}

// scanIDs returns every scanId present in h.Dir, ascending (chronological,
// since the "scan-YYYYMMDD-HHMMSS" encoding sorts lexically by time).
func (h *History) scanIDs() ([]string, error) {
	entries, err := os.ReadDir(h.Dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrapf(err, "listing history directory %q", h.Dir)
	}
	var ids []string
	for _, e := range entries {
		name := e.Name()
		if filepath.Ext(name) != ".json" {
			continue
		}
		ids = append(ids, name[:len(name)-len(".json")])
	}
	sort.Strings(ids)
	return ids, nil
}

// applyRetention deletes the oldest snapshots beyond h.Retention, sorted by
// the scanId timestamp encoding.
func (h *History) applyRetention() error {
	if h.Retention <= 0 {
		return nil
	}
	ids, err := h.scanIDs()
	if err != nil {
		return err
	}
	if len(ids) <= h.Retention {
		return nil
	}
	toDelete := ids[:len(ids)-h.Retention]
	for _, id := range toDelete {
		path := filepath.Join(h.Dir, id+".json")
		if err := os.Remove(path); err != nil {
			return errors.Wrapf(err, "pruning snapshot %q", path)
		}
	}
	return nil
}
