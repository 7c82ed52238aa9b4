// Package diff implements the Diff Engine (L7): stable-fingerprint two
// topology snapshots and emit an Added/Removed/Modified report per entity.
package diff

import (
	"fmt"

	"github.com/kylelemons/godebug/pretty"
	"github.com/sirupsen/logrus"

	"github.com/netmapper/netmapper/pkg/entity"
)

// ChangeKind is the primary classification of a Modified entity: the
// first-differing field in the comparison's priority order.
type ChangeKind string

const (
	ChangeAdded      ChangeKind = "Added"
	ChangeRemoved    ChangeKind = "Removed"
	ChangeModifiedIP ChangeKind = "ModifiedIp"
	ChangeModifiedStatus ChangeKind = "ModifiedStatus"
	ChangeModifiedParent ChangeKind = "ModifiedParent"
	ChangeModifiedName   ChangeKind = "ModifiedName"
	ChangeModifiedPorts  ChangeKind = "ModifiedPorts"
)

// Change describes one entity's difference between two snapshots.
type Change struct {
	Fingerprint string
	Kind        ChangeKind
	EntityID    string // the newer snapshot's id, or the removed entity's id
	Details     string
}

// Report is the result of diffing two snapshots.
type Report struct {
	Baseline string // scanId
	Current  string // scanId
	Changes  []Change
}

// Fingerprint returns e's stable cross-run identity key. An entity's
// docker_id (if present) makes the key independent of any rename, which
// is what lets a renamed container diff as Modified rather than a
// spurious Removed+Added pair.
func Fingerprint(e *entity.Entity) string {
	if v, ok := e.Metadata[entity.MetaDockerID]; ok && v.AsString() != "" {
		return "docker:" + v.AsString()
	}
	if v, ok := e.Metadata[entity.MetaProxmoxVMID]; ok && v.AsString() != "" {
		return "proxmox:" + v.AsString()
	}
	if v, ok := e.Metadata[entity.MetaPortainerStackID]; ok && v.AsString() != "" {
		return "portainer-stack:" + v.AsString()
	}
	if e.Name != "" {
		return string(e.Type) + ":" + e.Name
	}
	return "ip:" + e.IP
}

// Compare fingerprints both snapshots' entities and returns the changes
// between them.
func Compare(baseline, current *entity.TopologyReport) Report {
	report := Report{Baseline: baseline.ScanID, Current: current.ScanID}

	baseByFP := make(map[string]*entity.Entity, len(baseline.Entities))
	for _, e := range baseline.Entities {
		baseByFP[Fingerprint(e)] = e
	}
	currentByFP := make(map[string]*entity.Entity, len(current.Entities))
	for _, e := range current.Entities {
		currentByFP[Fingerprint(e)] = e
	}

	for fp, e := range currentByFP {
		if _, ok := baseByFP[fp]; !ok {
			report.Changes = append(report.Changes, Change{
				Fingerprint: fp, Kind: ChangeAdded, EntityID: e.ID,
			})
		}
	}
	for fp, e := range baseByFP {
		if _, ok := currentByFP[fp]; !ok {
			report.Changes = append(report.Changes, Change{
				Fingerprint: fp, Kind: ChangeRemoved, EntityID: e.ID,
			})
		}
	}
	for fp, oldE := range baseByFP {
		newE, ok := currentByFP[fp]
		if !ok {
			continue
		}
		if change, changed := fieldDiff(fp, oldE, newE); changed {
			report.Changes = append(report.Changes, change)
			logFieldDiff(oldE, newE)
		}
	}

	return report
}

// fieldDiff examines ip, status, parentId, name, and exposed_ports (in
// that order) and returns the first-differing field as the entity's
// primary Modified change kind.
func fieldDiff(fp string, oldE, newE *entity.Entity) (Change, bool) {
	if oldE.IP != newE.IP {
		return Change{
			Fingerprint: fp, Kind: ChangeModifiedIP, EntityID: newE.ID,
			Details: fmt.Sprintf("IP changed: %s → %s", oldE.IP, newE.IP),
		}, true
	}
	if oldE.Status != newE.Status {
		return Change{
			Fingerprint: fp, Kind: ChangeModifiedStatus, EntityID: newE.ID,
			Details: fmt.Sprintf("status changed: %s → %s", oldE.Status, newE.Status),
		}, true
	}
	if oldE.ParentID != newE.ParentID {
		return Change{
			Fingerprint: fp, Kind: ChangeModifiedParent, EntityID: newE.ID,
			Details: fmt.Sprintf("parent changed: %q → %q", oldE.ParentID, newE.ParentID),
		}, true
	}
	if oldE.Name != newE.Name {
		return Change{
			Fingerprint: fp, Kind: ChangeModifiedName, EntityID: newE.ID,
			Details: fmt.Sprintf("name changed: %q → %q", oldE.Name, newE.Name),
		}, true
	}
	oldPorts, _ := oldE.Metadata[entity.MetaExposedPorts]
	newPorts, _ := newE.Metadata[entity.MetaExposedPorts]
	oldList, _ := oldPorts.AsList()
	newList, _ := newPorts.AsList()
	if !entity.StringSetEqual(oldList, newList) {
		return Change{
			Fingerprint: fp, Kind: ChangeModifiedPorts, EntityID: newE.ID,
			Details: fmt.Sprintf("exposed_ports changed: %v → %v", oldList, newList),
		}, true
	}
	return Change{}, false
}

// logFieldDiff renders a debug-level structural diff of the two entity
// snapshots. This is strictly a logging aid: the change classification
// itself is the field-by-field comparison above, not a text diff.
func logFieldDiff(oldE, newE *entity.Entity) {
	if !logrus.IsLevelEnabled(logrus.DebugLevel) {
		return
	}
	logrus.WithField("entity", newE.ID).Debug(pretty.Compare(oldE, newE))
}
