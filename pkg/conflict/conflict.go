// Package conflict implements the Conflict Detector (L6): scans the
// post-correlation universe for invariant violations and emits a Conflict
// list, merging the one case treated as a non-conflict (an Unknown
// colliding only with identified entities of a single type) along the way.
package conflict

import (
	"fmt"

	"github.com/netmapper/netmapper/pkg/entity"
)

// Detect runs TypeMismatch grouping (absorbing Unknown/identified
// collisions), UnverifiedEntity, and IpMismatch detection, in that order.
// Returns the corrected entity list (an absorbed Unknown is removed) and
// the conflicts found.
func Detect(entities []*entity.Entity) ([]*entity.Entity, []entity.Conflict) {
	entities, conflicts := typeMismatch(entities)
	conflicts = append(conflicts, unverifiedEntity(entities)...)
	conflicts = append(conflicts, ipMismatch(entities)...)
	return entities, conflicts
}

type groupKey struct {
	ip   string
	port int
	// hasPort distinguishes "ip, no port known" from "ip, port 0" (which
	// never occurs, but keeps the zero value honest).
	hasPort bool
}

// typeMismatch groups endpoint entities by (ip, port) when the entity has
// open ports, else by ip. Logical types
// (ProxmoxCluster, PortainerStack) are excluded.
func typeMismatch(entities []*entity.Entity) ([]*entity.Entity, []entity.Conflict) {
	groups := make(map[groupKey][]*entity.Entity)
	for _, e := range entities {
		if entity.IsLogical(e.Type) || e.IP == "" {
			continue
		}
		if ports := e.PortList(); len(ports) > 0 {
			for _, p := range ports {
				k := groupKey{ip: e.IP, port: p, hasPort: true}
				groups[k] = append(groups[k], e)
			}
		} else {
			k := groupKey{ip: e.IP}
			groups[k] = append(groups[k], e)
		}
	}

	absorbed := make(map[string]bool)
	var conflicts []entity.Conflict
	seen := make(map[string]bool) // avoid emitting the same conflict group twice (an entity can appear in multiple port-keyed groups)

	for _, group := range groups {
		distinct := distinctTypes(group)
		if len(distinct) < 2 {
			continue
		}

		if len(distinct) == 2 && distinct[entity.TypeUnknown] == 1 && groupIdentifiedCount(group) >= 1 {
			mergeUnknownIntoIdentified(group, absorbed)
			continue
		}

		groupID := groupSignature(group)
		if seen[groupID] {
			continue
		}
		seen[groupID] = true

		ids := make([]string, len(group))
		for i, e := range group {
			ids[i] = e.ID
		}
		conflicts = append(conflicts, entity.Conflict{
			IP:               group[0].IP,
			Kind:             entity.ConflictTypeMismatch,
			InvolvedEntities: ids,
			Description:      fmt.Sprintf("%d distinct types observed at %s", len(distinct), group[0].IP),
		})
	}

	var kept []*entity.Entity
	for _, e := range entities {
		if !absorbed[e.ID] {
			kept = append(kept, e)
		}
	}
	return kept, conflicts
}

func distinctTypes(group []*entity.Entity) map[entity.Type]int {
	m := make(map[entity.Type]int)
	for _, e := range group {
		m[e.Type]++
	}
	return m
}

func groupIdentifiedCount(group []*entity.Entity) int {
	n := 0
	for _, e := range group {
		if e.Type != entity.TypeUnknown {
			n++
		}
	}
	return n
}

func groupSignature(group []*entity.Entity) string {
	s := ""
	for _, e := range group {
		s += e.ID + ","
	}
	return s
}

// mergeUnknownIntoIdentified folds the group's lone Unknown entity into the
// identified entity(ies) sharing its key: ports are unioned and metadata is
// copied where the identified entity doesn't already have it. The Unknown
// itself is marked absorbed for removal by the caller.
func mergeUnknownIntoIdentified(group []*entity.Entity, absorbed map[string]bool) {
	var unknown *entity.Entity
	var identified []*entity.Entity
	for _, e := range group {
		if e.Type == entity.TypeUnknown {
			unknown = e
		} else {
			identified = append(identified, e)
		}
	}
	if unknown == nil || len(identified) == 0 {
		return
	}
	for _, id := range identified {
		for p := range unknown.OpenPorts {
			id.OpenPorts[p] = struct{}{}
		}
		for k, v := range unknown.HTTPHeaders {
			if _, exists := id.HTTPHeaders[k]; !exists {
				id.HTTPHeaders[k] = v
			}
		}
		for k, v := range unknown.Metadata {
			if _, exists := id.Metadata[k]; !exists {
				id.Metadata[k] = v
			}
		}
	}
	absorbed[unknown.ID] = true
}

// unverifiedEntity emits a conflict for every entity with status Unverified
func unverifiedEntity(entities []*entity.Entity) []entity.Conflict {
	var conflicts []entity.Conflict
	for _, e := range entities {
		if e.Status != entity.StatusUnverified {
			continue
		}
		conflicts = append(conflicts, entity.Conflict{
			IP:               e.IP,
			Kind:             entity.ConflictUnverified,
			InvolvedEntities: []string{e.ID},
			Description:      "entity could not be verified",
		})
	}
	return conflicts
}

// ipMismatch emits a conflict when metadata.api_reported_ip is non-empty
// and disagrees with the entity's ip.
func ipMismatch(entities []*entity.Entity) []entity.Conflict {
	var conflicts []entity.Conflict
	for _, e := range entities {
		v, ok := e.Metadata[entity.MetaAPIReportedIP]
		if !ok {
			continue
		}
		reported := v.AsString()
		if reported == "" || reported == e.IP {
			continue
		}
		conflicts = append(conflicts, entity.Conflict{
			IP:               e.IP,
			Kind:             entity.ConflictIPMismatch,
			InvolvedEntities: []string{e.ID},
			Description:      fmt.Sprintf("api reported ip %s, scan observed %s", reported, e.IP),
		})
	}
	return conflicts
}
