package entity

import "net"

// ValidIPv4 reports whether s is a syntactically valid IPv4 address
// (invariant 3).
func ValidIPv4(s string) bool {
	if s == "" {
		return false
	}
	ip := net.ParseIP(s)
	return ip != nil && ip.To4() != nil
}

// ValidateUniqueIDs checks invariant 1: id is unique over the entity set.
// Returns the duplicated ids, if any.
func ValidateUniqueIDs(entities []*Entity) []string {
	seen := make(map[string]int, len(entities))
	var dups []string
	for _, e := range entities {
		seen[e.ID]++
	}
	for id, count := range seen {
		if count > 1 {
			dups = append(dups, id)
		}
	}
	return dups
}

// ValidateParentage checks invariant 2: parentId is empty or references an
// existing entity, and there are no cycles. Returns a description of the
// first violation found, or "" if none.
func ValidateParentage(entities []*Entity) string {
	byID := make(map[string]*Entity, len(entities))
	for _, e := range entities {
		byID[e.ID] = e
	}

	for _, e := range entities {
		if e.ParentID == "" {
			continue
		}
		if _, ok := byID[e.ParentID]; !ok {
			return "entity " + e.ID + " has dangling parentId " + e.ParentID
		}
		// Cycle check: walk up the parent chain with a visited set bounded
		// by the total entity count.
		visited := map[string]bool{e.ID: true}
		cur := e
		for cur.ParentID != "" {
			if visited[cur.ParentID] {
				return "cycle detected involving entity " + e.ID
			}
			visited[cur.ParentID] = true
			next, ok := byID[cur.ParentID]
			if !ok {
				break
			}
			cur = next
		}
	}
	return ""
}

// ValidateIPSyntax checks invariant 3 for every non-empty ip. Returns the
// offending entity ids, if any.
func ValidateIPSyntax(entities []*Entity) []string {
	var bad []string
	for _, e := range entities {
		if e.IP != "" && !ValidIPv4(e.IP) {
			bad = append(bad, e.ID)
		}
	}
	return bad
}
