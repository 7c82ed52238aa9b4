package adapter

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/netmapper/netmapper/pkg/entity"
)

// Registry holds the set of known adapters and computes, for a given
// entity, the ordered list of applicable adapters.
type Registry struct {
	adapters []Adapter       // in registration order
	order    map[string]int  // name -> registration index, for tie-breaking
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{order: make(map[string]int)}
}

// Register indexes adapter by name. Registration order breaks ties between
// adapters of equal priority, both in the dependency sort and in the
// priority-ordered fallback used on a dependency cycle.
func (r *Registry) Register(a Adapter) {
	r.order[a.Name()] = len(r.adapters)
	r.adapters = append(r.adapters, a)
}

// byName returns the adapter registered under name, or nil.
func (r *Registry) byName(name string) Adapter {
	for _, a := range r.adapters {
		if a.Name() == name {
			return a
		}
	}
	return nil
}

// FindApplicable returns the dependency-ordered list of adapters that
// should run against e: first every registered adapter sorted by priority
// is filtered by the selection rule (type-match bypass, else Criteria),
// then the surviving set is topologically ordered by dependsOn.
func (r *Registry) FindApplicable(ctx *Context, e *entity.Entity) []Adapter {
	candidates := make([]Adapter, len(r.adapters))
	copy(candidates, r.adapters)
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Priority() < candidates[j].Priority()
	})

	var selected []Adapter
	for _, a := range candidates {
		if a.Matches(e) {
			selected = append(selected, a)
			continue
		}
		if criteriaPass(a.Criteria(), e, ctx) {
			selected = append(selected, a)
		}
	}

	return r.topoSort(selected)
}

// topoSort topologically sorts selected by hard dependsOn edges restricted
// to adapters present in selected (Kahn's algorithm), breaking ties by
// ascending priority then registration order. Falls back to the original
// priority order with a logged warning if a true cycle exists among the
// present adapters.
func (r *Registry) topoSort(selected []Adapter) []Adapter {
	present := make(map[string]bool, len(selected))
	for _, a := range selected {
		present[a.Name()] = true
	}

	indegree := make(map[string]int, len(selected))
	dependents := make(map[string][]string) // dep name -> adapters that require it
	for _, a := range selected {
		indegree[a.Name()] = 0
	}
	for _, a := range selected {
		for _, dep := range a.DependsOn() {
			if !present[dep] {
				continue // dependency not in this plan; nothing to order against
			}
			indegree[a.Name()]++
			dependents[dep] = append(dependents[dep], a.Name())
		}
	}

	byName := make(map[string]Adapter, len(selected))
	for _, a := range selected {
		byName[a.Name()] = a
	}

	ready := make([]string, 0, len(selected))
	for _, a := range selected {
		if indegree[a.Name()] == 0 {
			ready = append(ready, a.Name())
		}
	}
	sortNames(ready, byName, r.order)

	var result []Adapter
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		result = append(result, byName[name])

		var newlyReady []string
		for _, dep := range dependents[name] {
			indegree[dep]--
			if indegree[dep] == 0 {
				newlyReady = append(newlyReady, dep)
			}
		}
		sortNames(newlyReady, byName, r.order)
		ready = mergeSorted(ready, newlyReady, byName, r.order)
	}

	if len(result) == len(selected) {
		return result
	}

	logrus.WithField("adapters", namesOf(selected)).
		Warn("adapter dependency cycle detected; falling back to priority order")
	return selected
}

func sortNames(names []string, byName map[string]Adapter, order map[string]int) {
	sort.SliceStable(names, func(i, j int) bool {
		ai, aj := byName[names[i]], byName[names[j]]
		if ai.Priority() != aj.Priority() {
			return ai.Priority() < aj.Priority()
		}
		return order[names[i]] < order[names[j]]
	})
}

// mergeSorted merges two already-sorted-by-priority name slices, keeping
// the combined order stable.
func mergeSorted(a, b []string, byName map[string]Adapter, order map[string]int) []string {
	if len(b) == 0 {
		return a
	}
	merged := append(append([]string{}, a...), b...)
	sortNames(merged, byName, order)
	return merged
}

func namesOf(as []Adapter) []string {
	names := make([]string, len(as))
	for i, a := range as {
		names[i] = a.Name()
	}
	return names
}
