// Package correlate implements the Correlation Engine (L5): five
// deterministic passes, run in order over the post-orchestration universe,
// each idempotent so re-running the full sequence against its own output
// makes no further change.
package correlate

import (
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/netmapper/netmapper/pkg/entity"
)

var nameCaser = cases.Title(language.Und)

// Run executes all five passes, in the documented order, against entities
// and returns the corrected set. sweptIPs is the Host Sweeper's reachable
// set, needed by pass 2 to classify a newly IP-promoted VM/Lxc. Entities
// not removed by a pass are returned in their original relative order
// (insertion order), matching the pipeline's determinism requirement.
func Run(entities []*entity.Entity, sweptIPs map[string]struct{}) []*entity.Entity {
	entities = stackReparenting(entities)
	entities = vmIPPromotionAndHostCollapsing(entities, sweptIPs)
	entities = portainerContainerIdentification(entities)
	entities = clusterDuplicateNodeSuppression(entities)
	entities = unraidContainerReparenting(entities)
	return entities
}

func byID(entities []*entity.Entity) map[string]*entity.Entity {
	m := make(map[string]*entity.Entity, len(entities))
	for _, e := range entities {
		m[e.ID] = e
	}
	return m
}

// stackReparenting is pass 1: for each PortainerStack whose metadata lists
// container_ids, set each matching Container's parentId to the stack's id.
// While walking entities it also normalizes any raw, all-lowercase hostname
// (as reported by a container runtime or DHCP lease) into a title-cased
// display name, so the graph doesn't mix "plex" next to "Proxmox VE".
func stackReparenting(entities []*entity.Entity) []*entity.Entity {
	for _, e := range entities {
		normalizeDisplayName(e)
	}

	index := byID(entities)
	for _, e := range entities {
		if e.Type != entity.TypePortainerStack {
			continue
		}
		ids, ok := e.Metadata[entity.MetaContainerIDs]
		if !ok {
			continue
		}
		list, ok := ids.AsList()
		if !ok {
			continue
		}
		for _, dockerID := range list {
			if c := findContainerByDockerID(entities, index, dockerID); c != nil {
				c.ParentID = e.ID
			}
		}
	}
	return entities
}

// normalizeDisplayName title-cases a hyphen/underscore-separated, all-lowercase
// name (e.g. "pve-node-1" -> "Pve Node 1"), leaving anything already mixed-case
// or empty untouched. Applied once per entity, so re-running this pass is a
// no-op the second time.
func normalizeDisplayName(e *entity.Entity) {
	if e.Name == "" || e.Name != strings.ToLower(e.Name) {
		return
	}
	spaced := strings.NewReplacer("-", " ", "_", " ").Replace(e.Name)
	e.Name = nameCaser.String(spaced)
}

func findContainerByDockerID(entities []*entity.Entity, index map[string]*entity.Entity, dockerID string) *entity.Entity {
	if c, ok := index["docker-"+dockerID]; ok {
		return c
	}
	for _, e := range entities {
		if e.Type != entity.TypeContainer {
			continue
		}
		v, ok := e.Metadata[entity.MetaDockerID]
		if !ok {
			continue
		}
		if matchesDockerID(v.AsString(), dockerID) {
			return e
		}
	}
	return nil
}

// matchesDockerID reports whether a and b are the same docker id,
// tolerating a full-id-vs-12-char-prefix mismatch either direction.
func matchesDockerID(a, b string) bool {
	if a == b {
		return true
	}
	short := a
	long := b
	if len(short) > len(long) {
		short, long = long, short
	}
	return len(short) >= 12 && strings.HasPrefix(long, short)
}

// vmIPPromotionAndHostCollapsing is pass 2: promotes a VM/Lxc's
// API-reported IP to its own IP field and collapses any separately-swept
// Unknown host occupying the same address.
func vmIPPromotionAndHostCollapsing(entities []*entity.Entity, swept map[string]struct{}) []*entity.Entity {
	for _, e := range entities {
		if e.IP != "" || (e.Type != entity.TypeVM && e.Type != entity.TypeLXC) {
			continue
		}
		reported, ok := e.Metadata[entity.MetaAPIReportedIP]
		if !ok {
			continue
		}
		ip := reported.AsString()
		e.IP = ip
		if _, inSweptSet := swept[ip]; inSweptSet {
			e.Status = entity.StatusReachable
		} else {
			e.Status = entity.StatusUnverified
		}
	}

	// Remove Unknown entities at the same IP as a VM/Lxc, merging open
	// ports into the VM first.
	vmByIP := make(map[string]*entity.Entity)
	for _, e := range entities {
		if (e.Type == entity.TypeVM || e.Type == entity.TypeLXC) && e.IP != "" {
			vmByIP[e.IP] = e
		}
	}
	var kept []*entity.Entity
	for _, e := range entities {
		if e.Type == entity.TypeUnknown && e.IP != "" {
			if vm, ok := vmByIP[e.IP]; ok {
				if len(vm.OpenPorts) == 0 {
					for p := range e.OpenPorts {
						vm.OpenPorts[p] = struct{}{}
					}
				}
				continue // dropped: merged into the VM
			}
		}
		kept = append(kept, e)
	}
	entities = kept

	// Any DockerHost/PortainerService sharing a VM's IP is reparented
	// under the VM: the host is the VM.
	for _, e := range entities {
		if e.Type != entity.TypeDockerHost && e.Type != entity.TypePortainerService {
			continue
		}
		if vm, ok := vmByIP[e.IP]; ok && vm.ID != e.ID {
			e.ParentID = vm.ID
		}
	}

	return entities
}

// portainerContainerIdentification is pass 3: identifies which sibling
// container is the Portainer agent itself for a given PortainerService.
func portainerContainerIdentification(entities []*entity.Entity) []*entity.Entity {
	for _, svc := range entities {
		if svc.Type != entity.TypePortainerService {
			continue
		}
		for _, c := range entities {
			if c.ID == svc.ID || c.Type != entity.TypeContainer {
				continue
			}
			if c.IP != "" && c.IP == svc.IP {
				promoteToPortainerService(c, svc)
				continue
			}
			if strings.Contains(strings.ToLower(c.Name), "portainer") {
				promoteToPortainerService(c, svc)
			}
		}
	}
	return entities
}

func promoteToPortainerService(c, svc *entity.Entity) {
	c.Type = entity.TypePortainerService
	c.Metadata[entity.MetaReason] = entity.String("identified as the Portainer agent container")
}

// clusterDuplicateNodeSuppression is pass 4: suppresses a duplicate
// top-level entity at the same address as an already-known cluster node.
func clusterDuplicateNodeSuppression(entities []*entity.Entity) []*entity.Entity {
	for _, cluster := range entities {
		if cluster.Type != entity.TypeProxmoxCluster {
			continue
		}
		nodeIPs := make(map[string]bool)
		for _, e := range entities {
			if e.Type == entity.TypeProxmoxNode && e.ParentID == cluster.ID {
				nodeIPs[e.IP] = true
			}
		}
		for _, e := range entities {
			if e.ID == cluster.ID {
				continue
			}
			if (e.Type == entity.TypeProxmox || e.Type == entity.TypeService) && e.ParentID == "" && nodeIPs[e.IP] {
				e.ParentID = cluster.ID
				e.Status = entity.StatusUnreachable
				e.Metadata[entity.MetaReason] = entity.String("Duplicate cluster node")
			}
		}
	}
	return entities
}

// unraidContainerReparenting is pass 5: reparents containers and stacks
// sharing an Unraid host's IP under that host.
func unraidContainerReparenting(entities []*entity.Entity) []*entity.Entity {
	stackIDs := make(map[string]bool)
	for _, e := range entities {
		if e.Type == entity.TypePortainerStack {
			stackIDs[e.ID] = true
		}
	}

	for _, host := range entities {
		if host.Type != entity.TypeUnraid {
			continue
		}
		for _, e := range entities {
			if e.ID == host.ID || e.IP != host.IP {
				continue
			}
			if e.Type == entity.TypeContainer && !stackIDs[e.ParentID] {
				e.ParentID = host.ID
			}
			if e.Type == entity.TypePortainerStack {
				e.ParentID = host.ID
			}
		}
	}
	return entities
}
