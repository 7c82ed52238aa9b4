// Package orchestrator implements the Scan Orchestrator (L3): drains a FIFO
// work queue of entities through the Adapter Registry, applying each
// adapter's Patch atomically to a single-owner "universe" guarded by one
// mutex.
package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/netmapper/netmapper/pkg/adapter"
	"github.com/netmapper/netmapper/pkg/entity"
)

// Options configures one orchestration run.
type Options struct {
	Registry *adapter.Registry
	SweptIPs map[string]struct{}
}

// universe is the orchestrator's single-owner mutable entity set. Every
// read and write goes through its mutex; adapters never see it directly.
type universe struct {
	mu       chan struct{} // binary semaphore; see lock/unlock below
	entities []*entity.Entity
	byID     map[string]*entity.Entity
	scanned  map[string]bool
	queue    []*entity.Entity
}

func newUniverse(seed []*entity.Entity) *universe {
	u := &universe{
		mu:      make(chan struct{}, 1),
		byID:    make(map[string]*entity.Entity),
		scanned: make(map[string]bool),
	}
	u.mu <- struct{}{}
	for _, e := range seed {
		u.entities = append(u.entities, e)
		u.byID[e.ID] = e
		u.queue = append(u.queue, e)
	}
	return u
}

func (u *universe) lock()   { <-u.mu }
func (u *universe) unlock() { u.mu <- struct{}{} }

// Run drains the seed entities through opts.Registry, applying each
// adapter's Patch to the universe and enqueueing newly discovered children
// until the queue is empty. A fresh run id is stored in actx.RunID, which
// every adapter invocation receives, and is attached as run_id to the
// orchestrator's own log lines, for correlating per-entity adapter
// activity.
func Run(ctx context.Context, seed []*entity.Entity, opts Options, actx *adapter.Context) []*entity.Entity {
	runID := uuid.NewString()
	actx.RunID = runID
	log := logrus.WithField("run_id", runID)

	u := newUniverse(seed)

	for {
		u.lock()
		if len(u.queue) == 0 {
			u.unlock()
			break
		}
		e := u.queue[0]
		u.queue = u.queue[1:]
		alreadyScanned := u.scanned[e.ID]
		u.unlock()

		if alreadyScanned {
			continue
		}
		if e.IP != "" && !inSweptSet(e.IP, opts.SweptIPs) {
			// Filters non-routable internal container IPs the Host Sweeper
			// never actually reached.
			markScanned(u, e.ID)
			continue
		}

		runAdapters(ctx, log, u, opts.Registry, actx, e)
		markScanned(u, e.ID)
	}

	u.lock()
	defer u.unlock()
	out := make([]*entity.Entity, len(u.entities))
	copy(out, u.entities)
	return out
}

func inSweptSet(ip string, swept map[string]struct{}) bool {
	_, ok := swept[ip]
	return ok
}

func markScanned(u *universe, id string) {
	u.lock()
	u.scanned[id] = true
	u.unlock()
}

// runAdapters computes the dependency-ordered adapter plan for e and runs
// each serially against it, so later adapters observe earlier adapters'
// mutations.
func runAdapters(ctx context.Context, log *logrus.Entry, u *universe, reg *adapter.Registry, actx *adapter.Context, e *entity.Entity) {
	plan := reg.FindApplicable(actx, e)
	for _, a := range plan {
		result := invokeSafely(log, a, actx, e)

		u.lock()
		if result.OK {
			oldID := e.ID
			applyPatch(e, result.Patch)
			if e.ID != oldID {
				rebindID(u, oldID, e.ID, e)
			}
			for _, child := range result.Discovered {
				attachChild(u, e, child)
			}
			for _, root := range result.DiscoveredRoots {
				attachRoot(u, root)
			}
			if e.Type == entity.TypeRouter {
				applyDHCPLeases(u, e)
			}
		} else {
			e.Status = entity.StatusUnverified
			if result.Panicked {
				e.Metadata[entity.MetaScanException] = entity.String(result.ErrorDetails)
			} else {
				e.Metadata[entity.MetaScanError] = entity.String(result.ErrorMessage)
				if result.ErrorDetails != "" {
					e.Metadata[entity.MetaScanErrorReason] = entity.String(result.ErrorDetails)
				}
			}
		}
		u.unlock()
	}
}

// invokeSafely recovers from an adapter panic and converts it to a Failure,
// so the orchestrator itself never propagates an adapter exception.
func invokeSafely(log *logrus.Entry, a adapter.Adapter, actx *adapter.Context, e *entity.Entity) (result adapter.ScanResult) {
	defer func() {
		if r := recover(); r != nil {
			log.WithField("adapter", a.Name()).WithField("entity", e.ID).
				Errorf("adapter panicked: %v", r)
			result = adapter.ScanResult{
				OK:           false,
				Panicked:     true,
				ErrorMessage: fmt.Sprintf("adapter %s panicked", a.Name()),
				ErrorDetails: fmt.Sprintf("%v", r),
			}
		}
	}()
	return a.Scan(actx, e)
}

// applyPatch is the only place an Entity's identity fields are mutated
// post-creation, consistent with the patch-based mutation model.
func applyPatch(e *entity.Entity, p adapter.Patch) {
	if p.NewType != nil {
		e.Type = *p.NewType
	}
	if p.NewID != nil {
		e.ID = *p.NewID
	}
	if p.NewIP != nil {
		e.IP = *p.NewIP
	}
	if p.NewParentID != nil {
		e.ParentID = *p.NewParentID
	}
	if p.Status != nil {
		e.Status = *p.Status
	}
	for k, v := range p.MetadataUpdates {
		e.Metadata[k] = v
	}
}

// rebindID updates the universe's id-keyed bookkeeping after an adapter
// patch rewrites an entity's identity (Proxmox cluster/node promotion):
// any queue entry or scanned-set entry still
// referencing oldID is retargeted to newID, so the entity is scanned at
// most once regardless of when the rewrite happens relative to its queue
// position.
func rebindID(u *universe, oldID, newID string, e *entity.Entity) {
	delete(u.byID, oldID)
	u.byID[newID] = e
	if u.scanned[oldID] {
		delete(u.scanned, oldID)
		u.scanned[newID] = true
	}
	// Queue entries hold *entity.Entity pointers, so e's id has already
	// changed in place for any still-pending reference; nothing further
	// to rebind there.
}

// applyDHCPLeases attaches mac_address (and, for a generically-named
// entity, hostname) to every other entity in the universe whose ip matches
// a lease the RouterAdapter just published under "dhcp_leases", and mints
// a new AccessPoint entity for any access-point-flagged lease whose IP
// doesn't already belong to a discovered entity (one that does gets
// promoted to AccessPoint in place instead of duplicated). This is the one
// piece of RouterAdapter behavior that needs the full universe, so the
// orchestrator performs it right after applying the adapter's own patch
// rather than the adapter itself, which only ever sees its target entity.
func applyDHCPLeases(u *universe, router *entity.Entity) {
	leasesValue, ok := router.Metadata["dhcp_leases"]
	if !ok {
		return
	}
	leases, ok := leasesValue.AsMap()
	if !ok {
		return
	}

	matchedIPs := make(map[string]bool, len(leases))
	for _, e := range u.entities {
		if e.ID == router.ID || e.IP == "" {
			continue
		}
		encoded, ok := leases[e.IP]
		if !ok {
			continue
		}
		matchedIPs[e.IP] = true
		mac, hostname, isAP := splitLease(encoded)
		if mac != "" {
			e.Metadata[entity.MetaMACAddress] = entity.String(mac)
		}
		if hostname != "" && isGenericName(e.Name) {
			e.Name = hostname
		}
		if isAP {
			e.Type = entity.TypeAccessPoint
			e.ParentID = router.ID
		}
	}

	for ip, encoded := range leases {
		if matchedIPs[ip] || ip == router.IP {
			continue
		}
		mac, hostname, isAP := splitLease(encoded)
		if !isAP {
			continue
		}
		ap := entity.New("ap-"+mac, entity.TypeAccessPoint)
		ap.IP = ip
		ap.Name = hostname
		ap.ParentID = router.ID
		if mac != "" {
			ap.Metadata[entity.MetaMACAddress] = entity.String(mac)
		}
		attach(u, ap)
	}
}

func splitLease(encoded string) (mac, hostname string, isAccessPoint bool) {
	parts := strings.SplitN(encoded, "|", 3)
	switch len(parts) {
	case 3:
		return parts[0], parts[1], parts[2] == "1"
	case 2:
		return parts[0], parts[1], false
	default:
		return encoded, "", false
	}
}

// isGenericName reports whether name is unset or the kind of placeholder
// value a type promotion leaves behind, i.e. safe to overwrite with a DHCP
// hostname.
func isGenericName(name string) bool {
	return name == ""
}

// attachChild appends child to the universe (assigning parent if unset)
// and enqueues it; retargeting an in-flight queue entry that still
// references the pre-patch id of e's rewritten identity is handled by
// rebindID, called by the caller applying the patch before this runs.
// Only for entities reported under ScanResult.Discovered — a true root
// (ScanResult.DiscoveredRoots) must go through attachRoot instead, or its
// empty ParentID sentinel gets overwritten with parent.ID here, turning a
// parent/child edge into a 2-cycle.
func attachChild(u *universe, parent *entity.Entity, child *entity.Entity) {
	if child.ParentID == "" {
		child.ParentID = parent.ID
	}
	attach(u, child)
}

// attachRoot appends root to the universe and enqueues it without ever
// touching its ParentID, which is the deliberate top-level sentinel set by
// the adapter (e.g. UnraidAdapter minting a new Unraid root while
// reparenting its scan target underneath it).
func attachRoot(u *universe, root *entity.Entity) {
	attach(u, root)
}

func attach(u *universe, child *entity.Entity) {
	if _, exists := u.byID[child.ID]; exists {
		return
	}
	u.entities = append(u.entities, child)
	u.byID[child.ID] = child
	if !u.scanned[child.ID] {
		u.queue = append(u.queue, child)
	}
}
