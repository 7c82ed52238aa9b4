// Package adapter defines the uniform Platform Adapter contract (L4), the
// Adapter Registry (L2) that selects and orders adapters for a given
// entity, and the shared Context every adapter invocation receives.
package adapter

import (
	"context"
	"net/http"
	"strings"

	"github.com/sethgrid/pester"

	"github.com/netmapper/netmapper/pkg/credentials"
	"github.com/netmapper/netmapper/pkg/entity"
)

// Criteria gates activation of an adapter against an entity that did not
// already type-match.
type Criteria struct {
	// RequiredOpenPorts: nonempty means the entity's open ports must
	// intersect this set.
	RequiredOpenPorts []int
	// RequiredHTTPHeaders: each (key, substring) pair must match a value
	// in the entity's captured headers, case-insensitively.
	RequiredHTTPHeaders map[string]string
	// RequiredURLPatterns: at least one of https://<ip><pattern> (falling
	// back to http) must answer 2xx.
	RequiredURLPatterns []string
	// CustomPredicate, if set, must additionally return true.
	CustomPredicate func(e *entity.Entity, ctx *Context) bool
}

// Patch is what a scan returns instead of mutating its target entity
// directly: the orchestrator is the sole writer of the universe, and
// applies a Patch atomically alongside any discovered children.
type Patch struct {
	NewType     *entity.Type
	NewID       *string
	NewIP       *string // a non-nil pointer to "" clears the IP (cluster promotion)
	NewParentID *string // reparents the scanned entity itself (Unraid promotion)
	Status      *entity.Status

	MetadataUpdates map[string]entity.Value
}

// ScanResult is the outcome of one adapter invocation against one entity.
type ScanResult struct {
	OK    bool
	Patch Patch

	// Discovered are new entities subordinate to the scanned entity: the
	// orchestrator reparents any of these still missing a ParentID under
	// e before attaching them.
	Discovered []*entity.Entity
	// DiscoveredRoots are new entities that must stay top-level (ParentID
	// == "" is the intentional root sentinel, not "unset") even though
	// the scan that produced them was itself triggered against e — e.g.
	// UnraidAdapter minting a new Unraid root and reparenting e under it.
	// The orchestrator attaches these without ever touching ParentID.
	DiscoveredRoots []*entity.Entity
	ChildHintTypes  []string

	// Failure fields, populated when OK is false.
	ErrorMessage string
	ErrorDetails string
	// Panicked distinguishes a recovered panic (recorded under
	// scan_exception) from a returned Failure (recorded under scan_error).
	// Only the orchestrator sets this.
	Panicked bool
}

// Success builds an ok ScanResult.
func Success(patch Patch, discovered []*entity.Entity, childHints ...string) ScanResult {
	return ScanResult{OK: true, Patch: patch, Discovered: discovered, ChildHintTypes: childHints}
}

// SuccessWithRoots builds an ok ScanResult that also mints one or more
// top-level entities (see DiscoveredRoots) alongside the ordinary,
// e-subordinate discovered set.
func SuccessWithRoots(patch Patch, discovered, roots []*entity.Entity, childHints ...string) ScanResult {
	return ScanResult{OK: true, Patch: patch, Discovered: discovered, DiscoveredRoots: roots, ChildHintTypes: childHints}
}

// Failure builds a failed ScanResult; the orchestrator records message and
// details under the reserved scan_error / scan_error_reason metadata keys.
func Failure(message, details string) ScanResult {
	return ScanResult{OK: false, ErrorMessage: message, ErrorDetails: details}
}

// Context is the shared, read-only collaborator handed to every adapter
// invocation: a pester-backed HTTP client (built with the configured HTTP
// timeout), the credentials store, the set of IPs the Host Sweeper found
// reachable, and the run id for log correlation. It carries no other
// timeout settings. No adapter holds state beyond this and its target
// entity.
type Context struct {
	context.Context

	HTTPClient  *pester.Client
	Credentials *credentials.Store
	SweptIPs    map[string]struct{}
	RunID       string
}

// InSweptSet reports whether ip was among the addresses the Host Sweeper
// found reachable this run.
func (c *Context) InSweptSet(ip string) bool {
	if c == nil || ip == "" {
		return false
	}
	_, ok := c.SweptIPs[ip]
	return ok
}

// Adapter is the uniform platform-adapter contract.
type Adapter interface {
	Name() string
	Priority() int
	DependsOn() []string
	OptionalDependsOn() []string

	// Matches reports whether this adapter type-matches the entity
	// outright (bypassing Criteria).
	Matches(e *entity.Entity) bool
	Criteria() Criteria

	Scan(ctx *Context, e *entity.Entity) ScanResult
}

// typeMatch is the fixed entity-type -> adapter-name map used by the
// registry's type-match selection rule.
var typeMatch = map[entity.Type]string{
	entity.TypeProxmox:        "Proxmox",
	entity.TypeProxmoxCluster: "Proxmox",
	entity.TypeProxmoxNode:    "Proxmox",
	entity.TypeDockerHost:     "Docker",
	entity.TypePortainerService: "Portainer",
	entity.TypeUnraid:         "Unraid",
	entity.TypeRouter:         "Router",
}

// MatchesByType implements the registry's type-match selection rule for a
// concrete adapter: call it from the adapter's Matches method with the
// adapter's own name.
func MatchesByType(adapterName string, e *entity.Entity) bool {
	return typeMatch[e.Type] == adapterName
}

// criteriaPass evaluates a Criteria against e, without the type-match
// bypass (that is handled by Registry.FindApplicable before this is ever
// called).
func criteriaPass(c Criteria, e *entity.Entity, ctx *Context) bool {
	if len(c.RequiredOpenPorts) > 0 {
		matched := false
		for _, p := range c.RequiredOpenPorts {
			if e.HasPort(p) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	for key, substr := range c.RequiredHTTPHeaders {
		v, ok := e.HTTPHeaders[key]
		if !ok || !strings.Contains(strings.ToLower(v), strings.ToLower(substr)) {
			return false
		}
	}

	if len(c.RequiredURLPatterns) > 0 {
		matched := false
		for _, pattern := range c.RequiredURLPatterns {
			if probeURLPattern(ctx, e.IP, pattern) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if c.CustomPredicate != nil && !c.CustomPredicate(e, ctx) {
		return false
	}

	return true
}

func probeURLPattern(ctx *Context, ip, pattern string) bool {
	if ctx == nil || ctx.HTTPClient == nil || ip == "" {
		return false
	}
	for _, scheme := range []string{"https", "http"} {
		url := scheme + "://" + ip + pattern
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			continue
		}
		resp, err := ctx.HTTPClient.Do(req)
		if err != nil {
			continue
		}
		resp.Body.Close()
		if resp.StatusCode >= 200 && resp.StatusCode < 300 {
			return true
		}
	}
	return false
}
