// Package unraid implements the UnraidAdapter (priority 35): activated by
// the Unraid CSRF header, queries Docker state over Unraid's GraphQL API.
package unraid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/netmapper/netmapper/pkg/adapter"
	"github.com/netmapper/netmapper/pkg/entity"
)

const Name = "Unraid"

// csrfHeaderSubstring is the header fragment Unraid's web UI always sets,
// used as the activation signal ("Triggered by HTTP response
// header containing the Unraid CSP token").
const csrfHeaderSubstring = "unraid"

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string                { return Name }
func (a *Adapter) Priority() int               { return 35 }
func (a *Adapter) DependsOn() []string         { return nil }
func (a *Adapter) OptionalDependsOn() []string { return nil }
func (a *Adapter) Matches(e *entity.Entity) bool {
	return adapter.MatchesByType(Name, e)
}
func (a *Adapter) Criteria() adapter.Criteria {
	return adapter.Criteria{
		RequiredHTTPHeaders: map[string]string{"Set-Cookie": csrfHeaderSubstring},
	}
}

// Scan queries Unraid's GraphQL Docker-state endpoint and either promotes e
// in place or, when e was already classified by another adapter (e.g.
// Portainer at the same IP), spawns a new Unraid root and reparents e
// beneath it.
func (a *Adapter) Scan(ctx *adapter.Context, e *entity.Entity) adapter.ScanResult {
	client := newAPIClient(ctx, e.IP)

	containers, err := client.dockerState()
	if err != nil {
		return adapter.Failure("unraid GraphQL endpoint did not respond", err.Error())
	}

	var patch adapter.Patch
	var rootID string

	if e.Type != entity.TypeUnknown && e.Type != entity.TypeUnraid {
		// Already classified by a prior adapter at this IP as something
		// other than Unraid (an Unraid entity, such as a root minted
		// here, is promoted in place below): create a new Unraid root and
		// reparent e beneath it rather than overwrite its identity. root
		// is returned as a DiscoveredRoot, never as an ordinary Discovered
		// child, so the orchestrator never overwrites
		// its empty ParentID with e's id — that would make root and e
		// parents of each other.
		rootID = "unraid-" + e.IP
		root := entity.New(rootID, entity.TypeUnraid)
		root.IP = e.IP
		root.Status = entity.StatusReachable

		patch = adapter.Patch{NewParentID: &rootID} // e's own type/id are left untouched
		discovered := matchContainers(e.IP, rootID, containers)
		return adapter.SuccessWithRoots(patch, discovered, []*entity.Entity{root})
	}

	newType := entity.TypeUnraid
	patch = adapter.Patch{NewType: &newType, Status: statusPtr(entity.StatusReachable)}
	discovered := matchContainers(e.IP, e.ID, containers)
	return adapter.Success(patch, discovered)
}

func statusPtr(s entity.Status) *entity.Status { return &s }

// matchContainers emits one Container entity per container Unraid reports,
// with id docker-<12-char id>, ip set to the Unraid host's ip, and status
// taken from Unraid's running state. When an entity with that id is
// already in the universe, the orchestrator keeps the existing one
// unchanged and drops this one: ids are compared exactly, so an existing
// Container is not enriched with this ip or status, and a container not
// seen before is added as a new entity.
func matchContainers(hostIP, parentID string, containers []dockerContainer) []*entity.Entity {
	var out []*entity.Entity
	for _, c := range containers {
		shortID := c.ID
		if len(shortID) > 12 {
			shortID = shortID[:12]
		}
		child := entity.New("docker-"+shortID, entity.TypeContainer)
		child.Name = c.Name
		child.IP = hostIP
		child.ParentID = parentID
		child.Metadata[entity.MetaDockerID] = entity.String(shortID)
		if c.State == "running" {
			child.Status = entity.StatusReachable
		} else {
			child.Status = entity.StatusUnverified
		}
		out = append(out, child)
	}
	return out
}

// --- API client -------------------------------------------------------

type apiClient struct {
	ctx  *adapter.Context
	base string
}

func newAPIClient(ctx *adapter.Context, ip string) *apiClient {
	return &apiClient{ctx: ctx, base: "https://" + ip + "/graphql"}
}

type dockerContainer struct {
	ID    string `json:"id"`
	Name  string `json:"names"`
	State string `json:"state"`
}

const dockerStateQuery = `{"query":"query { docker { containers { id names state } } }"}`

func (c *apiClient) dockerState() ([]dockerContainer, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodPost, c.base,
		bytes.NewBufferString(dockerStateQuery))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if token, ok := c.ctx.Credentials.Get("unraid", "api_key"); ok {
		req.Header.Set("X-API-Key", token)
	}

	resp, err := c.ctx.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("unraid GraphQL endpoint returned %d", resp.StatusCode)
	}

	var out struct {
		Data struct {
			Docker struct {
				Containers []dockerContainer `json:"containers"`
			} `json:"docker"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out.Data.Docker.Containers, nil
}
