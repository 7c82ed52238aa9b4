// Package portainer implements the PortainerAdapter (priority 30, optional
// dependency on Docker): endpoint, stack and container enumeration through
// the Portainer API.
package portainer

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/netmapper/netmapper/pkg/adapter"
	"github.com/netmapper/netmapper/pkg/entity"
)

const Name = "Portainer"

// portPreference is the order used for choosing which
// Portainer port to talk to.
var portPreference = []int{9443, 9010, 9000}

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string                { return Name }
func (a *Adapter) Priority() int               { return 30 }
func (a *Adapter) DependsOn() []string         { return nil }
func (a *Adapter) OptionalDependsOn() []string { return []string{"Docker"} }
func (a *Adapter) Matches(e *entity.Entity) bool {
	return adapter.MatchesByType(Name, e)
}
func (a *Adapter) Criteria() adapter.Criteria {
	return adapter.Criteria{RequiredOpenPorts: portPreference}
}

// Scan verifies Portainer's status endpoint and enumerates endpoints and
// their stacks/containers. Each container is emitted under the id
// docker-<12-char id>; when a Container with that id is already in the
// universe, the orchestrator keeps the existing entity and drops this one,
// so nothing is duplicated, but this scan's metadata and parent are not
// merged into the existing entity.
func (a *Adapter) Scan(ctx *adapter.Context, e *entity.Entity) adapter.ScanResult {
	port := choosePort(e)
	if port == 0 {
		return adapter.Failure("no Portainer port open", "")
	}

	client := newAPIClient(ctx, e.IP, port)
	if _, err := client.status(); err != nil {
		return adapter.Failure("portainer status endpoint did not respond", err.Error())
	}

	newType := entity.TypePortainerService
	patch := adapter.Patch{NewType: &newType}

	endpoints, err := client.endpoints()
	if err != nil {
		return adapter.Success(patch, nil)
	}

	var discovered []*entity.Entity
	for _, ep := range endpoints {
		stacks, _ := client.stacks(ep.ID)
		containers, _ := client.containers(ep.ID)

		stacksByID := make(map[int]*entity.Entity, len(stacks))
		stackContainerIDs := make(map[int][]string, len(stacks))
		for _, st := range stacks {
			stackID := fmt.Sprintf("portainer-stack-%d", st.ID)
			stackEntity := entity.New(stackID, entity.TypePortainerStack)
			stackEntity.Name = st.Name
			stackEntity.ParentID = e.ID
			stackEntity.Metadata[entity.MetaPortainerStackID] = entity.String(fmt.Sprintf("%d", st.ID))
			discovered = append(discovered, stackEntity)
			stacksByID[st.ID] = stackEntity
		}

		for _, c := range containers {
			stackName, hasStack := c.Labels["com.docker.compose.project"]
			var parentStackID int
			var parent *entity.Entity
			if hasStack {
				for id, st := range stacksByID {
					if st.Name == stackName {
						parent, parentStackID = st, id
						break
					}
				}
			}

			shortID := c.ID
			if len(shortID) > 12 {
				shortID = shortID[:12]
			}
			if parent != nil {
				stackContainerIDs[parentStackID] = append(stackContainerIDs[parentStackID], shortID)
			}

			// A Container entity with this docker id may already exist
			// from the DockerAdapter; this adapter has no view of the
			// rest of the universe, and the orchestrator keeps whichever
			// copy was attached first. Stack membership is reconciled
			// later by the Correlation Engine's stack-reparenting pass,
			// which reads the stack's container_ids metadata (set below)
			// and reparents the matching container regardless of which
			// side discovered it first.
			child := entity.New("docker-"+shortID, entity.TypeContainer)
			child.Name = strings.TrimPrefix(firstOrEmpty(c.Names), "/")
			if parent != nil {
				child.ParentID = parent.ID
			} else {
				child.ParentID = e.ID
			}
			child.Metadata[entity.MetaDockerID] = entity.String(shortID)
			child.Metadata[entity.MetaContainerID] = entity.String(c.ID)
			child.Status = entity.StatusUnverified
			discovered = append(discovered, child)
		}

		for id, ids := range stackContainerIDs {
			stacksByID[id].Metadata[entity.MetaContainerIDs] = entity.List(ids)
		}
	}

	return adapter.Success(patch, discovered)
}

func choosePort(e *entity.Entity) int {
	for _, p := range portPreference {
		if e.HasPort(p) {
			return p
		}
	}
	return 0
}

func firstOrEmpty(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

// --- API client -------------------------------------------------------

type apiClient struct {
	ctx  *adapter.Context
	base string
}

func newAPIClient(ctx *adapter.Context, ip string, port int) *apiClient {
	return &apiClient{ctx: ctx, base: fmt.Sprintf("https://%s:%d/api", ip, port)}
}

func (c *apiClient) status() (string, error) {
	var resp struct {
		Version string `json:"Version"`
	}
	err := c.get("/status", &resp)
	return resp.Version, err
}

type endpointInfo struct {
	ID int `json:"Id"`
}

func (c *apiClient) endpoints() ([]endpointInfo, error) {
	var eps []endpointInfo
	err := c.get("/endpoints", &eps)
	return eps, err
}

type stackInfo struct {
	ID   int    `json:"Id"`
	Name string `json:"Name"`
}

func (c *apiClient) stacks(endpointID int) ([]stackInfo, error) {
	var stacks []stackInfo
	err := c.get(fmt.Sprintf("/stacks?filters={\"EndpointId\":%d}", endpointID), &stacks)
	return stacks, err
}

type containerInfo struct {
	ID     string            `json:"Id"`
	Names  []string          `json:"Names"`
	Labels map[string]string `json:"Labels"`
}

func (c *apiClient) containers(endpointID int) ([]containerInfo, error) {
	var containers []containerInfo
	err := c.get(fmt.Sprintf("/endpoints/%d/docker/containers/json?all=true", endpointID), &containers)
	return containers, err
}

func (c *apiClient) get(path string, out interface{}) error {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	if token, ok := c.ctx.Credentials.Get("portainer", "api_key"); ok {
		req.Header.Set("X-API-Key", token)
	}

	resp, err := c.ctx.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("portainer API %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
