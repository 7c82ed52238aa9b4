// Package docker implements the DockerAdapter (priority 20): container
// enumeration against the Docker Engine API.
package docker

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/netmapper/netmapper/pkg/adapter"
	"github.com/netmapper/netmapper/pkg/entity"
)

const Name = "Docker"

type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string                { return Name }
func (a *Adapter) Priority() int               { return 20 }
func (a *Adapter) DependsOn() []string         { return nil }
func (a *Adapter) OptionalDependsOn() []string { return nil }
func (a *Adapter) Matches(e *entity.Entity) bool {
	return adapter.MatchesByType(Name, e)
}
func (a *Adapter) Criteria() adapter.Criteria {
	return adapter.Criteria{RequiredOpenPorts: []int{2375, 2376}}
}

// Scan promotes e to DockerHost and emits one Container child per listed
// container.
func (a *Adapter) Scan(ctx *adapter.Context, e *entity.Entity) adapter.ScanResult {
	client := newAPIClient(ctx, e.IP)

	containers, err := client.listContainers()
	if err != nil {
		return adapter.Failure("docker API did not respond", err.Error())
	}

	newType := entity.TypeDockerHost
	patch := adapter.Patch{NewType: &newType}

	var discovered []*entity.Entity
	for _, c := range containers {
		shortID := c.ID
		if len(shortID) > 12 {
			shortID = shortID[:12]
		}
		child := entity.New("docker-"+shortID, entity.TypeContainer)
		child.Name = strings.TrimPrefix(firstOrEmpty(c.Names), "/")
		child.ParentID = e.ID
		child.IP = firstNonEmptyIP(c.NetworkSettings.Networks)
		child.Metadata[entity.MetaDockerID] = entity.String(shortID)
		child.Metadata[entity.MetaContainerID] = entity.String(c.ID)
		child.Metadata[entity.MetaContainerImage] = entity.String(c.Image)
		if ports := exposedPorts(c.Ports); len(ports) > 0 {
			child.Metadata[entity.MetaExposedPorts] = entity.List(ports)
		}
		if project, ok := c.Labels["com.docker.compose.project"]; ok {
			child.Metadata["compose_project"] = entity.String(project)
		}

		child.Status = classifyStatus(child.IP, ctx)
		discovered = append(discovered, child)
	}

	return adapter.Success(patch, discovered)
}

// classifyStatus applies the DockerAdapter status rule: a bridge-local IP
// is Unreachable, an IP in the swept set is Reachable, otherwise Unverified.
func classifyStatus(ip string, ctx *adapter.Context) entity.Status {
	if ip == "" {
		return entity.StatusUnverified
	}
	if strings.HasPrefix(ip, "172.") || strings.HasPrefix(ip, "10.") {
		return entity.StatusUnreachable
	}
	if ctx.InSweptSet(ip) {
		return entity.StatusReachable
	}
	return entity.StatusUnverified
}

func firstOrEmpty(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return names[0]
}

func firstNonEmptyIP(networks map[string]networkEndpoint) string {
	for _, n := range networks {
		if n.IPAddress != "" {
			return n.IPAddress
		}
	}
	return ""
}

func exposedPorts(ports []containerPort) []string {
	out := make([]string, 0, len(ports))
	for _, p := range ports {
		if p.PublicPort != 0 {
			out = append(out, fmt.Sprintf("%d/%s", p.PublicPort, p.Type))
		}
	}
	return out
}

// --- API client -------------------------------------------------------

type apiClient struct {
	ctx  *adapter.Context
	base string
}

func newAPIClient(ctx *adapter.Context, ip string) *apiClient {
	return &apiClient{ctx: ctx, base: "http://" + ip + ":2375"}
}

type containerPort struct {
	PublicPort int    `json:"PublicPort"`
	Type       string `json:"Type"`
}

type networkEndpoint struct {
	IPAddress string `json:"IPAddress"`
}

type containerInfo struct {
	ID              string            `json:"Id"`
	Names           []string          `json:"Names"`
	Image           string            `json:"Image"`
	Ports           []containerPort   `json:"Ports"`
	Labels          map[string]string `json:"Labels"`
	NetworkSettings struct {
		Networks map[string]networkEndpoint `json:"Networks"`
	} `json:"NetworkSettings"`
}

func (c *apiClient) listContainers() ([]containerInfo, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.base+"/containers/json?all=true", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.ctx.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("docker API returned %d", resp.StatusCode)
	}

	var containers []containerInfo
	if err := json.NewDecoder(resp.Body).Decode(&containers); err != nil {
		return nil, err
	}
	return containers, nil
}
