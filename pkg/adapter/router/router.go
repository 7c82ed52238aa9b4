// Package router implements the RouterAdapter (priority 5, custom
// predicate): promotes the LAN gateway entity to Router and publishes a
// DHCP-lease mapping into its metadata; the orchestrator then attaches
// mac/hostname to every other entity whose ip matches a lease.
package router

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/netmapper/netmapper/pkg/adapter"
	"github.com/netmapper/netmapper/pkg/entity"
)

const Name = "Router"

// Lease describes one DHCP-lease record the adapter publishes.
type Lease struct {
	IP           string
	MACAddress   string
	Hostname     string
	IsAccessPoint bool
}

type Adapter struct {
	// GatewayIP is the exact LAN-gateway address this adapter activates
	// on (a custom predicate: exact LAN-gateway IP).
	GatewayIP string
}

func New(gatewayIP string) *Adapter { return &Adapter{GatewayIP: gatewayIP} }

func (a *Adapter) Name() string                { return Name }
func (a *Adapter) Priority() int               { return 5 }
func (a *Adapter) DependsOn() []string         { return nil }
func (a *Adapter) OptionalDependsOn() []string { return nil }
func (a *Adapter) Matches(e *entity.Entity) bool {
	return adapter.MatchesByType(Name, e)
}
func (a *Adapter) Criteria() adapter.Criteria {
	return adapter.Criteria{
		CustomPredicate: func(e *entity.Entity, ctx *adapter.Context) bool {
			return e.IP == a.GatewayIP
		},
	}
}

// Scan queries the router's lease table and promotes e to Router. Neither
// the per-lease mac/hostname attachment to other universe entities nor the
// AccessPoint handling for access-point-flagged leases happens here: this
// adapter only ever sees its own target, not the rest of the universe, so
// it cannot tell whether a lease's IP already belongs to a previously
// discovered entity (which must be promoted in place, not duplicated). The
// leases, AP flag included, are published into e's metadata for the
// orchestrator to apply against the full universe.
func (a *Adapter) Scan(ctx *adapter.Context, e *entity.Entity) adapter.ScanResult {
	client := newAPIClient(ctx, e.IP)

	leases, err := client.leases()
	if err != nil {
		return adapter.Failure("router lease endpoint did not respond", err.Error())
	}

	newType := entity.TypeRouter
	patch := adapter.Patch{NewType: &newType}
	patch.MetadataUpdates = map[string]entity.Value{
		"dhcp_leases": encodeLeases(leases),
	}

	return adapter.Success(patch, nil)
}

// encodeLeases packs mac, hostname and the access-point flag into one
// "|"-joined string per IP, decoded by the orchestrator's DHCP-lease pass.
func encodeLeases(leases []Lease) entity.Value {
	m := make(map[string]string, len(leases))
	for _, l := range leases {
		ap := "0"
		if l.IsAccessPoint {
			ap = "1"
		}
		m[l.IP] = l.MACAddress + "|" + l.Hostname + "|" + ap
	}
	return entity.Map(m)
}

// --- API client -------------------------------------------------------

type apiClient struct {
	ctx  *adapter.Context
	base string
}

func newAPIClient(ctx *adapter.Context, ip string) *apiClient {
	return &apiClient{ctx: ctx, base: "http://" + ip}
}

type leaseRecord struct {
	IP       string `json:"ip"`
	MAC      string `json:"mac"`
	Hostname string `json:"hostname"`
	AP       bool   `json:"access_point"`
}

func (c *apiClient) leases() ([]Lease, error) {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.base+"/api/dhcp/leases", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.ctx.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("router API returned %d", resp.StatusCode)
	}

	var records []leaseRecord
	if err := json.NewDecoder(resp.Body).Decode(&records); err != nil {
		return nil, err
	}

	leases := make([]Lease, len(records))
	for i, r := range records {
		leases[i] = Lease{IP: r.IP, MACAddress: r.MAC, Hostname: r.Hostname, IsAccessPoint: r.AP}
	}
	return leases, nil
}
