// Package proxmox implements the ProxmoxAdapter (priority 10): cluster and
// node enumeration plus VM/LXC guest discovery against the Proxmox VE API.
package proxmox

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"github.com/hashicorp/go-version"
	"github.com/sirupsen/logrus"

	"github.com/netmapper/netmapper/pkg/adapter"
	"github.com/netmapper/netmapper/pkg/entity"
)

const Name = "Proxmox"

// Adapter implements adapter.Adapter for Proxmox VE.
type Adapter struct{}

func New() *Adapter { return &Adapter{} }

func (a *Adapter) Name() string               { return Name }
func (a *Adapter) Priority() int              { return 10 }
func (a *Adapter) DependsOn() []string        { return nil }
func (a *Adapter) OptionalDependsOn() []string { return nil }
func (a *Adapter) Matches(e *entity.Entity) bool {
	return adapter.MatchesByType(Name, e)
}
func (a *Adapter) Criteria() adapter.Criteria {
	return adapter.Criteria{RequiredOpenPorts: []int{8006}}
}

// Scan verifies the target answers the Proxmox VE API on :8006, promotes it
// to ProxmoxCluster or ProxmoxNode, and enumerates cluster members and their
// guests.
func (a *Adapter) Scan(ctx *adapter.Context, e *entity.Entity) adapter.ScanResult {
	client := newAPIClient(ctx, e.IP)

	status, err := client.version()
	if err != nil {
		return adapter.Failure("proxmox API did not respond", err.Error())
	}
	ver := status.Version
	if v, err := version.NewVersion(status.Version); err == nil {
		ver = v.String()
	}
	versionMeta := map[string]entity.Value{entity.MetaVersion: entity.String(ver)}

	members, err := client.clusterStatus()
	if err != nil || len(members) == 0 {
		// Standalone node: not part of a named cluster.
		result := a.scanStandaloneNode(ctx, client, e)
		result.Patch.MetadataUpdates = versionMeta
		return result
	}

	clusterName := members[0].clusterName
	clusterID := "proxmox-cluster-" + clusterName

	if ctx.Credentials != nil && ctx.Credentials.ClusterScanned(clusterID) {
		logrus.WithField("cluster", clusterID).Debug("cluster already scanned this run")
		return adapter.Success(adapter.Patch{MetadataUpdates: versionMeta}, nil)
	}
	if ctx.Credentials != nil {
		ctx.Credentials.MarkClusterScanned(clusterID)
	}

	newType := entity.TypeProxmoxCluster
	newID := clusterID
	newIP := ""
	patch := adapter.Patch{NewType: &newType, NewID: &newID, NewIP: &newIP, MetadataUpdates: versionMeta}

	var discovered []*entity.Entity
	for _, m := range members {
		if !m.isNode {
			continue
		}
		nodeID := "proxmox-node-" + m.name
		node := entity.New(nodeID, entity.TypeProxmoxNode)
		node.IP = m.ip
		node.Name = m.name
		node.ParentID = clusterID
		if m.online {
			node.Status = entity.StatusReachable
		} else {
			node.Status = entity.StatusUnreachable
		}
		discovered = append(discovered, node)

		guests, err := client.guests(m.name)
		if err != nil {
			logrus.WithField("node", m.name).WithError(err).Warn("failed to enumerate proxmox guests")
			continue
		}
		discovered = append(discovered, guestsToEntities(ctx, client, m.name, nodeID, guests)...)
	}

	return adapter.Success(patch, discovered)
}

func (a *Adapter) scanStandaloneNode(ctx *adapter.Context, client *apiClient, e *entity.Entity) adapter.ScanResult {
	nodeID := "proxmox-node-" + e.IP
	newType := entity.TypeProxmoxNode
	patch := adapter.Patch{NewType: &newType, NewID: &nodeID}

	guests, err := client.guests(e.IP)
	if err != nil {
		return adapter.Success(patch, nil)
	}
	return adapter.Success(patch, guestsToEntities(ctx, client, e.IP, nodeID, guests))
}

// guestsToEntities builds one Vm/Lxc child per guest. A guest whose
// reported IP is already in the Host Sweeper's reachable set is assigned
// that IP directly and marked Reachable; otherwise the IP is recorded only
// as api_reported_ip metadata (IP left empty) so the Correlation Engine's
// VM-IP-promotion pass can verify it later instead of trusting an
// unconfirmed address up front.
func guestsToEntities(ctx *adapter.Context, client *apiClient, node, nodeID string, guests []guestInfo) []*entity.Entity {
	var out []*entity.Entity
	for _, g := range guests {
		var childID string
		var childType entity.Type
		if g.isLXC {
			childID = fmt.Sprintf("proxmox-lxc-%s-%d", node, g.vmid)
			childType = entity.TypeLXC
		} else {
			childID = fmt.Sprintf("proxmox-vm-%s-%d", node, g.vmid)
			childType = entity.TypeVM
		}

		child := entity.New(childID, childType)
		child.Name = g.name
		child.ParentID = nodeID
		child.Metadata[entity.MetaProxmoxVMID] = entity.String(fmt.Sprintf("%d", g.vmid))
		child.Metadata[entity.MetaProxmoxNode] = entity.String(node)

		ip := client.guestIP(node, g)
		if ip != "" {
			if ctx.InSweptSet(ip) {
				child.IP = ip
				child.Status = entity.StatusReachable
			} else {
				child.Metadata[entity.MetaAPIReportedIP] = entity.String(ip)
				child.Status = entity.StatusUnverified
			}
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
	return &apiClient{ctx: ctx, base: "https://" + ip + ":8006/api2/json"}
}

type versionInfo struct {
	Version string `json:"version"`
}

func (c *apiClient) version() (versionInfo, error) {
	var resp struct {
		Data versionInfo `json:"data"`
	}
	err := c.get("/version", &resp)
	return resp.Data, err
}

type clusterMember struct {
	clusterName string
	name        string
	ip          string
	online      bool
	isNode      bool
}

func (c *apiClient) clusterStatus() ([]clusterMember, error) {
	var resp struct {
		Data []struct {
			Type   string `json:"type"`
			Name   string `json:"name"`
			IP     string `json:"ip"`
			Online int    `json:"online"`
		} `json:"data"`
	}
	if err := c.get("/cluster/status", &resp); err != nil {
		return nil, err
	}

	var clusterName string
	for _, d := range resp.Data {
		if d.Type == "cluster" {
			clusterName = d.Name
		}
	}
	if clusterName == "" {
		return nil, nil
	}

	var members []clusterMember
	for _, d := range resp.Data {
		if d.Type != "node" {
			continue
		}
		members = append(members, clusterMember{
			clusterName: clusterName,
			name:        d.Name,
			ip:          d.IP,
			online:      d.Online == 1,
			isNode:      true,
		})
	}
	return members, nil
}

type guestInfo struct {
	vmid     int
	name     string
	isLXC    bool
	configIP string
}

func (c *apiClient) guests(node string) ([]guestInfo, error) {
	var guests []guestInfo

	var vms struct {
		Data []struct {
			VMID int    `json:"vmid"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := c.get("/nodes/"+node+"/qemu", &vms); err == nil {
		for _, v := range vms.Data {
			guests = append(guests, guestInfo{vmid: v.VMID, name: v.Name, isLXC: false,
				configIP: c.guestConfigIP(node, "qemu", v.VMID)})
		}
	}

	var lxcs struct {
		Data []struct {
			VMID int    `json:"vmid"`
			Name string `json:"name"`
		} `json:"data"`
	}
	if err := c.get("/nodes/"+node+"/lxc", &lxcs); err == nil {
		for _, v := range lxcs.Data {
			guests = append(guests, guestInfo{vmid: v.VMID, name: v.Name, isLXC: true,
				configIP: c.guestConfigIP(node, "lxc", v.VMID)})
		}
	}

	if len(guests) == 0 {
		return nil, fmt.Errorf("no guests found on node %s", node)
	}
	return guests, nil
}

// guestConfigIP reads a static ipconfigN entry from the guest's config,
// per the documented IP-extraction fallback order (guest-agent
// exec is an optional SSH side-channel this core does not implement).
func (c *apiClient) guestConfigIP(node, kind string, vmid int) string {
	var resp struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := c.get(fmt.Sprintf("/nodes/%s/%s/%d/config", node, kind, vmid), &resp); err != nil {
		return ""
	}
	for key, v := range resp.Data {
		if !strings.HasPrefix(key, "ipconfig") && !strings.HasPrefix(key, "net") {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		if ip := extractIP(s); ip != "" {
			return ip
		}
	}
	return ""
}

// guestIP tries guest-agent-style resolution first (unimplemented; this
// core has no SSH side-channel), then falls back to the config IP.
func (c *apiClient) guestIP(node string, g guestInfo) string {
	return g.configIP
}

func extractIP(config string) string {
	for _, field := range strings.Split(config, ",") {
		if strings.HasPrefix(field, "ip=") {
			v := strings.TrimPrefix(field, "ip=")
			v = strings.Split(v, "/")[0]
			if v != "dhcp" {
				return v
			}
		}
	}
	return ""
}

func (c *apiClient) get(path string, out interface{}) error {
	req, err := http.NewRequestWithContext(c.ctx, http.MethodGet, c.base+path, nil)
	if err != nil {
		return err
	}
	if token, ok := c.ctx.Credentials.Get("proxmox", "api_token"); ok {
		req.Header.Set("Authorization", "PVEAPIToken="+token)
	}

	resp, err := c.ctx.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("proxmox API %s returned %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
