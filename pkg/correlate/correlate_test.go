package correlate

import (
	"testing"

	"github.com/netmapper/netmapper/pkg/entity"
)

func TestStackReparentingMatchesByDockerIDPrefix(t *testing.T) {
	stack := entity.New("portainer-stack-1", entity.TypePortainerStack)
	stack.Metadata[entity.MetaContainerIDs] = entity.List([]string{"abc123def456"})

	container := entity.New("docker-abc123def456789abcdef", entity.TypeContainer)
	container.Metadata[entity.MetaDockerID] = entity.String("abc123def456789abcdef")
	container.ParentID = "some-host"

	out := Run([]*entity.Entity{stack, container}, nil)

	var c *entity.Entity
	for _, e := range out {
		if e.Type == entity.TypeContainer {
			c = e
		}
	}
	if c.ParentID != "portainer-stack-1" {
		t.Errorf("ParentID = %q, want portainer-stack-1", c.ParentID)
	}
}

func TestVMIPPromotionMergesUnknownAndCollapsesHost(t *testing.T) {
	vm := entity.New("proxmox-vm-pve-100", entity.TypeVM)
	vm.Metadata[entity.MetaAPIReportedIP] = entity.String("192.168.1.80")

	unknown := entity.New("192.168.1.80", entity.TypeUnknown)
	unknown.IP = "192.168.1.80"
	unknown.OpenPorts[2375] = struct{}{}

	dockerHost := entity.New("192.168.1.80-docker", entity.TypeDockerHost)
	dockerHost.IP = "192.168.1.80"

	swept := map[string]struct{}{"192.168.1.80": {}}
	out := Run([]*entity.Entity{vm, unknown, dockerHost}, swept)

	if len(out) != 2 {
		t.Fatalf("got %d entities, want 2 (VM + collapsed host), out=%v", len(out), idsOf(out))
	}
	if vm.IP != "192.168.1.80" || vm.Status != entity.StatusReachable {
		t.Errorf("vm not promoted correctly: ip=%q status=%v", vm.IP, vm.Status)
	}
	if !vm.HasPort(2375) {
		t.Error("expected Unknown's open port merged into VM")
	}
	if dockerHost.ParentID != vm.ID {
		t.Errorf("dockerHost.ParentID = %q, want %q", dockerHost.ParentID, vm.ID)
	}
}

func TestClusterDuplicateNodeSuppression(t *testing.T) {
	cluster := entity.New("proxmox-cluster-pve", entity.TypeProxmoxCluster)
	node := entity.New("proxmox-node-pve1", entity.TypeProxmoxNode)
	node.IP = "192.168.1.52"
	node.ParentID = cluster.ID

	dup := entity.New("192.168.1.52", entity.TypeProxmox)
	dup.IP = "192.168.1.52"

	out := Run([]*entity.Entity{cluster, node, dup}, nil)
	_ = out

	if dup.ParentID != cluster.ID {
		t.Errorf("dup.ParentID = %q, want %q", dup.ParentID, cluster.ID)
	}
	if dup.Status != entity.StatusUnreachable {
		t.Errorf("dup.Status = %v, want Unreachable", dup.Status)
	}
}

func TestRunIsIdempotent(t *testing.T) {
	vm := entity.New("proxmox-vm-pve-100", entity.TypeVM)
	vm.Metadata[entity.MetaAPIReportedIP] = entity.String("192.168.1.80")
	swept := map[string]struct{}{"192.168.1.80": {}}

	first := Run([]*entity.Entity{vm}, swept)
	second := Run(first, swept)

	if len(first) != len(second) {
		t.Fatalf("second run changed entity count: %d vs %d", len(first), len(second))
	}
	if first[0].IP != second[0].IP || first[0].Status != second[0].Status {
		t.Error("second run changed VM ip/status; pass is not idempotent")
	}
}

func idsOf(entities []*entity.Entity) []string {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.ID
	}
	return ids
}
