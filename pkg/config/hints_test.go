package config

import (
	"testing"

	"github.com/netmapper/netmapper/pkg/entity"
)

func TestApplyHintsNameOverrideAlwaysApplies(t *testing.T) {
	e := entity.New("192.168.1.51", entity.TypeProxmox)
	e.IP = "192.168.1.51"

	ApplyHints([]*entity.Entity{e}, []Hint{{IP: "192.168.1.51", Name: "pve-main"}})

	if e.Name != "pve-main" {
		t.Errorf("Name = %q, want pve-main", e.Name)
	}
	if e.Type != entity.TypeProxmox {
		t.Errorf("Type changed to %v, want unchanged Proxmox", e.Type)
	}
}

func TestApplyHintsTypeOnlyAppliesWhenUnknown(t *testing.T) {
	unknown := entity.New("192.168.1.60", entity.TypeUnknown)
	unknown.IP = "192.168.1.60"
	classified := entity.New("192.168.1.61", entity.TypeDockerHost)
	classified.IP = "192.168.1.61"

	hints := []Hint{
		{IP: "192.168.1.60", Type: "Nas"},
		{IP: "192.168.1.61", Type: "Nas"},
	}
	ApplyHints([]*entity.Entity{unknown, classified}, hints)

	if unknown.Type != entity.TypeNas {
		t.Errorf("Unknown entity Type = %v, want Nas", unknown.Type)
	}
	if classified.Type != entity.TypeDockerHost {
		t.Errorf("already-classified entity Type changed to %v, want unchanged DockerHost", classified.Type)
	}
}

func TestApplyHintsPortFilter(t *testing.T) {
	e := entity.New("192.168.1.80", entity.TypeUnknown)
	e.IP = "192.168.1.80"
	e.OpenPorts[8006] = struct{}{}

	ApplyHints([]*entity.Entity{e}, []Hint{{IP: "192.168.1.80", Port: 9999, Name: "nope"}})
	if e.Name == "nope" {
		t.Error("hint with a port the entity does not have should not match")
	}

	ApplyHints([]*entity.Entity{e}, []Hint{{IP: "192.168.1.80", Port: 8006, Name: "pve"}})
	if e.Name != "pve" {
		t.Errorf("Name = %q, want pve after matching-port hint", e.Name)
	}
}

func TestApplyHintsTokenEnvKeyRecorded(t *testing.T) {
	e := entity.New("192.168.1.51", entity.TypeUnknown)
	e.IP = "192.168.1.51"

	ApplyHints([]*entity.Entity{e}, []Hint{{IP: "192.168.1.51", TokenEnvKey: "PROXMOX_TOKEN"}})

	v, ok := e.Metadata[entity.MetaHintTokenEnv]
	if !ok || v.AsString() != "PROXMOX_TOKEN" {
		t.Errorf("Metadata[hint_token_env] = %v, want PROXMOX_TOKEN", v)
	}
}
