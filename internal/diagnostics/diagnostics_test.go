package diagnostics

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/matthiufungho/linksys-velop/internal/config"
	"github.com/matthiufungho/linksys-velop/internal/model"
)

func snapshotFixture() *model.Mesh {
	return &model.Mesh{
		ConnectedNode:    "192.168.1.1",
		WANStatus:        true,
		WANIP:            "82.11.4.7",
		WANMAC:           "00:11:22:33:44:55",
		GuestWiFiEnabled: true,
		Nodes: []model.Node{
			{
				UniqueID:        "uuid-primary",
				Name:            "Front Room",
				Type:            model.NodeTypePrimary,
				Status:          true,
				IsAuthority:     true,
				Manufacturer:    "Linksys",
				Model:           "WHW03",
				Serial:          "SER123",
				FirmwareVersion: "2.1.18.202175",
				Interfaces: []model.Interface{
					{MAC: "aa:bb:cc:dd:ee:01", Type: "wired"},
				},
				ConnectedAdapters: []model.Adapter{
					{MAC: "aa:bb:cc:dd:ee:01", IP: "192.168.1.1"},
				},
			},
		},
		Devices: []model.Device{
			{
				UniqueID: "uuid-phone",
				Name:     "My Phone",
				Status:   true,
				Serial:   "PHONE9",
				Interfaces: []model.Interface{
					{MAC: "aa:bb:cc:dd:ee:50", Type: "wireless", Band: "2.4GHz"},
				},
			},
		},
		PolledAt: time.Date(2021, 9, 15, 12, 43, 21, 0, time.UTC),
	}
}

func configFixture() config.Config {
	cfg := config.Config{
		Mesh: &config.MeshConfig{
			Node:     "192.168.1.1",
			Password: "hunter2",
		},
		Bridge: &config.BridgeConfig{},
	}
	config.ApplyDefaults(&cfg)
	return cfg
}

func TestBuild_RedactsSensitiveFields(t *testing.T) {
	t.Parallel()

	payload, err := Build(configFixture(), snapshotFixture())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	meshCfg, ok := payload.Config["mesh"].(map[string]any)
	if !ok {
		t.Fatalf("config mesh section missing: %+v", payload.Config)
	}
	if meshCfg["password"] != Redacted {
		t.Fatalf("password=%v", meshCfg["password"])
	}

	if payload.Data.Mesh["wan_ip"] != Redacted || payload.Data.Mesh["wan_mac"] != Redacted {
		t.Fatalf("wan fields not redacted: %+v", payload.Data.Mesh)
	}
	if payload.Data.Mesh["wan_status"] != true {
		t.Fatalf("wan_status=%v", payload.Data.Mesh["wan_status"])
	}

	node := payload.Data.Nodes[0]
	if node["unique_id"] != Redacted || node["serial"] != Redacted {
		t.Fatalf("node identity not redacted: %+v", node)
	}
	if node["name"] != "Front Room" || node["firmware_version"] != "2.1.18.202175" {
		t.Fatalf("node detail lost: %+v", node)
	}
	adapters := node["connected_adapters"].([]any)
	if adapters[0].(map[string]any)["mac"] != Redacted {
		t.Fatalf("adapter mac not redacted: %+v", adapters[0])
	}

	device := payload.Data.Devices[0]
	if device["unique_id"] != Redacted || device["serial"] != Redacted {
		t.Fatalf("device identity not redacted: %+v", device)
	}
	network := device["network"].([]any)
	iface := network[0].(map[string]any)
	if iface["mac"] != Redacted {
		t.Fatalf("interface mac not redacted: %+v", iface)
	}
	if iface["band"] != "2.4GHz" {
		t.Fatalf("band lost: %+v", iface)
	}
}

func TestBuild_NilSnapshot(t *testing.T) {
	t.Parallel()

	payload, err := Build(configFixture(), nil)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	if payload.Data.Mesh != nil || payload.Data.Nodes != nil {
		t.Fatalf("expected empty data: %+v", payload.Data)
	}
	if payload.Host.BridgeVersion != Version {
		t.Fatalf("version=%q", payload.Host.BridgeVersion)
	}
	if payload.Manifest.Domain != "linksys_velop" {
		t.Fatalf("domain=%q", payload.Manifest.Domain)
	}
}

func TestExamplePayload(t *testing.T) {
	t.Parallel()

	raw, err := os.ReadFile(filepath.Join("testdata", "diagnostics.json"))
	if err != nil {
		t.Fatalf("read example: %v", err)
	}

	var payload Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("example is not valid JSON: %v", err)
	}

	if len(payload.Data.Nodes) < 2 {
		t.Fatalf("nodes=%d", len(payload.Data.Nodes))
	}

	nodeFields := []string{
		"unique_id", "name", "type", "status", "is_authority",
		"manufacturer", "model", "serial", "firmware_version",
		"network", "connected_adapters",
	}
	for _, node := range payload.Data.Nodes {
		for _, field := range nodeFields {
			if _, ok := node[field]; !ok {
				t.Fatalf("node %v missing %q", node["name"], field)
			}
		}
		if node["unique_id"] != Redacted || node["serial"] != Redacted {
			t.Fatalf("node %v identity not redacted", node["name"])
		}
	}

	secondary := payload.Data.Nodes[1]
	backhaul, ok := secondary["backhaul"].(map[string]any)
	if !ok {
		t.Fatalf("secondary missing backhaul: %+v", secondary)
	}
	if backhaul["connection_type"] != "wireless" {
		t.Fatalf("backhaul=%+v", backhaul)
	}

	deviceFields := []string{"unique_id", "name", "status", "network", "connected_adapters"}
	for _, device := range payload.Data.Devices {
		for _, field := range deviceFields {
			if _, ok := device[field]; !ok {
				t.Fatalf("device %v missing %q", device["name"], field)
			}
		}
		if device["unique_id"] != Redacted {
			t.Fatalf("device %v identity not redacted", device["name"])
		}
	}

	meshCfg := payload.Config["mesh"].(map[string]any)
	if meshCfg["password"] != Redacted {
		t.Fatalf("example password=%v", meshCfg["password"])
	}
}
