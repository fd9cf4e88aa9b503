package model

import (
	"strings"
	"time"
)

// Node types as reported by the mesh.
const (
	NodeTypePrimary   = "primary"
	NodeTypeSecondary = "secondary"
)

// Adapter is an active network connection of a node or device.
type Adapter struct {
	MAC          string `json:"mac"`
	IP           string `json:"ip"`
	GuestNetwork bool   `json:"guest_network,omitempty"`
}

// Interface is a network interface known to the mesh for a unit.
type Interface struct {
	MAC  string `json:"mac"`
	Type string `json:"type"` // wired|wireless
	Band string `json:"band,omitempty"`
}

// Backhaul describes the link between a secondary node and its parent.
type Backhaul struct {
	ParentIP       string    `json:"parent_ip"`
	ConnectionType string    `json:"connection_type"` // wired|wireless
	RSSI           int       `json:"rssi,omitempty"`
	Channel        int       `json:"channel,omitempty"`
	SpeedMbps      float64   `json:"speed_mbps"`
	LastChecked    time.Time `json:"last_checked"`
}

// ConnectedDevice is the per-node view of a client device.
type ConnectedDevice struct {
	Name         string `json:"name"`
	IP           string `json:"ip"`
	Type         string `json:"type"` // wired|wireless
	GuestNetwork bool   `json:"guest_network"`
}

// Node is one physical unit participating in the mesh.
type Node struct {
	UniqueID          string            `json:"unique_id"`
	Name              string            `json:"name"`
	Type              string            `json:"type"` // primary|secondary
	Status            bool              `json:"status"`
	IsAuthority       bool              `json:"is_authority"`
	Manufacturer      string            `json:"manufacturer"`
	Model             string            `json:"model"`
	Serial            string            `json:"serial"`
	HardwareVersion   string            `json:"hardware_version"`
	FirmwareVersion   string            `json:"firmware_version"`
	FirmwareDate      string            `json:"firmware_date"`
	LatestFirmware    string            `json:"latest_firmware,omitempty"`
	LastUpdateCheck   time.Time         `json:"last_update_check,omitempty"`
	ParentName        string            `json:"parent_name,omitempty"`
	ParentIP          string            `json:"parent_ip,omitempty"`
	Backhaul          *Backhaul         `json:"backhaul,omitempty"`
	Interfaces        []Interface       `json:"network"`
	ConnectedAdapters []Adapter         `json:"connected_adapters"`
	Properties        map[string]string `json:"properties,omitempty"`
	ConnectedDevices  []ConnectedDevice `json:"connected_devices"`
}

// Device is a client device connected to the mesh.
type Device struct {
	UniqueID          string            `json:"unique_id"`
	Name              string            `json:"name"`
	Status            bool              `json:"status"`
	Manufacturer      string            `json:"manufacturer,omitempty"`
	Model             string            `json:"model,omitempty"`
	Serial            string            `json:"serial,omitempty"`
	Description       string            `json:"description,omitempty"`
	OperatingSystem   string            `json:"operating_system,omitempty"`
	ParentName        string            `json:"parent_name,omitempty"`
	Interfaces        []Interface       `json:"network"`
	ConnectedAdapters []Adapter         `json:"connected_adapters"`
	Properties        map[string]string `json:"properties,omitempty"`
}

// GuestNetwork is one guest SSID on the mesh.
type GuestNetwork struct {
	SSID   string `json:"ssid"`
	Band   string `json:"band"`
	Hidden bool   `json:"hidden,omitempty"`
}

// SpeedtestResult is one WAN speed test run.
type SpeedtestResult struct {
	Timestamp    time.Time `json:"timestamp"`
	ExitCode     string    `json:"exit_code"`
	LatencyMs    float64   `json:"latency_ms"`
	DownloadMbps float64   `json:"download_mbps"`
	UploadMbps   float64   `json:"upload_mbps"`
	ServerID     string    `json:"server_id,omitempty"`
}

// Mesh is a full snapshot of the mesh state as of the last poll.
type Mesh struct {
	ConnectedNode          string           `json:"connected_node"`
	WANStatus              bool             `json:"wan_status"`
	WANIP                  string           `json:"wan_ip"`
	WANDNS                 []string         `json:"wan_dns"`
	WANMAC                 string           `json:"wan_mac"`
	GuestWiFiEnabled       bool             `json:"guest_wifi_enabled"`
	GuestNetworks          []GuestNetwork   `json:"guest_wifi_details"`
	ParentalControlEnabled bool             `json:"parental_control_enabled"`
	CheckForUpdatesRunning bool             `json:"check_for_updates_running"`
	SpeedtestStage         string           `json:"speedtest_stage,omitempty"`
	LatestSpeedtest        *SpeedtestResult `json:"latest_speedtest,omitempty"`
	Nodes                  []Node           `json:"nodes"`
	Devices                []Device         `json:"devices"`
	PolledAt               time.Time        `json:"polled_at"`
}

// NodeByName returns the named node, matching the user-assigned name
// case-insensitively. Returns nil when no node matches.
func (m *Mesh) NodeByName(name string) *Node {
	for i := range m.Nodes {
		if strings.EqualFold(m.Nodes[i].Name, name) {
			return &m.Nodes[i]
		}
	}
	return nil
}

// PrimaryNode returns the mesh's primary node, or nil when the poll has not
// seen one yet.
func (m *Mesh) PrimaryNode() *Node {
	for i := range m.Nodes {
		if m.Nodes[i].Type == NodeTypePrimary {
			return &m.Nodes[i]
		}
	}
	return nil
}

// DeviceByID returns the device with the given unique ID.
func (m *Mesh) DeviceByID(id string) *Device {
	for i := range m.Devices {
		if m.Devices[i].UniqueID == id {
			return &m.Devices[i]
		}
	}
	return nil
}

// DeviceByName returns the first device matching name case-insensitively.
func (m *Mesh) DeviceByName(name string) *Device {
	for i := range m.Devices {
		if strings.EqualFold(m.Devices[i].Name, name) {
			return &m.Devices[i]
		}
	}
	return nil
}
