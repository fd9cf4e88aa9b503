package diagnostics

import (
	"encoding/json"
	"runtime"

	"github.com/matthiufungho/linksys-velop/internal/actions"
	"github.com/matthiufungho/linksys-velop/internal/config"
	"github.com/matthiufungho/linksys-velop/internal/model"
)

// Redacted replaces sensitive values in the support payload.
const Redacted = "**REDACTED**"

// Version is the bridge release the payload reports.
const Version = "1.2.0"

// ssdpST is the discovery descriptor Velop nodes answer to.
const ssdpST = "urn:schemas-upnp-org:device:InternetGatewayDevice:2"

// redactedKeys are JSON field names whose values are replaced wholesale.
var redactedKeys = map[string]bool{
	"serial":    true,
	"mac":       true,
	"unique_id": true,
	"wan_ip":    true,
	"wan_mac":   true,
}

// Manifest describes the integration to the host platform.
type Manifest struct {
	Domain       string              `json:"domain"`
	Dependencies []string            `json:"dependencies"`
	SSDP         []map[string]string `json:"ssdp"`
	Platforms    []string            `json:"platforms"`
}

// HostInfo is the environment metadata included for support purposes.
type HostInfo struct {
	BridgeVersion string `json:"bridge_version"`
	GoVersion     string `json:"go_version"`
	OS            string `json:"os"`
	Arch          string `json:"arch"`
}

// Data is the sanitized state dump: the mesh registry entry and the node
// snapshots.
type Data struct {
	Mesh    map[string]any   `json:"mesh"`
	Nodes   []map[string]any `json:"nodes"`
	Devices []map[string]any `json:"devices"`
}

// Payload is the full diagnostics document. It is produced for humans and
// support tooling; nothing in the bridge parses it back.
type Payload struct {
	Host     HostInfo       `json:"host"`
	Manifest Manifest       `json:"manifest"`
	Config   map[string]any `json:"config"`
	Data     Data           `json:"data"`
}

// Build assembles a sanitized payload from the current config and mesh
// snapshot. The snapshot may be nil before the first poll.
func Build(cfg config.Config, snapshot *model.Mesh) (Payload, error) {
	payload := Payload{
		Host: HostInfo{
			BridgeVersion: Version,
			GoVersion:     runtime.Version(),
			OS:            runtime.GOOS,
			Arch:          runtime.GOARCH,
		},
		Manifest: Manifest{
			Domain:       actions.Integration,
			Dependencies: []string{"jnap"},
			SSDP:         []map[string]string{{"st": ssdpST, "manufacturer": actions.Manufacturer}},
			Platforms:    []string{"binary_sensor", "button", "device_tracker", "select", "sensor", "switch", "update"},
		},
		Config: sanitizeConfig(cfg),
	}

	if snapshot == nil {
		return payload, nil
	}

	meshDoc, err := toDocument(struct {
		ConnectedNode          string `json:"connected_node"`
		WANStatus              bool   `json:"wan_status"`
		WANIP                  string `json:"wan_ip"`
		WANMAC                 string `json:"wan_mac"`
		GuestWiFiEnabled       bool   `json:"guest_wifi_enabled"`
		ParentalControlEnabled bool   `json:"parental_control_enabled"`
		NodeCount              int    `json:"node_count"`
		DeviceCount            int    `json:"device_count"`
	}{
		ConnectedNode:          snapshot.ConnectedNode,
		WANStatus:              snapshot.WANStatus,
		WANIP:                  snapshot.WANIP,
		WANMAC:                 snapshot.WANMAC,
		GuestWiFiEnabled:       snapshot.GuestWiFiEnabled,
		ParentalControlEnabled: snapshot.ParentalControlEnabled,
		NodeCount:              len(snapshot.Nodes),
		DeviceCount:            len(snapshot.Devices),
	})
	if err != nil {
		return Payload{}, err
	}
	payload.Data.Mesh = redact(meshDoc).(map[string]any)

	for _, node := range snapshot.Nodes {
		doc, err := toDocument(node)
		if err != nil {
			return Payload{}, err
		}
		payload.Data.Nodes = append(payload.Data.Nodes, redact(doc).(map[string]any))
	}
	for _, device := range snapshot.Devices {
		doc, err := toDocument(device)
		if err != nil {
			return Payload{}, err
		}
		payload.Data.Devices = append(payload.Data.Devices, redact(doc).(map[string]any))
	}

	return payload, nil
}

// sanitizeConfig keeps the shape of the config but drops secrets entirely.
func sanitizeConfig(cfg config.Config) map[string]any {
	out := map[string]any{}
	if cfg.Mesh != nil {
		out["mesh"] = map[string]any{
			"node":                cfg.Mesh.Node,
			"password":            Redacted,
			"request_timeout_sec": cfg.Mesh.RequestTimeoutSec,
		}
	}
	if cfg.Bridge != nil {
		out["bridge"] = map[string]any{
			"listen":               cfg.Bridge.Listen,
			"poll_interval_sec":    cfg.Bridge.PollIntervalSec,
			"tracker_interval_sec": cfg.Bridge.TrackerIntervalSec,
			"consider_home_sec":    cfg.Bridge.ConsiderHomeSec,
			"tracked_devices":      len(cfg.Bridge.TrackedDevices),
		}
	}
	return out
}

func toDocument(v any) (map[string]any, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return doc, nil
}

// redact walks the document and replaces values under sensitive keys.
func redact(value any) any {
	switch typed := value.(type) {
	case map[string]any:
		for key, inner := range typed {
			if redactedKeys[key] {
				typed[key] = Redacted
				continue
			}
			typed[key] = redact(inner)
		}
		return typed
	case []any:
		for i := range typed {
			typed[i] = redact(typed[i])
		}
		return typed
	default:
		return value
	}
}
