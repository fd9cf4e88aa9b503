package mesh

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/matthiufungho/linksys-velop/internal/model"
)

// Raw wire types for the JNAP outputs this package consumes. Field names
// follow the firmware's camelCase schema.

type rawDeviceList struct {
	Revision int         `json:"revision"`
	Devices  []rawDevice `json:"devices"`
}

type rawDevice struct {
	DeviceID     string `json:"deviceID"`
	IsAuthority  bool   `json:"isAuthority"`
	NodeType     string `json:"nodeType"` // "Master"|"Slave", absent for client devices
	FriendlyName string `json:"friendlyName"`
	Model        struct {
		DeviceType      string `json:"deviceType"`
		Manufacturer    string `json:"manufacturer"`
		ModelNumber     string `json:"modelNumber"`
		HardwareVersion string `json:"hardwareVersion"`
		Description     string `json:"description"`
	} `json:"model"`
	Unit struct {
		SerialNumber    string `json:"serialNumber"`
		FirmwareVersion string `json:"firmwareVersion"`
		FirmwareDate    string `json:"firmwareDate"`
		OperatingSystem string `json:"operatingSystem"`
	} `json:"unit"`
	KnownInterfaces []struct {
		MacAddress    string `json:"macAddress"`
		InterfaceType string `json:"interfaceType"`
		Band          string `json:"band"`
	} `json:"knownInterfaces"`
	Connections []struct {
		MacAddress     string `json:"macAddress"`
		IPAddress      string `json:"ipAddress"`
		ParentDeviceID string `json:"parentDeviceID"`
		IsGuest        bool   `json:"isGuest"`
	} `json:"connections"`
	Properties []struct {
		Name  string `json:"name"`
		Value string `json:"value"`
	} `json:"properties"`
}

type rawBackhaulInfo struct {
	BackhaulDevices []struct {
		DeviceUUID             string `json:"deviceUUID"`
		IPAddress              string `json:"ipAddress"`
		ParentIPAddress        string `json:"parentIPAddress"`
		ConnectionType         string `json:"connectionType"`
		SpeedMbps              string `json:"speedMbps"`
		Timestamp              string `json:"timestamp"`
		WirelessConnectionInfo *struct {
			RadioID     string `json:"radioID"`
			Channel     int    `json:"channel"`
			APRSSI      int    `json:"apRSSI"`
			StationRSSI int    `json:"stationRSSI"`
		} `json:"wirelessConnectionInfo"`
	} `json:"backhaulDevices"`
}

type rawWANStatus struct {
	WANStatus     string `json:"wanStatus"`
	MACAddress    string `json:"macAddress"`
	WANConnection struct {
		IPAddress  string `json:"ipAddress"`
		Gateway    string `json:"gateway"`
		DNSServer1 string `json:"dnsServer1"`
		DNSServer2 string `json:"dnsServer2"`
		DNSServer3 string `json:"dnsServer3"`
	} `json:"wanConnection"`
}

type rawGuestSettings struct {
	IsGuestNetworkEnabled bool `json:"isGuestNetworkEnabled"`
	Radios                []struct {
		RadioID            string `json:"radioID"`
		IsEnabled          bool   `json:"isEnabled"`
		GuestSSID          string `json:"guestSSID"`
		BroadcastGuestSSID bool   `json:"broadcastGuestSSID"`
	} `json:"radios"`
}

type rawParentalControl struct {
	IsParentalControlEnabled bool `json:"isParentalControlEnabled"`
}

type rawUpdateStatus struct {
	FirmwareUpdateStatus []struct {
		DeviceUUID              string `json:"deviceUUID"`
		LastSuccessfulCheckTime string `json:"lastSuccessfulCheckTime"`
		AvailableUpdate         *struct {
			FirmwareVersion string `json:"firmwareVersion"`
			FirmwareDate    string `json:"firmwareDate"`
		} `json:"availableUpdate"`
		PendingOperation *struct {
			Operation       string `json:"operation"`
			ProgressPercent int    `json:"progressPercent"`
		} `json:"pendingOperation"`
	} `json:"firmwareUpdateStatus"`
}

type rawHealthCheckStatus struct {
	HealthCheckModuleCurrentlyRunning string `json:"healthCheckModuleCurrentlyRunning"`
}

type rawHealthCheckResults struct {
	HealthCheckResults []struct {
		Timestamp       string `json:"timestamp"`
		SpeedTestResult *struct {
			ExitCode          string  `json:"exitCode"`
			Latency           float64 `json:"latency"`
			UploadBandwidth   float64 `json:"uploadBandwidth"`   // kbit/s
			DownloadBandwidth float64 `json:"downloadBandwidth"` // kbit/s
			ServerID          string  `json:"serverID"`
		} `json:"speedTestResult"`
	} `json:"healthCheckResults"`
}

const (
	nodeTypeMaster             = "Master"
	propertyUserDeviceName     = "userDeviceName"
	propertyUserDeviceLocation = "userDeviceLocation"
)

// buildSnapshot assembles a model.Mesh from the raw poll outputs. Any of
// the optional outputs may be nil when the corresponding action failed.
func buildSnapshot(
	host string,
	devices *rawDeviceList,
	backhaul *rawBackhaulInfo,
	wan *rawWANStatus,
	guest *rawGuestSettings,
	parental *rawParentalControl,
	updates *rawUpdateStatus,
	hcStatus *rawHealthCheckStatus,
	hcResults *rawHealthCheckResults,
	now time.Time,
) *model.Mesh {
	snapshot := &model.Mesh{
		ConnectedNode: host,
		PolledAt:      now,
	}

	var nodes []model.Node
	var clients []model.Device
	nodeNameByID := map[string]string{}
	nodeNameByIP := map[string]string{}

	for _, raw := range devices.Devices {
		if raw.NodeType != "" {
			node := parseNode(raw)
			nodeNameByID[raw.DeviceID] = node.Name
			for _, adapter := range node.ConnectedAdapters {
				if adapter.IP != "" {
					nodeNameByIP[adapter.IP] = node.Name
				}
			}
			nodes = append(nodes, node)
			continue
		}
		clients = append(clients, parseDevice(raw))
	}

	// Client device parents come from the connection's parentDeviceID.
	parentByDeviceID := map[string]string{}
	for _, raw := range devices.Devices {
		if raw.NodeType != "" {
			continue
		}
		for _, conn := range raw.Connections {
			if conn.ParentDeviceID != "" {
				parentByDeviceID[raw.DeviceID] = nodeNameByID[conn.ParentDeviceID]
			}
		}
	}
	for i := range clients {
		clients[i].ParentName = parentByDeviceID[clients[i].UniqueID]
	}

	if backhaul != nil {
		applyBackhaul(nodes, backhaul, nodeNameByIP)
	}
	if updates != nil {
		applyUpdateStatus(nodes, updates)
		for _, status := range updates.FirmwareUpdateStatus {
			if status.PendingOperation != nil {
				snapshot.CheckForUpdatesRunning = true
			}
		}
	}

	attachConnectedDevices(nodes, clients)

	sort.Slice(nodes, func(i, j int) bool {
		// Primary first, then by name for stable output.
		if nodes[i].Type != nodes[j].Type {
			return nodes[i].Type == model.NodeTypePrimary
		}
		return nodes[i].Name < nodes[j].Name
	})
	sort.Slice(clients, func(i, j int) bool { return clients[i].Name < clients[j].Name })
	snapshot.Nodes = nodes
	snapshot.Devices = clients

	if wan != nil {
		snapshot.WANStatus = strings.EqualFold(wan.WANStatus, "Connected")
		snapshot.WANIP = wan.WANConnection.IPAddress
		snapshot.WANMAC = wan.MACAddress
		for _, dns := range []string{wan.WANConnection.DNSServer1, wan.WANConnection.DNSServer2, wan.WANConnection.DNSServer3} {
			if dns != "" {
				snapshot.WANDNS = append(snapshot.WANDNS, dns)
			}
		}
	}

	if guest != nil {
		snapshot.GuestWiFiEnabled = guest.IsGuestNetworkEnabled
		for _, radio := range guest.Radios {
			snapshot.GuestNetworks = append(snapshot.GuestNetworks, model.GuestNetwork{
				SSID:   radio.GuestSSID,
				Band:   bandFromRadioID(radio.RadioID),
				Hidden: !radio.BroadcastGuestSSID,
			})
		}
	}

	if parental != nil {
		snapshot.ParentalControlEnabled = parental.IsParentalControlEnabled
	}

	if hcStatus != nil && !strings.EqualFold(hcStatus.HealthCheckModuleCurrentlyRunning, "None") {
		snapshot.SpeedtestStage = hcStatus.HealthCheckModuleCurrentlyRunning
	}
	if hcResults != nil {
		snapshot.LatestSpeedtest = parseSpeedtestResults(hcResults)
	}

	return snapshot
}

func parseNode(raw rawDevice) model.Node {
	node := model.Node{
		UniqueID:        raw.DeviceID,
		Name:            raw.FriendlyName,
		Type:            model.NodeTypeSecondary,
		IsAuthority:     raw.IsAuthority,
		Manufacturer:    raw.Model.Manufacturer,
		Model:           raw.Model.ModelNumber,
		Serial:          raw.Unit.SerialNumber,
		HardwareVersion: raw.Model.HardwareVersion,
		FirmwareVersion: raw.Unit.FirmwareVersion,
		FirmwareDate:    raw.Unit.FirmwareDate,
		Properties:      parseProperties(raw),
	}
	if raw.NodeType == nodeTypeMaster {
		node.Type = model.NodeTypePrimary
	}
	if name := node.Properties[propertyUserDeviceName]; name != "" {
		node.Name = name
	}
	node.Interfaces = parseInterfaces(raw)
	node.ConnectedAdapters = parseAdapters(raw)
	node.Status = len(node.ConnectedAdapters) > 0
	return node
}

func parseDevice(raw rawDevice) model.Device {
	device := model.Device{
		UniqueID:        raw.DeviceID,
		Manufacturer:    raw.Model.Manufacturer,
		Model:           raw.Model.ModelNumber,
		Serial:          raw.Unit.SerialNumber,
		Description:     raw.Model.Description,
		OperatingSystem: raw.Unit.OperatingSystem,
		Properties:      parseProperties(raw),
	}
	device.Name = device.Properties[propertyUserDeviceName]
	if device.Name == "" {
		device.Name = raw.FriendlyName
	}
	if device.Name == "" {
		device.Name = "Network Device"
	}
	device.Interfaces = parseInterfaces(raw)
	device.ConnectedAdapters = parseAdapters(raw)
	device.Status = len(device.ConnectedAdapters) > 0
	return device
}

func parseProperties(raw rawDevice) map[string]string {
	if len(raw.Properties) == 0 {
		return nil
	}
	props := make(map[string]string, len(raw.Properties))
	for _, p := range raw.Properties {
		props[p.Name] = p.Value
	}
	return props
}

func parseInterfaces(raw rawDevice) []model.Interface {
	ifaces := make([]model.Interface, 0, len(raw.KnownInterfaces))
	for _, ki := range raw.KnownInterfaces {
		ifaces = append(ifaces, model.Interface{
			MAC:  ki.MacAddress,
			Type: strings.ToLower(ki.InterfaceType),
			Band: ki.Band,
		})
	}
	return ifaces
}

func parseAdapters(raw rawDevice) []model.Adapter {
	adapters := make([]model.Adapter, 0, len(raw.Connections))
	for _, conn := range raw.Connections {
		adapters = append(adapters, model.Adapter{
			MAC:          conn.MacAddress,
			IP:           conn.IPAddress,
			GuestNetwork: conn.IsGuest,
		})
	}
	return adapters
}

func applyBackhaul(nodes []model.Node, backhaul *rawBackhaulInfo, nodeNameByIP map[string]string) {
	byUUID := map[string]int{}
	for i := range nodes {
		byUUID[nodes[i].UniqueID] = i
	}

	for _, bh := range backhaul.BackhaulDevices {
		idx, ok := byUUID[bh.DeviceUUID]
		if !ok {
			continue
		}
		speed, _ := strconv.ParseFloat(bh.SpeedMbps, 64)
		link := &model.Backhaul{
			ParentIP:       bh.ParentIPAddress,
			ConnectionType: strings.ToLower(bh.ConnectionType),
			SpeedMbps:      speed,
		}
		if ts, err := time.Parse(time.RFC3339, bh.Timestamp); err == nil {
			link.LastChecked = ts.UTC()
		}
		if bh.WirelessConnectionInfo != nil {
			link.RSSI = bh.WirelessConnectionInfo.StationRSSI
			link.Channel = bh.WirelessConnectionInfo.Channel
		}
		nodes[idx].Backhaul = link
		nodes[idx].ParentIP = bh.ParentIPAddress
		nodes[idx].ParentName = nodeNameByIP[bh.ParentIPAddress]
	}
}

func applyUpdateStatus(nodes []model.Node, updates *rawUpdateStatus) {
	byUUID := map[string]int{}
	for i := range nodes {
		byUUID[nodes[i].UniqueID] = i
	}

	for _, status := range updates.FirmwareUpdateStatus {
		idx, ok := byUUID[status.DeviceUUID]
		if !ok {
			continue
		}
		if ts, err := time.Parse(time.RFC3339, status.LastSuccessfulCheckTime); err == nil {
			nodes[idx].LastUpdateCheck = ts.UTC()
		}
		if status.AvailableUpdate != nil {
			nodes[idx].LatestFirmware = status.AvailableUpdate.FirmwareVersion
		} else {
			nodes[idx].LatestFirmware = nodes[idx].FirmwareVersion
		}
	}
}

// attachConnectedDevices fills each node's view of the client devices that
// connect through it.
func attachConnectedDevices(nodes []model.Node, clients []model.Device) {
	byName := map[string]int{}
	for i := range nodes {
		byName[nodes[i].Name] = i
	}

	for _, client := range clients {
		if !client.Status || client.ParentName == "" {
			continue
		}
		idx, ok := byName[client.ParentName]
		if !ok {
			continue
		}
		entry := model.ConnectedDevice{Name: client.Name}
		if len(client.ConnectedAdapters) > 0 {
			entry.IP = client.ConnectedAdapters[0].IP
			entry.GuestNetwork = client.ConnectedAdapters[0].GuestNetwork
		}
		if len(client.Interfaces) > 0 {
			entry.Type = client.Interfaces[0].Type
		}
		nodes[idx].ConnectedDevices = append(nodes[idx].ConnectedDevices, entry)
	}
}

func parseSpeedtestResults(results *rawHealthCheckResults) *model.SpeedtestResult {
	for _, entry := range results.HealthCheckResults {
		if entry.SpeedTestResult == nil {
			continue
		}
		st := entry.SpeedTestResult
		result := &model.SpeedtestResult{
			ExitCode:     st.ExitCode,
			LatencyMs:    st.Latency,
			DownloadMbps: st.DownloadBandwidth / 1024,
			UploadMbps:   st.UploadBandwidth / 1024,
			ServerID:     st.ServerID,
		}
		if ts, err := time.Parse(time.RFC3339, entry.Timestamp); err == nil {
			result.Timestamp = ts.UTC()
		}
		return result
	}
	return nil
}

func bandFromRadioID(radioID string) string {
	switch {
	case strings.Contains(radioID, "5GH"):
		return "5GHz"
	case strings.Contains(radioID, "2.4GH"):
		return "2.4GHz"
	default:
		return radioID
	}
}
