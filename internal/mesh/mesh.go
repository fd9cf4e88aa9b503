package mesh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/matthiufungho/linksys-velop/internal/jnap"
	"github.com/matthiufungho/linksys-velop/internal/model"
)

// Errors surfaced by mesh operations.
var (
	ErrNoSnapshot        = errors.New("mesh: no snapshot gathered yet")
	ErrNodeNotFound      = errors.New("mesh: node not found")
	ErrDeviceNotFound    = errors.New("mesh: device not found")
	ErrDeviceIdentifier  = errors.New("mesh: a device id or device name is required")
	ErrDeviceOnline      = errors.New("mesh: device must be offline before it can be deleted")
	ErrAmbiguousDevice   = errors.New("mesh: device name matches more than one device")
	ErrPrimaryNotAllowed = errors.New("mesh: rebooting the primary node reboots the whole mesh; confirm with is_primary")
)

// Client manages a single Velop mesh through its primary node. It keeps the
// most recent snapshot for consumers that don't want to trigger a poll.
type Client struct {
	host     string
	password string
	timeout  time.Duration
	jnap     *jnap.Client
	log      *logrus.Entry

	mu      sync.RWMutex
	current *model.Mesh
}

// New creates a mesh client for the primary node at host.
func New(host, password string, timeout time.Duration, log *logrus.Logger) *Client {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Client{
		host:     host,
		password: password,
		timeout:  timeout,
		jnap:     jnap.NewClient(host, password, timeout),
		log:      log.WithField("mesh", host),
	}
}

// Current returns the latest snapshot, or nil before the first poll.
func (c *Client) Current() *model.Mesh {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// Host returns the address of the node the client talks to.
func (c *Client) Host() string { return c.host }

// GatherDetails polls the mesh and rebuilds the full snapshot in a single
// JNAP transaction. The device list is mandatory; everything else degrades
// to absent fields when the firmware rejects the action.
func (c *Client) GatherDetails(ctx context.Context) (*model.Mesh, error) {
	actions := []string{
		jnap.ActionGetDevices,
		jnap.ActionGetBackhaulInfo,
		jnap.ActionGetWANStatus,
		jnap.ActionGetGuestSettings,
		jnap.ActionGetParentalControl,
		jnap.ActionGetUpdateStatus,
		jnap.ActionGetHealthCheckStatus,
		jnap.ActionGetHealthCheckResults,
	}
	params := []any{
		nil, nil, nil, nil, nil, nil, nil,
		map[string]any{"includeModuleResults": true, "lastNumberOfResults": 1},
	}

	outputs, errs, err := c.jnap.Batch(ctx, actions, params)
	if err != nil {
		return nil, err
	}
	if errs[0] != nil {
		return nil, fmt.Errorf("device list: %w", errs[0])
	}

	var devices rawDeviceList
	if err := json.Unmarshal(outputs[0], &devices); err != nil {
		return nil, fmt.Errorf("%w: device list: %v", jnap.ErrBadResponse, err)
	}

	backhaul := decodeOptional[rawBackhaulInfo](c, actions[1], outputs[1], errs[1])
	wan := decodeOptional[rawWANStatus](c, actions[2], outputs[2], errs[2])
	guest := decodeOptional[rawGuestSettings](c, actions[3], outputs[3], errs[3])
	parental := decodeOptional[rawParentalControl](c, actions[4], outputs[4], errs[4])
	updates := decodeOptional[rawUpdateStatus](c, actions[5], outputs[5], errs[5])
	hcStatus := decodeOptional[rawHealthCheckStatus](c, actions[6], outputs[6], errs[6])
	hcResults := decodeOptional[rawHealthCheckResults](c, actions[7], outputs[7], errs[7])

	snapshot := buildSnapshot(c.host, &devices, backhaul, wan, guest, parental, updates, hcStatus, hcResults, time.Now().UTC())

	c.mu.Lock()
	c.current = snapshot
	c.mu.Unlock()

	c.log.WithFields(logrus.Fields{
		"nodes":   len(snapshot.Nodes),
		"devices": len(snapshot.Devices),
	}).Debug("gathered mesh details")
	return snapshot, nil
}

// Devices fetches only the client device list. It is the cheap call the
// presence tracker uses between full polls.
func (c *Client) Devices(ctx context.Context) ([]model.Device, error) {
	var list rawDeviceList
	if err := c.jnap.Do(ctx, jnap.ActionGetDevices, nil, &list); err != nil {
		return nil, err
	}
	devices := make([]model.Device, 0, len(list.Devices))
	for _, raw := range list.Devices {
		if raw.NodeType != "" {
			continue
		}
		devices = append(devices, parseDevice(raw))
	}
	return devices, nil
}

// CheckCredentials verifies the admin password against the node.
func (c *Client) CheckCredentials(ctx context.Context) error {
	return c.jnap.Do(ctx, jnap.ActionCheckPassword, nil, nil)
}

// CheckForUpdates asks every node to check for new firmware. The check runs
// asynchronously on the mesh; progress is visible through UpdateCheckRunning.
func (c *Client) CheckForUpdates(ctx context.Context) error {
	return c.jnap.Do(ctx, jnap.ActionUpdateFirmwareNow, map[string]any{"onlyCheck": true}, nil)
}

// UpdateCheckRunning reports whether a firmware check or install is still
// in flight on any node.
func (c *Client) UpdateCheckRunning(ctx context.Context) (bool, error) {
	var status rawUpdateStatus
	if err := c.jnap.Do(ctx, jnap.ActionGetUpdateStatus, nil, &status); err != nil {
		return false, err
	}
	for _, entry := range status.FirmwareUpdateStatus {
		if entry.PendingOperation != nil {
			return true, nil
		}
	}
	return false, nil
}

// DeleteDevice removes a device from the mesh's device list, addressed by
// unique ID or, failing that, by name. The device must be offline; the
// firmware rejects deleting a connected device and so does this client.
func (c *Client) DeleteDevice(ctx context.Context, deviceID, deviceName string) error {
	if deviceID == "" && deviceName == "" {
		return ErrDeviceIdentifier
	}

	snapshot := c.Current()
	if snapshot == nil {
		var err error
		if snapshot, err = c.GatherDetails(ctx); err != nil {
			return err
		}
	}

	var target *model.Device
	if deviceID != "" {
		target = snapshot.DeviceByID(deviceID)
	} else {
		matches := 0
		for i := range snapshot.Devices {
			if strings.EqualFold(snapshot.Devices[i].Name, deviceName) {
				target = &snapshot.Devices[i]
				matches++
			}
		}
		if matches > 1 {
			return fmt.Errorf("%w: %q", ErrAmbiguousDevice, deviceName)
		}
	}
	if target == nil {
		return fmt.Errorf("%w: id=%q name=%q", ErrDeviceNotFound, deviceID, deviceName)
	}
	if target.Status {
		return fmt.Errorf("%w: %s", ErrDeviceOnline, target.Name)
	}

	c.log.WithField("device", target.Name).Info("deleting device from mesh")
	return c.jnap.Do(ctx, jnap.ActionDeleteDevice, map[string]any{"deviceID": target.UniqueID}, nil)
}

// RebootNode reboots the named node. Secondary nodes are rebooted through
// their own address. Rebooting the primary takes the whole mesh down, so it
// must be confirmed with confirmPrimary; the secondaries are then rebooted
// first and the primary last, which matches the order the vendor app uses.
func (c *Client) RebootNode(ctx context.Context, nodeName string, confirmPrimary bool) error {
	snapshot := c.Current()
	if snapshot == nil {
		var err error
		if snapshot, err = c.GatherDetails(ctx); err != nil {
			return err
		}
	}

	node := snapshot.NodeByName(nodeName)
	if node == nil {
		return fmt.Errorf("%w: %q", ErrNodeNotFound, nodeName)
	}

	if node.Type != model.NodeTypePrimary {
		return c.rebootAddress(ctx, nodeAddress(node), node.Name)
	}

	if !confirmPrimary {
		return ErrPrimaryNotAllowed
	}

	for i := range snapshot.Nodes {
		secondary := &snapshot.Nodes[i]
		if secondary.Type == model.NodeTypePrimary || !secondary.Status {
			continue
		}
		if err := c.rebootAddress(ctx, nodeAddress(secondary), secondary.Name); err != nil {
			c.log.WithError(err).WithField("node", secondary.Name).Warn("secondary reboot failed, continuing cascade")
		}
	}
	return c.rebootAddress(ctx, nodeAddress(node), node.Name)
}

func (c *Client) rebootAddress(ctx context.Context, address, name string) error {
	if address == "" {
		return fmt.Errorf("%w: %q has no reachable address", ErrNodeNotFound, name)
	}
	c.log.WithField("node", name).Info("rebooting node")
	client := c.jnap
	if address != c.host {
		client = jnap.NewClient(address, c.password, c.timeout)
	}
	return client.Do(ctx, jnap.ActionReboot, nil, nil)
}

// StartSpeedtest kicks off a WAN speed test. The run is asynchronous;
// follow it with SpeedtestStage and fetch the outcome with
// LatestSpeedtestResult.
func (c *Client) StartSpeedtest(ctx context.Context) error {
	return c.jnap.Do(ctx, jnap.ActionRunHealthCheck, map[string]any{"runHealthCheckModule": "SpeedTest"}, nil)
}

// SpeedtestStage returns the module the health check is currently running,
// or "" when idle.
func (c *Client) SpeedtestStage(ctx context.Context) (string, error) {
	var status rawHealthCheckStatus
	if err := c.jnap.Do(ctx, jnap.ActionGetHealthCheckStatus, nil, &status); err != nil {
		return "", err
	}
	if status.HealthCheckModuleCurrentlyRunning == "None" {
		return "", nil
	}
	return status.HealthCheckModuleCurrentlyRunning, nil
}

// LatestSpeedtestResult fetches the most recent completed speed test.
func (c *Client) LatestSpeedtestResult(ctx context.Context) (*model.SpeedtestResult, error) {
	var results rawHealthCheckResults
	params := map[string]any{"includeModuleResults": true, "lastNumberOfResults": 1}
	if err := c.jnap.Do(ctx, jnap.ActionGetHealthCheckResults, params, &results); err != nil {
		return nil, err
	}
	return parseSpeedtestResults(&results), nil
}

// SetGuestWiFi enables or disables the guest network.
func (c *Client) SetGuestWiFi(ctx context.Context, enabled bool) error {
	var settings json.RawMessage
	if err := c.jnap.Do(ctx, jnap.ActionGetGuestSettings, nil, &settings); err != nil {
		return err
	}
	// The firmware requires the full settings object back with the flag
	// toggled, not a partial update.
	var body map[string]any
	if err := json.Unmarshal(settings, &body); err != nil {
		return fmt.Errorf("%w: guest settings: %v", jnap.ErrBadResponse, err)
	}
	body["isGuestNetworkEnabled"] = enabled
	return c.jnap.Do(ctx, jnap.ActionSetGuestSettings, body, nil)
}

// SetParentalControl enables or disables parental control.
func (c *Client) SetParentalControl(ctx context.Context, enabled bool) error {
	var settings json.RawMessage
	if err := c.jnap.Do(ctx, jnap.ActionGetParentalControl, nil, &settings); err != nil {
		return err
	}
	var body map[string]any
	if err := json.Unmarshal(settings, &body); err != nil {
		return fmt.Errorf("%w: parental control settings: %v", jnap.ErrBadResponse, err)
	}
	body["isParentalControlEnabled"] = enabled
	return c.jnap.Do(ctx, jnap.ActionSetParentalControl, body, nil)
}

func decodeOptional[T any](c *Client, action string, raw json.RawMessage, actionErr error) *T {
	if actionErr != nil {
		c.log.WithError(actionErr).WithField("action", action).Debug("optional poll action failed")
		return nil
	}
	if len(raw) == 0 {
		return nil
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		c.log.WithError(err).WithField("action", action).Warn("discarding undecodable poll output")
		return nil
	}
	return &out
}

func nodeAddress(node *model.Node) string {
	for _, adapter := range node.ConnectedAdapters {
		if adapter.IP != "" {
			return adapter.IP
		}
	}
	return ""
}
