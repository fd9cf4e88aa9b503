package bridge

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/matthiufungho/linksys-velop/internal/config"
	"github.com/matthiufungho/linksys-velop/internal/event"
	"github.com/matthiufungho/linksys-velop/internal/metrics"
	"github.com/matthiufungho/linksys-velop/internal/model"
	"github.com/matthiufungho/linksys-velop/internal/store"
)

// registryFile is the presence registry inside the data directory.
const registryFile = "devices.yaml"

// fastPollInterval drives the shortened poll cycle while a speed test or
// firmware check is in flight.
const fastPollInterval = time.Second

// Mesh is the subset of mesh operations the bridge loop drives.
type Mesh interface {
	GatherDetails(ctx context.Context) (*model.Mesh, error)
	Devices(ctx context.Context) ([]model.Device, error)
	Host() string
}

// Bridge polls the mesh on an interval, tracks device presence and turns
// snapshot changes into events on the bus.
type Bridge struct {
	mesh Mesh
	bus  *event.Bus
	cfg  config.BridgeConfig
	log  *logrus.Entry

	registryPath string

	// mu guards registry, prev and lastRecorded: the loop mutates them
	// while the HTTP server reads through Snapshot and Tracked.
	mu           sync.Mutex
	registry     *store.Registry
	prev         *model.Mesh
	lastRecorded time.Time
}

// New creates a bridge and loads the persisted presence registry.
func New(meshClient Mesh, bus *event.Bus, cfg config.BridgeConfig, log *logrus.Logger) (*Bridge, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}

	registryPath := filepath.Join(cfg.DataDir, registryFile)
	registry, err := store.LoadRegistry(registryPath)
	if err != nil {
		return nil, err
	}

	return &Bridge{
		mesh:         meshClient,
		bus:          bus,
		cfg:          cfg,
		log:          log.WithField("component", "bridge"),
		registryPath: registryPath,
		registry:     registry,
	}, nil
}

// Snapshot returns the most recent snapshot the loop gathered, or nil
// before the first poll.
func (b *Bridge) Snapshot() *model.Mesh {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prev
}

// Tracked returns a copy of the presence registry entries.
func (b *Bridge) Tracked() []store.TrackedDevice {
	b.mu.Lock()
	defer b.mu.Unlock()
	devices := make([]store.TrackedDevice, len(b.registry.Devices))
	copy(devices, b.registry.Devices)
	return devices
}

// Run starts the poll loop and blocks until ctx is cancelled. The first
// poll happens immediately so consumers don't wait a full interval for
// state.
func (b *Bridge) Run(ctx context.Context) error {
	if err := b.PollOnce(ctx); err != nil {
		b.log.WithError(err).Warn("initial poll failed")
	}

	pollTicker := time.NewTicker(time.Duration(b.cfg.PollIntervalSec) * time.Second)
	defer pollTicker.Stop()
	trackerTicker := time.NewTicker(time.Duration(b.cfg.TrackerIntervalSec) * time.Second)
	defer trackerTicker.Stop()
	fastTicker := time.NewTicker(fastPollInterval)
	defer fastTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pollTicker.C:
			if err := b.PollOnce(ctx); err != nil {
				b.log.WithError(err).Warn("poll failed")
			}
		case <-fastTicker.C:
			if !b.Busy() {
				break
			}
			if err := b.PollOnce(ctx); err != nil {
				b.log.WithError(err).Warn("fast poll failed")
			}
		case <-trackerTicker.C:
			if err := b.TrackOnce(ctx, time.Now().UTC()); err != nil {
				b.log.WithError(err).Warn("presence track failed")
			}
		}
	}
}

// Busy reports whether an asynchronous mesh operation is in flight and the
// loop should poll on the fast interval.
func (b *Bridge) Busy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.prev != nil && (b.prev.SpeedtestStage != "" || b.prev.CheckForUpdatesRunning)
}

// PollOnce gathers a full snapshot, publishes the events the change implies
// and records finished speed tests to the history file.
func (b *Bridge) PollOnce(ctx context.Context) error {
	snapshot, err := b.mesh.GatherDetails(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	for _, e := range diffSnapshots(b.prev, snapshot) {
		b.publish(e)
	}
	b.recordSpeedtest(snapshot)

	b.prev = snapshot
	return nil
}

// TrackOnce refreshes presence for the configured tracked devices using
// the cheap device-list call, persists the registry and publishes
// home/away transitions.
func (b *Bridge) TrackOnce(ctx context.Context, now time.Time) error {
	if len(b.cfg.TrackedDevices) == 0 {
		return nil
	}

	devices, err := b.mesh.Devices(ctx)
	if err != nil {
		return err
	}

	b.mu.Lock()
	events := updatePresence(b.registry, devices, b.cfg.TrackedDevices, time.Duration(b.cfg.ConsiderHomeSec)*time.Second, now)
	err = store.SaveRegistry(b.registryPath, b.registry)
	b.mu.Unlock()
	if err != nil {
		b.log.WithError(err).Warn("presence registry save failed")
	}
	for _, e := range events {
		b.publish(e)
	}
	return nil
}

func (b *Bridge) publish(e event.Event) {
	b.bus.Publish(e)
	b.log.WithFields(logrus.Fields{"event": e.Type, "payload": e.Payload}).Debug("published event")
}

// recordSpeedtest appends a newly finished speed test to the CSV history
// and announces it. Results carry the timestamp the firmware assigned, so
// a repeat of the latest result is skipped by timestamp.
func (b *Bridge) recordSpeedtest(snapshot *model.Mesh) {
	if b.prev != nil && b.prev.SpeedtestStage != snapshot.SpeedtestStage {
		b.publish(event.New(event.TypeSpeedtestStatus, map[string]any{
			"stage": snapshot.SpeedtestStage,
		}))
	}
	if b.prev != nil && b.prev.CheckForUpdatesRunning != snapshot.CheckForUpdatesRunning {
		b.publish(event.New(event.TypeUpdateCheck, map[string]any{
			"running": snapshot.CheckForUpdatesRunning,
		}))
	}

	latest := snapshot.LatestSpeedtest
	if latest == nil || snapshot.SpeedtestStage != "" {
		return
	}
	if !latest.Timestamp.After(b.lastRecorded) {
		return
	}
	if b.prev == nil {
		// First poll only establishes the baseline; a result that predates
		// this process is not a new run.
		b.lastRecorded = latest.Timestamp
		return
	}

	if b.cfg.SpeedtestHistory != "" {
		if err := metrics.AppendCSV(b.cfg.SpeedtestHistory, []model.SpeedtestResult{*latest}); err != nil {
			b.log.WithError(err).Warn("speedtest history append failed")
		}
	}
	b.lastRecorded = latest.Timestamp
	b.publish(event.New(event.TypeSpeedtestResults, map[string]any{
		"timestamp":     latest.Timestamp,
		"exit_code":     latest.ExitCode,
		"latency_ms":    latest.LatencyMs,
		"download_mbps": latest.DownloadMbps,
		"upload_mbps":   latest.UploadMbps,
	}))
}

// diffSnapshots derives events from the change between two polls. The
// first poll has no previous snapshot and produces no events.
func diffSnapshots(prev, next *model.Mesh) []event.Event {
	if prev == nil || next == nil {
		return nil
	}

	var events []event.Event

	knownNodes := make(map[string]bool, len(prev.Nodes))
	for _, node := range prev.Nodes {
		knownNodes[node.UniqueID] = true
	}
	for _, node := range next.Nodes {
		if knownNodes[node.UniqueID] {
			continue
		}
		events = append(events, event.New(event.TypeNewNode, map[string]any{
			"name": node.Name,
			"type": node.Type,
		}))
	}

	prevPrimary := prev.PrimaryNode()
	nextPrimary := next.PrimaryNode()
	if prevPrimary != nil && nextPrimary != nil && prevPrimary.UniqueID != nextPrimary.UniqueID {
		events = append(events, event.New(event.TypeNewPrimaryNode, map[string]any{
			"name": nextPrimary.Name,
		}))
	}

	knownDevices := make(map[string]bool, len(prev.Devices))
	for _, device := range prev.Devices {
		knownDevices[device.UniqueID] = true
	}
	for _, device := range next.Devices {
		if knownDevices[device.UniqueID] {
			continue
		}
		events = append(events, event.New(event.TypeNewDevice, map[string]any{
			"name":      device.Name,
			"unique_id": device.UniqueID,
			"parent":    device.ParentName,
		}))
	}

	return events
}

// updatePresence reconciles the registry against the current device list.
// A device goes home as soon as it is seen online and goes away only after
// it has been offline for the consider-home window.
func updatePresence(reg *store.Registry, devices []model.Device, tracked []string, considerHome time.Duration, now time.Time) []event.Event {
	var events []event.Event

	for _, id := range tracked {
		entry := reg.Find(id)
		if entry == nil {
			reg.Devices = append(reg.Devices, store.TrackedDevice{ID: id})
			entry = &reg.Devices[len(reg.Devices)-1]
		}

		device := deviceByIDOrName(devices, id)
		online := device != nil && device.Status
		if device != nil {
			entry.Name = device.Name
		}

		switch {
		case online:
			entry.LastSeenAt = now
			if !entry.Home {
				entry.Home = true
				events = append(events, event.New(event.TypeDeviceHome, map[string]any{
					"device": entry.Name,
					"id":     entry.ID,
				}))
			}
		case entry.Home && now.Sub(entry.LastSeenAt) >= considerHome:
			entry.Home = false
			events = append(events, event.New(event.TypeDeviceAway, map[string]any{
				"device": entry.Name,
				"id":     entry.ID,
			}))
		}
	}

	return events
}

func deviceByIDOrName(devices []model.Device, id string) *model.Device {
	for i := range devices {
		if devices[i].UniqueID == id {
			return &devices[i]
		}
	}
	for i := range devices {
		if devices[i].Name == id {
			return &devices[i]
		}
	}
	return nil
}
