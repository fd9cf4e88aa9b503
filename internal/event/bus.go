package event

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Event types published by the bridge.
const (
	TypeNewDevice        = "new_device_on_mesh"
	TypeNewNode          = "new_node_on_mesh"
	TypeNewPrimaryNode   = "new_primary_node"
	TypeDeviceHome       = "tracked_device_home"
	TypeDeviceAway       = "tracked_device_away"
	TypeSpeedtestStatus  = "speedtest_status"
	TypeSpeedtestResults = "speedtest_results"
	TypeUpdateCheck      = "check_updates_status"
)

// Event is one notification about a change observed on the mesh.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	Payload   map[string]any `json:"payload,omitempty"`
}

// New builds an event with a fresh ID and UTC timestamp.
func New(eventType string, payload map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Timestamp: time.Now().UTC(),
		Payload:   payload,
	}
}

// Bus is an in-process fan-out of bridge events. Slow subscribers drop
// events rather than stall the poll loop.
type Bus struct {
	mu   sync.Mutex
	subs map[int]chan Event
	next int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber. The returned cancel func must be called
// to release the subscription; the channel is closed by cancel.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.next
	b.next++
	ch := make(chan Event, 16)
	b.subs[id] = ch

	cancel := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
	return ch, cancel
}

// Publish delivers the event to every subscriber that has room.
func (b *Bus) Publish(e Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
