package status

import (
	"encoding/json"
	"sync"

	"github.com/TakashiAihara/wlan-scanner/pkg/types"
)

const clientBuffer = 32

type streamMessage struct {
	SchemaVersion int         `json:"schema_version"`
	Type          string      `json:"type"`
	Event         types.Event `json:"event"`
}

type client struct {
	send      chan []byte
	closeOnce sync.Once
}

func (c *client) close() {
	c.closeOnce.Do(func() { close(c.send) })
}

// Hub fans events out to live stream subscribers and remembers the last
// written record. It is an events.Recorder.
type Hub struct {
	mu      sync.Mutex
	clients map[*client]struct{}
	latest  *types.MeasurementRecord
	closed  bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

func (h *Hub) Record(ev types.Event) {
	if ev.Type == types.EventRecordWritten && ev.Record != nil {
		rec := *ev.Record
		h.mu.Lock()
		h.latest = &rec
		h.mu.Unlock()
	}
	h.Broadcast(ev)
}

// Latest returns the most recently written record.
func (h *Hub) Latest() (types.MeasurementRecord, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.latest == nil {
		return types.MeasurementRecord{}, false
	}
	return *h.latest, true
}

// Broadcast queues ev for every subscriber. Slow subscribers miss messages
// rather than stall the measurement loop.
func (h *Hub) Broadcast(ev types.Event) {
	data, err := json.Marshal(streamMessage{SchemaVersion: 1, Type: string(ev.Type), Event: ev})
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

func (h *Hub) register() (*client, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &client{send: make(chan []byte, clientBuffer)}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.close()
	}
	h.clients = make(map[*client]struct{})
}
