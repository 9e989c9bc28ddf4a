// Package events fans session state changes out to connected browser tabs.
package events

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"

	"github.com/mwakai/touch-grass/internal/session"
)

const subscriberBuffer = 16

type subscriber struct {
	conn   *websocket.Conn
	events chan session.Event
}

// Hub tracks the websocket subscribers of every device, one per browser tab.
// It implements session.Notifier.
type Hub struct {
	mu     sync.RWMutex
	active map[string]map[string]*subscriber
}

// NewHub creates an empty hub.
func NewHub() *Hub {
	return &Hub{
		active: make(map[string]map[string]*subscriber),
	}
}

// GetActive returns the connection registered for a device and tab.
func (h *Hub) GetActive(deviceID, tabID string) *websocket.Conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if tabs, ok := h.active[deviceID]; ok {
		if sub, ok := tabs[tabID]; ok {
			return sub.conn
		}
	}
	return nil
}

// Register adds a connection for a device/tab and returns the channel its
// events are delivered on. A previous connection for the same tab is
// replaced and its channel closed.
func (h *Hub) Register(deviceID, tabID string, conn *websocket.Conn) <-chan session.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.active[deviceID]; !exists {
		h.active[deviceID] = make(map[string]*subscriber)
	}

	if existing, exists := h.active[deviceID][tabID]; exists && existing.conn != conn {
		close(existing.events)
		slog.Info("Session subscriber replaced", "device_id", deviceID, "tab_id", tabID)
	}

	sub := &subscriber{conn: conn, events: make(chan session.Event, subscriberBuffer)}
	h.active[deviceID][tabID] = sub
	slog.Info("Session subscriber registered", "device_id", deviceID, "tab_id", tabID)
	return sub.events
}

// Unregister removes a connection for a device/tab if it is still the current one.
func (h *Hub) Unregister(deviceID, tabID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if tabs, ok := h.active[deviceID]; ok {
		if current, exists := tabs[tabID]; exists && current.conn == conn {
			close(current.events)
			delete(tabs, tabID)
			if len(tabs) == 0 {
				delete(h.active, deviceID)
			}
			slog.Info("Session subscriber unregistered", "device_id", deviceID, "tab_id", tabID)
		}
	}
}

// CloseDevice ends every subscription of a device.
func (h *Hub) CloseDevice(deviceID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	tabs, ok := h.active[deviceID]
	if !ok {
		return
	}
	for tid, sub := range tabs {
		close(sub.events)
		slog.Info("Session subscriber closed", "device_id", deviceID, "tab_id", tid)
	}
	delete(h.active, deviceID)
}

// Notify delivers ev to every tab of its device without blocking. A tab
// whose buffer is full misses the event.
func (h *Hub) Notify(ev session.Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for tid, sub := range h.active[ev.DeviceID] {
		select {
		case sub.events <- ev:
		default:
			slog.Warn("Session subscriber lagging, event dropped",
				"device_id", ev.DeviceID, "tab_id", tid, "kind", string(ev.Kind))
		}
	}
}

// Count returns the number of registered subscribers.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	n := 0
	for _, tabs := range h.active {
		n += len(tabs)
	}
	return n
}
