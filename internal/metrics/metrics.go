// Package metrics tracks server health counters surfaced by the admin API.
package metrics

import (
	"sync"
	"sync/atomic"
	"time"
)

// Metrics tracks connection, message, and room counters.
type Metrics struct {
	activeConnections int64
	totalConnections  int64
	disconnections    int64

	totalMessages   int64
	privateMessages int64
	broadcastErrors int64

	startTime time.Time

	mu            sync.RWMutex
	roomOccupancy map[string]int64
}

// New creates a metrics instance anchored at the current time.
func New() *Metrics {
	return &Metrics{
		roomOccupancy: make(map[string]int64),
		startTime:     time.Now(),
	}
}

// ConnectionOpened records a new client connection.
func (m *Metrics) ConnectionOpened() {
	atomic.AddInt64(&m.activeConnections, 1)
	atomic.AddInt64(&m.totalConnections, 1)
}

// ConnectionClosed records a client disconnect.
func (m *Metrics) ConnectionClosed() {
	atomic.AddInt64(&m.activeConnections, -1)
	atomic.AddInt64(&m.disconnections, 1)
}

// MessageBroadcast records a public room message.
func (m *Metrics) MessageBroadcast() {
	atomic.AddInt64(&m.totalMessages, 1)
}

// PrivateMessageDelivered records a delivered private message.
func (m *Metrics) PrivateMessageDelivered() {
	atomic.AddInt64(&m.privateMessages, 1)
}

// BroadcastError records a failed delivery to a member socket.
func (m *Metrics) BroadcastError() {
	atomic.AddInt64(&m.broadcastErrors, 1)
}

// ActiveConnections returns the current connection count.
func (m *Metrics) ActiveConnections() int64 {
	return atomic.LoadInt64(&m.activeConnections)
}

// TotalMessages returns the lifetime public message count.
func (m *Metrics) TotalMessages() int64 {
	return atomic.LoadInt64(&m.totalMessages)
}

// SetRoomOccupancy records the member count for a room.
func (m *Metrics) SetRoomOccupancy(roomID string, count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.roomOccupancy[roomID] = count
}

// RemoveRoom drops a destroyed room from the occupancy map.
func (m *Metrics) RemoveRoom(roomID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roomOccupancy, roomID)
}

// RoomOccupancy returns a copy of the per-room member counts.
func (m *Metrics) RoomOccupancy() map[string]int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()

	occupancy := make(map[string]int64, len(m.roomOccupancy))
	for k, v := range m.roomOccupancy {
		occupancy[k] = v
	}
	return occupancy
}

// Uptime returns time elapsed since the server started.
func (m *Metrics) Uptime() time.Duration {
	return time.Since(m.startTime)
}

// Summary returns all counters for the admin API.
func (m *Metrics) Summary() map[string]interface{} {
	return map[string]interface{}{
		"active_connections": atomic.LoadInt64(&m.activeConnections),
		"total_connections":  atomic.LoadInt64(&m.totalConnections),
		"disconnections":     atomic.LoadInt64(&m.disconnections),
		"total_messages":     atomic.LoadInt64(&m.totalMessages),
		"private_messages":   atomic.LoadInt64(&m.privateMessages),
		"broadcast_errors":   atomic.LoadInt64(&m.broadcastErrors),
		"room_occupancy":     m.RoomOccupancy(),
		"uptime_seconds":     m.Uptime().Seconds(),
	}
}
