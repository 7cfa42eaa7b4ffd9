package server

import (
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"
)

// Metrics tracks server runtime statistics.
// All counters use atomic operations for lock-free concurrent access.
type Metrics struct {
	startTime time.Time

	// Registry counters
	RoomsCreated  atomic.Int64 // rooms created during this run
	Joins         atomic.Int64 // memberships added
	Leaves        atomic.Int64 // memberships removed
	RejectedJoins atomic.Int64 // joins answered with an error ack

	// Traffic counters
	ControlMessages atomic.Int64 // envelopes handled by the dispatcher
	ChatMessages    atomic.Int64 // chat envelopes relayed by room workers
	Deliveries      atomic.Int64 // successful per-member chat sends
	DroppedSends    atomic.Int64 // sends lost to full or stale mailboxes
	ReceiveErrors   atomic.Int64 // transient receive failures
}

// NewMetrics creates a new Metrics instance with the start time set to now.
func NewMetrics() *Metrics {
	return &Metrics{
		startTime: time.Now(),
	}
}

// MetricsSnapshot is a point-in-time view of all metrics as a serializable struct.
type MetricsSnapshot struct {
	Uptime        string `json:"uptime"`
	UptimeSeconds int64  `json:"uptime_seconds"`

	RoomsCreated  int64 `json:"rooms_created"`
	Joins         int64 `json:"joins"`
	Leaves        int64 `json:"leaves"`
	RejectedJoins int64 `json:"rejected_joins"`

	ControlMessages int64 `json:"control_messages"`
	ChatMessages    int64 `json:"chat_messages"`
	Deliveries      int64 `json:"deliveries"`
	DroppedSends    int64 `json:"dropped_sends"`
	ReceiveErrors   int64 `json:"receive_errors"`
}

// Snapshot returns a read-consistent snapshot of all metrics.
func (m *Metrics) Snapshot() MetricsSnapshot {
	uptime := time.Since(m.startTime)
	return MetricsSnapshot{
		Uptime:          uptime.Truncate(time.Second).String(),
		UptimeSeconds:   int64(uptime.Seconds()),
		RoomsCreated:    m.RoomsCreated.Load(),
		Joins:           m.Joins.Load(),
		Leaves:          m.Leaves.Load(),
		RejectedJoins:   m.RejectedJoins.Load(),
		ControlMessages: m.ControlMessages.Load(),
		ChatMessages:    m.ChatMessages.Load(),
		Deliveries:      m.Deliveries.Load(),
		DroppedSends:    m.DroppedSends.Load(),
		ReceiveErrors:   m.ReceiveErrors.Load(),
	}
}

// JSON returns the metrics snapshot as a JSON string.
func (m *Metrics) JSON() string {
	data, err := json.MarshalIndent(m.Snapshot(), "", "  ")
	if err != nil {
		return "{}"
	}
	return string(data)
}

// LogSummary writes a metrics summary to log.
func (m *Metrics) LogSummary(log *slog.Logger) {
	s := m.Snapshot()
	log.Info("metrics",
		"uptime", s.Uptime,
		"rooms_created", s.RoomsCreated,
		"joins", s.Joins,
		"leaves", s.Leaves,
		"chat_msgs", s.ChatMessages,
		"deliveries", s.Deliveries,
		"dropped", s.DroppedSends,
	)
}

// StartPeriodicLog starts a goroutine that logs metrics every interval.
// It stops when the done channel is closed. A non-positive interval disables it.
func (m *Metrics) StartPeriodicLog(log *slog.Logger, interval time.Duration, done <-chan struct{}) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				m.LogSummary(log)
			}
		}
	}()
}
