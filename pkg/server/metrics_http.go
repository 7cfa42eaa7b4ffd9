package server

import (
	"fmt"
	"net/http"
	"time"
)

// StartMetricsHTTP starts a lightweight HTTP server that exposes /metrics
// in Prometheus text exposition format. It runs in the background and
// shuts down when the server context is cancelled.
func (s *Server) StartMetricsHTTP() {
	addr := s.cfg.MetricsAddr
	if addr == "" {
		return // metrics endpoint disabled
	}

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.metricsMux(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		s.log.Info("metrics HTTP listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Error("metrics HTTP error", "err", err)
		}
	}()

	go func() {
		<-s.ctx.Done()
		_ = srv.Close()
	}()
}

func (s *Server) metricsMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})
	return mux
}

// handleMetrics writes all metrics in Prometheus text exposition format.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	m := s.metrics
	uptime := time.Since(m.startTime).Seconds()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4; charset=utf-8")

	// Write errors to http.ResponseWriter are non-actionable; suppress errcheck.
	write := func(name, help, mtype string, value int64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %d\n", name, value)
	}
	writeFloat := func(name, help, mtype string, value float64) {
		_, _ = fmt.Fprintf(w, "# HELP %s %s\n", name, help)
		_, _ = fmt.Fprintf(w, "# TYPE %s %s\n", name, mtype)
		_, _ = fmt.Fprintf(w, "%s %f\n", name, value)
	}

	writeFloat("mqchat_uptime_seconds", "Server uptime in seconds.", "gauge", uptime)

	write("mqchat_rooms", "Rooms currently registered.", "gauge",
		int64(s.registry.Len()))
	write("mqchat_members", "Memberships across all rooms.", "gauge",
		int64(s.registry.MemberCount()))

	write("mqchat_rooms_created_total", "Rooms created.", "counter",
		m.RoomsCreated.Load())
	write("mqchat_joins_total", "Memberships added.", "counter",
		m.Joins.Load())
	write("mqchat_leaves_total", "Memberships removed.", "counter",
		m.Leaves.Load())
	write("mqchat_joins_rejected_total", "Joins answered with an error.", "counter",
		m.RejectedJoins.Load())

	write("mqchat_control_messages_total", "Control envelopes handled.", "counter",
		m.ControlMessages.Load())
	write("mqchat_chat_messages_total", "Chat messages relayed.", "counter",
		m.ChatMessages.Load())
	write("mqchat_deliveries_total", "Chat envelopes delivered to members.", "counter",
		m.Deliveries.Load())
	write("mqchat_sends_dropped_total", "Sends dropped on full or stale mailboxes.", "counter",
		m.DroppedSends.Load())
	write("mqchat_receive_errors_total", "Transient receive failures.", "counter",
		m.ReceiveErrors.Load())
}
