package server

import (
	"context"
	"fmt"

	"github.com/NicolasHaas/mqchat/pkg/mailbox"
	"github.com/NicolasHaas/mqchat/pkg/version"
)

// Start opens the well-known mailbox, pre-creates the rooms listed in
// Config.RoomsFile and starts the dispatcher. It does not block.
func (s *Server) Start() error {
	key := s.key
	if key == 0 {
		k, err := s.cfg.Key()
		if err != nil {
			return fmt.Errorf("server: well-known key: %w", err)
		}
		key = k
	}

	inbox, err := s.transport.Open(key, true)
	if err != nil {
		return fmt.Errorf("server: open dispatcher mailbox: %w", err)
	}
	s.inbox = inbox
	s.dispatcher.inbox = inbox

	// Rooms from YAML config are created before the dispatcher runs, so the
	// registry still has a single writer.
	if s.cfg.RoomsFile != "" {
		if err := s.LoadRoomsFromYAML(s.cfg.RoomsFile); err != nil {
			s.log.Error("failed to load rooms config", "err", err)
		}
	}

	s.control.Go(s.ctx, "dispatcher", s.dispatcher)

	s.log.Info("mqchat server running",
		"version", version.String(),
		"key", fmt.Sprintf("%#x", int32(key)),
		"mailbox", inbox,
		"max_rooms", s.cfg.MaxRooms,
		"max_members", s.cfg.MaxMembers,
	)

	s.StartMetricsHTTP()
	s.metrics.StartPeriodicLog(s.log, s.cfg.MetricsInterval, s.ctx.Done())
	return nil
}

// Run starts the server and blocks until ctx is cancelled or Shutdown is
// called, then shuts down.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		s.Shutdown()
		return err
	}

	select {
	case <-ctx.Done():
	case <-s.ctx.Done():
	}

	s.log.Info("shutting down...")
	s.Shutdown()
	return nil
}

// Shutdown stops the server: blocked receivers are woken by destroying the
// mailboxes they wait on. It is safe to call more than once.
func (s *Server) Shutdown() {
	s.stopOnce.Do(func() {
		s.cancel()

		// The dispatcher goes first so no room is created after the
		// room mailboxes have been collected.
		s.destroy(s.inbox)
		s.control.Wait()

		for _, h := range s.registry.Mailboxes() {
			s.destroy(h)
		}
		s.rooms.Wait()

		s.metrics.LogSummary(s.log)
		if err := s.store.Close(); err != nil {
			s.log.Warn("failed to close store", "err", err)
		}
	})
}

func (s *Server) destroy(h mailbox.Handle) {
	if !h.Valid() {
		return
	}
	if err := s.transport.Destroy(h); err != nil {
		s.log.Warn("failed to destroy mailbox", "mailbox", h, "err", err)
	}
}
