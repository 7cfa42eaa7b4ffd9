// Package server implements the mqchat relay: a dispatcher that owns the
// well-known mailbox, one worker per room and the registry they share.
package server

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/NicolasHaas/mqchat/pkg/config"
	"github.com/NicolasHaas/mqchat/pkg/mailbox"
	"github.com/NicolasHaas/mqchat/pkg/store"
)

// Config holds server configuration. Every field can be set from the
// environment; cmd/server lets flags override a subset.
type Config struct {
	KeyPath         string        `env:"RELAY_KEY_PATH,default=/tmp" validate:"required"`
	KeyProject      string        `env:"RELAY_KEY_PROJECT,default=A" validate:"len=1"`
	Transport       string        `env:"RELAY_TRANSPORT,default=sysv" validate:"oneof=sysv memory"`
	MaxRooms        int           `env:"RELAY_MAX_ROOMS,default=16" validate:"min=1"`
	MaxMembers      int           `env:"RELAY_MAX_MEMBERS,default=64" validate:"min=1"`
	HistoryDir      string        `env:"RELAY_HISTORY_DIR,default=."` // empty disables history files
	DBPath          string        `env:"RELAY_DB,default=mqchat.db"`  // empty keeps the catalog in memory
	RoomsFile       string        `env:"RELAY_ROOMS_FILE"`            // YAML file of rooms to create on startup
	MetricsAddr     string        `env:"RELAY_METRICS_ADDR"`          // HTTP bind address for /metrics (empty = disabled)
	MetricsInterval time.Duration `env:"RELAY_METRICS_INTERVAL,default=60s"`
	RestartDelay    time.Duration `env:"RELAY_RESTART_DELAY,default=200ms"`
	LogLevel        string        `env:"RELAY_LOG_LEVEL,default=info" validate:"oneof=debug info warn warning error"`
	LogFormat       string        `env:"RELAY_LOG_FORMAT,default=text" validate:"oneof=text json"`

	// CLI-only actions (run and exit)
	ExportRooms bool // export the stored room catalog as YAML and exit
	Audit       bool // print the membership audit trail and exit
}

// DefaultConfig returns a config with the defaults declared on its tags.
func DefaultConfig() Config {
	var cfg Config
	if err := config.Defaults(&cfg); err != nil {
		panic(err) // tag defaults are constants
	}
	return cfg
}

// Key resolves the well-known dispatcher key from KeyPath and KeyProject.
func (c Config) Key() (mailbox.Key, error) {
	project, err := config.ProjectByte(c.KeyProject)
	if err != nil {
		return 0, err
	}
	return mailbox.KeyFromPath(c.KeyPath, project)
}

// Dependencies holds external dependencies for the server.
// Server assumes ownership of Store and will Close() it on shutdown.
type Dependencies struct {
	Transport mailbox.Transport
	Store     store.DataStore
	Logger    *slog.Logger
	Echo      io.Writer   // receives every relayed chat line (default: os.Stdout)
	Key       mailbox.Key // overrides Config.Key when non-zero
}

// Server is the main mqchat relay.
type Server struct {
	cfg        Config
	log        *slog.Logger
	transport  mailbox.Transport
	store      store.DataStore
	registry   *Registry
	metrics    *Metrics
	history    *History
	control    *Supervisor // runs the dispatcher
	rooms      *Supervisor // runs the room workers
	dispatcher *Dispatcher
	key        mailbox.Key
	inbox      mailbox.Handle

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
}

// New creates a new Server instance. Missing dependencies fall back to an
// in-memory transport and store, slog.Default and stdout.
func New(cfg Config, deps Dependencies) *Server {
	ctx, cancel := context.WithCancel(context.Background())

	log := deps.Logger
	if log == nil {
		log = slog.Default()
	}
	transport := deps.Transport
	if transport == nil {
		transport = mailbox.NewMemory(mailbox.DefaultMemoryCapacity)
	}
	st := deps.Store
	if st == nil {
		st = store.NewMemory()
	}
	echo := deps.Echo
	if echo == nil {
		echo = os.Stdout
	}

	s := &Server{
		cfg:       cfg,
		log:       log,
		transport: transport,
		store:     st,
		registry:  NewRegistry(cfg.MaxRooms, cfg.MaxMembers),
		metrics:   NewMetrics(),
		history:   NewHistory(cfg.HistoryDir, echo, log),
		control:   NewSupervisor(log, cfg.RestartDelay),
		rooms:     NewSupervisor(log, cfg.RestartDelay),
		key:       deps.Key,
		ctx:       ctx,
		cancel:    cancel,
	}
	s.dispatcher = &Dispatcher{
		log:       log.With("worker", "dispatcher"),
		transport: transport,
		registry:  s.registry,
		store:     st,
		metrics:   s.metrics,
		spawn:     s.spawnRoomWorker,
		now:       time.Now,
	}
	return s
}

// spawnRoomWorker starts the supervised worker of a newly registered room.
func (s *Server) spawnRoomWorker(room string, h mailbox.Handle) {
	w := &RoomWorker{
		room:      room,
		inbox:     h,
		log:       s.log.With("worker", "room", "room", room),
		transport: s.transport,
		registry:  s.registry,
		history:   s.history,
		metrics:   s.metrics,
	}
	s.rooms.Go(s.ctx, fmt.Sprintf("room %q", room), w)
}

// Registry returns the room registry.
func (s *Server) Registry() *Registry {
	return s.registry
}

// Metrics returns the server metrics.
func (s *Server) Metrics() *Metrics {
	return s.metrics
}

// Inbox returns the dispatcher mailbox, or NoHandle before Start.
func (s *Server) Inbox() mailbox.Handle {
	return s.inbox
}
