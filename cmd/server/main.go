package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/NicolasHaas/mqchat/pkg/config"
	"github.com/NicolasHaas/mqchat/pkg/logging"
	"github.com/NicolasHaas/mqchat/pkg/mailbox"
	"github.com/NicolasHaas/mqchat/pkg/server"
	"github.com/NicolasHaas/mqchat/pkg/store"
	"github.com/NicolasHaas/mqchat/pkg/version"
)

const binaryName = "mqchat-server"

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", binaryName, err)
		os.Exit(1)
	}
}

// options are the flag-only settings that do not belong in server.Config.
type options struct {
	showVersion bool
	auditRoom   string
	auditLimit  int
}

// parseFlags layers command-line flags over the environment-derived cfg.
func parseFlags(args []string, cfg *server.Config, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet(binaryName, flag.ContinueOnError)
	fs.SetOutput(stderr)

	fs.StringVar(&cfg.KeyPath, "key-path", cfg.KeyPath, "Existing path the well-known mailbox key is derived from")
	fs.StringVar(&cfg.KeyProject, "key-project", cfg.KeyProject, "Single-byte project id for the well-known key")
	fs.StringVar(&cfg.Transport, "transport", cfg.Transport, "Mailbox transport: sysv or memory")
	fs.IntVar(&cfg.MaxRooms, "max-rooms", cfg.MaxRooms, "Maximum number of rooms")
	fs.IntVar(&cfg.MaxMembers, "max-members", cfg.MaxMembers, "Maximum members per room")
	fs.StringVar(&cfg.HistoryDir, "history-dir", cfg.HistoryDir, "Directory for room history files (empty to disable)")
	fs.StringVar(&cfg.DBPath, "db", cfg.DBPath, "SQLite database file path (empty keeps the catalog in memory)")
	fs.StringVar(&cfg.RoomsFile, "rooms-file", cfg.RoomsFile, "YAML file defining rooms to create on startup")
	fs.StringVar(&cfg.MetricsAddr, "metrics", cfg.MetricsAddr, "HTTP bind address for Prometheus /metrics (empty to disable)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: "+logging.LevelNames())
	fs.StringVar(&cfg.LogFormat, "log-format", cfg.LogFormat, "Log format: text or json")
	fs.BoolVar(&cfg.ExportRooms, "export-rooms", false, "Export the stored room catalog as YAML and exit")
	fs.BoolVar(&cfg.Audit, "audit", false, "Print the membership audit trail and exit")
	fs.StringVar(&opts.auditRoom, "audit-room", "", "Limit -audit to one room")
	fs.IntVar(&opts.auditLimit, "audit-limit", 0, "Limit -audit to the first N entries (0 = all)")
	fs.BoolVar(&opts.showVersion, "version", false, "Print version and exit")

	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	if fs.NArg() > 0 {
		return opts, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return opts, config.Validate(cfg)
}

func openStore(path string) (store.DataStore, error) {
	if path == "" {
		return store.NewMemory(), nil
	}
	return store.New(path)
}

func run(args []string, stdout io.Writer) error {
	// 1. Configuration: defaults < .env < environment < flags
	cfg := server.DefaultConfig()
	if err := config.Load(&cfg); err != nil {
		return err
	}
	opts, err := parseFlags(args, &cfg, os.Stderr)
	if err != nil {
		return err
	}
	if opts.showVersion {
		_, _ = fmt.Fprintln(stdout, version.Banner(binaryName))
		return nil
	}

	log, err := logging.Setup(logging.Options{
		Level:     cfg.LogLevel,
		Format:    cfg.LogFormat,
		Output:    os.Stdout,
		Component: "server",
	})
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	// 2. Storage
	st, err := openStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	// Handle export commands (run and exit)
	if cfg.ExportRooms || cfg.Audit {
		defer func() { _ = st.Close() }()
		if cfg.ExportRooms {
			data, err := server.ExportRoomsYAML(st)
			if err != nil {
				return fmt.Errorf("export rooms: %w", err)
			}
			_, _ = stdout.Write(data)
		}
		if cfg.Audit {
			if err := server.WriteAuditTable(stdout, st, opts.auditRoom, opts.auditLimit); err != nil {
				return fmt.Errorf("audit: %w", err)
			}
		}
		return nil
	}

	// 3. Transport
	transport, err := mailbox.New(cfg.Transport)
	if err != nil {
		_ = st.Close()
		return err
	}

	// 4. Context & Signals
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 5. Serve until signalled; the server owns and closes the store.
	srv := server.New(cfg, server.Dependencies{
		Transport: transport,
		Store:     st,
		Logger:    log,
		Echo:      stdout,
	})
	if err := srv.Run(ctx); err != nil {
		return err
	}
	log.Info("server stopped cleanly")
	return nil
}
