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

	"github.com/NicolasHaas/mqchat/pkg/client"
	"github.com/NicolasHaas/mqchat/pkg/logging"
	"github.com/NicolasHaas/mqchat/pkg/mailbox"
	"github.com/NicolasHaas/mqchat/pkg/version"
)

const binaryName = "mqchat-client"

var errUsage = errors.New("usage: " + binaryName + " <username>")

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		fmt.Fprintf(os.Stderr, "%s: %v\n", binaryName, err)
		os.Exit(1)
	}
}

// parseArgs returns the username, or "" when only -version was asked for.
func parseArgs(args []string, stderr io.Writer) (string, bool, error) {
	fs := flag.NewFlagSet(binaryName, flag.ContinueOnError)
	fs.SetOutput(stderr)
	showVersion := fs.Bool("version", false, "Print version and exit")
	if err := fs.Parse(args); err != nil {
		return "", false, err
	}
	if *showVersion {
		return "", true, nil
	}
	if fs.NArg() != 1 {
		return "", false, errUsage
	}
	return fs.Arg(0), false, nil
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	username, showVersion, err := parseArgs(args, os.Stderr)
	if err != nil {
		return err
	}
	if showVersion {
		_, _ = fmt.Fprintln(stdout, version.Banner(binaryName))
		return nil
	}

	cfg, err := client.LoadConfig()
	if err != nil {
		return err
	}
	log, err := logging.Setup(logging.Options{
		Level:     cfg.LogLevel,
		Output:    os.Stderr,
		Component: "client",
	})
	if err != nil {
		return fmt.Errorf("invalid logging config: %w", err)
	}

	key, err := cfg.Key()
	if err != nil {
		return err
	}
	transport, err := mailbox.NewSysV()
	if err != nil {
		return err
	}
	conn, err := client.Dial(transport, key, log)
	if err != nil {
		return err
	}

	sess, err := client.NewSession(username, conn, client.NewTerminal(stdout, cfg.NoColor), log)
	if err != nil {
		_ = conn.Close()
		return err
	}
	defer func() {
		if err := sess.Close(); err != nil {
			log.Warn("cleanup failed", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sess.Start(ctx)
	return sess.Run(ctx, stdin)
}
