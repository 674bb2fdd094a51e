package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloak-fx/cloak/internal/logging"
	"github.com/cloak-fx/cloak/internal/mockcam"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

// run parses args, starts the mock camera service and blocks until ctx
// is done.
func run(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("cloak-server", flag.ContinueOnError)
	configPath := fs.String("config", "", "Path to config file (defaults are used when empty)")
	port := fs.Int("port", -1, "Override server port (0 picks a free one)")
	logLevel := fs.String("log-level", "info", "Log level")
	failStart := fs.Bool("fail-start", false, "Answer every start with an error")
	failStop := fs.Bool("fail-stop", false, "Answer every stop with an error and keep the camera on")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if err := logging.Configure(logging.Config{
		Level:   *logLevel,
		Service: "cloak-server",
		Console: true,
	}); err != nil {
		return err
	}
	logger := logging.Base()

	cfg := mockcam.Default()
	if *configPath != "" {
		loaded, err := mockcam.Load(*configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	if *port >= 0 {
		cfg.Server.Port = *port
	}
	cfg.Faults.FailStart = cfg.Faults.FailStart || *failStart
	cfg.Faults.FailStop = cfg.Faults.FailStop || *failStop

	ln, err := net.Listen("tcp", cfg.Addr())
	if err != nil {
		return fmt.Errorf("listen %s: %w", cfg.Addr(), err)
	}

	if err := mockcam.NewServer(cfg, logger).Run(ctx, ln); err != nil {
		return err
	}
	logger.Info().Msg("shut down")
	return nil
}
