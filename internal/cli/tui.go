package cli

import (
	"context"
	"fmt"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cloak-fx/cloak/internal/app"
	"github.com/cloak-fx/cloak/internal/client"
	"github.com/cloak-fx/cloak/internal/logging"
	"github.com/cloak-fx/cloak/internal/metrics"
	"github.com/cloak-fx/cloak/internal/view"
)

// runTUI owns the terminal until the user quits, so logs go to a file.
func runTUI(ctx context.Context, e *env) error {
	cfg := e.cfg

	f, err := logging.OpenFile(cfg.Log.File)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := logging.Configure(logging.Config{
		Level:   cfg.Log.Level,
		Output:  f,
		Service: "cloakctl",
		Version: e.build.Version,
	}); err != nil {
		return err
	}
	logger := logging.WithComponent("app")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	appCfg := app.Config{
		Service:        client.NewHTTPClient(cfg.Service.BaseURL, cfg.Service.RequestTimeout, logging.WithComponent("client")),
		StreamEndpoint: view.StreamEndpoint(cfg.Service.BaseURL),
		Logger:         logger,
	}
	if cfg.Stream.Enabled {
		appCfg.Streams = client.NewStreamWatcher(cfg.Stream.PreviewInterval)
	}
	if cfg.Events.Enabled {
		appCfg.Events = client.NewEventsClient(client.EventsURL(cfg.Service.BaseURL), logging.WithComponent("events"))
	}

	if cfg.Metrics.Addr != "" {
		reg := prometheus.NewRegistry()
		appCfg.Observers = append(appCfg.Observers, metrics.NewSession(reg).Observe)
		go func() {
			if err := metrics.Serve(ctx, cfg.Metrics.Addr, reg, logging.WithComponent("metrics")); err != nil {
				logger.Error().Err(err).Msg("metrics server failed")
			}
		}()
	}

	logger.Info().Str("base_url", cfg.Service.BaseURL).Msg("starting")
	p := tea.NewProgram(app.New(appCfg), tea.WithAltScreen(), tea.WithContext(ctx))
	if _, err := p.Run(); err != nil && ctx.Err() == nil {
		return fmt.Errorf("run ui: %w", err)
	}
	return nil
}
