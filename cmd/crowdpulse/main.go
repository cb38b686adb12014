package main

import (
	"context"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/crowdpulse/internal/bucket"
	"github.com/rewired-gh/crowdpulse/internal/config"
	"github.com/rewired-gh/crowdpulse/internal/history"
	"github.com/rewired-gh/crowdpulse/internal/loadmodel"
	"github.com/rewired-gh/crowdpulse/internal/logger"
	"github.com/rewired-gh/crowdpulse/internal/monitor"
	"github.com/rewired-gh/crowdpulse/internal/places"
	"github.com/rewired-gh/crowdpulse/internal/storage"
)

// app carries what every subcommand needs after setup.
type app struct {
	configPath string
	cfg        *config.Config
}

func main() {
	a := &app{}

	root := &cobra.Command{
		Use:           "crowdpulse",
		Short:         "City-wide crowd anomaly detector for a panel of fast food counters",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup()
		},
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", "", "Path to configuration file (defaults plus CROWDPULSE_* env when empty)")

	root.AddCommand(newRunCmd(a), newBacktestCmd(a), newStatusCmd(a))

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) setup() error {
	// Best effort: a missing .env is normal in production
	_ = godotenv.Load(".env", ".env.local")

	cfg, err := config.Load(a.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	a.cfg = cfg

	logger.Init(logger.Options{Level: cfg.Logging.Level, Format: cfg.Logging.Format, File: cfg.Logging.File})
	if a.configPath != "" {
		logger.Info("Configuration loaded from %s", a.configPath)
	}
	return nil
}

// openHistory opens the configured backend and restores history into a
// rolling store. The caller closes the returned backend.
func (a *app) openHistory(ctx context.Context) (*history.Store, storage.Store, error) {
	backend, err := storage.Open(ctx, storage.Config{
		Backend:  a.cfg.Storage.Backend,
		DSN:      a.cfg.Storage.DSN,
		FilePath: a.cfg.Storage.FilePath,
		RedisURL: a.cfg.Storage.RedisURL,
		Key:      a.cfg.Storage.Key,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	store := history.New(a.cfg.Monitor.Window, backend)
	store.Load(ctx, time.Now())
	return store, backend, nil
}

// newSource builds the configured places directory. Live providers are
// wrapped so an outage degrades to the demo panel instead of failing.
func (a *app) newSource() places.Source {
	src := a.cfg.Source
	switch src.Provider {
	case "demo":
		return places.Demo{}
	case "overpass":
		return places.NewFallback(places.NewOverpassClient(src.OverpassURL, src.Timeout, a.cfg.GetLocation()))
	default:
		if src.APIKey == "" {
			logger.Warn("No places API key configured; using the demo panel")
			return places.NewFallback(nil)
		}
		return places.NewFallback(places.NewGoogleClient(places.GoogleOptions{
			BaseURL:        src.BaseURL,
			APIKey:         src.APIKey,
			Timeout:        src.Timeout,
			MaxRetries:     src.MaxRetries,
			RetryDelayBase: src.RetryDelayBase,
			PageDelay:      src.PageDelay,
		}))
	}
}

func (a *app) newMonitor(store *history.Store) *monitor.Monitor {
	seed := a.cfg.Monitor.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	model := loadmodel.New(bucket.DefaultTemplate, rand.New(rand.NewSource(seed)))

	return monitor.New(store, a.newSource(), model, monitor.Options{
		Area:     a.cfg.GetArea(),
		Location: a.cfg.GetLocation(),
		Request: places.Request{
			Center:       a.cfg.GetArea(),
			RadiusMeters: a.cfg.Source.RadiusMeters,
			MaxEntities:  a.cfg.Source.MaxEntities,
			Keyword:      a.cfg.Source.Keyword,
			Type:         a.cfg.Source.TypeFilter,
		},
		Thresholds:         a.thresholds(),
		BootstrapStep:      a.cfg.Monitor.BootstrapStep,
		BootstrapMinPoints: a.cfg.Monitor.BootstrapMinPoints,
	})
}

func (a *app) thresholds() monitor.Thresholds {
	return monitor.Thresholds{
		Score:            a.cfg.Monitor.AlertScore,
		Share:            a.cfg.Monitor.AlertShare,
		Z:                a.cfg.Monitor.AlertZ,
		HysteresisCycles: a.cfg.Monitor.HysteresisCycles,
	}
}
