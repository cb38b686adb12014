package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/rewired-gh/crowdpulse/internal/api"
	"github.com/rewired-gh/crowdpulse/internal/logger"
	"github.com/rewired-gh/crowdpulse/internal/metrics"
	"github.com/rewired-gh/crowdpulse/internal/monitor"
	"github.com/rewired-gh/crowdpulse/internal/publish"
	"github.com/rewired-gh/crowdpulse/internal/telegram"
)

func newRunCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Poll the panel and detect anomalies until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run()
		},
	}
}

func (a *app) run() error {
	cfg := a.cfg

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Shutdown signal received, cleaning up...")
		cancel()
	}()

	store, backend, err := a.openHistory(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Error("Failed to close storage: %v", err)
		}
	}()

	mon := a.newMonitor(store)
	m := metrics.New(prometheus.DefaultRegisterer)

	// Initialize Telegram client
	var telegramClient *telegram.Client
	if cfg.Telegram.Enabled {
		telegramClient, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			return err
		}
		telegramClient.SetArea(cfg.Area.Name, cfg.GetLocation())
		telegramClient.ListenForCommands(ctx, mon)
		logger.Info("Telegram client initialized successfully")
	} else {
		logger.Debug("Telegram notifications disabled")
	}

	var publisher *publish.Publisher
	if cfg.Kafka.Enabled {
		publisher = publish.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, cfg.Area.Name)
		defer func() {
			if err := publisher.Close(); err != nil {
				logger.Warn("Failed to close Kafka writer: %v", err)
			}
		}()
	}

	var server *api.Server
	if cfg.API.Enabled {
		server = api.New(mon, api.Options{
			Addr:           cfg.API.Addr,
			AllowedOrigins: cfg.API.AllowedOrigins,
			Gatherer:       prometheus.DefaultGatherer,
		})
		go func() {
			if err := server.ListenAndServe(ctx); err != nil {
				logger.Error("API server stopped: %v", err)
			}
		}()
	}

	logger.Info("Starting detection for %s (provider: %s, interval: %v, window: %v, backend: %s)",
		cfg.Area.Name, cfg.Source.Provider, cfg.Monitor.PollInterval, cfg.Monitor.Window, cfg.Storage.Backend)

	consecutiveFailures := 0
	wasAlerted := false

	handleCycleResult := func(o monitor.Outcome) {
		m.Observe(o.Result, o.Err)

		if o.Err != nil {
			consecutiveFailures++
			logger.Error("Detection cycle failed: %v", o.Err)
			if consecutiveFailures == 1 && telegramClient != nil {
				if sendErr := telegramClient.SendError(o.Err); sendErr != nil {
					logger.Warn("Failed to send error notification to Telegram: %v", sendErr)
				}
			}
			return
		}

		if consecutiveFailures > 0 && telegramClient != nil {
			if sendErr := telegramClient.SendRecovery(consecutiveFailures); sendErr != nil {
				logger.Warn("Failed to send recovery notification to Telegram: %v", sendErr)
			}
		}
		consecutiveFailures = 0

		res := o.Result
		// Notify on the rising edge only; a held alert is not repeated every cycle
		if res.City.Alerted && !wasAlerted && telegramClient != nil {
			if err := telegramClient.SendAlert(res); err != nil {
				logger.Error("Failed to send Telegram alert: %v", err)
			} else {
				logger.Info("Sent Telegram alert for cycle %s", res.ID)
			}
		}
		wasAlerted = res.City.Alerted

		if server != nil {
			server.Publish(res)
		}
		if publisher != nil {
			if err := publisher.Publish(ctx, res); err != nil {
				logger.Warn("Failed to publish snapshot: %v", err)
			}
		}
	}

	for o := range mon.Run(ctx, cfg.Monitor.PollInterval) {
		handleCycleResult(o)
	}

	logger.Info("Service stopped")
	return nil
}
