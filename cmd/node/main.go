package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/afroash/temper-node/internal/alert"
	"github.com/afroash/temper-node/internal/captive"
	"github.com/afroash/temper-node/internal/clock"
	"github.com/afroash/temper-node/internal/config"
	"github.com/afroash/temper-node/internal/metrics"
	"github.com/afroash/temper-node/internal/models"
	"github.com/afroash/temper-node/internal/node"
	"github.com/afroash/temper-node/internal/notify"
	"github.com/afroash/temper-node/internal/provisioning"
	"github.com/afroash/temper-node/internal/sensor"
	"github.com/afroash/temper-node/internal/server"
	"github.com/afroash/temper-node/internal/storage"
	"github.com/afroash/temper-node/internal/wifi"
)

var version = "v0.1.0"

func main() {
	configPath := flag.String("config", "configs/node.yaml", "path to config file")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if cfg.Node.Version == "dev" {
		cfg.Node.Version = version
	}

	logger := newLogger(cfg.Logging)
	logger.Info().
		Str("version", cfg.Node.Version).
		Str("node_id", cfg.Node.ID).
		Msg("Starting temper node")
	logger.Debug().Str("config", cfg.String()).Msg("Configuration loaded")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error().Err(err).Msg("Node stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("Node stopped")
}

func newLogger(cfg config.LoggingConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var logger zerolog.Logger
	if cfg.Format == "text" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	} else {
		logger = zerolog.New(os.Stdout)
	}
	return logger.With().Timestamp().Logger()
}

func component(logger zerolog.Logger, name string) zerolog.Logger {
	return logger.With().Str("component", name).Logger()
}

// run wires every component and blocks until ctx is done or provisioning
// fails fatally.
func run(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	m := metrics.New()

	clk, err := newClock(ctx, cfg.Clock, component(logger, "clock"))
	if err != nil {
		return err
	}

	// Journal
	var (
		journal *storage.SQLiteJournal
		writer  *storage.JournalWriter
		cleaner *storage.RetentionCleaner
	)
	if cfg.Journal.Enabled {
		if err := os.MkdirAll(filepath.Dir(cfg.Journal.Path), 0755); err != nil {
			return fmt.Errorf("failed to create journal directory: %w", err)
		}
		journalLogger := component(logger, "journal")
		journal, err = storage.NewSQLiteJournal(cfg.Journal.Path, journalLogger)
		if err != nil {
			return err
		}
		defer journal.Close()

		writer = storage.NewJournalWriter(journal, storage.JournalWriterConfig{
			BatchSize:   cfg.Journal.BatchSize,
			FlushPeriod: cfg.Journal.FlushPeriod,
			ChannelSize: cfg.Journal.ChannelSize,
		}, journalLogger)
		defer writer.Stop()

		cleaner = storage.NewRetentionCleaner(journal, storage.RetentionCleanerConfig{
			RetentionDays: cfg.Journal.RetentionDays,
			MaxEvents:     cfg.Journal.MaxEvents,
			CleanupPeriod: cfg.Journal.CleanupPeriod,
		}, journalLogger)
		defer cleaner.Stop()
	}

	// Sinks
	sinks := notify.NewMulti()
	webhook, err := notify.NewWebhookSink(notify.WebhookConfig{
		Enabled:     cfg.Webhook.Enabled,
		URL:         cfg.Webhook.URL,
		IdentityURL: cfg.Webhook.IdentityURL,
		Headers:     cfg.Webhook.Headers,
		Template:    cfg.Webhook.Template,
		Timeout:     cfg.Webhook.Timeout,
	}, component(logger, "webhook"))
	if err != nil {
		return err
	}
	sinks.Add(webhook)

	mqttSink, mqttClient, err := notify.DialMQTT(notify.MQTTConfig{
		Enabled:     cfg.MQTT.Enabled,
		Broker:      cfg.MQTT.Broker,
		ClientID:    cfg.MQTT.ClientID,
		Username:    cfg.MQTT.Username,
		Password:    cfg.MQTT.Password,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QoS:         byte(cfg.MQTT.QoS),
		Timeout:     cfg.MQTT.Timeout,
	}, component(logger, "mqtt"))
	if err != nil {
		return err
	}
	if mqttClient != nil {
		defer mqttClient.Disconnect(250)
	}
	sinks.Add(mqttSink)

	var recorder node.EventRecorder
	var events server.EventSource
	if writer != nil {
		recorder = writer
		events = journal
	}
	dispatcher := node.NewDispatcher(sinks, recorder, m, component(logger, "dispatch"))

	// Provisioning
	radio := wifi.NewHostRadio(cfg.Network.Interface, component(logger, "radio"))
	restarter := wifi.NewExecRestarter(component(logger, "restart"))
	machine := provisioning.NewMachine(provisioning.Config{
		NodeID:       cfg.Node.ID,
		APSSID:       cfg.Portal.APSSID,
		APIP:         cfg.Portal.APIP,
		Passcode:     cfg.Portal.Passcode,
		PollInterval: cfg.Network.PollInterval,
		MaxAttempts:  cfg.Network.MaxAttempts,
	}, radio, restarter, dispatcher, component(logger, "provisioning"))

	var dns node.DNSResponder
	responder, err := captive.Listen(cfg.Portal.DNSAddr, net.ParseIP(cfg.Portal.APIP), component(logger, "dns"))
	if err != nil {
		logger.Warn().Err(err).Msg("Captive DNS disabled")
	} else {
		defer responder.Close()
		dns = responder
	}

	sensorLogger := component(logger, "sensor")
	openSampler := func() (node.Sampler, error) {
		driver, err := sensor.Open(cfg.Sensor.Driver, cfg.Sensor.GPIOPin, cfg.Sensor.Retries)
		if err != nil {
			return nil, err
		}
		sensorLogger.Info().Str("driver", driver.Name()).Msg("Sensor initialised")
		return sensor.NewSampler(driver, clk, sensorLogger), nil
	}

	hub := server.NewHub(component(logger, "stream"), cfg.Stream.AllowedOrigins...)
	defer hub.Close()

	n, err := node.New(node.Config{
		NodeID:           cfg.Node.ID,
		Version:          cfg.Node.Version,
		SamplingInterval: cfg.Sampling.Interval,
		TickInterval:     cfg.Sampling.Tick,
		Thresholds: models.Thresholds{
			MinC:           *cfg.Alerts.MinC,
			MaxC:           *cfg.Alerts.MaxC,
			NotifyInterval: cfg.Alerts.NotifyInterval,
		},
		Alert: alert.Options{RearmOnRecovery: cfg.Alerts.RearmOnRecovery},
	}, node.Deps{
		Machine:     machine,
		Ring:        storage.NewRing(storage.Capacity),
		Clock:       clk,
		Dispatcher:  dispatcher,
		OpenSampler: openSampler,
		DNS:         dns,
		Telemetry:   mqttSink,
		Stream:      hub,
		Metrics:     m,
	}, component(logger, "node"))
	if err != nil {
		return err
	}

	srv, err := server.New(server.Config{
		Version:     cfg.Node.Version,
		SubmitRate:  cfg.Portal.SubmitRate,
		SubmitBurst: cfg.Portal.SubmitBurst,
	}, n, events, hub, m, component(logger, "http"))
	if err != nil {
		return err
	}
	if cleaner != nil {
		srv.SetRetention(cleaner)
	}

	httpServer := &http.Server{
		Addr:              cfg.Portal.Listen,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", httpServer.Addr).Msg("HTTP server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("HTTP server failed")
		}
	}()

	runErr := n.Run(ctx)

	logger.Info().Msg("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("HTTP server shutdown error")
	}

	if errors.Is(runErr, context.Canceled) {
		return nil
	}
	return runErr
}

// newClock uses NTP when a server is configured and the host clock otherwise.
func newClock(ctx context.Context, cfg config.ClockConfig, logger zerolog.Logger) (clock.Clock, error) {
	if cfg.NTPServer == "" {
		c, err := clock.NewSystemClock(cfg.Layout, cfg.Timezone)
		if err != nil {
			return nil, err
		}
		return c, nil
	}

	c, err := clock.NewNTPClock(clock.NTPConfig{
		Server:         cfg.NTPServer,
		Timezone:       cfg.Timezone,
		Layout:         cfg.Layout,
		SyncTimeout:    cfg.SyncTimeout,
		ResyncInterval: cfg.ResyncInterval,
	}, logger)
	if err != nil {
		return nil, err
	}
	go c.Run(ctx)
	return c, nil
}
