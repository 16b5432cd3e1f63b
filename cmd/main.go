package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"goodhome/internal/account"
	"goodhome/internal/api"
	"goodhome/internal/bridge"
	"goodhome/internal/clock"
	"goodhome/internal/config"
	"goodhome/internal/confirm"
	"goodhome/internal/coordinator"
	"goodhome/internal/goodhome"
	"goodhome/internal/ha"
	"goodhome/internal/mqtt"
	"goodhome/internal/telemetry"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	check := flag.Bool("check", false, "validate the GoodHome credentials and exit")
	flag.Parse()

	// Initialize logger
	level := zap.NewAtomicLevelAt(zapcore.InfoLevel)
	logCfg := zap.NewProductionConfig()
	logCfg.Level = level
	logger, err := logCfg.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	config.LoadDotEnv(logger)

	cfg, err := config.Load(config.Path(os.Getenv), logger)
	if err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}
	if cfg.LogLevel != "" {
		if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
			logger.Warn("Unknown log level, keeping info", zap.String("level", cfg.LogLevel))
		}
	}

	clientCfg := goodhome.Config{
		BaseURL:  cfg.Vendor.BaseURL,
		Email:    cfg.Vendor.Email,
		Password: cfg.Vendor.Password,
		UserID:   cfg.Vendor.UserID,
		Token:    cfg.Vendor.Token,
		Timeout:  cfg.Vendor.HTTPTimeout.Std(),
	}

	if *check {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := account.ValidateCredentials(ctx, clientCfg, logger)
		cancel()
		if err != nil {
			logger.Error("GoodHome credentials are not usable", zap.Error(err))
			os.Exit(1)
		}
		logger.Info("Credentials are valid")
		return
	}

	if err := run(cfg, clientCfg, logger); err != nil {
		logger.Fatal("Bridge stopped", zap.Error(err))
	}
}

func run(cfg *config.Config, clientCfg goodhome.Config, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	registry.MustRegister(goodhome.MetricsCollectors()...)
	registry.MustRegister(confirm.MetricsCollectors()...)
	registry.MustRegister(coordinator.MetricsCollectors()...)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting GoodHome bridge",
		zap.String("base_url", clientCfg.BaseURL),
		zap.Duration("refresh_interval", cfg.RefreshInterval.Std()),
		zap.Bool("mqtt", cfg.MQTT.Enabled()),
		zap.Bool("home_assistant", cfg.HomeAssistant.Enabled),
		zap.Bool("influxdb", cfg.InfluxDB.Enabled))

	clk := clock.NewRealClock()
	acct := account.New(account.Config{
		Client:           clientCfg,
		RefreshInterval:  cfg.RefreshInterval.Std(),
		ProactiveRefresh: cfg.Vendor.ProactiveRefresh,
		Policy: confirm.Policy{
			Attempts: cfg.Confirm.Attempts,
			Interval: cfg.Confirm.Interval.Std(),
			Debounce: cfg.Confirm.Debounce.Std(),
		},
		RatedPower: cfg.RatedPower(),
	}, clk, logger)
	defer acct.Close()

	if err := acct.Setup(ctx); err != nil {
		return fmt.Errorf("account setup: %w", err)
	}

	if cfg.InfluxDB.Enabled {
		influx, err := telemetry.Connect(cfg.InfluxDB, logger.Named("influxdb"))
		if err != nil {
			logger.Warn("Telemetry disabled", zap.Error(err))
		} else {
			defer influx.Close()
			recorder := telemetry.NewRecorder(influx, cfg.RatedPower(), clk, logger.Named("telemetry"))
			acct.Coordinator().Subscribe(recorder.OnRefresh)
		}
	}

	if cfg.MQTT.Enabled() {
		client, err := mqtt.Connect(cfg.MQTT, logger.Named("mqtt"))
		if err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
		defer client.Close()

		topics := bridge.Topics{DiscoveryPrefix: cfg.MQTT.DiscoveryPrefix, Base: cfg.MQTT.BaseTopic}
		b := bridge.New(client, acct, topics, client.QoS(), logger.Named("bridge"))
		acct.Observe(b)
		acct.Coordinator().Subscribe(b.OnRefresh)
		if err := b.Start(); err != nil {
			return fmt.Errorf("mqtt bridge: %w", err)
		}
		defer b.Close()
	}

	if cfg.HomeAssistant.Enabled {
		haClient := ha.NewClient(cfg.HomeAssistant.URL, cfg.HomeAssistant.Token, logger.Named("ha"))
		if err := haClient.Connect(); err != nil {
			return fmt.Errorf("home assistant: %w", err)
		}
		defer haClient.Disconnect()

		events := bridge.NewEvents(haClient, acct, logger.Named("events"))
		if err := events.Start(); err != nil {
			return fmt.Errorf("home assistant events: %w", err)
		}
		acct.Observe(events)
		defer events.Close()
	}

	server := api.NewServer(acct, registry, logger.Named("api"), cfg.API.Port)
	if err := server.Start(); err != nil {
		return err
	}
	defer func() {
		if err := server.Stop(); err != nil {
			logger.Warn("HTTP API shutdown failed", zap.Error(err))
		}
	}()

	logger.Info("GoodHome bridge running", zap.Int("entities", len(acct.Entities())))

	<-ctx.Done()
	logger.Info("Shutting down gracefully...")
	return nil
}
