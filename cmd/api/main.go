package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redpomodoro/fronius-modbus/internal/config"
	"github.com/redpomodoro/fronius-modbus/internal/mqtt"
	"github.com/redpomodoro/fronius-modbus/internal/server"
	"github.com/redpomodoro/fronius-modbus/pkg/fronius_modbus"

	"github.com/carlmjohnson/versioninfo"
	"github.com/lmittmann/tint"
	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func gracefulShutdown(apiServer *http.Server, done chan bool) {
	// Create context that listens for the interrupt signal from the OS.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Listen for the interrupt signal.
	<-ctx.Done()

	log.Println("shutting down gracefully, press Ctrl+C again to force")

	// The context is used to inform the server it has 5 seconds to finish
	// the request it is currently handling
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := apiServer.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown with error: %v", err)
	}

	log.Println("Server exiting")

	// Notify the main goroutine that the shutdown is complete
	done <- true
}

func main() {

	// load and print config
	cfg, err := initConfig()
	if err != nil {
		slog.Error("config errors", "error", err)
		return
	}
	slog.SetDefault(slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      slogLevel(cfg.LogLevel),
		TimeFormat: time.DateTime,
	})))
	slog.Info("fronius-modbus", "version", versioninfo.Short())
	safePrintConfig(*cfg)

	// zap logger
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(cfg.LogLevel)

	logger := zap.Must(zapCfg.Build())
	defer logger.Sync()

	session, err := fronius_modbus.NewTCPSession(cfg.InverterModbusTcp.Host,
		cfg.InverterModbusTcp.Port, cfg.InverterModbusTcp.Timeout(), logger)
	if err != nil {
		logger.Fatal("could not create modbus session", zap.Error(err))
	}

	hub := fronius_modbus.NewHub(fronius_modbus.HubParams{
		Host:           cfg.InverterModbusTcp.Host,
		InverterUnitID: uint8(cfg.InverterModbusTcp.InverterId),
		MeterUnitIDs:   cfg.InverterModbusTcp.MeterUnitIds(),
		ScanInterval:   cfg.InverterModbusTcp.ScanInterval(),
	}, session, logger)

	if err := hub.Start(context.Background()); err != nil {
		logger.Fatal("could not start polling hub", zap.Error(err))
	}

	publisher := mqtt.NewPublisher(cfg, hub, logger)
	if err := publisher.Start(); err != nil {
		hub.Stop()
		logger.Fatal("could not start MQTT publisher", zap.Error(err))
	}

	apiServer := server.NewServer(*cfg, hub, logger)
	// Create a done channel to signal when the shutdown is complete
	done := make(chan bool, 1)

	// Run graceful shutdown in a separate goroutine
	go gracefulShutdown(apiServer, done)

	err = apiServer.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		panic(fmt.Sprintf("http server error: %s", err))
	}

	// Wait for the graceful shutdown to complete
	<-done
	log.Println("Graceful shutdown complete.")

	publisher.Stop()
	hub.Stop()
}

func initConfig() (*config.Config, error) {

	// alias PORT => FRONIUSMODBUS_PORT
	if port := os.Getenv("PORT"); port != "" {
		os.Setenv("FRONIUSMODBUS_PORT", port)
	}

	setConfigDefaults()

	viper.SetEnvPrefix("froniusmodbus")
	viper.AutomaticEnv()

	// if defined, try to load config from yaml file
	if cfgFile := os.Getenv("CONFIG_FILE"); cfgFile != "" {
		if _, err := os.Stat(cfgFile); err == nil {
			slog.Info("Using config", "file", cfgFile)
			viper.SetConfigFile(cfgFile)

			err = viper.ReadInConfig()
			if err != nil {
				slog.Error("Error reading config file", "error", err)
			}
		}
	}

	var cfg config.Config

	err := viper.Unmarshal(&cfg)
	if err != nil {
		return nil, err
	}

	// parse log level
	switch viper.GetString("log_level") {
	case "trace":
		cfg.LogLevel = zap.DebugLevel
	case "debug":
		cfg.LogLevel = zap.DebugLevel
	case "info":
		cfg.LogLevel = zap.InfoLevel
	case "error":
		cfg.LogLevel = zap.ErrorLevel
	case "warn":
		cfg.LogLevel = zap.WarnLevel
	case "fatal":
		cfg.LogLevel = zap.FatalLevel
	default:
		cfg.LogLevel = zap.InfoLevel
	}

	// check and fix base topic
	baseTopic, err := config.CheckMQTTTopic(cfg.MQTT.BaseTopic)
	if err != nil {
		return nil, errors.New("invalid base topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.BaseTopic = baseTopic

	// check and fix homeassistant discovery topic
	hadBaseTopic, err := config.CheckMQTTTopic(cfg.MQTT.HADiscoveryTopic)
	if err != nil {
		return nil, errors.New("invalid homeassistant discovery topic. can only contain letters, numbers and underscores")
	}
	cfg.MQTT.HADiscoveryTopic = hadBaseTopic

	// check bounds
	if cfg.InverterModbusTcp.Host == "" {
		return nil, errors.New("config param inverter_modbus_tcp.host is required")
	}
	if cfg.InverterModbusTcp.ScanIntervalSeconds < 2 {
		return nil, errors.New("config param inverter_modbus_tcp.scan_interval_seconds should be >= 2")
	}
	if cfg.InverterModbusTcp.InverterId > 255 {
		return nil, errors.New("config param inverter_modbus_tcp.inverter_id should be <= 255")
	}
	for _, id := range cfg.InverterModbusTcp.MeterIds {
		if id > 255 {
			return nil, errors.New("config param inverter_modbus_tcp.meter_ids entries should be <= 255")
		}
	}
	if len(cfg.InverterModbusTcp.MeterIds) > 5 {
		return nil, errors.New("config param inverter_modbus_tcp.meter_ids should list at most 5 meters")
	}

	return &cfg, nil
}

func slogLevel(level zapcore.Level) slog.Level {
	switch level {
	case zap.DebugLevel:
		return slog.LevelDebug
	case zap.InfoLevel:
		return slog.LevelInfo
	case zap.WarnLevel:
		return slog.LevelWarn
	default:
		return slog.LevelError
	}
}

func setConfigDefaults() {
	viper.SetDefault("log_level", "warn")
	viper.SetDefault("mqtt.ha_discovery_enable", false)
	viper.SetDefault("mqtt.base_topic", "fronius")
	viper.SetDefault("mqtt.ha_discovery_topic", "homeassistant")
	viper.SetDefault("inverter_modbus_tcp.port", 502)
	viper.SetDefault("inverter_modbus_tcp.inverter_id", 1)
	viper.SetDefault("inverter_modbus_tcp.scan_interval_seconds", 10)
	viper.SetDefault("port", 8080)
}

func safePrintConfig(cfg config.Config) {
	cfg.MQTT.Username = "*redacted*"
	cfg.MQTT.Password = "*redacted*"
	slog.Info("Using", "config", cfg)
}
