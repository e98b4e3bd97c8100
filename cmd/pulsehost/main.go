// Command pulsehost is the plugin host process: it wires the
// DataStore, the event task, the dashboard websocket bridge, the
// settings store, and the host runtime together and runs until
// interrupted.
package main

import (
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/streamspace/pulsehost/internal/datastore"
	"github.com/streamspace/pulsehost/internal/eventtask"
	"github.com/streamspace/pulsehost/internal/host"
	"github.com/streamspace/pulsehost/internal/logger"
	"github.com/streamspace/pulsehost/internal/settings"
	"github.com/streamspace/pulsehost/internal/wsbridge"
)

func main() {
	logger.Initialize(getEnv("PULSEHOST_LOG_LEVEL", "info"), getEnv("PULSEHOST_LOG_PRETTY", "false") == "true")
	log := logger.Host()

	var store settings.Store
	if dsn := getEnv("PULSEHOST_POSTGRES_DSN", ""); dsn != "" {
		pgStore, err := settings.NewPostgresStore(dsn)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize postgres settings store")
		}
		log.Info().Msg("using postgres-backed settings store")
		store = pgStore
	} else {
		fileStore, err := settings.NewFileStore(getEnv("PULSEHOST_SETTINGS_DIR", "./settings"))
		if err != nil {
			log.Fatal().Err(err).Msg("failed to initialize settings store")
		}
		store = fileStore
	}

	run(store)
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func run(store settings.Store) {
	log := logger.Host()

	events := eventtask.New(getEnvInt("PULSEHOST_EVENT_BUFFER", 256))
	go events.Run()

	ds := datastore.New(events.Inbox, nil)
	hub := wsbridge.NewHub(ds)
	ds.SetWSSender(hub)

	if addr := getEnv("PULSEHOST_REDIS_ADDR", ""); addr != "" {
		relay := wsbridge.NewRedisRelay(addr)
		hub.SetRelay(relay)
		log.Info().Str("addr", addr).Msg("dashboard relay enabled")
	}
	go hub.Run()

	discovery := host.NewDiscovery(getEnv("PULSEHOST_PLUGIN_DIR", "./plugins"))
	runtime := host.NewRuntime(discovery, ds, events.Inbox)
	runtime.SetSettings(store)

	sweepExpr := getEnv("PULSEHOST_SETTINGS_SWEEP_CRON", "*/5 * * * *")
	sweep, err := host.NewSettingsSweep(store, sweepExpr)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid settings sweep cron expression")
	}
	sweep.Start()
	defer sweep.Stop()

	httpAddr := getEnv("PULSEHOST_LISTEN_ADDR", ":8787")
	server := &http.Server{
		Addr:              httpAddr,
		Handler:           hub,
		ReadHeaderTimeout: getEnvDuration("PULSEHOST_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
	}
	go func() {
		log.Info().Str("addr", httpAddr).Msg("dashboard websocket listener starting")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("dashboard listener stopped")
		}
	}()

	runtime.Start()
	log.Info().Strs("plugins", runtime.ListLoaded()).Msg("host runtime started")

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	log.Info().Msg("shutdown signal received")
	runtime.Stop()
	_ = server.Close()
}
