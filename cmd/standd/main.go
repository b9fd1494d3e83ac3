package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/proplab/standd/internal/api"
	"github.com/proplab/standd/internal/config"
	"github.com/proplab/standd/internal/dispatch"
	"github.com/proplab/standd/internal/logging"
	"github.com/proplab/standd/internal/registry"
	"github.com/proplab/standd/internal/state"
	"github.com/proplab/standd/internal/telemetry"
)

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func main() {

	configPath := getenv("STAND_CONFIG_PATH", "/etc/standd/hardware-config.json")
	mqttURL := getenv("MQTT_URL", "tcp://localhost:1883")
	httpAddr := getenv("HTTP_ADDR", ":8080")
	standName := getenv("STAND_NAME", "stand1")

	logging.Init()
	cfg, err := config.Load(configPath)
	if err != nil {
		logging.Fatal("config error", "error", err)
	}
	logging.Info("loaded config", "boards", len(cfg.Boards), "kinds", len(cfg.StateDefaults))

	store := state.NewStore(cfg.StaleFactor)

	reg, err := registry.New(cfg, store)
	if err != nil {
		logging.Fatal("registry init", "error", err)
	}
	dispatcher := dispatch.New(reg, store, cfg.CommandStaleness())

	// Graceful shutdown context
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	broker := telemetry.NewBroker(telemetry.Config{
		BrokerURL:   mqttURL,
		ClientID:    "standd-" + standName,
		TopicPrefix: "stand/" + standName,
		Heartbeat:   30 * time.Second,
	}, store, dispatcher)
	if err := broker.Connect(ctx); err != nil {
		logging.Error("mqtt connect", "error", err)
	} else {
		go broker.Run(ctx)
	}

	server := api.NewServer(store, reg, dispatcher)
	go func() {
		if err := server.Start(httpAddr); err != nil {
			logging.Fatal("http server", "error", err)
		}
	}()

	// One goroutine per board; they honor ctx
	reg.StartAll(ctx)

	// Wait for SIGINT/SIGTERM
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	s := <-sigCh
	logging.Info("shutting down", "signal", s)

	cancel()
	reg.StopAll()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer shutdownCancel()
	server.Shutdown(shutdownCtx)
	logging.Info("bye")
}
