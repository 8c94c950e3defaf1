package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/stoatdb/stoat/cfg"
	"github.com/stoatdb/stoat/coordinator"
	"github.com/stoatdb/stoat/node"
	"github.com/stoatdb/stoat/shard"
	"github.com/stoatdb/stoat/telemetry"
	"github.com/stoatdb/stoat/wire"
)

func main() {
	flag.Parse()

	if err := cfg.Load(*cfg.ConfigPathFlag); err != nil {
		panic(err)
	}
	if err := cfg.Validate(); err != nil {
		panic(fmt.Sprintf("Invalid configuration: %v", err))
	}

	// Setup logging
	var writer io.Writer = zerolog.NewConsoleWriter()
	if cfg.Config.Logging.Format == "json" {
		writer = os.Stdout
	}
	gLog := zerolog.New(writer).
		With().
		Timestamp().
		Str("role", string(cfg.Config.Role)).
		Logger()

	if cfg.Config.Logging.Verbose {
		log.Logger = gLog.Level(zerolog.DebugLevel)
	} else {
		log.Logger = gLog.Level(zerolog.InfoLevel)
	}

	log.Info().Msg("stoat - distributed KV with switchable concurrency control")
	telemetry.InitializeTelemetry()
	startMetricsServer()

	var server *wire.Server
	switch cfg.Config.Role {
	case cfg.RoleNode:
		server = startNode()
	case cfg.RoleCoordinator:
		server = startCoordinator()
	}

	if err := server.Start(); err != nil {
		log.Fatal().Err(err).Msg("Failed to start RPC server")
		return
	}
	defer server.Stop()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Info().Str("signal", sig.String()).Msg("Shutting down")
}

func startNode() *wire.Server {
	n := node.NewNode(
		cfg.Config.Node.Index,
		cfg.Config.Lock.WoundedTIDSize,
		time.Duration(cfg.Config.Lock.WaitTimeoutMS)*time.Millisecond,
	)

	address := fmt.Sprintf("%s:%d", cfg.Config.Node.BindAddress, cfg.Config.Node.Port)
	log.Info().Int("shard", cfg.Config.Node.Index).Str("address", address).Msg("Starting data node")
	return wire.NewServer(address, n)
}

func startCoordinator() *wire.Server {
	shards := shard.NewMap(cfg.Config.Coordinator.Nodes)
	coord := coordinator.New(shards, wire.NewClient(), coordinator.Options{
		ApplyTimeout:       time.Duration(cfg.Config.Coordinator.ApplyTimeoutMS) * time.Millisecond,
		ApplyRetries:       cfg.Config.Coordinator.ApplyRetries,
		PruneEveryNCommits: cfg.Config.History.PruneEveryNCommits,
		MaxTxnAge:          cfg.Config.Coordinator.MaxTxnAge,
	})

	address := fmt.Sprintf("%s:%d", cfg.Config.Coordinator.BindAddress, cfg.Config.Coordinator.Port)
	log.Info().
		Strs("nodes", cfg.Config.Coordinator.Nodes).
		Str("address", address).
		Msg("Starting coordinator")
	return wire.NewServer(address, coordinator.NewHandler(coord))
}

func startMetricsServer() {
	handler := telemetry.GetMetricsHandler()
	if handler == nil {
		return
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	address := fmt.Sprintf("%s:%d", cfg.Config.Prometheus.Address, cfg.Config.Prometheus.Port)

	go func() {
		log.Info().Str("address", address).Msg("Serving Prometheus metrics")
		if err := http.ListenAndServe(address, mux); err != nil {
			log.Error().Err(err).Msg("Metrics server failed")
		}
	}()
}
