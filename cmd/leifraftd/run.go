package main

import (
	"context"
	"fmt"
	"math/rand"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/leifraft/leifraft/internal/collector"
	"github.com/leifraft/leifraft/internal/config"
	"github.com/leifraft/leifraft/internal/driver"
	"github.com/leifraft/leifraft/internal/httpapi"
	"github.com/leifraft/leifraft/internal/kvstore"
	"github.com/leifraft/leifraft/internal/raft"
	"github.com/leifraft/leifraft/internal/transport"
)

// collectorCapacity bounds how many role-transition snapshots GET
// /v1/status can report; older ones are dropped.
const collectorCapacity = 64

func newRunCmd() *cobra.Command {
	var configPath string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start a leifraft node",
		RunE: func(cmd *cobra.Command, args []string) error {
			if configPath == "" {
				return fmt.Errorf("run: --config is required")
			}
			level, err := zerolog.ParseLevel(logLevel)
			if err != nil {
				return fmt.Errorf("run: --log-level: %w", err)
			}
			zerolog.SetGlobalLevel(level)
			return runNode(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVar(&configPath, "config", "", "path to the node's YAML configuration file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "trace, debug, info, warn, error")
	return cmd
}

func runNode(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	serverID := raft.ServerId(cfg.ServerID)
	logger := log.With().Str("server_id", cfg.ServerID).Logger()

	store, err := raft.OpenFileStore(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("run: opening store: %w", err)
	}

	seed := cfg.RngSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	peerAddrs := cfg.PeerAddrs()
	tp := transport.NewGRPCTransport(serverID, peerAddrs, 0)

	lis, err := net.Listen("tcp", cfg.RaftAddr)
	if err != nil {
		return fmt.Errorf("run: listening on raft_addr %s: %w", cfg.RaftAddr, err)
	}
	tp.Listen(lis)
	defer tp.Stop()

	kv := kvstore.New()
	coll := collector.New(collectorCapacity)

	d := driver.New(serverID, store, cfg.RaftConfig(), rng, tp, kv, coll, nil)

	submitter := httpapi.NewNodeSubmitter(d, cfg.ClientAddrs())
	router := httpapi.NewRouter(kv, submitter, submitter)

	httpServer := &http.Server{Addr: cfg.ClientAddr, Handler: router}

	driverCtx, cancelDriver := context.WithCancel(ctx)
	defer cancelDriver()

	driverDone := make(chan error, 1)
	go func() { driverDone <- d.Run(driverCtx) }()

	httpDone := make(chan error, 1)
	go func() { httpDone <- httpServer.ListenAndServe() }()

	logger.Info().Str("raft_addr", cfg.RaftAddr).Str("client_addr", cfg.ClientAddr).Msg("leifraft node started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	select {
	case <-ctx.Done():
	case <-sigCh:
		logger.Info().Msg("shutdown signal received")
	case err := <-driverDone:
		if err != nil && err != context.Canceled {
			logger.Error().Err(err).Msg("driver loop exited")
		}
	case err := <-httpDone:
		if err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("http server exited")
		}
	}

	cancelDriver()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}
