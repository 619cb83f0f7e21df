package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/burrow/pkg/api"
	"github.com/cuemby/burrow/pkg/client"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/health"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

const (
	joinTimeout     = 30 * time.Second
	shutdownTimeout = 10 * time.Second
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run a volume state store node",
	Long: `Run a node of the replicated volume state store.

Without --join the node bootstraps a new single-node cluster. With --join
it contacts the API of an existing node and asks to be added, presenting
a token from 'burrow cluster join-token'. A node restarting with existing
state rejoins its previous cluster and ignores both.

Examples:
  # First node
  burrow agent --node-id store-1 --bind-addr 10.0.0.1:7946 --api-addr 10.0.0.1:8080

  # Additional node
  burrow agent --node-id store-2 --bind-addr 10.0.0.2:7946 --api-addr 10.0.0.2:8080 \
    --join 10.0.0.1:8080 --token <token>`,
	RunE: runAgent,
}

func init() {
	agentCmd.Flags().String("node-id", "", "Unique node ID")
	agentCmd.Flags().String("bind-addr", "", "Address for Raft communication")
	agentCmd.Flags().String("api-addr", "", "Address for the gRPC API")
	agentCmd.Flags().String("read-only-addr", "", "Address for the read-only gRPC API (disabled when empty)")
	agentCmd.Flags().String("health-addr", "", "Address for the health and metrics HTTP server")
	agentCmd.Flags().String("data-dir", "", "Data directory for cluster state")
	agentCmd.Flags().String("join", "", "API address of a node in the cluster to join")
	agentCmd.Flags().String("token", "", "Join token")
}

func runAgent(cmd *cobra.Command, args []string) error {
	cluster := &cfg.Cluster
	overrideString(cmd, "node-id", &cluster.NodeID)
	overrideString(cmd, "bind-addr", &cluster.BindAddr)
	overrideString(cmd, "api-addr", &cluster.APIAddr)
	overrideString(cmd, "read-only-addr", &cluster.ReadOnlyAddr)
	overrideString(cmd, "health-addr", &cluster.HealthAddr)
	overrideString(cmd, "data-dir", &cluster.DataDir)
	overrideString(cmd, "join", &cluster.JoinAddr)
	overrideString(cmd, "token", &cluster.JoinToken)

	logger := log.WithNodeID(cluster.NodeID)
	logger.Info().
		Str("raft_addr", cluster.BindAddr).
		Str("api_addr", cluster.APIAddr).
		Str("data_dir", cluster.DataDir).
		Bool("tls", cfg.TLS.CertDir != "").
		Msg("Starting agent")

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	metrics.SetCriticalComponents("raft", "api")

	mgr, err := manager.NewManager(&manager.Config{
		NodeID:    cluster.NodeID,
		BindAddr:  cluster.BindAddr,
		APIAddr:   cluster.APIAddr,
		DataDir:   cluster.DataDir,
		JoinToken: joinTokenFor(cluster.JoinAddr, cluster.JoinToken),
		Dialer:    client.Dialer(client.Options{CertDir: cfg.TLS.CertDir}),
		Events:    broker,
	})
	if err != nil {
		return fmt.Errorf("failed to create manager: %w", err)
	}

	if cluster.JoinAddr == "" {
		err = mgr.Bootstrap()
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), joinTimeout)
		err = mgr.Join(ctx, cluster.JoinAddr, cluster.JoinToken)
		cancel()
	}
	if err != nil {
		_ = mgr.Shutdown()
		return err
	}
	metrics.RegisterComponent("raft", true, "started")

	var serverOpts []grpc.ServerOption
	if cfg.TLS.CertDir != "" {
		opt, err := api.TLSOption(cfg.TLS.CertDir)
		if err != nil {
			_ = mgr.Shutdown()
			return fmt.Errorf("failed to load server certificate: %w", err)
		}
		serverOpts = append(serverOpts, opt)
	}

	errCh := make(chan error, 3)

	apiServer := api.NewServer(mgr, serverOpts...)
	go func() {
		if err := apiServer.Start(cluster.APIAddr); err != nil {
			errCh <- fmt.Errorf("API server error: %w", err)
		}
	}()
	metrics.RegisterComponent("api", true, cluster.APIAddr)

	var readOnlyServer *api.Server
	if cluster.ReadOnlyAddr != "" {
		limit := api.RateLimit{
			RequestsPerSecond: cluster.ReadOnlyRequestsPerSecond,
			Burst:             cluster.ReadOnlyBurst,
		}
		readOnlyServer = api.NewReadOnlyServer(mgr, limit, serverOpts...)
		go func() {
			if err := readOnlyServer.Start(cluster.ReadOnlyAddr); err != nil {
				errCh <- fmt.Errorf("read-only API server error: %w", err)
			}
		}()
	}

	healthServer := api.NewHealthServer(mgr)
	go func() {
		if err := healthServer.Start(cluster.HealthAddr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("health server error: %w", err)
		}
	}()

	collector := metrics.NewCollector(mgr).RefreshOn(broker)
	collector.Start()

	rec := reconciler.NewReconciler(mgr, reconciler.Config{
		NodeID: cluster.NodeID,
		Probe: health.Config{
			Interval: cluster.ProbeInterval,
			Timeout:  cluster.ProbeTimeout,
			Retries:  cluster.ProbeRetries,
		},
		Events: broker,
	})
	rec.Start()

	go logEvents(logger, broker)

	logger.Info().Str("health_addr", cluster.HealthAddr).Msg("Agent is running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	var runErr error
	select {
	case sig := <-sigCh:
		logger.Info().Str("signal", sig.String()).Msg("Shutting down")
	case runErr = <-errCh:
		logger.Error().Err(runErr).Msg("Shutting down after server failure")
	}

	rec.Stop()
	collector.Stop()
	if readOnlyServer != nil {
		readOnlyServer.Stop()
	}
	apiServer.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := healthServer.Shutdown(ctx); err != nil {
		logger.Warn().Err(err).Msg("Health server shutdown failed")
	}

	if err := mgr.Shutdown(); err != nil {
		return fmt.Errorf("failed to shutdown: %w", err)
	}

	logger.Info().Msg("Shutdown complete")
	return runErr
}

// joinTokenFor returns the pre-shared token a bootstrapping node accepts.
// A joining node presents its token instead of accepting it.
func joinTokenFor(joinAddr, token string) string {
	if joinAddr != "" {
		return ""
	}
	return token
}

func logEvents(logger zerolog.Logger, broker *events.Broker) {
	sub := broker.Subscribe()
	for event := range sub {
		e := logger.Info().Str("event", string(event.Type))
		for k, v := range event.Metadata {
			e = e.Str(k, v)
		}
		e.Msg(event.Message)
	}
}
