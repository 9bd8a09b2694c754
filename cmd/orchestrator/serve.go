package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"google.golang.org/grpc"

	"github.com/AltairaLabs/codegen-orchestrator/internal/config"
	"github.com/AltairaLabs/codegen-orchestrator/internal/credential"
	"github.com/AltairaLabs/codegen-orchestrator/internal/events"
	"github.com/AltairaLabs/codegen-orchestrator/internal/gitident"
	"github.com/AltairaLabs/codegen-orchestrator/internal/server"
	"github.com/AltairaLabs/codegen-orchestrator/internal/session"
	"github.com/AltairaLabs/codegen-orchestrator/internal/telemetry"
	"github.com/AltairaLabs/codegen-orchestrator/internal/vault/agefile"
	vaultmemory "github.com/AltairaLabs/codegen-orchestrator/internal/vault/memory"
	"github.com/AltairaLabs/codegen-orchestrator/internal/workspace"
)

// grpcStopTimeout bounds GracefulStop before forcing the gRPC server down
const grpcStopTimeout = 2 * time.Second

// openVault selects the age file vault when configured, otherwise an
// in-memory vault seeded from provider environment variables.
func openVault(cfg config.Config, logger *slog.Logger) (credential.Vault, error) {
	if cfg.Credentials.VaultFile != "" {
		v, err := agefile.Open(cfg.Credentials.VaultFile, cfg.Credentials.VaultIdentityFile)
		if err != nil {
			return nil, fmt.Errorf("opening vault: %w", err)
		}
		logger.Info("Using encrypted key file vault", "path", cfg.Credentials.VaultFile)
		return v, nil
	}

	v := vaultmemory.New()
	for p, spec := range credential.DefaultProviders() {
		key := os.Getenv(spec.EnvVar)
		if key == "" {
			continue
		}
		v.Put(vaultmemory.AnyWorkspace, p, key)
		logger.Warn("Seeded in-memory vault from the environment; every workspace shares this key",
			"provider", string(p),
			"env_var", spec.EnvVar,
		)
	}
	return v, nil
}

func bridgeOptions(cfg config.Config) (credential.Options, error) {
	opts := credential.DefaultOptions()
	opts.FetchTimeout = cfg.Credentials.FetchTimeout
	opts.VerifyTimeout = cfg.Credentials.VerifyTimeout
	opts.VerifyInterval = cfg.Credentials.VerifyInterval
	if len(cfg.Credentials.BaseURLs) > 0 {
		opts.BaseURLs = make(map[credential.Provider]string, len(cfg.Credentials.BaseURLs))
		for name, url := range cfg.Credentials.BaseURLs {
			p, err := credential.ParseProvider(name)
			if err != nil {
				return opts, fmt.Errorf("credentials.base_urls: %w", err)
			}
			opts.BaseURLs[p] = url
		}
	}
	return opts, nil
}

// eventSink fans events out to the log, the in-process broadcaster and, when
// configured, a Redis stream. The returned close func releases the Redis client.
func eventSink(cfg config.Config, broadcaster *events.Broadcaster, logger *slog.Logger) (events.Sink, func() error) {
	sinks := events.MultiSink{events.LogSink{Logger: logger}, broadcaster}
	if cfg.Events.RedisAddr == "" {
		return sinks, func() error { return nil }
	}
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Events.RedisAddr})
	logger.Info("Publishing session events to Redis",
		"addr", cfg.Events.RedisAddr,
		"stream", cfg.Events.RedisStream,
	)
	sinks = append(sinks, events.NewRedisStreamSink(rdb, cfg.Events.RedisStream, cfg.Events.RedisMaxLen))
	return sinks, rdb.Close
}

// newSessionManager wires every collaborator of the lifecycle manager
func newSessionManager(cfg config.Config, sink events.Sink, logger *slog.Logger) (*session.Manager, error) {
	vault, err := openVault(cfg, logger)
	if err != nil {
		return nil, err
	}
	bridgeOpts, err := bridgeOptions(cfg)
	if err != nil {
		return nil, err
	}
	workspaces, err := workspace.NewManager(cfg.Workspace.BasePath, cfg.Workspace.SensitivePatterns, logger)
	if err != nil {
		return nil, err
	}
	git := gitident.New(gitident.NewExecRunner(cfg.Git.Binary), gitident.Options{
		AuthorName:  cfg.Git.AuthorName,
		AuthorEmail: cfg.Git.AuthorEmail,
		Timeout:     cfg.Git.Timeout,
	}, logger)

	return session.NewManager(session.Deps{
		Workspaces:  workspaces,
		Credentials: credential.NewBridge(vault, bridgeOpts, logger),
		Git:         git,
		Sink:        sink,
		Telemetry:   telemetry.New(),
	}, session.Options{
		Command:        cfg.CLI.Command,
		ExtraArgs:      cfg.CLI.ExtraArgs,
		PassEnv:        cfg.CLI.PassEnv,
		KillGrace:      cfg.Lifecycle.KillGrace,
		OnSpawnFailure: cfg.Workspace.OnSpawnFailure,
	}, logger)
}

func runServe(parent context.Context, cfg config.Config, logger *slog.Logger) error {
	slog.SetDefault(logger)
	logger.Info("Starting CodeGen Orchestrator",
		"version", version,
		"debug", cfg.Debug,
		"grpc_port", cfg.Server.GRPCPort,
		"http_mode", cfg.Server.HTTPMode,
		"http_port", cfg.Server.HTTPPort,
		"base_path", cfg.Workspace.BasePath,
	)

	broadcaster := events.NewBroadcaster(cfg.Events.SubscriberBuffer, logger)
	sink, closeSink := eventSink(cfg, broadcaster, logger)
	defer func() {
		if err := closeSink(); err != nil {
			logger.Warn("Closing event sink failed", "error", err)
		}
	}()

	manager, err := newSessionManager(cfg, sink, logger)
	if err != nil {
		return err
	}

	mcpServer := server.NewMCPServer(server.Config{
		Name:           cfg.Server.Name,
		Version:        cfg.Server.Version,
		DefaultTimeout: cfg.Lifecycle.DefaultTimeout,
	}, manager, server.NewAuditLogger(logger), logger)

	health := server.NewHealth(manager.Accepting)
	grpcServer := grpc.NewServer()
	health.Register(grpcServer)

	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	listenConfig := net.ListenConfig{}
	lis, err := listenConfig.Listen(ctx, "tcp", ":"+cfg.Server.GRPCPort)
	if err != nil {
		return fmt.Errorf("failed to listen on port %s: %w", cfg.Server.GRPCPort, err)
	}

	go func() {
		logger.Info("Starting gRPC health server", "port", cfg.Server.GRPCPort)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
			cancel()
		}
	}()
	go health.Run(ctx, server.DefaultHealthInterval)

	notifications, unsubscribe := broadcaster.Subscribe()
	defer unsubscribe()
	go mcpServer.ForwardEvents(ctx, notifications)

	go func() {
		var err error
		if cfg.Server.HTTPMode {
			err = mcpServer.ServeHTTP(":" + cfg.Server.HTTPPort)
		} else {
			err = mcpServer.Serve()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("MCP server error", "error", err)
		}
		cancel()
	}()

	<-ctx.Done()
	logger.Info("Shutting down gracefully")
	health.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Lifecycle.ShutdownTimeout)
	defer shutdownCancel()

	if err := manager.Shutdown(shutdownCtx); err != nil {
		logger.Error("Session shutdown incomplete", "error", err)
	}
	if err := mcpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("MCP server shutdown error", "error", err)
	}
	stopGRPC(grpcServer, logger)

	logger.Info("Orchestrator shutdown complete")
	return nil
}

// stopGRPC tries a graceful stop and forces it after grpcStopTimeout
func stopGRPC(s *grpc.Server, logger *slog.Logger) {
	done := make(chan struct{})
	go func() {
		s.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		logger.Info("gRPC server stopped gracefully")
	case <-time.After(grpcStopTimeout):
		logger.Warn("Graceful shutdown timeout, forcing stop")
		s.Stop()
		<-done
	}
}
