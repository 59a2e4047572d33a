// Package main is the entry point for the Teleoperation Gateway.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/datapilot/chainkvm/config"
	"github.com/datapilot/chainkvm/internal/audit"
	"github.com/datapilot/chainkvm/internal/gateway/api"
	"github.com/datapilot/chainkvm/internal/gateway/did"
	"github.com/datapilot/chainkvm/internal/gateway/policy"
	"github.com/datapilot/chainkvm/internal/gateway/registry"
	"github.com/datapilot/chainkvm/internal/gateway/signaling"
	"github.com/datapilot/chainkvm/internal/gateway/token"
	"github.com/datapilot/chainkvm/internal/gateway/vc"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.LoadGateway()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("starting gateway", zap.String("listen", cfg.ListenAddr))

	keys, err := token.NewEphemeralKeyManager()
	if err != nil {
		logger.Fatal("failed to initialize signing key", zap.Error(err))
	}
	logger.Warn("using ephemeral signing key; tokens do not survive restart",
		zap.String("kid", keys.KeyID()))

	reg := registry.New(registry.NewRevocationCache(0), registry.NewFileStore(cfg.RevocationFile), logger)
	if restored, err := reg.Restore(); err != nil {
		logger.Warn("revocation restore failed", zap.Error(err))
	} else if restored > 0 {
		logger.Info("restored revocations", zap.Int("count", restored))
	}
	reg.StartCleanup(time.Minute)

	expiry := registry.NewNearExpiryMonitor(reg, 0, 0, nil, logger)
	expiry.Start()

	policies := policy.NewStore(0)
	if cfg.PolicyFile != "" {
		ids, err := policy.LoadFile(policies, cfg.PolicyFile)
		if err != nil {
			logger.Fatal("failed to load policy file",
				zap.String("path", cfg.PolicyFile),
				zap.Error(err))
		}
		logger.Info("policies loaded", zap.Strings("ids", ids))
	} else {
		id, name, rules := policy.DefaultTeleopPolicy()
		if _, err := policies.Create(id, name, rules); err != nil {
			logger.Fatal("failed to install default policy", zap.Error(err))
		}
		logger.Info("default teleop policy installed", zap.String("id", id))
	}

	if len(cfg.TrustedIssuers) == 0 {
		logger.Warn("no trusted issuers configured; all credentials will be denied")
	}
	verifier := vc.NewVerifier(
		vc.NewTrustedIssuers(cfg.TrustedIssuers...),
		did.NewResolver(300, 1024),
		cfg.ClockSkew,
	)

	hub := signaling.NewHub(signaling.NewRegistryAuthorizer(keys.PublicKey(), reg), logger)

	ledger, err := audit.OpenFileLedger(cfg.AuditLedger)
	if err != nil {
		logger.Fatal("failed to open audit ledger",
			zap.String("path", cfg.AuditLedger),
			zap.Error(err))
	}

	counters := api.NewCounters(prometheus.DefaultRegisterer)
	server := api.NewServer(
		verifier,
		policies,
		token.NewGenerator(keys),
		keys,
		reg,
		hub,
		ledger,
		counters,
		api.Options{
			SignalingURL: cfg.SignalingURL,
			STUNServers:  cfg.STUNServers,
			TURNServers:  cfg.TURNServers,
			TokenTTL:     cfg.TokenTTL,
		},
		logger,
	)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Router(prometheus.DefaultGatherer),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("http server failed", zap.Error(err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}

	expiry.Stop()
	reg.StopCleanup()
	if err := ledger.Close(); err != nil {
		logger.Warn("ledger close", zap.Error(err))
	}

	logger.Info("shutdown complete")
}
