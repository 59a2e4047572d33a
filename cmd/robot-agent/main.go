// Package main is the entry point for the Robot Agent.
package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/datapilot/chainkvm/config"
	"github.com/datapilot/chainkvm/internal/audit"
	"github.com/datapilot/chainkvm/internal/gateway/token"
	"github.com/datapilot/chainkvm/internal/metrics"
	"github.com/datapilot/chainkvm/internal/robot/control"
	"github.com/datapilot/chainkvm/internal/robot/safety"
	"github.com/datapilot/chainkvm/internal/robot/session"
	"github.com/datapilot/chainkvm/internal/robot/transport"
	"github.com/datapilot/chainkvm/pkg/protocol"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	logger.Info("starting robot agent", zap.String("robot_id", cfg.RobotID))

	agent := newAgent(cfg, logger)
	if err := agent.run(ctx); err != nil {
		logger.Fatal("agent failed", zap.Error(err))
	}
}

// agent coordinates all Robot Agent components.
type agent struct {
	cfg    *config.Config
	logger *zap.Logger

	sessionMgr *session.Manager
	signaling  *session.SignalingClient
	transport  *transport.WebRTC
	safety     *safety.Monitor
	handler    *control.Handler
	audit      *audit.Publisher

	rttMetrics        *metrics.RTTTracker
	setupMetrics      *metrics.SetupCollector
	revocationMetrics *metrics.RevocationCollector
	currentRevocation *metrics.RevocationTimestamps
}

func newAgent(cfg *config.Config, logger *zap.Logger) *agent {
	return &agent{
		cfg:    cfg,
		logger: logger,
	}
}

func (a *agent) run(ctx context.Context) error {
	a.initComponents()

	go func() {
		if err := a.signaling.Connect(ctx); err != nil {
			a.logger.Error("signaling connection failed", zap.Error(err))
		}
	}()

	go a.runSafetyMonitor(ctx)
	go a.runRTTProbe(ctx)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		a.logger.Info("received signal, shutting down", zap.String("signal", sig.String()))
	case <-ctx.Done():
		a.logger.Info("context cancelled, shutting down")
	case <-a.signaling.Done():
		a.logger.Info("signaling connection closed")
	}

	return a.shutdown()
}

func (a *agent) initComponents() {
	tokenValidator := a.initTokenValidator()

	a.sessionMgr = session.NewManager(a.cfg.RobotID, tokenValidator)
	a.sessionMgr.SetStateChangeCallback(func(state session.State) {
		a.logger.Info("session state changed", zap.String("state", string(state)))
	})

	timeout := time.Duration(a.cfg.ControlLossTimeoutMS) * time.Millisecond
	a.safety = safety.NewMonitor(timeout, a.cfg.InvalidCmdThreshold, a.onSafeStop)

	a.rttMetrics = metrics.NewRTTTracker(0)
	a.setupMetrics = metrics.NewSetupCollector(0)
	a.revocationMetrics = metrics.NewRevocationCollector(0)

	robotAPI := control.NewStubRobotAPI(a.logger)
	staleThreshold := 200 * time.Millisecond
	a.handler = control.NewHandlerWithLimits(robotAPI, a.safety, a.sessionMgr, staleThreshold,
		control.RateLimitConfig{
			DriveHz: a.cfg.RateLimitDriveHz,
			KVMHz:   a.cfg.RateLimitKVMHz,
		})
	a.handler.SetLogger(a.logger)
	a.handler.SetRTTTracker(a.rttMetrics)

	iceConfig := transport.ICEConfig{
		STUNServers: a.cfg.STUNServers,
		TURNServers: a.cfg.TURNServers,
	}
	a.transport = transport.NewWebRTC(iceConfig, a.logger)

	a.signaling = session.NewSignalingClient(a.cfg.GatewayWSURL, a.cfg.RobotID, a.logger)
	a.signaling.SetHandler(a)

	a.audit = audit.NewPublisher(a.cfg.GatewayHTTPURL+"/v1/audit", 0, a.logger)

	a.logger.Info("components initialized")
}

func (a *agent) initTokenValidator() *session.TokenValidator {
	jwksFetcher := session.NewJWKSFetcher(a.cfg.GatewayJWKSURL, 5*time.Minute)
	if err := jwksFetcher.Refresh(); err != nil {
		a.logger.Warn("initial JWKS fetch failed", zap.Error(err))
	}

	pub, err := jwksFetcher.GetPublicKey(token.DefaultKeyID)
	if err != nil {
		a.logger.Warn("token validator not initialized", zap.Error(err))
		return nil
	}

	return session.NewTokenValidator(pub, a.cfg.RobotID, 30*time.Second)
}

func (a *agent) runSafetyMonitor(ctx context.Context) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.sessionMgr.State() == session.StateActive {
				a.safety.CheckControlLoss()
			}
		}
	}
}

// runRTTProbe sends a ping over the datachannel once per second while a
// session is active; the control handler matches the returning pong.
func (a *agent) runRTTProbe(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !a.sessionMgr.IsActive() {
				continue
			}
			seq := a.rttMetrics.Ping()
			data, err := json.Marshal(protocol.PingMessage{
				Type:  protocol.TypePing,
				Seq:   seq,
				TMono: time.Now().UnixNano(),
			})
			if err != nil {
				a.rttMetrics.Drop(seq)
				continue
			}
			if err := a.transport.SendData(data); err != nil {
				a.rttMetrics.Drop(seq)
			}
		}
	}
}

func (a *agent) shutdown() error {
	a.logger.Info("initiating graceful shutdown")

	a.safety.OnRevoked()

	if err := a.transport.Close(); err != nil {
		a.logger.Warn("error closing transport", zap.Error(err))
	}

	if err := a.signaling.Close(); err != nil {
		a.logger.Warn("error closing signaling", zap.Error(err))
	}

	a.audit.Close()
	if dropped := a.audit.Dropped(); dropped > 0 {
		a.logger.Warn("audit events dropped", zap.Int64("count", dropped))
	}

	reporter := metrics.Reporter{
		Setup:      a.setupMetrics,
		RTT:        a.rttMetrics,
		Revocation: a.revocationMetrics,
	}
	a.logger.Info("latency report",
		zap.String("report", reporter.Report(metrics.LANTargets).String()))

	a.logger.Info("shutdown complete")
	return nil
}
