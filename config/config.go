// Package config loads process configuration from the environment. An
// optional .env file in the working directory is applied first so local
// development does not need exported variables.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the Robot Agent configuration.
type Config struct {
	RobotID        string
	GatewayWSURL   string
	GatewayJWKSURL string
	GatewayHTTPURL string

	CameraDevice string
	VideoCodec   string
	VideoBitrate int
	VideoFPS     int

	ControlLossTimeoutMS int
	RateLimitDriveHz     int
	RateLimitKVMHz       int
	InvalidCmdThreshold  int

	STUNServers []string
	TURNServers []string
}

// Load reads the Robot Agent configuration from the environment.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		RobotID:              os.Getenv("ROBOT_ID"),
		GatewayWSURL:         os.Getenv("GATEWAY_WS_URL"),
		GatewayJWKSURL:       os.Getenv("GATEWAY_JWKS_URL"),
		GatewayHTTPURL:       os.Getenv("GATEWAY_HTTP_URL"),
		CameraDevice:         getEnv("CAMERA_DEVICE", "/dev/video0"),
		VideoCodec:           getEnv("VIDEO_CODEC", "vp8"),
		VideoBitrate:         getEnvInt("VIDEO_BITRATE", 1_000_000),
		VideoFPS:             getEnvInt("VIDEO_FPS", 30),
		ControlLossTimeoutMS: getEnvInt("CONTROL_LOSS_TIMEOUT_MS", 500),
		RateLimitDriveHz:     getEnvInt("RATE_LIMIT_DRIVE_HZ", 50),
		RateLimitKVMHz:       getEnvInt("RATE_LIMIT_KVM_HZ", 100),
		InvalidCmdThreshold:  getEnvInt("INVALID_CMD_THRESHOLD", 10),
		STUNServers:          getEnvList("STUN_SERVERS"),
		TURNServers:          getEnvList("TURN_SERVERS"),
	}

	if cfg.RobotID == "" {
		return nil, fmt.Errorf("ROBOT_ID is required")
	}
	if cfg.GatewayWSURL == "" {
		return nil, fmt.Errorf("GATEWAY_WS_URL is required")
	}
	if cfg.GatewayJWKSURL == "" {
		return nil, fmt.Errorf("GATEWAY_JWKS_URL is required")
	}
	if cfg.GatewayHTTPURL == "" {
		cfg.GatewayHTTPURL = httpFromWS(cfg.GatewayWSURL)
	}

	return cfg, nil
}

// GatewayConfig holds the Gateway configuration.
type GatewayConfig struct {
	ListenAddr   string
	SignalingURL string // public signaling URL handed to session clients

	TrustedIssuers []string
	ClockSkew      time.Duration
	TokenTTL       time.Duration

	PolicyFile     string
	RevocationFile string
	AuditLedger    string

	STUNServers []string
	TURNServers []string
}

// LoadGateway reads the Gateway configuration from the environment.
func LoadGateway() (*GatewayConfig, error) {
	_ = godotenv.Load()

	cfg := &GatewayConfig{
		ListenAddr:     getEnv("GATEWAY_LISTEN_ADDR", ":8443"),
		SignalingURL:   getEnv("GATEWAY_SIGNALING_URL", "wss://localhost:8443/v1/signal"),
		TrustedIssuers: getEnvList("TRUSTED_ISSUERS"),
		ClockSkew:      time.Duration(getEnvInt("CLOCK_SKEW_SECONDS", 60)) * time.Second,
		TokenTTL:       time.Duration(getEnvInt("TOKEN_TTL_SECONDS", 300)) * time.Second,
		PolicyFile:     os.Getenv("POLICY_FILE"),
		RevocationFile: getEnv("REVOCATION_FILE", "revocations.json"),
		AuditLedger:    getEnv("AUDIT_LEDGER_PATH", "audit-ledger.jsonl"),
		STUNServers:    getEnvList("STUN_SERVERS"),
		TURNServers:    getEnvList("TURN_SERVERS"),
	}

	return cfg, nil
}

// httpFromWS derives the HTTP base URL from the signaling URL by swapping
// the scheme (ws->http, wss->https) and dropping the path.
func httpFromWS(wsURL string) string {
	u, err := url.Parse(wsURL)
	if err != nil {
		return wsURL
	}
	switch u.Scheme {
	case "wss":
		u.Scheme = "https"
	case "ws":
		u.Scheme = "http"
	}
	u.Path = ""
	u.RawQuery = ""
	return u.String()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
