package control

import "golang.org/x/time/rate"

// Default per-channel command rates.
const (
	DefaultDriveHz = 50
	DefaultKVMHz   = 100
)

// RateLimitConfig sets the sustained command rate per control channel.
// Bucket capacity is one second's worth of commands.
type RateLimitConfig struct {
	DriveHz int
	KVMHz   int
}

func DefaultRateLimits() RateLimitConfig {
	return RateLimitConfig{DriveHz: DefaultDriveHz, KVMHz: DefaultKVMHz}
}

// channelLimiters holds one token bucket per control channel. Rate-limit
// rejections are a distinct signal from invalid commands and never feed
// the safety counter.
type channelLimiters struct {
	drive *rate.Limiter
	kvm   *rate.Limiter
}

func newChannelLimiters(cfg RateLimitConfig) *channelLimiters {
	if cfg.DriveHz <= 0 {
		cfg.DriveHz = DefaultDriveHz
	}
	if cfg.KVMHz <= 0 {
		cfg.KVMHz = DefaultKVMHz
	}
	return &channelLimiters{
		drive: rate.NewLimiter(rate.Limit(cfg.DriveHz), cfg.DriveHz),
		kvm:   rate.NewLimiter(rate.Limit(cfg.KVMHz), cfg.KVMHz),
	}
}
