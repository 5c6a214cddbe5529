package session

import (
	"time"

	"github.com/danmuck/ewbridge/internal/protocol"
)

// Config defines session timing, heartbeat, and framing defaults.
//
// A zero HeartbeatInterval disables local heartbeats and a zero
// SenderHeartRate disables remote staleness detection.
type Config struct {
	ConnectTimeout    time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	ReadCheckpoint    time.Duration
	MonitorInterval   time.Duration
	HeartbeatInterval time.Duration
	HeartbeatText     string
	HeartbeatLogo     protocol.Logo
	AckLogo           protocol.Logo
	SenderHeartRate   time.Duration
	SenderHeartText   string
	MaxMessageBytes   int
	QuietAfter        int
	Backoff           BackoffConfig
}

// DefaultConfig returns the defaults of the export import plugins.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    5 * time.Second,
		ReadTimeout:       80 * time.Second,
		WriteTimeout:      80 * time.Second,
		ReadCheckpoint:    time.Second,
		MonitorInterval:   time.Second,
		HeartbeatInterval: 120 * time.Second,
		HeartbeatText:     "alive",
		HeartbeatLogo:     protocol.Logo{Type: protocol.TypeHeartbeat},
		AckLogo:           protocol.Logo{Type: protocol.TypeAck},
		SenderHeartRate:   60 * time.Second,
		SenderHeartText:   "alive",
		MaxMessageBytes:   4096,
		QuietAfter:        3,
		Backoff: BackoffConfig{
			InitialDelay: 10 * time.Second,
			Multiplier:   1.0,
		},
	}
}

// WithDefaults fills unset mechanical settings. Heartbeat intervals are left
// alone because zero is meaningful for them.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = def.ReadTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = c.ReadTimeout
	}
	if c.ReadCheckpoint <= 0 {
		c.ReadCheckpoint = def.ReadCheckpoint
	}
	if c.ReadCheckpoint > c.ReadTimeout {
		c.ReadCheckpoint = c.ReadTimeout
	}
	if c.MonitorInterval <= 0 {
		c.MonitorInterval = def.MonitorInterval
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = def.MaxMessageBytes
	}
	if c.QuietAfter <= 0 {
		c.QuietAfter = def.QuietAfter
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

// Normalize raises ReadTimeout to SenderHeartRate when the heart rate is not
// shorter than it. The second result reports an adjustment.
func (c Config) Normalize() (Config, bool) {
	if c.SenderHeartRate > 0 && c.SenderHeartRate >= c.ReadTimeout {
		c.ReadTimeout = c.SenderHeartRate
		if c.WriteTimeout < c.ReadTimeout {
			c.WriteTimeout = c.ReadTimeout
		}
		return c, true
	}
	return c, false
}
