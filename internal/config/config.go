package config

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/danmuck/ewbridge/internal/link"
	"github.com/danmuck/ewbridge/internal/protocol"
	"github.com/danmuck/ewbridge/internal/protocol/session"
	"github.com/danmuck/ewbridge/internal/tracebuf"
)

// Config is the complete bridge configuration.
type Config struct {
	Topology  link.Topology
	Address   string
	StationID tracebuf.StationIDMode
	Heartbeat HeartbeatConfig
	Timeouts  TimeoutConfig
	Limits    LimitsConfig
	Types     TypesConfig
	Admin     AdminConfig
	Sinks     SinksConfig
}

type HeartbeatConfig struct {
	Interval       time.Duration
	Text           string
	Logo           protocol.Logo
	SenderInterval time.Duration
	SenderText     string
}

type TimeoutConfig struct {
	Connect time.Duration
	Read    time.Duration
	Write   time.Duration
	Retry   time.Duration
}

type LimitsConfig struct {
	MaxMessageBytes int
}

type TypesConfig struct {
	AckLogo   protocol.Logo
	TraceBuf  uint8
	TraceBuf2 uint8
}

type AdminConfig struct {
	Enabled     bool
	Addr        string
	CorsOrigins []string
	// Token, when set, is required as a bearer token on /status and /stream.
	Token   string
	TLSCert string
	TLSKey  string
}

type SinksConfig struct {
	Log       LogSinkConfig
	NATS      NATSSinkConfig
	WebSocket WebSocketSinkConfig
}

type LogSinkConfig struct {
	Enabled bool
}

type NATSSinkConfig struct {
	Enabled       bool
	URL           string
	SubjectPrefix string
	ClientName    string
}

type WebSocketSinkConfig struct {
	Enabled    bool
	SendBuffer int
}

// Default mirrors the stock export import settings: dial out, beat every
// 120s, expect the export to beat every 60s.
func Default() Config {
	s := session.DefaultConfig()
	d := tracebuf.DefaultConfig()
	return Config{
		Topology:  link.TopologyActive,
		Address:   "127.0.0.1:16005",
		StationID: tracebuf.StationIDNetSta,
		Heartbeat: HeartbeatConfig{
			Interval:       s.HeartbeatInterval,
			Text:           s.HeartbeatText,
			Logo:           s.HeartbeatLogo,
			SenderInterval: s.SenderHeartRate,
			SenderText:     s.SenderHeartText,
		},
		Timeouts: TimeoutConfig{
			Connect: s.ConnectTimeout,
			Read:    s.ReadTimeout,
			Write:   s.WriteTimeout,
			Retry:   s.Backoff.InitialDelay,
		},
		Limits: LimitsConfig{MaxMessageBytes: s.MaxMessageBytes},
		Types: TypesConfig{
			AckLogo:   s.AckLogo,
			TraceBuf:  d.TraceBufType,
			TraceBuf2: d.TraceBuf2Type,
		},
		Admin: AdminConfig{
			Enabled: true,
			Addr:    ":9180",
		},
		Sinks: SinksConfig{
			Log: LogSinkConfig{Enabled: true},
			NATS: NATSSinkConfig{
				URL:           "nats://127.0.0.1:4222",
				SubjectPrefix: "ewbridge.samples",
				ClientName:    "ewbridge",
			},
			WebSocket: WebSocketSinkConfig{Enabled: true, SendBuffer: 64},
		},
	}
}

// SessionConfig converts to the link layer's session settings.
func (c Config) SessionConfig() session.Config {
	s := session.DefaultConfig()
	s.ConnectTimeout = c.Timeouts.Connect
	s.ReadTimeout = c.Timeouts.Read
	s.WriteTimeout = c.Timeouts.Write
	s.HeartbeatInterval = c.Heartbeat.Interval
	s.HeartbeatText = c.Heartbeat.Text
	s.HeartbeatLogo = c.Heartbeat.Logo
	s.AckLogo = c.Types.AckLogo
	s.SenderHeartRate = c.Heartbeat.SenderInterval
	s.SenderHeartText = c.Heartbeat.SenderText
	s.MaxMessageBytes = c.Limits.MaxMessageBytes
	s.Backoff = session.BackoffConfig{InitialDelay: c.Timeouts.Retry, Multiplier: 1}
	return s.WithDefaults()
}

func (c Config) DecoderConfig() tracebuf.Config {
	return tracebuf.Config{
		TraceBufType:   c.Types.TraceBuf,
		TraceBuf2Type:  c.Types.TraceBuf2,
		MaxPacketBytes: c.Limits.MaxMessageBytes,
		StationID:      c.StationID,
	}
}

// Validate reports the first setting that cannot work.
func Validate(c Config) error {
	if _, err := link.ParseTopology(string(c.Topology)); err != nil {
		return err
	}
	if err := validateAddress(c.Topology, c.Address); err != nil {
		return err
	}
	if _, err := tracebuf.ParseStationIDMode(string(c.StationID)); err != nil {
		return err
	}
	if c.Heartbeat.Interval < 0 || c.Heartbeat.SenderInterval < 0 {
		return fmt.Errorf("config: heartbeat intervals must not be negative")
	}
	if c.Heartbeat.Interval > 0 && c.Heartbeat.Text == "" {
		return fmt.Errorf("config: heartbeat.text required when heartbeat.interval is set")
	}
	if c.Heartbeat.SenderInterval > 0 && c.Heartbeat.SenderText == "" {
		return fmt.Errorf("config: heartbeat.sender_text required when heartbeat.sender_interval is set")
	}
	if c.Timeouts.Connect <= 0 || c.Timeouts.Read <= 0 || c.Timeouts.Write <= 0 || c.Timeouts.Retry <= 0 {
		return fmt.Errorf("config: timeouts must be positive")
	}
	if floor := protocol.LogoLen + tracebuf.HeaderLen; c.Limits.MaxMessageBytes < floor {
		return fmt.Errorf("config: limits.max_message_bytes must be at least %d", floor)
	}
	if c.Types.TraceBuf == c.Types.TraceBuf2 {
		return fmt.Errorf("config: types.tracebuf and types.tracebuf2 must differ")
	}
	if c.Admin.Enabled && strings.TrimSpace(c.Admin.Addr) == "" {
		return fmt.Errorf("config: admin.addr required when admin is enabled")
	}
	if (c.Admin.TLSCert == "") != (c.Admin.TLSKey == "") {
		return fmt.Errorf("config: admin.tls_cert and admin.tls_key must be set together")
	}
	if c.Sinks.NATS.Enabled && strings.TrimSpace(c.Sinks.NATS.URL) == "" {
		return fmt.Errorf("config: sinks.nats.url required when the nats sink is enabled")
	}
	if c.Sinks.WebSocket.Enabled && !c.Admin.Enabled {
		return fmt.Errorf("config: sinks.websocket is served by the admin server; enable admin")
	}
	return nil
}

func validateAddress(topology link.Topology, address string) error {
	address = strings.TrimSpace(address)
	if address == "" {
		return fmt.Errorf("config: address is required")
	}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return fmt.Errorf("config: address %q: %w", address, err)
	}
	if port == "" {
		return fmt.Errorf("config: address %q missing port", address)
	}
	if topology == link.TopologyActive && host == "" {
		return fmt.Errorf("config: address %q needs a host to dial", address)
	}
	return nil
}
