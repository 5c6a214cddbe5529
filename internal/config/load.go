package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/ewbridge/internal/link"
	"github.com/danmuck/ewbridge/internal/protocol"
	"github.com/danmuck/ewbridge/internal/tracebuf"
	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape. Pointers tell set keys from absent ones
// so that only set keys override Default.
type fileConfig struct {
	Topology  *string       `toml:"topology" yaml:"topology"`
	Address   *string       `toml:"address" yaml:"address"`
	StationID *string       `toml:"station_id" yaml:"station_id"`
	Heartbeat fileHeartbeat `toml:"heartbeat" yaml:"heartbeat"`
	Timeouts  fileTimeouts  `toml:"timeouts" yaml:"timeouts"`
	Limits    fileLimits    `toml:"limits" yaml:"limits"`
	Types     fileTypes     `toml:"types" yaml:"types"`
	Admin     fileAdmin     `toml:"admin" yaml:"admin"`
	Sinks     fileSinks     `toml:"sinks" yaml:"sinks"`
}

type fileHeartbeat struct {
	Interval       *string `toml:"interval" yaml:"interval"`
	Text           *string `toml:"text" yaml:"text"`
	Logo           *string `toml:"logo" yaml:"logo"`
	SenderInterval *string `toml:"sender_interval" yaml:"sender_interval"`
	SenderText     *string `toml:"sender_text" yaml:"sender_text"`
}

type fileTimeouts struct {
	Connect *string `toml:"connect" yaml:"connect"`
	Read    *string `toml:"read" yaml:"read"`
	Write   *string `toml:"write" yaml:"write"`
	Retry   *string `toml:"retry" yaml:"retry"`
}

type fileLimits struct {
	MaxMessageBytes *int `toml:"max_message_bytes" yaml:"max_message_bytes"`
}

type fileTypes struct {
	AckLogo   *string `toml:"ack_logo" yaml:"ack_logo"`
	TraceBuf  *int    `toml:"tracebuf" yaml:"tracebuf"`
	TraceBuf2 *int    `toml:"tracebuf2" yaml:"tracebuf2"`
}

type fileAdmin struct {
	Enabled     *bool    `toml:"enabled" yaml:"enabled"`
	Addr        *string  `toml:"addr" yaml:"addr"`
	CorsOrigins []string `toml:"cors_origins" yaml:"cors_origins"`
	Token       *string  `toml:"token" yaml:"token"`
	TLSCert     *string  `toml:"tls_cert" yaml:"tls_cert"`
	TLSKey      *string  `toml:"tls_key" yaml:"tls_key"`
}

type fileSinks struct {
	Log       fileLogSink       `toml:"log" yaml:"log"`
	NATS      fileNATSSink      `toml:"nats" yaml:"nats"`
	WebSocket fileWebSocketSink `toml:"websocket" yaml:"websocket"`
}

type fileLogSink struct {
	Enabled *bool `toml:"enabled" yaml:"enabled"`
}

type fileNATSSink struct {
	Enabled       *bool   `toml:"enabled" yaml:"enabled"`
	URL           *string `toml:"url" yaml:"url"`
	SubjectPrefix *string `toml:"subject_prefix" yaml:"subject_prefix"`
	ClientName    *string `toml:"client_name" yaml:"client_name"`
}

type fileWebSocketSink struct {
	Enabled    *bool `toml:"enabled" yaml:"enabled"`
	SendBuffer *int  `toml:"send_buffer" yaml:"send_buffer"`
}

// Load reads a TOML or YAML file, chosen by extension, over Default and
// validates the result. Unknown keys are errors.
func Load(path string) (Config, error) {
	var raw fileConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := decodeTOML(path, &raw); err != nil {
			return Config{}, err
		}
	case ".yaml", ".yml":
		if err := decodeYAML(path, &raw); err != nil {
			return Config{}, err
		}
	default:
		return Config{}, fmt.Errorf("config: unsupported file type %q (want .toml, .yaml or .yml)", filepath.Ext(path))
	}

	cfg := Default()
	if err := raw.apply(&cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	if err := Validate(cfg); err != nil {
		return Config{}, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func decodeTOML(path string, out *fileConfig) error {
	meta, err := toml.DecodeFile(path, out)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, 0, len(undecoded))
		for _, k := range undecoded {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		return fmt.Errorf("config %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}
	return nil
}

func decodeYAML(path string, out *fileConfig) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}

func (f fileConfig) apply(cfg *Config) error {
	if f.Topology != nil {
		t, err := link.ParseTopology(*f.Topology)
		if err != nil {
			return err
		}
		cfg.Topology = t
	}
	setString(&cfg.Address, f.Address)
	if f.StationID != nil {
		mode, err := tracebuf.ParseStationIDMode(*f.StationID)
		if err != nil {
			return err
		}
		cfg.StationID = mode
	}

	hb := f.Heartbeat
	if err := setDuration(&cfg.Heartbeat.Interval, hb.Interval, "heartbeat.interval"); err != nil {
		return err
	}
	if err := setDuration(&cfg.Heartbeat.SenderInterval, hb.SenderInterval, "heartbeat.sender_interval"); err != nil {
		return err
	}
	setString(&cfg.Heartbeat.Text, hb.Text)
	setString(&cfg.Heartbeat.SenderText, hb.SenderText)
	if err := setLogo(&cfg.Heartbeat.Logo, hb.Logo, "heartbeat.logo"); err != nil {
		return err
	}

	to := f.Timeouts
	for _, d := range []struct {
		dst *time.Duration
		raw *string
		key string
	}{
		{&cfg.Timeouts.Connect, to.Connect, "timeouts.connect"},
		{&cfg.Timeouts.Read, to.Read, "timeouts.read"},
		{&cfg.Timeouts.Write, to.Write, "timeouts.write"},
		{&cfg.Timeouts.Retry, to.Retry, "timeouts.retry"},
	} {
		if err := setDuration(d.dst, d.raw, d.key); err != nil {
			return err
		}
	}

	if f.Limits.MaxMessageBytes != nil {
		cfg.Limits.MaxMessageBytes = *f.Limits.MaxMessageBytes
	}

	if err := setLogo(&cfg.Types.AckLogo, f.Types.AckLogo, "types.ack_logo"); err != nil {
		return err
	}
	if err := setType(&cfg.Types.TraceBuf, f.Types.TraceBuf, "types.tracebuf"); err != nil {
		return err
	}
	if err := setType(&cfg.Types.TraceBuf2, f.Types.TraceBuf2, "types.tracebuf2"); err != nil {
		return err
	}

	setBool(&cfg.Admin.Enabled, f.Admin.Enabled)
	setString(&cfg.Admin.Addr, f.Admin.Addr)
	if f.Admin.CorsOrigins != nil {
		cfg.Admin.CorsOrigins = normalizeOrigins(f.Admin.CorsOrigins)
	}
	setString(&cfg.Admin.Token, f.Admin.Token)
	setString(&cfg.Admin.TLSCert, f.Admin.TLSCert)
	setString(&cfg.Admin.TLSKey, f.Admin.TLSKey)

	setBool(&cfg.Sinks.Log.Enabled, f.Sinks.Log.Enabled)
	setBool(&cfg.Sinks.NATS.Enabled, f.Sinks.NATS.Enabled)
	setString(&cfg.Sinks.NATS.URL, f.Sinks.NATS.URL)
	setString(&cfg.Sinks.NATS.SubjectPrefix, f.Sinks.NATS.SubjectPrefix)
	setString(&cfg.Sinks.NATS.ClientName, f.Sinks.NATS.ClientName)
	setBool(&cfg.Sinks.WebSocket.Enabled, f.Sinks.WebSocket.Enabled)
	if f.Sinks.WebSocket.SendBuffer != nil {
		cfg.Sinks.WebSocket.SendBuffer = *f.Sinks.WebSocket.SendBuffer
	}
	return nil
}

func setString(dst *string, raw *string) {
	if raw != nil {
		*dst = strings.TrimSpace(*raw)
	}
}

func setBool(dst *bool, raw *bool) {
	if raw != nil {
		*dst = *raw
	}
}

func setDuration(dst *time.Duration, raw *string, key string) error {
	if raw == nil {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(*raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

func setLogo(dst *protocol.Logo, raw *string, key string) error {
	if raw == nil {
		return nil
	}
	logo, err := protocol.ParseLogoSpec(*raw)
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = logo
	return nil
}

func setType(dst *uint8, raw *int, key string) error {
	if raw == nil {
		return nil
	}
	if *raw < 1 || *raw > 255 {
		return fmt.Errorf("%s must be within 1..255, got %d", key, *raw)
	}
	*dst = uint8(*raw)
	return nil
}

func normalizeOrigins(in []string) []string {
	out := make([]string, 0, len(in))
	for _, origin := range in {
		v := strings.TrimSpace(origin)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
