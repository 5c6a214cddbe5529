package sink

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/ewbridge/internal/observability"
	"github.com/danmuck/ewbridge/internal/tracebuf"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Publisher is the part of *nats.Conn the sink uses.
type Publisher interface {
	Publish(subject string, data []byte) error
}

type NATSConfig struct {
	URL           string
	SubjectPrefix string
	ClientName    string
	Timeout       time.Duration
	ReconnectWait time.Duration
}

func DefaultNATSConfig() NATSConfig {
	return NATSConfig{
		URL:           nats.DefaultURL,
		SubjectPrefix: "ewbridge.samples",
		ClientName:    "ewbridge",
		Timeout:       5 * time.Second,
		ReconnectWait: 2 * time.Second,
	}
}

// NATSSink publishes each batch as JSON on <prefix>.<station id>.<channel>.
// Publishing only appends to the client's outbound buffer, so Push does not
// wait on the server.
type NATSSink struct {
	pub    Publisher
	conn   *nats.Conn
	prefix string
	logger zerolog.Logger
}

func NewNATSSink(pub Publisher, prefix string) *NATSSink {
	if prefix == "" {
		prefix = DefaultNATSConfig().SubjectPrefix
	}
	return &NATSSink{
		pub:    pub,
		prefix: prefix,
		logger: log.With().Str("sink", "nats").Logger(),
	}
}

// DialNATS connects to the server in cfg. The client reconnects forever in
// the background; batches published while disconnected are buffered by the
// client library.
func DialNATS(cfg NATSConfig) (*NATSSink, error) {
	d := DefaultNATSConfig()
	if cfg.URL == "" {
		cfg.URL = d.URL
	}
	if cfg.ClientName == "" {
		cfg.ClientName = d.ClientName
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = d.Timeout
	}
	if cfg.ReconnectWait <= 0 {
		cfg.ReconnectWait = d.ReconnectWait
	}

	logger := log.With().Str("sink", "nats").Str("url", cfg.URL).Logger()
	conn, err := nats.Connect(cfg.URL,
		nats.Name(cfg.ClientName),
		nats.Timeout(cfg.Timeout),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn().Err(err).Msg("nats disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info().Str("server", nc.ConnectedUrl()).Msg("nats reconnected")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("sink: connect nats %s: %w", cfg.URL, err)
	}

	s := NewNATSSink(conn, cfg.SubjectPrefix)
	s.conn = conn
	s.logger = logger
	logger.Info().Str("prefix", s.prefix).Msg("nats sink connected")
	return s, nil
}

func (s *NATSSink) Push(d tracebuf.DecodedSamples) {
	data, err := json.Marshal(d)
	if err != nil {
		observability.RecordSinkDelivery("nats", "error")
		s.logger.Error().Err(err).Str("station", d.StationID).Msg("encode batch")
		return
	}
	subject := Subject(s.prefix, d)
	if err := s.pub.Publish(subject, data); err != nil {
		observability.RecordSinkDelivery("nats", "error")
		s.logger.Warn().Err(err).Str("subject", subject).Msg("publish batch")
		return
	}
	observability.RecordSinkDelivery("nats", "ok")
}

// Close flushes pending publishes and closes the connection it dialed.
func (s *NATSSink) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Drain()
}

// Subject builds the NATS subject for a batch. Empty or wildcard tokens are
// replaced so every subject has a fixed depth.
func Subject(prefix string, d tracebuf.DecodedSamples) string {
	parts := []string{prefix}
	if d.Network != "" && strings.HasPrefix(d.StationID, d.Network+".") {
		parts = append(parts, subjectToken(d.Network), subjectToken(d.Station))
	} else {
		parts = append(parts, subjectToken(d.StationID))
	}
	parts = append(parts, subjectToken(d.Channel))
	return strings.Join(parts, ".")
}

func subjectToken(s string) string {
	if s == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t':
			return '_'
		}
		return r
	}, s)
}
