package link

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/danmuck/ewbridge/internal/protocol/session"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Topology selects who opens the TCP connection.
type Topology string

const (
	// TopologyActive dials the export.
	TopologyActive Topology = "active"
	// TopologyPassive listens and accepts one export at a time.
	TopologyPassive Topology = "passive"
)

func ParseTopology(raw string) (Topology, error) {
	switch Topology(strings.ToLower(strings.TrimSpace(raw))) {
	case "", TopologyActive:
		return TopologyActive, nil
	case TopologyPassive:
		return TopologyPassive, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTopo, raw)
	}
}

// Strategy acquires the socket for the next connection. Acquire blocks until
// it has one or ctx ends.
type Strategy interface {
	Topology() Topology
	Acquire(ctx context.Context) (net.Conn, error)
	Close() error
}

// NewStrategy builds the strategy for topology.
func NewStrategy(topology Topology, address string, cfg session.Config) (Strategy, error) {
	switch topology {
	case TopologyActive:
		return NewDialer(address, cfg), nil
	case TopologyPassive:
		return NewListener(address, cfg), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownTopo, topology)
	}
}

// Dialer connects to the export, retrying forever. After QuietAfter failed
// attempts it stops logging each one until the connection succeeds.
type Dialer struct {
	address    string
	backoff    session.BackoffConfig
	quietAfter int
	rng        *rand.Rand
	dial       func(ctx context.Context, network, address string) (net.Conn, error)
	logger     zerolog.Logger
}

func NewDialer(address string, cfg session.Config) *Dialer {
	cfg = cfg.WithDefaults()
	nd := &net.Dialer{Timeout: cfg.ConnectTimeout}
	return &Dialer{
		address:    address,
		backoff:    cfg.Backoff,
		quietAfter: cfg.QuietAfter,
		rng:        rand.New(rand.NewSource(time.Now().UnixNano())),
		dial:       nd.DialContext,
		logger:     log.With().Str("component", "link").Str("topology", string(TopologyActive)).Str("address", address).Logger(),
	}
}

func (d *Dialer) Topology() Topology {
	return TopologyActive
}

func (d *Dialer) Acquire(ctx context.Context) (net.Conn, error) {
	start := time.Now()
	for attempt := 1; ; attempt++ {
		switch {
		case attempt <= d.quietAfter:
			d.logger.Info().Int("attempt", attempt).Msg("connecting to export")
		case attempt == d.quietAfter+1:
			d.logger.Info().Int("attempt", attempt).Msg("suppressing repeated connect messages")
		}

		conn, err := d.dial(ctx, "tcp", d.address)
		if err == nil {
			event := d.logger.Info().Int("attempts", attempt)
			if attempt > d.quietAfter {
				event = event.Dur("after", time.Since(start).Round(time.Second))
			}
			event.Str("remote", conn.RemoteAddr().String()).Msg("connected to export")
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if attempt <= d.quietAfter {
			d.logger.Warn().Err(err).Int("attempt", attempt).Msg("connect failed")
		}

		delay := d.backoff.Delay(attempt, d.rng)
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

func (d *Dialer) Close() error {
	return nil
}

// Listener binds once and hands out one accepted connection per Acquire.
type Listener struct {
	address    string
	checkpoint time.Duration
	logger     zerolog.Logger

	mu sync.Mutex
	ln net.Listener
}

func NewListener(address string, cfg session.Config) *Listener {
	cfg = cfg.WithDefaults()
	return &Listener{
		address:    address,
		checkpoint: cfg.ReadCheckpoint,
		logger:     log.With().Str("component", "link").Str("topology", string(TopologyPassive)).Str("address", address).Logger(),
	}
}

func (l *Listener) Topology() Topology {
	return TopologyPassive
}

// Listen binds the listening socket if it is not bound yet.
func (l *Listener) Listen() error {
	_, err := l.listener()
	return err
}

// Addr is the bound address, nil before Listen.
func (l *Listener) Addr() net.Addr {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	return l.ln.Addr()
}

func (l *Listener) listener() (net.Listener, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln != nil {
		return l.ln, nil
	}
	ln, err := net.Listen("tcp", l.address)
	if err != nil {
		return nil, fmt.Errorf("link: listen %s: %w", l.address, err)
	}
	l.ln = ln
	l.logger.Info().Str("bound", ln.Addr().String()).Msg("waiting for export connection")
	return ln, nil
}

// Acquire waits for the next export. The accept is re-armed every
// checkpoint so ctx is honored.
func (l *Listener) Acquire(ctx context.Context) (net.Conn, error) {
	ln, err := l.listener()
	if err != nil {
		return nil, err
	}
	deadliner, _ := ln.(interface{ SetDeadline(time.Time) error })
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if deadliner != nil {
			_ = deadliner.SetDeadline(time.Now().Add(l.checkpoint))
		}
		conn, err := ln.Accept()
		if err == nil {
			l.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("export connected")
			return conn, nil
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			continue
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("link: accept: %w", err)
	}
}

func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.ln == nil {
		return nil
	}
	err := l.ln.Close()
	l.ln = nil
	return err
}
