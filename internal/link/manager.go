package link

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ewbridge/internal/observability"
	"github.com/danmuck/ewbridge/internal/protocol/session"
	"github.com/danmuck/ewbridge/internal/sink"
	"github.com/danmuck/ewbridge/internal/tracebuf"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type counters struct {
	reconnects   atomic.Uint64
	packets      atomic.Uint64
	samples      atomic.Uint64
	drops        atomic.Uint64
	decodeErrors atomic.Uint64
}

type FrameStats struct {
	Messages       uint64 `json:"messages"`
	Resyncs        uint64 `json:"resyncs"`
	DiscardedBytes uint64 `json:"discarded_bytes"`
}

// Status is a point-in-time view of the manager for the admin surface.
type Status struct {
	State        string     `json:"state"`
	Topology     string     `json:"topology"`
	SessionID    string     `json:"session_id,omitempty"`
	Remote       string     `json:"remote,omitempty"`
	Variant      string     `json:"variant"`
	ConnectedAt  *time.Time `json:"connected_at,omitempty"`
	LastReceived *time.Time `json:"last_received,omitempty"`
	LastSent     *time.Time `json:"last_sent,omitempty"`
	Reconnects   uint64     `json:"reconnects"`
	LastError    string     `json:"last_error,omitempty"`
	Packets      uint64     `json:"packets"`
	Samples      uint64     `json:"samples"`
	Dropped      uint64     `json:"dropped"`
	DecodeErrors uint64     `json:"decode_errors"`
	Frames       FrameStats `json:"frames"`
}

// Manager supervises the export connection: acquire, serve, tear down,
// repeat. Run it once; Status and State are safe from any goroutine.
type Manager struct {
	cfg      session.Config
	strategy Strategy
	decoder  *tracebuf.Decoder
	sink     sink.Sink
	live     *session.Liveness
	monitor  *session.Monitor
	counters counters
	state    atomic.Int32
	logger   zerolog.Logger

	mu        sync.RWMutex
	current   *connection
	lastError string
}

func NewManager(strategy Strategy, cfg session.Config, decoder *tracebuf.Decoder, out sink.Sink) *Manager {
	cfg = cfg.WithDefaults()
	if normalized, changed := cfg.Normalize(); changed {
		log.Info().
			Dur("read_timeout", normalized.ReadTimeout).
			Dur("sender_heart_rate", cfg.SenderHeartRate).
			Msg("read timeout raised to sender heart rate")
		cfg = normalized
	}
	if decoder == nil {
		decoder = tracebuf.NewDecoder(tracebuf.Config{MaxPacketBytes: cfg.MaxMessageBytes})
	}
	if out == nil {
		out = sink.NewLogSink(log.Logger)
	}
	live := &session.Liveness{}
	m := &Manager{
		cfg:      cfg,
		strategy: strategy,
		decoder:  decoder,
		sink:     out,
		live:     live,
		monitor:  session.NewMonitor(cfg, live),
		logger:   log.With().Str("component", "link").Str("topology", string(strategy.Topology())).Logger(),
	}
	m.setState(StateIdle)
	return m
}

func (m *Manager) State() State {
	return State(m.state.Load())
}

// Ready reports whether an export is connected.
func (m *Manager) Ready() bool {
	return m.State() == StateConnected
}

func (m *Manager) Status() Status {
	st := Status{
		State:        m.State().String(),
		Topology:     string(m.strategy.Topology()),
		Variant:      session.VariantUnknown.String(),
		Reconnects:   m.counters.reconnects.Load(),
		Packets:      m.counters.packets.Load(),
		Samples:      m.counters.samples.Load(),
		Dropped:      m.counters.drops.Load(),
		DecodeErrors: m.counters.decodeErrors.Load(),
	}
	m.mu.RLock()
	c := m.current
	st.LastError = m.lastError
	m.mu.RUnlock()
	if c == nil {
		return st
	}
	connectedAt := c.connectedAt
	st.SessionID = c.id
	st.Remote = c.conn.RemoteAddr().String()
	st.Variant = c.dispatcher.Variant().String()
	st.ConnectedAt = &connectedAt
	st.LastReceived = timePtr(m.live.LastReceived())
	st.LastSent = timePtr(m.live.LastSent())
	st.Frames = c.frameStats()
	return st
}

// Run supervises connections until ctx ends. It returns nil on shutdown and
// an error only when the strategy cannot acquire at all.
func (m *Manager) Run(ctx context.Context) error {
	defer func() {
		_ = m.strategy.Close()
		m.setState(StateIdle)
	}()
	for {
		if ctx.Err() != nil {
			return nil
		}
		if m.strategy.Topology() == TopologyPassive {
			m.setState(StateListening)
		} else {
			m.setState(StateConnecting)
		}
		conn, err := m.strategy.Acquire(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			m.setState(StateIdle)
			return fmt.Errorf("link: acquire connection: %w", err)
		}

		werr := m.serve(ctx, conn)
		if ctx.Err() != nil {
			return nil
		}
		m.counters.reconnects.Add(1)
		observability.RecordReconnect(string(m.strategy.Topology()), reason(werr))
		m.logger.Warn().Err(werr).Msg("connection lost; reconnecting")
	}
}

// serve runs one connection to completion. The worker has always stopped
// and the socket is closed when serve returns.
func (m *Manager) serve(ctx context.Context, conn net.Conn) error {
	now := time.Now()
	m.live.Reset(now, true)
	m.monitor.Reset()
	c := newConnection(conn, m.cfg, m.decoder, m.sink, m.live, &m.counters)

	m.mu.Lock()
	m.current = c
	m.mu.Unlock()
	m.setState(StateConnected)
	c.logger.Info().Msg("session started")

	workerCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	done := make(chan error, 1)
	go func() {
		done <- c.run(workerCtx)
	}()
	beats := make(chan struct{}, 1)
	beatDone := make(chan struct{})
	go func() {
		defer close(beatDone)
		c.heartbeatLoop(workerCtx, beats)
	}()

	ticker := time.NewTicker(m.cfg.MonitorInterval)
	defer ticker.Stop()

	var werr error
	workerStopped := false
loop:
	for {
		select {
		case werr = <-done:
			workerStopped = true
			break loop
		case <-ctx.Done():
			werr = ctx.Err()
			break loop
		case tick := <-ticker.C:
			act := m.monitor.Tick(tick, c.dispatcher.Variant())
			if act.Stale {
				c.logger.Error().
					Dur("silence", act.Silence.Round(time.Millisecond)).
					Dur("sender_heart_rate", m.cfg.SenderHeartRate).
					Msg("no heartbeat received; restarting connection")
				werr = &ConnectionError{Reason: "heartbeat_stale", Err: ErrHeartbeatStale}
				break loop
			}
			if act.SendHeartbeat {
				select {
				case beats <- struct{}{}:
				default:
					c.logger.Debug().Msg("previous heartbeat still being written; skipping")
				}
			}
		}
	}

	// Closing the socket unblocks any write stuck on a peer that stopped
	// reading; the worker then fails its next read and returns.
	cancel()
	m.setState(StateClosing)
	if err := conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		c.logger.Debug().Err(err).Msg("close connection")
	}
	if !workerStopped {
		<-done
	}
	<-beatDone
	observability.RecordConnectionClosed(time.Since(c.connectedAt))
	c.logger.Info().Dur("lifetime", time.Since(c.connectedAt).Round(time.Millisecond)).Msg("session ended")

	m.mu.Lock()
	m.current = nil
	if werr != nil && !errors.Is(werr, context.Canceled) {
		m.lastError = werr.Error()
	}
	m.mu.Unlock()
	m.setState(StateIdle)
	return werr
}

func (m *Manager) setState(s State) {
	m.state.Store(int32(s))
	observability.RecordState(s.String(), stateNames)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
