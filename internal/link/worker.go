package link

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/danmuck/ewbridge/internal/observability"
	"github.com/danmuck/ewbridge/internal/protocol"
	"github.com/danmuck/ewbridge/internal/protocol/frame"
	"github.com/danmuck/ewbridge/internal/protocol/session"
	"github.com/danmuck/ewbridge/internal/sink"
	"github.com/danmuck/ewbridge/internal/tracebuf"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const readBufferSize = 4096

// connection is the state of one live export connection. The worker owns
// the socket reads and the assembler; writes are serialized by writeMu
// because the monitor sends heartbeats from the supervisor.
type connection struct {
	id          string
	conn        net.Conn
	cfg         session.Config
	limits      frame.Limits
	assembler   *frame.Assembler
	dispatcher  *session.Dispatcher
	decoder     *tracebuf.Decoder
	sink        sink.Sink
	live        *session.Liveness
	counters    *counters
	connectedAt time.Time
	logger      zerolog.Logger

	writeMu sync.Mutex

	frameMessages  atomic.Uint64
	frameResyncs   atomic.Uint64
	frameDiscarded atomic.Uint64
}

func newConnection(conn net.Conn, cfg session.Config, decoder *tracebuf.Decoder, out sink.Sink, live *session.Liveness, c *counters) *connection {
	id := uuid.NewString()
	logger := log.With().
		Str("component", "link").
		Str("session_id", id).
		Str("remote", conn.RemoteAddr().String()).
		Logger()
	limits := frame.Limits{MaxMessageBytes: cfg.MaxMessageBytes}
	return &connection{
		id:          id,
		conn:        conn,
		cfg:         cfg,
		limits:      limits,
		dispatcher:  session.NewDispatcher(cfg.SenderHeartText, cfg.AckLogo.Type),
		decoder:     decoder,
		sink:        out,
		live:        live,
		counters:    c,
		connectedAt: time.Now(),
		logger:      logger,
		assembler: frame.NewAssembler(limits, func(e *frame.ResyncError) {
			observability.RecordResync(resyncReason(e))
			logger.Warn().Err(e.Err).Str("state", e.State.String()).Int("discarded", e.Discarded).Msg("framing resync")
		}),
	}
}

// run reads until ctx is cancelled or the connection fails. Cancellation is
// only observed between reads, at most ReadCheckpoint apart.
func (c *connection) run(ctx context.Context) error {
	buf := make([]byte, readBufferSize)
	lastData := time.Now()
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadCheckpoint))
		n, err := c.conn.Read(buf)
		if n > 0 {
			lastData = time.Now()
			ferr := c.assembler.Feed(buf[:n], c.handle)
			c.syncFrameStats()
			if ferr != nil {
				return ferr
			}
		}
		if err == nil {
			continue
		}
		var ne net.Error
		if errors.As(err, &ne) && ne.Timeout() {
			if idle := time.Since(lastData); idle > c.cfg.ReadTimeout {
				return &ConnectionError{Reason: "read_timeout", Err: fmt.Errorf("%w: nothing read for %s", ErrReadTimeout, idle.Round(time.Millisecond))}
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return &ConnectionError{Reason: "remote_closed", Err: ErrRemoteClosed}
		}
		return &ConnectionError{Reason: "read_error", Err: err}
	}
}

// handle processes one assembled message. Only socket write failures are
// returned; every per-message problem is logged and the message dropped.
func (c *connection) handle(raw []byte) error {
	now := time.Now()
	msg, err := c.dispatcher.Dispatch(raw)
	if msg.Ack != nil {
		if serr := c.send(c.cfg.AckLogo, msg.Ack, "ack"); serr != nil {
			return serr
		}
	}
	if err != nil {
		if !errors.Is(err, protocol.ErrHeartbeatMismatch) {
			observability.RecordDrop(dropReason(err))
			c.counters.drops.Add(1)
			c.logger.Warn().Err(err).Int("len", len(raw)).Msg("message dropped")
			return nil
		}
		c.logger.Warn().Err(err).Msg("heartbeat text mismatch; check sender heartbeat configuration")
	}

	c.live.MarkReceived(now)
	observability.RecordMessage(msg.Variant.String(), msg.Kind.String())
	if msg.Kind == session.KindHeartbeat {
		c.logger.Debug().Int("sequence", msg.Sequence).Msg("heartbeat received")
	} else {
		c.deliver(msg.Payload)
	}

	if msg.Variant == session.VariantAck && c.live.ClaimHeartbeat(now, c.cfg.HeartbeatInterval) {
		if err := c.sendHeartbeat(); err != nil {
			return err
		}
	}
	return nil
}

func (c *connection) deliver(payload []byte) {
	d, err := c.decoder.Decode(payload)
	if err != nil {
		var de *tracebuf.DecodeError
		if errors.As(err, &de) && errors.Is(de.Kind, tracebuf.ErrNonWaveform) {
			observability.RecordDecodeError("non_waveform")
			c.logger.Debug().Str("logo", de.Logo.String()).Msg("ignoring non-waveform message")
			return
		}
		observability.RecordDecodeError(decodeReason(err))
		c.counters.decodeErrors.Add(1)
		c.logger.Warn().Err(err).Msg("trace packet dropped")
		return
	}
	observability.RecordPacket(d.Swapped, len(d.Samples))
	c.counters.packets.Add(1)
	c.counters.samples.Add(uint64(len(d.Samples)))
	c.sink.Push(d)
}

// heartbeatLoop writes monitor-requested heartbeats so a slow socket write
// never delays the supervisor. Failures are logged only.
func (c *connection) heartbeatLoop(ctx context.Context, beats <-chan struct{}) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-beats:
			if err := c.sendHeartbeat(); err != nil && ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("heartbeat send failed")
			}
		}
	}
}

func (c *connection) sendHeartbeat() error {
	return c.send(c.cfg.HeartbeatLogo, []byte(c.cfg.HeartbeatText), "heartbeat")
}

// send frames and writes one message with a single Write call.
func (c *connection) send(logo protocol.Logo, msg []byte, kind string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	err := frame.WriteMessage(c.conn, logo, msg, c.limits)
	observability.RecordOutbound(kind, err == nil)
	if err != nil {
		return &ConnectionError{Reason: "write_failed", Err: fmt.Errorf("%w: %s: %v", ErrWriteFailed, kind, err)}
	}
	c.logger.Debug().Str("kind", kind).Str("logo", logo.String()).Msg("sent to export")
	return nil
}

func (c *connection) syncFrameStats() {
	st := c.assembler.Stats()
	c.frameMessages.Store(st.Messages)
	c.frameResyncs.Store(st.Resyncs)
	c.frameDiscarded.Store(st.DiscardedBytes)
}

func (c *connection) frameStats() FrameStats {
	return FrameStats{
		Messages:       c.frameMessages.Load(),
		Resyncs:        c.frameResyncs.Load(),
		DiscardedBytes: c.frameDiscarded.Load(),
	}
}

func resyncReason(e *frame.ResyncError) string {
	switch {
	case errors.Is(e, frame.ErrUnescapedStart):
		return "unescaped_start"
	case errors.Is(e, frame.ErrUnknownEscape):
		return "unknown_escape"
	case errors.Is(e, frame.ErrOverflow):
		return "overflow"
	case errors.Is(e, frame.ErrUnexpectedByte):
		return "unexpected_byte"
	default:
		return "other"
	}
}

func dropReason(err error) string {
	switch {
	case errors.Is(err, protocol.ErrShortPayload):
		return "short_payload"
	case errors.Is(err, protocol.ErrVariantPrefix):
		return "variant_prefix"
	case errors.Is(err, protocol.ErrInvalidSequence):
		return "invalid_sequence"
	default:
		return "other"
	}
}

func decodeReason(err error) string {
	switch {
	case errors.Is(err, tracebuf.ErrMalformedHeader):
		return "malformed_header"
	case errors.Is(err, tracebuf.ErrUnsupportedDatatype):
		return "unsupported_datatype"
	case errors.Is(err, protocol.ErrInvalidLogo), errors.Is(err, protocol.ErrShortPayload):
		return "invalid_logo"
	default:
		return "other"
	}
}
