package main

import (
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"net"
	"time"

	"github.com/danmuck/ewbridge/internal/protocol"
	"github.com/danmuck/ewbridge/internal/protocol/frame"
	"github.com/danmuck/ewbridge/internal/protocol/session"
	"github.com/danmuck/ewbridge/internal/tracebuf"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	mockAmplitude = 2000.0
	mockFreqHz    = 0.7
)

type mockConfig struct {
	Ack               bool
	BigEndian         bool
	Legacy            bool
	SampleRate        float64
	PacketInterval    time.Duration
	HeartbeatInterval time.Duration
	HeartbeatText     string
	Station           string
	Network           string
	Channel           string
}

func defaultMockConfig() mockConfig {
	return mockConfig{
		SampleRate:        100,
		PacketInterval:    time.Second,
		HeartbeatInterval: 30 * time.Second,
		HeartbeatText:     "alive",
		Station:           "MOCK",
		Network:           "XX",
		Channel:           "HHZ",
	}
}

// exporter plays one export connection.
type exporter struct {
	cfg    mockConfig
	seq    int
	next   float64
	logger zerolog.Logger
}

func newExporter(cfg mockConfig) *exporter {
	return &exporter{
		cfg:    cfg,
		next:   float64(time.Now().UnixNano()) / 1e9,
		logger: log.With().Str("component", "ewmock").Bool("ack", cfg.Ack).Logger(),
	}
}

func (e *exporter) order() binary.ByteOrder {
	if e.cfg.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// wrap adds the sequence prefix in the acknowledged variant. Data
// sequences cycle through 0..254; 255 is reserved for heartbeats.
func (e *exporter) wrap(payload []byte, heartbeat bool) []byte {
	if !e.cfg.Ack {
		return payload
	}
	seq := session.HeartbeatSequence
	if !heartbeat {
		seq = e.seq
		e.seq = (e.seq + 1) % session.HeartbeatSequence
	}
	return append([]byte(fmt.Sprintf("SQ:%03d", seq)), payload...)
}

func (e *exporter) heartbeat() []byte {
	payload := []byte(fmt.Sprintf("%03d%03d%03d", 0, 0, protocol.TypeHeartbeat))
	payload = append(payload, e.cfg.HeartbeatText...)
	return e.wrap(payload, true)
}

// packet returns the next contiguous waveform packet.
func (e *exporter) packet() ([]byte, error) {
	n := int(math.Round(e.cfg.PacketInterval.Seconds() * e.cfg.SampleRate))
	if n < 1 {
		n = 1
	}
	start := e.next
	samples := mockSamples(start, n, e.cfg.SampleRate)
	e.next = start + float64(n)/e.cfg.SampleRate

	datatype := "i4"
	if e.cfg.BigEndian {
		datatype = "s4"
	}
	h := tracebuf.Header{
		StartTime:  start,
		EndTime:    start + float64(n-1)/e.cfg.SampleRate,
		SampleRate: e.cfg.SampleRate,
		Station:    e.cfg.Station,
		Network:    e.cfg.Network,
		Channel:    e.cfg.Channel,
		Location:   "--",
		Version:    [2]byte{'2', '0'},
		Datatype:   datatype,
	}
	logo := protocol.Logo{Installation: 0, Module: 0, Type: protocol.TypeTraceBuf2}
	layout := tracebuf.LayoutTraceBuf2
	if e.cfg.Legacy {
		logo.Type = protocol.TypeTraceBuf
		layout = tracebuf.LayoutTraceBuf
	}
	payload, err := tracebuf.EncodePacket(logo, layout, h, samples, e.order())
	if err != nil {
		return nil, err
	}
	return e.wrap(payload, false), nil
}

func mockSamples(start float64, n int, rate float64) []int32 {
	out := make([]int32, n)
	for i := range out {
		t := start + float64(i)/rate
		out[i] = int32(mockAmplitude * math.Sin(2*math.Pi*mockFreqHz*t))
	}
	return out
}

// serve streams packets and heartbeats to conn and logs what the bridge
// sends back until ctx ends or the connection fails.
func (e *exporter) serve(ctx context.Context, conn net.Conn) error {
	defer conn.Close()
	e.logger.Info().Str("remote", conn.RemoteAddr().String()).Msg("bridge connected")

	readErr := make(chan error, 1)
	go func() {
		readErr <- e.readReplies(conn)
	}()

	packets := time.NewTicker(e.cfg.PacketInterval)
	defer packets.Stop()
	var beats <-chan time.Time
	if e.cfg.HeartbeatInterval > 0 {
		t := time.NewTicker(e.cfg.HeartbeatInterval)
		defer t.Stop()
		beats = t.C
		if err := e.write(conn, e.heartbeat()); err != nil {
			return err
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-readErr:
			return err
		case <-beats:
			if err := e.write(conn, e.heartbeat()); err != nil {
				return err
			}
		case <-packets.C:
			payload, err := e.packet()
			if err != nil {
				return err
			}
			if err := e.write(conn, payload); err != nil {
				return err
			}
		}
	}
}

func (e *exporter) write(conn net.Conn, payload []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err := conn.Write(frame.Encode(payload))
	return err
}

func (e *exporter) readReplies(conn net.Conn) error {
	asm := frame.NewAssembler(frame.Limits{}, nil)
	buf := make([]byte, 1024)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			_ = asm.Feed(buf[:n], func(msg []byte) error {
				logo, lerr := protocol.ParseLogo(msg)
				if lerr != nil {
					e.logger.Warn().Err(lerr).Msg("unparseable reply")
					return nil
				}
				e.logger.Debug().Str("logo", logo.String()).Str("text", string(msg[protocol.LogoLen:])).Msg("reply from bridge")
				return nil
			})
		}
		if err != nil {
			return err
		}
	}
}
