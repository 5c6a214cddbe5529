package session

import (
	"errors"
	"testing"
	"time"

	"github.com/danmuck/ewbridge/internal/protocol"
	"github.com/danmuck/ewbridge/internal/testutil/testlog"
)

func TestBackoffDelayGrowsToCap(t *testing.T) {
	testlog.Start(t)
	cfg := BackoffConfig{
		InitialDelay: 250 * time.Millisecond,
		Multiplier:   2.0,
		MaxDelay:     5 * time.Second,
		Jitter:       false,
	}
	if got := cfg.Delay(1, nil); got != 250*time.Millisecond {
		t.Fatalf("attempt1 got=%v", got)
	}
	if got := cfg.Delay(2, nil); got != 500*time.Millisecond {
		t.Fatalf("attempt2 got=%v", got)
	}
	if got := cfg.Delay(6, nil); got != 5*time.Second {
		t.Fatalf("attempt6 got=%v", got)
	}
	cfg.InitialDelay = 0
	if got := cfg.Delay(3, nil); got != 0 {
		t.Fatalf("zero initial got=%v", got)
	}
}

func TestDefaultBackoffIsFixedRetryDelay(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig().Backoff
	for attempt := 1; attempt <= 10; attempt++ {
		if got := cfg.Delay(attempt, nil); got != 10*time.Second {
			t.Fatalf("attempt%d got=%v", attempt, got)
		}
	}
}

func TestNormalizeRaisesReadTimeoutToHeartRate(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.ReadTimeout = 30 * time.Second
	cfg.SenderHeartRate = 60 * time.Second
	got, adjusted := cfg.Normalize()
	if !adjusted || got.ReadTimeout != 60*time.Second {
		t.Fatalf("expected read timeout raised, got=%v adjusted=%v", got.ReadTimeout, adjusted)
	}

	cfg.ReadTimeout = 80 * time.Second
	if _, adjusted := cfg.Normalize(); adjusted {
		t.Fatalf("no adjustment expected when read timeout exceeds heart rate")
	}
}

func TestWithDefaultsKeepsDisabledHeartbeats(t *testing.T) {
	testlog.Start(t)
	cfg := Config{}.WithDefaults()
	if cfg.HeartbeatInterval != 0 || cfg.SenderHeartRate != 0 {
		t.Fatalf("zero heartbeat settings must survive defaults: %+v", cfg)
	}
	if cfg.ReadTimeout != 80*time.Second || cfg.MaxMessageBytes != 4096 || cfg.ReadCheckpoint != time.Second {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
}

func TestDispatcherLegacyVariantNeverAcks(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher("alive", protocol.TypeAck)

	msg, err := d.Dispatch([]byte("000000003alive"))
	if err != nil {
		t.Fatalf("dispatch heartbeat: %v", err)
	}
	if d.Variant() != VariantLegacy || msg.Kind != KindHeartbeat || msg.Ack != nil {
		t.Fatalf("unexpected heartbeat classification: %+v variant=%s", msg, d.Variant())
	}

	msg, err = d.Dispatch([]byte("000000019\x01\x02binary"))
	if err != nil {
		t.Fatalf("dispatch data: %v", err)
	}
	if msg.Kind != KindData || msg.Ack != nil || string(msg.Payload[:9]) != "000000019" {
		t.Fatalf("unexpected data classification: %+v", msg)
	}

	// a later sequence prefix does not switch the variant
	msg, err = d.Dispatch([]byte("SQ:001000000019data"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if msg.Ack != nil || d.Variant() != VariantLegacy {
		t.Fatalf("legacy variant must never ack: %+v", msg)
	}
}

func TestDispatcherAckVariant(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher("alive", protocol.TypeAck)

	msg, err := d.Dispatch([]byte("SQ:042000000019payload"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if d.Variant() != VariantAck {
		t.Fatalf("variant=%s", d.Variant())
	}
	if msg.Sequence != 42 || string(msg.Ack) != "ACK:042" || msg.Kind != KindData {
		t.Fatalf("unexpected message: %+v", msg)
	}
	if string(msg.Payload) != "000000019payload" {
		t.Fatalf("payload=%q", msg.Payload)
	}

	msg, err = d.Dispatch([]byte("SQ:255000000003alive"))
	if err != nil || msg.Kind != KindHeartbeat || string(msg.Ack) != "ACK:255" {
		t.Fatalf("heartbeat: %+v err=%v", msg, err)
	}
}

func TestDispatcherSequence255IsAlwaysHeartbeat(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher("alive", protocol.TypeAck)
	msg, err := d.Dispatch([]byte("SQ:255000000003i am not alive"))
	if !errors.Is(err, protocol.ErrHeartbeatMismatch) {
		t.Fatalf("expected ErrHeartbeatMismatch, got %v", err)
	}
	if msg.Kind != KindHeartbeat {
		t.Fatalf("sequence 255 must classify as heartbeat: %+v", msg)
	}
	if string(msg.Ack) != "ACK:255" {
		t.Fatalf("mismatched heartbeat is still acknowledged: %q", msg.Ack)
	}
}

func TestDispatcherAckVariantDrops(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher("alive", protocol.TypeAck)
	if _, err := d.Dispatch([]byte("SQ:001000000019x")); err != nil {
		t.Fatalf("first message: %v", err)
	}

	msg, err := d.Dispatch([]byte("000000019no prefix"))
	if !errors.Is(err, protocol.ErrVariantPrefix) || msg.Ack != nil {
		t.Fatalf("expected prefix error without ack, got %+v err=%v", msg, err)
	}

	msg, err = d.Dispatch([]byte("SQ:00200000"))
	if !errors.Is(err, protocol.ErrShortPayload) || msg.Ack != nil {
		t.Fatalf("expected short payload without ack, got %+v err=%v", msg, err)
	}

	msg, err = d.Dispatch([]byte("SQ:999000000019payload"))
	if !errors.Is(err, protocol.ErrInvalidSequence) || msg.Ack != nil {
		t.Fatalf("expected out of range sequence without ack, got %+v err=%v", msg, err)
	}
	if _, err := d.Dispatch([]byte("SQ:256000000003alive")); !errors.Is(err, protocol.ErrInvalidSequence) {
		t.Fatalf("expected ErrInvalidSequence for 256, got %v", err)
	}
	if _, err := d.Dispatch([]byte("SQ:254000000019payload")); err != nil {
		t.Fatalf("sequence 254: %v", err)
	}
}

func TestDispatcherDoesNotAckAnAck(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher("alive", protocol.TypeAck)
	msg, err := d.Dispatch([]byte("SQ:007  0  0  6ACK:003"))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if msg.Ack != nil {
		t.Fatalf("ack messages must not be acknowledged: %q", msg.Ack)
	}
}

func TestDispatcherShortLegacyPayload(t *testing.T) {
	testlog.Start(t)
	d := NewDispatcher("alive", protocol.TypeAck)
	if _, err := d.Dispatch([]byte("0000")); !errors.Is(err, protocol.ErrShortPayload) {
		t.Fatalf("expected ErrShortPayload, got %v", err)
	}
	d.Reset()
	if d.Variant() != VariantUnknown {
		t.Fatalf("reset should forget variant")
	}
}

func TestLivenessClaimHeartbeat(t *testing.T) {
	testlog.Start(t)
	var l Liveness
	now := time.Unix(1700000000, 0)
	l.Reset(now, true)
	if !l.ClaimHeartbeat(now, 10*time.Second) {
		t.Fatalf("sendNow reset should make a heartbeat due")
	}
	if l.ClaimHeartbeat(now.Add(5*time.Second), 10*time.Second) {
		t.Fatalf("heartbeat claimed twice inside one interval")
	}
	if !l.ClaimHeartbeat(now.Add(10*time.Second), 10*time.Second) {
		t.Fatalf("heartbeat due at exactly one interval")
	}
	if l.ClaimHeartbeat(now.Add(time.Hour), 0) {
		t.Fatalf("zero interval disables heartbeats")
	}
	if !l.LastSent().Equal(now.Add(10 * time.Second)) {
		t.Fatalf("last sent=%v", l.LastSent())
	}
}

func TestMonitorSignalsStaleOncePerEpisode(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 0
	cfg.SenderHeartRate = 3 * time.Second
	var l Liveness
	start := time.Unix(1700000000, 0)
	l.Reset(start, false)
	m := NewMonitor(cfg, &l)

	if act := m.Tick(start.Add(2*time.Second), VariantLegacy); act.Stale {
		t.Fatalf("not stale yet: %+v", act)
	}
	if act := m.Tick(start.Add(4*time.Second), VariantLegacy); !act.Stale {
		t.Fatalf("expected stale: %+v", act)
	}
	for i := 5; i < 10; i++ {
		if act := m.Tick(start.Add(time.Duration(i)*time.Second), VariantLegacy); act.Stale {
			t.Fatalf("stale signaled twice in one episode at +%ds", i)
		}
	}

	m.Reset()
	l.Reset(start.Add(10*time.Second), false)
	if act := m.Tick(start.Add(11*time.Second), VariantLegacy); act.Stale {
		t.Fatalf("fresh epoch should not be stale")
	}
	if act := m.Tick(start.Add(14*time.Second), VariantLegacy); !act.Stale {
		t.Fatalf("second episode should signal again")
	}
}

func TestMonitorHeartbeatOnlyOutsideAckVariant(t *testing.T) {
	testlog.Start(t)
	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 5 * time.Second
	var l Liveness
	start := time.Unix(1700000000, 0)
	l.Reset(start, true)
	m := NewMonitor(cfg, &l)

	if act := m.Tick(start, VariantAck); act.SendHeartbeat {
		t.Fatalf("ack variant heartbeats are sent by message handling")
	}
	if act := m.Tick(start, VariantUnknown); !act.SendHeartbeat {
		t.Fatalf("expected heartbeat before variant detection")
	}
	if act := m.Tick(start.Add(time.Second), VariantLegacy); act.SendHeartbeat {
		t.Fatalf("heartbeat sent before interval elapsed")
	}
}
