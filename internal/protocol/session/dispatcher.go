package session

import (
	"bytes"
	"fmt"
	"strconv"
	"sync/atomic"

	"github.com/danmuck/ewbridge/internal/protocol"
	"github.com/rs/zerolog/log"
)

// Variant is the export flavor a connection speaks. It is fixed by the
// first message of the connection.
type Variant int32

const (
	VariantUnknown Variant = iota
	VariantLegacy
	VariantAck
)

func (v Variant) String() string {
	switch v {
	case VariantLegacy:
		return "legacy"
	case VariantAck:
		return "ack"
	default:
		return "unknown"
	}
}

type Kind int

const (
	KindData Kind = iota
	KindHeartbeat
)

func (k Kind) String() string {
	if k == KindHeartbeat {
		return "heartbeat"
	}
	return "data"
}

const (
	// HeartbeatSequence marks a heartbeat in the acknowledged variant.
	HeartbeatSequence = 255

	sequencePrefix    = "SQ:"
	sequencePrefixLen = len(sequencePrefix) + 3
)

// Message is one classified export message.
type Message struct {
	Variant  Variant
	Sequence int
	Kind     Kind
	// Payload starts at the 9-byte data logo.
	Payload []byte
	// Ack is the reply text owed to the export, nil when none is owed.
	Ack []byte
}

// Dispatcher classifies assembled messages for one connection.
type Dispatcher struct {
	heartText []byte
	ackType   uint8
	variant   atomic.Int32
}

func NewDispatcher(senderHeartText string, ackType uint8) *Dispatcher {
	return &Dispatcher{
		heartText: []byte(senderHeartText),
		ackType:   ackType,
	}
}

func (d *Dispatcher) Variant() Variant {
	return Variant(d.variant.Load())
}

// Reset forgets the detected variant for a new connection.
func (d *Dispatcher) Reset() {
	d.variant.Store(int32(VariantUnknown))
}

// Dispatch classifies raw. Errors are per-message: the message is dropped
// unless the returned Message still carries an Ack or a heartbeat kind
// (ErrHeartbeatMismatch), which callers honor before discarding it.
func (d *Dispatcher) Dispatch(raw []byte) (Message, error) {
	v := d.Variant()
	if v == VariantUnknown {
		v = VariantLegacy
		if hasSequencePrefix(raw) {
			v = VariantAck
		}
		if d.variant.CompareAndSwap(int32(VariantUnknown), int32(v)) {
			log.Info().Str("variant", v.String()).Bool("acks", v == VariantAck).Msg("export variant detected")
		} else {
			v = d.Variant()
		}
	}

	msg := Message{Variant: v, Sequence: -1}
	switch v {
	case VariantAck:
		if !hasSequencePrefix(raw) {
			return msg, fmt.Errorf("%w: %q", protocol.ErrVariantPrefix, head(raw))
		}
		if len(raw) < sequencePrefixLen+protocol.LogoLen {
			return msg, fmt.Errorf("%w: ack message of %d bytes", protocol.ErrShortPayload, len(raw))
		}
		seqText := raw[len(sequencePrefix):sequencePrefixLen]
		// hasSequencePrefix guarantees three digits.
		seq, _ := strconv.Atoi(string(seqText))
		if seq > HeartbeatSequence {
			return msg, fmt.Errorf("%w: %q out of range 0-%d", protocol.ErrInvalidSequence, seqText, HeartbeatSequence)
		}
		msg.Sequence = seq
		msg.Payload = raw[sequencePrefixLen:]
		if logo, err := protocol.ParseLogo(msg.Payload); err != nil || logo.Type != d.ackType {
			msg.Ack = append([]byte("ACK:"), seqText...)
		}
	default:
		if len(raw) < protocol.LogoLen {
			return msg, fmt.Errorf("%w: legacy message of %d bytes", protocol.ErrShortPayload, len(raw))
		}
		msg.Payload = raw
	}

	isHeartText := bytes.Equal(msg.Payload[protocol.LogoLen:], d.heartText)
	switch {
	case msg.Sequence == HeartbeatSequence:
		msg.Kind = KindHeartbeat
		if !isHeartText {
			return msg, fmt.Errorf("%w: got %q want %q", protocol.ErrHeartbeatMismatch,
				head(msg.Payload[protocol.LogoLen:]), d.heartText)
		}
	case isHeartText:
		msg.Kind = KindHeartbeat
	default:
		msg.Kind = KindData
	}
	return msg, nil
}

func hasSequencePrefix(raw []byte) bool {
	if len(raw) < sequencePrefixLen || !bytes.HasPrefix(raw, []byte(sequencePrefix)) {
		return false
	}
	for _, b := range raw[len(sequencePrefix):sequencePrefixLen] {
		if b < '0' || b > '9' {
			return false
		}
	}
	return true
}

// head trims b for log output.
func head(b []byte) []byte {
	if len(b) > 32 {
		return b[:32]
	}
	return b
}
