package frame

import (
	"errors"
	"io"

	"github.com/danmuck/ewbridge/internal/protocol"
)

// Sacred characters of the export framing scheme.
const (
	STX byte = 0x02
	ETX byte = 0x03
	ESC byte = 0x1B
)

var (
	ErrUnexpectedByte  = errors.New("frame: unexpected byte while expecting message start")
	ErrUnescapedStart  = errors.New("frame: unescaped start character inside message")
	ErrUnknownEscape   = errors.New("frame: unknown escape sequence")
	ErrOverflow        = errors.New("frame: message exceeds size limit")
	ErrMessageTooLarge = errors.New("frame: outbound message too large")
)

// Limits constrains assembler memory use.
type Limits struct {
	MaxMessageBytes int
}

func DefaultLimits() Limits {
	return Limits{MaxMessageBytes: 4096}
}

func (l Limits) withDefaults() Limits {
	if l.MaxMessageBytes <= 0 {
		l.MaxMessageBytes = DefaultLimits().MaxMessageBytes
	}
	return l
}

// IsSacred reports whether b must be escaped inside a message body.
func IsSacred(b byte) bool {
	return b == STX || b == ETX || b == ESC
}

// Escape cloaks every sacred byte in p behind an ESC.
func Escape(p []byte) []byte {
	out := make([]byte, 0, len(p)+len(p)/16+1)
	for _, b := range p {
		if IsSacred(b) {
			out = append(out, ESC)
		}
		out = append(out, b)
	}
	return out
}

// Encode returns payload escaped and wrapped in STX/ETX.
func Encode(payload []byte) []byte {
	body := Escape(payload)
	out := make([]byte, 0, len(body)+2)
	out = append(out, STX)
	out = append(out, body...)
	return append(out, ETX)
}

// WriteMessage sends one framed message: STX, the 9-character ASCII logo,
// the message bytes, ETX. The frame goes out in a single Write.
func WriteMessage(w io.Writer, logo protocol.Logo, msg []byte, limits Limits) error {
	limits = limits.withDefaults()
	if protocol.LogoLen+len(msg) > limits.MaxMessageBytes {
		return ErrMessageTooLarge
	}
	payload := make([]byte, 0, protocol.LogoLen+len(msg))
	payload = append(payload, logo.Wire()...)
	payload = append(payload, msg...)
	_, err := w.Write(Encode(payload))
	return err
}
