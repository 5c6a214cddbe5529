package tracebuf

import (
	"errors"
	"fmt"

	"github.com/danmuck/ewbridge/internal/protocol"
)

var (
	ErrNonWaveform         = errors.New("tracebuf: not a waveform message")
	ErrMalformedHeader     = errors.New("tracebuf: malformed header")
	ErrUnsupportedDatatype = errors.New("tracebuf: unsupported datatype")
)

// DecodeError reports why one payload was rejected. Kind is one of the
// package sentinels or a logo parse error.
type DecodeError struct {
	Kind   error
	Logo   protocol.Logo
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%v (logo %s)", e.Kind, e.Logo)
	}
	return fmt.Sprintf("%v: %s (logo %s)", e.Kind, e.Detail, e.Logo)
}

func (e *DecodeError) Unwrap() error {
	return e.Kind
}

func decodeErr(kind error, logo protocol.Logo, format string, args ...any) *DecodeError {
	return &DecodeError{Kind: kind, Logo: logo, Detail: fmt.Sprintf(format, args...)}
}
