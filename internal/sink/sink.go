// Package sink delivers decoded sample batches to downstream consumers.
//
// The connection worker calls Push synchronously, once per decoded packet and
// in wire order. Implementations must return quickly: they either hand the
// batch to a buffered transport or drop it.
package sink

import (
	"errors"
	"io"

	"github.com/danmuck/ewbridge/internal/tracebuf"
)

type Sink interface {
	Push(tracebuf.DecodedSamples)
}

// Func adapts a function to Sink.
type Func func(tracebuf.DecodedSamples)

func (f Func) Push(s tracebuf.DecodedSamples) {
	f(s)
}

// Multi pushes every batch to each sink in order.
type Multi []Sink

func (m Multi) Push(s tracebuf.DecodedSamples) {
	for _, k := range m {
		k.Push(s)
	}
}

func (m Multi) Close() error {
	var errs []error
	for _, k := range m {
		if err := Close(k); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close releases s if it holds resources.
func Close(s Sink) error {
	if c, ok := s.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
