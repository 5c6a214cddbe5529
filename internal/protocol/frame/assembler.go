package frame

import "fmt"

// State is the assembler's position in the framing grammar.
type State int

const (
	StateSearching State = iota
	StateExpecting
	StateAssembling
)

func (s State) String() string {
	switch s {
	case StateSearching:
		return "searching"
	case StateExpecting:
		return "expecting"
	case StateAssembling:
		return "assembling"
	default:
		return "unknown"
	}
}

// ResyncError describes one framing violation. The assembler has already
// recovered by the time it is reported.
type ResyncError struct {
	Err       error
	State     State
	Byte      byte
	Discarded int
}

func (e *ResyncError) Error() string {
	return fmt.Sprintf("%v (state=%s byte=0x%02x discarded=%d)", e.Err, e.State, e.Byte, e.Discarded)
}

func (e *ResyncError) Unwrap() error {
	return e.Err
}

// Stats counts assembler outcomes since construction or the last Reset.
type Stats struct {
	Messages       uint64
	Resyncs        uint64
	DiscardedBytes uint64
}

// Assembler turns a raw byte stream into de-escaped messages. It keeps its
// position across Feed calls, so reads may split frames anywhere.
type Assembler struct {
	limits   Limits
	state    State
	last     byte
	escaping bool
	buf      []byte
	stats    Stats
	onResync func(*ResyncError)
}

// NewAssembler returns an assembler searching for its first start byte.
// onResync may be nil.
func NewAssembler(limits Limits, onResync func(*ResyncError)) *Assembler {
	return &Assembler{
		limits:   limits.withDefaults(),
		state:    StateSearching,
		onResync: onResync,
	}
}

// Feed consumes p and calls emit once per completed message, in wire order.
// emit owns the slice it receives. An emit error stops the feed and is
// returned; the rest of p is not consumed.
func (a *Assembler) Feed(p []byte, emit func(msg []byte) error) error {
	for _, b := range p {
		if err := a.step(b, emit); err != nil {
			return err
		}
	}
	return nil
}

// Reset returns the assembler to its initial state, dropping any partial message.
func (a *Assembler) Reset() {
	a.state = StateSearching
	a.last = 0
	a.escaping = false
	a.buf = nil
	a.stats = Stats{}
}

func (a *Assembler) State() State {
	return a.state
}

func (a *Assembler) Stats() Stats {
	return a.stats
}

func (a *Assembler) step(b byte, emit func([]byte) error) error {
	prev := a.last
	a.last = b

	switch a.state {
	case StateSearching:
		if b == STX && prev != ESC {
			a.begin()
		}
		return nil

	case StateExpecting:
		if b == STX && prev != ESC {
			a.begin()
			return nil
		}
		a.resync(ErrUnexpectedByte, b)
		return nil
	}

	// StateAssembling
	if a.escaping {
		a.escaping = false
		if !IsSacred(b) {
			a.resync(ErrUnknownEscape, b)
			return nil
		}
		a.append(b)
		return nil
	}

	switch b {
	case ETX:
		msg := a.buf
		if msg == nil {
			msg = []byte{}
		}
		a.buf = nil
		a.state = StateExpecting
		a.stats.Messages++
		return emit(msg)
	case ESC:
		a.escaping = true
	case STX:
		a.resync(ErrUnescapedStart, b)
	default:
		a.append(b)
	}
	return nil
}

func (a *Assembler) begin() {
	if a.buf == nil {
		a.buf = make([]byte, 0, min(a.limits.MaxMessageBytes, 1024))
	}
	a.buf = a.buf[:0]
	a.escaping = false
	a.state = StateAssembling
}

func (a *Assembler) append(b byte) {
	a.buf = append(a.buf, b)
	if len(a.buf) > a.limits.MaxMessageBytes {
		a.resync(ErrOverflow, b)
	}
}

func (a *Assembler) resync(err error, b byte) {
	e := &ResyncError{Err: err, State: a.state, Byte: b, Discarded: len(a.buf)}
	a.stats.Resyncs++
	a.stats.DiscardedBytes += uint64(len(a.buf))
	a.buf = a.buf[:0]
	a.escaping = false
	a.state = StateSearching
	if a.onResync != nil {
		a.onResync(e)
	}
}
