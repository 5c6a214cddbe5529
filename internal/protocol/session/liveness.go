package session

import (
	"sync/atomic"
	"time"
)

// Liveness holds the last local heartbeat send and the last remote receive.
// It is shared by the connection worker and the heartbeat monitor.
type Liveness struct {
	lastSent     atomic.Int64
	lastReceived atomic.Int64
}

// Reset starts a new connection epoch. With sendNow the next heartbeat
// check fires immediately.
func (l *Liveness) Reset(now time.Time, sendNow bool) {
	l.lastReceived.Store(now.UnixNano())
	if sendNow {
		l.lastSent.Store(0)
		return
	}
	l.lastSent.Store(now.UnixNano())
}

func (l *Liveness) MarkSent(t time.Time) {
	l.lastSent.Store(t.UnixNano())
}

func (l *Liveness) MarkReceived(t time.Time) {
	l.lastReceived.Store(t.UnixNano())
}

func (l *Liveness) LastSent() time.Time {
	return fromNanos(l.lastSent.Load())
}

func (l *Liveness) LastReceived() time.Time {
	return fromNanos(l.lastReceived.Load())
}

// SilenceAt is the time since the last remote receive.
func (l *Liveness) SilenceAt(now time.Time) time.Duration {
	return time.Duration(now.UnixNano() - l.lastReceived.Load())
}

// ClaimHeartbeat reports whether a local heartbeat is due and, if so, records
// now as the send time. Exactly one concurrent caller wins a given slot.
func (l *Liveness) ClaimHeartbeat(now time.Time, interval time.Duration) bool {
	if interval <= 0 {
		return false
	}
	last := l.lastSent.Load()
	if now.UnixNano()-last < int64(interval) {
		return false
	}
	return l.lastSent.CompareAndSwap(last, now.UnixNano())
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}
