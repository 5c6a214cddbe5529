package session

import (
	"sync/atomic"
	"time"
)

// Action is what the supervisor must do after one monitor tick.
type Action struct {
	SendHeartbeat bool
	Stale         bool
	Silence       time.Duration
}

// Monitor decides, once per tick, whether to beat our heart towards the
// export and whether the export's heart has stopped.
type Monitor struct {
	heartbeatInterval time.Duration
	senderHeartRate   time.Duration
	live              *Liveness
	tripped           atomic.Bool
}

func NewMonitor(cfg Config, live *Liveness) *Monitor {
	return &Monitor{
		heartbeatInterval: cfg.HeartbeatInterval,
		senderHeartRate:   cfg.SenderHeartRate,
		live:              live,
	}
}

// Tick evaluates liveness at now. In the acknowledged variant local
// heartbeats ride on message handling, so the monitor only sends them for
// the legacy or not yet detected variant. Stale is reported once per
// episode until Reset.
func (m *Monitor) Tick(now time.Time, variant Variant) Action {
	var act Action
	if variant != VariantAck && m.live.ClaimHeartbeat(now, m.heartbeatInterval) {
		act.SendHeartbeat = true
	}
	if m.senderHeartRate <= 0 {
		return act
	}
	silence := m.live.SilenceAt(now)
	act.Silence = silence
	if silence > m.senderHeartRate && m.tripped.CompareAndSwap(false, true) {
		act.Stale = true
	}
	return act
}

// Tripped reports whether a staleness episode is in progress.
func (m *Monitor) Tripped() bool {
	return m.tripped.Load()
}

func (m *Monitor) Reset() {
	m.tripped.Store(false)
}
