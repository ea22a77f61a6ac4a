package fastsync

import "sync/atomic"

// Metrics is a snapshot of a Process's counters.
type Metrics struct {
	Waits           uint64
	Satisfied       uint64
	Timeouts        uint64
	APCs            uint64
	Abandoned       uint64
	SpuriousWakeups uint64
	WaitAllRetries  uint64
	Fallbacks       uint64
}

// metrics is nil when disabled; every method is nil-safe.
type metrics struct {
	waits           atomic.Uint64
	satisfied       atomic.Uint64
	timeouts        atomic.Uint64
	apcs            atomic.Uint64
	abandoned       atomic.Uint64
	spuriousWakeups atomic.Uint64
	waitAllRetries  atomic.Uint64
	fallbacks       atomic.Uint64
}

func (m *metrics) waited() {
	if m != nil {
		m.waits.Add(1)
	}
}

func (m *metrics) spurious() {
	if m != nil {
		m.spuriousWakeups.Add(1)
	}
}

func (m *metrics) retried() {
	if m != nil {
		m.waitAllRetries.Add(1)
	}
}

func (m *metrics) fellBack() {
	if m != nil {
		m.fallbacks.Add(1)
	}
}

func (m *metrics) snapshot() Metrics {
	if m == nil {
		return Metrics{}
	}
	return Metrics{
		Waits:           m.waits.Load(),
		Satisfied:       m.satisfied.Load(),
		Timeouts:        m.timeouts.Load(),
		APCs:            m.apcs.Load(),
		Abandoned:       m.abandoned.Load(),
		SpuriousWakeups: m.spuriousWakeups.Load(),
		WaitAllRetries:  m.waitAllRetries.Load(),
		Fallbacks:       m.fallbacks.Load(),
	}
}

// record a wait outcome
func (m *metrics) result(status WaitStatus) {
	if m == nil {
		return
	}
	switch status {
	case WaitTimeout:
		m.timeouts.Add(1)
	case WaitAPC:
		m.apcs.Add(1)
	case WaitAbandoned:
		m.satisfied.Add(1)
		m.abandoned.Add(1)
	default:
		m.satisfied.Add(1)
	}
}
