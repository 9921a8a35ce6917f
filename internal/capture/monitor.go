package capture

import (
	"sync"
	"time"
)

// DefaultLevelInterval is the sampling cadence of a Monitor.
const DefaultLevelInterval = 50 * time.Millisecond

// Monitor samples an Analyser on a fixed cadence.
type Monitor struct {
	analyser Analyser
	interval time.Duration
	emit     func(float64)

	stopCh   chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

// StartMonitor begins sampling analyser every interval and emitting to emit.
func StartMonitor(analyser Analyser, interval time.Duration, emit func(float64)) *Monitor {
	if interval <= 0 {
		interval = DefaultLevelInterval
	}
	if emit == nil {
		emit = func(float64) {}
	}
	m := &Monitor{
		analyser: analyser,
		interval: interval,
		emit:     emit,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	go m.loop()
	return m
}

func (m *Monitor) loop() {
	defer close(m.done)

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			m.emit(0)
			return
		case <-ticker.C:
			m.emit(m.analyser.Level())
		}
	}
}

// Stop ends sampling and returns once the final zero level was emitted.
func (m *Monitor) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	<-m.done
}
