package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// GuardOptions configures a Guard.
type GuardOptions struct {
	Microphone    Microphone
	NewAnalyser   AnalyserFactory
	LevelInterval time.Duration
	OnLevel       func(float64)
	Logger        *slog.Logger
}

// Stats counts obtained and released streams.
type Stats struct {
	Acquired int
	Released int
}

// Guard exclusively holds one microphone stream, its analyser and the level
// monitor. It has a single owner and is not safe for concurrent use. OnLevel
// runs on the monitor goroutine.
type Guard struct {
	mic         Microphone
	newAnalyser AnalyserFactory
	interval    time.Duration
	onLevel     func(float64)
	logger      *slog.Logger

	stream   Stream
	analyser Analyser
	monitor  *Monitor
	stats    Stats
}

func NewGuard(opts GuardOptions) *Guard {
	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	newAnalyser := opts.NewAnalyser
	if newAnalyser == nil {
		newAnalyser = PCMAnalyserFactory(DefaultWindow)
	}
	return &Guard{
		mic:         opts.Microphone,
		newAnalyser: newAnalyser,
		interval:    opts.LevelInterval,
		onLevel:     opts.OnLevel,
		logger:      logger,
	}
}

// Acquire obtains the stream, binds the analyser and starts the monitor.
// It returns immediately when already held. A failure after the stream was
// obtained releases it before returning.
func (g *Guard) Acquire(ctx context.Context) error {
	if g.stream != nil {
		return nil
	}
	if g.mic == nil {
		return NewDeviceUnavailable(fmt.Errorf("no microphone configured"))
	}

	stream, err := g.mic.RequestStream(ctx)
	if err != nil {
		return asResourceError(err)
	}
	g.stream = stream
	g.stats.Acquired++

	analyser, err := g.newAnalyser(stream)
	if err != nil {
		g.Release()
		return NewDeviceUnavailable(fmt.Errorf("build level analyser: %w", err))
	}
	g.analyser = analyser
	g.monitor = StartMonitor(analyser, g.interval, g.onLevel)
	return nil
}

// Release stops the monitor, closes the analyser and stops every track.
// Every step runs even when an earlier one failed. Safe to call repeatedly.
func (g *Guard) Release() {
	if g.stream == nil && g.analyser == nil && g.monitor == nil {
		return
	}

	if monitor := g.monitor; monitor != nil {
		g.monitor = nil
		g.step("stop level monitor", func() error {
			monitor.Stop()
			return nil
		})
	}
	if analyser := g.analyser; analyser != nil {
		g.analyser = nil
		g.step("close level analyser", analyser.Close)
	}
	if stream := g.stream; stream != nil {
		g.stream = nil
		var tracks []Track
		g.step("list tracks", func() error {
			tracks = stream.Tracks()
			return nil
		})
		for i, track := range tracks {
			g.step(fmt.Sprintf("stop track %d", i), track.Stop)
		}
		g.stats.Released++
	}
}

// Held reports whether a stream is held.
func (g *Guard) Held() bool {
	return g.stream != nil
}

// Stream returns the held stream or nil.
func (g *Guard) Stream() Stream {
	return g.stream
}

func (g *Guard) Stats() Stats {
	return g.stats
}

func (g *Guard) step(name string, fn func() error) {
	defer func() {
		if r := recover(); r != nil {
			g.logger.Debug("capture release step panicked", "step", name, "panic", fmt.Sprint(r))
		}
	}()
	if err := fn(); err != nil {
		g.logger.Debug("capture release step failed", "step", name, "error", err.Error())
	}
}
