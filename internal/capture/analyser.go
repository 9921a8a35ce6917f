package capture

import (
	"encoding/binary"
	"math"
	"sync"
)

// DefaultWindow is the number of recent samples a PCMAnalyser averages.
const DefaultWindow = 128

const maxSampleMagnitude = 32768.0

// Analyser reports the current intensity of a held stream.
type Analyser interface {
	Level() float64
	Close() error
}

// AnalyserFactory binds an analyser to a freshly acquired stream.
type AnalyserFactory func(Stream) (Analyser, error)

// PCMAnalyser keeps the most recent window of samples from a stream.
type PCMAnalyser struct {
	detach func()
	done   chan struct{}

	mu      sync.Mutex
	samples []int16
	next    int
	filled  bool

	closeOnce sync.Once
}

// NewPCMAnalyser subscribes to stream and keeps window samples.
func NewPCMAnalyser(stream Stream, window int) (*PCMAnalyser, error) {
	if window <= 0 {
		window = DefaultWindow
	}
	frames, detach := stream.Frames()
	a := &PCMAnalyser{
		detach:  detach,
		done:    make(chan struct{}),
		samples: make([]int16, window),
	}
	go a.consume(frames)
	return a, nil
}

// PCMAnalyserFactory returns an AnalyserFactory using window samples.
func PCMAnalyserFactory(window int) AnalyserFactory {
	return func(stream Stream) (Analyser, error) {
		return NewPCMAnalyser(stream, window)
	}
}

func (a *PCMAnalyser) consume(frames <-chan []byte) {
	defer close(a.done)
	for frame := range frames {
		a.write(frame)
	}
}

func (a *PCMAnalyser) write(frame []byte) {
	a.mu.Lock()
	defer a.mu.Unlock()

	for i := 0; i+1 < len(frame); i += 2 {
		a.samples[a.next] = int16(binary.LittleEndian.Uint16(frame[i:]))
		a.next++
		if a.next == len(a.samples) {
			a.next = 0
			a.filled = true
		}
	}
}

// Level returns the mean magnitude of the window scaled into [0, 1].
func (a *PCMAnalyser) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.filled {
		return MeanMagnitude(a.samples)
	}
	return MeanMagnitude(a.samples[:a.next])
}

// Close detaches the subscription and waits for the reader to exit.
func (a *PCMAnalyser) Close() error {
	a.closeOnce.Do(func() {
		if a.detach != nil {
			a.detach()
		}
		<-a.done
	})
	return nil
}

// MeanMagnitude averages |sample| and scales it by the largest representable
// magnitude. The result is clamped to [0, 1].
func MeanMagnitude(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		if v < 0 {
			v = -v
		}
		sum += v
	}
	level := sum / float64(len(samples)) / maxSampleMagnitude
	switch {
	case level < 0:
		return 0
	case level > 1:
		return 1
	default:
		return level
	}
}

// RMS returns the root mean square of samples on the same [0, 1] scale as
// MeanMagnitude.
func RMS(samples []int16) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s) / maxSampleMagnitude
		sum += v * v
	}
	return min(1, math.Sqrt(sum/float64(len(samples))))
}
