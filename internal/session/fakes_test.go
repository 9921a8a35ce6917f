package session

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/earshot/internal/capture"
	"github.com/rbright/earshot/internal/classify"
	"github.com/rbright/earshot/internal/engine"
	"github.com/rbright/earshot/internal/fsm"
)

var errBoom = errors.New("boom")

type fakeTrack struct {
	stops atomic.Int32
}

func (t *fakeTrack) Stop() error {
	t.stops.Add(1)
	return nil
}

type fakeStream struct {
	track *fakeTrack
}

func (s *fakeStream) Tracks() []capture.Track { return []capture.Track{s.track} }

func (s *fakeStream) Frames() (<-chan []byte, func()) {
	ch := make(chan []byte)
	var once sync.Once
	return ch, func() { once.Do(func() { close(ch) }) }
}

type fakeMicrophone struct {
	err error

	mu      sync.Mutex
	streams []*fakeStream
}

func (m *fakeMicrophone) RequestStream(context.Context) (capture.Stream, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	stream := &fakeStream{track: &fakeTrack{}}
	m.streams = append(m.streams, stream)
	return stream, nil
}

func (m *fakeMicrophone) requested() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.streams)
}

// open counts streams whose track was never stopped.
func (m *fakeMicrophone) open() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.streams {
		if s.track.stops.Load() == 0 {
			n++
		}
	}
	return n
}

type fakeAnalyser struct {
	level  float64
	closed atomic.Int32
}

func (a *fakeAnalyser) Level() float64 { return a.level }

func (a *fakeAnalyser) Close() error {
	a.closed.Add(1)
	return nil
}

func fakeAnalyserFactory(level float64) capture.AnalyserFactory {
	return func(capture.Stream) (capture.Analyser, error) {
		return &fakeAnalyser{level: level}, nil
	}
}

// fakeEngine records runs and lets tests drive the active sink.
type fakeEngine struct {
	mu         sync.Mutex
	startErrs  []error
	starts     int
	stops      int
	running    bool
	sink       engine.Sink
	holdEnd    bool
	blockStart bool
	entered    chan struct{}
	config     engine.Config
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{entered: make(chan struct{}, 8)}
}

func (e *fakeEngine) Configure(cfg engine.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.config = cfg
	return nil
}

func (e *fakeEngine) Start(ctx context.Context, _ engine.Audio, sink engine.Sink) error {
	e.mu.Lock()
	e.starts++
	block := e.blockStart
	e.mu.Unlock()

	select {
	case e.entered <- struct{}{}:
	default:
	}
	if block {
		<-ctx.Done()
		return ctx.Err()
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.startErrs) > 0 {
		err := e.startErrs[0]
		e.startErrs = e.startErrs[1:]
		if err != nil {
			return err
		}
	}
	if e.running {
		return engine.ErrAlreadyStarted
	}
	e.running = true
	e.sink = sink
	return nil
}

func (e *fakeEngine) Stop() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stops++
	if e.running && !e.holdEnd {
		e.running = false
		e.sink.End()
	}
	return nil
}

func (e *fakeEngine) activeSink() engine.Sink {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sink
}

func (e *fakeEngine) result(final []string, interim string) {
	e.activeSink().Result(engine.Result{Final: final, Interim: interim})
}

func (e *fakeEngine) fail(code string) {
	e.activeSink().Error(engine.NewError(code, errBoom))
}

// end finishes the active run as the service would after silence.
func (e *fakeEngine) end() {
	e.mu.Lock()
	sink := e.sink
	e.running = false
	e.mu.Unlock()
	sink.End()
}

func (e *fakeEngine) startCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.starts
}

func (e *fakeEngine) stopCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.stops
}

type manualTimer struct {
	fn      func()
	stopped atomic.Bool
}

func (t *manualTimer) Stop() bool {
	return !t.stopped.Swap(true)
}

// manualClock collects scheduled callbacks for the test to fire.
type manualClock struct {
	mu     sync.Mutex
	timers []*manualTimer
}

func (c *manualClock) AfterFunc(_ time.Duration, fn func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &manualTimer{fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (c *manualClock) scheduled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

// fireAll runs every callback, revoked ones included, to model late timers.
func (c *manualClock) fireAll() {
	c.mu.Lock()
	timers := append([]*manualTimer(nil), c.timers...)
	c.mu.Unlock()
	for _, t := range timers {
		t.fn()
	}
}

type recorder struct {
	mu     sync.Mutex
	fatals []classify.Error
	states []fsm.State
	texts  []string
	levels []float64
}

func (r *recorder) onFatal(err classify.Error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fatals = append(r.fatals, err)
}

func (r *recorder) onState(state fsm.State) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.states = append(r.states, state)
}

func (r *recorder) onText(text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.texts = append(r.texts, text)
}

func (r *recorder) onLevel(level float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.levels = append(r.levels, level)
}

func (r *recorder) fatalErrors() []classify.Error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]classify.Error(nil), r.fatals...)
}

func (r *recorder) stateHistory() []fsm.State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]fsm.State(nil), r.states...)
}

func (r *recorder) maxLevel() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	highest := 0.0
	for _, level := range r.levels {
		highest = max(highest, level)
	}
	return highest
}

type harness struct {
	session *Session
	mic     *fakeMicrophone
	engine  *fakeEngine
	rec     *recorder
}

func newHarness(t *testing.T, mutate func(*Options)) *harness {
	t.Helper()

	h := &harness{mic: &fakeMicrophone{}, engine: newFakeEngine(), rec: &recorder{}}
	opts := Options{
		Microphone:    h.mic,
		NewAnalyser:   fakeAnalyserFactory(0),
		LevelInterval: 5 * time.Millisecond,
		Engine:        h.engine,
		EngineName:    "fake",
		RestartDelay:  time.Millisecond,
		StopTimeout:   time.Second,
		OnFatalError:  h.rec.onFatal,
		onStateChange: h.rec.onState,
		onTranscript:  h.rec.onText,
		OnAudioLevel:  h.rec.onLevel,
	}
	if mutate != nil {
		mutate(&opts)
	}

	sess, err := New(opts)
	require.NoError(t, err)
	t.Cleanup(sess.Close)
	h.session = sess
	return h
}

func waitForState(t *testing.T, s interface{ State() fsm.State }, want fsm.State) {
	t.Helper()
	require.Eventually(t, func() bool {
		return s.State() == want
	}, 2*time.Second, 2*time.Millisecond, "state never reached %s", want)
}

func waitForStarts(t *testing.T, e *fakeEngine, want int) {
	t.Helper()
	require.Eventually(t, func() bool {
		return e.startCount() >= want
	}, 2*time.Second, 2*time.Millisecond, "engine never started %d times", want)
}

// sync waits until every event posted before it has been applied.
func (h *harness) sync(t *testing.T) {
	t.Helper()
	require.NoError(t, h.session.call(context.Background(), func() {}))
}
