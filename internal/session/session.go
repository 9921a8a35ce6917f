// Package session drives continuous recognition: it holds the microphone,
// restarts the engine across transient ends and accumulates the transcript.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/rbright/earshot/internal/capture"
	"github.com/rbright/earshot/internal/classify"
	"github.com/rbright/earshot/internal/engine"
	"github.com/rbright/earshot/internal/fsm"
	"github.com/rbright/earshot/internal/observe"
	"github.com/rbright/earshot/internal/transcript"
)

const (
	// DefaultRestartDelay separates an engine end from its re-entry.
	DefaultRestartDelay = 100 * time.Millisecond
	// DefaultStopTimeout bounds how long Stopping waits for the engine end.
	DefaultStopTimeout = 2 * time.Second
)

// ErrClosed is returned by calls on a closed Session.
var ErrClosed = errors.New("session closed")

// Timer is a pending callback that can be revoked.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules fn after d.
type AfterFunc func(d time.Duration, fn func()) Timer

func realAfterFunc(d time.Duration, fn func()) Timer {
	return time.AfterFunc(d, fn)
}

// Options configures a Session. Microphone and Engine are required.
//
// Callbacks run on the session loop, except OnAudioLevel which runs on the
// level monitor goroutine. They must not block or call back into the Session.
type Options struct {
	Logger *slog.Logger

	Microphone    capture.Microphone
	NewAnalyser   capture.AnalyserFactory
	LevelInterval time.Duration

	Engine       engine.Engine
	EngineName   string
	EngineConfig engine.Config
	Classifier   classify.Classifier

	RestartDelay time.Duration
	StopTimeout  time.Duration
	// MaxRestartFailures fails the session after that many consecutive
	// failed re-entries. Zero keeps retrying.
	MaxRestartFailures int

	Metrics   *observe.Metrics
	AfterFunc AfterFunc

	OnAudioLevel func(float64)
	OnFatalError func(classify.Error)

	// Observers for tests in this package.
	onStateChange func(fsm.State)
	onTranscript  func(string)
}

// Session is one continuous capture session. Public methods are safe for
// concurrent use; all state changes run serially on an internal loop.
type Session struct {
	id         string
	logger     *slog.Logger
	eng        engine.Engine
	engineName string
	classifier classify.Classifier
	guard      *capture.Guard
	metrics    *observe.Metrics
	afterFunc  AfterFunc

	restartDelay       time.Duration
	stopTimeout        time.Duration
	maxRestartFailures int

	onFatal       func(classify.Error)
	onStateChange func(fsm.State)
	onTranscript  func(string)

	box        *mailbox
	loopDone   chan struct{}
	lifetime   context.Context
	endLife    context.CancelFunc
	closeOnce  sync.Once
	published  atomic.Value // fsm.State
	text       atomic.Value // string
	restartsOK atomic.Int64

	attemptMu  sync.Mutex
	attemptSeq uint64
	attempts   map[uint64]context.CancelFunc

	// Owned by the loop goroutine.
	state           fsm.State
	acc             transcript.Accumulator
	desired         bool
	restartAttempt  int
	restartFailures int
	lastError       *classify.Error
	fatalReported   bool
	holding         bool
	gen             uint64
	runGen          uint64
	engineRunning   bool
	restartTimer    Timer
	restartToken    uint64
	stopTimer       Timer
	stopToken       uint64
}

// New builds an idle Session and applies the engine configuration.
func New(opts Options) (*Session, error) {
	if opts.Engine == nil {
		return nil, errors.New("session: engine is required")
	}
	if opts.Microphone == nil {
		return nil, errors.New("session: microphone is required")
	}
	if err := opts.Engine.Configure(opts.EngineConfig); err != nil {
		return nil, fmt.Errorf("configure engine: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = observe.Noop()
	}
	afterFunc := opts.AfterFunc
	if afterFunc == nil {
		afterFunc = realAfterFunc
	}
	restartDelay := opts.RestartDelay
	if restartDelay <= 0 {
		restartDelay = DefaultRestartDelay
	}
	stopTimeout := opts.StopTimeout
	if stopTimeout <= 0 {
		stopTimeout = DefaultStopTimeout
	}
	engineName := opts.EngineName
	if engineName == "" {
		engineName = "unknown"
	}

	id := uuid.NewString()
	logger = logger.With("session_id", id)
	lifetime, endLife := context.WithCancel(context.Background())

	s := &Session{
		id:         id,
		logger:     logger,
		eng:        opts.Engine,
		engineName: engineName,
		classifier: opts.Classifier,
		guard: capture.NewGuard(capture.GuardOptions{
			Microphone:    opts.Microphone,
			NewAnalyser:   opts.NewAnalyser,
			LevelInterval: opts.LevelInterval,
			OnLevel:       opts.OnAudioLevel,
			Logger:        logger,
		}),
		metrics:            metrics,
		afterFunc:          afterFunc,
		restartDelay:       restartDelay,
		stopTimeout:        stopTimeout,
		maxRestartFailures: opts.MaxRestartFailures,
		onFatal:            opts.OnFatalError,
		onStateChange:      opts.onStateChange,
		onTranscript:       opts.onTranscript,
		box:                newMailbox(),
		loopDone:           make(chan struct{}),
		lifetime:           lifetime,
		endLife:            endLife,
		attempts:           make(map[uint64]context.CancelFunc),
		state:              fsm.StateIdle,
	}
	s.published.Store(fsm.StateIdle)
	s.text.Store("")

	go func() {
		defer close(s.loopDone)
		s.box.run()
	}()
	return s, nil
}

// ID returns the session identifier used in logs.
func (s *Session) ID() string {
	return s.id
}

// State returns the most recently published state.
func (s *Session) State() fsm.State {
	return s.published.Load().(fsm.State)
}

// Transcript returns the most recently published transcript snapshot.
func (s *Session) Transcript() string {
	return s.text.Load().(string)
}

// Restarts returns how many automatic engine re-entries succeeded.
func (s *Session) Restarts() int {
	return int(s.restartsOK.Load())
}

// Start begins listening. It is a no-op while already listening or
// restarting, recovers from Failed and resumes from Stopping. Acquisition
// and engine start failures move the session to Failed and are returned.
// A start aborted by Finish or Cancel settles Idle and returns
// context.Canceled.
func (s *Session) Start(ctx context.Context) error {
	attemptCtx, done := s.beginAttempt(ctx)
	defer done()

	var err error
	if callErr := s.call(ctx, func() { err = s.start(attemptCtx) }); callErr != nil {
		return callErr
	}
	return err
}

// Finish stops listening and returns the transcript. Hardware is released
// before Finish returns.
func (s *Session) Finish(ctx context.Context) (string, error) {
	s.abortAttempt()

	var text string
	if err := s.call(ctx, func() { text = s.stop(false) }); err != nil {
		return "", err
	}
	return text, nil
}

// Cancel stops listening and discards the transcript.
func (s *Session) Cancel(ctx context.Context) error {
	s.abortAttempt()
	return s.call(ctx, func() { s.stop(true) })
}

// Close stops any run, releases hardware and ends the loop. Later calls
// return ErrClosed.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.abortAttempt()
		s.box.post(s.shutdown)
		s.box.close()
		<-s.loopDone
		s.endLife()
	})
}

func (s *Session) call(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !s.box.post(func() {
		defer close(done)
		fn()
	}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// post enqueues a loop event, dropping it once the session is closed.
func (s *Session) post(fn func()) {
	s.box.post(fn)
}

// beginAttempt registers a cancellable context for an acquisition and
// engine start. Finish and Cancel abort it so they never wait behind a
// slow device or connection.
func (s *Session) beginAttempt(parent context.Context) (context.Context, func()) {
	ctx, cancel := context.WithCancel(parent)

	s.attemptMu.Lock()
	s.attemptSeq++
	seq := s.attemptSeq
	s.attempts[seq] = cancel
	s.attemptMu.Unlock()

	return ctx, func() {
		s.attemptMu.Lock()
		delete(s.attempts, seq)
		s.attemptMu.Unlock()
		cancel()
	}
}

func (s *Session) abortAttempt() {
	s.attemptMu.Lock()
	pending := s.attempts
	s.attempts = make(map[uint64]context.CancelFunc)
	s.attemptMu.Unlock()
	for _, cancel := range pending {
		cancel()
	}
}
