package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/rbright/earshot/internal/classify"
	"github.com/rbright/earshot/internal/fsm"
	"github.com/rbright/earshot/internal/ipc"
	"github.com/rbright/earshot/internal/transcript"
)

// ErrEmptyTranscript is returned when a finished session recognized nothing.
var ErrEmptyTranscript = errors.New("empty transcript")

type action int

const (
	actionFinish action = iota + 1
	actionCancel
)

// Result is the outcome of one Controller.Run.
type Result struct {
	SessionID      string
	State          fsm.State
	Transcript     string
	Cancelled      bool
	Restarts       int
	Err            error
	StartedAt      time.Time
	FinishedAt     time.Time
	FocusedMonitor string
}

// Indicator is the session-facing subset of indicator behavior.
type Indicator interface {
	ShowListening(context.Context)
	ShowLevel(float64)
	ShowError(context.Context, string)
	CueStop(context.Context)
	CueComplete(context.Context)
	CueCancel(context.Context)
	Hide(context.Context)
	FocusedMonitor() string
}

type noopIndicator struct{}

func (noopIndicator) ShowListening(context.Context)     {}
func (noopIndicator) ShowLevel(float64)                 {}
func (noopIndicator) ShowError(context.Context, string) {}
func (noopIndicator) CueStop(context.Context)           {}
func (noopIndicator) CueComplete(context.Context)       {}
func (noopIndicator) CueCancel(context.Context)         {}
func (noopIndicator) Hide(context.Context)              {}
func (noopIndicator) FocusedMonitor() string            { return "" }

// Committer dispatches a finished transcript.
type Committer interface {
	Commit(context.Context, string) error
}

// CommitFunc adapts a function to Committer.
type CommitFunc func(context.Context, string) error

func (f CommitFunc) Commit(ctx context.Context, text string) error {
	return f(ctx, text)
}

// ControllerOptions wires a Controller. Session carries the recognition
// setup; its OnAudioLevel and OnFatalError callbacks are chained.
type ControllerOptions struct {
	Logger    *slog.Logger
	Session   Options
	Committer Committer
	Indicator Indicator
	Format    transcript.Options
}

// Controller runs one owner lifecycle: it starts a Session, waits for a
// finish or cancel request and dispatches the transcript.
type Controller struct {
	logger    *slog.Logger
	session   *Session
	commit    Committer
	indicator Indicator
	format    transcript.Options

	actions chan action
	fatal   chan classify.Error
}

// NewController builds the Session and its controller.
func NewController(opts ControllerOptions) (*Controller, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	committer := opts.Committer
	if committer == nil {
		committer = CommitFunc(func(context.Context, string) error { return nil })
	}
	indicator := opts.Indicator
	if indicator == nil {
		indicator = noopIndicator{}
	}

	c := &Controller{
		logger:    logger,
		commit:    committer,
		indicator: indicator,
		format:    opts.Format,
		actions:   make(chan action, 1),
		fatal:     make(chan classify.Error, 1),
	}

	sessionOpts := opts.Session
	if sessionOpts.Logger == nil {
		sessionOpts.Logger = logger
	}
	onLevel := sessionOpts.OnAudioLevel
	sessionOpts.OnAudioLevel = func(level float64) {
		indicator.ShowLevel(level)
		if onLevel != nil {
			onLevel(level)
		}
	}
	onFatal := sessionOpts.OnFatalError
	sessionOpts.OnFatalError = func(err classify.Error) {
		select {
		case c.fatal <- err:
		default:
		}
		if onFatal != nil {
			onFatal(err)
		}
	}

	sess, err := New(sessionOpts)
	if err != nil {
		return nil, err
	}
	c.session = sess
	return c, nil
}

// Session exposes the controlled session.
func (c *Controller) Session() *Session {
	return c.session
}

// State returns the session state snapshot.
func (c *Controller) State() fsm.State {
	return c.session.State()
}

// Run executes one lifecycle and closes the session before returning.
func (c *Controller) Run(ctx context.Context) Result {
	result := Result{SessionID: c.session.ID(), StartedAt: time.Now()}
	defer c.session.Close()

	c.indicator.ShowListening(ctx)

	if err := c.session.Start(ctx); err != nil {
		c.indicator.ShowError(context.Background(), startFailureMessage(err))
		return c.finishResult(result, err)
	}

	defer func() {
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 800*time.Millisecond)
		defer cancel()
		c.indicator.Hide(cleanupCtx)
	}()

	select {
	case <-ctx.Done():
		_ = c.session.Cancel(context.Background())
		c.indicator.CueCancel(context.Background())
		c.indicator.ShowError(context.Background(), "Cancelled")
		return c.finishResult(result, ctx.Err())
	case fatal := <-c.fatal:
		c.indicator.ShowError(context.Background(), fatalMessage(fatal))
		return c.finishResult(result, fatal)
	case a := <-c.actions:
		switch a {
		case actionCancel:
			_ = c.session.Cancel(context.Background())
			c.indicator.CueCancel(context.Background())
			result.Cancelled = true
			return c.finishResult(result, nil)
		case actionFinish:
			return c.finish(ctx, result)
		default:
			_ = c.session.Cancel(context.Background())
			return c.finishResult(result, fmt.Errorf("unknown action %d", a))
		}
	}
}

func (c *Controller) finish(ctx context.Context, result Result) Result {
	raw, err := c.session.Finish(context.Background())
	c.indicator.CueStop(context.Background())
	if err != nil {
		c.indicator.ShowError(context.Background(), "Speech recognition failed")
		return c.finishResult(result, err)
	}

	text := transcript.Format(raw, c.format)
	result.Transcript = text
	if text == "" {
		c.indicator.ShowError(context.Background(), "No speech detected")
		return c.finishResult(result, ErrEmptyTranscript)
	}

	if err := c.commit.Commit(ctx, text); err != nil {
		c.indicator.ShowError(context.Background(), "Output dispatch failed")
		return c.finishResult(result, err)
	}
	c.indicator.CueComplete(context.Background())
	return c.finishResult(result, nil)
}

func (c *Controller) finishResult(result Result, err error) Result {
	result.State = c.session.State()
	result.Restarts = c.session.Restarts()
	result.Err = err
	result.FinishedAt = time.Now()
	result.FocusedMonitor = c.indicator.FocusedMonitor()
	return result
}

// Handle serves IPC commands for the active owner session.
func (c *Controller) Handle(_ context.Context, req ipc.Request) ipc.Response {
	switch req.Command {
	case ipc.CommandStatus:
		return c.response("status")
	case ipc.CommandToggle, ipc.CommandFinish:
		return c.request(actionFinish, req.Command)
	case ipc.CommandCancel:
		return c.request(actionCancel, req.Command)
	case ipc.CommandTranscript:
		return c.response("transcript")
	default:
		state := c.State()
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("unknown command: %s", req.Command)}
	}
}

func (c *Controller) response(message string) ipc.Response {
	return ipc.Response{
		OK:         true,
		State:      string(c.State()),
		Message:    message,
		SessionID:  c.session.ID(),
		Transcript: c.session.Transcript(),
		Restarts:   c.session.Restarts(),
	}
}

// request enqueues a finish or cancel action when the session is running.
func (c *Controller) request(a action, source string) ipc.Response {
	state := c.State()
	if state == fsm.StateStopping {
		return ipc.Response{OK: false, State: string(state), Error: "already finishing"}
	}
	if !state.Active() {
		return ipc.Response{OK: false, State: string(state), Error: fmt.Sprintf("cannot %s from state %s", source, state)}
	}

	verb := "finish"
	if a == actionCancel {
		verb = "cancel"
	}
	select {
	case c.actions <- a:
		return ipc.Response{OK: true, State: string(state), Message: verb + " requested"}
	default:
		return ipc.Response{OK: true, State: string(state), Message: "stop already requested"}
	}
}

func startFailureMessage(err error) string {
	var classified classify.Error
	if errors.As(err, &classified) {
		return fatalMessage(classified)
	}
	return "Unable to start listening"
}

func fatalMessage(err classify.Error) string {
	switch err.Kind {
	case classify.KindPermissionDenied:
		return "Microphone access denied"
	case classify.KindDeviceUnavailable:
		return "Microphone unavailable"
	case classify.KindNetworkFailure:
		return "Speech service unreachable"
	default:
		return "Speech recognition failed"
	}
}
