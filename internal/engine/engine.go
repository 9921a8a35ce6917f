// Package engine defines the streaming recognition capability a session drives.
package engine

import (
	"context"
	"errors"
	"strings"
)

const (
	// SampleRateHz is the PCM rate every engine receives.
	SampleRateHz = 16000
	// Channels is the PCM channel count every engine receives.
	Channels = 1
)

// ErrAlreadyStarted is returned by Start while a run is active.
var ErrAlreadyStarted = errors.New("recognition already started")

// Config is applied by Configure before the next Start.
type Config struct {
	Continuous     bool
	InterimResults bool
	Language       string
}

// Result carries the fragments of one recognition event.
type Result struct {
	Final   []string
	Interim string
}

// Audio supplies PCM frames to an engine run. The returned cancel func
// detaches the subscription.
type Audio interface {
	Frames() (<-chan []byte, func())
}

// Sink receives the events of one engine run. After a successful Start the
// engine calls End exactly once, after any Error. Implementations must not
// block.
type Sink interface {
	Result(Result)
	Error(*Error)
	End()
}

// Engine is a streaming speech recognizer.
type Engine interface {
	Configure(Config) error
	// Start begins a fresh run reading from audio and reporting to sink.
	// The context bounds connection setup only.
	Start(ctx context.Context, audio Audio, sink Sink) error
	// Stop asks the active run to finish. Stopping an idle engine is a no-op.
	Stop() error
}

// Error is an engine failure tagged with its engine code.
type Error struct {
	Code string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return "recognition error: " + e.Code
	}
	return "recognition error: " + e.Code + ": " + e.Err.Error()
}

func (e *Error) Unwrap() error { return e.Err }

// NewError tags err with code.
func NewError(code string, err error) *Error {
	return &Error{Code: code, Err: err}
}

// Coder is implemented by errors that carry their own engine code.
type Coder interface {
	Code() string
}

// CodeOf extracts the engine code from err. Errors without one are "unknown".
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	var engineErr *Error
	if errors.As(err, &engineErr) && strings.TrimSpace(engineErr.Code) != "" {
		return engineErr.Code
	}
	var coder Coder
	if errors.As(err, &coder) && strings.TrimSpace(coder.Code()) != "" {
		return coder.Code()
	}
	if errors.Is(err, context.Canceled) {
		return "aborted"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "network"
	}
	return "unknown"
}

// SinkFuncs adapts plain functions to Sink. Nil fields are skipped.
type SinkFuncs struct {
	OnResult func(Result)
	OnError  func(*Error)
	OnEnd    func()
}

func (s SinkFuncs) Result(r Result) {
	if s.OnResult != nil {
		s.OnResult(r)
	}
}

func (s SinkFuncs) Error(err *Error) {
	if s.OnError != nil {
		s.OnError(err)
	}
}

func (s SinkFuncs) End() {
	if s.OnEnd != nil {
		s.OnEnd()
	}
}
