// Package capture owns the exclusive microphone stream of a session and the
// level metering bound to it.
package capture

import (
	"context"
	"errors"
	"fmt"
)

// Track is one hardware source inside a stream.
type Track interface {
	Stop() error
}

// Stream is an exclusively held microphone stream. Frames subscribes to the
// PCM frames (16 kHz mono s16le). The returned func detaches the subscription
// and closes its channel; it must be safe to call more than once and after
// the tracks stopped.
type Stream interface {
	Tracks() []Track
	Frames() (<-chan []byte, func())
}

// Microphone grants microphone streams.
type Microphone interface {
	RequestStream(ctx context.Context) (Stream, error)
}

// MicrophoneFunc adapts a function to Microphone.
type MicrophoneFunc func(ctx context.Context) (Stream, error)

func (f MicrophoneFunc) RequestStream(ctx context.Context) (Stream, error) {
	return f(ctx)
}

type ResourceKind int

const (
	DeviceUnavailable ResourceKind = iota
	PermissionDenied
)

func (k ResourceKind) String() string {
	if k == PermissionDenied {
		return "permission denied"
	}
	return "device unavailable"
}

// ResourceError reports a failed hardware acquisition.
type ResourceError struct {
	Kind ResourceKind
	Err  error
}

func (e *ResourceError) Error() string {
	if e.Err == nil {
		return "microphone " + e.Kind.String()
	}
	return fmt.Sprintf("microphone %s: %v", e.Kind, e.Err)
}

func (e *ResourceError) Unwrap() error { return e.Err }

// Code is the recognition error code the failure classifies under.
func (e *ResourceError) Code() string {
	if e.Kind == PermissionDenied {
		return "not-allowed"
	}
	return "audio-capture"
}

func NewPermissionDenied(err error) *ResourceError {
	return &ResourceError{Kind: PermissionDenied, Err: err}
}

func NewDeviceUnavailable(err error) *ResourceError {
	return &ResourceError{Kind: DeviceUnavailable, Err: err}
}

func asResourceError(err error) error {
	var resourceErr *ResourceError
	if errors.As(err, &resourceErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NewDeviceUnavailable(err)
}
