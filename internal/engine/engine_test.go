package engine

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

type codedErr string

func (c codedErr) Error() string { return "coded " + string(c) }
func (c codedErr) Code() string  { return string(c) }

func TestCodeOf(t *testing.T) {
	require.Empty(t, CodeOf(nil))
	require.Equal(t, "network", CodeOf(NewError("network", errors.New("reset"))))
	require.Equal(t, "no-speech", CodeOf(fmt.Errorf("wrapped: %w", NewError("no-speech", nil))))
	require.Equal(t, "audio-capture", CodeOf(fmt.Errorf("wrapped: %w", codedErr("audio-capture"))))
	require.Equal(t, "aborted", CodeOf(context.Canceled))
	require.Equal(t, "network", CodeOf(context.DeadlineExceeded))
	require.Equal(t, "unknown", CodeOf(errors.New("boom")))
}

func TestErrorMessageAndUnwrap(t *testing.T) {
	cause := errors.New("dial refused")
	err := NewError("network", cause)

	require.Equal(t, "recognition error: network: dial refused", err.Error())
	require.ErrorIs(t, err, cause)
	require.Equal(t, "recognition error: aborted", NewError("aborted", nil).Error())
}

func TestSinkFuncsSkipsNilHandlers(t *testing.T) {
	var got []string
	sink := SinkFuncs{OnResult: func(r Result) { got = append(got, r.Final...) }}

	sink.Result(Result{Final: []string{"hello"}})
	sink.Error(NewError("network", nil))
	sink.End()

	require.Equal(t, []string{"hello"}, got)
}
