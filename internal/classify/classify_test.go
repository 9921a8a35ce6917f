package classify

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassifyDefaultTable(t *testing.T) {
	tests := []struct {
		code        string
		kind        Kind
		disposition Disposition
	}{
		{code: "not-allowed", kind: KindPermissionDenied, disposition: Fatal},
		{code: "service-not-allowed", kind: KindPermissionDenied, disposition: Fatal},
		{code: "audio-capture", kind: KindDeviceUnavailable, disposition: Fatal},
		{code: "no-speech", kind: KindNoSpeechTimeout, disposition: Transient},
		{code: "network", kind: KindNetworkFailure, disposition: Transient},
		{code: "aborted", kind: KindAborted, disposition: Benign},
		{code: "language-not-supported", kind: KindUnknown, disposition: Transient},
		{code: "", kind: KindUnknown, disposition: Transient},
	}

	for _, tc := range tests {
		t.Run(tc.code, func(t *testing.T) {
			got := Classify(tc.code)
			require.Equal(t, tc.kind, got.Kind)
			require.Equal(t, tc.disposition, got.Disposition)
			require.Equal(t, tc.code, got.Code)
		})
	}
}

func TestClassifyNormalizesCode(t *testing.T) {
	got := Classify("  No-Speech ")
	require.Equal(t, KindNoSpeechTimeout, got.Kind)
	require.Equal(t, "no-speech", got.Code)
}

func TestRestartable(t *testing.T) {
	require.True(t, Classify("network").Restartable())
	require.True(t, Classify("bogus").Restartable())
	require.False(t, Classify("not-allowed").Restartable())
	require.False(t, Classify("aborted").Restartable())
}

func TestClassifierOverrides(t *testing.T) {
	c := New(map[string]Disposition{"NETWORK": Fatal, "mystery": Benign})

	got := c.Classify("network")
	require.Equal(t, KindNetworkFailure, got.Kind)
	require.Equal(t, Fatal, got.Disposition)

	got = c.Classify("mystery")
	require.Equal(t, KindUnknown, got.Kind)
	require.Equal(t, Benign, got.Disposition)

	require.Equal(t, Fatal, c.Classify("not-allowed").Disposition)
}

func TestResourceCodesIgnoreOverrides(t *testing.T) {
	c := New(map[string]Disposition{
		"not-allowed":         Transient,
		"service-not-allowed": Benign,
		"audio-capture":       Transient,
	})

	for _, code := range []string{"not-allowed", "service-not-allowed", "audio-capture"} {
		got := c.Classify(code)
		require.Equal(t, Fatal, got.Disposition, code)
		require.False(t, got.Restartable(), code)
		require.False(t, Overridable(code), code)
	}
	require.True(t, Overridable("network"))
	require.True(t, Overridable("mystery"))
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("stream closed")
	got := Classifier{}.Wrap("network", cause)

	require.ErrorIs(t, got, cause)
	require.Contains(t, got.Error(), "network-failure (network, transient): stream closed")
}

func TestParseDisposition(t *testing.T) {
	d, err := ParseDisposition(" Fatal ")
	require.NoError(t, err)
	require.Equal(t, Fatal, d)

	_, err = ParseDisposition("maybe")
	require.Error(t, err)
	require.Contains(t, err.Error(), "unknown disposition")
}
