package capture

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestGuardAcquireIsIdempotent(t *testing.T) {
	track := &fakeTrack{}
	mic := &fakeMicrophone{stream: newFakeStream(track)}
	g := NewGuard(GuardOptions{Microphone: mic})

	require.NoError(t, g.Acquire(context.Background()))
	require.NoError(t, g.Acquire(context.Background()))
	require.True(t, g.Held())
	require.Equal(t, int32(1), mic.requests.Load())
	require.Equal(t, Stats{Acquired: 1}, g.Stats())

	g.Release()
	require.False(t, g.Held())
	require.Nil(t, g.Stream())
	require.Equal(t, int32(1), track.stops.Load())
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	track := &fakeTrack{}
	g := NewGuard(GuardOptions{Microphone: &fakeMicrophone{stream: newFakeStream(track)}})

	g.Release()
	require.NoError(t, g.Acquire(context.Background()))
	g.Release()
	g.Release()
	g.Release()

	require.Equal(t, int32(1), track.stops.Load())
	require.Equal(t, Stats{Acquired: 1, Released: 1}, g.Stats())
}

func TestGuardReleaseContinuesPastFailingSteps(t *testing.T) {
	failing := &fakeTrack{err: errBoom}
	exploding := &fakeTrack{panic: true}
	last := &fakeTrack{}
	analyser := &fakeAnalyser{err: errBoom}

	g := NewGuard(GuardOptions{
		Microphone:  &fakeMicrophone{stream: newFakeStream(failing, exploding, last)},
		NewAnalyser: func(Stream) (Analyser, error) { return analyser, nil },
	})
	require.NoError(t, g.Acquire(context.Background()))

	require.NotPanics(t, g.Release)
	require.Equal(t, int32(1), analyser.closes.Load())
	require.Equal(t, int32(1), failing.stops.Load())
	require.Equal(t, int32(1), exploding.stops.Load())
	require.Equal(t, int32(1), last.stops.Load())
	require.False(t, g.Held())
}

func TestGuardPartialAcquisitionReleasesStream(t *testing.T) {
	track := &fakeTrack{}
	g := NewGuard(GuardOptions{
		Microphone:  &fakeMicrophone{stream: newFakeStream(track)},
		NewAnalyser: func(Stream) (Analyser, error) { return nil, errBoom },
	})

	err := g.Acquire(context.Background())
	require.Error(t, err)

	var resourceErr *ResourceError
	require.True(t, errors.As(err, &resourceErr))
	require.Equal(t, DeviceUnavailable, resourceErr.Kind)
	require.Equal(t, "audio-capture", resourceErr.Code())
	require.ErrorIs(t, err, errBoom)

	require.False(t, g.Held())
	require.Equal(t, int32(1), track.stops.Load())
	require.Equal(t, Stats{Acquired: 1, Released: 1}, g.Stats())
}

func TestGuardAcquireFailureKinds(t *testing.T) {
	denied := NewGuard(GuardOptions{Microphone: &fakeMicrophone{err: NewPermissionDenied(errBoom)}})
	err := denied.Acquire(context.Background())
	var resourceErr *ResourceError
	require.True(t, errors.As(err, &resourceErr))
	require.Equal(t, PermissionDenied, resourceErr.Kind)
	require.Equal(t, "not-allowed", resourceErr.Code())

	missing := NewGuard(GuardOptions{Microphone: &fakeMicrophone{err: errBoom}})
	err = missing.Acquire(context.Background())
	require.True(t, errors.As(err, &resourceErr))
	require.Equal(t, DeviceUnavailable, resourceErr.Kind)

	aborted := NewGuard(GuardOptions{Microphone: &fakeMicrophone{err: context.Canceled}})
	err = aborted.Acquire(context.Background())
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, errors.As(err, &resourceErr))

	unset := NewGuard(GuardOptions{})
	err = unset.Acquire(context.Background())
	require.True(t, errors.As(err, &resourceErr))
	require.Equal(t, DeviceUnavailable, resourceErr.Kind)
}

func TestGuardMonitorEmitsLevelsAndZeroOnRelease(t *testing.T) {
	var mu sync.Mutex
	var levels []float64
	analyser := &fakeAnalyser{level: 0.5}

	g := NewGuard(GuardOptions{
		Microphone:    &fakeMicrophone{stream: newFakeStream(&fakeTrack{})},
		NewAnalyser:   func(Stream) (Analyser, error) { return analyser, nil },
		LevelInterval: 5 * time.Millisecond,
		OnLevel: func(level float64) {
			mu.Lock()
			levels = append(levels, level)
			mu.Unlock()
		},
	})
	require.NoError(t, g.Acquire(context.Background()))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(levels) >= 2
	}, time.Second, 5*time.Millisecond)

	g.Release()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, 0.5, levels[0])
	require.Equal(t, 0.0, levels[len(levels)-1])
}

func TestGuardDefaultAnalyserDetachesOnRelease(t *testing.T) {
	stream := newFakeStream(&fakeTrack{})
	g := NewGuard(GuardOptions{Microphone: &fakeMicrophone{stream: stream}})

	require.NoError(t, g.Acquire(context.Background()))
	require.Equal(t, 1, stream.subscribers())

	g.Release()
	require.Zero(t, stream.subscribers())
}
