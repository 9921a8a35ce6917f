//go:build integration

package audio

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestListDevicesIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	devices, err := ListDevices(ctx)
	require.NoError(t, err)
	require.NotEmpty(t, devices)
}

func TestMicrophoneCaptureIntegration(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	mic := &Microphone{Input: "default", Fallback: "default"}
	stream, err := mic.RequestStream(ctx)
	require.NoError(t, err)

	frames, detach := stream.Frames()
	defer detach()

	select {
	case frame := <-frames:
		require.NotEmpty(t, frame)
	case <-ctx.Done():
		t.Fatal("no PCM frame received")
	}

	for _, track := range stream.Tracks() {
		require.NoError(t, track.Stop())
	}
}
