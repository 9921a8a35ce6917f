package audio

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/earshot/internal/capture"
	"github.com/rbright/earshot/internal/engine"
)

// Microphone opens Pulse capture streams for the configured input preference.
type Microphone struct {
	Input    string
	Fallback string
	// DumpDir, when set, receives a WAV file of each stopped stream.
	DumpDir string
	Logger  *slog.Logger

	selectDevice func(ctx context.Context, input, fallback string) (Selection, error)
	start        func(ctx context.Context, device Device, opts CaptureOptions) (capture.Stream, error)
}

// RequestStream selects a device and starts a record stream on it.
func (m *Microphone) RequestStream(ctx context.Context) (capture.Stream, error) {
	logger := m.logger()

	selectDevice := m.selectDevice
	if selectDevice == nil {
		selectDevice = SelectDevice
	}
	selection, err := selectDevice(ctx, m.Input, m.Fallback)
	if err != nil {
		return nil, resourceError(ctx, fmt.Errorf("select audio device: %w", err))
	}
	if selection.Warning != "" {
		logger.Warn(selection.Warning)
	}

	opts := CaptureOptions{}
	if m.DumpDir != "" {
		opts.RetainPCM = true
		opts.OnStop = m.dumpWAV
	}

	start := m.start
	if start == nil {
		start = func(ctx context.Context, device Device, opts CaptureOptions) (capture.Stream, error) {
			return StartCapture(ctx, device, opts)
		}
	}
	stream, err := start(ctx, selection.Device, opts)
	if err != nil {
		return nil, resourceError(ctx, fmt.Errorf("start capture on %q: %w", selection.Device.ID, err))
	}

	logger.Debug("audio capture started", "device", selection.Device.ID, "description", selection.Device.Description)
	return stream, nil
}

func (m *Microphone) dumpWAV(device Device, pcm []byte) {
	if len(pcm) == 0 {
		return
	}
	path := filepath.Join(m.DumpDir, fmt.Sprintf("audio-%s.wav", time.Now().Format("20060102-150405.000")))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		m.logger().Warn("unable to create debug audio dump", "error", err.Error())
		return
	}
	defer file.Close()

	if err := WriteWAV(file, pcm, engine.SampleRateHz, engine.Channels); err != nil {
		m.logger().Warn("unable to write debug audio dump", "error", err.Error())
		return
	}
	m.logger().Debug("debug audio dump written",
		"path", path,
		"device", device.ID,
		"bytes", len(pcm),
		"rms", capture.RMS(pcmSamples(pcm)),
	)
}

func pcmSamples(pcm []byte) []int16 {
	samples := make([]int16, len(pcm)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(pcm[i*2:]))
	}
	return samples
}

func (m *Microphone) logger() *slog.Logger {
	if m.Logger == nil {
		return slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return m.Logger
}

// resourceError tags a Pulse failure as a capture.ResourceError. Context
// errors pass through untouched so aborted starts stay distinguishable.
func resourceError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
		return err
	}
	if strings.Contains(strings.ToLower(err.Error()), "access denied") {
		return capture.NewPermissionDenied(err)
	}
	return capture.NewDeviceUnavailable(err)
}
