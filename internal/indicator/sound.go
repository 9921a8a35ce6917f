package indicator

import (
	"context"
	"fmt"
	"math"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"

	"github.com/rbright/earshot/internal/config"
)

type cueKind int

const (
	cueStart cueKind = iota + 1
	cueStop
	cueComplete
	cueCancel
)

const (
	cueSampleRate = 16000
	cueVolume     = 0.18
	cueGap        = 22 * time.Millisecond
)

type toneSpec struct {
	frequencyHz float64
	duration    time.Duration
	volume      float64
}

// cueSpec pairs a synthesized fallback with the config field naming an
// override file.
type cueSpec struct {
	tones []toneSpec
	file  func(config.IndicatorConfig) string
}

var cues = map[cueKind]cueSpec{
	cueStart: {
		tones: []toneSpec{{880, 70 * time.Millisecond, cueVolume}, {1175, 70 * time.Millisecond, cueVolume}},
		file:  func(c config.IndicatorConfig) string { return c.SoundStartFile },
	},
	cueStop: {
		tones: []toneSpec{{620, 120 * time.Millisecond, cueVolume}},
		file:  func(c config.IndicatorConfig) string { return c.SoundStopFile },
	},
	cueComplete: {
		tones: []toneSpec{{740, 65 * time.Millisecond, cueVolume}, {988, 90 * time.Millisecond, cueVolume}},
		file:  func(c config.IndicatorConfig) string { return c.SoundCompleteFile },
	},
	cueCancel: {
		tones: []toneSpec{{480, 75 * time.Millisecond, cueVolume}, {360, 90 * time.Millisecond, cueVolume}},
		file:  func(c config.IndicatorConfig) string { return c.SoundCancelFile },
	},
}

var (
	cuePCMOnce sync.Once
	cuePCM     map[cueKind][]int16
)

// cueSamples returns the synthesized PCM for kind, rendering every cue on
// first use.
func cueSamples(kind cueKind) []int16 {
	cuePCMOnce.Do(func() {
		cuePCM = make(map[cueKind][]int16, len(cues))
		for k, spec := range cues {
			cuePCM[k] = synthesizeCue(spec.tones)
		}
	})
	return cuePCM[kind]
}

// emitCue plays the configured cue file for kind, falling back to the
// synthesized tone when no file is set or playback fails.
func emitCue(ctx context.Context, kind cueKind, cfg config.IndicatorConfig) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if path := cuePath(kind, cfg); path != "" {
		if err := playCueFile(ctx, path); err == nil {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	samples := cueSamples(kind)
	if len(samples) == 0 {
		return nil
	}
	return playSynthCue(samples)
}

func cuePath(kind cueKind, cfg config.IndicatorConfig) string {
	spec, ok := cues[kind]
	if !ok {
		return ""
	}
	return expandUserPath(spec.file(cfg))
}

// expandUserPath resolves a leading "~" against the home directory.
func expandUserPath(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw != "~" && !strings.HasPrefix(raw, "~/") {
		return raw
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return raw
	}
	return filepath.Join(home, strings.TrimPrefix(raw[1:], "/"))
}

func playCueFile(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("stat cue file %q: %w", path, err)
	}
	if err := exec.CommandContext(ctx, "pw-play", "--media-role", "Notification", path).Run(); err != nil {
		return fmt.Errorf("play cue file %q: %w", path, err)
	}
	return nil
}

func playSynthCue(samples []int16) error {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName("earshot"),
		pulse.ClientApplicationIconName("audio-input-microphone"),
	)
	if err != nil {
		return fmt.Errorf("connect pulse server: %w", err)
	}
	defer client.Close()

	remaining := samples
	reader := pulse.Int16Reader(func(buf []int16) (int, error) {
		n := copy(buf, remaining)
		remaining = remaining[n:]
		if len(remaining) == 0 {
			return n, pulse.EndOfData
		}
		return n, nil
	})

	stream, err := client.NewPlayback(
		reader,
		pulse.PlaybackMono,
		pulse.PlaybackSampleRate(cueSampleRate),
		pulse.PlaybackLatency(0.02),
		pulse.PlaybackMediaName("earshot indicator cue"),
	)
	if err != nil {
		return fmt.Errorf("create pulse playback stream: %w", err)
	}
	defer stream.Close()

	stream.Start()
	stream.Drain()
	if err := stream.Error(); err != nil {
		return fmt.Errorf("play cue stream: %w", err)
	}
	return nil
}

// synthesizeCue concatenates tones separated by short silences.
func synthesizeCue(parts []toneSpec) []int16 {
	var pcm []int16
	gap := make([]int16, samplesForDuration(cueGap))
	for i, part := range parts {
		if i > 0 {
			pcm = append(pcm, gap...)
		}
		pcm = append(pcm, synthesizeTone(part)...)
	}
	return pcm
}

// synthesizeTone renders a sine with a linear attack and release of at most
// 5 ms to avoid clicks.
func synthesizeTone(spec toneSpec) []int16 {
	n := samplesForDuration(spec.duration)
	if n <= 0 || spec.frequencyHz <= 0 || spec.volume <= 0 {
		return nil
	}

	ramp := max(1, min(n/10, cueSampleRate/200))
	pcm := make([]int16, n)
	for i := range n {
		envelope := min(1.0, float64(i)/float64(ramp), float64(n-i-1)/float64(ramp))
		t := float64(i) / cueSampleRate
		sample := math.Sin(2 * math.Pi * spec.frequencyHz * t)
		pcm[i] = int16(math.Round(sample * spec.volume * envelope * math.MaxInt16))
	}
	return pcm
}

func samplesForDuration(d time.Duration) int {
	if d <= 0 {
		return 0
	}
	return int(math.Round(d.Seconds() * cueSampleRate))
}
