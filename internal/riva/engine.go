// Package riva drives NVIDIA Riva StreamingRecognize as a recognition engine.
package riva

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/rbright/earshot/internal/engine"
)

const (
	defaultDialTimeout = 3 * time.Second
	defaultStopGrace   = 2 * time.Second
)

// SpeechPhrase is one vocabulary boost phrase in request-ready form.
type SpeechPhrase struct {
	Phrase string
	Boost  float32
}

// Config controls connection setup and recognition behavior.
type Config struct {
	Endpoint             string
	LanguageCode         string
	Model                string
	AutomaticPunctuation bool
	SpeechPhrases        []SpeechPhrase
	DialTimeout          time.Duration
	// StopGrace bounds how long a stopped run may keep draining results.
	StopGrace time.Duration
	// DebugResponseSinkJSON receives one JSON line per decoded response.
	DebugResponseSinkJSON io.Writer
	Logger                *slog.Logger
}

// Engine runs one StreamingRecognize RPC per Start.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	recog engine.Config
	run   *run
}

// New validates cfg and returns an idle engine.
func New(cfg Config) (*Engine, error) {
	cfg.Endpoint = strings.TrimSpace(cfg.Endpoint)
	if cfg.Endpoint == "" {
		return nil, errors.New("riva endpoint is empty")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	if strings.TrimSpace(cfg.LanguageCode) == "" {
		cfg.LanguageCode = "en-US"
	}
	phrases := make([]SpeechPhrase, 0, len(cfg.SpeechPhrases))
	for _, phrase := range cfg.SpeechPhrases {
		text := strings.TrimSpace(phrase.Phrase)
		if text == "" {
			continue
		}
		phrases = append(phrases, SpeechPhrase{Phrase: text, Boost: phrase.Boost})
	}
	cfg.SpeechPhrases = phrases

	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Engine{
		cfg:    cfg,
		logger: logger,
		recog:  engine.Config{Continuous: true, InterimResults: true, Language: cfg.LanguageCode},
	}, nil
}

// Configure applies recognition settings to the next Start.
func (e *Engine) Configure(cfg engine.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = e.cfg.LanguageCode
	}
	e.recog = cfg
	return nil
}

// Start dials Riva, sends the streaming config and begins streaming audio.
func (e *Engine) Start(ctx context.Context, audio engine.Audio, sink engine.Sink) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run != nil {
		return engine.ErrAlreadyStarted
	}

	conn, err := grpc.NewClient(
		e.cfg.Endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	if err != nil {
		return engine.NewError("network", fmt.Errorf("dial riva grpc %q: %w", e.cfg.Endpoint, err))
	}

	readyCtx, cancelReady := context.WithTimeout(ctx, e.cfg.DialTimeout)
	defer cancelReady()
	conn.Connect()
	if err := waitForReady(readyCtx, conn); err != nil {
		_ = conn.Close()
		return engine.NewError(codeForError(err), fmt.Errorf("wait for riva grpc readiness: %w", err))
	}

	streamCtx, cancelStream := context.WithCancel(context.Background())
	var stream grpc.ClientStream
	err = runWithTimeout(ctx, e.cfg.DialTimeout, func() error {
		var openErr error
		stream, openErr = conn.NewStream(
			streamCtx,
			&grpc.StreamDesc{StreamName: "StreamingRecognize", ServerStreams: true, ClientStreams: true},
			streamingRecognizeMethod,
			grpc.ForceCodec(rawCodec{}),
		)
		return openErr
	})
	if err != nil {
		cancelStream()
		_ = conn.Close()
		return engine.NewError(codeForError(err), fmt.Errorf("open streaming recognizer: %w", err))
	}

	request := encodeConfigRequest(recognitionConfig{
		SampleRateHertz:      engine.SampleRateHz,
		LanguageCode:         e.recog.Language,
		AudioChannelCount:    engine.Channels,
		AutomaticPunctuation: e.cfg.AutomaticPunctuation,
		Model:                strings.TrimSpace(e.cfg.Model),
		SpeechPhrases:        e.cfg.SpeechPhrases,
		InterimResults:       e.recog.InterimResults,
	})
	if err := runWithTimeout(ctx, e.cfg.DialTimeout, func() error {
		return stream.SendMsg(&rawFrame{data: request})
	}); err != nil {
		cancelStream()
		_ = conn.Close()
		return engine.NewError(codeForError(err), fmt.Errorf("send initial streaming config: %w", err))
	}

	frames, detach := audio.Frames()
	r := &run{
		engine:  e,
		conn:    conn,
		stream:  stream,
		cancel:  cancelStream,
		sink:    sink,
		frames:  frames,
		detach:  detach,
		stopCh:  make(chan struct{}),
		interim: e.recog.InterimResults,
	}
	e.run = r

	go r.sendLoop()
	go r.recvLoop()

	e.logger.Debug("riva stream started", "endpoint", e.cfg.Endpoint, "language", e.recog.Language)
	return nil
}

// Stop half-closes the active stream so Riva flushes final results. The
// stream is cancelled when it keeps running past StopGrace.
func (e *Engine) Stop() error {
	e.mu.Lock()
	r := e.run
	e.mu.Unlock()
	if r == nil {
		return nil
	}
	r.stop(e.cfg.StopGrace)
	return nil
}

func (e *Engine) finished(r *run) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.run == r {
		e.run = nil
	}
}

func (e *Engine) writeDebug(results []recognitionResult) {
	sink := e.cfg.DebugResponseSinkJSON
	if sink == nil {
		return
	}
	b, err := json.Marshal(struct {
		Results []recognitionResult `json:"results"`
	}{Results: results})
	if err != nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	_, _ = sink.Write(append(b, '\n'))
}
