// Package deepgram drives the Deepgram streaming WebSocket API as a
// recognition engine.
package deepgram

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/rbright/earshot/internal/engine"
)

const (
	DefaultEndpoint    = "wss://api.deepgram.com/v1/listen"
	defaultModel       = "nova-3"
	defaultLanguage    = "en"
	defaultDialTimeout = 5 * time.Second
	defaultStopGrace   = 2 * time.Second
)

// Keyword is one boosted term.
type Keyword struct {
	Phrase string
	Boost  float32
}

// Config controls connection setup and recognition behavior.
type Config struct {
	Endpoint    string
	APIKey      string
	Model       string
	Language    string
	Punctuate   bool
	Keywords    []Keyword
	DialTimeout time.Duration
	StopGrace   time.Duration
	Logger      *slog.Logger
}

// Engine runs one Deepgram listen socket per Start.
type Engine struct {
	cfg    Config
	logger *slog.Logger

	mu    sync.Mutex
	recog engine.Config
	run   *run
}

// New validates cfg and returns an idle engine. APIKey must be non-empty.
func New(cfg Config) (*Engine, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("deepgram api key is empty")
	}
	if strings.TrimSpace(cfg.Endpoint) == "" {
		cfg.Endpoint = DefaultEndpoint
	}
	if strings.TrimSpace(cfg.Model) == "" {
		cfg.Model = defaultModel
	}
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = defaultLanguage
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = defaultStopGrace
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Engine{
		cfg:    cfg,
		logger: logger,
		recog:  engine.Config{Continuous: true, InterimResults: true, Language: cfg.Language},
	}, nil
}

// Configure applies recognition settings to the next Start.
func (e *Engine) Configure(cfg engine.Config) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if strings.TrimSpace(cfg.Language) == "" {
		cfg.Language = e.cfg.Language
	}
	e.recog = cfg
	return nil
}

// buildURL constructs the listen endpoint URL for the current settings.
func (e *Engine) buildURL() (string, error) {
	u, err := url.Parse(e.cfg.Endpoint)
	if err != nil {
		return "", err
	}

	q := u.Query()
	q.Set("model", e.cfg.Model)
	q.Set("language", e.recog.Language)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(engine.SampleRateHz))
	q.Set("channels", strconv.Itoa(engine.Channels))
	q.Set("interim_results", strconv.FormatBool(e.recog.InterimResults))
	q.Set("punctuate", strconv.FormatBool(e.cfg.Punctuate))
	for _, kw := range e.cfg.Keywords {
		phrase := strings.TrimSpace(kw.Phrase)
		if phrase == "" {
			continue
		}
		// Deepgram keyword format: word:boost
		q.Add("keywords", fmt.Sprintf("%s:%g", phrase, kw.Boost))
	}

	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Start opens the listen socket and begins streaming audio.
func (e *Engine) Start(ctx context.Context, audio engine.Audio, sink engine.Sink) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.run != nil {
		return engine.ErrAlreadyStarted
	}

	wsURL, err := e.buildURL()
	if err != nil {
		return fmt.Errorf("build deepgram url: %w", err)
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+e.cfg.APIKey)

	dialCtx, cancelDial := context.WithTimeout(ctx, e.cfg.DialTimeout)
	defer cancelDial()
	conn, resp, err := websocket.Dial(dialCtx, wsURL, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		return engine.NewError(dialErrorCode(resp), fmt.Errorf("dial deepgram: %w", err))
	}

	runCtx, cancel := context.WithCancel(context.Background())
	frames, detach := audio.Frames()
	r := &run{
		engine: e,
		conn:   conn,
		ctx:    runCtx,
		cancel: cancel,
		sink:   sink,
		frames: frames,
		detach: detach,
		stopCh: make(chan struct{}),
	}
	e.run = r

	r.wg.Add(1)
	go r.writeLoop()
	go r.readLoop()

	e.logger.Debug("deepgram stream started", "model", e.cfg.Model, "language", e.recog.Language)
	return nil
}

// Stop asks Deepgram to flush and close the stream.
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

func dialErrorCode(resp *http.Response) string {
	if resp == nil {
		return "network"
	}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return "not-allowed"
	default:
		return "network"
	}
}
