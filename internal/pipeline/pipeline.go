// Package pipeline assembles the configured microphone, recognition engine
// and debug artifacts into session options.
package pipeline

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/earshot/internal/audio"
	"github.com/rbright/earshot/internal/classify"
	"github.com/rbright/earshot/internal/config"
	"github.com/rbright/earshot/internal/deepgram"
	"github.com/rbright/earshot/internal/engine"
	"github.com/rbright/earshot/internal/observe"
	"github.com/rbright/earshot/internal/riva"
	"github.com/rbright/earshot/internal/session"
)

// Runtime holds the adapters built for one owner process.
type Runtime struct {
	cfg        config.Config
	logger     *slog.Logger
	microphone *audio.Microphone
	engine     engine.Engine
	classifier classify.Classifier
	debugGRPC  *os.File
}

type buildDeps struct {
	lookupEnv func(string) (string, bool)
	now       func() time.Time
}

// Build assembles the runtime described by cfg.
func Build(cfg config.Config, logger *slog.Logger) (*Runtime, error) {
	return build(cfg, logger, buildDeps{lookupEnv: os.LookupEnv, now: time.Now})
}

func build(cfg config.Config, logger *slog.Logger, deps buildDeps) (*Runtime, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	dispositions, err := config.Dispositions(cfg.Session)
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		cfg:        cfg,
		logger:     logger,
		classifier: classify.New(dispositions),
		microphone: &audio.Microphone{
			Input:    cfg.Audio.Input,
			Fallback: cfg.Audio.Fallback,
			Logger:   logger,
		},
	}

	if cfg.Debug.EnableAudioDump {
		dir, err := DebugDir()
		if err != nil {
			return nil, err
		}
		rt.microphone.DumpDir = dir
	}

	phrases, _, err := config.BuildSpeechPhrases(cfg)
	if err != nil {
		return nil, fmt.Errorf("build speech phrases: %w", err)
	}

	switch cfg.Engine {
	case config.EngineRiva:
		err = rt.buildRiva(phrases, deps)
	case config.EngineDeepgram:
		err = rt.buildDeepgram(phrases, deps)
	default:
		err = fmt.Errorf("unsupported engine %q", cfg.Engine)
	}
	if err != nil {
		_ = rt.Close()
		return nil, err
	}
	return rt, nil
}

func (rt *Runtime) buildRiva(phrases []config.SpeechPhrase, deps buildDeps) error {
	rivaPhrases := make([]riva.SpeechPhrase, 0, len(phrases))
	for _, phrase := range phrases {
		rivaPhrases = append(rivaPhrases, riva.SpeechPhrase{Phrase: phrase.Phrase, Boost: phrase.Boost})
	}

	cfg := riva.Config{
		Endpoint:             rt.cfg.Riva.GRPC,
		LanguageCode:         rt.cfg.ASR.LanguageCode,
		Model:                rt.cfg.ASR.Model,
		AutomaticPunctuation: rt.cfg.ASR.AutomaticPunctuation,
		SpeechPhrases:        rivaPhrases,
		Logger:               rt.logger,
	}
	if rt.cfg.Debug.EnableGRPCDump {
		file, err := createDebugFile("grpc", "jsonl", deps.now())
		if err != nil {
			return err
		}
		rt.debugGRPC = file
		cfg.DebugResponseSinkJSON = file
	}

	eng, err := riva.New(cfg)
	if err != nil {
		return err
	}
	rt.engine = eng
	return nil
}

func (rt *Runtime) buildDeepgram(phrases []config.SpeechPhrase, deps buildDeps) error {
	envName := rt.cfg.Deepgram.APIKeyEnv
	key, ok := deps.lookupEnv(envName)
	if !ok || strings.TrimSpace(key) == "" {
		return fmt.Errorf("deepgram api key: environment variable %s is not set", envName)
	}

	keywords := make([]deepgram.Keyword, 0, len(phrases))
	for _, phrase := range phrases {
		keywords = append(keywords, deepgram.Keyword{Phrase: phrase.Phrase, Boost: phrase.Boost})
	}

	eng, err := deepgram.New(deepgram.Config{
		Endpoint:  rt.cfg.Deepgram.Endpoint,
		APIKey:    strings.TrimSpace(key),
		Model:     rt.cfg.Deepgram.Model,
		Language:  rt.cfg.ASR.LanguageCode,
		Punctuate: rt.cfg.ASR.AutomaticPunctuation,
		Keywords:  keywords,
		Logger:    rt.logger,
	})
	if err != nil {
		return err
	}
	rt.engine = eng
	return nil
}

// Engine returns the configured recognition engine.
func (rt *Runtime) Engine() engine.Engine {
	return rt.engine
}

// SessionOptions returns session options for the assembled adapters.
// Callbacks are left for the caller to set.
func (rt *Runtime) SessionOptions(metrics *observe.Metrics) session.Options {
	return session.Options{
		Logger:        rt.logger,
		Microphone:    rt.microphone,
		LevelInterval: rt.cfg.Session.LevelInterval(),
		Engine:        rt.engine,
		EngineName:    rt.cfg.Engine,
		EngineConfig: engine.Config{
			Continuous:     rt.cfg.ASR.Continuous,
			InterimResults: rt.cfg.ASR.InterimResults,
			Language:       rt.cfg.ASR.LanguageCode,
		},
		Classifier:         rt.classifier,
		RestartDelay:       rt.cfg.Session.RestartDelay(),
		StopTimeout:        rt.cfg.Session.StopTimeout(),
		MaxRestartFailures: rt.cfg.Session.MaxRestartFailures,
		Metrics:            metrics,
	}
}

// Close releases debug artifacts.
func (rt *Runtime) Close() error {
	if rt.debugGRPC == nil {
		return nil
	}
	err := rt.debugGRPC.Close()
	rt.debugGRPC = nil
	if err != nil && !errors.Is(err, os.ErrClosed) {
		return fmt.Errorf("close grpc debug dump: %w", err)
	}
	return nil
}

// DebugDir returns $XDG_STATE_HOME/earshot/debug, creating it when missing.
func DebugDir() (string, error) {
	stateDir, err := resolveStateDir()
	if err != nil {
		return "", err
	}
	dir := filepath.Join(stateDir, "earshot", "debug")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("create debug dir: %w", err)
	}
	return dir, nil
}

func createDebugFile(prefix string, extension string, at time.Time) (*os.File, error) {
	dir, err := DebugDir()
	if err != nil {
		return nil, err
	}

	path := filepath.Join(dir, fmt.Sprintf("%s-%s.%s", prefix, at.Format("20060102-150405.000"), extension))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open debug file %q: %w", path, err)
	}
	return file, nil
}

func resolveStateDir() (string, error) {
	if xdg := strings.TrimSpace(os.Getenv("XDG_STATE_HOME")); xdg != "" {
		return xdg, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home directory for state: %w", err)
	}
	return filepath.Join(home, ".local", "state"), nil
}
