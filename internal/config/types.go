// Package config resolves, parses, validates, and defaults earshot configuration.
package config

import "time"

// Engine names accepted by the engine key.
const (
	EngineRiva     = "riva"
	EngineDeepgram = "deepgram"
)

// Config is the fully materialized runtime configuration.
type Config struct {
	Engine     string
	Riva       RivaConfig
	Deepgram   DeepgramConfig
	Audio      AudioConfig
	Paste      PasteConfig
	ASR        ASRConfig
	Session    SessionConfig
	Transcript TranscriptConfig
	Indicator  IndicatorConfig
	Clipboard  CommandConfig
	PasteCmd   CommandConfig
	Vocab      VocabConfig
	Metrics    MetricsConfig
	Debug      DebugConfig
}

// RivaConfig locates a Riva server.
type RivaConfig struct {
	GRPC       string
	HTTP       string
	HealthPath string
}

// DeepgramConfig locates the Deepgram listen API. The key itself is read
// from the environment variable named by APIKeyEnv.
type DeepgramConfig struct {
	Endpoint  string
	APIKeyEnv string
	Model     string
}

// AudioConfig controls preferred and fallback input-source selection.
type AudioConfig struct {
	Input    string
	Fallback string
}

// PasteConfig controls post-commit paste behavior.
type PasteConfig struct {
	Enable   bool
	Shortcut string
}

// ASRConfig controls request-level recognition hints.
type ASRConfig struct {
	AutomaticPunctuation bool
	LanguageCode         string
	Model                string
	InterimResults       bool
	Continuous           bool
}

// SessionConfig tunes the recognition session.
type SessionConfig struct {
	RestartDelayMS     int
	StopTimeoutMS      int
	LevelIntervalMS    int
	MaxRestartFailures int
	// ErrorDispositions overrides the classifier per engine code with
	// "transient", "fatal" or "benign".
	ErrorDispositions map[string]string
}

func (s SessionConfig) RestartDelay() time.Duration {
	return time.Duration(s.RestartDelayMS) * time.Millisecond
}

func (s SessionConfig) StopTimeout() time.Duration {
	return time.Duration(s.StopTimeoutMS) * time.Millisecond
}

func (s SessionConfig) LevelInterval() time.Duration {
	return time.Duration(s.LevelIntervalMS) * time.Millisecond
}

// TranscriptConfig controls transcript formatting.
type TranscriptConfig struct {
	TrailingSpace bool
}

// IndicatorConfig controls visual indicator and audio cue behavior.
type IndicatorConfig struct {
	Enable            bool
	Backend           string
	DesktopAppName    string
	SoundEnable       bool
	SoundStartFile    string
	SoundStopFile     string
	SoundCompleteFile string
	SoundCancelFile   string
	Height            int
	TextListening     string
	TextError         string
	ErrorTimeoutMS    int
	LevelMeter        bool
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// VocabConfig controls enabled speech phrase sets and dedupe limits.
type VocabConfig struct {
	GlobalSets []string
	Sets       map[string]VocabSet
	MaxPhrases int
}

// VocabSet is one named phrase group with a shared boost value.
type VocabSet struct {
	Name    string
	Boost   float64
	Phrases []string
}

// MetricsConfig enables the Prometheus scrape endpoint when Listen is set.
type MetricsConfig struct {
	Listen string
}

// DebugConfig controls optional debug artifact output.
type DebugConfig struct {
	EnableAudioDump bool
	EnableGRPCDump  bool
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}

// SpeechPhrase is the normalized phrase payload sent to engines.
type SpeechPhrase struct {
	Phrase string
	Boost  float32
}
