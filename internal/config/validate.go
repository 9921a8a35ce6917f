package config

import (
	"fmt"
	"net"
	"net/url"
	"sort"
	"strings"

	"github.com/rbright/earshot/internal/classify"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	switch cfg.Engine {
	case EngineRiva:
		if err := validateRiva(cfg.Riva); err != nil {
			return nil, err
		}
	case EngineDeepgram:
		if err := validateDeepgram(cfg.Deepgram); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("engine must be one of: %s, %s", EngineRiva, EngineDeepgram)
	}

	if strings.TrimSpace(cfg.ASR.LanguageCode) == "" {
		return nil, fmt.Errorf("asr.language_code must not be empty")
	}
	if !cfg.ASR.Continuous {
		warnings = append(warnings, Warning{Message: "asr.continuous=false: every engine end finishes the utterance early and the session restarts it"})
	}
	if err := validateSession(cfg.Session); err != nil {
		return nil, err
	}

	backend := strings.ToLower(strings.TrimSpace(cfg.Indicator.Backend))
	if backend == "" {
		return nil, fmt.Errorf("indicator.backend must not be empty")
	}
	if backend != "hypr" && backend != "desktop" {
		return nil, fmt.Errorf("indicator.backend must be one of: hypr, desktop")
	}
	if backend == "desktop" && strings.TrimSpace(cfg.Indicator.DesktopAppName) == "" {
		return nil, fmt.Errorf("indicator.desktop_app_name must not be empty when indicator.backend=desktop")
	}
	if cfg.Indicator.Height <= 0 {
		return nil, fmt.Errorf("indicator.height must be > 0")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}
	if cfg.Vocab.MaxPhrases <= 0 {
		return nil, fmt.Errorf("vocab.max_phrases must be > 0")
	}
	if len(cfg.Clipboard.Argv) == 0 {
		return nil, fmt.Errorf("clipboard_cmd must not be empty")
	}

	if cfg.Paste.Enable && cfg.PasteCmd.Raw != "" && len(cfg.PasteCmd.Argv) == 0 {
		return nil, fmt.Errorf("paste_cmd is configured but empty")
	}
	if cfg.Paste.Enable && len(cfg.PasteCmd.Argv) == 0 && strings.TrimSpace(cfg.Paste.Shortcut) == "" {
		return nil, fmt.Errorf("paste.shortcut must not be empty when paste.enable=true and paste_cmd is unset")
	}

	if listen := cfg.Metrics.Listen; listen != "" {
		if _, _, err := net.SplitHostPort(listen); err != nil {
			return nil, fmt.Errorf("metrics.listen must be host:port: %w", err)
		}
	}
	if cfg.Debug.EnableGRPCDump && cfg.Engine != EngineRiva {
		warnings = append(warnings, Warning{Message: "debug.grpc_dump only applies to engine=riva"})
	}

	_, vocabWarnings, err := BuildSpeechPhrases(cfg)
	if err != nil {
		return nil, err
	}
	warnings = append(warnings, vocabWarnings...)

	return warnings, nil
}

func validateRiva(cfg RivaConfig) error {
	if cfg.GRPC == "" {
		return fmt.Errorf("riva.grpc must not be empty")
	}
	if cfg.HTTP == "" {
		return fmt.Errorf("riva.http must not be empty")
	}
	if cfg.HealthPath == "" {
		return fmt.Errorf("riva.health_path must not be empty")
	}
	if !strings.HasPrefix(cfg.HealthPath, "/") {
		return fmt.Errorf("riva.health_path must start with '/'")
	}
	return nil
}

func validateDeepgram(cfg DeepgramConfig) error {
	if cfg.APIKeyEnv == "" {
		return fmt.Errorf("deepgram.api_key_env must not be empty")
	}
	endpoint, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return fmt.Errorf("deepgram.endpoint: %w", err)
	}
	if endpoint.Scheme != "ws" && endpoint.Scheme != "wss" {
		return fmt.Errorf("deepgram.endpoint must use ws:// or wss://")
	}
	return nil
}

func validateSession(cfg SessionConfig) error {
	if cfg.RestartDelayMS <= 0 {
		return fmt.Errorf("session.restart_delay_ms must be > 0")
	}
	if cfg.StopTimeoutMS <= 0 {
		return fmt.Errorf("session.stop_timeout_ms must be > 0")
	}
	if cfg.LevelIntervalMS <= 0 {
		return fmt.Errorf("session.level_interval_ms must be > 0")
	}
	if cfg.MaxRestartFailures < 0 {
		return fmt.Errorf("session.max_restart_failures must be >= 0")
	}
	_, err := Dispositions(cfg)
	return err
}

// Dispositions parses the classifier overrides of cfg.
func Dispositions(cfg SessionConfig) (map[string]classify.Disposition, error) {
	if len(cfg.ErrorDispositions) == 0 {
		return nil, nil
	}
	out := make(map[string]classify.Disposition, len(cfg.ErrorDispositions))
	for code, raw := range cfg.ErrorDispositions {
		if code == "" {
			return nil, fmt.Errorf("session.error_dispositions contains an empty code")
		}
		disposition, err := classify.ParseDisposition(raw)
		if err != nil {
			return nil, fmt.Errorf("session.error_dispositions[%q]: %w", code, err)
		}
		if !classify.Overridable(code) {
			return nil, fmt.Errorf("session.error_dispositions[%q]: permission and device errors are always fatal", code)
		}
		out[code] = disposition
	}
	return out, nil
}

// BuildSpeechPhrases merges enabled vocab sets into a sorted, deduplicated
// phrase list. A phrase in several sets keeps the highest boost.
func BuildSpeechPhrases(cfg Config) ([]SpeechPhrase, []Warning, error) {
	enabledSets := cfg.Vocab.GlobalSets
	if len(enabledSets) == 0 {
		return nil, nil, nil
	}

	type candidate struct {
		boost float64
		from  string
	}

	warnings := make([]Warning, 0)
	selected := make(map[string]candidate)

	for _, name := range enabledSets {
		set, ok := cfg.Vocab.Sets[name]
		if !ok {
			return nil, nil, fmt.Errorf("vocab.global references unknown set %q", name)
		}
		for _, phrase := range set.Phrases {
			phrase = strings.TrimSpace(phrase)
			if phrase == "" {
				continue
			}
			if existing, exists := selected[phrase]; exists {
				if set.Boost > existing.boost {
					warnings = append(warnings, Warning{Message: fmt.Sprintf("phrase %q present in %q and %q; using higher boost %.2f", phrase, existing.from, name, set.Boost)})
					selected[phrase] = candidate{boost: set.Boost, from: name}
				}
				continue
			}
			selected[phrase] = candidate{boost: set.Boost, from: name}
		}
	}

	if len(selected) > cfg.Vocab.MaxPhrases {
		return nil, nil, fmt.Errorf("vocabulary phrase count %d exceeds vocab.max_phrases=%d", len(selected), cfg.Vocab.MaxPhrases)
	}

	phrases := make([]SpeechPhrase, 0, len(selected))
	for phrase, c := range selected {
		phrases = append(phrases, SpeechPhrase{Phrase: phrase, Boost: float32(c.boost)})
	}

	sort.Slice(phrases, func(i, j int) bool {
		if phrases[i].Phrase == phrases[j].Phrase {
			return phrases[i].Boost < phrases[j].Boost
		}
		return phrases[i].Phrase < phrases[j].Phrase
	})

	return phrases, warnings, nil
}
