package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

type jsoncConfig struct {
	Engine     *string          `json:"engine"`
	Riva       *jsoncRiva       `json:"riva"`
	Deepgram   *jsoncDeepgram   `json:"deepgram"`
	Audio      *jsoncAudio      `json:"audio"`
	Paste      *jsoncPaste      `json:"paste"`
	ASR        *jsoncASR        `json:"asr"`
	Session    *jsoncSession    `json:"session"`
	Transcript *jsoncTranscript `json:"transcript"`
	Indicator  *jsoncIndicator  `json:"indicator"`

	ClipboardCmd *string       `json:"clipboard_cmd"`
	PasteCmd     *string       `json:"paste_cmd"`
	Vocab        *jsoncVocab   `json:"vocab"`
	Metrics      *jsoncMetrics `json:"metrics"`
	Debug        *jsoncDebug   `json:"debug"`
}

type jsoncRiva struct {
	GRPC       *string `json:"grpc"`
	HTTP       *string `json:"http"`
	HealthPath *string `json:"health_path"`
}

type jsoncDeepgram struct {
	Endpoint  *string `json:"endpoint"`
	APIKeyEnv *string `json:"api_key_env"`
	Model     *string `json:"model"`
}

type jsoncAudio struct {
	Input    *string `json:"input"`
	Fallback *string `json:"fallback"`
}

type jsoncPaste struct {
	Enable   *bool   `json:"enable"`
	Shortcut *string `json:"shortcut"`
}

type jsoncASR struct {
	AutomaticPunctuation *bool   `json:"automatic_punctuation"`
	LanguageCode         *string `json:"language_code"`
	Model                *string `json:"model"`
	InterimResults       *bool   `json:"interim_results"`
	Continuous           *bool   `json:"continuous"`
}

type jsoncSession struct {
	RestartDelayMS     *int              `json:"restart_delay_ms"`
	StopTimeoutMS      *int              `json:"stop_timeout_ms"`
	LevelIntervalMS    *int              `json:"level_interval_ms"`
	MaxRestartFailures *int              `json:"max_restart_failures"`
	ErrorDispositions  map[string]string `json:"error_dispositions"`
}

type jsoncTranscript struct {
	TrailingSpace *bool `json:"trailing_space"`
}

type jsoncIndicator struct {
	Enable            *bool   `json:"enable"`
	Backend           *string `json:"backend"`
	DesktopAppName    *string `json:"desktop_app_name"`
	SoundEnable       *bool   `json:"sound_enable"`
	SoundStartFile    *string `json:"sound_start_file"`
	SoundStopFile     *string `json:"sound_stop_file"`
	SoundCompleteFile *string `json:"sound_complete_file"`
	SoundCancelFile   *string `json:"sound_cancel_file"`
	Height            *int    `json:"height"`
	TextListening     *string `json:"text_listening"`
	TextError         *string `json:"text_error"`
	ErrorTimeoutMS    *int    `json:"error_timeout_ms"`
	LevelMeter        *bool   `json:"level_meter"`
}

type jsoncVocab struct {
	Global     *jsoncStringList         `json:"global"`
	MaxPhrases *int                     `json:"max_phrases"`
	Sets       map[string]jsoncVocabSet `json:"sets"`
}

type jsoncVocabSet struct {
	Boost   *float64 `json:"boost"`
	Phrases []string `json:"phrases"`
}

type jsoncMetrics struct {
	Listen *string `json:"listen"`
}

type jsoncDebug struct {
	AudioDump *bool `json:"audio_dump"`
	GRPCDump  *bool `json:"grpc_dump"`
}

// jsoncStringList accepts a string array or one comma-delimited string.
type jsoncStringList []string

func (l *jsoncStringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}

	var single string
	if err := json.Unmarshal(data, &single); err != nil {
		return fmt.Errorf("expected string array or comma-delimited string")
	}
	out := make([]string, 0)
	for _, part := range strings.Split(single, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	*l = out
	return nil
}

func parseJSONC(content string, base Config) (Config, []Warning, error) {
	normalized, err := normalizeJSONC(content)
	if err != nil {
		return Config{}, nil, err
	}

	decoder := json.NewDecoder(strings.NewReader(normalized))
	decoder.DisallowUnknownFields()

	var payload jsoncConfig
	if err := decoder.Decode(&payload); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}
	if err := ensureSingleJSONValue(decoder); err != nil {
		return Config{}, nil, wrapJSONDecodeError(normalized, err)
	}

	cfg := base
	if err := payload.applyTo(&cfg); err != nil {
		return Config{}, nil, err
	}

	warnings, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}

func (payload jsoncConfig) applyTo(cfg *Config) error {
	setString(&cfg.Engine, payload.Engine, true)
	cfg.Engine = strings.ToLower(cfg.Engine)

	if r := payload.Riva; r != nil {
		setString(&cfg.Riva.GRPC, r.GRPC, true)
		setString(&cfg.Riva.HTTP, r.HTTP, true)
		setString(&cfg.Riva.HealthPath, r.HealthPath, true)
	}
	if d := payload.Deepgram; d != nil {
		setString(&cfg.Deepgram.Endpoint, d.Endpoint, true)
		setString(&cfg.Deepgram.APIKeyEnv, d.APIKeyEnv, true)
		setString(&cfg.Deepgram.Model, d.Model, true)
	}
	if a := payload.Audio; a != nil {
		setString(&cfg.Audio.Input, a.Input, false)
		setString(&cfg.Audio.Fallback, a.Fallback, false)
	}
	if p := payload.Paste; p != nil {
		setBool(&cfg.Paste.Enable, p.Enable)
		setString(&cfg.Paste.Shortcut, p.Shortcut, true)
	}
	if a := payload.ASR; a != nil {
		setBool(&cfg.ASR.AutomaticPunctuation, a.AutomaticPunctuation)
		setString(&cfg.ASR.LanguageCode, a.LanguageCode, false)
		setString(&cfg.ASR.Model, a.Model, false)
		setBool(&cfg.ASR.InterimResults, a.InterimResults)
		setBool(&cfg.ASR.Continuous, a.Continuous)
	}
	if s := payload.Session; s != nil {
		setInt(&cfg.Session.RestartDelayMS, s.RestartDelayMS)
		setInt(&cfg.Session.StopTimeoutMS, s.StopTimeoutMS)
		setInt(&cfg.Session.LevelIntervalMS, s.LevelIntervalMS)
		setInt(&cfg.Session.MaxRestartFailures, s.MaxRestartFailures)
		if s.ErrorDispositions != nil {
			cfg.Session.ErrorDispositions = make(map[string]string, len(s.ErrorDispositions))
			for code, disposition := range s.ErrorDispositions {
				cfg.Session.ErrorDispositions[strings.TrimSpace(code)] = strings.TrimSpace(disposition)
			}
		}
	}
	if t := payload.Transcript; t != nil {
		setBool(&cfg.Transcript.TrailingSpace, t.TrailingSpace)
	}
	if i := payload.Indicator; i != nil {
		setBool(&cfg.Indicator.Enable, i.Enable)
		setString(&cfg.Indicator.Backend, i.Backend, true)
		setString(&cfg.Indicator.DesktopAppName, i.DesktopAppName, true)
		setBool(&cfg.Indicator.SoundEnable, i.SoundEnable)
		setString(&cfg.Indicator.SoundStartFile, i.SoundStartFile, true)
		setString(&cfg.Indicator.SoundStopFile, i.SoundStopFile, true)
		setString(&cfg.Indicator.SoundCompleteFile, i.SoundCompleteFile, true)
		setString(&cfg.Indicator.SoundCancelFile, i.SoundCancelFile, true)
		setInt(&cfg.Indicator.Height, i.Height)
		setString(&cfg.Indicator.TextListening, i.TextListening, false)
		setString(&cfg.Indicator.TextError, i.TextError, false)
		setInt(&cfg.Indicator.ErrorTimeoutMS, i.ErrorTimeoutMS)
		setBool(&cfg.Indicator.LevelMeter, i.LevelMeter)
	}

	if payload.ClipboardCmd != nil {
		command, err := parseCommand(*payload.ClipboardCmd)
		if err != nil {
			return fmt.Errorf("invalid clipboard_cmd: %w", err)
		}
		cfg.Clipboard = command
	}
	if payload.PasteCmd != nil {
		command, err := parseCommand(*payload.PasteCmd)
		if err != nil {
			return fmt.Errorf("invalid paste_cmd: %w", err)
		}
		cfg.PasteCmd = command
	}

	if payload.Vocab != nil {
		if err := payload.Vocab.applyTo(&cfg.Vocab); err != nil {
			return err
		}
	}
	if m := payload.Metrics; m != nil {
		setString(&cfg.Metrics.Listen, m.Listen, true)
	}
	if d := payload.Debug; d != nil {
		setBool(&cfg.Debug.EnableAudioDump, d.AudioDump)
		setBool(&cfg.Debug.EnableGRPCDump, d.GRPCDump)
	}
	return nil
}

func (v jsoncVocab) applyTo(vocab *VocabConfig) error {
	if v.Global != nil {
		vocab.GlobalSets = nil
		for _, name := range *v.Global {
			if name = strings.TrimSpace(name); name != "" {
				vocab.GlobalSets = append(vocab.GlobalSets, name)
			}
		}
	}
	setInt(&vocab.MaxPhrases, v.MaxPhrases)

	if v.Sets == nil {
		return nil
	}
	sets := make(map[string]VocabSet, len(vocab.Sets)+len(v.Sets))
	for name, set := range vocab.Sets {
		sets[name] = set
	}
	for name, set := range v.Sets {
		trimmed := strings.TrimSpace(name)
		if trimmed == "" {
			return fmt.Errorf("vocab.sets contains an empty set name")
		}
		entry := VocabSet{Name: trimmed, Phrases: append([]string(nil), set.Phrases...)}
		if set.Boost != nil {
			entry.Boost = *set.Boost
		}
		sets[trimmed] = entry
	}
	vocab.Sets = sets
	return nil
}

func parseCommand(raw string) (CommandConfig, error) {
	argv, err := parseArgv(raw)
	if err != nil {
		return CommandConfig{}, err
	}
	return CommandConfig{Raw: raw, Argv: argv}, nil
}

func setString(dst *string, src *string, trim bool) {
	if src == nil {
		return
	}
	if trim {
		*dst = strings.TrimSpace(*src)
		return
	}
	*dst = *src
}

func setBool(dst *bool, src *bool) {
	if src != nil {
		*dst = *src
	}
}

func setInt(dst *int, src *int) {
	if src != nil {
		*dst = *src
	}
}

// normalizeJSONC blanks out comments and trailing commas in one pass. Byte
// offsets are preserved so decode errors point at the original line and
// column.
func normalizeJSONC(content string) (string, error) {
	// pendingComma holds the output index of a comma that is dropped if the
	// next significant byte closes an object or array.
	pendingComma := -1
	buf := []byte(content)
	emitted := make([]byte, 0, len(buf))

	for i := 0; i < len(buf); i++ {
		ch := buf[i]

		switch {
		case ch == '"':
			end := skipString(buf, i)
			pendingComma = -1
			emitted = append(emitted, buf[i:end]...)
			i = end - 1
		case ch == '/' && i+1 < len(buf) && buf[i+1] == '/':
			for i < len(buf) && buf[i] != '\n' && buf[i] != '\r' {
				emitted = append(emitted, ' ')
				i++
			}
			if i < len(buf) {
				emitted = append(emitted, buf[i])
			}
		case ch == '/' && i+1 < len(buf) && buf[i+1] == '*':
			end := strings.Index(content[i+2:], "*/")
			if end < 0 {
				return "", fmt.Errorf("unterminated block comment in JSONC")
			}
			for _, c := range buf[i : i+2+end+2] {
				if c == '\n' || c == '\r' || c == '\t' {
					emitted = append(emitted, c)
				} else {
					emitted = append(emitted, ' ')
				}
			}
			i += 2 + end + 1
		case ch == ',':
			pendingComma = len(emitted)
			emitted = append(emitted, ch)
		case ch == '}' || ch == ']':
			if pendingComma >= 0 {
				emitted[pendingComma] = ' '
				pendingComma = -1
			}
			emitted = append(emitted, ch)
		case isJSONWhitespace(ch):
			emitted = append(emitted, ch)
		default:
			pendingComma = -1
			emitted = append(emitted, ch)
		}
	}

	return string(emitted), nil
}

// skipString returns the index just past the string literal starting at
// start. An unterminated literal runs to the end and is left to the decoder.
func skipString(buf []byte, start int) int {
	escape := false
	for i := start + 1; i < len(buf); i++ {
		switch {
		case escape:
			escape = false
		case buf[i] == '\\':
			escape = true
		case buf[i] == '"':
			return i + 1
		}
	}
	return len(buf)
}

func isJSONWhitespace(ch byte) bool {
	switch ch {
	case ' ', '\n', '\r', '\t':
		return true
	default:
		return false
	}
}

func ensureSingleJSONValue(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if errors.Is(err, io.EOF) {
		return nil
	}
	if err == nil {
		return fmt.Errorf("multiple JSON values are not allowed")
	}
	return err
}

func wrapJSONDecodeError(content string, err error) error {
	var syntaxErr *json.SyntaxError
	if errors.As(err, &syntaxErr) {
		line, col := offsetToLineCol(content, syntaxErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) {
		line, col := offsetToLineCol(content, typeErr.Offset)
		return fmt.Errorf("line %d column %d: %w", line, col, err)
	}

	return err
}

func offsetToLineCol(content string, offset int64) (int, int) {
	if offset <= 0 {
		return 1, 1
	}

	// Offsets past the end point just after the last byte.
	end := min(int(offset)-1, len(content))
	line, col := 1, 1
	for i := 0; i < end; i++ {
		if content[i] == '\n' {
			line++
			col = 1
			continue
		}
		col++
	}
	return line, col
}
