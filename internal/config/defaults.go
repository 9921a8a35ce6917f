package config

// Default returns the runtime configuration used when no file is present.
func Default() Config {
	clipboard := "wl-copy --trim-newline"

	return Config{
		Engine: EngineRiva,
		Riva: RivaConfig{
			GRPC:       "127.0.0.1:50051",
			HTTP:       "127.0.0.1:9000",
			HealthPath: "/v1/health/ready",
		},
		Deepgram: DeepgramConfig{
			Endpoint:  "wss://api.deepgram.com/v1/listen",
			APIKeyEnv: "DEEPGRAM_API_KEY",
			Model:     "nova-3",
		},
		Audio: AudioConfig{
			Input:    "default",
			Fallback: "default",
		},
		Paste: PasteConfig{Enable: true, Shortcut: "CTRL,V"},
		ASR: ASRConfig{
			AutomaticPunctuation: true,
			LanguageCode:         "en-US",
			InterimResults:       true,
			Continuous:           true,
		},
		Session: SessionConfig{
			RestartDelayMS:  100,
			StopTimeoutMS:   2000,
			LevelIntervalMS: 50,
		},
		Transcript: TranscriptConfig{TrailingSpace: true},
		Indicator: IndicatorConfig{
			Enable:         true,
			Backend:        "hypr",
			DesktopAppName: "earshot-indicator",
			SoundEnable:    true,
			Height:         28,
			ErrorTimeoutMS: 1600,
			LevelMeter:     true,
		},
		Clipboard: CommandConfig{Raw: clipboard, Argv: mustParseArgv(clipboard)},
		Vocab: VocabConfig{
			Sets:       map[string]VocabSet{},
			MaxPhrases: 1024,
		},
	}
}
