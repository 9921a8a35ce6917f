package config

import (
	"errors"
	"strings"
)

// ErrNotJSONC is returned for content that is not a JSONC object.
var ErrNotJSONC = errors.New("config must be a JSONC object starting with '{'")

// Parse reads configuration content as JSONC on top of base. Empty content
// yields base.
func Parse(content string, base Config) (Config, []Warning, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		warnings, err := Validate(base)
		if err != nil {
			return Config{}, nil, err
		}
		return base, warnings, nil
	}
	if !strings.HasPrefix(trimmed, "{") {
		return Config{}, nil, ErrNotJSONC
	}
	return parseJSONC(content, base)
}
