package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	appDir   = "earshot"
	fileName = "config.jsonc"

	// PathEnv overrides the config location when no --config flag is given.
	PathEnv = "EARSHOT_CONFIG"
)

// Loaded is a resolved and validated config plus the warnings raised while
// producing it.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	Exists   bool
}

type source struct {
	getenv   func(string) string
	homeDir  func() (string, error)
	readFile func(string) ([]byte, error)
}

func osSource() source {
	return source{getenv: os.Getenv, homeDir: os.UserHomeDir, readFile: os.ReadFile}
}

// Load reads the config at explicitPath, or at the default location when it
// is empty. A missing file yields defaults and a warning.
func Load(explicitPath string) (Loaded, error) {
	return osSource().load(explicitPath)
}

// ResolvePath picks the config location: explicit path, $EARSHOT_CONFIG,
// $XDG_CONFIG_HOME/earshot, then ~/.config/earshot.
func ResolvePath(explicit string) (string, error) {
	return osSource().resolve(explicit)
}

func (s source) resolve(explicit string) (string, error) {
	for _, candidate := range []string{explicit, s.getenv(PathEnv)} {
		if candidate = strings.TrimSpace(candidate); candidate != "" {
			return candidate, nil
		}
	}
	if xdg := strings.TrimSpace(s.getenv("XDG_CONFIG_HOME")); xdg != "" {
		return filepath.Join(xdg, appDir, fileName), nil
	}
	home, err := s.homeDir()
	if err != nil || home == "" {
		return "", errors.New("resolve config path: neither XDG_CONFIG_HOME nor a home directory is available")
	}
	return filepath.Join(home, ".config", appDir, fileName), nil
}

func (s source) load(explicitPath string) (Loaded, error) {
	path, err := s.resolve(explicitPath)
	if err != nil {
		return Loaded{}, err
	}
	loaded := Loaded{Path: path, Config: Default()}

	content, err := s.readFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		loaded.Warnings = []Warning{{
			Message: fmt.Sprintf("config file %q not found; using defaults (run `%s doctor` to check the environment)", path, appDir),
		}}
		return loaded, nil
	case err != nil:
		return Loaded{}, fmt.Errorf("read config %q: %w", path, err)
	}

	cfg, warnings, err := Parse(string(content), loaded.Config)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", path, err)
	}
	loaded.Config = cfg
	loaded.Warnings = warnings
	loaded.Exists = true
	return loaded, nil
}
