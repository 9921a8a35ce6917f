package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	t.Setenv(PathEnv, "")
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "earshot", "config.jsonc"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "earshot", "config.jsonc"), resolved)
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
	require.Contains(t, loaded.Warnings[0].Message, "earshot doctor")
}

func TestLoadExistingJSONCParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `
{
  "riva": {
    "grpc": "127.0.0.1:50051",
    "http": "127.0.0.1:9000"
  },
  "audio": {
    "input": "default",
    "fallback": "default"
  },
  "paste": {
    "enable": false
  }
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, path, loaded.Path)
	require.Equal(t, "127.0.0.1:50051", loaded.Config.Riva.GRPC)
	require.Equal(t, "127.0.0.1:9000", loaded.Config.Riva.HTTP)
	require.False(t, loaded.Config.Paste.Enable)
}

func TestResolvePathHonorsEnvOverride(t *testing.T) {
	t.Setenv(PathEnv, " /etc/earshot.jsonc ")
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	resolved, err := ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, "/etc/earshot.jsonc", resolved)

	resolved, err = ResolvePath("/tmp/flag.jsonc")
	require.NoError(t, err)
	require.Equal(t, "/tmp/flag.jsonc", resolved)
}

func TestResolvePathFailsWithoutHome(t *testing.T) {
	src := source{
		getenv:  func(string) string { return "" },
		homeDir: func() (string, error) { return "", errors.New("no home") },
	}
	_, err := src.resolve("")
	require.ErrorContains(t, err, "resolve config path")
}

func TestLoadReportsReadFailure(t *testing.T) {
	src := source{
		getenv:   func(string) string { return "" },
		homeDir:  func() (string, error) { return "/home/test", nil },
		readFile: func(string) ([]byte, error) { return nil, fs.ErrPermission },
	}
	_, err := src.load("")
	require.ErrorIs(t, err, fs.ErrPermission)
	require.ErrorContains(t, err, "/home/test/.config/earshot/config.jsonc")
}

func TestLoadImplicitPathUsesXDG(t *testing.T) {
	t.Setenv(PathEnv, "")
	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	path := filepath.Join(xdg, "earshot", "config.jsonc")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(`{"paste": {"enable": false}}`), 0o600))

	loaded, err := Load("")
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Config.Paste.Enable)
	require.Empty(t, loaded.Warnings)
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{ not-json }"), 0o600))

	_, err := Load(path)
	require.Error(t, err)
	require.Contains(t, err.Error(), "parse config")
	require.Contains(t, err.Error(), path)
}
