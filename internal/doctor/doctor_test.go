package doctor

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/rbright/earshot/internal/config"
)

const missingPulse = "unix:/tmp/earshot-doctor-missing-pulse"

func installBinaries(t *testing.T, names ...string) {
	t.Helper()
	dir := t.TempDir()
	for _, name := range names {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("#!/usr/bin/env sh\nexit 0\n"), 0o755))
	}
	t.Setenv("PATH", dir+":"+os.Getenv("PATH"))
}

func rivaServer(t *testing.T, status int, body string) config.RivaConfig {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/health/ready", r.URL.Path)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(server.Close)

	cfg := config.Default().Riva
	cfg.HTTP = strings.TrimPrefix(server.URL, "http://")
	return cfg
}

func TestReport(t *testing.T) {
	report := Report{Checks: []Check{
		{Name: "config", Pass: true, Message: "loaded"},
		{Name: "busctl", Pass: false, Message: "missing"},
	}}

	require.False(t, report.OK())
	require.Equal(t, "[OK] config: loaded\n[FAIL] busctl: missing", report.String())

	check, ok := report.Find("busctl")
	require.True(t, ok)
	require.False(t, check.Pass)
	_, ok = report.Find("hyprctl")
	require.False(t, ok)

	require.True(t, Report{Checks: report.Checks[:1]}.OK())
}

func TestCheckEnv(t *testing.T) {
	isWayland := func(v string) bool { return v == "wayland" }

	t.Setenv("EARSHOT_DOCTOR_ENV", "wayland")
	require.Equal(t, Check{Name: "EARSHOT_DOCTOR_ENV", Pass: true, Message: "ok"}, checkEnv("EARSHOT_DOCTOR_ENV", isWayland, "ok", "bad"))

	t.Setenv("EARSHOT_DOCTOR_ENV", "x11")
	require.Equal(t, Check{Name: "EARSHOT_DOCTOR_ENV", Pass: false, Message: "bad"}, checkEnv("EARSHOT_DOCTOR_ENV", isWayland, "ok", "bad"))
}

func TestCheckCommand(t *testing.T) {
	installBinaries(t, "fake-copy")

	require.False(t, checkCommand(nil, "clipboard_cmd").Pass)

	check := checkCommand([]string{"fake-copy", "--trim-newline"}, "clipboard_cmd")
	require.True(t, check.Pass)
	require.Equal(t, "fake-copy", check.Name)
	require.Contains(t, check.Message, "clipboard_cmd command is available")

	check = checkCommand([]string{"earshot-no-such-binary"}, "paste_cmd")
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "binary not found in PATH")
}

func TestCheckRivaReady(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantPass bool
		wantMsg  string
	}{
		{name: "ready body", status: http.StatusOK, body: "READY", wantPass: true, wantMsg: "ready at http://"},
		{name: "other body", status: http.StatusOK, body: "warming-up", wantPass: true, wantMsg: "HTTP 200"},
		{name: "unavailable", status: http.StatusServiceUnavailable, wantPass: false, wantMsg: "HTTP 503"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			check := checkRivaReady(context.Background(), rivaServer(t, tc.status, tc.body))
			require.Equal(t, tc.wantPass, check.Pass)
			require.Contains(t, check.Message, tc.wantMsg)
		})
	}
}

func TestCheckRivaReadyRequiresHTTPAddress(t *testing.T) {
	cfg := config.Default().Riva
	cfg.HTTP = "  "
	require.Equal(t, "riva.http is empty", checkRivaReady(context.Background(), cfg).Message)
}

func TestCheckEngine(t *testing.T) {
	cfg := config.Default()
	cfg.Engine = config.EngineDeepgram
	cfg.Deepgram.APIKeyEnv = "EARSHOT_TEST_DG_KEY"

	t.Setenv("EARSHOT_TEST_DG_KEY", "")
	check := checkEngine(context.Background(), cfg)
	require.False(t, check.Pass)
	require.Equal(t, "EARSHOT_TEST_DG_KEY is not set", check.Message)

	t.Setenv("EARSHOT_TEST_DG_KEY", "secret-value")
	check = checkEngine(context.Background(), cfg)
	require.True(t, check.Pass)
	require.NotContains(t, check.Message, "secret-value")

	cfg.Engine = "whisper"
	require.Contains(t, checkEngine(context.Background(), cfg).Message, "unsupported engine")
}

func TestCheckAudioSelectionReportsUnreachableServer(t *testing.T) {
	t.Setenv("PULSE_SERVER", missingPulse)

	check := checkAudioSelection(context.Background(), config.Default())
	require.Equal(t, "audio.device", check.Name)
	require.False(t, check.Pass)
}

func TestCheckRuntimeSocket(t *testing.T) {
	t.Setenv("XDG_RUNTIME_DIR", "")
	require.False(t, checkRuntimeSocket().Pass)

	dir := t.TempDir()
	t.Setenv("XDG_RUNTIME_DIR", dir)
	check := checkRuntimeSocket()
	require.True(t, check.Pass)
	require.Equal(t, filepath.Join(dir, "earshot.sock"), check.Message)

	t.Setenv("XDG_RUNTIME_DIR", filepath.Join(dir, "missing"))
	require.Contains(t, checkRuntimeSocket().Message, "runtime dir")
}

func TestCheckMetricsListen(t *testing.T) {
	busy, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = busy.Close() })

	require.False(t, checkMetricsListen(busy.Addr().String()).Pass)
	require.True(t, checkMetricsListen("127.0.0.1:0").Pass)
}

func TestRunSelectsChecksFromConfig(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*config.Config)
		present []string
		absent  []string
	}{
		{
			name: "paste_cmd override",
			mutate: func(cfg *config.Config) {
				cfg.PasteCmd = config.CommandConfig{Raw: "fake-paste", Argv: []string{"fake-paste"}}
			},
			present: []string{"fake-paste"},
			absent:  []string{"hyprctl", "busctl", "metrics.listen"},
		},
		{
			name:    "default paste path",
			mutate:  func(*config.Config) {},
			present: []string{"hyprctl"},
		},
		{
			name:   "paste disabled",
			mutate: func(cfg *config.Config) { cfg.Paste.Enable = false },
			absent: []string{"hyprctl"},
		},
		{
			name: "desktop indicator and metrics",
			mutate: func(cfg *config.Config) {
				cfg.Indicator.Backend = "desktop"
				cfg.Metrics.Listen = "127.0.0.1:0"
			},
			present: []string{"busctl", "metrics.listen"},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			installBinaries(t, "fake-paste", "hyprctl")
			t.Setenv("PULSE_SERVER", missingPulse)
			t.Setenv("XDG_RUNTIME_DIR", t.TempDir())

			cfg := config.Default()
			cfg.Riva.HTTP = ""
			tc.mutate(&cfg)

			report := Run(context.Background(), config.Loaded{Path: "/tmp/config.jsonc", Config: cfg, Exists: true})
			for _, name := range append([]string{"config", "ipc.socket", "audio.device", "riva.ready"}, tc.present...) {
				_, ok := report.Find(name)
				require.True(t, ok, "missing check %s", name)
			}
			for _, name := range tc.absent {
				_, ok := report.Find(name)
				require.False(t, ok, "unexpected check %s", name)
			}
		})
	}
}

func TestRunDescribesMissingConfig(t *testing.T) {
	t.Setenv("PULSE_SERVER", missingPulse)

	cfg := config.Default()
	cfg.Riva.HTTP = ""
	report := Run(context.Background(), config.Loaded{Path: "/tmp/none.jsonc", Config: cfg})

	check, ok := report.Find("config")
	require.True(t, ok)
	require.Contains(t, check.Message, "not found, using defaults")
}
