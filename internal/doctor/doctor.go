// Package doctor runs readiness diagnostics for config, desktop tools, audio
// capture and the configured recognition engine.
package doctor

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rbright/earshot/internal/audio"
	"github.com/rbright/earshot/internal/config"
	"github.com/rbright/earshot/internal/ipc"
)

const healthTimeout = 2 * time.Second

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Find returns the first check named name.
func (r Report) Find(name string) (Check, bool) {
	for _, check := range r.Checks {
		if check.Name == name {
			return check, true
		}
	}
	return Check{}, false
}

// Run executes every check for a loaded config.
func Run(ctx context.Context, cfg config.Loaded) Report {
	c := cfg.Config
	checks := []Check{{
		Name:    "config",
		Pass:    true,
		Message: describeConfig(cfg),
	}}

	checks = append(checks,
		checkEnv("XDG_SESSION_TYPE", func(v string) bool {
			return strings.EqualFold(strings.TrimSpace(v), "wayland")
		}, "session type is wayland", "expected XDG_SESSION_TYPE=wayland"),
		checkEnv("HYPRLAND_INSTANCE_SIGNATURE", func(v string) bool {
			return strings.TrimSpace(v) != ""
		}, "Hyprland session detected", "HYPRLAND_INSTANCE_SIGNATURE is empty"),
		checkRuntimeSocket(),
		checkCommand(c.Clipboard.Argv, "clipboard_cmd"),
	)

	switch {
	case !c.Paste.Enable:
	case len(c.PasteCmd.Argv) > 0:
		checks = append(checks, checkCommand(c.PasteCmd.Argv, "paste_cmd"))
	default:
		checks = append(checks, checkBinary("hyprctl", "default paste path requires hyprctl"))
	}
	if c.Indicator.Enable && strings.EqualFold(strings.TrimSpace(c.Indicator.Backend), "desktop") {
		checks = append(checks, checkBinary("busctl", "desktop indicator requires busctl"))
	}
	if c.Metrics.Listen != "" {
		checks = append(checks, checkMetricsListen(c.Metrics.Listen))
	}

	checks = append(checks, checkAudioSelection(ctx, c), checkEngine(ctx, c))
	return Report{Checks: checks}
}

func describeConfig(cfg config.Loaded) string {
	if !cfg.Exists {
		return fmt.Sprintf("%q not found, using defaults (engine %s)", cfg.Path, cfg.Config.Engine)
	}
	return fmt.Sprintf("loaded %q (engine %s)", cfg.Path, cfg.Config.Engine)
}

// checkRuntimeSocket confirms the session socket directory is usable.
func checkRuntimeSocket() Check {
	path, err := ipc.RuntimeSocketPath()
	if err != nil {
		return Check{Name: "ipc.socket", Pass: false, Message: err.Error()}
	}
	info, err := os.Stat(filepath.Dir(path))
	if err != nil {
		return Check{Name: "ipc.socket", Pass: false, Message: fmt.Sprintf("runtime dir: %v", err)}
	}
	if !info.IsDir() {
		return Check{Name: "ipc.socket", Pass: false, Message: fmt.Sprintf("%s is not a directory", filepath.Dir(path))}
	}
	return Check{Name: "ipc.socket", Pass: true, Message: path}
}

// checkMetricsListen verifies the metrics address can be bound right now.
func checkMetricsListen(addr string) Check {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return Check{Name: "metrics.listen", Pass: false, Message: err.Error()}
	}
	_ = listener.Close()
	return Check{Name: "metrics.listen", Pass: true, Message: fmt.Sprintf("%s is free", addr)}
}

// checkEnv validates an environment variable through a caller-supplied predicate.
func checkEnv(name string, predicate func(string) bool, okMsg, failMsg string) Check {
	value := os.Getenv(name)
	if predicate(value) {
		return Check{Name: name, Pass: true, Message: okMsg}
	}
	return Check{Name: name, Pass: false, Message: failMsg}
}

func checkCommand(argv []string, name string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(argv[0], fmt.Sprintf("%s command is available", name))
}

func checkBinary(bin string, okMsg string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: bin, Pass: false, Message: fmt.Sprintf("binary not found in PATH: %s", bin)}
	}
	return Check{Name: bin, Pass: true, Message: fmt.Sprintf("found at %s (%s)", path, okMsg)}
}

// checkAudioSelection runs live device selection to surface fallback issues.
func checkAudioSelection(ctx context.Context, cfg config.Config) Check {
	selection, err := audio.SelectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

func checkEngine(ctx context.Context, cfg config.Config) Check {
	switch cfg.Engine {
	case config.EngineRiva:
		return checkRivaReady(ctx, cfg.Riva)
	case config.EngineDeepgram:
		return checkDeepgramKey(cfg.Deepgram)
	default:
		return Check{Name: "engine", Pass: false, Message: fmt.Sprintf("unsupported engine %q", cfg.Engine)}
	}
}

// checkRivaReady probes the configured Riva HTTP health endpoint.
func checkRivaReady(ctx context.Context, cfg config.RivaConfig) Check {
	base := strings.TrimSpace(cfg.HTTP)
	if base == "" {
		return Check{Name: "riva.ready", Pass: false, Message: "riva.http is empty"}
	}
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	url := strings.TrimRight(base, "/") + cfg.HealthPath
	reqCtx, cancel := context.WithTimeout(ctx, healthTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return Check{Name: "riva.ready", Pass: false, Message: fmt.Sprintf("build request: %v", err)}
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Check{Name: "riva.ready", Pass: false, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Check{Name: "riva.ready", Pass: false, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
	}

	bodyText := strings.ToLower(strings.TrimSpace(string(body)))
	if bodyText != "" && !strings.Contains(bodyText, "ready") {
		return Check{Name: "riva.ready", Pass: true, Message: fmt.Sprintf("HTTP %d from %s", resp.StatusCode, url)}
	}

	return Check{Name: "riva.ready", Pass: true, Message: fmt.Sprintf("ready at %s", url)}
}

// checkDeepgramKey confirms the API key variable is set. The key itself is
// never printed.
func checkDeepgramKey(cfg config.DeepgramConfig) Check {
	name := strings.TrimSpace(cfg.APIKeyEnv)
	if name == "" {
		return Check{Name: "deepgram.api_key", Pass: false, Message: "deepgram.api_key_env is empty"}
	}
	if strings.TrimSpace(os.Getenv(name)) == "" {
		return Check{Name: "deepgram.api_key", Pass: false, Message: fmt.Sprintf("%s is not set", name)}
	}
	return Check{Name: "deepgram.api_key", Pass: true, Message: fmt.Sprintf("%s is set (endpoint %s)", name, cfg.Endpoint)}
}
