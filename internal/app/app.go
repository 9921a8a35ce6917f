// Package app dispatches parsed CLI commands. The first toggle becomes the
// session owner; later invocations forward over the runtime socket.
package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rbright/earshot/internal/audio"
	"github.com/rbright/earshot/internal/cli"
	"github.com/rbright/earshot/internal/config"
	"github.com/rbright/earshot/internal/doctor"
	"github.com/rbright/earshot/internal/indicator"
	"github.com/rbright/earshot/internal/ipc"
	"github.com/rbright/earshot/internal/logging"
	"github.com/rbright/earshot/internal/observe"
	"github.com/rbright/earshot/internal/output"
	"github.com/rbright/earshot/internal/pipeline"
	"github.com/rbright/earshot/internal/session"
	"github.com/rbright/earshot/internal/transcript"
	"github.com/rbright/earshot/internal/version"
)

const (
	binaryName     = "earshot"
	forwardTimeout = 220 * time.Millisecond
	acquireProbe   = 180 * time.Millisecond
	acquireRetries = 8
)

// Runner executes commands against the given output streams.
type Runner struct {
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
}

// Execute runs args with a default Runner and returns the exit code.
func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

// Execute runs args and returns the process exit code.
func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	logRuntime, err := logging.New()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"engine", cfgLoaded.Config.Engine,
		"log", logRuntime.Path,
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded)
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandTranscript:
		return r.commandTranscript(ctx)
	case cli.CommandFinish:
		return r.forwardOrFail(ctx, ipc.CommandFinish)
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, ipc.CommandCancel)
	case cli.CommandToggle:
		return r.commandToggle(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}

	return 0
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if !handled {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.State == "" {
		resp.State = "idle"
	}
	fmt.Fprintln(r.Stdout, resp.State)
	return 0
}

func (r Runner) commandTranscript(ctx context.Context) int {
	resp, code, ok := r.forward(ctx, ipc.CommandTranscript)
	if !ok {
		return code
	}
	if text := strings.TrimSpace(resp.Transcript); text != "" {
		fmt.Fprintln(r.Stdout, text)
	}
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	resp, code, ok := r.forward(ctx, command)
	if !ok {
		return code
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// forward sends command to the owner. ok is false when the exit code should
// be returned as is.
func (r Runner) forward(ctx context.Context, command string) (ipc.Response, int, bool) {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ipc.Response{}, 1, false
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active %s session\n", binaryName)
		return ipc.Response{}, 1, false
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return ipc.Response{}, 1, false
	}
	return resp, 0, true
}

func (r Runner) commandToggle(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if code, handled := r.forwardToggle(ctx, socketPath); handled {
		return code
	}

	listener, err := ipc.Acquire(ctx, socketPath, acquireProbe, acquireRetries, nil)
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) {
			if code, handled := r.forwardToggle(ctx, socketPath); handled {
				return code
			}
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() {
		_ = listener.Close()
		_ = os.Remove(socketPath)
	}()

	result, err := runOwner(ctx, cfg, logger, func(gctx context.Context, handler ipc.Handler) error {
		return ipc.Serve(gctx, listener, handler)
	})
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	logSessionResult(logger, cfg.Engine, result)

	if result.Cancelled {
		fmt.Fprintln(r.Stdout, "cancelled")
		return 0
	}
	if result.Err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		return 1
	}
	if text := strings.TrimSpace(result.Transcript); text != "" {
		fmt.Fprintln(r.Stdout, text)
	}
	return 0
}

func (r Runner) forwardToggle(ctx context.Context, socketPath string) (int, bool) {
	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandToggle)
	if !handled {
		return 0, false
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1, true
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0, true
}

// runOwner assembles the runtime and runs one session alongside the IPC
// server and, when configured, the metrics endpoint. Servers stop once the
// session ends; an IPC server failure cancels the session.
func runOwner(
	ctx context.Context,
	cfg config.Config,
	logger *slog.Logger,
	serveIPC func(context.Context, ipc.Handler) error,
) (session.Result, error) {
	rt, err := pipeline.Build(cfg, logger)
	if err != nil {
		return session.Result{}, fmt.Errorf("build pipeline: %w", err)
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Warn("close pipeline failed", "error", closeErr.Error())
		}
	}()

	metrics := observe.Noop()
	var provider *observe.Provider
	if cfg.Metrics.Listen != "" {
		provider, err = observe.InitProvider(ctx, observe.ProviderConfig{ServiceVersion: version.Version})
		if err != nil {
			return session.Result{}, fmt.Errorf("init metrics: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			_ = provider.Shutdown(shutdownCtx)
		}()
		metrics = provider.Metrics
	}

	ctrl, err := session.NewController(session.ControllerOptions{
		Logger:    logger,
		Session:   rt.SessionOptions(metrics),
		Committer: output.NewCommitter(output.OptionsFromConfig(cfg, logger)),
		Indicator: indicator.New(cfg.Indicator, logger),
		Format:    transcript.Options{TrailingSpace: cfg.Transcript.TrailingSpace},
	})
	if err != nil {
		return session.Result{}, err
	}

	g, gctx := errgroup.WithContext(ctx)
	serveCtx, stopServing := context.WithCancel(gctx)
	defer stopServing()

	var result session.Result
	g.Go(func() error {
		defer stopServing()
		result = ctrl.Run(gctx)
		return nil
	})
	g.Go(func() error {
		if err := serveIPC(serveCtx, ctrl); err != nil {
			return fmt.Errorf("ipc server failed: %w", err)
		}
		return nil
	})
	if provider != nil {
		g.Go(func() error {
			if err := observe.Serve(serveCtx, cfg.Metrics.Listen, provider.Handler); err != nil {
				logger.Warn("metrics server failed", "listen", cfg.Metrics.Listen, "error", err.Error())
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return result, err
	}
	return result, nil
}

func logSessionResult(logger *slog.Logger, engineName string, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"session_id", result.SessionID,
		"engine", engineName,
		"state", result.State,
		"cancelled", result.Cancelled,
		"restarts", result.Restarts,
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.FinishedAt.Sub(result.StartedAt).Milliseconds(),
		"transcript_length", len(result.Transcript),
		"focused_monitor", result.FocusedMonitor,
	}

	if result.Err != nil {
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if ipc.NoOwner(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}
