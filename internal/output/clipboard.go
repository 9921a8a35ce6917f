// Package output dispatches a finished transcript: clipboard first, then an
// optional paste into the focused window.
package output

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/earshot/internal/config"
)

const (
	clipboardTimeout    = 2 * time.Second
	pasteCommandTimeout = 2 * time.Second
	hyprPasteTimeout    = 1200 * time.Millisecond
)

// Options configures a Committer.
type Options struct {
	ClipboardArgv []string
	Paste         bool
	// PasteArgv replaces the Hyprland shortcut dispatch when set.
	PasteArgv     []string
	PasteShortcut string
	Logger        *slog.Logger
}

// OptionsFromConfig maps the clipboard and paste sections of cfg.
func OptionsFromConfig(cfg config.Config, logger *slog.Logger) Options {
	return Options{
		ClipboardArgv: cfg.Clipboard.Argv,
		Paste:         cfg.Paste.Enable,
		PasteArgv:     cfg.PasteCmd.Argv,
		PasteShortcut: cfg.Paste.Shortcut,
		Logger:        logger,
	}
}

// Committer writes transcripts to the clipboard and optionally pastes them.
type Committer struct {
	opts Options
}

// NewCommitter constructs a committer.
func NewCommitter(opts Options) *Committer {
	return &Committer{opts: opts}
}

// Commit sets the clipboard and dispatches paste. A paste failure is logged
// and leaves the clipboard set; only clipboard failures are returned.
func (c *Committer) Commit(ctx context.Context, transcript string) error {
	if transcript == "" {
		return nil
	}

	clipboardCtx, cancel := context.WithTimeout(ctx, clipboardTimeout)
	defer cancel()
	if err := runWithStdin(clipboardCtx, c.opts.ClipboardArgv, transcript); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}

	if !c.opts.Paste {
		return nil
	}
	if err := c.paste(ctx); err != nil {
		c.logPasteFailure(err)
	}
	return nil
}

func (c *Committer) paste(ctx context.Context) error {
	if len(c.opts.PasteArgv) > 0 {
		pasteCtx, cancel := context.WithTimeout(ctx, pasteCommandTimeout)
		defer cancel()
		return runWithStdin(pasteCtx, c.opts.PasteArgv, "")
	}

	pasteCtx, cancel := context.WithTimeout(ctx, hyprPasteTimeout)
	defer cancel()
	return defaultPaste(pasteCtx, c.opts.PasteShortcut)
}

// runWithStdin executes argv with input on stdin. Stderr is folded into
// the returned error.
func runWithStdin(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return errors.New("command argv cannot be empty")
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(input)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("run %s: %w (%s)", argv[0], err, msg)
		}
		return fmt.Errorf("run %s: %w", argv[0], err)
	}
	return nil
}

func (c *Committer) logPasteFailure(err error) {
	if c.opts.Logger == nil || err == nil {
		return
	}
	c.opts.Logger.Error("paste dispatch failed; clipboard remains set", "error", err.Error())
}
