// Package indicator handles visual session notifications, the live input
// level meter and audio cue playback.
package indicator

import (
	"context"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rbright/earshot/internal/config"
	"github.com/rbright/earshot/internal/hypr"
)

const (
	listeningTimeoutMS  = 300000
	defaultErrorTimeout = 1200
	meterWidth          = 8
	meterMinInterval    = 250 * time.Millisecond
)

// Notifier implements the session indicator. Notifications route through
// Hyprland or the desktop DBus service based on the configured backend.
type Notifier struct {
	cfg      config.IndicatorConfig
	logger   *slog.Logger
	messages messages
	now      func() time.Time

	mu                    sync.Mutex
	focusedMonitor        string
	desktopNotificationID uint32
	listening             bool
	lastMeter             string
	lastMeterAt           time.Time

	meterBusy atomic.Bool
	// dispatchMu orders meter refreshes against Hide and ShowError.
	dispatchMu sync.Mutex
	soundMu    sync.Mutex
}

// New creates a notifier from config.
func New(cfg config.IndicatorConfig, logger *slog.Logger) *Notifier {
	msgs := indicatorMessagesFromEnv()
	if text := strings.TrimSpace(cfg.TextListening); text != "" {
		msgs.listening = text
	}
	if text := strings.TrimSpace(cfg.TextError); text != "" {
		msgs.errorText = text
	}
	return &Notifier{
		cfg:      cfg,
		logger:   logger,
		messages: msgs,
		now:      time.Now,
	}
}

// ShowListening signals capture start and emits the start cue.
func (n *Notifier) ShowListening(ctx context.Context) {
	n.playCue(cueStart)
	n.mu.Lock()
	n.listening = true
	n.lastMeter = ""
	n.lastMeterAt = time.Time{}
	n.mu.Unlock()
	if !n.cfg.Enable {
		return
	}
	n.ensureFocusedMonitor(ctx)
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, 1, listeningTimeoutMS, "rgb(89b4fa)", n.messages.listening)
	})
}

// ShowLevel refreshes the listening surface with a meter for level. Updates
// are throttled and skipped while a previous dispatch is in flight.
func (n *Notifier) ShowLevel(level float64) {
	if !n.cfg.Enable || !n.cfg.LevelMeter {
		return
	}
	text, ok := n.meterUpdate(level)
	if !ok {
		return
	}
	if !n.meterBusy.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer n.meterBusy.Store(false)
		n.showMeter(text)
	}()
}

// showMeter dispatches text unless listening stopped since it was rendered.
func (n *Notifier) showMeter(text string) {
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()
	if !n.isListening() {
		return
	}
	n.run(context.Background(), func(ctx context.Context) error {
		return n.notify(ctx, 1, listeningTimeoutMS, "rgb(89b4fa)", text)
	})
}

// meterUpdate returns the meter text to show, or false when nothing changed
// or the last update was too recent.
func (n *Notifier) meterUpdate(level float64) (string, bool) {
	text := n.messages.listening + " " + renderMeter(level, meterWidth)
	now := n.now()

	n.mu.Lock()
	defer n.mu.Unlock()
	if !n.listening || text == n.lastMeter {
		return "", false
	}
	if !n.lastMeterAt.IsZero() && now.Sub(n.lastMeterAt) < meterMinInterval {
		return "", false
	}
	n.lastMeter = text
	n.lastMeterAt = now
	return text, true
}

// ShowError displays an error-state message.
func (n *Notifier) ShowError(ctx context.Context, text string) {
	n.stopListening()
	if !n.cfg.Enable {
		return
	}
	if text == "" {
		text = n.messages.errorText
	}
	timeout := n.cfg.ErrorTimeoutMS
	if timeout <= 0 {
		timeout = defaultErrorTimeout
	}
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()
	n.run(ctx, func(ctx context.Context) error {
		return n.notify(ctx, 3, timeout, "rgb(f38ba8)", text)
	})
}

// CueStop emits the stop cue.
func (n *Notifier) CueStop(context.Context) {
	n.stopListening()
	n.playCue(cueStop)
}

// CueComplete emits the successful-commit cue.
func (n *Notifier) CueComplete(context.Context) {
	n.playCue(cueComplete)
}

// CueCancel emits the cancel cue.
func (n *Notifier) CueCancel(context.Context) {
	n.stopListening()
	n.playCue(cueCancel)
}

// Hide dismisses the active indicator surface.
func (n *Notifier) Hide(ctx context.Context) {
	n.stopListening()
	if !n.cfg.Enable {
		return
	}
	n.dispatchMu.Lock()
	defer n.dispatchMu.Unlock()
	n.run(ctx, n.dismiss)
}

// FocusedMonitor returns the monitor captured when listening began.
func (n *Notifier) FocusedMonitor() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.focusedMonitor
}

func (n *Notifier) isListening() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.listening
}

func (n *Notifier) stopListening() {
	n.mu.Lock()
	n.listening = false
	n.mu.Unlock()
}

// ensureFocusedMonitor resolves and caches the focused monitor once.
func (n *Notifier) ensureFocusedMonitor(ctx context.Context) {
	n.mu.Lock()
	alreadySet := n.focusedMonitor != ""
	n.mu.Unlock()
	if alreadySet {
		return
	}

	monitor, err := hypr.QueryFocusedMonitor(ctx)
	if err != nil {
		n.log("indicator focused monitor query failed", err)
		return
	}

	n.mu.Lock()
	n.focusedMonitor = monitor
	n.mu.Unlock()
}

func (n *Notifier) desktopBackend() bool {
	return strings.EqualFold(strings.TrimSpace(n.cfg.Backend), "desktop")
}

func (n *Notifier) notify(ctx context.Context, icon int, timeoutMS int, color string, text string) error {
	if n.desktopBackend() {
		return n.notifyDesktop(ctx, timeoutMS, text)
	}
	return hypr.Notify(ctx, icon, timeoutMS, color, text)
}

func (n *Notifier) dismiss(ctx context.Context) error {
	if n.desktopBackend() {
		return n.dismissDesktop(ctx)
	}
	return hypr.DismissNotify(ctx)
}

// notifyDesktop sends a replaceable desktop notification and stores its ID.
func (n *Notifier) notifyDesktop(ctx context.Context, timeoutMS int, text string) error {
	n.mu.Lock()
	replaceID := n.desktopNotificationID
	n.mu.Unlock()

	appName := strings.TrimSpace(n.cfg.DesktopAppName)
	if appName == "" {
		appName = "earshot-indicator"
	}

	id, err := desktopNotify(ctx, appName, replaceID, text, timeoutMS)
	if err != nil {
		return err
	}

	n.mu.Lock()
	n.desktopNotificationID = id
	n.mu.Unlock()
	return nil
}

func (n *Notifier) dismissDesktop(ctx context.Context) error {
	n.mu.Lock()
	id := n.desktopNotificationID
	n.desktopNotificationID = 0
	n.mu.Unlock()

	if id == 0 {
		return nil
	}
	return desktopDismiss(ctx, id)
}

// run executes an indicator operation with a bounded timeout.
func (n *Notifier) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := fn(runCtx); err != nil {
		n.log("indicator dispatch failed", err)
	}
}

// playCue serializes cue playback and emits audio asynchronously.
func (n *Notifier) playCue(kind cueKind) {
	if !n.cfg.SoundEnable {
		return
	}
	go func() {
		n.soundMu.Lock()
		defer n.soundMu.Unlock()
		ctx, cancel := context.WithTimeout(context.Background(), 4*time.Second)
		defer cancel()
		if err := emitCue(ctx, kind, n.cfg); err != nil {
			n.log("indicator audio cue failed", err)
		}
	}()
}

func (n *Notifier) log(message string, err error) {
	if n.logger == nil || err == nil {
		return
	}
	n.logger.Debug(message, "error", err.Error())
}

// renderMeter draws level in [0, 1] as a fixed-width bar.
func renderMeter(level float64, width int) string {
	switch {
	case math.IsNaN(level) || level < 0:
		level = 0
	case level > 1:
		level = 1
	}
	// Speech rarely exceeds a quarter of full scale.
	filled := int(level*4*float64(width) + 0.5)
	filled = min(filled, width)
	return strings.Repeat("▮", filled) + strings.Repeat("▯", width-filled)
}
