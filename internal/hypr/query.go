package hypr

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// DefaultNotifyColor is used when Notify is called without a color.
const DefaultNotifyColor = "rgb(89b4fa)"

// ActiveWindow identifies the window a paste shortcut is sent to.
type ActiveWindow struct {
	Address      string `json:"address"`
	Class        string `json:"class"`
	InitialClass string `json:"initialClass"`
}

func (w *ActiveWindow) normalize() {
	w.Address = strings.TrimSpace(w.Address)
	w.Class = strings.TrimSpace(w.Class)
	w.InitialClass = strings.TrimSpace(w.InitialClass)
}

type monitor struct {
	Name    string `json:"name"`
	Focused bool   `json:"focused"`
}

// QueryActiveWindow returns the focused window. A window without an address
// cannot be targeted and is reported as an error.
func QueryActiveWindow(ctx context.Context) (ActiveWindow, error) {
	window, err := queryJSON[ActiveWindow](ctx, "activewindow")
	if err != nil {
		return ActiveWindow{}, err
	}
	window.normalize()
	if window.Address == "" {
		return ActiveWindow{}, errors.New("hyprctl activewindow returned empty address")
	}
	return window, nil
}

// QueryFocusedMonitor returns the focused monitor name, or the first monitor
// when none reports focus.
func QueryFocusedMonitor(ctx context.Context) (string, error) {
	monitors, err := queryJSON[[]monitor](ctx, "monitors")
	if err != nil {
		return "", err
	}
	if len(monitors) == 0 {
		return "", errors.New("hyprctl monitors returned no outputs")
	}
	chosen := monitors[0]
	for _, mon := range monitors {
		if mon.Focused {
			chosen = mon
			break
		}
	}
	return strings.TrimSpace(chosen.Name), nil
}

// SendShortcut dispatches a sendshortcut payload such as "CTRL,V,address:0x1".
func SendShortcut(ctx context.Context, shortcut string) error {
	shortcut = strings.TrimSpace(shortcut)
	if shortcut == "" {
		return errors.New("sendshortcut requires a non-empty payload")
	}
	return dispatch(ctx, "sendshortcut", shortcut)
}

// Notify shows a Hyprland notification.
func Notify(ctx context.Context, icon int, timeoutMS int, color string, text string) error {
	if strings.TrimSpace(color) == "" {
		color = DefaultNotifyColor
	}
	return dispatch(ctx, "notify", strconv.Itoa(icon), strconv.Itoa(timeoutMS), color, text)
}

// DismissNotify clears every Hyprland notification.
func DismissNotify(ctx context.Context) error {
	return dispatch(ctx, "dismissnotify")
}

func dispatch(ctx context.Context, name string, args ...string) error {
	return runHyprctl(ctx, append([]string{"--quiet", "dispatch", name}, args...)...)
}

func queryJSON[T any](ctx context.Context, target string) (T, error) {
	var out T
	raw, err := runHyprctlOutput(ctx, "-j", target)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return out, fmt.Errorf("decode hyprctl %s json: %w", target, err)
	}
	return out, nil
}
