package output

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rbright/earshot/internal/hypr"
)

const (
	windowQueryAttempts = 5
	windowQueryDelay    = 10 * time.Millisecond
)

// defaultPaste sends shortcut to the active Hyprland window, addressed
// explicitly so focus changes during dispatch do not redirect it.
func defaultPaste(ctx context.Context, shortcut string) error {
	window, err := activeWindowWithRetry(ctx, windowQueryAttempts, windowQueryDelay)
	if err != nil {
		return err
	}

	payload, err := buildPasteShortcut(shortcut, window.Address)
	if err != nil {
		return err
	}
	return hypr.SendShortcut(ctx, payload)
}

// buildPasteShortcut renders the "MODS,KEY,address:0x..." sendshortcut payload.
func buildPasteShortcut(shortcut string, windowAddress string) (string, error) {
	shortcut = strings.TrimSpace(shortcut)
	if shortcut == "" {
		return "", errors.New("paste shortcut cannot be empty")
	}
	address := strings.TrimSpace(windowAddress)
	if address == "" {
		return "", errors.New("active window address is required")
	}
	return shortcut + ",address:" + address, nil
}

// activeWindowWithRetry polls hyprctl until a window reports an address.
// Right after a keybind fires the compositor may briefly report none.
func activeWindowWithRetry(ctx context.Context, attempts int, delay time.Duration) (hypr.ActiveWindow, error) {
	attempts = max(attempts, 1)

	var lastErr error
	for i := range attempts {
		if err := ctx.Err(); err != nil {
			return hypr.ActiveWindow{}, err
		}
		window, err := hypr.QueryActiveWindow(ctx)
		if err == nil {
			return window, nil
		}
		lastErr = err
		if i == attempts-1 {
			break
		}

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return hypr.ActiveWindow{}, ctx.Err()
		case <-timer.C:
		}
	}
	return hypr.ActiveWindow{}, fmt.Errorf("resolve active window after %d attempts: %w", attempts, lastErr)
}
