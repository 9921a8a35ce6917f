package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

const (
	notifyService   = "org.freedesktop.Notifications"
	notifyPath      = "/org/freedesktop/Notifications"
	notifyInterface = "org.freedesktop.Notifications"
)

// desktopNotify sends a freedesktop notification through busctl, replacing
// replaceID when non-zero, and returns the server-assigned ID.
func desktopNotify(ctx context.Context, appName string, replaceID uint32, summary string, timeoutMS int) (uint32, error) {
	// Notify(app_name, replaces_id, app_icon, summary, body, actions, hints, expire_timeout)
	out, err := busctlCall(ctx, "Notify", "susssasa{sv}i",
		appName,
		strconv.FormatUint(uint64(replaceID), 10),
		"",
		summary,
		"",
		"0",
		"0",
		strconv.Itoa(timeoutMS),
	)
	if err != nil {
		return 0, fmt.Errorf("desktop notify failed: %w", err)
	}
	return parseNotifyReply(out)
}

// desktopDismiss closes the notification with id.
func desktopDismiss(ctx context.Context, id uint32) error {
	if _, err := busctlCall(ctx, "CloseNotification", "u", strconv.FormatUint(uint64(id), 10)); err != nil {
		return fmt.Errorf("desktop dismiss failed: %w", err)
	}
	return nil
}

func busctlCall(ctx context.Context, method string, signature string, args ...string) (string, error) {
	argv := append([]string{"--user", "call", notifyService, notifyPath, notifyInterface, method, signature}, args...)
	out, err := exec.CommandContext(ctx, "busctl", argv...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed == "" {
			return "", err
		}
		return "", fmt.Errorf("%w (%s)", err, trimmed)
	}
	return trimmed, nil
}

// parseNotifyReply decodes busctl's "u <id>" reply.
func parseNotifyReply(reply string) (uint32, error) {
	kind, value, ok := strings.Cut(strings.TrimSpace(reply), " ")
	if !ok || kind != "u" {
		return 0, fmt.Errorf("desktop notify invalid response: %q", reply)
	}
	id, err := strconv.ParseUint(strings.TrimSpace(value), 10, 32)
	if err != nil {
		return 0, fmt.Errorf("desktop notify parse id %q: %w", value, err)
	}
	return uint32(id), nil
}
