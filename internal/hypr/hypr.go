// Package hypr wraps the hyprctl commands used for notifications, focus
// queries and paste dispatch.
package hypr

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
)

func runHyprctl(ctx context.Context, args ...string) error {
	_, err := runHyprctlOutput(ctx, args...)
	return err
}

func runHyprctlOutput(ctx context.Context, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, "hyprctl", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		trimmed := strings.TrimSpace(string(out))
		if trimmed == "" {
			return nil, fmt.Errorf("hyprctl %s failed: %w", strings.Join(args, " "), err)
		}
		return nil, fmt.Errorf("hyprctl %s failed: %w (%s)", strings.Join(args, " "), err, trimmed)
	}
	return out, nil
}
