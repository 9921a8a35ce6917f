package riva

import (
	"context"
	"errors"
	"strings"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// codeForError maps a gRPC failure onto a recognition error code.
func codeForError(err error) string {
	if errors.Is(err, context.Canceled) {
		return "aborted"
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return "network"
	}
	st, ok := status.FromError(err)
	if !ok {
		return "network"
	}
	switch st.Code() {
	case codes.Unauthenticated, codes.PermissionDenied:
		return "not-allowed"
	case codes.Unavailable, codes.ResourceExhausted:
		return "network"
	case codes.DeadlineExceeded:
		return "no-speech"
	case codes.Canceled:
		return "aborted"
	default:
		return strings.ToLower(st.Code().String())
	}
}
