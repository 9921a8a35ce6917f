// Package classify maps recognition engine error codes onto restart dispositions.
package classify

import (
	"fmt"
	"strings"
)

// Disposition is the restart policy attached to a classified error.
type Disposition int

const (
	// Transient errors are absorbed and retried after the restart delay.
	Transient Disposition = iota
	// Fatal errors terminate the session and surface once.
	Fatal
	// Benign errors are dropped without any visible effect.
	Benign
)

func (d Disposition) String() string {
	switch d {
	case Fatal:
		return "fatal"
	case Transient:
		return "transient"
	case Benign:
		return "benign"
	default:
		return fmt.Sprintf("disposition(%d)", int(d))
	}
}

// ParseDisposition accepts the lower-case names produced by String.
func ParseDisposition(raw string) (Disposition, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "fatal":
		return Fatal, nil
	case "transient":
		return Transient, nil
	case "benign":
		return Benign, nil
	default:
		return Transient, fmt.Errorf("unknown disposition %q", raw)
	}
}

type Kind string

const (
	KindPermissionDenied  Kind = "permission-denied"
	KindDeviceUnavailable Kind = "device-unavailable"
	KindNoSpeechTimeout   Kind = "no-speech-timeout"
	KindNetworkFailure    Kind = "network-failure"
	KindAborted           Kind = "aborted"
	KindUnknown           Kind = "unknown"
)

// Error is a classified engine or resource failure.
type Error struct {
	Kind        Kind
	Code        string
	Disposition Disposition
	Err         error
}

func (e Error) Error() string {
	msg := fmt.Sprintf("%s (%s, %s)", e.Kind, e.Code, e.Disposition)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e Error) Unwrap() error { return e.Err }

// Restartable reports whether the session should schedule a restart after
// the engine run that produced this error ends.
func (e Error) Restartable() bool { return e.Disposition == Transient }

type rule struct {
	kind        Kind
	disposition Disposition
}

var defaultRules = map[string]rule{
	"not-allowed":         {kind: KindPermissionDenied, disposition: Fatal},
	"service-not-allowed": {kind: KindPermissionDenied, disposition: Fatal},
	"audio-capture":       {kind: KindDeviceUnavailable, disposition: Fatal},
	"no-speech":           {kind: KindNoSpeechTimeout, disposition: Transient},
	"network":             {kind: KindNetworkFailure, disposition: Transient},
	"aborted":             {kind: KindAborted, disposition: Benign},
}

// Classifier holds the code table. The zero value uses the default table.
type Classifier struct {
	overrides map[string]Disposition
}

// New returns a classifier whose dispositions are replaced per code by overrides.
func New(overrides map[string]Disposition) Classifier {
	if len(overrides) == 0 {
		return Classifier{}
	}
	normalized := make(map[string]Disposition, len(overrides))
	for code, disposition := range overrides {
		normalized[normalizeCode(code)] = disposition
	}
	return Classifier{overrides: normalized}
}

// Classify maps code onto its kind and disposition. Unrecognized codes are
// Unknown and Transient so the session keeps trying.
func (c Classifier) Classify(code string) Error {
	key := normalizeCode(code)
	r, ok := defaultRules[key]
	if !ok {
		r = rule{kind: KindUnknown, disposition: Transient}
	}
	if override, ok := c.overrides[key]; ok && !r.kind.resource() {
		r.disposition = override
	}
	return Error{Kind: r.kind, Code: key, Disposition: r.disposition}
}

// Wrap classifies code and attaches cause.
func (c Classifier) Wrap(code string, cause error) Error {
	classified := c.Classify(code)
	classified.Err = cause
	return classified
}

// Overridable reports whether code may take a configured disposition.
// Permission and device failures are always Fatal.
func Overridable(code string) bool {
	r, ok := defaultRules[normalizeCode(code)]
	return !ok || !r.kind.resource()
}

func (k Kind) resource() bool {
	return k == KindPermissionDenied || k == KindDeviceUnavailable
}

// Classify uses the default table.
func Classify(code string) Error {
	return Classifier{}.Classify(code)
}

func normalizeCode(code string) string {
	return strings.ToLower(strings.TrimSpace(code))
}
