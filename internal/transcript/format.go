package transcript

import "strings"

// Options controls output formatting of a materialized transcript.
type Options struct {
	TrailingSpace bool
}

// Format collapses whitespace runs and applies opts.
func Format(text string, opts Options) string {
	normalized := strings.Join(strings.Fields(text), " ")
	if normalized == "" {
		return ""
	}
	if opts.TrailingSpace {
		return normalized + " "
	}
	return normalized
}
