// Package transcript accumulates recognized fragments and formats the result.
package transcript

import "strings"

// Accumulator merges final and interim fragments into one ordered transcript.
// It is owned by a single session and is not safe for concurrent use.
type Accumulator struct {
	finalized []string
	interim   string
}

// AppendFinal records a settled fragment after every earlier one.
func (a *Accumulator) AppendFinal(segment string) {
	a.finalized = append(a.finalized, segment)
}

// SetInterim replaces the provisional fragment. An empty segment clears it.
func (a *Accumulator) SetInterim(segment string) {
	a.interim = segment
}

func (a *Accumulator) ClearInterim() {
	a.interim = ""
}

// Snapshot composes the finalized fragments and the pending interim.
func (a *Accumulator) Snapshot() string {
	return strings.TrimSpace(strings.Join(a.finalized, " ") + " " + a.interim)
}

// Reset drops every fragment.
func (a *Accumulator) Reset() {
	a.finalized = nil
	a.interim = ""
}

// Finalized returns a copy of the settled fragments in arrival order.
func (a *Accumulator) Finalized() []string {
	out := make([]string, len(a.finalized))
	copy(out, a.finalized)
	return out
}

func (a *Accumulator) Interim() string {
	return a.interim
}

func (a *Accumulator) Len() int {
	return len(a.finalized)
}
