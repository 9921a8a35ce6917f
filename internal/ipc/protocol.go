// Package ipc carries owner-session commands over a unix socket as
// newline-delimited JSON.
package ipc

import "slices"

const (
	CommandStatus     = "status"
	CommandToggle     = "toggle"
	CommandFinish     = "finish"
	CommandCancel     = "cancel"
	CommandTranscript = "transcript"
)

// Commands lists every command an owner session serves.
var Commands = []string{CommandStatus, CommandToggle, CommandFinish, CommandCancel, CommandTranscript}

// KnownCommand reports whether name is served by an owner session.
func KnownCommand(name string) bool {
	return slices.Contains(Commands, name)
}

type Request struct {
	Command string `json:"command"`
}

type Response struct {
	OK         bool   `json:"ok"`
	State      string `json:"state,omitempty"`
	Message    string `json:"message,omitempty"`
	Error      string `json:"error,omitempty"`
	SessionID  string `json:"session_id,omitempty"`
	Transcript string `json:"transcript,omitempty"`
	Restarts   int    `json:"restarts,omitempty"`
}
