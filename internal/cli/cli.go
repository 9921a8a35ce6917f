// Package cli parses earshot command-line arguments.
package cli

import (
	"errors"
	"fmt"
	"strings"
)

// Command is a top-level earshot subcommand.
type Command string

const (
	CommandToggle     Command = "toggle"
	CommandFinish     Command = "finish"
	CommandCancel     Command = "cancel"
	CommandStatus     Command = "status"
	CommandTranscript Command = "transcript"
	CommandDevices    Command = "devices"
	CommandDoctor     Command = "doctor"
	CommandVersion    Command = "version"
	CommandHelp       Command = "help"
)

// commands is ordered as rendered in help.
var commands = []struct {
	name    Command
	summary string
}{
	{CommandToggle, "Start listening, or finish and commit when already listening"},
	{CommandFinish, "Finish the active session and commit its transcript"},
	{CommandCancel, "Cancel the active session and discard its transcript"},
	{CommandStatus, "Print the current session state"},
	{CommandTranscript, "Print the transcript recognized so far"},
	{CommandDevices, "List available input devices"},
	{CommandDoctor, "Run configuration and environment checks"},
	{CommandVersion, "Print version information"},
	{CommandHelp, "Show this help"},
}

func lookupCommand(name string) (Command, bool) {
	for _, c := range commands {
		if string(c.name) == name {
			return c.name, true
		}
	}
	return "", false
}

// Parsed is the result of Parse.
type Parsed struct {
	Command    Command
	ConfigPath string
	ShowHelp   bool
}

var errConfigPath = errors.New("--config requires a path")

// Parse reads flags followed by at most one command. Flags after the
// command are rejected.
func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		flag, value, hasValue := strings.Cut(arg, "=")

		switch {
		case arg == "-h" || arg == "--help":
			parsed.Command, parsed.ShowHelp = CommandHelp, true
		case arg == "--version":
			parsed.Command, parsed.ShowHelp = CommandVersion, false
		case flag == "--config":
			if !hasValue {
				if i+1 >= len(args) {
					return Parsed{}, errConfigPath
				}
				i++
				value = args[i]
			}
			if value == "" {
				return Parsed{}, errConfigPath
			}
			parsed.ConfigPath = value
		case strings.HasPrefix(arg, "-"):
			return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
		default:
			cmd, ok := lookupCommand(arg)
			if !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}
			if i != len(args)-1 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
			parsed.Command, parsed.ShowHelp = cmd, cmd == CommandHelp
		}
	}

	return parsed, nil
}

// HelpText renders usage for binaryName.
func HelpText(binaryName string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Usage:\n  %s [--config PATH] <command>\n\nCommands:\n", binaryName)
	for _, c := range commands {
		fmt.Fprintf(&b, "  %-11s %s\n", c.name, c.summary)
	}
	fmt.Fprintf(&b, `
Flags:
  --config PATH   Config file path (default: $XDG_CONFIG_HOME/%s/config.jsonc)
  -h, --help      Show help
  --version       Show version
`, binaryName)
	return b.String()
}
