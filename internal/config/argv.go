package config

import (
	"fmt"
	"strings"
	"unicode"
)

// parseArgv splits a command line with shell-like quoting. Single quotes are
// literal, double quotes honor backslash escapes, and an empty quoted word
// yields an empty argument. A line starting with '#' is disabled.
func parseArgv(input string) ([]string, error) {
	input = strings.TrimSpace(input)
	if input == "" || input[0] == '#' {
		return nil, nil
	}

	var (
		argv   []string
		word   strings.Builder
		inWord bool
		quote  rune
	)

	runes := []rune(input)
	for i := 0; i < len(runes); i++ {
		r := runes[i]
		switch quote {
		case '\'':
			if r == '\'' {
				quote = 0
			} else {
				word.WriteRune(r)
			}
			continue
		case '"':
			switch r {
			case '"':
				quote = 0
			case '\\':
				if i+1 >= len(runes) {
					return nil, fmt.Errorf("unterminated escape sequence in command: %q", input)
				}
				i++
				word.WriteRune(runes[i])
			default:
				word.WriteRune(r)
			}
			continue
		}

		switch {
		case unicode.IsSpace(r):
			if inWord {
				argv = append(argv, word.String())
				word.Reset()
				inWord = false
			}
		case r == '\\':
			if i+1 >= len(runes) {
				return nil, fmt.Errorf("unterminated escape sequence in command: %q", input)
			}
			i++
			word.WriteRune(runes[i])
			inWord = true
		case r == '\'' || r == '"':
			quote = r
			inWord = true
		default:
			word.WriteRune(r)
			inWord = true
		}
	}

	if quote != 0 {
		return nil, fmt.Errorf("unterminated quote in command: %q", input)
	}
	if inWord {
		argv = append(argv, word.String())
	}
	return argv, nil
}

func mustParseArgv(input string) []string {
	argv, err := parseArgv(input)
	if err != nil {
		panic(err)
	}
	return argv
}
