package supervisor

import (
	"fmt"
	"strings"

	"mcpreg/internal/domain"
)

// ParseCommandLine splits a shell-like command line into argv, honoring
// single and double quotes and backslash escapes outside single quotes.
// It never invokes a shell.
func ParseCommandLine(line string) ([]string, error) {
	var (
		args    []string
		current strings.Builder
		inArg   bool
		quote   rune
		escaped bool
	)
	for _, r := range line {
		switch {
		case escaped:
			current.WriteRune(r)
			escaped = false
		case quote == '\'':
			if r == '\'' {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\\':
			escaped = true
			inArg = true
		case quote == '"':
			if r == '"' {
				quote = 0
			} else {
				current.WriteRune(r)
			}
		case r == '\'' || r == '"':
			quote = r
			inArg = true
		case r == ' ' || r == '\t':
			if inArg {
				args = append(args, current.String())
				current.Reset()
				inArg = false
			}
		default:
			current.WriteRune(r)
			inArg = true
		}
	}
	if escaped || quote != 0 {
		return nil, fmt.Errorf("%w: unterminated quote in command line", domain.ErrValidation)
	}
	if inArg {
		args = append(args, current.String())
	}
	return args, nil
}

// BuildCommandLine renders argv as a single line, quoting arguments that
// contain whitespace or quotes. Inverse of ParseCommandLine for display.
func BuildCommandLine(argv []string) string {
	parts := make([]string, len(argv))
	for i, arg := range argv {
		parts[i] = quoteArg(arg)
	}
	return strings.Join(parts, " ")
}

func quoteArg(arg string) string {
	if arg == "" {
		return `""`
	}
	if !strings.ContainsAny(arg, " \t\"'\\") {
		return arg
	}
	escaped := strings.ReplaceAll(arg, `\`, `\\`)
	escaped = strings.ReplaceAll(escaped, `"`, `\"`)
	return `"` + escaped + `"`
}
