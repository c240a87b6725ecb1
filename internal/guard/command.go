package guard

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// ErrCommandBlocked marks a raw command that failed read-only screening and
// must not be executed. Blocking is fatal to the one tool call, never to
// the execution.
var ErrCommandBlocked = errors.New("command blocked")

// metacharacters whose presence means the raw string is trying to smuggle
// shell syntax. The argv runs without a shell, so none of these can ever
// be legitimate.
var metacharacters = []string{"\n", ";", "&&", "||", "|", ">", "<", "$(", "`"}

// lsFlags is the fixed flag set ls may carry.
var lsFlags = map[string]bool{
	"-a":               true,
	"-l":               true,
	"-la":              true,
	"-al":              true,
	"--all":            true,
	"--human-readable": true,
	"--color=never":    true,
}

// gitSubcommands holds the read-only git verbs.
var gitSubcommands = map[string]bool{
	"status":    true,
	"diff":      true,
	"show":      true,
	"log":       true,
	"branch":    true,
	"rev-parse": true,
}

// ParseCommand screens raw against the read-only command policy and returns
// the argv to execute without a shell. The head token must be one of pwd,
// ls, cat, rg, or git; pwd takes no arguments, ls accepts only the fixed
// flag set, cat takes no flags, and git is limited to its read-only
// subcommands. Everything else fails with ErrCommandBlocked.
func ParseCommand(raw string) ([]string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: empty command", ErrCommandBlocked)
	}

	for _, meta := range metacharacters {
		if strings.Contains(trimmed, meta) {
			return nil, fmt.Errorf("%w: shell metacharacter %q", ErrCommandBlocked, meta)
		}
	}

	argv, err := shlex.Split(trimmed)
	if err != nil || len(argv) == 0 {
		return nil, fmt.Errorf("%w: unparsable command", ErrCommandBlocked)
	}

	switch argv[0] {
	case "pwd":
		if len(argv) > 1 {
			return nil, fmt.Errorf("%w: pwd takes no arguments", ErrCommandBlocked)
		}
	case "ls":
		for _, arg := range argv[1:] {
			if strings.HasPrefix(arg, "-") && !lsFlags[arg] {
				return nil, fmt.Errorf("%w: ls flag %s not allowed", ErrCommandBlocked, arg)
			}
		}
	case "cat":
		for _, arg := range argv[1:] {
			if strings.HasPrefix(arg, "-") {
				return nil, fmt.Errorf("%w: cat takes no flags", ErrCommandBlocked)
			}
		}
	case "rg":
		// pattern and path arguments are unrestricted
	case "git":
		if len(argv) < 2 || !gitSubcommands[argv[1]] {
			return nil, fmt.Errorf("%w: git subcommand not allowed", ErrCommandBlocked)
		}
	default:
		return nil, fmt.Errorf("%w: %s is not in the read-only allowlist", ErrCommandBlocked, argv[0])
	}

	return argv, nil
}
