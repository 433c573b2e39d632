package launch

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"

	"github.com/zafnz/remapper/internal/launchreq"
	"github.com/zafnz/remapper/internal/mapping"
	"github.com/zafnz/remapper/internal/pathutil"
)

// progName is the name reported in usage/flag-parse errors.
const progName = "remapper"

// ParseArgs normalises argv (argv[0] is the program name, as returned by
// os.Args) and env into an immutable LaunchRequest.
//
// CLI surface (spec.md §6):
//
//	remapper [--debug-log <file>] <target-dir> <mapping>... -- <cmd> [cmd-args...]
//	remapper <target-dir> <mapping> <cmd> [cmd-args...]   (single-mapping shortcut)
//
// Flags must precede the first non-flag token. The "--" separator is
// mandatory whenever more than one mapping is supplied; with exactly one
// mapping it may be omitted (the shortcut form).
func ParseArgs(argv []string, env map[string]string, cwd string) (*launchreq.LaunchRequest, error) {
	flags := pflag.NewFlagSet(progName, pflag.ContinueOnError)
	flags.SetInterspersed(false)
	flags.Usage = func() {}
	flags.SetOutput(new(strings.Builder)) // suppress pflag's own error printing

	debugLog := flags.String("debug-log", "", "enable debug logging to the named file")

	if len(argv) > 0 {
		argv = argv[1:]
	}

	if err := flags.Parse(argv); err != nil {
		return nil, fmt.Errorf("%w: %v", launchreq.ErrArgument, err)
	}

	rest := flags.Args()

	target, mappingsRaw, command, err := splitPositional(rest)
	if err != nil {
		return nil, err
	}

	home, err := pathutil.HomeDir(env)
	if err != nil {
		home = "" // tilde-expansion will simply fail to expand; HOME is tolerated missing
	}

	mappings, err := mapping.ParseAll(mappingsRaw, home, cwd)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", launchreq.ErrArgument, err)
	}

	// The mappings travel to the darwin interposer joined with ':' in
	// RMP_MAPPINGS; that joined string is capped at 64 KiB.
	const maxMappingsString = 64 * 1024

	joinedLen := 0
	for _, m := range mappings {
		joinedLen += len(m.String()) + 1
	}

	if joinedLen-1 > maxMappingsString {
		return nil, fmt.Errorf("%w: mappings too long (%d bytes, max %d)", launchreq.ErrArgument, joinedLen-1, maxMappingsString)
	}

	targetAbs := pathutil.Absolutise(pathutil.ExpandTilde(target, home), cwd)
	if !strings.HasSuffix(targetAbs, "/") {
		targetAbs += "/"
	}

	debugPath := *debugLog
	if debugPath == "" {
		debugPath = env["RMP_DEBUG_LOG"]
	}

	return &launchreq.LaunchRequest{
		Target:   targetAbs,
		Mappings: mappings,
		Command:  command,
		DebugLog: debugPath,
	}, nil
}

// splitPositional splits the non-flag arguments into target dir, raw
// mappings, and command argv, per the two accepted forms documented on
// ParseArgs.
func splitPositional(rest []string) (target string, mappingsRaw, command []string, err error) {
	if len(rest) < 3 {
		return "", nil, nil, fmt.Errorf("%w: expected <target-dir> <mapping>... -- <cmd>...", launchreq.ErrArgument)
	}

	target = rest[0]
	if strings.HasPrefix(target, "-") {
		return "", nil, nil, fmt.Errorf("%w: missing target directory", launchreq.ErrArgument)
	}

	sepIdx := -1

	for i, a := range rest[1:] {
		if a == "--" {
			sepIdx = i + 1
			break
		}
	}

	if sepIdx == -1 {
		// Single-mapping shortcut: rest[1] is the one mapping, rest[2:] is
		// the command.
		mappingsRaw = rest[1:2]
		command = rest[2:]

		if len(command) == 0 {
			return "", nil, nil, fmt.Errorf("%w: missing command", launchreq.ErrArgument)
		}

		return target, mappingsRaw, command, nil
	}

	mappingsRaw = rest[1:sepIdx]
	command = rest[sepIdx+1:]

	if len(mappingsRaw) == 0 {
		return "", nil, nil, fmt.Errorf("%w: missing mapping", launchreq.ErrArgument)
	}

	if len(command) == 0 {
		return "", nil, nil, fmt.Errorf("%w: missing command", launchreq.ErrArgument)
	}

	return target, mappingsRaw, command, nil
}
