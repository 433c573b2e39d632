// Package launch implements C10, the launch adapter: it normalises argv/env
// into an immutable launchreq.LaunchRequest and dispatches to whichever
// platform realisation (C8 darwin, C9 linux) the build target selects.
package launch

import (
	"errors"
	"io"
	"os"
	"strings"

	"github.com/zafnz/remapper/internal/cliutil"
	"github.com/zafnz/remapper/internal/debuglog"
	"github.com/zafnz/remapper/internal/launchreq"
)

// ExitUsageError is returned for argument errors (spec.md §6).
const ExitUsageError = 1

// ExitPreExecFailure is returned for any failure that occurs before the
// target command is exec'd (spec.md §6's exit-code contract). A launch that
// actually reaches the target program instead returns that program's own
// exit status, which happens automatically: on success the realisation
// replaces this process image via exec and never returns here.
const ExitPreExecFailure = 127

// realize is implemented per build target by adapter_linux.go,
// adapter_darwin.go, or adapter_other.go. On success it does not return:
// the process image has been replaced by the target command. On failure it
// returns the error that prevented that replacement.
var realize func(req *launchreq.LaunchRequest, env map[string]string, stderr io.Writer, debug *debuglog.Logger) error

// continueChild resumes a platform-specific re-exec'd helper process
// (currently only used by the linux namespace launcher's two-stage
// unshare/bind-mount/exec dance). It is nil on platforms that never re-exec
// themselves; where it is set, Main calls it only when its env-var check
// finds that this process instance is such a helper.
var continueChild func(argv []string, env map[string]string) error

// Run is the full entry point, isolated from global process state so it is
// unit-testable (mirrors the teacher's cmd/agent-sandbox/run.go Run
// signature).
func Run(stdout, stderr io.Writer, argv []string, env map[string]string) int {
	if len(argv) > 0 {
		for _, a := range argv[1:] {
			if a == "--help" || a == "-h" {
				cliutil.PrintUsage(stdout)
				return 0
			}

			if !strings.HasPrefix(a, "-") {
				break // flags end at the first non-flag token
			}
		}
	}

	cwd, err := os.Getwd()
	if err != nil {
		cliutil.Errorf(stderr, "cannot determine working directory: %v", err)
		return ExitUsageError
	}

	req, err := ParseArgs(argv, env, cwd)
	if err != nil {
		cliutil.Errorf(stderr, "%v", err)
		cliutil.PrintUsage(stderr)

		return ExitUsageError
	}

	var debug *debuglog.Logger

	if req.DebugLog != "" {
		f, err := os.Create(req.DebugLog) //nolint:gosec // user-specified debug sink, by design
		if err != nil {
			cliutil.Errorf(stderr, "opening debug log %q: %v", req.DebugLog, err)
			return ExitPreExecFailure
		}

		defer f.Close()

		debug = debuglog.New(f)
		debug.Section("remapper launch")
		debug.Logf("target=%s mappings=%d command=%v", req.Target, len(req.Mappings), req.Command)
	}

	if realize == nil {
		cliutil.Errorf(stderr, "remapper is not supported on this platform")
		return ExitPreExecFailure
	}

	err = realize(req, env, stderr, debug)
	if err == nil {
		// Unreachable in production (a successful realize replaced the
		// process image), but keeps Run well-defined for tests that inject
		// a stub realize.
		return 0
	}

	switch {
	case errors.Is(err, launchreq.ErrArgument):
		cliutil.Errorf(stderr, "%v", err)
		cliutil.PrintUsage(stderr)

		return ExitUsageError
	default:
		cliutil.Errorf(stderr, "%v", err)
		return ExitPreExecFailure
	}
}

// Main is the production entry point called by cmd/remapper.
func Main() int {
	env := environToMap(os.Environ())

	// A re-exec'd namespace-child helper never goes through the public CLI
	// surface at all: its argv[1:] *is* the final command to exec, and
	// _RMP_NS_CHILD is plumbing private to internal/nslauncher, never set
	// by a real user invocation.
	if env["_RMP_NS_CHILD"] == "1" && continueChild != nil {
		if err := continueChild(os.Args, env); err != nil {
			cliutil.Errorf(os.Stderr, "%v", err)
			return ExitPreExecFailure
		}
	}

	return Run(os.Stdout, os.Stderr, os.Args, env)
}

func environToMap(environ []string) map[string]string {
	m := make(map[string]string, len(environ))

	for _, kv := range environ {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}

	return m
}
