//go:build darwin

// Package shebang implements C5: given a script and its original argv,
// decide whether a trampoline or an env-form interpreter rewrite is needed
// before exec, per spec.md §4.5.
package shebang

import (
	"bytes"
	"os"
	"strings"

	"github.com/zafnz/remapper/internal/pathutil"
	"github.com/zafnz/remapper/internal/trampoline"
)

const (
	maxHeaderBytes = 256
	envInterpreter = "/usr/bin/env"
)

// sipPrefixes are the SIP-protected regions spec.md §4.5 step 5 names;
// an interpreter under one of these always goes through the trampoline
// cache regardless of what the signer reports, since these binaries are
// reliably signed-and-restricted.
var sipPrefixes = []string{"/usr/", "/bin/", "/sbin/"}

// Resolver bundles the dependencies C5 needs from C2 (PATH resolution) and
// C4 (trampoline cache) to decide a rewrite.
type Resolver struct {
	Cache   *trampoline.Cache
	PathEnv string
}

// NewResolver builds a Resolver.
func NewResolver(cache *trampoline.Cache, pathEnv string) *Resolver {
	return &Resolver{Cache: cache, PathEnv: pathEnv}
}

// Resolve implements spec.md §4.5. ok is false when no rewrite applies and
// the caller should exec scriptPath unchanged.
func (r *Resolver) Resolve(scriptPath string, origArgv []string) (newBinary string, newArgv []string, ok bool, err error) {
	f, err := os.Open(scriptPath)
	if err != nil {
		return "", nil, false, nil
	}
	defer f.Close()

	buf := make([]byte, maxHeaderBytes)

	n, _ := f.Read(buf)
	buf = buf[:n]

	if n < 3 || buf[0] != '#' || buf[1] != '!' {
		return "", nil, false, nil
	}

	line := buf[2:]
	if idx := bytes.IndexByte(line, '\n'); idx >= 0 {
		line = line[:idx]
	}

	line = bytes.TrimLeft(line, " \t")

	interpreter, arg := splitInterpreterLine(string(line))

	if interpreter == envInterpreter {
		resolved, lookErr := pathutil.LookPath(firstToken(arg), r.PathEnv)
		if lookErr != nil {
			return "", nil, false, nil
		}

		argv := []string{resolved}
		if rest := restAfterFirstToken(arg); rest != "" {
			argv = append(argv, rest)
		}

		argv = append(argv, scriptPath)
		argv = append(argv, origArgv[1:]...)

		return resolved, argv, true, nil
	}

	needsTrampoline := hasSIPPrefix(interpreter)

	if !needsTrampoline && r.Cache != nil {
		hardened, hErr := r.Cache.IsHardened(interpreter)
		if hErr == nil && hardened {
			needsTrampoline = true
		}
	}

	if !needsTrampoline {
		return "", nil, false, nil
	}

	if r.Cache == nil {
		return "", nil, false, nil
	}

	cached, _, rErr := r.Cache.ResolveHardened(interpreter)
	if rErr != nil {
		return "", nil, false, rErr
	}

	argv := []string{cached}
	if arg != "" {
		argv = append(argv, arg)
	}

	argv = append(argv, scriptPath)
	argv = append(argv, origArgv[1:]...)

	return cached, argv, true, nil
}

func hasSIPPrefix(p string) bool {
	for _, prefix := range sipPrefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}

	return false
}

// splitInterpreterLine splits a trimmed shebang line into the interpreter
// path (up to the first blank) and the remainder (leading-blank-trimmed),
// which is the kernel's "exactly one optional argument" rule.
func splitInterpreterLine(line string) (interpreter, arg string) {
	idx := strings.IndexAny(line, " \t")
	if idx < 0 {
		return line, ""
	}

	return line[:idx], strings.TrimLeft(line[idx:], " \t")
}

// firstToken and restAfterFirstToken split env's own argument on its first
// blank: the first word is the program looked up on PATH and the remainder,
// if any, is passed on as one extra argument. A leading env option such as
// "-S" is taken as the program name, so its PATH lookup fails and no
// rewrite is made.
func firstToken(s string) string {
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s
	}

	return s[:idx]
}

func restAfterFirstToken(s string) string {
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return ""
	}

	return strings.TrimLeft(s[idx:], " \t")
}
