//go:build darwin

// Package darwinlauncher implements C8: the Darwin realisation of the
// launch adapter. It sequences C3 (extract), the signer, C2 (path
// resolution), C5 (shebang), and C4 (trampoline cache) and finally execs
// the target with the dyld-injection environment set.
package darwinlauncher

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/zafnz/remapper/internal/cliutil"
	"github.com/zafnz/remapper/internal/debuglog"
	"github.com/zafnz/remapper/internal/extract"
	"github.com/zafnz/remapper/interpose"
	"github.com/zafnz/remapper/internal/launchreq"
	"github.com/zafnz/remapper/internal/mapping"
	"github.com/zafnz/remapper/internal/pathutil"
	"github.com/zafnz/remapper/internal/shebang"
	"github.com/zafnz/remapper/internal/signer"
	"github.com/zafnz/remapper/internal/trampoline"
)

// dyldInjectionVar is the dyld environment variable the kernel honours for
// library injection, named here rather than inline since it appears both
// in the env map we build and in debug narration.
const dyldInjectionVar = "DYLD_INSERT_LIBRARIES"

// Launch is the realize hook internal/launch dispatches to on darwin.
func Launch(req *launchreq.LaunchRequest, env map[string]string, stderr io.Writer, debug *debuglog.Logger) error {
	debug.Section("darwin launcher")

	home, err := pathutil.HomeDir(env)
	if err != nil {
		return err
	}

	configDir := env["RMP_CONFIG"]
	if configDir == "" {
		configDir = filepath.Join(home, ".remapper")
	}

	cacheDir := env["RMP_CACHE"]
	if cacheDir == "" {
		cacheDir = filepath.Join(configDir, "cache")
	}

	libPath, err := extract.Install(configDir, interpose.Library)
	if err != nil {
		return err
	}

	debug.Logf("interpose library at %s", libPath)

	sc, err := signer.New(configDir, cacheDir, env, debug)
	if err != nil {
		return err
	}

	if err := sc.EnsureEntitlements(); err != nil {
		return err
	}

	cache := trampoline.NewCache(cacheDir, sc)
	resolver := shebang.NewResolver(cache, env["PATH"])

	if len(req.Command) == 0 {
		return fmt.Errorf("%w: no command given", launchreq.ErrArgument)
	}

	target, err := pathutil.LookPath(req.Command[0], env["PATH"])
	if err != nil {
		return fmt.Errorf("%w: %v", launchreq.ErrResolution, err)
	}

	argv := append([]string{target}, req.Command[1:]...)

	rewrittenBinary, rewrittenArgv, rewritten, err := resolver.Resolve(target, argv)
	if err != nil {
		if !errors.Is(err, launchreq.ErrSignerFailure) {
			return err
		}

		cliutil.Warnf(stderr, "re-signing the interpreter of %s failed; interposition may not work: %v", target, err)
	}

	execBinary, execArgv := target, argv
	if rewritten {
		debug.Rewrite(target, rewrittenBinary)
		execBinary, execArgv = rewrittenBinary, rewrittenArgv
	}

	finalBinary := execBinary

	hardened, err := cache.IsHardened(execBinary)
	if err != nil {
		return err
	}

	if hardened {
		cached, _, err := cache.ResolveHardened(execBinary)

		switch {
		case err == nil:
			debug.Rewrite(execBinary, cached)
			finalBinary = cached
			execArgv[0] = cached
		case errors.Is(err, launchreq.ErrSignerFailure):
			cliutil.Warnf(stderr, "re-signing %s failed; interposition may not work: %v", execBinary, err)
		default:
			return err
		}
	}

	mappingsStr := mappingsToString(req.Mappings)

	launchEnv := make(map[string]string, len(env)+6)
	for k, v := range env {
		launchEnv[k] = v
	}

	launchEnv["RMP_TARGET"] = req.Target
	launchEnv["RMP_MAPPINGS"] = mappingsStr
	launchEnv["RMP_CONFIG"] = configDir
	launchEnv["RMP_CACHE"] = cacheDir

	if existing := env[dyldInjectionVar]; existing != "" {
		launchEnv[dyldInjectionVar] = libPath + ":" + existing
	} else {
		launchEnv[dyldInjectionVar] = libPath
	}

	if req.DebugLog != "" {
		launchEnv["RMP_DEBUG_LOG"] = req.DebugLog
	}

	debug.Logf("exec %s %v", finalBinary, execArgv[1:])

	return doExec(finalBinary, execArgv, mapToEnvSlice(launchEnv))
}

func mappingsToString(mappings []mapping.Mapping) string {
	parts := make([]string, len(mappings))
	for i, m := range mappings {
		parts[i] = m.String()
	}

	return strings.Join(parts, ":")
}

func doExec(resolved string, argv []string, envv []string) error {
	err := syscall.Exec(resolved, argv, envv)
	if err != nil {
		return fmt.Errorf("%w: exec %s: %v", launchreq.ErrResolution, resolved, err)
	}

	return nil // unreachable on success
}

func mapToEnvSlice(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}

	return out
}
