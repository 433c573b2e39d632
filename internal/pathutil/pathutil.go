// Package pathutil provides the small set of filesystem helpers shared by
// every launch realisation: C2 of the remapper design.
package pathutil

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"strings"
)

// ErrNoHome is returned when neither $HOME nor the user database yields a
// usable home directory.
var ErrNoHome = errors.New("pathutil: cannot determine home directory")

// HomeDir resolves the caller's home directory, preferring the environment
// variable and falling back to the user database.
func HomeDir(env map[string]string) (string, error) {
	if h := env["HOME"]; h != "" {
		return h, nil
	}

	u, err := user.Current()
	if err == nil && u.HomeDir != "" {
		return u.HomeDir, nil
	}

	return "", ErrNoHome
}

// ExpandTilde expands a leading "~" or "~/..." using home. Any other use of
// "~" (e.g. "~otheruser/...") is left untouched — ~user expansion is an
// explicit non-goal.
func ExpandTilde(p, home string) string {
	if p == "~" {
		return home
	}

	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}

	return p
}

// Absolutise joins p against cwd when p is not already absolute.
func Absolutise(p, cwd string) string {
	if filepath.IsAbs(p) {
		return filepath.Clean(p)
	}

	return filepath.Clean(filepath.Join(cwd, p))
}

// MkdirAll creates dir and every missing ancestor, component by component,
// ignoring "already exists" at each step. Unlike os.MkdirAll it tolerates a
// differently-permissioned existing ancestor (spec.md §4.2: "ignoring
// already-exists at each step").
func MkdirAll(dir string, perm os.FileMode) error {
	dir = filepath.Clean(dir)
	if dir == "/" || dir == "." {
		return nil
	}

	parent := filepath.Dir(dir)
	if parent != dir {
		if err := MkdirAll(parent, perm); err != nil {
			return err
		}
	}

	err := os.Mkdir(dir, perm)
	if err == nil || errors.Is(err, os.ErrExist) {
		return nil
	}

	return fmt.Errorf("pathutil: mkdir %q: %w", dir, err)
}

// LookPath resolves prog to an executable path: if prog contains a '/' it is
// returned as-is (the caller already named a specific file); otherwise the
// colon-separated pathEnv is walked, returning the first entry whose
// joined path is executable.
func LookPath(prog, pathEnv string) (string, error) {
	if strings.ContainsRune(prog, '/') {
		return prog, nil
	}

	for _, dir := range strings.Split(pathEnv, ":") {
		if dir == "" {
			continue
		}

		candidate := filepath.Join(dir, prog)

		info, err := os.Stat(candidate)
		if err != nil {
			continue
		}

		if info.Mode().IsRegular() && info.Mode()&0o111 != 0 {
			return candidate, nil
		}
	}

	return "", fmt.Errorf("pathutil: %q: %w", prog, exec.ErrNotFound)
}

// ErrSpawnFailure wraps an underlying fork/pipe failure from RunPiped.
var ErrSpawnFailure = errors.New("pathutil: spawn failure")

// RunPiped runs argv[0] with argv[1:], never through a shell, capturing its
// combined stdout+stderr. It is the one place every signer/probe invocation
// goes through (spec.md §4.2's "safe pipe-subprocess").
func RunPiped(argv []string) (combinedOutput []byte, exitCode int, err error) {
	if len(argv) == 0 {
		return nil, -1, fmt.Errorf("%w: empty argv", ErrSpawnFailure)
	}

	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // argv, never a shell string

	var buf bytes.Buffer

	cmd.Stdout = &buf
	cmd.Stderr = &buf

	runErr := cmd.Run()
	if runErr == nil {
		return buf.Bytes(), 0, nil
	}

	var exitErr *exec.ExitError
	if errors.As(runErr, &exitErr) {
		return buf.Bytes(), exitErr.ExitCode(), nil
	}

	return buf.Bytes(), -1, fmt.Errorf("%w: %v", ErrSpawnFailure, runErr)
}
