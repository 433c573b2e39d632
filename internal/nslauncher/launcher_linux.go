//go:build linux

// Package nslauncher implements C9, the Linux namespace launcher: it
// glob-expands mappings against the real filesystem, scaffolds the target
// directory, enters a fresh unprivileged user+mount namespace, bind-mounts
// each matched path, and execs the command.
//
// Because an unprivileged CLONE_NEWUSER cannot be unshared live inside an
// already-multithreaded process (the Go runtime always is one), the
// namespace is instead established at process-creation time via
// os/exec.Cmd's SysProcAttr.Cloneflags/UidMappings/GidMappings, on a re-exec
// of this same binary through /proc/self/exe. That re-exec'd helper
// ("the namespace child") starts single-threaded inside the already-created
// namespaces, performs the bind mounts itself (see ContinueChild), and
// finally execs the real target in place — a variant of the technique used
// by container runtimes (runc's "init" re-exec) applied to a much smaller
// problem.
package nslauncher

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/zafnz/remapper/internal/debuglog"
	"github.com/zafnz/remapper/internal/launchreq"
	"github.com/zafnz/remapper/internal/mapping"
	"github.com/zafnz/remapper/internal/pathutil"
)

// MaxMountEntries is the hard cap on bind-mount entries per launch
// (spec.md §3).
const MaxMountEntries = 256

// fieldSep separates fields within one serialized mount entry; entrySep
// separates entries. Both are control characters that cannot occur in a
// valid path, so no escaping is needed.
const (
	fieldSep = "\x1f"
	entrySep = "\x1e"
)

// entryKind distinguishes a directory bind mount from a file bind mount.
type entryKind string

const (
	kindDir  entryKind = "dir"
	kindFile entryKind = "file"
)

// mountEntry is C9's MountEntry (spec.md §3): a redirected path pending
// bind-mount.
type mountEntry struct {
	original string // absolute path that exists; bind-mount destination
	target   string // TargetDir + "/" + basename(original); bind-mount source
	kind     entryKind
}

func (e mountEntry) serialize() string {
	return e.original + fieldSep + e.target + fieldSep + string(e.kind)
}

func parseEntry(s string) (mountEntry, error) {
	parts := strings.Split(s, fieldSep)
	if len(parts) != 3 {
		return mountEntry{}, fmt.Errorf("nslauncher: malformed mount entry %q", s)
	}

	return mountEntry{original: parts[0], target: parts[1], kind: entryKind(parts[2])}, nil
}

// Launch is the realize hook internal/launch dispatches to on linux.
func Launch(req *launchreq.LaunchRequest, env map[string]string, stderr io.Writer, debug *debuglog.Logger) error {
	debug.Section("namespace launcher (linux)")

	entries, err := enumerate(req.Target, req.Mappings, debug)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		debug.Logf("no mapping matched any existing path; launching without remapping")
		fmt.Fprintf(stderr, "remapper: warning: no mapping matched an existing path; running %q unmodified\n", req.Command[0])

		return execUnmodified(req.Command, env)
	}

	for _, e := range entries {
		if err := scaffoldTarget(e); err != nil {
			return fmt.Errorf("%w: scaffolding %s: %v", launchreq.ErrIO, e.target, err)
		}
	}

	return reexecIntoNamespace(req, entries, env, debug)
}

// enumerate implements spec.md §4.9 step 1: for each mapping, list its
// parent directory and keep entries whose name glob-matches.
func enumerate(target string, mappings []mapping.Mapping, debug *debuglog.Logger) ([]mountEntry, error) {
	var entries []mountEntry

	for _, m := range mappings {
		dirEntries, err := os.ReadDir(m.ParentDir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				debug.Bulletf("parent dir %s does not exist, skipping mapping %s", m.ParentDir, m)
				continue
			}

			return nil, fmt.Errorf("%w: reading %s: %v", launchreq.ErrIO, m.ParentDir, err)
		}

		for _, de := range dirEntries {
			name := de.Name()
			if name == "." || name == ".." {
				continue
			}

			ok, err := filepath.Match(m.Glob, name)
			if err != nil || !ok {
				continue
			}

			original := m.ParentDir + name

			info, err := os.Stat(original)
			if err != nil {
				continue
			}

			kind := kindFile
			if info.IsDir() {
				kind = kindDir
			}

			entries = append(entries, mountEntry{
				original: original,
				target:   strings.TrimSuffix(target, "/") + "/" + name,
				kind:     kind,
			})

			debug.Bulletf("matched %s -> %s (%s)", original, target, kind)

			if len(entries) > MaxMountEntries {
				return nil, fmt.Errorf("%w: more than %d mount entries", launchreq.ErrArgument, MaxMountEntries)
			}
		}
	}

	return entries, nil
}

// scaffoldTarget implements spec.md §4.9 step 2: ensure e.target exists.
func scaffoldTarget(e mountEntry) error {
	return ensureMountPoint(e.target, e.kind)
}

// ensureMountPoint creates path (and its parents) if missing, as a
// directory or an empty regular file depending on kind. It is used both for
// target scaffolding (step 2) and for the defensive existence check on the
// original before bind-mounting (step 4).
func ensureMountPoint(path string, kind entryKind) error {
	if kind == kindDir {
		return pathutil.MkdirAll(path, 0o755)
	}

	if err := pathutil.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}

	return f.Close()
}

// execUnmodified execs command with no remapping at all (enumeration found
// nothing to redirect).
func execUnmodified(command []string, env map[string]string) error {
	resolved, err := pathutil.LookPath(command[0], env["PATH"])
	if err != nil {
		return fmt.Errorf("%w: %v", launchreq.ErrResolution, err)
	}

	return doExec(resolved, command, mapToEnvSlice(env))
}

// reexecIntoNamespace implements spec.md §4.9 steps 3-5: re-exec this
// binary via /proc/self/exe inside a fresh unprivileged user+mount
// namespace, passing the entries and the real command through so
// ContinueChild can finish the job.
func reexecIntoNamespace(req *launchreq.LaunchRequest, entries []mountEntry, env map[string]string, debug *debuglog.Logger) error {
	serialized := make([]string, len(entries))
	for i, e := range entries {
		serialized[i] = e.serialize()
	}

	childEnv := make(map[string]string, len(env)+2)

	for k, v := range env {
		childEnv[k] = v
	}

	childEnv["_RMP_NS_CHILD"] = "1"
	childEnv["_RMP_NS_ENTRIES"] = strings.Join(serialized, entrySep)

	cmd := exec.Command("/proc/self/exe", req.Command...)
	cmd.Env = mapToEnvSlice(childEnv)
	cmd.Stdin = os.Stdin
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr

	uid := os.Getuid()
	gid := os.Getgid()

	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags:                 unix.CLONE_NEWUSER | unix.CLONE_NEWNS,
		UidMappings:                []syscall.SysProcIDMap{{ContainerID: 0, HostID: uid, Size: 1}},
		GidMappings:                []syscall.SysProcIDMap{{ContainerID: 0, HostID: gid, Size: 1}},
		GidMappingsEnableSetgroups: false,
	}

	debug.Logf("entering user+mount namespace: uid_map=0 %d 1, gid_map=0 %d 1", uid, gid)

	err := cmd.Run()
	if err == nil {
		os.Exit(0)
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		os.Exit(exitErr.ExitCode())
	}

	if errors.Is(err, syscall.EPERM) {
		return fmt.Errorf("%w: unshare(CLONE_NEWUSER) failed with EPERM; unprivileged user namespaces may be disabled "+
			"(check /proc/sys/kernel/unprivileged_userns_clone or equivalent sysctl): %v", launchreq.ErrNamespace, err)
	}

	return fmt.Errorf("%w: entering namespace: %v", launchreq.ErrNamespace, err)
}

// ContinueChild resumes execution as the re-exec'd namespace child: it is
// already inside the fresh user+mount namespace established by the parent's
// SysProcAttr. argv is os.Args as the parent constructed it
// ("/proc/self/exe", command...); argv[1:] is the real command to exec once
// the bind mounts are in place.
func ContinueChild(argv []string, env map[string]string) error {
	entries, err := parseEntries(env["_RMP_NS_ENTRIES"])
	if err != nil {
		return fmt.Errorf("%w: %v", launchreq.ErrIO, err)
	}

	for _, e := range entries {
		if err := ensureMountPoint(e.original, e.kind); err != nil {
			return fmt.Errorf("%w: ensuring mount point %s: %v", launchreq.ErrNamespace, e.original, err)
		}

		if err := unix.Mount(e.target, e.original, "", unix.MS_BIND|unix.MS_REC, ""); err != nil {
			return fmt.Errorf("%w: bind-mounting %s onto %s: %v", launchreq.ErrNamespace, e.target, e.original, err)
		}
	}

	command := argv[1:]
	if len(command) == 0 {
		return fmt.Errorf("%w: namespace child invoked with no command", launchreq.ErrArgument)
	}

	resolved, err := pathutil.LookPath(command[0], env["PATH"])
	if err != nil {
		return fmt.Errorf("%w: %v", launchreq.ErrResolution, err)
	}

	cleanEnv := make(map[string]string, len(env))

	for k, v := range env {
		if k == "_RMP_NS_CHILD" || k == "_RMP_NS_ENTRIES" {
			continue
		}

		cleanEnv[k] = v
	}

	return doExec(resolved, command, mapToEnvSlice(cleanEnv))
}

func parseEntries(s string) ([]mountEntry, error) {
	if s == "" {
		return nil, nil
	}

	parts := strings.Split(s, entrySep)
	entries := make([]mountEntry, 0, len(parts))

	for _, p := range parts {
		e, err := parseEntry(p)
		if err != nil {
			return nil, err
		}

		entries = append(entries, e)
	}

	return entries, nil
}

// doExec replaces the current process image, per spec.md's "execvp the
// command" (step 5). On success it never returns.
func doExec(resolved string, argv []string, envv []string) error {
	args := append([]string{resolved}, argv[1:]...)

	err := syscall.Exec(resolved, args, envv)
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
