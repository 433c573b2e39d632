//go:build linux

package nslauncher

import (
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"

	"golang.org/x/sys/unix"

	"github.com/zafnz/remapper/internal/debuglog"
	"github.com/zafnz/remapper/internal/mapping"
)

// requireUserNamespaces skips the test when unprivileged user namespaces
// are unavailable (e.g. disabled by sysctl, or the test runner itself is
// already namespaced in a way that forbids nesting), mirroring the
// teacher's RequireBwrap gating idiom.
func requireUserNamespaces(t *testing.T) {
	t.Helper()

	cmd := exec.Command("/bin/true")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags:  unix.CLONE_NEWUSER | unix.CLONE_NEWNS,
		UidMappings: []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getuid(), Size: 1}},
		GidMappings: []syscall.SysProcIDMap{{ContainerID: 0, HostID: os.Getgid(), Size: 1}},
	}

	if err := cmd.Run(); err != nil {
		t.Skipf("unprivileged user namespaces unavailable: %v", err)
	}
}

func TestEntrySerializeRoundTrip(t *testing.T) {
	e := mountEntry{original: "/h/.claude/x", target: "/tgt/.claude/x", kind: kindDir}

	got, err := parseEntry(e.serialize())
	if err != nil {
		t.Fatalf("parseEntry: %v", err)
	}

	if got != e {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, e)
	}
}

func TestParseEntries_Multiple(t *testing.T) {
	entries := []mountEntry{
		{original: "/h/.a", target: "/tgt/.a", kind: kindDir},
		{original: "/h/.b/f", target: "/tgt/.b/f", kind: kindFile},
	}

	var serialized []string
	for _, e := range entries {
		serialized = append(serialized, e.serialize())
	}

	joined := serialized[0] + entrySep + serialized[1]

	got, err := parseEntries(joined)
	if err != nil {
		t.Fatalf("parseEntries: %v", err)
	}

	if len(got) != 2 || got[0] != entries[0] || got[1] != entries[1] {
		t.Fatalf("parseEntries = %+v, want %+v", got, entries)
	}
}

func TestParseEntries_Empty(t *testing.T) {
	got, err := parseEntries("")
	if err != nil || got != nil {
		t.Fatalf("parseEntries(\"\") = %+v, %v, want nil, nil", got, err)
	}
}

func TestEnumerate(t *testing.T) {
	home := t.TempDir()

	for _, dir := range []string{".claude", ".claude-code"} {
		if err := os.MkdirAll(filepath.Join(home, dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	if err := os.WriteFile(filepath.Join(home, ".clauderc"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	if err := os.WriteFile(filepath.Join(home, "unrelated"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}

	mappings, err := mapping.ParseAll([]string{filepath.Join(home, ".claude*")}, home, "/")
	if err != nil {
		t.Fatal(err)
	}

	entries, err := enumerate("/tgt/", mappings, debuglog.New(nil))
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 3 {
		t.Fatalf("enumerate found %d entries, want 3 (.claude, .claude-code, .clauderc): %+v", len(entries), entries)
	}

	var sawDir, sawFile bool

	for _, e := range entries {
		if e.original == filepath.Join(home, ".claude") && e.kind == kindDir {
			sawDir = true
		}

		if e.original == filepath.Join(home, ".clauderc") && e.kind == kindFile {
			sawFile = true
		}

		if e.original == filepath.Join(home, "unrelated") {
			t.Fatalf("enumerate matched a non-glob-matching entry: %+v", e)
		}
	}

	if !sawDir || !sawFile {
		t.Fatalf("missing expected entries: sawDir=%v sawFile=%v, got %+v", sawDir, sawFile, entries)
	}
}

func TestEnumerate_NoMatchesIsEmptyNotError(t *testing.T) {
	home := t.TempDir()

	mappings, err := mapping.ParseAll([]string{filepath.Join(home, ".nonexistent*")}, home, "/")
	if err != nil {
		t.Fatal(err)
	}

	entries, err := enumerate("/tgt/", mappings, debuglog.New(nil))
	if err != nil {
		t.Fatal(err)
	}

	if len(entries) != 0 {
		t.Fatalf("entries = %+v, want empty", entries)
	}
}

// TestUidGidMapping_ZeroToReal verifies testable property #5 (spec.md §8):
// after the kernel applies SysProcAttr's UidMappings/GidMappings, a process
// inside the namespace sees "0 <real-uid> 1" in /proc/self/uid_map. This
// exercises the exact SysProcAttr construction reexecIntoNamespace uses,
// without going through Launch itself (which would os.Exit the test
// process on completion).
func TestUidGidMapping_ZeroToReal(t *testing.T) {
	requireUserNamespaces(t)

	uid := os.Getuid()
	gid := os.Getgid()

	cmd := exec.Command("/bin/cat", "/proc/self/uid_map")
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Cloneflags:                 unix.CLONE_NEWUSER | unix.CLONE_NEWNS,
		UidMappings:                []syscall.SysProcIDMap{{ContainerID: 0, HostID: uid, Size: 1}},
		GidMappings:                []syscall.SysProcIDMap{{ContainerID: 0, HostID: gid, Size: 1}},
		GidMappingsEnableSetgroups: false,
	}

	out, err := cmd.Output()
	if err != nil {
		t.Fatalf("running cat inside namespace: %v", err)
	}

	want := "0 " + strconv.Itoa(uid) + " 1"
	if !strings.Contains(string(out), want) {
		t.Fatalf("uid_map = %q, want it to contain %q", out, want)
	}
}

func TestEnsureMountPoint(t *testing.T) {
	base := t.TempDir()

	dirPath := filepath.Join(base, "a", "b")
	if err := ensureMountPoint(dirPath, kindDir); err != nil {
		t.Fatalf("ensureMountPoint(dir): %v", err)
	}

	info, err := os.Stat(dirPath)
	if err != nil || !info.IsDir() {
		t.Fatalf("expected directory at %s", dirPath)
	}

	filePath := filepath.Join(base, "c", "d", "f")
	if err := ensureMountPoint(filePath, kindFile); err != nil {
		t.Fatalf("ensureMountPoint(file): %v", err)
	}

	info, err = os.Stat(filePath)
	if err != nil || info.IsDir() {
		t.Fatalf("expected regular file at %s", filePath)
	}

	// Idempotent: pre-existing entries are left alone.
	if err := ensureMountPoint(filePath, kindFile); err != nil {
		t.Fatalf("ensureMountPoint(file) second call: %v", err)
	}
}
