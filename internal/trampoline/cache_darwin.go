//go:build darwin

// Package trampoline implements C4, the trampoline cache: given an
// absolute path to an executable, decide whether the kernel would honour
// DYLD_INSERT_LIBRARIES on it, and if not, produce a re-signed copy that it
// will honour.
//
// This is the launcher-side (C8) realisation of C4. The injected library
// (C6/C7) needs the identical algorithm but runs inside arbitrary,
// potentially multi-threaded target processes with no call path back into
// this Go binary, so it carries its own from-scratch implementation in
// interpose/interpose.c. The two are kept in lockstep by hand, not by
// sharing code — see DESIGN.md.
package trampoline

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/zafnz/remapper/internal/launchreq"
	"github.com/zafnz/remapper/internal/pathutil"
	"github.com/zafnz/remapper/internal/signer"
)

// Cache is C4's state: the cache directory and the signer used to re-sign
// trampoline copies.
type Cache struct {
	CacheDir string
	Signer   *signer.Context

	resolving int32 // 0 or 1; guards re-entrant resolve_hardened calls
	seq       uint64
}

// NewCache builds a Cache rooted at cacheDir.
func NewCache(cacheDir string, sc *signer.Context) *Cache {
	return &Cache{CacheDir: cacheDir, Signer: sc}
}

// IsHardened implements spec.md §4.4's "Hardened-detection". A missing or
// non-regular P is an error, and a file that is not a Mach-O is never
// hardened. A Mach-O P is hardened when no signer is available or a signer
// probe fails (fail-closed), or when the signer reports the hardened-runtime
// marker and P's own entitlements do not grant dyld-env access.
func (c *Cache) IsHardened(p string) (bool, error) {
	info, err := os.Stat(p)
	if err != nil || !info.Mode().IsRegular() {
		return false, fmt.Errorf("%w: %s is not a regular file", launchreq.ErrArgument, p)
	}

	f, err := os.Open(p)
	if err != nil {
		return false, fmt.Errorf("%w: %v", launchreq.ErrIO, err)
	}
	defer f.Close()

	var head [4]byte

	n, _ := io.ReadFull(f, head[:])
	if n < 4 || !looksLikeMachO(head[:]) {
		// Not a Mach-O we recognise: never a trampoline candidate, and not
		// an error either — callers fall back to exec'ing it as-is.
		return false, nil
	}

	if c.Signer == nil {
		// Fail-closed per spec.md §4.4 step 3.
		return true, nil
	}

	runtime, err := c.Signer.IsHardenedRuntime(p)
	if err != nil {
		return true, nil // signer failure on a probe: fail-closed, not fatal
	}

	if !runtime {
		return false, nil
	}

	allows, err := c.Signer.AllowsDyldEnv(p)
	if err != nil {
		return true, nil
	}

	return !allows, nil
}

// cachedPath derives cached = cache_dir + P (spec.md §4.4 "Cache-path
// derivation"); P is always absolute so the join is a plain concatenation,
// not filepath.Join (which would clean away the leading slash semantics we
// want: cache_dir acts as a chroot-style prefix).
func (c *Cache) cachedPath(p string) string {
	return strings.TrimSuffix(c.CacheDir, "/") + p
}

// valid implements spec.md §4.4 "Validity": cached and its .meta sidecar
// both exist, and the sidecar's recorded (mtime, size) matches the
// original's current (mtime, size).
func valid(cached, original string) bool {
	origInfo, err := os.Stat(original)
	if err != nil {
		return false
	}

	meta, err := os.ReadFile(cached + ".meta")
	if err != nil {
		return false
	}

	fields := strings.Fields(string(meta))
	if len(fields) != 2 {
		return false
	}

	mtime, err1 := strconv.ParseInt(fields[0], 10, 64)
	size, err2 := strconv.ParseInt(fields[1], 10, 64)

	if err1 != nil || err2 != nil {
		return false
	}

	if mtime != origInfo.ModTime().Unix() || size != origInfo.Size() {
		return false
	}

	if _, err := os.Stat(cached); err != nil {
		return false
	}

	return true
}

// ResolveHardened implements spec.md §4.4's "High-level resolve": returns
// (path, wasSubstituted, err). path is either the input p (wasSubstituted
// false) or a freshly valid cached copy (wasSubstituted true).
func (c *Cache) ResolveHardened(p string) (string, bool, error) {
	if !atomic.CompareAndSwapInt32(&c.resolving, 0, 1) {
		// Re-entrant call (e.g. the signer subprocess itself triggers an
		// interposed execve): return the input untransformed rather than
		// recurse.
		return p, false, nil
	}
	defer atomic.StoreInt32(&c.resolving, 0)

	cached := c.cachedPath(p)

	if valid(cached, p) {
		return cached, true, nil
	}

	hardened, err := c.IsHardened(p)
	if err != nil {
		return "", false, err
	}

	if !hardened {
		return p, false, nil
	}

	if err := c.create(p, cached); err != nil {
		return "", false, err
	}

	return cached, true, nil
}

// create implements spec.md §4.4 "Creation".
func (c *Cache) create(original, cached string) error {
	if c.Signer == nil {
		return fmt.Errorf("%w: no signer available to create trampoline for %s", launchreq.ErrSignerFailure, original)
	}

	if err := pathutil.MkdirAll(filepath.Dir(cached), 0o755); err != nil {
		return fmt.Errorf("%w: %v", launchreq.ErrIO, err)
	}

	seq := atomic.AddUint64(&c.seq, 1)
	tmp := cached + ".tmp." + strconv.Itoa(os.Getpid()) + "." + strconv.FormatUint(seq, 10)

	origInfo, err := os.Stat(original)
	if err != nil {
		return fmt.Errorf("%w: %v", launchreq.ErrIO, err)
	}

	if err := copyFile(original, tmp, origInfo.Mode()|0o100); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: copying %s: %v", launchreq.ErrIO, original, err)
	}

	if err := c.Signer.Resign(tmp); err != nil {
		os.Remove(tmp)
		return err
	}

	if err := os.Rename(tmp, cached); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: installing trampoline for %s: %v", launchreq.ErrIO, original, err)
	}

	metaTmp := cached + ".meta.tmp." + strconv.Itoa(os.Getpid()) + "." + strconv.FormatUint(seq, 10)
	meta := strconv.FormatInt(origInfo.ModTime().Unix(), 10) + " " + strconv.FormatInt(origInfo.Size(), 10) + "\n"

	if err := os.WriteFile(metaTmp, []byte(meta), 0o644); err != nil {
		return fmt.Errorf("%w: writing meta sidecar: %v", launchreq.ErrIO, err)
	}

	if err := os.Rename(metaTmp, cached+".meta"); err != nil {
		os.Remove(metaTmp)
		return fmt.Errorf("%w: installing meta sidecar: %v", launchreq.ErrIO, err)
	}

	return nil
}

func copyFile(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}

	return out.Close()
}
