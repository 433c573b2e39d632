//go:build darwin

package trampoline

import (
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"
)

func TestLooksLikeMachO(t *testing.T) {
	cases := []struct {
		name string
		b    []byte
		want bool
	}{
		{"magic32 BE", []byte{0xfe, 0xed, 0xfa, 0xce}, true},
		{"magic64 LE", []byte{0xcf, 0xfa, 0xed, 0xfe}, true},
		{"fat BE", []byte{0xca, 0xfe, 0xba, 0xbe}, true},
		{"shell script shebang", []byte("#!/bin"), false},
		{"elf", []byte{0x7f, 'E', 'L', 'F'}, false},
		{"too short", []byte{0xfe, 0xed}, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := looksLikeMachO(tc.b); got != tc.want {
				t.Errorf("looksLikeMachO(%v) = %v, want %v", tc.b, got, tc.want)
			}
		})
	}
}

func TestIsHardened_NonMachOIsNeverHardened(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "script.sh")

	if err := os.WriteFile(p, []byte("#!/bin/sh\necho hi\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := NewCache(filepath.Join(dir, "cache"), nil)

	hardened, err := c.IsHardened(p)
	if err != nil {
		t.Fatalf("IsHardened: %v", err)
	}

	if hardened {
		t.Fatalf("a shell script must never be reported hardened")
	}
}

func TestIsHardened_RejectsNonRegularOrMissing(t *testing.T) {
	dir := t.TempDir()
	c := NewCache(filepath.Join(dir, "cache"), nil)

	if _, err := c.IsHardened(filepath.Join(dir, "nonexistent")); err == nil {
		t.Fatalf("expected error for missing path")
	}

	if _, err := c.IsHardened(dir); err == nil {
		t.Fatalf("expected error for a directory path")
	}
}

func TestIsHardened_MachOWithoutSignerFailsClosed(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "binary")

	if err := os.WriteFile(p, []byte{0xfe, 0xed, 0xfa, 0xce, 0, 0, 0, 0}, 0o755); err != nil {
		t.Fatal(err)
	}

	c := NewCache(filepath.Join(dir, "cache"), nil)

	hardened, err := c.IsHardened(p)
	if err != nil {
		t.Fatalf("IsHardened: %v", err)
	}

	if !hardened {
		t.Fatalf("a Mach-O binary with no resolvable signer must be assumed hardened (fail-closed)")
	}
}

func TestResolveHardened_NotHardenedReturnsInputUnchanged(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "script.sh")

	if err := os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := NewCache(filepath.Join(dir, "cache"), nil)

	got, substituted, err := c.ResolveHardened(p)
	if err != nil {
		t.Fatalf("ResolveHardened: %v", err)
	}

	if substituted || got != p {
		t.Fatalf("ResolveHardened(%s) = (%s, %v), want (%s, false)", p, got, substituted, p)
	}
}

func TestValid_MismatchedMetaIsInvalid(t *testing.T) {
	dir := t.TempDir()

	original := filepath.Join(dir, "orig")
	if err := os.WriteFile(original, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	cached := filepath.Join(dir, "cached")
	if err := os.WriteFile(cached, []byte("hello"), 0o755); err != nil {
		t.Fatal(err)
	}

	// Stale meta: wrong size.
	meta := strconv.FormatInt(time.Now().Unix(), 10) + " 999\n"
	if err := os.WriteFile(cached+".meta", []byte(meta), 0o644); err != nil {
		t.Fatal(err)
	}

	if valid(cached, original) {
		t.Fatalf("expected invalid cache entry with mismatched size")
	}
}

func TestValid_MissingCachedIsInvalid(t *testing.T) {
	dir := t.TempDir()

	original := filepath.Join(dir, "orig")
	if err := os.WriteFile(original, []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}

	if valid(filepath.Join(dir, "cached-nonexistent"), original) {
		t.Fatalf("expected invalid when cached file is absent")
	}
}

func TestResolveHardened_ReentrancyGuard(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "script.sh")

	if err := os.WriteFile(p, []byte("#!/bin/sh\n"), 0o755); err != nil {
		t.Fatal(err)
	}

	c := NewCache(filepath.Join(dir, "cache"), nil)
	c.resolving = 1 // simulate an in-progress resolve on this goroutine's caller

	got, substituted, err := c.ResolveHardened(p)
	if err != nil {
		t.Fatalf("ResolveHardened during re-entrancy: %v", err)
	}

	if substituted || got != p {
		t.Fatalf("re-entrant ResolveHardened must return input untransformed, got (%s, %v)", got, substituted)
	}

	c.resolving = 0
}
