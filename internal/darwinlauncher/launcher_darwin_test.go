//go:build darwin

package darwinlauncher

import (
	"testing"

	"github.com/zafnz/remapper/internal/mapping"
)

// Launch itself is not exercised here: it shells out to the signer and
// ultimately execs the target, neither of which is safe or meaningful to
// drive from go test. The pure helpers are tested directly instead, the
// same way the linux side tests enumerate/ensureMountPoint without calling
// Launch/ContinueChild.
func TestMappingsToString(t *testing.T) {
	mappings, err := mapping.ParseAll([]string{"/home/user/.claude*", "/home/user/.config/foo"}, "/home/user", "/")
	if err != nil {
		t.Fatal(err)
	}

	got := mappingsToString(mappings)
	want := "/home/user/.claude*:/home/user/.config/foo"

	if got != want {
		t.Fatalf("mappingsToString = %q, want %q", got, want)
	}
}

func TestMappingsToString_Empty(t *testing.T) {
	if got := mappingsToString(nil); got != "" {
		t.Fatalf("mappingsToString(nil) = %q, want empty", got)
	}
}
