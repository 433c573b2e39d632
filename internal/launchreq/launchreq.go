// Package launchreq defines the immutable LaunchRequest value that C10
// hands to exactly one of C8 (darwin) or C9 (linux), and the sentinel error
// kinds both realisations and the adapter report through.
package launchreq

import (
	"errors"

	"github.com/zafnz/remapper/internal/mapping"
)

// Sentinel error kinds, matching the abstract error taxonomy of spec.md §7.
// Callers match them with errors.Is.
var (
	// ErrArgument covers malformed CLI input: missing command, missing
	// mappings, unknown flags, too many mappings.
	ErrArgument = errors.New("remapper: argument error")

	// ErrResolution covers a failure to locate the home directory, the
	// signer, or the target binary.
	ErrResolution = errors.New("remapper: resolution error")

	// ErrIO covers a file read/write failure during library extraction,
	// cache creation, or namespace-config writes.
	ErrIO = errors.New("remapper: io error")

	// ErrSignerFailure covers a non-zero signer exit; the caller is expected
	// to fall back to the unmodified binary, not abort the launch.
	ErrSignerFailure = errors.New("remapper: signer failure")

	// ErrNamespace covers unshare/uid-gid-map/bind-mount failures.
	ErrNamespace = errors.New("remapper: namespace error")
)

// LaunchRequest is produced once by the launch adapter (C10) and consumed
// once by whichever realisation (C8 or C9) the build target selects.
//
// It is immutable for the lifetime of the launch: neither realisation
// mutates it, and it is never reused across launches.
type LaunchRequest struct {
	// Target is the absolute target directory (spec.md §3 TargetDir),
	// always ending in '/'.
	Target string

	// Mappings is the ordered set of parsed redirection rules.
	Mappings []mapping.Mapping

	// Command is the argv of the program to launch; Command[0] is resolved
	// relative to PATH by the realisation, not here.
	Command []string

	// DebugLog is the optional path debug narration is written to. Empty
	// means debug logging is disabled.
	DebugLog string
}
