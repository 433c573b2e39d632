// Package cliutil holds the small set of colored-diagnostic helpers shared
// by internal/launch and internal/darwinlauncher.
package cliutil

import (
	"fmt"
	"io"

	"github.com/fatih/color"
)

// usageText is printed on argument errors and for --help.
const usageText = `usage:
  remapper [--debug-log <file>] <target-dir> <mapping>... -- <cmd> [cmd-args...]
  remapper <target-dir> <mapping> <cmd> [cmd-args...]   (single-mapping shortcut)

  target-dir   directory under which redirected paths are reparented
  mapping      '<dir>/<glob>', e.g. '/home/user/.claude*'
  --           mandatory when more than one mapping is given

environment:
  RMP_CONFIG     config/cache directory (default ~/.remapper)
  RMP_CACHE      darwin trampoline cache directory (default $RMP_CONFIG/cache)
  RMP_DEBUG_LOG  enable debug logging to the named file
`

// PrintUsage writes the usage banner to w.
func PrintUsage(w io.Writer) {
	_, _ = fmt.Fprint(w, usageText)
}

// Errorf prints a red "error:" prefixed diagnostic to w. Coloring is
// automatically suppressed when standard output is not a terminal
// (fatih/color's own check, made once at package init); w itself is not
// examined.
func Errorf(w io.Writer, format string, args ...any) {
	red := color.New(color.FgRed, color.Bold)
	_, _ = red.Fprint(w, "error: ")
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}

// Warnf prints a yellow "warning:" prefixed diagnostic to w.
func Warnf(w io.Writer, format string, args ...any) {
	yellow := color.New(color.FgYellow, color.Bold)
	_, _ = yellow.Fprint(w, "warning: ")
	_, _ = fmt.Fprintf(w, format+"\n", args...)
}
