// Package mapping implements the (parent_dir, glob) redirection model: C1 of
// the remapper design. It owns parsing raw CLI mapping strings and matching
// candidate paths against them.
package mapping

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/zafnz/remapper/internal/debuglog"
)

// MaxMappings is the hard cap on mappings per launch (spec.md §3).
const MaxMappings = 64

// maxComponent bounds the next path component: a component of maxComponent
// bytes or more makes the mapping a non-match (spec.md §4.1 step 3).
const maxComponent = 256

// maxRewritten is a PATH_MAX-style bound on a rewritten path. Reaching it
// is not an error: the mapping is skipped and the next one is tried (spec.md
// §4.1 "Failures").
const maxRewritten = 4096

// ErrNoSlash is returned when a mapping string has no separating slash at
// all, or the only slash is the leading character of an absolute path (which
// would make the filesystem root the parent directory).
var ErrNoSlash = errors.New("mapping: no usable parent directory")

// ErrTooManyMappings is returned by ParseAll when more than MaxMappings raw
// mappings are supplied.
var ErrTooManyMappings = errors.New("mapping: too many mappings")

// Mapping is a single (parent_dir, glob) redirection rule.
//
// ParentDir is absolute and ends in '/'. Glob applies only to the path
// component immediately following ParentDir; it never crosses a '/'.
type Mapping struct {
	ParentDir string
	Glob      string
}

// String renders the mapping the way it was supplied on the command line,
// e.g. "/home/user/.claude*".
func (m Mapping) String() string {
	return m.ParentDir + m.Glob
}

// Parse turns one raw CLI mapping string into a Mapping.
//
// raw is first tilde-expanded (leading "~" or "~/" only) and, if not already
// absolute, joined against cwd. It is then split at the last '/': everything
// up to and including that slash becomes ParentDir, the remainder becomes
// Glob. A mapping with no slash, or whose only slash is the leading
// character of the path (making ParentDir the filesystem root), is
// rejected.
func Parse(raw, home, cwd string) (Mapping, error) {
	expanded := expandTilde(raw, home)

	abs := expanded
	if !filepath.IsAbs(abs) {
		abs = filepath.Join(cwd, abs)
	}

	idx := strings.LastIndexByte(abs, '/')
	if idx <= 0 {
		return Mapping{}, fmt.Errorf("%w: %q", ErrNoSlash, raw)
	}

	return Mapping{
		ParentDir: abs[:idx+1],
		Glob:      abs[idx+1:],
	}, nil
}

// ParseAll parses every raw mapping string, preserving insertion order
// (match order is significant: first match wins).
func ParseAll(raws []string, home, cwd string) ([]Mapping, error) {
	if len(raws) > MaxMappings {
		return nil, fmt.Errorf("%w: got %d, max %d", ErrTooManyMappings, len(raws), MaxMappings)
	}

	mappings := make([]Mapping, 0, len(raws))

	for _, raw := range raws {
		m, err := Parse(raw, home, cwd)
		if err != nil {
			return nil, err
		}

		mappings = append(mappings, m)
	}

	return mappings, nil
}

// expandTilde expands a leading "~" or "~/..." using home. Anything else
// (e.g. "~user/...") is left untouched, per spec.md's non-goal of ~user
// expansion.
func expandTilde(raw, home string) string {
	if raw == "~" {
		return home
	}

	if strings.HasPrefix(raw, "~/") {
		return filepath.Join(home, raw[2:])
	}

	return raw
}

// Engine holds a normalised target directory and an ordered set of mappings,
// and rewrites candidate absolute paths against them.
type Engine struct {
	Target   string // always ends in '/'
	Mappings []Mapping
	Debug    *debuglog.Logger
}

// NewEngine normalises target to end in '/' and returns an Engine.
func NewEngine(target string, mappings []Mapping, debug *debuglog.Logger) *Engine {
	if !strings.HasSuffix(target, "/") {
		target += "/"
	}

	return &Engine{Target: target, Mappings: mappings, Debug: debug}
}

// Rewrite applies the redirection rules to q, an absolute candidate path.
// It returns the rewritten path and true on a match, or q unchanged and
// false when no mapping applies.
//
// Matching proceeds in mapping insertion order; the first mapping whose
// parent_dir prefixes q, whose next path component is non-empty and under
// maxComponent bytes, and whose glob matches that component wins. A
// rewritten path of maxRewritten bytes or more is treated as a
// non-match for that mapping and the search continues to the next one.
func (e *Engine) Rewrite(q string) (string, bool) {
	for _, m := range e.Mappings {
		if !strings.HasPrefix(q, m.ParentDir) {
			continue
		}

		rest := q[len(m.ParentDir):]
		if rest == "" {
			// q is exactly the parent directory; nothing to match against.
			continue
		}

		component := rest
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			component = rest[:i]
		}

		if len(component) == 0 || len(component) >= maxComponent {
			continue
		}

		ok, err := filepath.Match(m.Glob, component)
		if err != nil || !ok {
			continue
		}

		rewritten := e.Target + rest
		if len(rewritten) >= maxRewritten {
			continue
		}

		if e.Debug != nil {
			e.Debug.Rewrite(q, rewritten)
		}

		return rewritten, true
	}

	return q, false
}
