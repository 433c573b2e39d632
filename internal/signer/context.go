//go:build darwin

// Package signer wraps the code-signing tool (spec.md calls it "the
// signer") as an opaque pipe-subprocess, and owns the SignerContext data
// model of spec.md §3: the shared config/cache directories and the
// entitlements plist that grants the two capabilities a trampoline copy
// needs (allow dyld environment variables, disable library validation).
package signer

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/zafnz/remapper/internal/debuglog"
	"github.com/zafnz/remapper/internal/launchreq"
	"github.com/zafnz/remapper/internal/pathutil"
)

// entitlementsXML grants exactly the two capabilities spec.md §3 requires:
// allow-dyld-environment-variables (so the kernel honours
// DYLD_INSERT_LIBRARIES on a hardened binary) and disable-library-validation
// (so the injected library, itself unsigned or ad-hoc signed, is permitted
// to load into the process).
const entitlementsXML = `<?xml version="1.0" encoding="UTF-8"?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
	<key>com.apple.security.cs.allow-dyld-environment-variables</key>
	<true/>
	<key>com.apple.security.cs.disable-library-validation</key>
	<true/>
</dict>
</plist>
`

// Context is spec.md §3's SignerContext: created once in the launcher (C8)
// and once per process in the injected library's C counterpart. It is
// read-only after EnsureEntitlements has run once, so it is safe to share
// across goroutines.
type Context struct {
	ConfigDir        string
	CacheDir         string
	EntitlementsPath string
	SignerPath       string
	Debug            *debuglog.Logger
	entitlementsOnce sync.Once
	entitlementsErr  error
}

// New locates the signer on PATH and derives the entitlements path under
// configDir. The signer must be resolvable: its absence is fatal in the
// launcher (spec.md §4.8 step 2).
func New(configDir, cacheDir string, env map[string]string, debug *debuglog.Logger) (*Context, error) {
	signerPath, err := pathutil.LookPath("codesign", env["PATH"])
	if err != nil {
		return nil, fmt.Errorf("%w: locating signer (codesign): %v", launchreq.ErrResolution, err)
	}

	return &Context{
		ConfigDir:        configDir,
		CacheDir:         cacheDir,
		EntitlementsPath: filepath.Join(configDir, "entitlements.plist"),
		SignerPath:       signerPath,
		Debug:            debug,
	}, nil
}

// EnsureEntitlements writes the entitlements plist the first time it is
// needed, atomically (temp file + rename), and is a no-op on every
// subsequent call in this process or any other (spec.md §5: "written once,
// atomically; subsequent launches see access(R_OK)==0 and skip").
func (c *Context) EnsureEntitlements() error {
	c.entitlementsOnce.Do(func() {
		if _, err := os.Stat(c.EntitlementsPath); err == nil {
			return
		}

		if err := pathutil.MkdirAll(filepath.Dir(c.EntitlementsPath), 0o755); err != nil {
			c.entitlementsErr = fmt.Errorf("%w: %v", launchreq.ErrIO, err)
			return
		}

		tmp := c.EntitlementsPath + ".tmp." + strconv.Itoa(os.Getpid())

		if err := os.WriteFile(tmp, []byte(entitlementsXML), 0o644); err != nil {
			c.entitlementsErr = fmt.Errorf("%w: writing entitlements: %v", launchreq.ErrIO, err)
			return
		}

		if err := os.Rename(tmp, c.EntitlementsPath); err != nil {
			_ = os.Remove(tmp)
			c.entitlementsErr = fmt.Errorf("%w: installing entitlements: %v", launchreq.ErrIO, err)

			return
		}

		c.Debug.Logf("wrote entitlements plist to %s", c.EntitlementsPath)
	})

	return c.entitlementsErr
}

// IsHardenedRuntime asks the signer for detailed signature info on path and
// reports whether the "runtime" marker is present (spec.md §4.4 step 4).
func (c *Context) IsHardenedRuntime(path string) (bool, error) {
	out, _, err := pathutil.RunPiped([]string{c.SignerPath, "-d", "--verbose=4", path})
	if err != nil {
		return false, fmt.Errorf("%w: %v", launchreq.ErrSignerFailure, err)
	}

	return strings.Contains(string(out), "runtime"), nil
}

// AllowsDyldEnv asks the signer for path's entitlement plist and reports
// whether it already grants allow-dyld-environment-variables (spec.md §4.4
// step 5: present means the binary opts in, so it is not treated as
// hardened against our injection).
func (c *Context) AllowsDyldEnv(path string) (bool, error) {
	out, _, err := pathutil.RunPiped([]string{c.SignerPath, "-d", "--entitlements", "-", "--xml", path})
	if err != nil {
		return false, fmt.Errorf("%w: %v", launchreq.ErrSignerFailure, err)
	}

	return strings.Contains(string(out), "com.apple.security.cs.allow-dyld-environment-variables"), nil
}

// Resign force-resigns path ad-hoc, attaching c's entitlements plist
// (spec.md §4.4 "Creation": "force re-sign, ad-hoc identity, using the
// stored entitlements plist, operating on the temp file").
func (c *Context) Resign(path string) error {
	if err := c.EnsureEntitlements(); err != nil {
		return err
	}

	_, code, err := pathutil.RunPiped([]string{
		c.SignerPath, "--force", "--sign", "-",
		"--entitlements", c.EntitlementsPath,
		path,
	})
	if err != nil {
		return fmt.Errorf("%w: %v", launchreq.ErrSignerFailure, err)
	}

	if code != 0 {
		return fmt.Errorf("%w: signer exited %d resigning %s", launchreq.ErrSignerFailure, code, path)
	}

	return nil
}
