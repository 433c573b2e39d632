//go:build darwin

// Package extract implements C3: installing the launcher's embedded
// interpose library onto disk so dyld can load it into the target process.
package extract

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/zafnz/remapper/internal/launchreq"
	"github.com/zafnz/remapper/internal/pathutil"
)

// Install implements spec.md §4.3: lib_path = configDir + "/interpose.dylib".
// If the on-disk file is missing or its size differs from len(blob), it is
// rewritten atomically; otherwise it is left untouched, since content is
// addressed purely by size (the launcher and its embedded blob are
// versioned in lockstep at build time).
func Install(configDir string, blob []byte) (string, error) {
	libPath := filepath.Join(configDir, "interpose.dylib")

	if info, err := os.Stat(libPath); err == nil && info.Size() == int64(len(blob)) {
		return libPath, nil
	}

	if err := pathutil.MkdirAll(configDir, 0o755); err != nil {
		return "", fmt.Errorf("%w: %v", launchreq.ErrIO, err)
	}

	tmp := libPath + ".tmp." + strconv.Itoa(os.Getpid())

	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return "", fmt.Errorf("%w: %v", launchreq.ErrIO, err)
	}

	if _, err := io.Copy(f, bytes.NewReader(blob)); err != nil {
		f.Close()
		os.Remove(tmp)

		return "", fmt.Errorf("%w: writing embedded library: %v", launchreq.ErrIO, err)
	}

	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("%w: %v", launchreq.ErrIO, err)
	}

	if err := os.Rename(tmp, libPath); err != nil {
		os.Remove(tmp)
		return "", fmt.Errorf("%w: installing embedded library: %v", launchreq.ErrIO, err)
	}

	return libPath, nil
}
