//go:build darwin

package launch

import "github.com/zafnz/remapper/internal/darwinlauncher"

func init() {
	realize = darwinlauncher.Launch
}
