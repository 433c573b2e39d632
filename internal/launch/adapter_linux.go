//go:build linux

package launch

import "github.com/zafnz/remapper/internal/nslauncher"

func init() {
	realize = nslauncher.Launch
	continueChild = nslauncher.ContinueChild
}
