// Command remapper launches a program with a private view of the
// filesystem in which user-specified path patterns appear to resolve inside
// a target directory.
package main

import (
	"fmt"
	"os"

	"github.com/zafnz/remapper/internal/launch"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

func main() {
	if len(os.Args) == 2 && (os.Args[1] == "--version" || os.Args[1] == "-v") {
		fmt.Println("remapper " + version)
		os.Exit(0)
	}

	os.Exit(launch.Main())
}
