//go:build darwin

// Package interpose embeds the native dylib built from interpose.c (see
// Makefile) so the Darwin launcher (C8) can extract and inject it without
// shipping a separate artifact alongside the remapper binary.
package interpose

import _ "embed"

// Library is the compiled libinterpose.dylib. Regenerate it with `make` in
// this directory whenever interpose.c or interpose.h change; the committed
// binary here is a placeholder until that build step produces the real
// artifact.
//
//go:embed libinterpose.dylib
var Library []byte
