//go:build !linux && !darwin

package launch

// realize is left nil on unsupported platforms; Run reports it as a
// pre-exec failure rather than panicking on a nil call.
