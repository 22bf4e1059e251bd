//go:build windows

package fiber

// ignoreSIGPIPE is a no-op on Windows: there is no SIGPIPE to mask.
func ignoreSIGPIPE() {}
