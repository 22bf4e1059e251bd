//go:build !windows

package fiber

import (
	"os/signal"
	"syscall"
)

// ignoreSIGPIPE installs the SIGPIPE-ignore Init performs on POSIX targets,
// per SPEC_FULL.md §5: a fiber writing to a closed socket should see an
// error return, not a process-killing signal.
func ignoreSIGPIPE() {
	signal.Ignore(syscall.SIGPIPE)
}
