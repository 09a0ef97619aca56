//go:build unix

package caption

import (
	"os/exec"
	"syscall"
)

// detach puts the worker in its own process group, out of reach of a
// terminal Ctrl+C. Close stops it.
func detach(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}
