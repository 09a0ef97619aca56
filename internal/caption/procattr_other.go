//go:build !unix

package caption

import "os/exec"

func detach(cmd *exec.Cmd) {}
