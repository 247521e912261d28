//go:build windows

package sandbox

import (
	"fmt"
	"os/exec"
	"syscall"
)

// configureProcessGroup is a no-op on Windows; the fallback in killGroup
// terminates the direct child via Process.Kill.
func configureProcessGroup(cmd *exec.Cmd) {
	if cmd == nil {
		return
	}
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.CreationFlags = syscall.CREATE_NEW_PROCESS_GROUP
}

func getProcessGroupID(cmd *exec.Cmd) int {
	return 0
}

func signalProcessGroup(pgid int, sig syscall.Signal) error {
	return fmt.Errorf("process group signals not supported on windows")
}
