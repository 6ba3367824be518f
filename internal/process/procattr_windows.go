//go:build windows

package process

import (
	"os"
	"syscall"
)

// sysProcAttr starts the child in a new process group so console control
// events sent to devenv do not reach it.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP,
	}
}

// signalGroup terminates the process pid. Windows has no process-group
// signals, so sig is ignored and only the leader is killed.
func signalGroup(pid int, _ syscall.Signal) error {
	p, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return p.Kill()
}
