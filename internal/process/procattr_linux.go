package process

import "syscall"

// sysProcAttr puts the child in its own process group. Pdeathsig is a
// Linux-only safety net: if devenv dies unexpectedly, the kernel sends
// SIGTERM to the direct child.
func sysProcAttr() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Setpgid:   true,
		Pdeathsig: syscall.SIGTERM,
	}
}

// signalGroup delivers sig to every process in the group led by pid.
func signalGroup(pid int, sig syscall.Signal) error {
	return syscall.Kill(-pid, sig)
}
