//go:build !windows

package shell

import (
	"os/exec"
	"syscall"
)

func setProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

func signalGroup(cmd *exec.Cmd, force bool) {
	if cmd.Process == nil {
		return
	}
	sig := syscall.SIGTERM
	if force {
		sig = syscall.SIGKILL
	}
	// Negative pid targets the whole process group.
	_ = syscall.Kill(-cmd.Process.Pid, sig)
}

func shellArgs(command string) []string {
	return []string{"-c", command}
}
