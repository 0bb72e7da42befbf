//go:build windows

package shell

import (
	"fmt"
	"os/exec"
)

func setProcessGroup(cmd *exec.Cmd) {}

func signalGroup(cmd *exec.Cmd, force bool) {
	if cmd.Process == nil {
		return
	}
	_ = exec.Command("taskkill", "/pid", fmt.Sprint(cmd.Process.Pid), "/f", "/t").Run()
}

func shellArgs(command string) []string {
	return []string{"/c", command}
}
