//go:build !windows

package provider

import (
	"fmt"
	"os/exec"
	"syscall"
	"time"
)

// configureProcAttr places the CLI in its own process group so the tool
// subprocesses it forks can be signaled together. A bare Process.Kill only
// reaches the direct child and leaves grandchildren running after an
// abort.
func configureProcAttr(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// killProcessGroup force-kills the whole process group. Used as the
// context-cancel hook, where there is no room for a grace period.
func killProcessGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pgid, err := syscall.Getpgid(cmd.Process.Pid)
	if err != nil {
		// Process already gone.
		return cmd.Process.Kill()
	}
	return syscall.Kill(-pgid, syscall.SIGKILL)
}

// terminateProcessGroup sends SIGTERM to the process group, waits up to
// gracePeriod for the leader to exit, then escalates to SIGKILL.
//
// This function does NOT call cmd.Wait(). The caller owns the Wait;
// calling it here would race with the caller's Wait and block forever on
// Go 1.20+.
func terminateProcessGroup(cmd *exec.Cmd, gracePeriod time.Duration) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	pgid, err := syscall.Getpgid(pid)
	if err != nil {
		// Process may have already exited.
		return fmt.Errorf("getpgid(%d): %w", pid, err)
	}

	if err := syscall.Kill(-pgid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil
		}
		return fmt.Errorf("sigterm pgid %d: %w", pgid, err)
	}

	deadline := time.After(gracePeriod)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-deadline:
			_ = syscall.Kill(-pgid, syscall.SIGKILL)
			return nil
		case <-ticker.C:
			// Signal 0 probes whether the group leader is still alive.
			if err := syscall.Kill(pid, 0); err != nil {
				return nil
			}
		}
	}
}
