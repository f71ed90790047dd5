package resource

import (
	"fmt"
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// Launcher forks/execs a configured process. ExecLauncher is the production
// implementation; tests substitute a fake that never touches the OS.
type Launcher interface {
	Start(execPath string, args []string) (pid int, err error)
}

// ExecLauncher runs children via os/exec, matching the teacher's
// cmdutil-style "run and forget, track by pid" pattern in
// internal/cmdutil — adapted here to a long-lived supervised child instead
// of a bounded-timeout one-shot command.
type ExecLauncher struct{}

func (ExecLauncher) Start(execPath string, args []string) (int, error) {
	cmd := exec.Command(execPath, args...)
	if err := cmd.Start(); err != nil {
		return 0, fmt.Errorf("resource: start %s: %w", execPath, err)
	}
	pid := cmd.Process.Pid
	go cmd.Wait() // reap asynchronously; liveness is tracked via kill(pid, 0)
	return pid, nil
}

// Killer implements the kill(0)-probe / SIGTERM / SIGKILL escalation ladder
// spec.md §5(e) and §4.4.1/§4.4.2 describe, via golang.org/x/sys/unix.
type Killer interface {
	Alive(pid int) bool
	Terminate(pid int) error
	Kill(pid int) error
}

// UnixKiller is the production Killer.
type UnixKiller struct{}

func (UnixKiller) Alive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return unix.Kill(pid, 0) == nil
}

func (UnixKiller) Terminate(pid int) error {
	return unix.Kill(pid, int(syscall.SIGTERM))
}

func (UnixKiller) Kill(pid int) error {
	return unix.Kill(pid, int(syscall.SIGKILL))
}
