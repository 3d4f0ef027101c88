package scanner

import (
	"os"
	"os/exec"
	"syscall"
)

// internalRescanFlag is the hidden Command Surface flag a detached rescan
// child is re-invoked with, so the parent process (a short-lived pick-next)
// can return immediately instead of blocking on the walk.
const internalRescanFlag = "--internal-rescan"

// Detach re-executes the current binary with internalRescanFlag and
// detaches it: no inherited stdio, a new session so it survives the parent
// exiting, and no Wait() call. This stands in for the double-fork pattern
// on platforms without fork(2): the child is fully decoupled from the
// parent's process group and the parent never blocks on it.
func Detach() error {
	exe, err := os.Executable()
	if err != nil {
		return err
	}

	cmd := exec.Command(exe, internalRescanFlag)
	cmd.Stdin = nil
	cmd.Stdout = nil
	cmd.Stderr = nil
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := cmd.Start(); err != nil {
		return err
	}

	// Deliberately not calling cmd.Wait(): the picker must not block on the
	// rescan it just triggered. The child is reparented to init once this
	// process exits; its exit status is never collected.
	return nil
}

// InternalRescanFlagName exposes the flag name so the Command Surface's
// argument parser can recognize it without importing exec-specific details.
func InternalRescanFlagName() string { return internalRescanFlag }
