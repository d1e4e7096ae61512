//go:build linux

package node

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// cloneNewNet returns the SysProcAttr that gives a freshly spawned init
// process its own network (and mount, so /sys/class/net stays private)
// namespace (C1 host primitives).
func cloneNewNet() *syscall.SysProcAttr {
	return &syscall.SysProcAttr{
		Cloneflags: unix.CLONE_NEWNET | unix.CLONE_NEWNS,
	}
}

// nsenterArgv rewrites argv to run inside the namespace anchored by initPID.
// Go cannot join an already-created namespace via SysProcAttr directly (only
// create new ones via Cloneflags), so RunInNode re-execs through nsenter
// against the namespace's /proc/<pid>/ns/net path.
func nsenterArgv(initPID int, argv []string) []string {
	full := []string{fmt.Sprintf("--net=/proc/%d/ns/net", initPID), "--"}
	return append(full, argv...)
}

const nsenterBinary = "nsenter"
