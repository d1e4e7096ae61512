package node

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sync"
	"syscall"
	"time"

	"github.com/vishvananda/netlink"
	"github.com/vishvananda/netns"

	"github.com/coreemu/coreemu/internal/coreerr"
	"github.com/coreemu/coreemu/internal/corelog"
)

// ContainerHandle is the kernel-side handle for a realized node: its network
// namespace and the init process keeping that namespace alive. It is kept
// out of the Node struct's exported surface per the "ids for cross-
// references, kernel handles in a per-component table" design note (§9) —
// Node only exposes it as an opaque pointer.
type ContainerHandle struct {
	mu      sync.Mutex
	Handle  netns.NsHandle
	InitPID int
	initCmd *exec.Cmd
}

// Manager realizes nodes as namespace containers and executes commands
// inside them (C1). One Manager is shared by all nodes in a session.
type Manager struct {
	SessionID uint32
	BaseDir   string // e.g. "/tmp/coreemu.<id>"
}

// NewManager returns a lifecycle manager rooted at baseDir.
func NewManager(sessionID uint32, baseDir string) *Manager {
	return &Manager{SessionID: sessionID, BaseDir: baseDir}
}

// Realize creates n's private filesystem root and, for container kinds,
// spawns a namespace-isolated init process. It is idempotent — calling it
// twice on an already-realized node is a no-op (§4.2).
func (m *Manager) Realize(n *Node) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if n.Realized {
		return nil
	}

	fsRoot := filepath.Join(m.BaseDir, fmt.Sprintf("%d.conf", n.ID))
	if err := os.MkdirAll(fsRoot, 0o755); err != nil {
		return coreerr.NewKernel("mkdir-fsroot", fsRoot, err)
	}
	n.FSRoot = fsRoot

	if !n.Kind.HasContainer() {
		n.Realized = true
		return nil
	}

	handle, pid, cmd, err := spawnNamespace(n.ID)
	if err != nil {
		os.RemoveAll(fsRoot)
		return coreerr.NewKernel("spawn-namespace", ContainerName(m.SessionID, n.ID), err)
	}
	n.Container = &ContainerHandle{Handle: handle, InitPID: pid, initCmd: cmd}
	n.Realized = true

	corelog.WithNode(n.Name).Infof("realized container (pid=%d, fsroot=%s)", pid, fsRoot)
	return nil
}

// spawnNamespace starts a long-lived "sleep" init process in a fresh network
// namespace and returns a handle to that namespace plus the process's pid.
// The init process is kept alive only to anchor the namespace; RunInNode
// runs user commands in the same namespace by re-executing them through
// nsenter against the init process's /proc/<pid>/ns/net.
func spawnNamespace(nodeID uint32) (netns.NsHandle, int, *exec.Cmd, error) {
	cmd := exec.Command("sleep", "infinity")
	cmd.SysProcAttr = cloneNewNet()
	if err := cmd.Start(); err != nil {
		return 0, 0, nil, fmt.Errorf("start init process: %w", err)
	}

	pid := cmd.Process.Pid
	handle, err := netns.GetFromPid(pid)
	if err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return 0, 0, nil, fmt.Errorf("get namespace handle for pid %d: %w", pid, err)
	}

	loHandle, err := netlink.NewHandleAt(handle)
	if err == nil {
		if lo, linkErr := loHandle.LinkByName("lo"); linkErr == nil {
			loHandle.LinkSetUp(lo)
		}
		loHandle.Delete()
	}

	return handle, pid, cmd, nil
}

// RunInNode executes argv inside n's namespace, rooted at n's private
// filesystem directory unless overridden. If wait is false it returns the
// spawned pid immediately; if true it blocks and returns the exit status
// (§4.2). The context deadline, if any, is enforced with SIGTERM then
// SIGKILL after a 2-second grace period (§5 Cancellation and timeouts).
func (m *Manager) RunInNode(ctx context.Context, n *Node, argv []string, wait bool, workdir string) (pid int, exitCode int, err error) {
	if len(argv) == 0 {
		return 0, 0, coreerr.NewValidation("runInNode: empty argv")
	}
	if workdir == "" {
		workdir = n.FSRoot
	}

	var cmd *exec.Cmd
	if n.Container != nil {
		nsArgv := nsenterArgv(n.Container.InitPID, argv)
		cmd = exec.Command(nsenterBinary, nsArgv...)
	} else {
		cmd = exec.Command(argv[0], argv[1:]...)
	}
	cmd.Dir = workdir

	if err := cmd.Start(); err != nil {
		return 0, 0, coreerr.NewKernel("exec", argv[0], err)
	}
	pid = cmd.Process.Pid

	if !wait {
		go reapWithDeadline(ctx, cmd)
		return pid, 0, nil
	}

	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()

	select {
	case waitErr := <-done:
		exitCode = exitCodeOf(waitErr)
		return pid, exitCode, nil
	case <-ctx.Done():
		terminateWithGrace(cmd)
		<-done
		return pid, -1, coreerr.ErrCancelled
	}
}

// reapWithDeadline waits for a detached (wait=false) command, honoring
// ctx's deadline with the same TERM-then-KILL sequence as the blocking path.
func reapWithDeadline(ctx context.Context, cmd *exec.Cmd) {
	done := make(chan error, 1)
	go func() { done <- cmd.Wait() }()
	select {
	case <-done:
	case <-ctx.Done():
		terminateWithGrace(cmd)
		<-done
	}
}

// terminateWithGrace sends SIGTERM, waits 2 seconds, then SIGKILL —
// the deadline-expiry / Shutdown-transition signalling sequence (§5).
func terminateWithGrace(cmd *exec.Cmd) {
	if cmd.Process == nil {
		return
	}
	cmd.Process.Signal(syscall.SIGTERM)
	timer := time.NewTimer(2 * time.Second)
	defer timer.Stop()
	<-timer.C
	cmd.Process.Kill()
}

func exitCodeOf(err error) int {
	if err == nil {
		return 0
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode()
	}
	return -1
}

// Delete tears down a realized node: terminates its init process (if any),
// waits for reaping, and removes its filesystem root. Idempotent (§4.2).
func (m *Manager) Delete(n *Node) error {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.Realized {
		return nil
	}

	if n.Container != nil {
		n.Container.mu.Lock()
		if n.Container.initCmd != nil && n.Container.initCmd.Process != nil {
			n.Container.initCmd.Process.Kill()
			n.Container.initCmd.Wait()
		}
		if n.Container.Handle.IsOpen() {
			n.Container.Handle.Close()
		}
		n.Container.mu.Unlock()
		n.Container = nil
	}

	if n.FSRoot != "" {
		if err := os.RemoveAll(n.FSRoot); err != nil {
			return coreerr.NewKernel("rm-fsroot", n.FSRoot, err)
		}
	}

	n.Realized = false
	corelog.WithNode(n.Name).Info("torn down")
	return nil
}

// runtime.LockOSThread is required around netns.Set by its own contract;
// isolated here so callers don't need to reason about thread-locking.
func withNamespace(handle netns.NsHandle, fn func() error) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	orig, err := netns.Get()
	if err != nil {
		return fmt.Errorf("get current namespace: %w", err)
	}
	defer orig.Close()

	if err := netns.Set(handle); err != nil {
		return fmt.Errorf("enter namespace: %w", err)
	}
	defer netns.Set(orig)

	return fn()
}
