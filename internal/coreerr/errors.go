// Package coreerr defines the engine's error taxonomy: Validation, NotFound,
// Kernel, Remote, and Cancelled, per the session engine's error handling
// design. Validation and NotFound are surfaced to the caller without side
// effects; Kernel errors trigger rollback of the one topology mutation that
// produced them; Remote errors mark the offending peer degraded; Cancelled
// propagates as the termination reason.
package coreerr

import (
	"errors"
	"fmt"
)

// Sentinel errors — one per error kind. Wrap with errors.Is to classify.
var (
	ErrValidation = errors.New("validation failed")
	ErrNotFound   = errors.New("entity not found")
	ErrKernel     = errors.New("kernel operation failed")
	ErrRemote     = errors.New("peer channel error")
	ErrCancelled  = errors.New("operation cancelled")
)

// NotFoundError names the kind and identifier of a missing entity.
type NotFoundError struct {
	Kind string // "session", "node", "network", "interface", "service", ...
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// NewNotFound builds a NotFoundError.
func NewNotFound(kind, id string) *NotFoundError {
	return &NotFoundError{Kind: kind, ID: id}
}

// KernelError wraps a failed syscall/CLI invocation during a topology
// mutation (bridge create, veth attach, qdisc replace, ebtables rule).
type KernelError struct {
	Op     string // "bridge-create", "veth-attach", "qdisc-replace", ...
	Target string // the kernel object name involved
	Err    error
}

func (e *KernelError) Error() string {
	return fmt.Sprintf("kernel op %s on %s: %v", e.Op, e.Target, e.Err)
}

func (e *KernelError) Unwrap() error { return ErrKernel }

// NewKernel builds a KernelError.
func NewKernel(op, target string, err error) *KernelError {
	return &KernelError{Op: op, Target: target, Err: err}
}

// RemoteError wraps a failure forwarding an operation to a peer host.
type RemoteError struct {
	Peer string
	Op   string
	Err  error
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("peer %s: %s: %v", e.Peer, e.Op, e.Err)
}

func (e *RemoteError) Unwrap() error { return ErrRemote }

// NewRemote builds a RemoteError.
func NewRemote(peer, op string, err error) *RemoteError {
	return &RemoteError{Peer: peer, Op: op, Err: err}
}

// ValidationError carries one or more independent validation failures,
// accumulated by a ValidationBuilder so callers see every violation at once
// instead of only the first.
type ValidationError struct {
	Messages []string
}

func (e *ValidationError) Error() string {
	if len(e.Messages) == 1 {
		return "validation: " + e.Messages[0]
	}
	msg := "validation: multiple failures:"
	for _, m := range e.Messages {
		msg += "\n  - " + m
	}
	return msg
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidation builds a ValidationError from one or more messages.
func NewValidation(messages ...string) *ValidationError {
	return &ValidationError{Messages: messages}
}

// ValidationBuilder accumulates validation failures so a caller can report
// every precondition violation from one call instead of failing on the first.
type ValidationBuilder struct {
	messages []string
}

// Require appends message if ok is false.
func (v *ValidationBuilder) Require(ok bool, message string) *ValidationBuilder {
	if !ok {
		v.messages = append(v.messages, message)
	}
	return v
}

// Requiref appends a formatted message if ok is false.
func (v *ValidationBuilder) Requiref(ok bool, format string, args ...interface{}) *ValidationBuilder {
	if !ok {
		v.messages = append(v.messages, fmt.Sprintf(format, args...))
	}
	return v
}

// Err returns nil, or a *ValidationError if any Require call failed.
func (v *ValidationBuilder) Err() error {
	if len(v.messages) == 0 {
		return nil
	}
	return &ValidationError{Messages: v.messages}
}
