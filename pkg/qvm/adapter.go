// Package qvm wraps the Qubes OS dom0 VM management tools (qvm-clone,
// qvm-start, qvm-run, qvm-shutdown, qvm-features) behind a narrow adapter
// interface so the upgrade engine can be tested against a fake platform.
package qvm

import (
	"context"
	"fmt"
)

// RunOptions controls how a command is executed inside a VM.
type RunOptions struct {
	// Privileged runs the command as root inside the VM.
	Privileged bool

	// CaptureOutput relays the in-VM command's output back to dom0.
	CaptureOutput bool
}

// Result holds the outcome of an in-VM command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Adapter is the set of platform operations the upgrade engine depends on.
// The production implementation shells out to the dom0 CLI tools; tests
// substitute a fake.
type Adapter interface {
	// Available verifies the platform tooling is reachable. It is the
	// preflight check run before any other operation.
	Available(ctx context.Context) error

	// Clone copies a template or standalone VM under a new name.
	Clone(ctx context.Context, src, dst string) error

	// StartIfNotRunning starts the VM. It is idempotent: a VM that is
	// already running is not an error.
	StartIfNotRunning(ctx context.Context, name string) error

	// Run executes a shell command inside the VM and blocks until it
	// completes. A non-zero in-VM exit status is returned as a *CallError.
	Run(ctx context.Context, name, command string, opts RunOptions) (Result, error)

	// WaitForShutdown requests shutdown and blocks until the platform
	// confirms the VM has stopped.
	WaitForShutdown(ctx context.Context, name string) error

	// ReadFeature reads a persisted metadata feature from the VM object.
	// An unset feature yields an empty string, not an error.
	ReadFeature(ctx context.Context, name, key string) (string, error)

	// TriggerPostInstall invokes the in-VM post-install hook so platform
	// visible OS metadata is refreshed after an upgrade.
	TriggerPostInstall(ctx context.Context, name string) error
}

// CallError is a failed platform call.
type CallError struct {
	// Op is the adapter operation that failed.
	Op string

	// VM is the VM the operation targeted, if any.
	VM string

	// ExitCode is the exit status of the underlying tool, or -1 when the
	// tool could not be started at all.
	ExitCode int

	// Stderr is the captured standard error of the tool, trimmed.
	Stderr string

	// Err is the underlying error.
	Err error
}

// Error implements the error interface.
func (e *CallError) Error() string {
	if e.VM != "" {
		return fmt.Sprintf("qvm %s failed for %s: %s", e.Op, e.VM, e.detail())
	}
	return fmt.Sprintf("qvm %s failed: %s", e.Op, e.detail())
}

// Unwrap returns the underlying error.
func (e *CallError) Unwrap() error {
	return e.Err
}

func (e *CallError) detail() string {
	if e.Stderr != "" {
		return e.Stderr
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit code %d", e.ExitCode)
}
