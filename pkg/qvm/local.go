package qvm

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// requiredTools are the dom0 utilities the adapter shells out to. All must be
// on PATH for Available to succeed.
var requiredTools = []string{
	"qvm-ls",
	"qvm-clone",
	"qvm-start",
	"qvm-run",
	"qvm-shutdown",
	"qvm-features",
}

// Local is the production Adapter. It executes the qvm-* tools on the local
// host (dom0).
type Local struct {
	timeout time.Duration

	// Injection points for tests.
	look func(file string) (string, error)
	run  func(ctx context.Context, argv []string) (Result, error)
}

// NewLocal creates a dom0 adapter. timeout bounds each tool invocation;
// zero means no bound beyond the caller's context.
func NewLocal(timeout time.Duration) *Local {
	l := &Local{
		timeout: timeout,
		look:    exec.LookPath,
	}
	l.run = l.execSystem
	return l
}

// Available implements Adapter.
func (l *Local) Available(_ context.Context) error {
	for _, tool := range requiredTools {
		if _, err := l.look(tool); err != nil {
			return &CallError{
				Op:       "preflight",
				ExitCode: -1,
				Err:      errors.New(tool + " not found; this tool must run in a Qubes OS dom0"),
			}
		}
	}
	return nil
}

// Clone implements Adapter.
func (l *Local) Clone(ctx context.Context, src, dst string) error {
	_, err := l.command(ctx, "clone", src, []string{"qvm-clone", src, dst})
	return err
}

// StartIfNotRunning implements Adapter.
func (l *Local) StartIfNotRunning(ctx context.Context, name string) error {
	_, err := l.command(ctx, "start", name, []string{"qvm-start", "--skip-if-running", name})
	return err
}

// Run implements Adapter.
func (l *Local) Run(ctx context.Context, name, command string, opts RunOptions) (Result, error) {
	argv := []string{"qvm-run"}
	if opts.CaptureOutput {
		argv = append(argv, "-p")
	}
	if opts.Privileged {
		argv = append(argv, "-u", "root")
	}
	argv = append(argv, name, command)
	return l.command(ctx, "run", name, argv)
}

// WaitForShutdown implements Adapter.
func (l *Local) WaitForShutdown(ctx context.Context, name string) error {
	_, err := l.command(ctx, "shutdown", name, []string{"qvm-shutdown", "--wait", name})
	return err
}

// ReadFeature implements Adapter. The feature tool exits non-zero when the
// key is unset; that is reported as an empty value.
func (l *Local) ReadFeature(ctx context.Context, name, key string) (string, error) {
	res, err := l.command(ctx, "features", name, []string{"qvm-features", name, key})
	if err != nil {
		var callErr *CallError
		if errors.As(err, &callErr) && callErr.ExitCode > 0 {
			return "", nil
		}
		return "", err
	}
	return strings.TrimSpace(res.Stdout), nil
}

// TriggerPostInstall implements Adapter.
func (l *Local) TriggerPostInstall(ctx context.Context, name string) error {
	_, err := l.command(ctx, "post-install", name, []string{"qvm-run", "-u", "root", name, "qubes.PostInstall"})
	return err
}

// command runs a dom0 tool and wraps failures in a CallError.
func (l *Local) command(ctx context.Context, op, vm string, argv []string) (Result, error) {
	start := time.Now()

	log.Debug().
		Str("op", op).
		Str("vm", vm).
		Strs("argv", argv).
		Msg("executing dom0 command")

	if l.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, l.timeout)
		defer cancel()
	}

	res, err := l.run(ctx, argv)

	log.Debug().
		Str("op", op).
		Str("vm", vm).
		Int("exit_code", res.ExitCode).
		Dur("duration", time.Since(start)).
		Err(err).
		Msg("dom0 command completed")

	if err != nil {
		return res, &CallError{
			Op:       op,
			VM:       vm,
			ExitCode: res.ExitCode,
			Stderr:   res.Stderr,
			Err:      err,
		}
	}
	return res, nil
}

// execSystem is the real exec-based runner behind command.
func (l *Local) execSystem(ctx context.Context, argv []string) (Result, error) {
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	res := Result{
		Stdout: strings.TrimSpace(stdout.String()),
		Stderr: strings.TrimSpace(stderr.String()),
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
		} else {
			res.ExitCode = -1
		}
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return res, err
	}
	return res, nil
}
