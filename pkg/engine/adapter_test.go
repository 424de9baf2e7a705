package engine

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/kennethrrosen/qubes-template-upgrade/pkg/qvm"
	"github.com/kennethrrosen/qubes-template-upgrade/pkg/telemetry"
)

// call records one adapter invocation.
type call struct {
	op      string
	vm      string
	command string
}

// runRule scripts the fake adapter's response to an in-VM command. The first
// rule whose match is a substring of the command wins.
type runRule struct {
	match  string
	stdout string
	// fails is how many times this command fails before succeeding;
	// -1 means it always fails.
	fails int
}

// fakeAdapter is a scripted platform for engine tests.
type fakeAdapter struct {
	features map[string]string
	rules    []runRule
	calls    []call

	cloneErr    error
	startErr    error
	shutdownErr error
}

func (f *fakeAdapter) record(op, vm, command string) {
	f.calls = append(f.calls, call{op: op, vm: vm, command: command})
}

func (f *fakeAdapter) Available(context.Context) error {
	return nil
}

func (f *fakeAdapter) Clone(_ context.Context, src, dst string) error {
	f.record("clone", src, dst)
	return f.cloneErr
}

func (f *fakeAdapter) StartIfNotRunning(_ context.Context, name string) error {
	f.record("start", name, "")
	return f.startErr
}

func (f *fakeAdapter) Run(_ context.Context, name, command string, _ qvm.RunOptions) (qvm.Result, error) {
	f.record("run", name, command)
	for i := range f.rules {
		rule := &f.rules[i]
		if !strings.Contains(command, rule.match) {
			continue
		}
		if rule.fails != 0 {
			if rule.fails > 0 {
				rule.fails--
			}
			return qvm.Result{ExitCode: 100}, fmt.Errorf("command exited with code 100")
		}
		return qvm.Result{Stdout: rule.stdout}, nil
	}
	return qvm.Result{}, nil
}

func (f *fakeAdapter) WaitForShutdown(_ context.Context, name string) error {
	f.record("shutdown", name, "")
	return f.shutdownErr
}

func (f *fakeAdapter) ReadFeature(_ context.Context, name, key string) (string, error) {
	f.record("feature", name, key)
	return f.features[key], nil
}

func (f *fakeAdapter) TriggerPostInstall(_ context.Context, name string) error {
	f.record("post-install", name, "")
	return nil
}

// count returns how many calls of an op were made.
func (f *fakeAdapter) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c.op == op {
			n++
		}
	}
	return n
}

// countCommand returns how many run calls contained the given substring.
func (f *fakeAdapter) countCommand(substr string) int {
	n := 0
	for _, c := range f.calls {
		if c.op == "run" && strings.Contains(c.command, substr) {
			n++
		}
	}
	return n
}

// testLogger returns a quiet logger for tests.
func testLogger(t *testing.T) *telemetry.Logger {
	t.Helper()

	logger, err := telemetry.NewLogger(telemetry.LoggingConfig{
		Level:  "error",
		Format: "json",
		Output: "stderr",
	})
	if err != nil {
		t.Fatalf("failed to create logger: %v", err)
	}
	return logger
}
