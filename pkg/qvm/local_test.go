package qvm

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"testing"
)

// fakeRunner records the argv of every invocation and replays canned results.
type fakeRunner struct {
	calls  [][]string
	result Result
	err    error
}

func (f *fakeRunner) run(_ context.Context, argv []string) (Result, error) {
	f.calls = append(f.calls, argv)
	return f.result, f.err
}

func newTestLocal(f *fakeRunner) *Local {
	l := NewLocal(0)
	l.run = f.run
	l.look = func(string) (string, error) { return "/usr/bin/fake", nil }
	return l
}

func TestLocalArgvConstruction(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name     string
		invoke   func(l *Local) error
		expected []string
	}{
		{
			name: "clone",
			invoke: func(l *Local) error {
				return l.Clone(ctx, "debian-12", "debian-13")
			},
			expected: []string{"qvm-clone", "debian-12", "debian-13"},
		},
		{
			name: "start skips running VMs",
			invoke: func(l *Local) error {
				return l.StartIfNotRunning(ctx, "debian-12")
			},
			expected: []string{"qvm-start", "--skip-if-running", "debian-12"},
		},
		{
			name: "run plain",
			invoke: func(l *Local) error {
				_, err := l.Run(ctx, "debian-12", "uname -a", RunOptions{})
				return err
			},
			expected: []string{"qvm-run", "debian-12", "uname -a"},
		},
		{
			name: "run privileged with capture",
			invoke: func(l *Local) error {
				_, err := l.Run(ctx, "debian-12", "apt update", RunOptions{Privileged: true, CaptureOutput: true})
				return err
			},
			expected: []string{"qvm-run", "-p", "-u", "root", "debian-12", "apt update"},
		},
		{
			name: "shutdown waits",
			invoke: func(l *Local) error {
				return l.WaitForShutdown(ctx, "debian-12")
			},
			expected: []string{"qvm-shutdown", "--wait", "debian-12"},
		},
		{
			name: "post-install hook",
			invoke: func(l *Local) error {
				return l.TriggerPostInstall(ctx, "debian-12")
			},
			expected: []string{"qvm-run", "-u", "root", "debian-12", "qubes.PostInstall"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := &fakeRunner{}
			l := newTestLocal(f)

			if err := tt.invoke(l); err != nil {
				t.Fatalf("unexpected error: %v", err)
			}

			if len(f.calls) != 1 {
				t.Fatalf("expected 1 call, got %d", len(f.calls))
			}
			if !reflect.DeepEqual(f.calls[0], tt.expected) {
				t.Errorf("expected argv %v, got %v", tt.expected, f.calls[0])
			}
		})
	}
}

func TestLocalReadFeature(t *testing.T) {
	ctx := context.Background()

	t.Run("set feature", func(t *testing.T) {
		f := &fakeRunner{result: Result{Stdout: "debian\n"}}
		l := newTestLocal(f)

		value, err := l.ReadFeature(ctx, "debian-12", "os-distribution")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if value != "debian" {
			t.Errorf("expected 'debian', got %q", value)
		}

		expected := []string{"qvm-features", "debian-12", "os-distribution"}
		if !reflect.DeepEqual(f.calls[0], expected) {
			t.Errorf("expected argv %v, got %v", expected, f.calls[0])
		}
	})

	t.Run("unset feature is not an error", func(t *testing.T) {
		f := &fakeRunner{result: Result{ExitCode: 1}, err: fmt.Errorf("exit status 1")}
		l := newTestLocal(f)

		value, err := l.ReadFeature(ctx, "debian-12", "os-version")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if value != "" {
			t.Errorf("expected empty value, got %q", value)
		}
	})

	t.Run("tool failure propagates", func(t *testing.T) {
		f := &fakeRunner{result: Result{ExitCode: -1}, err: fmt.Errorf("exec: not found")}
		l := newTestLocal(f)

		if _, err := l.ReadFeature(ctx, "debian-12", "os-version"); err == nil {
			t.Error("expected error, got nil")
		}
	})
}

func TestLocalCallError(t *testing.T) {
	f := &fakeRunner{
		result: Result{ExitCode: 2, Stderr: "qvm-clone: domain already exists"},
		err:    fmt.Errorf("exit status 2"),
	}
	l := newTestLocal(f)

	err := l.Clone(context.Background(), "debian-12", "debian-13")
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var callErr *CallError
	if !errors.As(err, &callErr) {
		t.Fatalf("expected *CallError, got %T", err)
	}
	if callErr.Op != "clone" || callErr.VM != "debian-12" || callErr.ExitCode != 2 {
		t.Errorf("unexpected call error: %+v", callErr)
	}
	if callErr.Stderr == "" {
		t.Error("expected stderr to be captured")
	}
}

func TestLocalAvailable(t *testing.T) {
	l := NewLocal(0)
	l.look = func(file string) (string, error) {
		if file == "qvm-run" {
			return "", fmt.Errorf("not found")
		}
		return "/usr/bin/" + file, nil
	}

	if err := l.Available(context.Background()); err == nil {
		t.Error("expected error when a tool is missing")
	}

	l.look = func(file string) (string, error) { return "/usr/bin/" + file, nil }
	if err := l.Available(context.Background()); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
