package engine

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/kennethrrosen/qubes-template-upgrade/pkg/stores"
)

func TestRunRejectsUnnamedClone(t *testing.T) {
	adapter := &fakeAdapter{}
	var out bytes.Buffer
	orch := New(adapter, testLogger(t), WithOutput(&out))

	_, err := orch.Run(context.Background(), "debian-12", CloneRequest{Enabled: true})
	if err == nil {
		t.Fatal("expected an error for a clone request without a name")
	}
	if !IsIdentity(err) {
		t.Errorf("error class = %v, want identity error", err)
	}
	// Validation must fail before any platform interaction.
	if len(adapter.calls) != 0 {
		t.Errorf("made %d platform calls, want 0; calls: %+v", len(adapter.calls), adapter.calls)
	}
}

func TestRunDebianInPlace(t *testing.T) {
	adapter := &fakeAdapter{
		features: map[string]string{
			featureDistribution: "debian",
			featureVersion:      "bookworm",
		},
	}
	var out bytes.Buffer
	orch := New(adapter, testLogger(t), WithOutput(&out))

	final, err := orch.Run(context.Background(), "debian-12", CloneRequest{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final != "debian-12" {
		t.Errorf("final identity = %q, want the template itself", final)
	}

	if got := adapter.count("clone"); got != 0 {
		t.Errorf("clone called %d times without a clone request", got)
	}
	if got := adapter.count("start"); got != 1 {
		t.Errorf("start called %d times, want 1", got)
	}
	if got := adapter.count("shutdown"); got != 1 {
		t.Errorf("shutdown called %d times, want 1", got)
	}
	if got := adapter.count("post-install"); got != 1 {
		t.Errorf("post-install called %d times, want 1", got)
	}

	// The sources rewrite covers the classic list and both fragment styles.
	if got := adapter.countCommand("s/bookworm/trixie/g"); got != 1 {
		t.Errorf("sources rewrite ran %d times, want 1", got)
	}
	for _, want := range []string{"/etc/apt/sources.list", "sources.list.d", "*.list", "*.sources"} {
		if adapter.countCommand(want) == 0 {
			t.Errorf("no in-VM command mentioned %q", want)
		}
	}
	if got := adapter.countCommand("apt full-upgrade"); got != 1 {
		t.Errorf("upgrade chain ran %d times, want 1", got)
	}
	if got := adapter.countCommand("fstrim"); got != 1 {
		t.Errorf("fstrim ran %d times, want 1", got)
	}

	// All operations target the template itself.
	for _, c := range adapter.calls {
		if c.op != "feature" && c.vm != "debian-12" {
			t.Errorf("%s targeted %q, want debian-12", c.op, c.vm)
		}
	}

	output := out.String()
	for _, want := range []string{
		"Template type: debian",
		"Template version: bookworm",
		"(1/6)",
		"(6/6)",
		"Upgrade to trixie completed successfully for debian-12.",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
}

func TestRunFedoraWithClone(t *testing.T) {
	adapter := &fakeAdapter{
		features: map[string]string{
			featureDistribution: "fedora",
			featureVersion:      "39",
		},
	}
	var out bytes.Buffer
	orch := New(adapter, testLogger(t), WithOutput(&out))

	final, err := orch.Run(context.Background(), "fedora-39", CloneRequest{Enabled: true, NewName: "fedora-40-work"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if final != "fedora-40-work" {
		t.Errorf("final identity = %q, want the clone", final)
	}

	if got := adapter.count("clone"); got != 1 {
		t.Fatalf("clone called %d times, want 1", got)
	}
	if got := adapter.countCommand("--releasever=40"); got != 1 {
		t.Errorf("distro-sync to release 40 ran %d times, want 1", got)
	}

	// The clone happens before any mutating operation, and everything
	// after it targets the clone, never the original.
	cloned := false
	for _, c := range adapter.calls {
		switch c.op {
		case "feature":
			continue
		case "clone":
			if c.vm != "fedora-39" || c.command != "fedora-40-work" {
				t.Errorf("clone = %s -> %s, want fedora-39 -> fedora-40-work", c.vm, c.command)
			}
			cloned = true
		default:
			if !cloned {
				t.Errorf("%s ran before the clone", c.op)
			}
			if c.vm != "fedora-40-work" {
				t.Errorf("%s targeted %q after cloning, want fedora-40-work", c.op, c.vm)
			}
		}
	}

	if !strings.Contains(out.String(), "(5/5)") {
		t.Errorf("output missing final step marker:\n%s", out.String())
	}
}

func TestRunFailsOnTerminalVersion(t *testing.T) {
	adapter := &fakeAdapter{
		features: map[string]string{
			featureDistribution: "debian",
			featureVersion:      "trixie",
		},
	}
	var out bytes.Buffer
	orch := New(adapter, testLogger(t), WithOutput(&out))

	_, err := orch.Run(context.Background(), "debian-13", CloneRequest{Enabled: true, NewName: "debian-14"})
	if err == nil {
		t.Fatal("expected an error for a version with no known successor")
	}
	if !IsPlan(err) {
		t.Errorf("error class = %v, want plan error", err)
	}
	// Planning fails before any VM mutation, clone included.
	if got := adapter.count("clone") + adapter.count("start"); got != 0 {
		t.Errorf("made %d mutating calls, want 0", got)
	}
}

func TestRunRetriesPackageOperation(t *testing.T) {
	adapter := &fakeAdapter{
		features: map[string]string{
			featureDistribution: "debian",
			featureVersion:      "bullseye",
		},
		rules: []runRule{
			{match: "apt update", fails: 2},
		},
	}
	var out bytes.Buffer
	orch := New(adapter, testLogger(t), WithOutput(&out))

	if _, err := orch.Run(context.Background(), "debian-11", CloneRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if got := adapter.countCommand("apt update"); got != 3 {
		t.Errorf("upgrade chain ran %d times, want 3", got)
	}
	output := out.String()
	for _, want := range []string{
		"Upgrade attempt 1 failed, retrying...",
		"Upgrade attempt 2 failed, retrying...",
	} {
		if !strings.Contains(output, want) {
			t.Errorf("output missing %q:\n%s", want, output)
		}
	}
	// Recovery within the retry budget still completes the run.
	if got := adapter.count("shutdown"); got != 1 {
		t.Errorf("shutdown called %d times, want 1", got)
	}
}

func TestRunAbortsAfterRetryExhaustion(t *testing.T) {
	adapter := &fakeAdapter{
		features: map[string]string{
			featureDistribution: "fedora",
			featureVersion:      "40",
		},
		rules: []runRule{
			{match: "distro-sync", fails: -1},
		},
	}
	var out bytes.Buffer
	orch := New(adapter, testLogger(t), WithOutput(&out))

	_, err := orch.Run(context.Background(), "fedora-40", CloneRequest{})
	if err == nil {
		t.Fatal("expected an error after retry exhaustion")
	}
	if !IsPackageOp(err) {
		t.Errorf("error class = %v, want package operation error", err)
	}

	if got := adapter.countCommand("distro-sync"); got != maxUpgradeAttempts {
		t.Errorf("package operation ran %d times, want %d", got, maxUpgradeAttempts)
	}
	// Nothing downstream of a fatal step may run.
	if got := adapter.count("post-install"); got != 0 {
		t.Errorf("post-install called %d times after a fatal failure, want 0", got)
	}
	if got := adapter.count("shutdown"); got != 0 {
		t.Errorf("shutdown called %d times after a fatal failure, want 0", got)
	}
}

func TestRunTrimFailureIsNonFatal(t *testing.T) {
	adapter := &fakeAdapter{
		features: map[string]string{
			featureDistribution: "debian",
			featureVersion:      "bookworm",
		},
		rules: []runRule{
			{match: "fstrim", fails: -1},
		},
	}
	var out bytes.Buffer
	orch := New(adapter, testLogger(t), WithOutput(&out))

	if _, err := orch.Run(context.Background(), "debian-12", CloneRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(out.String(), "Warning: trim failed, continuing.") {
		t.Errorf("output missing trim warning:\n%s", out.String())
	}
	if got := adapter.count("shutdown"); got != 1 {
		t.Errorf("shutdown called %d times, want 1", got)
	}
}

func TestRunCloneFailureLeavesOriginalUntouched(t *testing.T) {
	adapter := &fakeAdapter{
		features: map[string]string{
			featureDistribution: "debian",
			featureVersion:      "bookworm",
		},
		cloneErr: context.DeadlineExceeded,
	}
	var out bytes.Buffer
	orch := New(adapter, testLogger(t), WithOutput(&out))

	_, err := orch.Run(context.Background(), "debian-12", CloneRequest{Enabled: true, NewName: "debian-13-test"})
	if err == nil {
		t.Fatal("expected an error when cloning fails")
	}
	if !IsClone(err) {
		t.Errorf("error class = %v, want clone error", err)
	}
	// No command may touch the source template after the clone fails.
	for _, c := range adapter.calls {
		if c.op == "run" || c.op == "start" || c.op == "shutdown" {
			t.Errorf("%s ran on %q after a failed clone", c.op, c.vm)
		}
	}
}

// recordingStore captures history writes for assertions.
type recordingStore struct {
	stores.Store

	runs   []stores.Run
	events []stores.Event
	status stores.RunStatus
}

func (s *recordingStore) CreateRun(_ context.Context, run *stores.Run) error {
	s.runs = append(s.runs, *run)
	return nil
}

func (s *recordingStore) FinishRun(_ context.Context, _ string, status stores.RunStatus, _ string) error {
	s.status = status
	return nil
}

func (s *recordingStore) AppendEvent(_ context.Context, event *stores.Event) error {
	s.events = append(s.events, *event)
	return nil
}

func TestRunRecordsHistory(t *testing.T) {
	adapter := &fakeAdapter{
		features: map[string]string{
			featureDistribution: "fedora",
			featureVersion:      "39",
		},
	}
	store := &recordingStore{}
	var out bytes.Buffer
	orch := New(adapter, testLogger(t), WithOutput(&out), WithStore(store))

	if _, err := orch.Run(context.Background(), "fedora-39", CloneRequest{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(store.runs) != 1 {
		t.Fatalf("recorded %d runs, want 1", len(store.runs))
	}
	run := store.runs[0]
	if run.Template != "fedora-39" || run.Family != "fedora" || run.FromVersion != "39" || run.ToVersion != "40" {
		t.Errorf("recorded run = %+v", run)
	}
	if run.StartedAt.After(time.Now()) {
		t.Errorf("run start time %v is in the future", run.StartedAt)
	}
	if store.status != stores.RunStatusSucceeded {
		t.Errorf("final status = %q, want succeeded", store.status)
	}
	// One event per procedure step: start, distro-sync, reconcile, shutdown.
	if len(store.events) != 4 {
		t.Errorf("recorded %d events, want 4: %+v", len(store.events), store.events)
	}
	for _, ev := range store.events {
		if ev.Level != stores.EventLevelInfo {
			t.Errorf("event %q level = %q, want info", ev.Step, ev.Level)
		}
	}
}
