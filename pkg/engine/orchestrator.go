package engine

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/kennethrrosen/qubes-template-upgrade/pkg/qvm"
	"github.com/kennethrrosen/qubes-template-upgrade/pkg/stores"
	"github.com/kennethrrosen/qubes-template-upgrade/pkg/telemetry"
)

// Orchestrator sequences one template upgrade: fingerprint, transition
// lookup, procedure dispatch, and post-upgrade metadata reconciliation.
// It performs no retries itself; retries are local to the package operation
// step of each procedure.
type Orchestrator struct {
	adapter  qvm.Adapter
	resolver *Resolver
	store    stores.Store
	log      *telemetry.Logger
	tracer   *telemetry.Tracer
	out      io.Writer
	validate *validator.Validate
}

// Option configures the Orchestrator.
type Option func(*Orchestrator)

// WithStore enables run-history recording. Recording is best-effort: a
// store failure never aborts an upgrade.
func WithStore(store stores.Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithTracer enables tracing of the run and its steps.
func WithTracer(tracer *telemetry.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// WithOutput redirects the progress stream (default os.Stdout).
func WithOutput(w io.Writer) Option {
	return func(o *Orchestrator) { o.out = w }
}

// New creates an Orchestrator bound to a platform adapter.
func New(adapter qvm.Adapter, log *telemetry.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		adapter:  adapter,
		log:      log.NewComponentLogger("engine"),
		out:      os.Stdout,
		validate: validator.New(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.resolver = NewResolver(adapter, log)
	return o
}

// Run upgrades one template to the next release of its OS family, optionally
// cloning it first. It returns the final working identity: the clone's name
// when cloning was requested, the template itself otherwise.
func (o *Orchestrator) Run(ctx context.Context, template string, clone CloneRequest) (string, error) {
	// Validate the clone request shape before any platform call.
	if err := o.validate.Struct(clone); err != nil {
		return "", NewIdentityError("new template name required when cloning", err).WithTemplate(template)
	}

	progress := newReporter(o.out)
	log := o.log.WithTemplate(template)

	progress.print("Determining template type and version...")
	fp, err := o.resolver.Resolve(ctx, template)
	if err != nil {
		return "", err
	}
	progress.printf("Template type: %s", fp.Family)
	progress.printf("Template version: %s", fp.Version)

	plan, err := BuildPlan(fp)
	if err != nil {
		return "", err
	}
	log.Infof("upgrade plan: %s %s -> %s", plan.Source.Family, plan.Source.Version, plan.Target)

	runID := uuid.New().String()
	log = log.WithRunID(runID)

	// The final identity is known up front: the clone target when cloning,
	// the template itself otherwise.
	working := template
	if clone.Enabled {
		working = clone.NewName
	}

	if o.tracer != nil {
		runCtx, span := o.tracer.StartRunSpan(ctx, runID, template)
		span.SetAttributes(
			telemetry.AttrFamily.String(string(fp.Family)),
			telemetry.AttrVersion.String(fp.Version),
			telemetry.AttrTarget.String(plan.Target),
		)
		ctx = runCtx
		defer span.End()
		defer func() {
			if err != nil {
				telemetry.RecordError(span, err)
			} else {
				telemetry.RecordSuccess(span)
			}
		}()
	}

	o.recordStart(ctx, runID, template, working, clone, plan)

	proc := &procedure{
		adapter:  o.adapter,
		log:      log,
		tracer:   o.tracer,
		progress: progress,
		observe:  o.stepObserver(ctx, runID),
		working:  template,
	}

	err = proc.execute(ctx, o.buildSteps(proc, template, clone, plan))
	o.recordFinish(ctx, runID, err)
	if err != nil {
		return "", err
	}

	progress.printf("Upgrade to %s completed successfully for %s.", plan.Target, proc.working)
	return proc.working, nil
}

// buildSteps assembles the full step list for the plan's OS family. Both
// families share the clone, start, reconcile, and shutdown steps; only the
// middle differs.
func (o *Orchestrator) buildSteps(proc *procedure, template string, clone CloneRequest, plan Plan) []step {
	var steps []step

	if clone.Enabled {
		steps = append(steps, step{
			name:    "clone",
			message: fmt.Sprintf("Cloning %s to %s...", template, clone.NewName),
			run: func(ctx context.Context) error {
				// On failure the original template is left untouched.
				if err := o.adapter.Clone(ctx, template, clone.NewName); err != nil {
					return NewCloneError(
						fmt.Sprintf("failed to clone %s to %s", template, clone.NewName), err,
					).WithStep("clone").WithTemplate(template)
				}
				// All subsequent steps operate on the clone.
				proc.working = clone.NewName
				return nil
			},
		})
	}

	working := template
	if clone.Enabled {
		working = clone.NewName
	}

	steps = append(steps, step{
		name:    "ensure-running",
		message: fmt.Sprintf("Starting %s...", working),
		run: proc.platformCall("ensure-running", "failed to start VM", func(ctx context.Context, vm string) error {
			return o.adapter.StartIfNotRunning(ctx, vm)
		}),
	})

	switch plan.Source.Family {
	case FamilyDebian:
		steps = append(steps, debianSteps(proc, plan)...)
	case FamilyFedora:
		steps = append(steps, fedoraSteps(proc, plan)...)
	}

	steps = append(steps,
		step{
			name:    "reconcile-metadata",
			message: "Refreshing template metadata...",
			run: proc.platformCall("reconcile-metadata", "failed to trigger post-install hook", func(ctx context.Context, vm string) error {
				return o.adapter.TriggerPostInstall(ctx, vm)
			}),
		},
		step{
			name:    "shutdown",
			message: fmt.Sprintf("Shutting down %s...", working),
			run: proc.platformCall("shutdown", "failed to shut down VM", func(ctx context.Context, vm string) error {
				return o.adapter.WaitForShutdown(ctx, vm)
			}),
		},
	)

	return steps
}

// recordStart writes the run record. Best-effort.
func (o *Orchestrator) recordStart(ctx context.Context, runID, template, working string, clone CloneRequest, plan Plan) {
	if o.store == nil {
		return
	}
	now := time.Now()
	run := &stores.Run{
		ID:          runID,
		Template:    template,
		FinalName:   working,
		Family:      string(plan.Source.Family),
		FromVersion: plan.Source.Version,
		ToVersion:   plan.Target,
		Cloned:      clone.Enabled,
		Status:      stores.RunStatusRunning,
		StartedAt:   now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := o.store.CreateRun(ctx, run); err != nil {
		o.log.WithError(err).Warn("failed to record run start")
	}
}

// recordFinish closes out the run record. Best-effort.
func (o *Orchestrator) recordFinish(ctx context.Context, runID string, runErr error) {
	if o.store == nil {
		return
	}
	status := stores.RunStatusSucceeded
	message := ""
	if runErr != nil {
		status = stores.RunStatusFailed
		message = runErr.Error()
	}
	if err := o.store.FinishRun(ctx, runID, status, message); err != nil {
		o.log.WithError(err).Warn("failed to record run completion")
	}
}

// stepObserver returns the per-step history hook, or nil without a store.
func (o *Orchestrator) stepObserver(ctx context.Context, runID string) StepObserver {
	if o.store == nil {
		return nil
	}
	return func(stepName string, stepErr error) {
		event := &stores.Event{
			RunID:     runID,
			Step:      stepName,
			Level:     stores.EventLevelInfo,
			Message:   "completed",
			CreatedAt: time.Now(),
		}
		if stepErr != nil {
			event.Level = stores.EventLevelError
			event.Message = stepErr.Error()
		}
		if err := o.store.AppendEvent(ctx, event); err != nil {
			o.log.WithError(err).Warn("failed to record step event")
		}
	}
}
