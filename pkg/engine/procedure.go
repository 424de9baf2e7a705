package engine

import (
	"context"
	"fmt"
	"io"

	"github.com/kennethrrosen/qubes-template-upgrade/pkg/qvm"
	"github.com/kennethrrosen/qubes-template-upgrade/pkg/telemetry"
)

// step is one unit of an upgrade procedure.
type step struct {
	// name is the short identifier used in logs, spans, and events.
	name string

	// message is the human-readable progress line.
	message string

	// nonFatal steps report failure without aborting the procedure.
	nonFatal bool

	run func(ctx context.Context) error
}

// StepObserver is notified after each step with its outcome. Used to record
// run history; a nil observer is valid.
type StepObserver func(stepName string, err error)

// procedure executes an ordered step list against a working VM identity.
// Both OS family procedures share this skeleton; only the middle steps
// differ. The working identity is rebound by the clone step, so closures
// must read it at run time.
type procedure struct {
	adapter  qvm.Adapter
	log      *telemetry.Logger
	tracer   *telemetry.Tracer
	progress *reporter
	observe  StepObserver

	// working is the identity all steps operate on. Starts as the source
	// template; the clone step rebinds it to the clone's name.
	working string
}

// execute runs the steps in order. The first fatal failure aborts; non-fatal
// failures are reported and skipped.
func (p *procedure) execute(ctx context.Context, steps []step) error {
	total := len(steps)

	for i, st := range steps {
		p.progress.step(i+1, total, st.message)

		stepCtx := ctx
		log := p.log.WithStep(st.name)

		var end func(error)
		if p.tracer != nil {
			spanCtx, span := p.tracer.StartStepSpan(ctx, st.name, p.working)
			stepCtx = spanCtx
			end = func(err error) {
				if err != nil {
					telemetry.RecordError(span, err)
				} else {
					telemetry.RecordSuccess(span)
				}
				span.End()
			}
		}

		err := st.run(stepCtx)
		if end != nil {
			end(err)
		}
		if p.observe != nil {
			p.observe(st.name, err)
		}

		if err != nil {
			if st.nonFatal {
				log.WithError(err).Warn("step failed; continuing")
				p.progress.printf("Warning: %s failed, continuing.", st.name)
				continue
			}
			log.WithError(err).Error("step failed")
			return err
		}
		log.Debug("step completed")
	}

	return nil
}

// platformCall wraps an adapter call as a step body, classifying failures
// as platform errors.
func (p *procedure) platformCall(stepName, message string, call func(ctx context.Context, vm string) error) func(context.Context) error {
	return func(ctx context.Context) error {
		if err := call(ctx, p.working); err != nil {
			return NewPlatformError(message, err).WithStep(stepName).WithTemplate(p.working)
		}
		return nil
	}
}

// packageOperation wraps a composite privileged package command as a step
// body with the bounded retry loop shared by both family procedures.
func (p *procedure) packageOperation(stepName, command string) func(context.Context) error {
	return func(ctx context.Context) error {
		err := withRetry(ctx, maxUpgradeAttempts, func(ctx context.Context) error {
			_, err := p.adapter.Run(ctx, p.working, command, qvm.RunOptions{Privileged: true, CaptureOutput: true})
			return err
		}, func(attempt int, err error) {
			p.log.WithStep(stepName).WithError(err).
				Warnf("package operation failed on attempt %d of %d", attempt, maxUpgradeAttempts)
			p.progress.printf("Upgrade attempt %d failed, retrying...", attempt)
		})
		if err != nil {
			return NewPackageOpError(
				fmt.Sprintf("package operation failed after %d attempts", maxUpgradeAttempts), err,
			).WithStep(stepName).WithTemplate(p.working)
		}
		return nil
	}
}

// reporter writes the human-readable progress stream. Step lines carry a
// "(current/total)" pair that graphical front-ends parse for a progress
// indicator; plain lines are informational.
type reporter struct {
	w io.Writer
}

func newReporter(w io.Writer) *reporter {
	return &reporter{w: w}
}

func (r *reporter) step(current, total int, message string) {
	fmt.Fprintf(r.w, "%s (%d/%d)\n", message, current, total)
}

func (r *reporter) print(message string) {
	fmt.Fprintln(r.w, message)
}

func (r *reporter) printf(format string, args ...interface{}) {
	fmt.Fprintf(r.w, format+"\n", args...)
}
