// Package engine implements the template upgrade workflow: fingerprint the
// template's OS, compute the release transition, and run the family-specific
// upgrade procedure against the VM through the platform adapter.
//
// The workflow is strictly sequential. Each in-VM command blocks until it
// completes; only the composite package operation is retried, and only up to
// a fixed bound. Every other failure aborts the run.
package engine
