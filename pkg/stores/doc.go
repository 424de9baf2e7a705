// Package stores persists upgrade run history in SQLite.
//
// Each invocation of the upgrade tool records one run (template, OS family,
// release transition, final status) plus one event per procedure step. The
// schema is managed with embedded golang-migrate migrations; the database
// uses WAL mode so a concurrent history query never blocks a recording
// write.
//
// Recording is best-effort: the engine logs and ignores store failures
// rather than aborting an upgrade over bookkeeping.
package stores
