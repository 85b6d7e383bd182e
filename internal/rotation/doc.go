// Package rotation implements the status rotation scheduler: it owns the
// animation lifecycle (start/stop/advance), selects the next step
// (sequential or randomized, optionally filtered by category), applies it
// with bounded retries, and reacts to interval changes without losing
// rotation progress.
//
// # Lifecycle
//
// A run starts with Start(): the step list is read, filtered by the given
// category, step 0 is applied (with retries), and a repeating timer is armed.
// Every tick re-reads the current config (steps may be edited externally
// between ticks), selects the next step, and applies it. A run ends on
// Stop(), when the filtered step set becomes empty, or when an apply
// exhausts its retries.
//
// The category filter is fixed for the lifetime of a run. Changing the
// active category externally does not affect a run in flight; callers stop
// and start again with the new category.
//
// # Concurrency
//
// One goroutine drives all rotation activity for a run, so ticks never
// overlap. External Start/Stop/ReconfigureInterval calls serialize on the
// service mutex; a 2s throttle guard in advance absorbs bursts from rapid
// reconfiguration.
package rotation
