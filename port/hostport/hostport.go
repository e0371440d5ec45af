// Package hostport declares the narrow capability interfaces the core
// consumes from its GUI host, per spec.md §6 ("External Interfaces").
// The core never reads global settings or owns a display/thread-pool
// implementation directly — it takes these as constructor arguments,
// generalizing the Python source's SettingsManager/ThreadManager
// globals into explicit capabilities (Design Notes §9).
package hostport

import "time"

// Settings is a read-mostly capability over host configuration. Get
// returns the zero value's type asserted against default when the key
// is absent; Set/Save are used only by the rotation-transition cycling
// logic to persist the chosen transition name back to the host.
type Settings interface {
	Get(key string, fallback any) any
	Set(key string, value any)
	Save() error
}

// DisplayMode mirrors the host's scaling-mode configuration string
// (e.g. "fill", "fit", "stretch"); the core treats it opaquely.
type DisplayMode string

// Display dispatches a decoded image to one or all monitors.
type Display interface {
	Show(ref any, pixmap any, mode DisplayMode) error
	ShowError(msg string)
}

// Job is a unit of work submitted to a worker pool. Results never
// unwind as panics across the pool boundary — they're reported through
// the callback passed to SubmitIO/SubmitCompute (Design Notes §9:
// "Exceptions as control flow in background tasks" is replaced with
// result types carrying {success, result, error}).
type Job func() (result any, err error)

// ThreadPool is the capability the engine uses to run I/O and compute
// work off the engine thread, and to schedule recurring timers.
type ThreadPool interface {
	SubmitIO(job Job, cb func(result any, err error))
	SubmitCompute(job Job, cb func(result any, err error))
	ScheduleRecurring(interval time.Duration, job func()) (cancel func())
	RunOnUI(job func())
}
