package events

import "time"

// Canonical event type names (Design Notes §9: "keep stringly-typed
// events for wildcard support, but provide a closed enum of canonical
// names alongside for compile-time coverage in the core").
const (
	TypeImageReady        = "image.ready"
	TypeImageFailed       = "image.failed"
	TypeRSSUpdated        = "rss.updated"
	TypeRSSFailed         = "rss.failed"
	TypeSettingsChanged   = "settings.changed"
	TypeMonitorsChanged   = "monitors.changed"
	TypeTransitionStarted = "transition.started"
	TypeTransitionDone    = "transition.complete"
)

// Event is a single published occurrence. Handled is checked by the
// bus after each subscriber call; once true, no further subscribers
// for this publish are invoked.
type Event struct {
	Type      string
	Data      any
	Source    any
	ID        string
	Timestamp time.Time
	Handled   bool
}

// MarkHandled stops further subscriber dispatch for this event.
func (e *Event) MarkHandled() {
	e.Handled = true
}
