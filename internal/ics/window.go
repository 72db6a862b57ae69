package ics

import "time"

// DefaultLookAhead is how far past "now" an event may start and still be shown.
const DefaultLookAhead = 3 * 24 * time.Hour

// Window is the time range events are selected against.
type Window struct {
	Now time.Time
	End time.Time
}

// NewWindow returns the window [now, now+lookAhead]. A non-positive
// lookAhead uses DefaultLookAhead.
func NewWindow(now time.Time, lookAhead time.Duration) Window {
	if lookAhead <= 0 {
		lookAhead = DefaultLookAhead
	}
	return Window{Now: now, End: now.Add(lookAhead)}
}
