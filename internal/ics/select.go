package ics

import (
	"slices"
	"strings"
	"time"

	"epddash/internal/model"
)

// DefaultMaxEvents caps the number of events kept per feed.
const DefaultMaxEvents = 6

// Selector decides which resolved events appear in a feed's column.
type Selector struct {
	// LookAhead bounds how far in the future an event may start.
	// Zero means DefaultLookAhead.
	LookAhead time.Duration
	// MaxEvents caps the column length. Zero means DefaultMaxEvents.
	MaxEvents int
}

// Select keeps events that are ongoing or upcoming and start inside the
// window, sorts them by serialized start and truncates to MaxEvents.
func (s Selector) Select(events []Resolved, now time.Time) model.Column {
	w := NewWindow(now, s.LookAhead)

	kept := make(model.Column, 0, len(events))
	for _, r := range events {
		ongoing := !r.End.IsZero() && !r.End.Before(w.Now)
		upcoming := !r.Start.Before(w.Now)
		within := !r.Start.After(w.End)
		if (ongoing || upcoming) && within {
			kept = append(kept, r.Event)
		}
	}

	slices.SortStableFunc(kept, func(a, b model.Event) int {
		return strings.Compare(a.Start, b.Start)
	})

	limit := s.MaxEvents
	if limit <= 0 {
		limit = DefaultMaxEvents
	}
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept
}
