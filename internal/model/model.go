package model

// ColumnCount is the number of calendar columns on the dashboard.
const ColumnCount = 3

// NoTitle is shown for events whose feed omits SUMMARY.
const NoTitle = "(no title)"

// Event is a normalized calendar event as handed to the dashboard renderer.
//
// Start and End are ISO-8601 UTC strings with millisecond precision
// (e.g. "2025-12-06T10:00:00.000Z"), so lexical order equals chronological
// order.
type Event struct {
	ID      string `json:"id,omitempty"`
	Summary string `json:"summary"`
	Start   string `json:"start"`
	End     string `json:"end,omitempty"`
}

// Column is the ordered event list of a single feed.
type Column []Event

// ColumnSet always holds exactly ColumnCount columns, one per configured
// feed in feed order. A feed that failed and a feed with no events both
// produce an empty column.
type ColumnSet [ColumnCount]Column

// NewColumnSet returns a ColumnSet whose columns are all non-nil and empty,
// so it encodes to JSON as [[],[],[]].
func NewColumnSet() ColumnSet {
	var cs ColumnSet
	for i := range cs {
		cs[i] = Column{}
	}
	return cs
}
