package web

import (
	"embed"
	"fmt"
	"html/template"
	"time"

	"epddash/internal/battery"
	"epddash/internal/model"
)

//go:embed templates/dashboard.html
var templatesFS embed.FS

var dashboardTmpl = template.Must(template.ParseFS(templatesFS, "templates/dashboard.html"))

const dashboardTitle = "Upcoming Meetings"

type dashboardView struct {
	Title      string
	RenderedAt string
	Battery    *battery.Status
	Width      int
	Height     int
	Columns    []columnView
}

type columnView struct {
	Title  string
	Events []eventView
}

type eventView struct {
	Summary string
	When    string
}

func newDashboardView(cs model.ColumnSet, now time.Time, loc *time.Location) dashboardView {
	v := dashboardView{
		Title:      dashboardTitle,
		RenderedAt: now.In(loc).Format("Mon Jan 2 15:04"),
		Columns:    make([]columnView, 0, len(cs)),
	}
	for i, col := range cs {
		cv := columnView{Title: fmt.Sprintf("Calendar %d", i+1)}
		for _, ev := range col {
			cv.Events = append(cv.Events, eventView{
				Summary: ev.Summary,
				When:    formatEventTime(ev.Start, ev.End, loc),
			})
		}
		v.Columns = append(v.Columns, cv)
	}
	return v
}

// formatEventTime renders the start date and time plus the end time in loc,
// e.g. "Dec 06, 2025 10:00" followed by a dash and "11:00". An unparseable
// start is shown verbatim.
func formatEventTime(start, end string, loc *time.Location) string {
	s, err := time.Parse(time.RFC3339Nano, start)
	if err != nil {
		return start
	}
	s = s.In(loc)
	out := s.Format("Jan 02, 2006 15:04")

	e, err := time.Parse(time.RFC3339Nano, end)
	if end == "" || err != nil {
		return out
	}
	return out + " — " + e.In(loc).Format("15:04")
}
