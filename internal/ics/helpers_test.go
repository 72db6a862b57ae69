package ics

import (
	"strings"
	"time"
)

var testNow = time.Date(2025, 12, 6, 12, 0, 0, 0, time.UTC)

// vevent wraps property lines in a VEVENT block.
func vevent(lines ...string) string {
	return "BEGIN:VEVENT\r\n" + strings.Join(lines, "\r\n") + "\r\nEND:VEVENT\r\n"
}

// calendar wraps VEVENT blocks in a minimal VCALENDAR document.
func calendar(events ...string) string {
	var b strings.Builder
	b.WriteString("BEGIN:VCALENDAR\r\nVERSION:2.0\r\nPRODID:-//epddash//test//EN\r\n")
	for _, e := range events {
		b.WriteString(e)
	}
	b.WriteString("END:VCALENDAR\r\n")
	return b.String()
}
