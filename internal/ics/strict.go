package ics

import (
	"fmt"
	"sort"
	"strings"

	ical "github.com/arran4/golang-ical"
)

// StrictParser parses feeds with golang-ical and rejects documents the
// library cannot read. It produces the same Properties tables as
// LenientParser so the rest of the pipeline is unchanged.
type StrictParser struct{}

func (StrictParser) Parse(text string) ([]*Properties, error) {
	cal, err := ical.ParseCalendar(strings.NewReader(Unfold(text)))
	if err != nil {
		return nil, fmt.Errorf("ics: strict parse: %w", err)
	}

	events := cal.Events()
	out := make([]*Properties, 0, len(events))
	for _, ve := range events {
		props := NewProperties()
		for _, p := range ve.Properties {
			props.Add(propertyKey(p.IANAToken, p.ICalParameters), p.Value)
		}
		out = append(out, props)
	}
	return out, nil
}

// propertyKey rebuilds "NAME;P1=a;P2=b,c" from a parsed property. Parameter
// order is not preserved by the library, so names are sorted.
func propertyKey(token string, params map[string][]string) string {
	if len(params) == 0 {
		return token
	}
	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	b.WriteString(token)
	for _, name := range names {
		b.WriteString(";")
		b.WriteString(name)
		b.WriteString("=")
		b.WriteString(strings.Join(params[name], ","))
	}
	return b.String()
}

// ParserByName maps the config value to a Parser. Anything other than
// "strict" selects the lenient parser.
func ParserByName(name string) Parser {
	if strings.EqualFold(strings.TrimSpace(name), "strict") {
		return StrictParser{}
	}
	return LenientParser{}
}
