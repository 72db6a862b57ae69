package ics

import (
	"regexp"
	"strings"
)

// Parser turns a raw feed body into one Properties table per VEVENT, in
// document order.
type Parser interface {
	Parse(text string) ([]*Properties, error)
}

// Properties is the raw property table of a single VEVENT. Keys are kept
// verbatim, including any parameter suffix ("DTSTART;TZID=Europe/Warsaw"),
// and repeated keys accumulate values in order.
type Properties struct {
	keys   []string
	values map[string][]string
}

func NewProperties() *Properties {
	return &Properties{values: make(map[string][]string)}
}

// Add appends value to key, remembering first-seen key order.
func (p *Properties) Add(key, value string) {
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = append(p.values[key], value)
}

// Keys returns the keys in first-seen order.
func (p *Properties) Keys() []string {
	return p.keys
}

// Values returns all values recorded for the exact key.
func (p *Properties) Values(key string) []string {
	return p.values[key]
}

// Lookup returns the first value for base. When the exact key is absent the
// first parameterized variant "<base>;..." is used instead. The matched key
// is returned so callers can inspect its parameters.
func (p *Properties) Lookup(base string) (key, value string, ok bool) {
	if vs := p.values[base]; len(vs) > 0 {
		return base, vs[0], true
	}
	prefix := base + ";"
	for _, k := range p.keys {
		if strings.HasPrefix(k, prefix) && len(p.values[k]) > 0 {
			return k, p.values[k][0], true
		}
	}
	return "", "", false
}

// Param returns the value of a ";NAME=value" parameter embedded in key.
func Param(key, name string) (string, bool) {
	parts := strings.Split(key, ";")
	for _, part := range parts[1:] {
		k, v, found := strings.Cut(part, "=")
		if found && strings.EqualFold(k, name) {
			return strings.Trim(v, `"`), true
		}
	}
	return "", false
}

var (
	foldRe   = regexp.MustCompile(`(\r\n|\n|\r)[ \t]`)
	veventRe = regexp.MustCompile(`(?s)BEGIN:VEVENT(.*?)END:VEVENT`)
	lineRe   = regexp.MustCompile(`\r?\n`)
)

// Unfold removes RFC 5545 line folding: a line break followed by a space or
// tab joins the continuation onto the previous line. Nothing else changes.
func Unfold(text string) string {
	return foldRe.ReplaceAllString(text, "")
}

// LenientParser scans for BEGIN:VEVENT ... END:VEVENT regions with a regular
// expression instead of a grammar. Malformed lines are skipped and it never
// fails, which suits the slightly broken feeds real providers publish.
type LenientParser struct{}

func (LenientParser) Parse(text string) ([]*Properties, error) {
	unfolded := Unfold(text)

	matches := veventRe.FindAllStringSubmatch(unfolded, -1)
	out := make([]*Properties, 0, len(matches))
	for _, m := range matches {
		out = append(out, parseBlock(m[1]))
	}
	return out, nil
}

func parseBlock(block string) *Properties {
	props := NewProperties()
	for _, line := range lineRe.Split(block, -1) {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		idx := strings.Index(line, ":")
		if idx <= 0 {
			continue
		}
		props.Add(line[:idx], line[idx+1:])
	}
	return props
}
