package ics

import (
	"context"
	"fmt"
	"time"

	appLog "epddash/internal/log"
	"epddash/internal/model"
)

// FeedStatus describes how a feed's column was produced.
type FeedStatus string

const (
	FeedCached      FeedStatus = "cached"
	FeedFetched     FeedStatus = "fetched"
	FeedFetchFailed FeedStatus = "fetch_failed"
	FeedParseFailed FeedStatus = "parse_failed"
)

// FeedReport is the per-feed diagnostic returned next to a ColumnSet.
// A failed feed still yields an empty column; the report is the only place
// the failure is visible.
type FeedReport struct {
	Index  int        `json:"index"`
	URL    string     `json:"url"` // redacted
	Status FeedStatus `json:"status"`
	Events int        `json:"events"`
	Err    string     `json:"error,omitempty"`
}

// Options configures a Columns orchestrator. Zero values pick defaults.
type Options struct {
	Parser     Parser
	Cache      Cache
	Normalizer Normalizer
	Selector   Selector
}

// Columns turns a list of feed URLs into the dashboard's ColumnSet.
type Columns struct {
	fetcher    Fetcher
	parser     Parser
	cache      Cache
	normalizer Normalizer
	selector   Selector
}

func NewColumns(fetcher Fetcher, opts Options) *Columns {
	if opts.Parser == nil {
		opts.Parser = LenientParser{}
	}
	if opts.Cache == nil {
		opts.Cache = NewMemoryCache(DefaultCacheTTL)
	}
	return &Columns{
		fetcher:    fetcher,
		parser:     opts.Parser,
		cache:      opts.Cache,
		normalizer: opts.Normalizer,
		selector:   opts.Selector,
	}
}

// Build returns exactly model.ColumnCount columns for urls, in URL order.
// Missing columns are empty and URLs past the last column are dropped.
// Per-feed failures produce empty columns and never fail the call.
func (c *Columns) Build(ctx context.Context, urls []string, now time.Time) model.ColumnSet {
	cs, _ := c.BuildWithReport(ctx, urls, now)
	return cs
}

// BuildWithReport is Build plus one FeedReport per input URL.
func (c *Columns) BuildWithReport(ctx context.Context, urls []string, now time.Time) (model.ColumnSet, []FeedReport) {
	cs := model.NewColumnSet()
	reports := make([]FeedReport, 0, len(urls))

	// Every URL is processed (and cached) even past the last column; only
	// the result is truncated.
	for i, url := range urls {
		col, rep := c.feed(ctx, url, now)
		rep.Index = i
		reports = append(reports, rep)
		if i < len(cs) {
			cs[i] = col
		}
	}

	return cs, reports
}

func (c *Columns) feed(ctx context.Context, url string, now time.Time) (col model.Column, rep FeedReport) {
	rep.URL = appLog.RedactURL(url)

	if cached, ok := c.cache.Get(url, now); ok {
		rep.Status = FeedCached
		rep.Events = len(cached)
		return cached, rep
	}

	body, err := c.fetcher.Fetch(ctx, url)
	if err != nil {
		appLog.Error("ics feed fetch failed", err, "url", rep.URL)
		rep.Status = FeedFetchFailed
		rep.Err = err.Error()
		return model.Column{}, rep
	}

	col, err = c.Process(string(body), now)
	if err != nil {
		appLog.Error("ics feed parse failed", err, "url", rep.URL)
		rep.Status = FeedParseFailed
		rep.Err = err.Error()
		return model.Column{}, rep
	}

	c.cache.Put(url, now, col)
	rep.Status = FeedFetched
	rep.Events = len(col)
	appLog.Info("ics feed refreshed", "url", rep.URL, "events", len(col))
	return col, rep
}

// Process runs parse, normalize and select over a feed body. A panic in
// the parser is recovered and reported as an error.
func (c *Columns) Process(text string, now time.Time) (col model.Column, err error) {
	defer func() {
		if r := recover(); r != nil {
			col = nil
			err = fmt.Errorf("ics: parser panic: %v", r)
		}
	}()

	tables, err := c.parser.Parse(text)
	if err != nil {
		return nil, err
	}

	resolved := make([]Resolved, 0, len(tables))
	for _, props := range tables {
		r, ok := c.normalizer.Resolve(props)
		if !ok {
			continue
		}
		resolved = append(resolved, r)
	}

	return c.selector.Select(resolved, now), nil
}
