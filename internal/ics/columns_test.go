package ics

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"epddash/internal/model"
)

type fakeFetcher struct {
	mu     sync.Mutex
	bodies map[string]string
	calls  map[string]int
}

func newFakeFetcher(bodies map[string]string) *fakeFetcher {
	return &fakeFetcher{bodies: bodies, calls: make(map[string]int)}
}

func (f *fakeFetcher) Fetch(_ context.Context, url string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[url]++
	body, ok := f.bodies[url]
	if !ok {
		return nil, errors.New("connection refused")
	}
	return []byte(body), nil
}

func (f *fakeFetcher) total() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, c := range f.calls {
		n += c
	}
	return n
}

func twoEventFeed() string {
	return calendar(
		vevent("UID:1", "SUMMARY:Planning", "DTSTART:20251206T140000Z", "DTEND:20251206T150000Z"),
		vevent("UID:2", "SUMMARY:Retro", "DTSTART:20251207T090000Z"),
		vevent("UID:3", "SUMMARY:Last week", "DTSTART:20251129T090000Z"),
	)
}

func TestBuild_AlwaysThreeColumns(t *testing.T) {
	all := []string{"u1", "u2", "u3", "u4", "u5"}
	bodies := map[string]string{}
	for _, u := range all {
		bodies[u] = twoEventFeed()
	}

	for _, n := range []int{0, 1, 2, 3, 5} {
		c := NewColumns(newFakeFetcher(bodies), Options{})
		cs := c.Build(context.Background(), all[:n], testNow)
		if len(cs) != model.ColumnCount {
			t.Fatalf("n=%d: %d columns", n, len(cs))
		}
		for i, col := range cs {
			if col == nil {
				t.Errorf("n=%d: column %d is nil", n, i)
			}
			wantLen := 0
			if i < n {
				wantLen = 2
			}
			if len(col) != wantLen {
				t.Errorf("n=%d: column %d has %d events, want %d", n, i, len(col), wantLen)
			}
		}
	}
}

func TestBuild_CacheHitAvoidsRefetch(t *testing.T) {
	f := newFakeFetcher(map[string]string{"u1": twoEventFeed(), "u2": twoEventFeed()})
	c := NewColumns(f, Options{Cache: NewMemoryCache(time.Minute)})
	urls := []string{"u1", "u2"}

	first := c.Build(context.Background(), urls, testNow)
	if f.total() != 2 {
		t.Fatalf("first build made %d fetches, want 2", f.total())
	}

	second := c.Build(context.Background(), urls, testNow.Add(30*time.Second))
	if f.total() != 2 {
		t.Errorf("second build within TTL fetched again (%d calls)", f.total())
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached result differs:\n%v\n%v", first, second)
	}

	c.Build(context.Background(), urls, testNow.Add(2*time.Minute))
	if f.total() != 4 {
		t.Errorf("build after TTL should refetch, calls = %d", f.total())
	}
}

func TestBuild_FailedFeedIsNotCached(t *testing.T) {
	f := newFakeFetcher(map[string]string{})
	c := NewColumns(f, Options{})

	c.Build(context.Background(), []string{"down"}, testNow)
	c.Build(context.Background(), []string{"down"}, testNow.Add(time.Second))
	if f.total() != 2 {
		t.Errorf("failed feed should be retried, calls = %d", f.total())
	}
}

func TestBuildWithReport_PerFeedIsolation(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/down.ics", func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusInternalServerError)
	})
	mux.HandleFunc("/ok.ics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/calendar")
		_, _ = w.Write([]byte(twoEventFeed()))
	})
	mux.HandleFunc("/empty.ics", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(calendar()))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewColumns(NewHTTPFetcher(5*time.Second), Options{})
	urls := []string{srv.URL + "/down.ics", srv.URL + "/ok.ics", srv.URL + "/empty.ics"}

	cs, reports := c.BuildWithReport(context.Background(), urls, testNow)

	if len(cs[0]) != 0 || len(cs[1]) != 2 || len(cs[2]) != 0 {
		t.Fatalf("column sizes = %d,%d,%d; want 0,2,0", len(cs[0]), len(cs[1]), len(cs[2]))
	}
	if cs[1][0].Summary != "Planning" || cs[1][1].Summary != "Retro" {
		t.Errorf("unexpected events: %+v", cs[1])
	}
	if cs[1][1].End != "2025-12-07T10:00:00.000Z" {
		t.Errorf("default end = %s", cs[1][1].End)
	}

	wantStatus := []FeedStatus{FeedFetchFailed, FeedFetched, FeedFetched}
	if len(reports) != 3 {
		t.Fatalf("%d reports, want 3", len(reports))
	}
	for i, rep := range reports {
		if rep.Status != wantStatus[i] {
			t.Errorf("report %d status = %s, want %s", i, rep.Status, wantStatus[i])
		}
		if rep.Index != i {
			t.Errorf("report %d index = %d", i, rep.Index)
		}
	}
	if reports[0].Err == "" {
		t.Error("failed feed should carry an error message")
	}
}

func TestHTTPFetcher_Status(t *testing.T) {
	tests := []struct {
		status  int
		wantErr bool
	}{
		{http.StatusOK, false},
		{http.StatusNonAuthoritativeInfo, false},
		{http.StatusPartialContent, false},
		{http.StatusNotModified, true},
		{http.StatusNotFound, true},
		{http.StatusInternalServerError, true},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(twoEventFeed()))
			}))
			defer srv.Close()

			body, err := NewHTTPFetcher(0).Fetch(context.Background(), srv.URL)
			if tt.wantErr {
				if !errors.Is(err, ErrStatus) {
					t.Errorf("err = %v, want ErrStatus", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Fetch: %v", err)
			}
			if !strings.Contains(string(body), "BEGIN:VEVENT") {
				t.Errorf("body = %q", body)
			}
		})
	}

	if _, err := NewHTTPFetcher(0).Fetch(context.Background(), ""); err == nil {
		t.Error("empty URL should fail")
	}
}

func TestBuildWithReport_NonAuthoritativeIsSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNonAuthoritativeInfo)
		_, _ = w.Write([]byte(twoEventFeed()))
	}))
	defer srv.Close()

	c := NewColumns(NewHTTPFetcher(5*time.Second), Options{})
	cs, reports := c.BuildWithReport(context.Background(), []string{srv.URL}, testNow)
	if len(cs[0]) != 2 {
		t.Errorf("column len = %d, want 2", len(cs[0]))
	}
	if reports[0].Status != FeedFetched {
		t.Errorf("status = %s (%s), want %s", reports[0].Status, reports[0].Err, FeedFetched)
	}
}

func TestHTTPFetcher_BodyTooLarge(t *testing.T) {
	feed := twoEventFeed()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(feed))
	}))
	defer srv.Close()

	f := NewHTTPFetcher(0)
	f.limit = int64(len(feed))
	if _, err := f.Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("body at the limit: %v", err)
	}

	f.limit = int64(len(feed) - 1)
	if _, err := f.Fetch(context.Background(), srv.URL); !errors.Is(err, ErrTooLarge) {
		t.Errorf("err = %v, want ErrTooLarge", err)
	}
}

func TestBuild_DuplicateURLs(t *testing.T) {
	f := newFakeFetcher(map[string]string{"u1": twoEventFeed()})
	c := NewColumns(f, Options{})

	cs := c.Build(context.Background(), []string{"u1", "u1"}, testNow)

	if len(cs[0]) != 2 || !reflect.DeepEqual(cs[0], cs[1]) {
		t.Errorf("columns 0 and 1 = %+v / %+v, want equal with 2 events", cs[0], cs[1])
	}
	if len(cs[2]) != 0 {
		t.Errorf("column 2 = %+v, want empty", cs[2])
	}
	if f.total() != 1 {
		t.Errorf("fetches = %d, want 1 (second occurrence served from cache)", f.total())
	}
}

type panicParser struct{}

func (panicParser) Parse(string) ([]*Properties, error) {
	panic("unexpected structure")
}

type failingParser struct{}

func (failingParser) Parse(string) ([]*Properties, error) {
	return nil, errors.New("malformed calendar")
}

func TestBuild_ParserFailuresYieldEmptyColumn(t *testing.T) {
	for name, p := range map[string]Parser{"panic": panicParser{}, "error": failingParser{}} {
		t.Run(name, func(t *testing.T) {
			f := newFakeFetcher(map[string]string{"u1": twoEventFeed()})
			c := NewColumns(f, Options{Parser: p})

			cs, reports := c.BuildWithReport(context.Background(), []string{"u1"}, testNow)
			if len(cs[0]) != 0 {
				t.Errorf("column = %v, want empty", cs[0])
			}
			if reports[0].Status != FeedParseFailed {
				t.Errorf("status = %s, want %s", reports[0].Status, FeedParseFailed)
			}
		})
	}
}

func TestBuild_StrictParser(t *testing.T) {
	f := newFakeFetcher(map[string]string{"u1": twoEventFeed(), "u2": "garbage"})
	c := NewColumns(f, Options{Parser: StrictParser{}})

	cs := c.Build(context.Background(), []string{"u1", "u2"}, testNow)
	if len(cs[0]) != 2 {
		t.Errorf("strict column = %d events, want 2", len(cs[0]))
	}
	if len(cs[1]) != 0 {
		t.Errorf("garbage feed should give empty column, got %v", cs[1])
	}
}

func TestHTTPFetcher_ErrorOmitsURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	url := srv.URL + "/secret-token.ics"
	srv.Close()

	_, err := NewHTTPFetcher(time.Second).Fetch(context.Background(), url)
	if err == nil {
		t.Fatal("expected error from closed server")
	}
	if strings.Contains(err.Error(), "secret-token") {
		t.Errorf("error leaks feed URL: %v", err)
	}
}
