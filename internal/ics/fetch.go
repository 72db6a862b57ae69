package ics

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	neturl "net/url"
	"time"

	appLog "epddash/internal/log"
)

// ErrStatus is wrapped by fetch errors caused by a non-2xx response.
var ErrStatus = errors.New("ics: unexpected HTTP status")

// ErrTooLarge is returned when a feed body exceeds maxBodyBytes.
var ErrTooLarge = errors.New("ics: feed body too large")

// maxBodyBytes bounds how much of a feed is read into memory.
const maxBodyBytes = 16 << 20

// Fetcher retrieves the raw body of a feed.
type Fetcher interface {
	Fetch(ctx context.Context, url string) ([]byte, error)
}

// HTTPFetcher fetches feeds over HTTP(S).
type HTTPFetcher struct {
	client *http.Client
	// limit overrides maxBodyBytes when positive.
	limit int64
}

func (f *HTTPFetcher) maxBody() int64 {
	if f.limit > 0 {
		return f.limit
	}
	return maxBodyBytes
}

// NewHTTPFetcher creates a fetcher whose requests time out after timeout
// (15s if zero).
func NewHTTPFetcher(timeout time.Duration) *HTTPFetcher {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &HTTPFetcher{
		client: &http.Client{Timeout: timeout},
	}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, errors.New("ics: feed URL is empty")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("ics: build request: %w", err)
	}
	req.Header.Set("Accept", "text/calendar, */*;q=0.5")

	appLog.Debug("ics fetch start", "url", appLog.RedactURL(url))

	resp, err := f.client.Do(req)
	if err != nil {
		// *url.Error repeats the full URL, which embeds the feed's secret.
		var uerr *neturl.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return nil, fmt.Errorf("ics: fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
		return nil, fmt.Errorf("%w: %s", ErrStatus, resp.Status)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody()+1))
	if err != nil {
		return nil, fmt.Errorf("ics: read body: %w", err)
	}
	if int64(len(body)) > f.maxBody() {
		return nil, fmt.Errorf("%w: more than %d bytes", ErrTooLarge, f.maxBody())
	}

	appLog.Debug("ics fetch success", "url", appLog.RedactURL(url), "bytes", len(body))
	return body, nil
}
