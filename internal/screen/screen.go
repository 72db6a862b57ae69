// Package screen turns the dashboard page into the 1-bit image served to
// the e-paper display.
package screen

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"epddash/internal/capture"
	"epddash/internal/convert"
	appLog "epddash/internal/log"
)

// Frame is one rendered screen.
type Frame struct {
	Image      []byte // 1-bit PNG
	Plane      []byte // packed 1bpp plane of the same pixels
	Width      int
	Height     int
	Hash       string // hex sha256 of Image
	RenderedAt time.Time
}

// Screen captures the dashboard page and keeps the latest frame.
type Screen struct {
	capturer capture.Capturer
	pageURL  string
	output   string

	renderMu sync.Mutex

	mu     sync.RWMutex
	latest *Frame
}

// New returns a Screen that captures pageURL. If output is non-empty each
// frame is also written there.
func New(c capture.Capturer, pageURL, output string) *Screen {
	return &Screen{
		capturer: c,
		pageURL:  pageURL,
		output:   output,
	}
}

// Render captures the page and converts it into a frame. Concurrent calls are
// serialized.
func (s *Screen) Render(ctx context.Context) (Frame, error) {
	s.renderMu.Lock()
	defer s.renderMu.Unlock()

	started := time.Now()

	shot, err := s.capturer.Capture(ctx, s.pageURL)
	if err != nil {
		return Frame{}, err
	}
	mono, err := convert.ToMono(shot, convert.DefaultThreshold)
	if err != nil {
		return Frame{}, err
	}
	img := mono.PNG

	frame := Frame{
		Image:      img,
		Plane:      mono.Plane,
		Width:      mono.Width,
		Height:     mono.Height,
		Hash:       convert.Hash(img),
		RenderedAt: time.Now(),
	}

	if s.output != "" {
		if err := writeFile(s.output, img); err != nil {
			// The frame is still served over HTTP.
			appLog.Error("screen: write output failed", err, "path", s.output)
		}
	}

	s.mu.Lock()
	changed := s.latest == nil || s.latest.Hash != frame.Hash
	s.latest = &frame
	s.mu.Unlock()

	appLog.Info("screen rendered",
		"hash", frame.Hash[:12],
		"changed", changed,
		"bytes", len(img),
		"took", time.Since(started).Round(time.Millisecond),
	)
	return frame, nil
}

// Latest returns the most recent frame, if any.
func (s *Screen) Latest() (Frame, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return Frame{}, false
	}
	return *s.latest, true
}

func writeFile(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".epddash-screen-*.tmp")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

// ErrEmptySchedule is returned by Schedule for an empty cron spec.
var ErrEmptySchedule = errors.New("screen: empty refresh schedule")

// Schedule renders on every tick of the cron spec (evaluated in loc) until
// ctx is canceled. Render failures are logged and the schedule continues.
func (s *Screen) Schedule(ctx context.Context, spec string, loc *time.Location) error {
	if spec == "" {
		return ErrEmptySchedule
	}
	if loc == nil {
		loc = time.Local
	}

	c := cron.New(cron.WithLocation(loc))
	if _, err := c.AddFunc(spec, func() {
		if _, err := s.Render(ctx); err != nil {
			appLog.Error("screen: scheduled render failed", err)
		}
	}); err != nil {
		return fmt.Errorf("screen: invalid refresh schedule %q: %w", spec, err)
	}

	appLog.Info("screen scheduler started", "refresh", spec, "timezone", loc.String())
	c.Start()

	<-ctx.Done()
	<-c.Stop().Done()
	appLog.Info("screen scheduler stopped")
	return nil
}
