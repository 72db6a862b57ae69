package main

import (
	"context"
	"encoding/json"
	"flag"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"epddash/internal/battery"
	"epddash/internal/capture"
	"epddash/internal/config"
	"epddash/internal/ics"
	appLog "epddash/internal/log"
	"epddash/internal/model"
	"epddash/internal/screen"
	"epddash/internal/web"
)

var version = "dev"

// logFeeds lists the configured feeds with their column. Feeds past the
// last column are still refreshed but never shown.
func logFeeds(conf *config.Config) {
	column := 0
	for _, f := range conf.Feeds {
		u := strings.TrimSpace(f.URL)
		if u == "" {
			continue
		}
		column++
		name := f.Name
		if name == "" {
			name = "(unnamed)"
		}
		if column > model.ColumnCount {
			appLog.Warn("feed has no column and will not be shown",
				"name", name, "url", appLog.RedactURL(u), "position", column)
			continue
		}
		appLog.Info("feed configured", "name", name, "url", appLog.RedactURL(u), "column", column)
	}
}

// loadConfig loads the config file. When the file is missing and the
// default cannot be written back (e.g. a read-only /etc), the in-memory
// default is used.
func loadConfig(path string) (*config.Config, error) {
	conf, err := config.Load(path)
	if err != nil && conf != nil {
		appLog.Warn("could not persist default config; continuing with defaults",
			"config_path", path, "error", err.Error())
		return conf, nil
	}
	return conf, err
}

type flagConfig struct {
	configPath string
	listen     string
	once       bool
	columns    bool
}

func main() {
	flags := parseFlags()

	conf, err := loadConfig(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("epddash starting", "version", version)

	loc, err := conf.Location()
	if err != nil {
		appLog.Error("failed to load timezone; falling back to local", err, "name", conf.Timezone)
		loc = time.Local
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", loc.String(),
		"refresh", conf.RefreshCron,
		"feeds", len(conf.FeedURLs()),
		"parser", conf.Parser,
		"cache_ttl", conf.CacheTTL(),
		"look_ahead", conf.LookAhead(),
		"max_events", conf.MaxEvents,
		"once", flags.once,
	)
	logFeeds(conf)

	columns := ics.NewColumns(ics.NewHTTPFetcher(15*time.Second), ics.Options{
		Parser:     ics.ParserByName(conf.Parser),
		Cache:      ics.NewMemoryCache(conf.CacheTTL()),
		Normalizer: ics.Normalizer{Location: loc, HonorTZID: conf.HonorTZID},
		Selector:   ics.Selector{LookAhead: conf.LookAhead(), MaxEvents: conf.MaxEvents},
	})

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if flags.columns {
		cs, reports := columns.BuildWithReport(ctx, conf.FeedURLs(), time.Now())
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]any{"columns": cs, "feeds": reports})
		return
	}

	chromium := capture.Chromium{
		Width:   conf.Capture.Width,
		Height:  conf.Capture.Height,
		Timeout: conf.CaptureTimeout(),
	}
	scr := screen.New(chromium, dashboardURL(conf), conf.Capture.Output)
	srv := web.NewServer(conf, columns, scr, battery.NewCached(battery.DefaultReader(), 30*time.Second))

	srvCtx, srvCancel := context.WithCancel(ctx)
	srvErr := make(chan error, 1)
	go func() { srvErr <- srv.ListenAndServe(srvCtx) }()

	if flags.once {
		// Give the listener a moment before Chromium connects to it.
		time.Sleep(200 * time.Millisecond)
		frame, err := scr.Render(ctx)
		srvCancel()
		<-srvErr
		if err != nil {
			appLog.Error("render failed", err)
			os.Exit(1)
		}
		appLog.Info("render complete", "hash", frame.Hash, "output", conf.Capture.Output)
		return
	}

	go func() {
		if err := scr.Schedule(ctx, conf.RefreshCron, loc); err != nil {
			appLog.Error("scheduler failed", err)
			cancel()
		}
	}()

	if err := <-srvErr; err != nil {
		appLog.Error("HTTP server failed", err)
		srvCancel()
		os.Exit(1)
	}
	srvCancel()
	appLog.Info("epddash exiting")
}

// dashboardURL is the loopback URL Chromium captures. Basic auth
// credentials are embedded so the capture passes the auth middleware.
func dashboardURL(conf *config.Config) string {
	host, port, err := net.SplitHostPort(conf.Listen)
	if err != nil {
		host, port = "127.0.0.1", "8080"
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	u := url.URL{
		Scheme: "http",
		Host:   net.JoinHostPort(host, port),
		Path:   "/dashboard",
	}
	if ba := conf.BasicAuth; ba != nil && ba.Username != "" && ba.Password != "" {
		u.User = url.UserPassword(ba.Username, ba.Password)
	}
	return u.String()
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/epddash/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Render one frame and exit")
	flag.BoolVar(&cfg.columns, "columns", false, "Print the calendar columns as JSON and exit")

	flag.Parse()

	return cfg
}
