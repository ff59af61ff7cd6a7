package main

import (
	"errors"
	"strings"

	"github.com/Laky-64/gologging"
	tg "github.com/amarnathcjd/gogram/telegram"
	"github.com/zuchzub/trackdl/pkg/config"
	"github.com/zuchzub/trackdl/pkg/core/cache"
	"github.com/zuchzub/trackdl/pkg/core/db"
	"github.com/zuchzub/trackdl/pkg/core/dl"
)

// app owns every long-lived resource of one CLI invocation.
type app struct {
	conf     *config.BotConfig
	client   *dl.Client
	stats    *dl.StatsRecorder
	store    *db.AttemptStore
	bot      *tg.Client
	platform dl.Platform
	service  *dl.Service
}

// setLogLevel maps a config level onto gologging.
func setLogLevel(level string) {
	switch strings.ToLower(level) {
	case "debug":
		gologging.SetLevel(gologging.DebugLevel)
	case "warn", "warning":
		gologging.SetLevel(gologging.WarnLevel)
	case "error":
		gologging.SetLevel(gologging.ErrorLevel)
	default:
		gologging.SetLevel(gologging.InfoLevel)
	}
}

// newApp loads the configuration and wires the pipeline. withPlatform connects to
// Telegram when credentials are configured. The caller must call close.
func newApp(logLevel string, withPlatform bool) (*app, error) {
	conf, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	if logLevel == "" {
		logLevel = conf.LogLevel
	}
	setLogLevel(logLevel)

	a := &app{conf: conf, stats: dl.NewStatsRecorder(50)}
	recorders := dl.MultiRecorder{dl.LogRecorder{}, a.stats}

	if conf.MongoUri != "" {
		dbCtx, cancel := db.Ctx()
		store, err := db.Connect(dbCtx, conf.MongoUri, conf.DbName)
		cancel()
		if err != nil {
			gologging.WarnF("[DB] Attempt log disabled: %v", err)
		} else {
			a.store = store
			recorders = append(recorders, store)
		}
	}

	a.client = dl.NewClient(dl.Options{
		APIURL:          conf.ApiUrl,
		APIKey:          conf.ApiKey,
		UserAgent:       conf.UserAgent,
		DownloadsDir:    conf.DownloadsDir,
		RequestTimeout:  conf.RequestTimeout,
		DownloadTimeout: conf.DownloadTimeout,
		MaxRetries:      conf.MaxRetries,
		BackoffFactor:   conf.BackoffFactor,
		Recorder:        recorders,
	})

	if withPlatform && conf.HasTelegram() {
		bot, err := dl.ConnectBot(dl.TelegramConfig{
			ApiId:       conf.ApiId,
			ApiHash:     conf.ApiHash,
			Token:       conf.Token,
			SessionFile: conf.SessionFile,
		})
		if err != nil {
			gologging.WarnF("Telegram asset fetches are disabled: %v", err)
		} else {
			a.bot = bot
			a.platform = dl.NewTelegramPlatform(bot)
		}
	}

	lookup := dl.NewLookup(dl.NewYTSearcher(nil), dl.NewPlaylistScraper(a.client), dl.LookupOptions{
		TitleLimit: conf.TitleLimit,
	})
	orchestrator := dl.NewOrchestrator(conf.ApiUrl, a.client, a.platform)
	a.service = dl.NewService(lookup, orchestrator, conf.PlaylistLimit)
	return a, nil
}

// close releases the HTTP session, the Telegram client and the attempt log.
func (a *app) close() error {
	var err error
	if a.client != nil {
		err = errors.Join(err, a.client.Close())
	}
	if a.bot != nil {
		err = errors.Join(err, a.bot.Stop())
	}
	if a.store != nil {
		ctx, cancel := db.Ctx()
		err = errors.Join(err, a.store.Close(ctx))
		cancel()
		if n := a.store.Dropped(); n > 0 {
			gologging.WarnF("[DB] %d attempts were not stored because the queue was full.", n)
		}
	}
	a.logStats()
	return err
}

// logStats writes the per-kind attempt counters and the retained failures to the debug log.
func (a *app) logStats() {
	for _, kind := range []string{cache.AttemptJSON, cache.AttemptText, cache.AttemptDownload} {
		if s := a.stats.Snapshot(kind); s.Attempts > 0 {
			gologging.DebugF("%s: %d attempts, %d failed, %s total", kind, s.Attempts, s.Failures, s.Latency)
		}
	}
	for _, at := range a.stats.Recent() {
		if !at.OK() {
			gologging.DebugF("failed %s attempt %d to %s: %s", at.Kind, at.Number, at.URL, at.Err)
		}
	}
}
