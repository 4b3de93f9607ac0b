package commands

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/keywatch/ai/openrouter"
	aireport "github.com/teranos/keywatch/ai/report"
	"github.com/teranos/keywatch/am"
	"github.com/teranos/keywatch/collect"
	"github.com/teranos/keywatch/collect/hackernews"
	"github.com/teranos/keywatch/collect/reddit"
	"github.com/teranos/keywatch/db"
	"github.com/teranos/keywatch/errors"
	"github.com/teranos/keywatch/notify"
	"github.com/teranos/keywatch/pulse/schedule"
	"github.com/teranos/keywatch/report"
	"github.com/teranos/keywatch/server"
)

// pulseStats defers to the ticker once it exists; the server is built
// before the ticker because the pipeline broadcasts through its hub
type pulseStats struct {
	ticker *schedule.Ticker
}

func (p *pulseStats) GetStats() map[string]interface{} {
	if p.ticker == nil {
		return map[string]interface{}{"running": false}
	}
	return p.ticker.GetStats()
}

// daemon is every long-lived component of `pulse start`
type daemon struct {
	conn      *db.DB
	schedules *schedule.SQLStore
	locks     *schedule.LockCoordinator
	pipeline  *schedule.Pipeline
	ticker    *schedule.Ticker
	server    *server.Server
	publisher *notify.RedisPublisher
	sources   []string
}

// buildDaemon wires the stores, collaborators, server and ticker. withServer
// false leaves the HTTP API out.
func buildDaemon(ctx context.Context, cfg *am.Config, withServer bool, log *zap.SugaredLogger) (*daemon, error) {
	conn, err := openDatabase(cfg)
	if err != nil {
		return nil, err
	}

	d := &daemon{conn: conn}
	d.schedules = schedule.NewStore(conn)
	reports := report.NewStore(conn)

	collector, err := buildCollector(cfg, log)
	if err != nil {
		conn.Close()
		return nil, err
	}
	d.sources = collector.Sources()

	ai := openrouter.NewClient(openrouter.Config{
		APIKey:            cfg.OpenRouter.APIKey,
		Model:             cfg.OpenRouter.Model,
		BaseURL:           cfg.OpenRouter.BaseURL,
		Temperature:       cfg.OpenRouter.Temperature,
		MaxTokens:         cfg.OpenRouter.MaxTokens,
		MaxRetries:        cfg.OpenRouter.MaxRetries,
		RequestsPerMinute: cfg.OpenRouter.RequestsPerMinute,
		Logger:            log,
	})
	if !ai.IsConfigured() {
		conn.Close()
		return nil, errors.New("openrouter.api_key is not set (KEYWATCH_OPENROUTER_API_KEY or OPENROUTER_API_KEY)")
	}

	// Redis is optional: without an address notifications are only stored
	var publisher notify.Publisher
	if cfg.Redis.Addr != "" {
		d.publisher, err = notify.NewRedisPublisher(ctx, notify.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Stream:   cfg.Redis.Stream,
			MaxLen:   cfg.Redis.MaxLen,
		})
		if err != nil {
			conn.Close()
			return nil, errors.Wrapf(err, "failed to connect to redis at %s", cfg.Redis.Addr)
		}
		publisher = d.publisher
	}
	emitter := notify.NewEmitter(conn, publisher, log)

	stats := &pulseStats{}
	var broadcaster schedule.ExecutionBroadcaster
	if withServer {
		d.server = server.New(server.Config{
			Addr:              cfg.ServerAddr(),
			AllowedOrigins:    cfg.Server.AllowedOrigins,
			RequestsPerSecond: cfg.Server.RequestsPerSecond,
			Burst:             cfg.Server.Burst,
		}, server.Deps{
			Schedules:     d.schedules,
			Stats:         stats,
			Notifications: emitter,
			Reports:       reports,
		}, log)
		broadcaster = d.server.Hub()
	}

	policy := schedule.RetryPolicy{
		MaxAttempts: cfg.Pulse.MaxAttempts,
		Delay:       cfg.RetryDelay(),
	}
	d.locks = schedule.NewLockCoordinator(d.schedules, policy, log)
	d.pipeline = schedule.NewPipeline(d.schedules, d.locks, schedule.Collaborators{
		Collector: collector,
		Generator: aireport.NewGenerator(ai, log),
		Reports:   reports,
		Notifier:  emitter,
	}, broadcaster, policy, log)

	d.ticker = schedule.NewTickerWithContext(ctx, d.schedules, d.locks, d.pipeline, schedule.TickerConfig{
		Interval:         cfg.TickInterval(),
		RecoverOnStartup: cfg.Pulse.RecoverOnStartup,
	}, log)
	stats.ticker = d.ticker

	return d, nil
}

// buildCollector assembles the enabled sources into one fan-out collector
func buildCollector(cfg *am.Config, log *zap.SugaredLogger) (*collect.Multi, error) {
	var sources []collect.Source
	if cfg.Reddit.Enabled {
		sources = append(sources, reddit.New(reddit.Config{
			UserAgent:         cfg.Reddit.UserAgent,
			Limit:             cfg.Reddit.Limit,
			Sort:              cfg.Reddit.Sort,
			TimeFilter:        cfg.Reddit.TimeFilter,
			RequestsPerMinute: cfg.Reddit.RequestsPerMinute,
			Logger:            log,
		}))
	}
	if cfg.HackerNews.Enabled {
		sources = append(sources, hackernews.New(hackernews.Config{
			Limit:             cfg.HackerNews.Limit,
			RequestsPerMinute: cfg.HackerNews.RequestsPerMinute,
			Logger:            log,
		}))
	}
	if len(sources) == 0 {
		return nil, errors.New("no collectors enabled (reddit.enabled, hackernews.enabled)")
	}
	return collect.NewMulti(log, sources...), nil
}

// close releases everything buildDaemon opened. The ticker and server must
// already be stopped.
func (d *daemon) close() {
	if d.publisher != nil {
		d.publisher.Close()
	}
	d.conn.Close()
}

// shutdown stops the ticker (waiting for in-flight executions), then the
// server, then closes storage
func (d *daemon) shutdown(timeout time.Duration, log *zap.SugaredLogger) {
	done := make(chan struct{})
	go func() {
		d.ticker.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		log.Warnw("Timed out waiting for in-flight executions; their locks are recovered on next start",
			"timeout", timeout)
	}

	if d.server != nil {
		if err := d.server.Stop(); err != nil {
			log.Warnw("Server shutdown error", "error", err)
		}
	}
	d.close()
}
