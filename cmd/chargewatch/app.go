package main

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chargewatch/internal/api"
	"chargewatch/internal/cache"
	"chargewatch/internal/config"
	"chargewatch/internal/devices"
	"chargewatch/internal/engine"
	"chargewatch/internal/evolution"
	"chargewatch/internal/faults"
	"chargewatch/internal/ingest"
	"chargewatch/internal/jobs"
	"chargewatch/internal/logging"
	"chargewatch/internal/metrics"
	"chargewatch/internal/publish"
	"chargewatch/internal/storage"
	"chargewatch/internal/timeseries"
	"chargewatch/internal/voltage"
)

// batchJobs is the order "all" runs them in. Voltage writes a report file
// and runs on its own or from the scheduler.
var batchJobs = []string{"alerts", "evolution", "devices", "faults"}

type app struct {
	opts    options
	mgr     *config.Manager
	logger  *slog.Logger
	store   storage.Store
	history *jobs.History

	influxOnce sync.Once
	influx     *timeseries.Influx
	influxErr  error

	closers []func() error
}

func newApp(opts options) (*app, error) {
	mgr, err := config.NewManager(config.ResolvePath(opts.configPath))
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := mgr.Get()
	logger := logging.NewLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	store, err := storage.NewStore(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}
	a := &app{
		opts:    opts,
		mgr:     mgr,
		logger:  logger,
		store:   store,
		history: jobs.NewHistory(0),
	}
	a.closers = append(a.closers, store.Close)
	return a, nil
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "err", err)
		}
	}
}

func (a *app) Execute(ctx context.Context, command string) error {
	if err := a.store.Init(ctx); err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	switch command {
	case "init":
		a.logger.Info("tables ready", "driver", a.mgr.Get().Storage.Driver)
		return nil
	case "serve":
		return a.serve(ctx)
	case "all":
		runner, err := a.runner(nil)
		if err != nil {
			return err
		}
		var built []jobs.Job
		for _, name := range batchJobs {
			job, err := a.build(name)
			if err != nil {
				return err
			}
			built = append(built, job)
		}
		return runner.RunAll(ctx, built...)
	default:
		runner, err := a.runner(nil)
		if err != nil {
			return err
		}
		job, err := a.build(command)
		if err != nil {
			return err
		}
		_, err = runner.Run(ctx, job)
		return err
	}
}

// runner publishes to Kafka when it is enabled and to local, when given.
func (a *app) runner(local jobs.Publisher) (*jobs.Runner, error) {
	cfg := a.mgr.Get()
	var pubs publish.Multi
	if cfg.Kafka.Enabled {
		kp, err := publish.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			return nil, fmt.Errorf("kafka publisher: %w", err)
		}
		a.closers = append(a.closers, kp.Close)
		pubs = append(pubs, kp)
	}
	if local != nil {
		pubs = append(pubs, local)
	}
	return jobs.NewRunner(a.history, pubs, a.logger), nil
}

func (a *app) source() (*timeseries.Influx, error) {
	a.influxOnce.Do(func() {
		a.influx, a.influxErr = timeseries.NewInflux(a.mgr.Get().Influx)
		if a.influxErr == nil {
			a.closers = append(a.closers, a.influx.Close)
		}
	})
	return a.influx, a.influxErr
}

// build returns a job wired to the current configuration.
func (a *app) build(name string) (jobs.Job, error) {
	cfg := a.mgr.Get()
	reader := ingest.NewReader(a.store, cfg.Location(), cfg.SiteRegistry(), a.logger)
	switch name {
	case "alerts":
		return engine.NewEngine(cfg.Alerts, reader, a.store, a.logger), nil
	case "evolution":
		return evolution.NewJob(cfg.Evolution, cfg.Location(), reader, a.store, a.logger), nil
	case "devices":
		return devices.NewJob(cfg.Devices, reader, a.store, a.logger), nil
	case "faults":
		src, err := a.source()
		if err != nil {
			return nil, err
		}
		return faults.NewMonitor(cfg.Faults, cfg.SiteRegistry(), src, a.store, a.logger), nil
	case "voltage":
		src, err := a.source()
		if err != nil {
			return nil, err
		}
		classifier := voltage.NewClassifier(cfg.Voltage, cfg.Influx.Timeout, cfg.SiteRegistry(), src, a.logger)
		job, err := voltage.NewJob(cfg.Voltage, cfg.Location(), reader, src, classifier, a.logger)
		if err != nil {
			return nil, err
		}
		if a.opts.start != "" || a.opts.end != "" {
			rng, err := voltage.ParseRange(a.opts.start, a.opts.end, cfg.Location())
			if err != nil {
				return nil, err
			}
			job.WithRange(rng)
		}
		return job.WithOutput(a.opts.output), nil
	default:
		return nil, fmt.Errorf("unknown job %q", name)
	}
}

func (a *app) serve(ctx context.Context) error {
	cfg := a.mgr.Get()

	var provider cache.Provider = cache.Noop{}
	if cfg.Cache.Enabled {
		rp := cache.NewRedisProvider(cfg.Cache)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := rp.Ping(pingCtx)
		cancel()
		if err != nil {
			a.logger.Warn("redis unavailable, serving uncached", "addr", cfg.Cache.Addr, "err", err)
			_ = rp.Close()
		} else {
			a.closers = append(a.closers, rp.Close)
			provider = rp
		}
	}

	inv := api.NewInvalidator(provider, a.logger)
	// With Kafka on, invalidation arrives through the topic, including this
	// process's own runs.
	var local jobs.Publisher
	if !cfg.Kafka.Enabled {
		local = inv
	}
	runner, err := a.runner(local)
	if err != nil {
		return err
	}

	srv := api.NewServer(a.mgr, a.store, provider, a.history, prometheus.DefaultGatherer, a.logger, version)
	api.Start(ctx, srv)
	api.StartInvalidator(ctx, cfg.Kafka, inv, a.logger)

	stop := make(chan struct{})
	go a.mgr.Watch(cfg.Schedule.ReloadConfig,
		func(*config.Config) { a.logger.Info("config reloaded", "path", a.mgr.Path()) },
		func(err error) { a.logger.Warn("config reload failed", "err", err) },
		stop)
	defer close(stop)

	scheduler := jobs.NewScheduler(runner, a.logger,
		a.entry("alerts", func(s config.ScheduleConfig) time.Duration { return s.Alerts }),
		a.entry("evolution", func(s config.ScheduleConfig) time.Duration { return s.Evolution }),
		a.entry("devices", func(s config.ScheduleConfig) time.Duration { return s.Devices }),
		a.entry("faults", func(s config.ScheduleConfig) time.Duration { return s.Faults }),
		a.entry("voltage", func(s config.ScheduleConfig) time.Duration { return s.Voltage }),
	)
	a.logger.Info("chargewatch serving", "version", version)
	scheduler.Run(ctx)
	// The API keeps serving when no job is scheduled.
	<-ctx.Done()
	a.logger.Info("shutting down")
	return nil
}

func (a *app) entry(name string, interval func(config.ScheduleConfig) time.Duration) jobs.Entry {
	return jobs.Entry{
		Name:     name,
		Build:    func() (jobs.Job, error) { return a.build(name) },
		Interval: func() time.Duration { return interval(a.mgr.Get().Schedule) },
	}
}
