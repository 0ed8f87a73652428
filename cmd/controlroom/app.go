package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"controlroom/internal/audit"
	"controlroom/internal/classify"
	"controlroom/internal/config"
	"controlroom/internal/consolidate"
	"controlroom/internal/controlroom"
	"controlroom/internal/logging"
	"controlroom/internal/metrics"
	"controlroom/internal/normalize"
	"controlroom/internal/publish"
	"controlroom/internal/store"
	"controlroom/internal/validate"
)

// app owns every long-lived dependency built from the configuration.
type app struct {
	cfg       *config.Config
	store     store.Store
	publisher publish.Publisher
	metrics   *metrics.Metrics
	svc       *controlroom.Service
	log       *slog.Logger
}

type appOptions struct {
	// withPublisher enables Kafka publication when brokers are configured.
	withPublisher bool
	withAudit     bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{cfg: cfg, log: logging.New("app")}

	classifier, err := classify.NewClassifier(cfg.Policy.Thresholds)
	if err != nil {
		return nil, err
	}
	validator, err := validate.New()
	if err != nil {
		return nil, fmt.Errorf("compile snapshot schema: %w", err)
	}

	st, err := store.Open(ctx, cfg.Store.Open())
	if err != nil {
		return nil, err
	}
	a.store = st

	var cacheStats metrics.CacheStats
	if cached, ok := st.(*store.CachedStore); ok {
		cacheStats = func() (uint64, uint64, uint64, uint64) {
			m := cached.Metrics()
			return m.Hits, m.Misses, m.OriginReads, m.OriginErrs
		}
	}
	a.metrics = metrics.New(cacheStats)

	var trail *audit.Trail
	if opts.withAudit {
		trail, err = audit.Open(cfg.AuditDir)
		if err != nil {
			a.close()
			return nil, err
		}
	}

	a.publisher = publish.Nop{}
	if opts.withPublisher && len(cfg.Kafka.Brokers) > 0 {
		p, err := publish.NewKafkaPublisher(cfg.Kafka)
		if err != nil {
			a.close()
			return nil, err
		}
		a.publisher = p
		a.log.Info("publishing to kafka", "brokers", cfg.Kafka.Brokers, "view_topic", cfg.Kafka.ViewTopic, "dlq_topic", cfg.Kafka.DLQTopic)
	}

	svc, err := controlroom.New(controlroom.Options{
		Store:     st,
		Validator: validator,
		Normalizer: normalize.New(normalize.Options{
			KnownProjects: cfg.Policy.KnownProjects,
			StatusAliases: cfg.Policy.StatusAliases,
			AssumeUTC:     cfg.Policy.AssumeUTC,
		}),
		Classifier: classifier,
		Consolidator: consolidate.New(consolidate.Options{
			Window:         cfg.Policy.Staleness.Default,
			ProjectWindows: cfg.Policy.Staleness.Projects,
			KnownProjects:  cfg.Policy.KnownProjects,
		}),
		PassTimeout:     cfg.PassTimeout,
		ReadTimeout:     cfg.ReadTimeout,
		ReadConcurrency: cfg.ReadConcurrency,
		HistoryLimit:    cfg.HistoryLimit,
		Audit:           trail,
		Metrics:         a.metrics,
		Publisher:       a.publisher,
		Logger:          logging.New("discovery"),
	})
	if err != nil {
		a.close()
		return nil, err
	}
	a.svc = svc
	return a, nil
}

func (a *app) close() error {
	var errs []error
	if a.publisher != nil {
		errs = append(errs, a.publisher.Close())
	}
	if c, ok := a.store.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	return errors.Join(errs...)
}
