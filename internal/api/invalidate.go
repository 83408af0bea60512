package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"chargewatch/internal/cache"
	"chargewatch/internal/config"
	"chargewatch/internal/metrics"
	"chargewatch/internal/model"
	"chargewatch/internal/publish"
)

// Invalidator drops the cached responses fed by a job once it has run.
type Invalidator struct {
	cache  cache.Provider
	logger *slog.Logger
}

func NewInvalidator(provider cache.Provider, logger *slog.Logger) *Invalidator {
	return &Invalidator{cache: provider, logger: logger}
}

// Publish lets the invalidator sit behind the job runner when the API and
// the scheduler share a process.
func (i *Invalidator) Publish(ctx context.Context, run model.RunSummary) error {
	i.Handle(ctx, run)
	return nil
}

// Handle deletes the namespace of a successful run. Failed runs left the
// table untouched and keep the cache.
func (i *Invalidator) Handle(ctx context.Context, run model.RunSummary) {
	if run.Outcome != "" && run.Outcome != metrics.OutcomeSuccess {
		return
	}
	ns, ok := NamespaceFor(run.Job)
	if !ok {
		return
	}
	n, err := i.cache.DeleteNamespace(ctx, ns)
	if i.logger == nil {
		return
	}
	if err != nil {
		i.logger.Warn("cache invalidation failed", "namespace", ns, "run_id", run.RunID, "err", err)
		return
	}
	i.logger.Debug("cache invalidated", "namespace", ns, "keys", n, "run_id", run.RunID)
}

// StartInvalidator consumes run events from Kafka and invalidates the
// matching cache namespaces until ctx is done.
func StartInvalidator(ctx context.Context, cfg config.KafkaConfig, inv *Invalidator, logger *slog.Logger) {
	if !cfg.Enabled {
		if logger != nil {
			logger.Info("kafka invalidation disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka invalidation enabled", "brokers", cfg.Brokers, "topic", cfg.Topic, "group_id", cfg.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  cfg.Brokers,
		Topic:    cfg.Topic,
		GroupID:  cfg.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
	})
	go func() {
		defer reader.Close()
		backoff := 200 * time.Millisecond
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !backoffSleep(ctx, backoff) {
					return
				}
				if backoff < 10*time.Second {
					backoff *= 2
				}
				continue
			}
			backoff = 200 * time.Millisecond
			run, err := publish.Decode(m.Value)
			if err != nil {
				if logger != nil {
					logger.Warn("run event ignored", "offset", m.Offset, "err", err)
				}
				continue
			}
			inv.Handle(ctx, run)
		}
	}()
}

func backoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}
