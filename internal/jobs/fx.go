package jobs

import (
	"context"

	"github.com/railzwaylabs/revshare/internal/config"
	"github.com/railzwaylabs/revshare/internal/metrics"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("jobs",
	fx.Provide(newQueue),
	fx.Provide(func(q *RedisQueue) Enqueuer { return q }),
	fx.Provide(newRunner),
)

func newQueue(rdb *redis.Client, cfg config.Config) *RedisQueue {
	q := NewRedisQueue(rdb, cfg.Jobs.Prefix)
	q.SetPolicy(SettlementQueue, policyOf(cfg.Jobs.Settlement))
	q.SetPolicy(PayoutQueue, policyOf(cfg.Jobs.Payout))
	return q
}

func newRunner(q *RedisQueue, log *zap.Logger, m *metrics.Metrics, cfg config.Config) *Runner {
	return NewRunner(q, log, m, cfg.Jobs.PollInterval)
}

const (
	SettlementQueue = "settlement"
	PayoutQueue     = "payout"
)

// PolicyFor returns the configured policy of a named queue.
func PolicyFor(cfg config.Config, queue string) Policy {
	switch queue {
	case SettlementQueue:
		return policyOf(cfg.Jobs.Settlement)
	case PayoutQueue:
		return policyOf(cfg.Jobs.Payout)
	}
	return Policy{}.normalized()
}

func policyOf(p config.QueuePolicy) Policy {
	return Policy{
		Concurrency: p.Concurrency,
		MaxAttempts: p.MaxAttempts,
		BaseBackoff: p.Backoff,
	}.normalized()
}

// RunLifecycle starts the runner with the app and drains it on stop. It is
// registered after the redis module so the client closes last.
func RunLifecycle(lc fx.Lifecycle, r *Runner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return r.Start(ctx) },
		OnStop:  func(ctx context.Context) error { return r.Stop(ctx) },
	})
}
