package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/railzwaylabs/revshare/internal/metrics"
	"go.uber.org/zap"
)

type registration struct {
	policy  Policy
	handler Handler
}

// Runner pulls jobs from the queue with bounded concurrency per queue.
// Stop waits for in-flight handlers before returning.
type Runner struct {
	queue        *RedisQueue
	log          *zap.Logger
	metrics      *metrics.Metrics
	pollInterval time.Duration

	mu       sync.Mutex
	handlers map[string]registration
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

func NewRunner(queue *RedisQueue, log *zap.Logger, m *metrics.Metrics, pollInterval time.Duration) *Runner {
	if pollInterval <= 0 {
		pollInterval = time.Second
	}
	return &Runner{
		queue:        queue,
		log:          log.Named("jobs.runner"),
		metrics:      m,
		pollInterval: pollInterval,
		handlers:     make(map[string]registration),
	}
}

func (r *Runner) Register(queue string, policy Policy, handler Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	policy = policy.normalized()
	r.queue.SetPolicy(queue, policy)
	r.handlers[queue] = registration{policy: policy, handler: handler}
}

func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return errors.New("jobs_runner_already_started")
	}

	for queue := range r.handlers {
		recovered, err := r.queue.Recover(ctx, queue)
		if err != nil {
			return fmt.Errorf("recover %s: %w", queue, err)
		}
		if recovered > 0 {
			r.log.Warn("recovered in-flight jobs", zap.String("queue", queue), zap.Int("count", recovered))
		}
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.running = true

	for queue, reg := range r.handlers {
		r.wg.Add(1)
		go r.promote(loopCtx, queue)
		for i := 0; i < reg.policy.Concurrency; i++ {
			r.wg.Add(1)
			go r.work(loopCtx, queue, reg.handler)
		}
		r.log.Info("queue workers started",
			zap.String("queue", queue),
			zap.Int("concurrency", reg.policy.Concurrency),
			zap.Int("max_attempts", reg.policy.MaxAttempts),
			zap.Duration("base_backoff", reg.policy.BaseBackoff),
		)
	}
	return nil
}

// Stop stops fetching and waits for in-flight jobs until ctx expires.
func (r *Runner) Stop(ctx context.Context) error {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return nil
	}
	r.cancel()
	r.running = false
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		r.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		r.log.Info("job runner drained")
		return nil
	case <-ctx.Done():
		r.log.Warn("job runner stop timed out with jobs in flight")
		return ctx.Err()
	}
}

func (r *Runner) promote(ctx context.Context, queue string) {
	defer r.wg.Done()
	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := r.queue.PromoteDue(ctx, queue); err != nil && ctx.Err() == nil {
				r.log.Warn("promote delayed jobs failed", zap.String("queue", queue), zap.Error(err))
			}
		}
	}
}

func (r *Runner) work(ctx context.Context, queue string, handler Handler) {
	defer r.wg.Done()
	for {
		if ctx.Err() != nil {
			return
		}
		job, raw, err := r.queue.Fetch(ctx, queue, r.pollInterval)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.log.Warn("fetch job failed", zap.String("queue", queue), zap.Error(err))
			time.Sleep(r.pollInterval)
			continue
		}
		if job == nil {
			continue
		}
		// Handlers run on a context that outlives Stop so in-flight work can finish.
		r.process(context.Background(), *job, raw, handler)
	}
}

// Process runs handler for one fetched job and settles it in the queue.
func (r *Runner) process(ctx context.Context, job Job, raw string, handler Handler) {
	start := time.Now()
	log := r.log.With(
		zap.String("queue", job.Queue),
		zap.String("job_id", job.ID),
		zap.String("type", job.Type),
		zap.Int("attempt", job.Attempt),
	)

	err := runHandler(ctx, handler, job)
	if err == nil {
		if ackErr := r.queue.Ack(ctx, job.Queue, raw); ackErr != nil {
			log.Error("ack job failed", zap.Error(ackErr))
		}
		r.metrics.ObserveJob(job.Queue, "success", time.Since(start))
		log.Debug("job completed")
		return
	}

	dead, failErr := r.queue.Fail(ctx, job, raw, err)
	if failErr != nil {
		log.Error("record job failure failed", zap.Error(failErr))
	}
	if dead {
		r.metrics.ObserveJob(job.Queue, "dead", time.Since(start))
		log.Error("job moved to dead letters", zap.Error(err))
		return
	}
	r.metrics.ObserveJob(job.Queue, "retry", time.Since(start))
	log.Warn("job failed, retry scheduled", zap.Error(err))
}

func runHandler(ctx context.Context, handler Handler, job Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = Permanent(fmt.Errorf("job handler panic: %v", rec))
		}
	}()
	return handler(ctx, job)
}
