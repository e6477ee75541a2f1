package payout

import (
	"context"
	"fmt"

	"github.com/railzwaylabs/revshare/internal/config"
	"github.com/railzwaylabs/revshare/internal/jobs"
	payoutdomain "github.com/railzwaylabs/revshare/internal/payout/domain"
	"github.com/railzwaylabs/revshare/internal/payout/repository"
	"github.com/railzwaylabs/revshare/internal/payout/service"
	"github.com/railzwaylabs/revshare/internal/payout/webhook"
	"github.com/railzwaylabs/revshare/internal/providers/disbursement"
	disbursementdomain "github.com/railzwaylabs/revshare/internal/providers/disbursement/domain"
	"go.uber.org/fx"
)

var Module = fx.Module("payout.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
	fx.Provide(webhook.NewService),
	fx.Invoke(wireSimulation),
)

// wireSimulation routes synthetic confirmations through the same
// reconciliation path as real webhooks.
func wireSimulation(lc fx.Lifecycle, registry *disbursement.Registry, svc payoutdomain.Service) {
	sims := registry.Simulations()
	if len(sims) == 0 {
		return
	}
	settle := func(ctx context.Context, provider string, event disbursementdomain.WebhookEvent) error {
		_, err := svc.ApplyEvent(ctx, provider, event)
		return err
	}
	for _, sim := range sims {
		sim.SetSettler(settle)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			for _, sim := range sims {
				sim.Stop()
			}
			return nil
		},
	})
}

// JobHandler adapts Submit to the job layer.
func JobHandler(svc payoutdomain.Service) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		var payload payoutdomain.Job
		if err := job.Decode(&payload); err != nil {
			return jobs.Permanent(fmt.Errorf("decode payout job: %w", err))
		}
		return svc.Submit(ctx, payload)
	}
}

// RegisterJobs attaches the payout queue to the runner.
func RegisterJobs(r *jobs.Runner, cfg config.Config, svc payoutdomain.Service) {
	r.Register(jobs.PayoutQueue, jobs.PolicyFor(cfg, jobs.PayoutQueue), JobHandler(svc))
}
