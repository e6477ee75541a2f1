package settlement

import (
	"context"
	"errors"
	"fmt"

	"github.com/railzwaylabs/revshare/internal/config"
	"github.com/railzwaylabs/revshare/internal/jobs"
	settlementdomain "github.com/railzwaylabs/revshare/internal/settlement/domain"
	"github.com/railzwaylabs/revshare/internal/settlement/repository"
	"github.com/railzwaylabs/revshare/internal/settlement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("settlement.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.NewService),
)

// JobHandler adapts CloseDay to the job layer. Periods without agreements
// complete without a run; invalid periods are never retried.
func JobHandler(svc settlementdomain.Service) jobs.Handler {
	return func(ctx context.Context, job jobs.Job) error {
		var payload settlementdomain.Job
		if err := job.Decode(&payload); err != nil {
			return jobs.Permanent(fmt.Errorf("decode settlement job: %w", err))
		}
		_, err := svc.CloseDay(ctx, payload)
		switch {
		case errors.Is(err, settlementdomain.ErrNoActiveAgreement):
			return nil
		case errors.Is(err, settlementdomain.ErrInvalidPeriod):
			return jobs.Permanent(err)
		}
		return err
	}
}

// RegisterJobs attaches the settlement queue to the runner.
func RegisterJobs(r *jobs.Runner, cfg config.Config, svc settlementdomain.Service) {
	r.Register(jobs.SettlementQueue, jobs.PolicyFor(cfg, jobs.SettlementQueue), JobHandler(svc))
}
