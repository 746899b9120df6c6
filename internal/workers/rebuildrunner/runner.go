package rebuildrunner

import (
	"context"
	"fmt"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"secmap/internal/ports"
	"secmap/internal/services/orgreport"
	"secmap/internal/services/urlreport"
)

// Processor performs the rebuild work for a job's organization.
type Processor interface {
	Process(ctx context.Context, organizationID int64) error
}

// OrgProcessor replays every URL timeline of the organization sequentially,
// then rolls the organization up. The roll-up waiting on the URL rollups is
// an ordering dependency, not a lock; different organizations run on
// different workers without coordination.
type OrgProcessor struct {
	Orgs      ports.OrganizationRepository
	URLRollup *urlreport.Rollup
	OrgRollup *orgreport.Rollup
	Clock     clockwork.Clock
	Log       *zap.Logger
}

func (p OrgProcessor) Process(ctx context.Context, organizationID int64) error {
	org, err := p.Orgs.OrganizationByID(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("organization %d: %w", organizationID, err)
	}
	urls, err := p.Orgs.Urls(ctx, organizationID)
	if err != nil {
		return fmt.Errorf("urls of organization %d: %w", organizationID, err)
	}
	for _, u := range urls {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := p.URLRollup.Rebuild(ctx, u); err != nil {
			return fmt.Errorf("rebuild url %s: %w", u.Hostname, err)
		}
	}
	if _, _, err := p.OrgRollup.Rate(ctx, org, p.Clock.Now().UTC()); err != nil {
		return fmt.Errorf("rate organization %s: %w", org.Name, err)
	}
	return nil
}

// Run starts worker goroutines that claim rebuild jobs and process them.
// Organizations are independent and processed fully in parallel.
func Run(ctx context.Context, repo ports.JobRepository, processor Processor, concurrency int, pollInterval time.Duration, log *zap.Logger) {
	if concurrency < 1 {
		return
	}
	if log == nil {
		log = zap.NewNop()
	}
	jobsCh := make(chan ports.RebuildJob, concurrency)

	// dispatcher loop
	go func() {
		ticker := time.NewTicker(pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				close(jobsCh)
				return
			case <-ticker.C:
				for {
					job, found, err := repo.ClaimNext(ctx)
					if err != nil {
						log.Error("job claim failed", zap.Error(err))
						break
					}
					if !found {
						break
					}
					// The send can block on a full channel; cancellation
					// must still close jobsCh so workers terminate.
					select {
					case jobsCh <- job:
					case <-ctx.Done():
						close(jobsCh)
						return
					}
				}
			}
		}
	}()

	// workers
	for i := 0; i < concurrency; i++ {
		go func(idx int) {
			for job := range jobsCh {
				start := time.Now()
				if err := processor.Process(ctx, job.OrganizationID); err != nil {
					_ = repo.MarkFailed(ctx, job.ID, err.Error())
					log.Error("rebuild failed",
						zap.Int("worker", idx),
						zap.String("job", job.ID),
						zap.Int64("organization", job.OrganizationID),
						zap.Error(err))
					continue
				}
				if err := repo.MarkCompleted(ctx, job.ID); err != nil {
					log.Error("job completion update failed", zap.Int("worker", idx), zap.Error(err))
					continue
				}
				log.Info("rebuild completed",
					zap.Int("worker", idx),
					zap.String("job", job.ID),
					zap.Int64("organization", job.OrganizationID),
					zap.Duration("took", time.Since(start)))
			}
		}(i)
	}
}

// ProcessInline rebuilds a specific organization synchronously with the same
// processor and job bookkeeping the background workers use.
func ProcessInline(ctx context.Context, repo ports.JobRepository, processor Processor, organizationID int64) error {
	jobID, err := repo.StartJobForOrganization(ctx, organizationID)
	if err != nil {
		return err
	}
	if err := processor.Process(ctx, organizationID); err != nil {
		_ = repo.MarkFailed(ctx, jobID, err.Error())
		return err
	}
	return repo.MarkCompleted(ctx, jobID)
}
