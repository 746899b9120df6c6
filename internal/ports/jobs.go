package ports

import "context"

// RebuildJob is one queued request to rebuild an organization: replay all of
// its URL timelines, then roll the organization up.
type RebuildJob struct {
	ID             string
	OrganizationID int64
}

// JobRepository supports enqueueing, claiming and updating rebuild jobs.
// Claiming is serialized per organization so delete-then-replay never runs
// twice concurrently for the same subject.
type JobRepository interface {
	Enqueue(ctx context.Context, organizationID int64) (jobID string, err error)
	ClaimNext(ctx context.Context) (job RebuildJob, found bool, err error)
	MarkCompleted(ctx context.Context, jobID string) error
	MarkFailed(ctx context.Context, jobID string, reason string) error
	// StartJobForOrganization claims the queued job of a specific
	// organization for inline processing.
	StartJobForOrganization(ctx context.Context, organizationID int64) (jobID string, err error)
}
