package ports

import "context"

// Rebuilder enqueues rebuild jobs, by organization or by URL hostname.
type Rebuilder interface {
	EnqueueOrganization(ctx context.Context, organizationID int64) (jobID string, err error)
	// EnqueueHostname normalizes the raw URL to its registrable domain and
	// enqueues a rebuild for every organization the URL belongs to.
	EnqueueHostname(ctx context.Context, rawurl string) (jobIDs []string, err error)
}
