package ports

import (
	"context"
	"time"

	"secmap/internal/domain"
)

// UrlRepository reads URLs and their endpoints.
type UrlRepository interface {
	UrlByID(ctx context.Context, id int64) (domain.Url, error)
	UrlByHostname(ctx context.Context, hostname string) (url domain.Url, found bool, err error)
	Endpoints(ctx context.Context, urlID int64) ([]domain.Endpoint, error)
}

// ScanEventRepository reads the append-only scan event feed.
type ScanEventRepository interface {
	// EventsForUrl returns URL-level events for the url plus endpoint-level
	// events for the given endpoints, in no guaranteed order.
	EventsForUrl(ctx context.Context, urlID int64, endpointIDs []int64) ([]domain.ScanEvent, error)
}

// OrganizationRepository reads organizations and their URL sets.
type OrganizationRepository interface {
	OrganizationByID(ctx context.Context, id int64) (domain.Organization, error)
	// Urls returns every URL of the organization, dead ones included, for
	// timeline rebuilds.
	Urls(ctx context.Context, organizationID int64) ([]domain.Url, error)
	// RelevantUrls returns the URLs that still counted at the given instant:
	// alive and resolvable, or with their terminal transition at/after it,
	// and with at least one endpoint alive under the same rule.
	RelevantUrls(ctx context.Context, organizationID int64, when time.Time) ([]domain.Url, error)
	OrganizationsForUrl(ctx context.Context, urlID int64) ([]domain.Organization, error)
}

// UrlSnapshotRepository persists per-URL rating snapshots.
type UrlSnapshotRepository interface {
	// Replace atomically deletes all snapshots of the URL and inserts the
	// replayed sequence. A failed replace leaves the previous rows intact.
	Replace(ctx context.Context, urlID int64, snapshots []domain.UrlRatingSnapshot) error
	// LatestBefore is the as-of query: the most recent snapshot with
	// when <= the given instant, not the newest overall.
	LatestBefore(ctx context.Context, urlID int64, when time.Time) (snap domain.UrlRatingSnapshot, found bool, err error)
}

// OrganizationSnapshotRepository persists per-organization rating snapshots.
type OrganizationSnapshotRepository interface {
	Create(ctx context.Context, snap *domain.OrganizationRatingSnapshot) error
	Latest(ctx context.Context, organizationID int64) (snap domain.OrganizationRatingSnapshot, found bool, err error)
	LatestBefore(ctx context.Context, organizationID int64, when time.Time) (snap domain.OrganizationRatingSnapshot, found bool, err error)
}

// ReportFlagRepository answers whether a finding type is included in
// reporting. Flags are effectively static for the duration of a rebuild and
// are read through a staleness-tolerant cache on hot paths.
type ReportFlagRepository interface {
	Enabled(ctx context.Context, findingType string) (bool, error)
}
