package orgreport

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secmap/internal/domain"
)

type fakeStore struct {
	orgs      map[int64]domain.Organization
	urls      map[int64][]domain.Url      // organization id -> urls
	endpoints map[int64][]domain.Endpoint // url id -> endpoints
	urlSnaps  map[int64][]domain.UrlRatingSnapshot
	orgSnaps  []domain.OrganizationRatingSnapshot
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		orgs:      make(map[int64]domain.Organization),
		urls:      make(map[int64][]domain.Url),
		endpoints: make(map[int64][]domain.Endpoint),
		urlSnaps:  make(map[int64][]domain.UrlRatingSnapshot),
	}
}

func (f *fakeStore) OrganizationByID(ctx context.Context, id int64) (domain.Organization, error) {
	return f.orgs[id], nil
}

func (f *fakeStore) Urls(ctx context.Context, organizationID int64) ([]domain.Url, error) {
	return f.urls[organizationID], nil
}

// RelevantUrls mirrors the SQL union: URL lifecycle or a live endpoint.
func (f *fakeStore) RelevantUrls(ctx context.Context, organizationID int64, when time.Time) ([]domain.Url, error) {
	var out []domain.Url
	for _, u := range f.urls[organizationID] {
		if u.RelevantAt(when) || f.liveEndpointAt(u.ID, when) {
			out = append(out, u)
		}
	}
	return out, nil
}

func (f *fakeStore) liveEndpointAt(urlID int64, when time.Time) bool {
	for _, e := range f.endpoints[urlID] {
		if e.DiscoveredOn.After(when) {
			continue
		}
		if e.IsDead && e.DeadSince != nil && e.DeadSince.Before(when) {
			continue
		}
		return true
	}
	return false
}

func (f *fakeStore) OrganizationsForUrl(ctx context.Context, urlID int64) ([]domain.Organization, error) {
	return nil, nil
}

func (f *fakeStore) Replace(ctx context.Context, urlID int64, snaps []domain.UrlRatingSnapshot) error {
	f.urlSnaps[urlID] = snaps
	return nil
}

func (f *fakeStore) LatestBefore(ctx context.Context, urlID int64, when time.Time) (domain.UrlRatingSnapshot, bool, error) {
	var best domain.UrlRatingSnapshot
	found := false
	for _, s := range f.urlSnaps[urlID] {
		if s.When.After(when) {
			continue
		}
		if !found || s.When.After(best.When) {
			best = s
			found = true
		}
	}
	return best, found, nil
}

func (f *fakeStore) Create(ctx context.Context, snap *domain.OrganizationRatingSnapshot) error {
	snap.ID = int64(len(f.orgSnaps) + 1)
	f.orgSnaps = append(f.orgSnaps, *snap)
	return nil
}

func (f *fakeStore) Latest(ctx context.Context, organizationID int64) (domain.OrganizationRatingSnapshot, bool, error) {
	var best domain.OrganizationRatingSnapshot
	found := false
	for _, s := range f.orgSnaps {
		if s.OrganizationID != organizationID {
			continue
		}
		if !found || s.ID > best.ID {
			best = s
			found = true
		}
	}
	return best, found, nil
}

func (f *fakeStore) LatestBeforeOrg(ctx context.Context, organizationID int64, when time.Time) (domain.OrganizationRatingSnapshot, bool, error) {
	var best domain.OrganizationRatingSnapshot
	found := false
	for _, s := range f.orgSnaps {
		if s.OrganizationID != organizationID || s.When.After(when) {
			continue
		}
		if !found || s.When.After(best.When) {
			best = s
			found = true
		}
	}
	return best, found, nil
}

type orgSnapStore struct{ *fakeStore }

func (o orgSnapStore) LatestBefore(ctx context.Context, organizationID int64, when time.Time) (domain.OrganizationRatingSnapshot, bool, error) {
	return o.fakeStore.LatestBeforeOrg(ctx, organizationID, when)
}

func day(d int) time.Time {
	return time.Date(2025, 3, d, 23, 59, 59, 999999000, time.UTC)
}

func urlSnap(urlID int64, when time.Time, high, medium, low int) domain.UrlRatingSnapshot {
	return domain.UrlRatingSnapshot{
		UrlID: urlID, When: when,
		High: high, Medium: medium, Low: low,
		TotalIssues: high + medium + low,
		Calculation: domain.UrlCalculation{Url: "example.org", High: high, Medium: medium, Low: low},
	}
}

func newRollup(f *fakeStore) *Rollup {
	return New(f, f, orgSnapStore{f}, nil)
}

func TestRateAsOfSemantics(t *testing.T) {
	f := newFakeStore()
	org := domain.Organization{ID: 1, Name: "example"}
	f.orgs[1] = org
	f.urls[1] = []domain.Url{{ID: 10, Hostname: "example.org"}}
	f.urlSnaps[10] = []domain.UrlRatingSnapshot{
		urlSnap(10, day(1), 1, 0, 0),
		urlSnap(10, day(5), 0, 0, 0),
	}

	r := newRollup(f)
	snap, created, err := r.Rate(context.Background(), org, day(3))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 1, snap.High, "day-3 rating must use the day-1 snapshot, not day 5")
	assert.Equal(t, 1, snap.HighUrls)
}

func TestRateDiffGatedPersistence(t *testing.T) {
	f := newFakeStore()
	org := domain.Organization{ID: 1, Name: "example"}
	f.orgs[1] = org
	f.urls[1] = []domain.Url{{ID: 10, Hostname: "example.org"}}
	f.urlSnaps[10] = []domain.UrlRatingSnapshot{urlSnap(10, day(1), 0, 1, 0)}

	r := newRollup(f)
	_, created, err := r.Rate(context.Background(), org, day(2))
	require.NoError(t, err)
	assert.True(t, created)

	_, created, err = r.Rate(context.Background(), org, day(3))
	require.NoError(t, err)
	assert.False(t, created, "unchanged state must not produce a second row")
	assert.Len(t, f.orgSnaps, 1)

	// New underlying data changes the picture and a row is written again.
	f.urlSnaps[10] = append(f.urlSnaps[10], urlSnap(10, day(3), 1, 1, 0))
	_, created, err = r.Rate(context.Background(), org, day(4))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Len(t, f.orgSnaps, 2)
}

func TestRateWorstBucketExclusivity(t *testing.T) {
	f := newFakeStore()
	org := domain.Organization{ID: 1, Name: "example"}
	f.orgs[1] = org
	f.urls[1] = []domain.Url{{ID: 10, Hostname: "example.org"}}
	// One high and one low open finding on the same URL.
	f.urlSnaps[10] = []domain.UrlRatingSnapshot{urlSnap(10, day(1), 1, 0, 1)}

	r := newRollup(f)
	snap, _, err := r.Rate(context.Background(), org, day(2))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.HighUrls)
	assert.Zero(t, snap.LowUrls, "a URL counts in its worst bucket only")
	assert.Zero(t, snap.OkUrls)
	assert.Equal(t, 1, snap.TotalUrls)
}

func TestRateEmptyOrganizationIsNotAnError(t *testing.T) {
	f := newFakeStore()
	org := domain.Organization{ID: 1, Name: "example"}
	f.orgs[1] = org

	r := newRollup(f)
	snap, created, err := r.Rate(context.Background(), org, day(2))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Zero(t, snap.Rating)
	assert.Zero(t, snap.TotalUrls)
}

func TestRateExcludesUrlsGoneAtInstant(t *testing.T) {
	f := newFakeStore()
	org := domain.Organization{ID: 1, Name: "example"}
	f.orgs[1] = org
	died := day(2)
	f.urls[1] = []domain.Url{
		{ID: 10, Hostname: "gone.example.org", IsDead: true, IsDeadSince: &died},
		{ID: 11, Hostname: "alive.example.org"},
	}
	f.urlSnaps[10] = []domain.UrlRatingSnapshot{urlSnap(10, day(1), 1, 0, 0)}
	f.urlSnaps[11] = []domain.UrlRatingSnapshot{urlSnap(11, day(1), 0, 1, 0)}

	r := newRollup(f)

	// At day 1 the soon-to-die URL still counted.
	snap, _, err := r.Rate(context.Background(), org, day(1))
	require.NoError(t, err)
	assert.Equal(t, 2, snap.TotalUrls)
	assert.Equal(t, 1, snap.High)

	// After its death only the living URL remains.
	snap, _, err = r.Rate(context.Background(), org, day(4))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalUrls)
	assert.Zero(t, snap.High)
	assert.Equal(t, 1, snap.Medium)
}

func TestRateSumsEndpointBuckets(t *testing.T) {
	f := newFakeStore()
	org := domain.Organization{ID: 1, Name: "example"}
	f.orgs[1] = org
	f.urls[1] = []domain.Url{{ID: 10, Hostname: "example.org"}}
	s := urlSnap(10, day(1), 1, 0, 0)
	s.TotalEndpoints = 3
	s.HighEndpoints = 1
	s.OkEndpoints = 2
	f.urlSnaps[10] = []domain.UrlRatingSnapshot{s}

	r := newRollup(f)
	snap, _, err := r.Rate(context.Background(), org, day(2))
	require.NoError(t, err)
	assert.Equal(t, 3, snap.TotalEndpoints)
	assert.Equal(t, 1, snap.HighEndpoints)
	assert.Equal(t, 2, snap.Calculation.OkEndpoints)
}

func TestRateCountsUrlWithOnlyUrlLevelFindings(t *testing.T) {
	f := newFakeStore()
	org := domain.Organization{ID: 1, Name: "example"}
	f.orgs[1] = org
	// A URL with only URL-level findings (DNSSEC) has no endpoint rows at
	// all. It still counts toward the roll-up.
	f.urls[1] = []domain.Url{{ID: 10, Hostname: "example.org"}}
	f.urlSnaps[10] = []domain.UrlRatingSnapshot{urlSnap(10, day(1), 1, 0, 0)}

	r := newRollup(f)
	snap, _, err := r.Rate(context.Background(), org, day(2))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.High, "url-level severity must not vanish from the roll-up")
	assert.Equal(t, 1, snap.TotalUrls)
	assert.Equal(t, 1, snap.HighUrls)
}

func TestRateIncludesUrlAliveOnlyThroughEndpoint(t *testing.T) {
	f := newFakeStore()
	org := domain.Organization{ID: 1, Name: "example"}
	f.orgs[1] = org
	died := day(2)
	f.urls[1] = []domain.Url{{ID: 10, Hostname: "example.org", IsDead: true, IsDeadSince: &died}}
	f.endpoints[10] = []domain.Endpoint{{ID: 100, UrlID: 10, Protocol: "https", Port: 443, IPVersion: 4, DiscoveredOn: day(1)}}
	f.urlSnaps[10] = []domain.UrlRatingSnapshot{urlSnap(10, day(1), 1, 0, 0)}

	r := newRollup(f)
	// The lifecycle filter alone would exclude the URL at day 4; the live
	// endpoint keeps it in scope.
	snap, _, err := r.Rate(context.Background(), org, day(4))
	require.NoError(t, err)
	assert.Equal(t, 1, snap.TotalUrls)
}

func TestCreateSentinel(t *testing.T) {
	f := newFakeStore()
	org := domain.Organization{ID: 1, Name: "example", CreatedOn: day(1)}
	f.orgs[1] = org

	r := newRollup(f)
	require.NoError(t, r.CreateSentinel(context.Background(), org))
	require.Len(t, f.orgSnaps, 1)
	assert.Equal(t, domain.SentinelRating, f.orgSnaps[0].Rating)
	assert.Equal(t, day(1), f.orgSnaps[0].When)

	// Idempotent: once any snapshot exists, nothing more is written.
	require.NoError(t, r.CreateSentinel(context.Background(), org))
	assert.Len(t, f.orgSnaps, 1)
}

func TestCreateSentinelEpochFallback(t *testing.T) {
	f := newFakeStore()
	org := domain.Organization{ID: 2, Name: "unknown-age"}
	f.orgs[2] = org

	r := newRollup(f)
	require.NoError(t, r.CreateSentinel(context.Background(), org))
	require.Len(t, f.orgSnaps, 1)
	assert.Equal(t, time.Unix(0, 0).UTC(), f.orgSnaps[0].When)
}
