package orgreport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"secmap/internal/domain"
	"secmap/internal/ports"
)

// Rollup aggregates an organization's URLs into one rating snapshot as of a
// given instant, persisting only when the result materially differs from the
// previous snapshot.
type Rollup struct {
	orgs     ports.OrganizationRepository
	urlSnaps ports.UrlSnapshotRepository
	orgSnaps ports.OrganizationSnapshotRepository
	log      *zap.Logger
}

func New(orgs ports.OrganizationRepository, urlSnaps ports.UrlSnapshotRepository, orgSnaps ports.OrganizationSnapshotRepository, log *zap.Logger) *Rollup {
	if log == nil {
		log = zap.NewNop()
	}
	return &Rollup{orgs: orgs, urlSnaps: urlSnaps, orgSnaps: orgSnaps, log: log}
}

// Rate computes the organization's severity state as of when, from each
// relevant URL's latest applicable snapshot (an as-of join, not the newest
// overall). The snapshot is persisted only when different from the previous
// one; the returned bool reports whether a new row was written. An
// organization without relevant URLs legitimately rates to all zeros.
func (r *Rollup) Rate(ctx context.Context, org domain.Organization, when time.Time) (domain.OrganizationRatingSnapshot, bool, error) {
	urls, err := r.orgs.RelevantUrls(ctx, org.ID, when)
	if err != nil {
		return domain.OrganizationRatingSnapshot{}, false, fmt.Errorf("relevant urls for organization %d: %w", org.ID, err)
	}

	// The repository decides relevance: URL lifecycle union endpoint
	// liveness. Re-filtering on the URL fields alone here would drop URLs
	// that qualify through a live endpoint.
	var calc domain.OrganizationCalculation
	for _, u := range urls {
		snap, found, err := r.urlSnaps.LatestBefore(ctx, u.ID, when)
		if err != nil {
			return domain.OrganizationRatingSnapshot{}, false, fmt.Errorf("latest snapshot for url %d: %w", u.ID, err)
		}
		if !found {
			continue // never rated yet; contributes nothing
		}

		calc.High += snap.High
		calc.Medium += snap.Medium
		calc.Low += snap.Low
		calc.ExplainedHigh += snap.ExplainedHigh
		calc.ExplainedMedium += snap.ExplainedMedium
		calc.ExplainedLow += snap.ExplainedLow

		calc.TotalEndpoints += snap.TotalEndpoints
		calc.HighEndpoints += snap.HighEndpoints
		calc.MediumEndpoints += snap.MediumEndpoints
		calc.LowEndpoints += snap.LowEndpoints
		calc.OkEndpoints += snap.OkEndpoints

		calc.TotalUrls++
		// A URL lands in exactly one category, by its worst open issue.
		switch snap.WorstBucket() {
		case domain.BucketHigh:
			calc.HighUrls++
		case domain.BucketMedium:
			calc.MediumUrls++
		case domain.BucketLow:
			calc.LowUrls++
		default:
			calc.OkUrls++
		}

		calc.Urls = append(calc.Urls, snap.Calculation)
	}
	calc.TotalIssues = calc.High + calc.Medium + calc.Low

	snap := snapshotFromCalculation(org, when, calc)

	prev, found, err := r.orgSnaps.Latest(ctx, org.ID)
	if err != nil {
		return domain.OrganizationRatingSnapshot{}, false, fmt.Errorf("previous snapshot for organization %d: %w", org.ID, err)
	}
	if found && sameRating(prev, snap) {
		r.log.Debug("organization unchanged, snapshot skipped",
			zap.String("organization", org.Name), zap.Time("when", when))
		return prev, false, nil
	}

	if err := r.orgSnaps.Create(ctx, &snap); err != nil {
		return domain.OrganizationRatingSnapshot{}, false, fmt.Errorf("persist snapshot for organization %d: %w", org.ID, err)
	}
	r.log.Info("organization rated",
		zap.String("organization", org.Name),
		zap.Time("when", when),
		zap.Int("rating", snap.Rating),
		zap.Int("urls", snap.TotalUrls))
	return snap, true, nil
}

// CreateSentinel writes the one-time "no data yet" snapshot for a freshly
// created organization, stamped at its creation (or the epoch when unknown).
// It is a no-op once any snapshot exists.
func (r *Rollup) CreateSentinel(ctx context.Context, org domain.Organization) error {
	_, found, err := r.orgSnaps.Latest(ctx, org.ID)
	if err != nil {
		return err
	}
	if found {
		return nil
	}
	when := org.CreatedOn
	if when.IsZero() {
		when = time.Unix(0, 0).UTC()
	}
	snap := domain.OrganizationRatingSnapshot{
		OrganizationID: org.ID,
		When:           when,
		Rating:         domain.SentinelRating,
	}
	return r.orgSnaps.Create(ctx, &snap)
}

func snapshotFromCalculation(org domain.Organization, when time.Time, calc domain.OrganizationCalculation) domain.OrganizationRatingSnapshot {
	return domain.OrganizationRatingSnapshot{
		OrganizationID:  org.ID,
		When:            when,
		Rating:          calc.TotalIssues,
		High:            calc.High,
		Medium:          calc.Medium,
		Low:             calc.Low,
		ExplainedHigh:   calc.ExplainedHigh,
		ExplainedMedium: calc.ExplainedMedium,
		ExplainedLow:    calc.ExplainedLow,
		TotalUrls:       calc.TotalUrls,
		HighUrls:        calc.HighUrls,
		MediumUrls:      calc.MediumUrls,
		LowUrls:         calc.LowUrls,
		OkUrls:          calc.OkUrls,
		TotalEndpoints:  calc.TotalEndpoints,
		HighEndpoints:   calc.HighEndpoints,
		MediumEndpoints: calc.MediumEndpoints,
		LowEndpoints:    calc.LowEndpoints,
		Calculation:     calc,
	}
}

// sameRating structurally compares two snapshots through their marshaled
// calculation payloads, plus the headline rating. The When stamps are
// deliberately excluded: an unchanged organization produces no new row no
// matter how often it is rated.
func sameRating(a, b domain.OrganizationRatingSnapshot) bool {
	if a.Rating != b.Rating {
		return false
	}
	aj, err := json.Marshal(a.Calculation)
	if err != nil {
		return false
	}
	bj, err := json.Marshal(b.Calculation)
	if err != nil {
		return false
	}
	return bytes.Equal(aj, bj)
}
