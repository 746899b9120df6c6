package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"secmap/internal/domain"
)

// UrlSnapshotRepository

// Replace deletes all snapshots of the URL and inserts the replayed sequence
// in one transaction, so a failed rebuild never leaves the URL without data.
// The URL row is locked first: a URL shared by two organizations can be
// rebuilt by two workers at once, and interleaved delete+insert would commit
// a doubled sequence. The second replay blocks, then rewrites the same rows.
func (db *DB) Replace(ctx context.Context, urlID int64, snapshots []domain.UrlRatingSnapshot) error {
	tx, err := db.Pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		} else {
			_ = tx.Commit(ctx)
		}
	}()

	var locked int64
	if err = tx.QueryRow(ctx, `SELECT id FROM urls WHERE id = $1 FOR UPDATE`, urlID).Scan(&locked); err != nil {
		return err
	}
	if _, err = tx.Exec(ctx, `DELETE FROM url_rating_snapshots WHERE url_id = $1`, urlID); err != nil {
		return err
	}
	for i := range snapshots {
		s := &snapshots[i]
		var calc []byte
		calc, err = json.Marshal(s.Calculation)
		if err != nil {
			return err
		}
		err = tx.QueryRow(ctx, `
			INSERT INTO url_rating_snapshots (
				url_id, at_when, high, medium, low,
				explained_high, explained_medium, explained_low, total_issues,
				total_endpoints, high_endpoints, medium_endpoints, low_endpoints, ok_endpoints,
				explained_high_endpoints, explained_medium_endpoints, explained_low_endpoints,
				terminal, calculation
			) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
			RETURNING id
		`, s.UrlID, s.When, s.High, s.Medium, s.Low,
			s.ExplainedHigh, s.ExplainedMedium, s.ExplainedLow, s.TotalIssues,
			s.TotalEndpoints, s.HighEndpoints, s.MediumEndpoints, s.LowEndpoints, s.OkEndpoints,
			s.ExplainedHighEndpoints, s.ExplainedMediumEndpoints, s.ExplainedLowEndpoints,
			s.Terminal, calc).Scan(&s.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

// LatestBefore is the as-of query: the most recent snapshot with
// at_when <= the instant. Served by the (url_id, at_when) index.
func (db *DB) LatestBefore(ctx context.Context, urlID int64, when time.Time) (domain.UrlRatingSnapshot, bool, error) {
	var s domain.UrlRatingSnapshot
	var calc []byte
	err := db.Pool.QueryRow(ctx, `
		SELECT id, url_id, at_when, high, medium, low,
		       explained_high, explained_medium, explained_low, total_issues,
		       total_endpoints, high_endpoints, medium_endpoints, low_endpoints, ok_endpoints,
		       explained_high_endpoints, explained_medium_endpoints, explained_low_endpoints,
		       terminal, calculation
		FROM url_rating_snapshots
		WHERE url_id = $1 AND at_when <= $2
		ORDER BY at_when DESC
		LIMIT 1
	`, urlID, when).Scan(&s.ID, &s.UrlID, &s.When, &s.High, &s.Medium, &s.Low,
		&s.ExplainedHigh, &s.ExplainedMedium, &s.ExplainedLow, &s.TotalIssues,
		&s.TotalEndpoints, &s.HighEndpoints, &s.MediumEndpoints, &s.LowEndpoints, &s.OkEndpoints,
		&s.ExplainedHighEndpoints, &s.ExplainedMediumEndpoints, &s.ExplainedLowEndpoints,
		&s.Terminal, &calc)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}
	if err := json.Unmarshal(calc, &s.Calculation); err != nil {
		return s, false, err
	}
	return s, true, nil
}

// OrganizationSnapshotRepository

func (db *DB) Create(ctx context.Context, snap *domain.OrganizationRatingSnapshot) error {
	calc, err := json.Marshal(snap.Calculation)
	if err != nil {
		return err
	}
	return db.Pool.QueryRow(ctx, `
		INSERT INTO organization_rating_snapshots (
			organization_id, at_when, rating, high, medium, low,
			explained_high, explained_medium, explained_low,
			total_urls, high_urls, medium_urls, low_urls, ok_urls,
			total_endpoints, high_endpoints, medium_endpoints, low_endpoints,
			calculation
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		RETURNING id
	`, snap.OrganizationID, snap.When, snap.Rating, snap.High, snap.Medium, snap.Low,
		snap.ExplainedHigh, snap.ExplainedMedium, snap.ExplainedLow,
		snap.TotalUrls, snap.HighUrls, snap.MediumUrls, snap.LowUrls, snap.OkUrls,
		snap.TotalEndpoints, snap.HighEndpoints, snap.MediumEndpoints, snap.LowEndpoints,
		calc).Scan(&snap.ID)
}

func (db *DB) Latest(ctx context.Context, organizationID int64) (domain.OrganizationRatingSnapshot, bool, error) {
	return db.orgSnapshot(ctx, `
		SELECT `+orgSnapshotColumns+`
		FROM organization_rating_snapshots
		WHERE organization_id = $1
		ORDER BY at_when DESC, id DESC
		LIMIT 1
	`, organizationID)
}

func (db *DB) OrgLatestBefore(ctx context.Context, organizationID int64, when time.Time) (domain.OrganizationRatingSnapshot, bool, error) {
	return db.orgSnapshot(ctx, `
		SELECT `+orgSnapshotColumns+`
		FROM organization_rating_snapshots
		WHERE organization_id = $1 AND at_when <= $2
		ORDER BY at_when DESC, id DESC
		LIMIT 1
	`, organizationID, when)
}

// OrgSnapshotStore adapts DB to the organization snapshot port. The URL as-of
// query occupies the LatestBefore method on DB itself.
type OrgSnapshotStore struct{ DB *DB }

func (s OrgSnapshotStore) Create(ctx context.Context, snap *domain.OrganizationRatingSnapshot) error {
	return s.DB.Create(ctx, snap)
}

func (s OrgSnapshotStore) Latest(ctx context.Context, organizationID int64) (domain.OrganizationRatingSnapshot, bool, error) {
	return s.DB.Latest(ctx, organizationID)
}

func (s OrgSnapshotStore) LatestBefore(ctx context.Context, organizationID int64, when time.Time) (domain.OrganizationRatingSnapshot, bool, error) {
	return s.DB.OrgLatestBefore(ctx, organizationID, when)
}

const orgSnapshotColumns = `id, organization_id, at_when, rating, high, medium, low,
	explained_high, explained_medium, explained_low,
	total_urls, high_urls, medium_urls, low_urls, ok_urls,
	total_endpoints, high_endpoints, medium_endpoints, low_endpoints,
	calculation`

func (db *DB) orgSnapshot(ctx context.Context, query string, args ...any) (domain.OrganizationRatingSnapshot, bool, error) {
	var s domain.OrganizationRatingSnapshot
	var calc []byte
	err := db.Pool.QueryRow(ctx, query, args...).Scan(
		&s.ID, &s.OrganizationID, &s.When, &s.Rating, &s.High, &s.Medium, &s.Low,
		&s.ExplainedHigh, &s.ExplainedMedium, &s.ExplainedLow,
		&s.TotalUrls, &s.HighUrls, &s.MediumUrls, &s.LowUrls, &s.OkUrls,
		&s.TotalEndpoints, &s.HighEndpoints, &s.MediumEndpoints, &s.LowEndpoints,
		&calc)
	if errors.Is(err, pgx.ErrNoRows) {
		return s, false, nil
	}
	if err != nil {
		return s, false, err
	}
	if err := json.Unmarshal(calc, &s.Calculation); err != nil {
		return s, false, err
	}
	return s, true, nil
}
