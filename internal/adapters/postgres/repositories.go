package postgres

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"secmap/internal/domain"
)

var ErrNotFound = errors.New("not found")

// OrganizationRepository

func (db *DB) OrganizationByID(ctx context.Context, id int64) (domain.Organization, error) {
	var org domain.Organization
	err := db.Pool.QueryRow(ctx, `
		SELECT id, name, created_on FROM organizations WHERE id = $1
	`, id).Scan(&org.ID, &org.Name, &org.CreatedOn)
	if errors.Is(err, pgx.ErrNoRows) {
		return org, ErrNotFound
	}
	return org, err
}

func (db *DB) Urls(ctx context.Context, organizationID int64) ([]domain.Url, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT u.id, u.hostname, u.created_on, u.not_resolvable, u.not_resolvable_since, u.is_dead, u.is_dead_since
		FROM urls u
		JOIN url_organizations uo ON uo.url_id = u.id
		WHERE uo.organization_id = $1
		ORDER BY u.id
	`, organizationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUrls(rows)
}

// RelevantUrls applies the liveness window in SQL: a URL counts at the
// instant if it is alive and resolvable (or its terminal transition happened
// at or after the instant), or at least one of its endpoints is alive under
// the same rule. The two filters are a union: a URL carrying only URL-level
// findings has no endpoint rows and still counts.
func (db *DB) RelevantUrls(ctx context.Context, organizationID int64, when time.Time) ([]domain.Url, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT u.id, u.hostname, u.created_on, u.not_resolvable, u.not_resolvable_since, u.is_dead, u.is_dead_since
		FROM urls u
		JOIN url_organizations uo ON uo.url_id = u.id
		WHERE uo.organization_id = $1
		  AND (
			(
			  (NOT u.is_dead OR u.is_dead_since >= $2)
			  AND (NOT u.not_resolvable OR u.not_resolvable_since >= $2)
			)
			OR EXISTS (
			  SELECT 1 FROM endpoints e
			  WHERE e.url_id = u.id
				AND e.discovered_on <= $2
				AND (NOT e.is_dead OR e.dead_since >= $2)
			)
		  )
		ORDER BY u.id
	`, organizationID, when)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanUrls(rows)
}

func (db *DB) OrganizationsForUrl(ctx context.Context, urlID int64) ([]domain.Organization, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT o.id, o.name, o.created_on
		FROM organizations o
		JOIN url_organizations uo ON uo.organization_id = o.id
		WHERE uo.url_id = $1
		ORDER BY o.id
	`, urlID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Organization
	for rows.Next() {
		var org domain.Organization
		if err := rows.Scan(&org.ID, &org.Name, &org.CreatedOn); err != nil {
			return nil, err
		}
		out = append(out, org)
	}
	return out, rows.Err()
}

// UrlRepository

func (db *DB) UrlByID(ctx context.Context, id int64) (domain.Url, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, hostname, created_on, not_resolvable, not_resolvable_since, is_dead, is_dead_since
		FROM urls WHERE id = $1
	`, id)
	u, err := scanUrl(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, ErrNotFound
	}
	return u, err
}

func (db *DB) UrlByHostname(ctx context.Context, hostname string) (domain.Url, bool, error) {
	row := db.Pool.QueryRow(ctx, `
		SELECT id, hostname, created_on, not_resolvable, not_resolvable_since, is_dead, is_dead_since
		FROM urls WHERE hostname = $1
	`, strings.ToLower(hostname))
	u, err := scanUrl(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return u, false, nil
	}
	if err != nil {
		return u, false, err
	}
	return u, true, nil
}

func (db *DB) Endpoints(ctx context.Context, urlID int64) ([]domain.Endpoint, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, url_id, protocol, port, ip_version, is_dead, dead_since, discovered_on
		FROM endpoints WHERE url_id = $1
		ORDER BY id
	`, urlID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Endpoint
	for rows.Next() {
		var ep domain.Endpoint
		if err := rows.Scan(&ep.ID, &ep.UrlID, &ep.Protocol, &ep.Port, &ep.IPVersion, &ep.IsDead, &ep.DeadSince, &ep.DiscoveredOn); err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
	return out, rows.Err()
}

// ScanEventRepository

func (db *DB) EventsForUrl(ctx context.Context, urlID int64, endpointIDs []int64) ([]domain.ScanEvent, error) {
	rows, err := db.Pool.Query(ctx, `
		SELECT id, subject_kind, subject_id, finding_type, outcome, explanation,
		       is_explained, explained_until, determined_on, last_scan_moment
		FROM scan_events
		WHERE (subject_kind = 'url' AND subject_id = $1)
		   OR (subject_kind = 'endpoint' AND subject_id = ANY($2))
		ORDER BY determined_on, id
	`, urlID, endpointIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.ScanEvent
	for rows.Next() {
		var ev domain.ScanEvent
		var explainedUntil *time.Time
		if err := rows.Scan(&ev.ID, &ev.SubjectKind, &ev.SubjectID, &ev.Type, &ev.Outcome,
			&ev.Explanation, &ev.IsExplained, &explainedUntil, &ev.DeterminedOn, &ev.LastScanMoment); err != nil {
			return nil, err
		}
		if explainedUntil != nil {
			ev.ExplainedUntil = *explainedUntil
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// ReportFlagRepository. A finding type without a row defaults to enabled:
// flags exist to switch checks off, not to register them.
func (db *DB) Enabled(ctx context.Context, findingType string) (bool, error) {
	var enabled bool
	err := db.Pool.QueryRow(ctx, `
		SELECT enabled FROM report_flags WHERE finding_type = $1
	`, findingType).Scan(&enabled)
	if errors.Is(err, pgx.ErrNoRows) {
		return true, nil
	}
	return enabled, err
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUrl(row rowScanner) (domain.Url, error) {
	var u domain.Url
	err := row.Scan(&u.ID, &u.Hostname, &u.CreatedOn, &u.NotResolvable, &u.NotResolvableSince, &u.IsDead, &u.IsDeadSince)
	return u, err
}

func scanUrls(rows pgx.Rows) ([]domain.Url, error) {
	var out []domain.Url
	for rows.Next() {
		u, err := scanUrl(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}
