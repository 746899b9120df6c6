package domain

import "time"

// Core domain models used internally. Scan events and lifecycle fields are
// produced by the scanning subsystem and read-only here; snapshots are owned
// by this engine.

// SubjectKind distinguishes what a scan event was recorded against.
type SubjectKind string

const (
	SubjectURL      SubjectKind = "url"
	SubjectEndpoint SubjectKind = "endpoint"
)

// ScanEvent is one immutable classification fact from a scanner.
// DeterminedOn is the instant the classification became valid; LastScanMoment
// is when the underlying probe last ran (they differ when a re-scan confirms
// an unchanged result).
type ScanEvent struct {
	ID             int64
	SubjectKind    SubjectKind
	SubjectID      int64
	Type           string
	Outcome        string
	Explanation    string
	IsExplained    bool
	ExplainedUntil time.Time
	DeterminedOn   time.Time
	LastScanMoment time.Time
}

// Endpoint is a reachable network service of a URL. IP or port changes create
// new endpoint rows; old ones are marked dead, never deleted.
type Endpoint struct {
	ID           int64
	UrlID        int64
	Protocol     string
	Port         int
	IPVersion    int // 4 or 6
	IsDead       bool
	DeadSince    *time.Time
	DiscoveredOn time.Time
}

// Url is a domain name under one or more organizations.
type Url struct {
	ID                 int64
	Hostname           string
	CreatedOn          time.Time
	NotResolvable      bool
	NotResolvableSince *time.Time
	IsDead             bool
	IsDeadSince        *time.Time
}

// RelevantAt reports whether the URL still counted at instant t: alive and
// resolvable, or its terminal transition happened at or after t.
func (u Url) RelevantAt(t time.Time) bool {
	if u.IsDead && u.IsDeadSince != nil && u.IsDeadSince.Before(t) {
		return false
	}
	if u.NotResolvable && u.NotResolvableSince != nil && u.NotResolvableSince.Before(t) {
		return false
	}
	return true
}

type Organization struct {
	ID        int64
	Name      string
	CreatedOn time.Time
}

// UrlRatingSnapshot is one append-only row per (url, moment). Every rebuilt
// moment produces exactly one row; there is no diff gating at this level so
// the audit trail stays complete. Terminal marks the final all-zero row
// written when the URL dies or stops resolving.
type UrlRatingSnapshot struct {
	ID    int64
	UrlID int64
	When  time.Time

	High   int
	Medium int
	Low    int

	ExplainedHigh   int
	ExplainedMedium int
	ExplainedLow    int

	TotalIssues int

	TotalEndpoints  int
	HighEndpoints   int
	MediumEndpoints int
	LowEndpoints    int
	OkEndpoints     int

	ExplainedHighEndpoints   int
	ExplainedMediumEndpoints int
	ExplainedLowEndpoints    int

	Terminal    bool
	Calculation UrlCalculation
}

// WorstBucket returns which single category this URL's snapshot falls in,
// by its worst open (non-explained) issue.
func (s UrlRatingSnapshot) WorstBucket() Bucket {
	switch {
	case s.High > 0:
		return BucketHigh
	case s.Medium > 0:
		return BucketMedium
	case s.Low > 0:
		return BucketLow
	default:
		return BucketOk
	}
}

type Bucket string

const (
	BucketHigh   Bucket = "high"
	BucketMedium Bucket = "medium"
	BucketLow    Bucket = "low"
	BucketOk     Bucket = "ok"
)

// SentinelRating marks an organization snapshot written before any real data
// exists, rendered as "no data yet" downstream.
const SentinelRating = -1

// OrganizationRatingSnapshot is one append-only row per (organization,
// moment), written only when materially different from the previous one.
// Rating is the total open issue count, or SentinelRating.
type OrganizationRatingSnapshot struct {
	ID             int64
	OrganizationID int64
	When           time.Time

	Rating int

	High   int
	Medium int
	Low    int

	ExplainedHigh   int
	ExplainedMedium int
	ExplainedLow    int

	TotalUrls  int
	HighUrls   int
	MediumUrls int
	LowUrls    int
	OkUrls     int

	TotalEndpoints  int
	HighEndpoints   int
	MediumEndpoints int
	LowEndpoints    int

	Calculation OrganizationCalculation
}
