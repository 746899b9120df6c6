package urlreport

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"

	"secmap/internal/domain"
	"secmap/internal/ports"
	"secmap/internal/services/severity"
	"secmap/internal/services/timeline"
)

// Rollup replays a URL's scan history into its sequence of rating snapshots.
// Moments are folded strictly chronologically; carry-forward state makes the
// fold inherently sequential.
type Rollup struct {
	urls      ports.UrlRepository
	events    ports.ScanEventRepository
	snapshots ports.UrlSnapshotRepository
	flags     ports.ReportFlagRepository
	clock     clockwork.Clock
	log       *zap.Logger
}

func New(urls ports.UrlRepository, events ports.ScanEventRepository, snapshots ports.UrlSnapshotRepository, flags ports.ReportFlagRepository, clock clockwork.Clock, log *zap.Logger) *Rollup {
	if log == nil {
		log = zap.NewNop()
	}
	return &Rollup{urls: urls, events: events, snapshots: snapshots, flags: flags, clock: clock, log: log}
}

// Rebuild deletes the URL's existing snapshots and replays its full timeline.
// It is idempotent: the same inputs produce the same snapshot sequence. The
// number of persisted snapshots is returned.
func (r *Rollup) Rebuild(ctx context.Context, url domain.Url) (int, error) {
	endpoints, err := r.urls.Endpoints(ctx, url.ID)
	if err != nil {
		return 0, fmt.Errorf("endpoints for url %d: %w", url.ID, err)
	}
	endpointIDs := make([]int64, 0, len(endpoints))
	for _, ep := range endpoints {
		endpointIDs = append(endpointIDs, ep.ID)
	}

	events, err := r.events.EventsForUrl(ctx, url.ID, endpointIDs)
	if err != nil {
		return 0, fmt.Errorf("events for url %d: %w", url.ID, err)
	}

	// Report flags are checked once per rebuild and treated as static input.
	included, err := r.filterByFlags(ctx, events)
	if err != nil {
		return 0, err
	}

	deduped := timeline.Dedupe(included)
	moments := timeline.Moments(url, endpoints, deduped, r.clock)
	if len(moments) == 0 {
		r.log.Debug("url has no timeline", zap.String("url", url.Hostname))
		return 0, nil
	}

	tl := timeline.Build(url, endpoints, deduped, moments)
	snaps, err := r.fold(url, tl)
	if err != nil {
		return 0, fmt.Errorf("rebuild %s: %w", url.Hostname, err)
	}

	if err := r.snapshots.Replace(ctx, url.ID, snaps); err != nil {
		return 0, fmt.Errorf("persist snapshots for %s: %w", url.Hostname, err)
	}
	r.log.Info("url rebuilt",
		zap.String("url", url.Hostname),
		zap.Int("moments", len(moments)),
		zap.Int("snapshots", len(snaps)))
	return len(snaps), nil
}

func (r *Rollup) filterByFlags(ctx context.Context, events []domain.ScanEvent) ([]domain.ScanEvent, error) {
	out := make([]domain.ScanEvent, 0, len(events))
	enabled := make(map[string]bool)
	for _, ev := range events {
		on, seen := enabled[ev.Type]
		if !seen {
			var err error
			on, err = r.flags.Enabled(ctx, ev.Type)
			if err != nil {
				return nil, fmt.Errorf("report flag for %s: %w", ev.Type, err)
			}
			enabled[ev.Type] = on
		}
		if on {
			out = append(out, ev)
		}
	}
	return out, nil
}

// labelKey groups endpoints that are logically one listening service: same
// port and same address family at the same moment. Load-balanced or multi-IP
// services would otherwise count the same finding once per address.
type labelKey struct {
	v6   bool
	port int
}

// fold walks the timeline chronologically, carrying the last known scan per
// (endpoint, finding type) and per URL-level finding type forward until the
// endpoint or URL dies.
func (r *Rollup) fold(url domain.Url, tl timeline.Timeline) ([]domain.UrlRatingSnapshot, error) {
	reportTime := r.clock.Now().UTC()

	carriedEndpoint := make(map[int64]map[string]domain.ScanEvent)
	carriedURL := make(map[string]domain.ScanEvent)
	everRated := false

	var out []domain.UrlRatingSnapshot
	for _, m := range tl {
		if m.BecameUnresolvable || m.Died {
			// Terminal state: one final all-zero snapshot if the URL was ever
			// rated, then nothing further in this build.
			if everRated {
				out = append(out, terminalSnapshot(url, m.When))
			}
			break
		}

		relevant := make(map[int64]bool, len(m.RelevantEndpoints))
		for _, ep := range m.RelevantEndpoints {
			relevant[ep.ID] = true
		}
		// Dead endpoints stop carrying state forward.
		for id := range carriedEndpoint {
			if !relevant[id] {
				delete(carriedEndpoint, id)
			}
		}

		// New scans override carried state per finding type.
		for epID, evs := range m.EndpointScans {
			if !relevant[epID] {
				continue
			}
			st := carriedEndpoint[epID]
			if st == nil {
				st = make(map[string]domain.ScanEvent)
				carriedEndpoint[epID] = st
			}
			for _, ev := range evs {
				st[ev.Type] = ev
			}
		}
		for _, ev := range m.URLScans {
			carriedURL[ev.Type] = ev
		}

		snap, hasAny, err := r.rateMoment(url, m, carriedEndpoint, carriedURL, reportTime)
		if err != nil {
			return nil, err
		}
		if hasAny {
			everRated = true
		}
		// Skip only while nothing has ever been rated: no empty leading
		// snapshots before any data exists.
		if !everRated {
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

// rateMoment classifies everything known at one moment into a snapshot.
func (r *Rollup) rateMoment(url domain.Url, m timeline.Moment, carriedEndpoint map[int64]map[string]domain.ScanEvent, carriedURL map[string]domain.ScanEvent, reportTime time.Time) (domain.UrlRatingSnapshot, bool, error) {
	snap := domain.UrlRatingSnapshot{UrlID: url.ID, When: m.When}
	calc := domain.UrlCalculation{Url: url.Hostname}

	// First endpoint per (label, finding type) contributes points; the rest
	// record a zero-impact repeated finding. RelevantEndpoints is sorted by
	// id, so "first" is well defined.
	counted := make(map[labelKey]map[string]bool)

	for _, ep := range m.RelevantEndpoints {
		state := carriedEndpoint[ep.ID]
		if len(state) == 0 {
			continue // never scanned, no report for this endpoint
		}

		epCalc := domain.EndpointCalculation{
			ID:        ep.ID,
			Protocol:  ep.Protocol,
			Port:      ep.Port,
			IPVersion: ep.IPVersion,
		}
		label := labelKey{v6: ep.IPVersion == 6, port: ep.Port}

		for _, typ := range sortedTypes(state) {
			ev := state[typ]
			contrib, err := severity.Classify(ev, reportTime)
			if err != nil {
				return snap, false, err
			}

			rating := domain.Rating{
				Type:        typ,
				Since:       ev.DeterminedOn,
				LastScan:    ev.LastScanMoment,
				Explanation: contrib.Explanation,
				IsExplained: contrib.IsExplained,
			}

			if counted[label][typ] {
				rating.Repeated = true
			} else {
				if counted[label] == nil {
					counted[label] = make(map[string]bool)
				}
				counted[label][typ] = true

				if contrib.ExplainedValidAtReportTime {
					epCalc.ExplainedHigh += contrib.High
					epCalc.ExplainedMedium += contrib.Medium
					epCalc.ExplainedLow += contrib.Low
				} else {
					rating.High = contrib.High
					rating.Medium = contrib.Medium
					rating.Low = contrib.Low
					epCalc.High += contrib.High
					epCalc.Medium += contrib.Medium
					epCalc.Low += contrib.Low
				}
			}
			epCalc.Ratings = append(epCalc.Ratings, rating)
		}

		calc.Endpoints = append(calc.Endpoints, epCalc)
		snap.TotalEndpoints++
		tallyEndpoint(&snap, epCalc)
	}

	for _, typ := range sortedTypes(carriedURL) {
		ev := carriedURL[typ]
		contrib, err := severity.Classify(ev, reportTime)
		if err != nil {
			return snap, false, err
		}
		rating := domain.Rating{
			Type:        typ,
			Since:       ev.DeterminedOn,
			LastScan:    ev.LastScanMoment,
			Explanation: contrib.Explanation,
			IsExplained: contrib.IsExplained,
		}
		if contrib.ExplainedValidAtReportTime {
			calc.ExplainedHigh += contrib.High
			calc.ExplainedMedium += contrib.Medium
			calc.ExplainedLow += contrib.Low
		} else {
			rating.High = contrib.High
			rating.Medium = contrib.Medium
			rating.Low = contrib.Low
			calc.High += contrib.High
			calc.Medium += contrib.Medium
			calc.Low += contrib.Low
		}
		calc.Ratings = append(calc.Ratings, rating)
	}

	// Endpoint contributions roll into the URL calculation totals.
	for _, epCalc := range calc.Endpoints {
		calc.High += epCalc.High
		calc.Medium += epCalc.Medium
		calc.Low += epCalc.Low
		calc.ExplainedHigh += epCalc.ExplainedHigh
		calc.ExplainedMedium += epCalc.ExplainedMedium
		calc.ExplainedLow += epCalc.ExplainedLow
	}

	snap.High = calc.High
	snap.Medium = calc.Medium
	snap.Low = calc.Low
	snap.ExplainedHigh = calc.ExplainedHigh
	snap.ExplainedMedium = calc.ExplainedMedium
	snap.ExplainedLow = calc.ExplainedLow
	snap.TotalIssues = snap.High + snap.Medium + snap.Low
	snap.Calculation = calc

	hasAny := len(calc.Endpoints) > 0 || len(calc.Ratings) > 0
	return snap, hasAny, nil
}

// tallyEndpoint buckets an endpoint into exactly one severity counter by its
// worst open issue, and separately into an explained counter when its worst
// finding is suppressed by a valid justification.
func tallyEndpoint(snap *domain.UrlRatingSnapshot, epCalc domain.EndpointCalculation) {
	switch epCalc.WorstBucket() {
	case domain.BucketHigh:
		snap.HighEndpoints++
		return
	case domain.BucketMedium:
		snap.MediumEndpoints++
		return
	case domain.BucketLow:
		snap.LowEndpoints++
		return
	}
	// No open issues; an explained worst severity counts separately.
	switch epCalc.ExplainedBucket() {
	case domain.BucketHigh:
		snap.ExplainedHighEndpoints++
	case domain.BucketMedium:
		snap.ExplainedMediumEndpoints++
	case domain.BucketLow:
		snap.ExplainedLowEndpoints++
	default:
		snap.OkEndpoints++
	}
}

func terminalSnapshot(url domain.Url, when time.Time) domain.UrlRatingSnapshot {
	return domain.UrlRatingSnapshot{
		UrlID:       url.ID,
		When:        when,
		Terminal:    true,
		Calculation: domain.UrlCalculation{Url: url.Hostname},
	}
}

func sortedTypes(state map[string]domain.ScanEvent) []string {
	types := make([]string, 0, len(state))
	for typ := range state {
		types = append(types, typ)
	}
	sort.Strings(types)
	return types
}
