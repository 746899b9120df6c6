package timeline

import (
	"sort"
	"time"

	"secmap/internal/domain"
)

// Moment groups everything that happened to a URL on one significant instant.
type Moment struct {
	When time.Time

	// EndpointScans holds this day's deduplicated endpoint events, keyed by
	// endpoint id. URLScans holds the URL-level ones (DNS security).
	EndpointScans map[int64][]domain.ScanEvent
	URLScans      []domain.ScanEvent

	// RelevantEndpoints are the endpoints that existed at this instant,
	// sorted by id for deterministic processing.
	RelevantEndpoints []domain.Endpoint

	// DeadEndpoints lists endpoints whose death falls on this moment's day.
	DeadEndpoints []int64

	BecameUnresolvable bool
	Died               bool
}

// Timeline is a URL's ordered sequence of significant moments.
type Timeline []Moment

// Build groups deduplicated scans and lifecycle events per moment. An
// endpoint is relevant at a moment if discovered on or before it and not dead
// before it; one dying at a moment stays in that moment's set and drops out
// of all subsequent ones, carry-forward included.
func Build(url domain.Url, endpoints []domain.Endpoint, deduped []domain.ScanEvent, moments []time.Time) Timeline {
	tl := make(Timeline, 0, len(moments))
	for _, when := range moments {
		m := Moment{
			When:          when,
			EndpointScans: make(map[int64][]domain.ScanEvent),
		}

		for _, ep := range endpoints {
			if endpointRelevantAt(ep, when) {
				m.RelevantEndpoints = append(m.RelevantEndpoints, ep)
			}
			if ep.IsDead && ep.DeadSince != nil && sameDay(*ep.DeadSince, when) {
				m.DeadEndpoints = append(m.DeadEndpoints, ep.ID)
			}
		}
		sort.Slice(m.RelevantEndpoints, func(i, j int) bool {
			return m.RelevantEndpoints[i].ID < m.RelevantEndpoints[j].ID
		})

		for _, ev := range deduped {
			if !sameDay(ev.DeterminedOn, when) {
				continue
			}
			switch ev.SubjectKind {
			case domain.SubjectEndpoint:
				m.EndpointScans[ev.SubjectID] = append(m.EndpointScans[ev.SubjectID], ev)
			case domain.SubjectURL:
				if ev.SubjectID == url.ID {
					m.URLScans = append(m.URLScans, ev)
				}
			}
		}

		if url.NotResolvable && url.NotResolvableSince != nil && sameDay(*url.NotResolvableSince, when) {
			m.BecameUnresolvable = true
		}
		if url.IsDead && url.IsDeadSince != nil && sameDay(*url.IsDeadSince, when) {
			m.Died = true
		}

		tl = append(tl, m)
	}
	return tl
}

// endpointRelevantAt compares at calendar-day granularity: moments are
// normalized to the end of their day (or "now" on the current day), so an
// endpoint discovered or dying anywhere within a moment's day belongs to
// that moment.
func endpointRelevantAt(ep domain.Endpoint, when time.Time) bool {
	momentDay := endOfDay(when)
	if endOfDay(ep.DiscoveredOn).After(momentDay) {
		return false
	}
	if ep.IsDead && ep.DeadSince != nil && endOfDay(*ep.DeadSince).Before(momentDay) {
		return false
	}
	return true
}
