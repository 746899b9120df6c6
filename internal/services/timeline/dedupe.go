package timeline

import (
	"sort"
	"time"

	"secmap/internal/domain"
)

// dedupKey identifies one finding type on one subject on one calendar day.
type dedupKey struct {
	kind    domain.SubjectKind
	subject int64
	typ     string
	day     string // UTC calendar day
}

// Dedupe collapses all scan events for the same subject, finding type and UTC
// calendar day into the one with the greatest DeterminedOn. Input is sorted
// by (DeterminedOn, ID) ascending first and replacement happens only on a
// strictly greater DeterminedOn, so ties keep the lowest ID and the result is
// deterministic regardless of input order. The returned slice is sorted by
// (DeterminedOn, ID).
func Dedupe(events []domain.ScanEvent) []domain.ScanEvent {
	if len(events) == 0 {
		return nil
	}

	sorted := make([]domain.ScanEvent, len(events))
	copy(sorted, events)
	sortEvents(sorted)

	kept := make(map[dedupKey]domain.ScanEvent, len(sorted))
	for _, ev := range sorted {
		k := dedupKey{
			kind:    ev.SubjectKind,
			subject: ev.SubjectID,
			typ:     ev.Type,
			day:     dayKey(ev.DeterminedOn),
		}
		prev, ok := kept[k]
		if !ok || ev.DeterminedOn.After(prev.DeterminedOn) {
			kept[k] = ev
		}
	}

	out := make([]domain.ScanEvent, 0, len(kept))
	for _, ev := range kept {
		out = append(out, ev)
	}
	sortEvents(out)
	return out
}

func sortEvents(events []domain.ScanEvent) {
	sort.Slice(events, func(i, j int) bool {
		if !events[i].DeterminedOn.Equal(events[j].DeterminedOn) {
			return events[i].DeterminedOn.Before(events[j].DeterminedOn)
		}
		return events[i].ID < events[j].ID
	})
}

func dayKey(t time.Time) string {
	return t.UTC().Format("2006-01-02")
}

func sameDay(a, b time.Time) bool {
	return dayKey(a) == dayKey(b)
}

// endOfDay normalizes an instant to the last representable microsecond of
// its UTC calendar day.
func endOfDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 23, 59, 59, 999999000, time.UTC)
}
