package timeline

import (
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/jonboulle/clockwork"

	"secmap/internal/domain"
)

// Moments derives the ordered set of instants at which the URL's state could
// have changed: every deduplicated scan's DeterminedOn, every endpoint's
// death, and the URL's own unresolvable/death transitions. Each instant is
// normalized to the end of its UTC calendar day, except the most recent one,
// which stays "now" when it falls on the current day so today's snapshot is
// visible immediately instead of only after midnight.
//
// An empty result means the URL has no timeline and produces no snapshots.
func Moments(url domain.Url, endpoints []domain.Endpoint, deduped []domain.ScanEvent, clock clockwork.Clock) []time.Time {
	set := mapset.NewThreadUnsafeSet[time.Time]()

	for _, ev := range deduped {
		set.Add(endOfDay(ev.DeterminedOn))
	}
	for _, ep := range endpoints {
		if ep.IsDead && ep.DeadSince != nil {
			set.Add(endOfDay(*ep.DeadSince))
		}
	}
	if url.NotResolvable && url.NotResolvableSince != nil {
		set.Add(endOfDay(*url.NotResolvableSince))
	}
	if url.IsDead && url.IsDeadSince != nil {
		set.Add(endOfDay(*url.IsDeadSince))
	}

	if set.Cardinality() == 0 {
		return nil
	}

	moments := set.ToSlice()
	sort.Slice(moments, func(i, j int) bool { return moments[i].Before(moments[j]) })

	now := clock.Now().UTC()
	if sameDay(moments[len(moments)-1], now) {
		moments[len(moments)-1] = now
	}
	return moments
}
