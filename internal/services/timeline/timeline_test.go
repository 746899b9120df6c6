package timeline

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secmap/internal/domain"
)

func TestBuildGroupsScansPerMoment(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	url := domain.Url{ID: 1}
	endpoints := []domain.Endpoint{
		{ID: 10, UrlID: 1, DiscoveredOn: day(1, 0)},
		{ID: 11, UrlID: 1, DiscoveredOn: day(1, 0)},
	}
	events := Dedupe([]domain.ScanEvent{
		endpointScan(1, 10, "tls_qualys", day(1, 9)),
		endpointScan(2, 11, "ftp", day(1, 10)),
		endpointScan(3, 10, "tls_qualys", day(3, 9)),
		{ID: 4, SubjectKind: domain.SubjectURL, SubjectID: 1, Type: "DNSSEC", DeterminedOn: day(3, 12)},
	})
	moments := Moments(url, endpoints, events, clock)
	require.Len(t, moments, 2)

	tl := Build(url, endpoints, events, moments)
	require.Len(t, tl, 2)

	assert.Len(t, tl[0].EndpointScans[10], 1)
	assert.Len(t, tl[0].EndpointScans[11], 1)
	assert.Empty(t, tl[0].URLScans)

	assert.Len(t, tl[1].EndpointScans[10], 1)
	require.Len(t, tl[1].URLScans, 1)
	assert.Equal(t, "DNSSEC", tl[1].URLScans[0].Type)
}

func TestBuildEndpointRelevanceWindow(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	url := domain.Url{ID: 1}
	dead := day(2, 12)
	endpoints := []domain.Endpoint{
		{ID: 10, UrlID: 1, DiscoveredOn: day(1, 0), IsDead: true, DeadSince: &dead},
		{ID: 11, UrlID: 1, DiscoveredOn: day(3, 0)}, // discovered later
	}
	events := Dedupe([]domain.ScanEvent{
		endpointScan(1, 10, "tls_qualys", day(1, 9)),
		endpointScan(2, 11, "tls_qualys", day(3, 9)),
	})
	moments := Moments(url, endpoints, events, clock)
	require.Len(t, moments, 3) // day 1 scan, day 2 death, day 3 scan

	tl := Build(url, endpoints, events, moments)

	// Day 1: only endpoint 10 exists.
	require.Len(t, tl[0].RelevantEndpoints, 1)
	assert.Equal(t, int64(10), tl[0].RelevantEndpoints[0].ID)

	// Day 2: endpoint 10 dies at this moment and is still in the set.
	require.Len(t, tl[1].RelevantEndpoints, 1)
	assert.Equal(t, int64(10), tl[1].RelevantEndpoints[0].ID)
	assert.Equal(t, []int64{10}, tl[1].DeadEndpoints)

	// Day 3: endpoint 10 is gone for good, endpoint 11 has appeared.
	require.Len(t, tl[2].RelevantEndpoints, 1)
	assert.Equal(t, int64(11), tl[2].RelevantEndpoints[0].ID)
}

func TestBuildLifecycleFlags(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	unresolvable := day(2, 8)
	url := domain.Url{ID: 1, NotResolvable: true, NotResolvableSince: &unresolvable}
	events := Dedupe([]domain.ScanEvent{
		{ID: 1, SubjectKind: domain.SubjectURL, SubjectID: 1, Type: "DNSSEC", DeterminedOn: day(1, 9)},
	})
	moments := Moments(url, nil, events, clock)
	require.Len(t, moments, 2)

	tl := Build(url, nil, events, moments)
	assert.False(t, tl[0].BecameUnresolvable)
	assert.True(t, tl[1].BecameUnresolvable)
	assert.False(t, tl[1].Died)
}
