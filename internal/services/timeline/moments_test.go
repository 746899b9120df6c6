package timeline

import (
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secmap/internal/domain"
)

func TestMomentsNormalizedToEndOfDay(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 3, 10, 14, 0, 0, 0, time.UTC))
	events := []domain.ScanEvent{
		endpointScan(1, 10, "tls_qualys", day(1, 9)),
		endpointScan(2, 10, "ftp", day(1, 17)), // same day, one moment
		endpointScan(3, 10, "tls_qualys", day(3, 8)),
	}

	got := Moments(domain.Url{ID: 1}, nil, events, clock)
	require.Len(t, got, 2)
	assert.Equal(t, time.Date(2025, 3, 1, 23, 59, 59, 999999000, time.UTC), got[0])
	assert.Equal(t, time.Date(2025, 3, 3, 23, 59, 59, 999999000, time.UTC), got[1])
}

func TestMomentsTodayStaysNow(t *testing.T) {
	now := time.Date(2025, 3, 3, 14, 30, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(now)
	events := []domain.ScanEvent{
		endpointScan(1, 10, "tls_qualys", day(1, 9)),
		endpointScan(2, 10, "tls_qualys", day(3, 8)),
	}

	got := Moments(domain.Url{ID: 1}, nil, events, clock)
	require.Len(t, got, 2)
	assert.Equal(t, endOfDay(day(1, 9)), got[0])
	assert.Equal(t, now, got[1], "latest moment on the current day is kept as now")
}

func TestMomentsIncludeLifecycleTransitions(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	dead := day(5, 11)
	unresolvable := day(7, 9)
	url := domain.Url{ID: 1, NotResolvable: true, NotResolvableSince: &unresolvable}
	endpoints := []domain.Endpoint{
		{ID: 10, UrlID: 1, IsDead: true, DeadSince: &dead, DiscoveredOn: day(1, 0)},
	}
	events := []domain.ScanEvent{endpointScan(1, 10, "tls_qualys", day(1, 9))}

	got := Moments(url, endpoints, events, clock)
	require.Len(t, got, 3)
	assert.Equal(t, endOfDay(day(1, 0)), got[0])
	assert.Equal(t, endOfDay(dead), got[1])
	assert.Equal(t, endOfDay(unresolvable), got[2])
}

func TestMomentsEmptyWithoutData(t *testing.T) {
	clock := clockwork.NewFakeClockAt(time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC))
	got := Moments(domain.Url{ID: 1}, nil, nil, clock)
	assert.Empty(t, got)
}
