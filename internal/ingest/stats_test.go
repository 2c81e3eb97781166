package ingest

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestStatsSummary(t *testing.T) {
	t.Parallel()

	s := NewStats()
	s.RecordDiscovered(40)
	s.RecordDiscovered(-1)
	s.RecordFetched(200)
	s.RecordFetched(200)
	s.RecordFetched(404)
	s.RecordParsed()
	s.RecordFailed("http 503 for listing 7")
	s.RecordBlocked()
	s.RecordDuplicate()

	sum := s.Summary()
	require.Equal(t, 40, sum.Discovered)
	require.Equal(t, 3, sum.Fetched)
	require.Equal(t, 1, sum.Parsed)
	require.Equal(t, 1, sum.Failed)
	require.Equal(t, 1, sum.Blocked)
	require.Equal(t, 1, sum.Duplicates)
	require.Equal(t, map[int]int{200: 2, 404: 1}, sum.StatusCodes)
	require.Equal(t, []string{"http 503 for listing 7"}, sum.RecentErrors)
}

func TestStatsKeepsOnlyRecentErrors(t *testing.T) {
	t.Parallel()

	s := NewStats()
	for i := 0; i < maxRecentErrors+5; i++ {
		s.RecordFailed(fmt.Sprintf("err %d", i))
	}

	sum := s.Summary()
	require.Equal(t, maxRecentErrors+5, sum.ErrorCount)
	require.Len(t, sum.RecentErrors, maxRecentErrors)
	require.Equal(t, "err 5", sum.RecentErrors[0])
	require.Equal(t, fmt.Sprintf("err %d", maxRecentErrors+4), sum.RecentErrors[maxRecentErrors-1])
}

func TestStatsConcurrentUse(t *testing.T) {
	t.Parallel()

	s := NewStats()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.RecordFetched(200)
			s.RecordParsed()
		}()
	}
	wg.Wait()

	sum := s.Summary()
	require.Equal(t, 50, sum.Fetched)
	require.Equal(t, 50, sum.Parsed)
}
