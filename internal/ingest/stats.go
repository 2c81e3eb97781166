package ingest

import (
	"sync"

	"go.uber.org/zap"
)

// maxRecentErrors bounds the error tail kept for the run summary.
const maxRecentErrors = 10

// Stats accumulates counters for a single pipeline run. It is safe for
// concurrent use by the fetch workers and is never persisted.
type Stats struct {
	mu          sync.Mutex
	discovered  int
	fetched     int
	parsed      int
	failed      int
	blocked     int
	duplicates  int
	statusCodes map[int]int
	errors      []string
}

// NewStats returns an empty collector.
func NewStats() *Stats {
	return &Stats{statusCodes: make(map[int]int)}
}

// RecordDiscovered adds count newly discovered listing ids.
func (s *Stats) RecordDiscovered(count int) {
	if count < 0 {
		return
	}
	s.mu.Lock()
	s.discovered += count
	s.mu.Unlock()
}

// RecordFetched counts a completed fetch and its HTTP status.
func (s *Stats) RecordFetched(statusCode int) {
	s.mu.Lock()
	s.fetched++
	s.statusCodes[statusCode]++
	s.mu.Unlock()
}

// RecordParsed counts a successfully parsed listing.
func (s *Stats) RecordParsed() {
	s.mu.Lock()
	s.parsed++
	s.mu.Unlock()
}

// RecordFailed counts a failure and retains its message.
func (s *Stats) RecordFailed(errText string) {
	s.mu.Lock()
	s.failed++
	s.errors = append(s.errors, errText)
	s.mu.Unlock()
}

// RecordBlocked counts a blocked response.
func (s *Stats) RecordBlocked() {
	s.mu.Lock()
	s.blocked++
	s.mu.Unlock()
}

// RecordDuplicate counts a listing skipped by the cross-batch seen set.
func (s *Stats) RecordDuplicate() {
	s.mu.Lock()
	s.duplicates++
	s.mu.Unlock()
}

// Summary is a point-in-time snapshot of the run counters.
type Summary struct {
	Discovered   int
	Fetched      int
	Parsed       int
	Failed       int
	Blocked      int
	Duplicates   int
	StatusCodes  map[int]int
	ErrorCount   int
	RecentErrors []string
}

// Summary snapshots the collector.
func (s *Stats) Summary() Summary {
	s.mu.Lock()
	defer s.mu.Unlock()

	codes := make(map[int]int, len(s.statusCodes))
	for code, n := range s.statusCodes {
		codes[code] = n
	}
	recent := s.errors
	if len(recent) > maxRecentErrors {
		recent = recent[len(recent)-maxRecentErrors:]
	}
	return Summary{
		Discovered:   s.discovered,
		Fetched:      s.fetched,
		Parsed:       s.parsed,
		Failed:       s.failed,
		Blocked:      s.blocked,
		Duplicates:   s.duplicates,
		StatusCodes:  codes,
		ErrorCount:   len(s.errors),
		RecentErrors: append([]string(nil), recent...),
	}
}

// LogSummary writes the run summary through the provided logger.
func (s *Stats) LogSummary(logger *zap.Logger) {
	sum := s.Summary()
	logger.Info("run statistics",
		zap.Int("discovered", sum.Discovered),
		zap.Int("fetched", sum.Fetched),
		zap.Int("parsed", sum.Parsed),
		zap.Int("failed", sum.Failed),
		zap.Int("blocked", sum.Blocked),
		zap.Int("duplicates", sum.Duplicates),
		zap.Any("status_codes", sum.StatusCodes),
	)
	if sum.ErrorCount > 0 {
		logger.Warn("run errors",
			zap.Int("error_count", sum.ErrorCount),
			zap.Strings("recent_errors", sum.RecentErrors),
		)
	}
}
