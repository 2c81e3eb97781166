package fetch

import "sync"

// SeenSet tracks listing ids that reached a terminal outcome within one
// process lifetime. It is a defensive cross-batch dedup layer: queue claim
// exclusivity should already prevent double-claims, but a stale claim handed
// back after the claim TTL could otherwise be fetched twice. Ids are marked
// only on success so a transiently failed listing stays retryable.
type SeenSet struct {
	ids sync.Map
}

// NewSeenSet returns an empty set.
func NewSeenSet() *SeenSet {
	return &SeenSet{}
}

// Mark records a successfully processed id.
func (s *SeenSet) Mark(listingID int64) {
	if s == nil {
		return
	}
	s.ids.Store(listingID, struct{}{})
}

// Contains reports whether the id already reached a terminal outcome.
func (s *SeenSet) Contains(listingID int64) bool {
	if s == nil {
		return false
	}
	_, ok := s.ids.Load(listingID)
	return ok
}
