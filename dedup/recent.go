package dedup

import (
	"sync"
	"time"
)

// recentWindow is the span RecentDuplicateCount reports on
const recentWindow = 60

// recentCounter counts events over the last minute in per-second buckets
type recentCounter struct {
	mu      sync.Mutex
	seconds [recentWindow]int64
	counts  [recentWindow]int64
}

func (rc *recentCounter) record(now time.Time) {
	sec := now.Unix()
	idx := int(sec % recentWindow)

	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.seconds[idx] != sec {
		rc.seconds[idx] = sec
		rc.counts[idx] = 0
	}
	rc.counts[idx]++
}

func (rc *recentCounter) count(now time.Time) int64 {
	sec := now.Unix()

	rc.mu.Lock()
	defer rc.mu.Unlock()
	var total int64
	for i := range rc.seconds {
		if age := sec - rc.seconds[i]; age >= 0 && age < recentWindow {
			total += rc.counts[i]
		}
	}
	return total
}
