package rotationqueue

import "github.com/basjohn/srpss-core/domain"

// pool identifies which working queue/pool a scan operates over.
type pool int

const (
	poolLocal pool = iota
	poolRemote
)

// selectLocked runs the full five-step algorithm from spec.md §4.G.
// Caller must hold q.mu.
func (q *Queue) selectLocked() (domain.ImageRef, bool) {
	hasLocal := len(q.localPool) > 0
	hasRemote := len(q.remotePool) > 0
	if !hasLocal && !hasRemote {
		return domain.ImageRef{}, false
	}
	if hasLocal && !hasRemote {
		return q.scanPoolLocked(poolLocal, poolLocal)
	}
	if hasRemote && !hasLocal {
		return q.scanPoolLocked(poolRemote, poolRemote)
	}

	primary := q.choosePrimaryPoolLocked()
	fallback := poolRemote
	if primary == poolRemote {
		fallback = poolLocal
	}

	if ref, ok := q.scanPoolLocked(primary, fallback); ok {
		return ref, true
	}
	return q.scanPoolLocked(fallback, primary)
}

// choosePrimaryPoolLocked applies the local-bias rule: a small remote
// pool is weighted heavily toward local regardless of the configured
// ratio, since a handful of remote items would otherwise repeat fast.
func (q *Queue) choosePrimaryPoolLocked() pool {
	remoteUnique := len(q.remotePool)
	ratio := q.localRatio
	switch {
	case remoteUnique < 5:
		ratio = 90
	case remoteUnique < 10:
		ratio = 80
	}
	if q.rng.Intn(100) < ratio {
		return poolLocal
	}
	return poolRemote
}

// scanPoolLocked scans up to maxScanCandidates items from primary's
// working queue (rebuilding on wraparound as needed), looking for one
// outside its history window. Candidates skipped along the way are
// returned to the front of primary's queue, in original relative
// order, once a winner is chosen (or scanning is exhausted). If no
// non-history candidate is found within primary, it returns primary's
// candidates and scans fallback once; if that also finds none, it
// degrades to serving fallback's first candidate.
func (q *Queue) scanPoolLocked(primary, fallback pool) (domain.ImageRef, bool) {
	candidates, windowLen := q.drainCandidatesLocked(primary, maxScanCandidates)
	if len(candidates) == 0 {
		return domain.ImageRef{}, false
	}

	winnerIdx := -1
	var nonHistory []int
	for i, c := range candidates {
		if !q.inHistoryLocked(c, windowLen) {
			nonHistory = append(nonHistory, i)
		}
	}

	if len(nonHistory) > 0 {
		winnerIdx = q.pickByDomainDiversityLocked(candidates, nonHistory, primary)
	}

	if winnerIdx == -1 && primary != fallback {
		// Return what we drained before trying fallback, preserving order.
		q.restoreSkippedLocked(primary, candidates, -1)
		return q.scanPoolLocked(fallback, fallback)
	}

	if winnerIdx == -1 {
		// Graceful degradation: serve the first skipped candidate.
		winnerIdx = 0
	}

	winner := candidates[winnerIdx]
	q.restoreSkippedLocked(primary, candidates, winnerIdx)
	return winner, true
}

// drainCandidatesLocked pops up to n items off primary's working
// queue, rebuilding (shuffling if enabled, incrementing wrap_count)
// whenever it empties mid-scan. windowLen is the history window that
// applies to this pool's item kind.
func (q *Queue) drainCandidatesLocked(p pool, n int) (candidates []domain.ImageRef, windowLen int) {
	windowLen = HistoryWindowFolder
	if p == poolRemote {
		windowLen = HistoryWindowRSS
	}

	// One full lap of the pool is enough to learn every distinct member;
	// scanning further would only redraw the same items and spuriously
	// inflate wrap_count.
	_, membership := q.queuesForLocked(p)
	if len(*membership) < n {
		n = len(*membership)
	}

	for len(candidates) < n {
		working, membership := q.queuesForLocked(p)
		if len(*working) == 0 {
			if len(*membership) == 0 {
				break
			}
			q.rebuildQueueLocked(p)
			working, _ = q.queuesForLocked(p)
			if len(*working) == 0 {
				break
			}
		}
		next := (*working)[0]
		*working = (*working)[1:]
		candidates = append(candidates, next)
	}
	return candidates, windowLen
}

func (q *Queue) queuesForLocked(p pool) (working, membership *[]domain.ImageRef) {
	if p == poolLocal {
		return &q.localQueue, &q.localPool
	}
	return &q.remoteQueue, &q.remotePool
}

func (q *Queue) rebuildQueueLocked(p pool) {
	_, membership := q.queuesForLocked(p)
	rebuilt := make([]domain.ImageRef, len(*membership))
	copy(rebuilt, *membership)
	if q.shuffleEnabled {
		q.rng.Shuffle(len(rebuilt), func(i, j int) { rebuilt[i], rebuilt[j] = rebuilt[j], rebuilt[i] })
	}
	if p == poolLocal {
		q.localQueue = rebuilt
		q.localWrapCount++
	} else {
		q.remoteQueue = rebuilt
		q.remoteWrapCount++
	}
}

// inHistoryLocked reports whether ref appears within the last
// windowLen entries of history.
func (q *Queue) inHistoryLocked(ref domain.ImageRef, windowLen int) bool {
	return q.historyContainsLocked(ref.Key(), windowLen)
}

// pickByDomainDiversityLocked prefers, among non-history Rss
// candidates, one whose domain differs from last_remote_domain. Local
// candidates and any pool with no diversity preference just take the
// first non-history match.
func (q *Queue) pickByDomainDiversityLocked(candidates []domain.ImageRef, nonHistory []int, p pool) int {
	if p != poolRemote || q.lastRemoteDomain == "" {
		return nonHistory[0]
	}
	for _, idx := range nonHistory {
		if domainOf(candidates[idx].URL) != q.lastRemoteDomain {
			return idx
		}
	}
	return nonHistory[0]
}

// restoreSkippedLocked returns every candidate except the one at
// winnerIdx (or all of them, if winnerIdx < 0) to the front of
// primary's working queue, preserving their original relative order.
func (q *Queue) restoreSkippedLocked(p pool, candidates []domain.ImageRef, winnerIdx int) {
	var skipped []domain.ImageRef
	for i, c := range candidates {
		if i == winnerIdx {
			continue
		}
		skipped = append(skipped, c)
	}
	if len(skipped) == 0 {
		return
	}
	working, _ := q.queuesForLocked(p)
	*working = append(append([]domain.ImageRef{}, skipped...), (*working)...)
}
