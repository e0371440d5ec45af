// Package rotationqueue implements the dual-pool image rotation
// selection algorithm from spec.md §3 (QueueState) and §4.G, the Go
// port of original_source/engine/image_queue.py's ImageQueue. Folder
// and Rss pools are scanned independently of history-diversity
// candidates skipped while scanning are returned to the front of
// their origin queue so scan effort never permanently reshuffles a
// pool.
package rotationqueue

import (
	"math/rand"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/net/publicsuffix"

	"github.com/basjohn/srpss-core/domain"
)

const (
	// maxScanCandidates bounds how many items next() inspects per pool
	// before giving up and degrading to the first skipped candidate.
	maxScanCandidates = 15

	// HistoryWindowFolder/HistoryWindowRSS are the "not served again
	// within the last L positions of history" windows (spec.md §3).
	// Exported so callers outside this package (the Engine's
	// stale-eviction pass) can query InHistory with the right window
	// for the item kind they're checking.
	HistoryWindowFolder = 5
	HistoryWindowRSS    = 15

	// defaultHistorySize bounds the served-item history deque.
	defaultHistorySize = 50

	// defaultLocalRatio is the configured local/remote bias absent an
	// explicit override (spec.md §6 queue.local_ratio).
	defaultLocalRatio = 60
)

// Stats is the read-only snapshot returned by Queue.Stats.
type Stats struct {
	LocalPoolSize        int
	RemotePoolSize       int
	LocalQueueRemaining  int
	RemoteQueueRemaining int
	HistoryLength        int
	LocalWrapCount       int
	RemoteWrapCount      int
	LastRemoteDomain     string
}

// Queue is the dual-pool rotation selection structure. All mutating
// operations hold mu; Stats/Peek take a lock only long enough to copy
// a snapshot.
type Queue struct {
	mu sync.Mutex

	localPool  []domain.ImageRef // full membership, by Key()
	remotePool []domain.ImageRef

	localQueue  []domain.ImageRef // working order, drained by cursor
	remoteQueue []domain.ImageRef

	localWrapCount  int
	remoteWrapCount int

	history          []domain.ImageRef
	historyMax       int
	historyPos       int // index of the last served item, for Previous()
	lastRemoteDomain string

	shuffleEnabled bool
	localRatio     int // 0..100, percent weight toward local pool

	rng *rand.Rand
}

// New builds an empty Queue. historySize <= 0 falls back to
// defaultHistorySize; localRatio is clamped to [0, 100].
func New(historySize int, localRatio int, shuffleEnabled bool) *Queue {
	if historySize <= 0 {
		historySize = defaultHistorySize
	}
	if localRatio < 0 {
		localRatio = 0
	}
	if localRatio > 100 {
		localRatio = 100
	}
	return &Queue{
		historyMax:     historySize,
		localRatio:     localRatio,
		shuffleEnabled: shuffleEnabled,
		historyPos:     -1,
		rng:            rand.New(rand.NewSource(1)),
	}
}

// Add merges batch into the appropriate pool's membership (by Key(),
// last-write-wins on duplicates) and appends genuinely new items to
// the live working queue so they become immediately selectable.
func (q *Queue) Add(batch []domain.ImageRef) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, ref := range batch {
		q.addLocked(ref)
	}
}

func (q *Queue) addLocked(ref domain.ImageRef) {
	if ref.IsRemote() {
		if idx := indexOfKey(q.remotePool, ref.Key()); idx >= 0 {
			q.remotePool[idx] = ref
			return
		}
		q.remotePool = append(q.remotePool, ref)
		q.remoteQueue = append(q.remoteQueue, ref)
		return
	}
	if idx := indexOfKey(q.localPool, ref.Key()); idx >= 0 {
		q.localPool[idx] = ref
		return
	}
	q.localPool = append(q.localPool, ref)
	q.localQueue = append(q.localQueue, ref)
}

// Replace discards both pools entirely and rebuilds membership (and
// working queues) from all. Used when sources are reconfigured.
func (q *Queue) Replace(all []domain.ImageRef) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.localPool = nil
	q.remotePool = nil
	q.localQueue = nil
	q.remoteQueue = nil
	for _, ref := range all {
		q.addLocked(ref)
	}
}

// Remove drops every ImageRef whose Key() equals localPath from both
// pools, their working queues, and is a no-op on history (served
// history is immutable record, not a live reference).
func (q *Queue) Remove(localPath string) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.localPool = removeByKey(q.localPool, localPath)
	q.remotePool = removeByKey(q.remotePool, localPath)
	q.localQueue = removeByKey(q.localQueue, localPath)
	q.remoteQueue = removeByKey(q.remoteQueue, localPath)
}

// Next selects the next image to serve per spec.md §4.G's algorithm,
// appending it to history and advancing state. Returns false when
// both pools are empty.
func (q *Queue) Next() (domain.ImageRef, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	ref, ok := q.selectLocked()
	if !ok {
		return domain.ImageRef{}, false
	}

	q.appendHistoryLocked(ref)
	if ref.IsRemote() {
		q.lastRemoteDomain = domainOf(ref.URL)
	}
	return ref, true
}

// Previous re-serves the prior history entry without consuming a new
// item from either pool or otherwise mutating queue state.
func (q *Queue) Previous() (domain.ImageRef, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.historyPos <= 0 {
		return domain.ImageRef{}, false
	}
	q.historyPos--
	return q.history[q.historyPos], true
}

// Peek returns up to n upcoming candidates for prefetch hints, without
// mutating queue state. It is a best-effort preview: it does not run
// the full skip-to-front bookkeeping Next() performs, so the actual
// order Next() returns may differ slightly once history changes.
func (q *Queue) Peek(n int) []domain.ImageRef {
	q.mu.Lock()
	defer q.mu.Unlock()

	var out []domain.ImageRef
	li, ri := 0, 0
	for len(out) < n && (li < len(q.localQueue) || ri < len(q.remoteQueue)) {
		useLocal := q.localRatio >= 50
		if li < len(q.localQueue) && (useLocal || ri >= len(q.remoteQueue)) {
			out = append(out, q.localQueue[li])
			li++
			continue
		}
		if ri < len(q.remoteQueue) {
			out = append(out, q.remoteQueue[ri])
			ri++
			continue
		}
		break
	}
	return out
}

// InHistory reports whether key (an ImageRef's Key()) was served
// within the most recent window entries of history. Exposed so
// callers that evict or reshape items outside the normal Next() path
// (the Engine's stale-eviction pass, spec.md §4.J) can honor the same
// "not in recent history" exclusion the selection algorithm itself
// applies — pass HistoryWindowFolder or HistoryWindowRSS depending on
// the item kind being checked.
func (q *Queue) InHistory(key string, window int) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.historyContainsLocked(key, window)
}

func (q *Queue) historyContainsLocked(key string, window int) bool {
	start := len(q.history) - window
	if start < 0 {
		start = 0
	}
	for i := start; i < len(q.history); i++ {
		if q.history[i].Key() == key {
			return true
		}
	}
	return false
}

// Stats returns a read-only snapshot of pool sizes, wrap counts, and
// history length.
func (q *Queue) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		LocalPoolSize:        len(q.localPool),
		RemotePoolSize:       len(q.remotePool),
		LocalQueueRemaining:  len(q.localQueue),
		RemoteQueueRemaining: len(q.remoteQueue),
		HistoryLength:        len(q.history),
		LocalWrapCount:       q.localWrapCount,
		RemoteWrapCount:      q.remoteWrapCount,
		LastRemoteDomain:     q.lastRemoteDomain,
	}
}

func (q *Queue) appendHistoryLocked(ref domain.ImageRef) {
	q.history = append(q.history, ref)
	if len(q.history) > q.historyMax {
		q.history = q.history[len(q.history)-q.historyMax:]
	}
	q.historyPos = len(q.history) - 1
}

func indexOfKey(refs []domain.ImageRef, key string) int {
	for i, r := range refs {
		if r.Key() == key {
			return i
		}
	}
	return -1
}

func removeByKey(refs []domain.ImageRef, key string) []domain.ImageRef {
	out := refs[:0:0]
	for _, r := range refs {
		if r.Key() != key {
			out = append(out, r)
		}
	}
	return out
}

// domainOf extracts the registrable domain (eTLD+1) from a remote
// image's URL for diversity tracking (spec.md §4.G last_remote_domain),
// so "a.flickr.com" and "b.flickr.com" count as the same domain rather
// than two distinct ones. Falls back to the bare hostname for inputs
// publicsuffix can't classify (IPs, single-label hosts in tests).
func domainOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return ""
	}
	if etld1, err := publicsuffix.EffectiveTLDPlusOne(host); err == nil {
		return etld1
	}
	return host
}
