// Package events implements the engine's pub/sub capability (spec.md
// §4.J). It resolves the spec's one explicitly flagged open question
// (Design Notes §9 / spec.md §9): wildcard event-type matching is
// ported from the source's reusable-modules event system, and
// priority ordering — higher priority dispatched earlier, priority 0
// sorting last — is ported from the source's in-repo event system.
// Recursive Publish calls are bounded per goroutine at depth 10,
// matching the source's MAX_PUBLISH_DEPTH.
package events

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const maxPublishDepth = 10
const maxHistory = 1000

// nowFunc is overridable in tests.
var nowFunc = time.Now

// FilterFunc optionally gates whether a subscriber receives a given
// event, evaluated before the callback.
type FilterFunc func(*Event) bool

// HandlerFunc is a subscriber callback.
type HandlerFunc func(*Event)

type subscription struct {
	id       string
	pattern  string
	callback HandlerFunc
	priority int
	filter   FilterFunc
	active   bool
}

// Bus is a thread-safe, priority-ordered, wildcard-matching publish/
// subscribe hub. The zero value is not usable; construct with New.
type Bus struct {
	mu            sync.RWMutex
	subsByPattern map[string][]*subscription
	byID          map[string]*subscription
	history       []Event
	historyOn     bool
	redact        bool

	depthMu sync.Mutex
	depth   map[any]int
}

// New creates an event bus. historyEnabled/redactPayloads mirror the
// constructor flags on the source's EventSystem.
func New(historyEnabled, redactPayloads bool) *Bus {
	return &Bus{
		subsByPattern: make(map[string][]*subscription),
		byID:          make(map[string]*subscription),
		historyOn:     historyEnabled,
		redact:        redactPayloads,
		depth:         make(map[any]int),
	}
}

// Subscribe registers callback for events matching pattern (an exact
// type name, or a wildcard pattern like "rss.*" or "*"). priority 50
// is the conventional default; higher values are dispatched earlier,
// and priority 0 always sorts last regardless of registration order.
// Returns an opaque subscription ID usable with Unsubscribe.
func (b *Bus) Subscribe(pattern string, priority int, filter FilterFunc, callback HandlerFunc) (string, error) {
	if callback == nil {
		return "", fmt.Errorf("events: callback must not be nil")
	}
	if strings.TrimSpace(pattern) == "" {
		return "", fmt.Errorf("events: pattern must be a non-empty string")
	}

	sub := &subscription{
		id:       uuid.NewString(),
		pattern:  pattern,
		callback: callback,
		priority: priority,
		filter:   filter,
		active:   true,
	}

	b.mu.Lock()
	b.subsByPattern[pattern] = append(b.subsByPattern[pattern], sub)
	b.byID[sub.id] = sub
	b.mu.Unlock()

	return sub.id, nil
}

// Unsubscribe removes a previously-registered subscription. Unknown
// IDs are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.byID[id]
	if !ok {
		return
	}
	sub.active = false
	delete(b.byID, id)

	remaining := b.subsByPattern[sub.pattern][:0]
	for _, s := range b.subsByPattern[sub.pattern] {
		if s.id != id {
			remaining = append(remaining, s)
		}
	}
	if len(remaining) == 0 {
		delete(b.subsByPattern, sub.pattern)
	} else {
		b.subsByPattern[sub.pattern] = remaining
	}
}

// ScopedSubscription returns an unsubscribe func so callers can defer
// it at the point of subscription, the Go equivalent of the source's
// ScopedSubscription context manager.
func (b *Bus) ScopedSubscription(pattern string, priority int, filter FilterFunc, callback HandlerFunc) (unsubscribe func(), err error) {
	id, err := b.Subscribe(pattern, priority, filter, callback)
	if err != nil {
		return nil, err
	}
	return func() { b.Unsubscribe(id) }, nil
}

// Publish dispatches eventType to all matching, active subscribers in
// priority order, stopping early if a subscriber marks the event
// handled. Among equal priorities, subscribers of one pattern keep
// their registration order and exact-type subscribers precede wildcard
// ones; the order among different wildcard patterns of equal priority
// is not defined. A panicking subscriber is recovered and dispatch
// continues with the next one. Subscriber panics/errors
// never propagate to the publisher; HandlerFunc has no error return by
// design — workers report failure through result callbacks instead
// (Design Notes §9).
func (b *Bus) Publish(goroutineKey any, eventType string, data, source any) *Event {
	ev := &Event{Type: eventType, Data: data, Source: source, ID: uuid.NewString(), Timestamp: nowFunc()}

	b.depthMu.Lock()
	depth := b.depth[goroutineKey]
	if depth >= maxPublishDepth {
		b.depthMu.Unlock()
		return ev
	}
	b.depth[goroutineKey] = depth + 1
	b.depthMu.Unlock()

	defer func() {
		b.depthMu.Lock()
		if depth == 0 {
			delete(b.depth, goroutineKey)
		} else {
			b.depth[goroutineKey] = depth
		}
		b.depthMu.Unlock()
	}()

	matching := b.matchingSubscriptions(eventType)
	for _, sub := range matching {
		if ev.Handled {
			break
		}
		if !sub.active {
			continue
		}
		if sub.filter != nil && !sub.filter(ev) {
			continue
		}
		func() {
			defer func() { _ = recover() }()
			sub.callback(ev)
		}()
	}

	b.addToHistory(*ev)
	return ev
}

func (b *Bus) matchingSubscriptions(eventType string) []*subscription {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var out []*subscription
	if direct, ok := b.subsByPattern[eventType]; ok {
		out = append(out, direct...)
	}
	for pattern, subs := range b.subsByPattern {
		if pattern == eventType {
			continue
		}
		if strings.Contains(pattern, "*") && patternMatches(pattern, eventType) {
			out = append(out, subs...)
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		return sortsBefore(out[i].priority, out[j].priority)
	})
	return out
}

// sortsBefore implements "higher priority earlier, priority 0 sorts
// last" — the in-repo implementation's resolution of spec.md §9's
// open question, rather than ordinary descending-numeric order (which
// would put 0 first).
func sortsBefore(a, b int) bool {
	if a == 0 {
		return false
	}
	if b == 0 {
		return true
	}
	return a > b
}

func patternMatches(pattern, eventType string) bool {
	regex := "^" + regexp.QuoteMeta(pattern) + "$"
	regex = strings.ReplaceAll(regex, regexp.QuoteMeta("*"), ".*")
	matched, err := regexp.MatchString(regex, eventType)
	return err == nil && matched
}

func (b *Bus) addToHistory(ev Event) {
	if !b.historyOn {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.redact {
		ev = Event{Type: ev.Type, Timestamp: ev.Timestamp}
	}
	b.history = append(b.history, ev)
	if len(b.history) > maxHistory {
		b.history = b.history[len(b.history)-maxHistory:]
	}
}

// History returns up to limit of the most recently published events.
func (b *Bus) History(limit int) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if limit <= 0 || len(b.history) == 0 {
		return nil
	}
	if limit > len(b.history) {
		limit = len(b.history)
	}
	out := make([]Event, limit)
	copy(out, b.history[len(b.history)-limit:])
	return out
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.byID)
}

// Clear removes all subscriptions and history.
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subsByPattern = make(map[string][]*subscription)
	b.byID = make(map[string]*subscription)
	b.history = nil
}
