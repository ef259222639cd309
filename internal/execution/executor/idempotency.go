package executor

import (
	"container/list"
	"sync"

	"alpha-core/internal/execution/adapter"
)

// IdempotencyTracker remembers the ExecResult returned for each
// client_order_id so a replayed signal (crash-recovery re-read, retried
// Evaluate) returns the original result instead of submitting twice.
// Grounded on original_source/executors/idempotency.py's
// IdempotencyTracker, enriched from a bare seen-set to a result cache
// (spec.md §4.5 requires the Executor be able to return the prior
// ExecResult on a replayed order, not merely detect that one occurred).
type IdempotencyTracker struct {
	mu      sync.Mutex
	maxSize int
	order   *list.List // front = most recently used
	entries map[string]*list.Element
}

type trackerEntry struct {
	key    string
	result adapter.ExecResult
}

// NewIdempotencyTracker creates a tracker bounded to maxSize entries
// (LRU eviction), matching original_source's default of 10000.
func NewIdempotencyTracker(maxSize int) *IdempotencyTracker {
	if maxSize <= 0 {
		maxSize = 10_000
	}
	return &IdempotencyTracker{
		maxSize: maxSize,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

// Lookup returns the cached ExecResult for clientOrderID, if any, and
// marks it most-recently-used.
func (t *IdempotencyTracker) Lookup(clientOrderID string) (adapter.ExecResult, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	el, ok := t.entries[clientOrderID]
	if !ok {
		return adapter.ExecResult{}, false
	}
	t.order.MoveToFront(el)
	return el.Value.(*trackerEntry).result, true
}

// MarkProcessed records result against clientOrderID, evicting the least
// recently used entry if the tracker is at capacity.
func (t *IdempotencyTracker) MarkProcessed(clientOrderID string, result adapter.ExecResult) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if el, ok := t.entries[clientOrderID]; ok {
		el.Value.(*trackerEntry).result = result
		t.order.MoveToFront(el)
		return
	}

	if t.order.Len() >= t.maxSize {
		oldest := t.order.Back()
		if oldest != nil {
			t.order.Remove(oldest)
			delete(t.entries, oldest.Value.(*trackerEntry).key)
		}
	}

	el := t.order.PushFront(&trackerEntry{key: clientOrderID, result: result})
	t.entries[clientOrderID] = el
}

// Clear empties the tracker.
func (t *IdempotencyTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.order.Init()
	t.entries = make(map[string]*list.Element)
}
