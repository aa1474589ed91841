package dispatch

import (
	"sync"
	"time"
)

// commandStatus mirrors the normalized lifecycle states used for
// async command correlation.
type commandStatus string

const (
	statusPending   commandStatus = "pending"
	statusComplete  commandStatus = "complete"
	statusError     commandStatus = "error"
	statusCancelled commandStatus = "cancelled"
)

// pendingResult is the future behind one in-flight command id. Handlers
// run on their own goroutine and complete via Complete/Fail so the
// dispatcher's own goroutine is never blocked on a slow engine call
// (spec §4.1 step 7: "non-blocking w.r.t. the dispatcher").
type pendingResult struct {
	ID        string
	Status    commandStatus
	Response  Response
	CreatedAt time.Time
}

// tracker holds every in-flight async command, grounded on the
// teacher's QueryDispatcher correlation-id map: a result map guarded by
// its own lock plus a notify channel that is closed and replaced on
// every completion so WaitFor callers wake without polling.
type tracker struct {
	mu      sync.RWMutex
	results map[string]*pendingResult
	notify  chan struct{}
}

func newTracker() *tracker {
	return &tracker{
		results: make(map[string]*pendingResult),
		notify:  make(chan struct{}),
	}
}

func (t *tracker) register(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.results[id] = &pendingResult{ID: id, Status: statusPending, CreatedAt: time.Now()}
}

func (t *tracker) complete(id string, resp Response, status commandStatus) {
	t.mu.Lock()
	r, ok := t.results[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	r.Status = status
	r.Response = resp
	ch := t.notify
	t.notify = make(chan struct{})
	t.mu.Unlock()
	close(ch)
}

func (t *tracker) get(id string) (*pendingResult, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.results[id]
	return r, ok
}

// waitFor blocks until id completes, the deadline passes, or done fires.
func (t *tracker) waitFor(id string, timeout time.Duration, done <-chan struct{}) (*pendingResult, bool) {
	if r, ok := t.get(id); ok && r.Status != statusPending {
		return r, true
	}
	deadline := time.Now().Add(timeout)
	for {
		t.mu.RLock()
		ch := t.notify
		t.mu.RUnlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return t.get(id)
		}
		timer := time.NewTimer(remaining)
		select {
		case <-ch:
			timer.Stop()
			if r, ok := t.get(id); ok && r.Status != statusPending {
				return r, true
			}
		case <-timer.C:
			return t.get(id)
		case <-done:
			timer.Stop()
			return t.get(id)
		}
	}
}

// forget drops a completed command's result once the caller has it.
func (t *tracker) forget(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.results, id)
}

// pendingCount reports how many registered commands have not yet
// completed, used by the supervisor's drain phase to decide when it is
// safe to stop waiting short of drain_timeout.
func (t *tracker) pendingCount() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n := 0
	for _, r := range t.results {
		if r.Status == statusPending {
			n++
		}
	}
	return n
}
