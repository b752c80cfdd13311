package order

import (
	"sync"
	"time"

	"github.com/go-faster/errors"
)

var (
	// ErrStaleStatus is returned by Tracker.Observe for a snapshot whose
	// status is behind one already observed for the same order, or that
	// replaces an observed terminal status.
	ErrStaleStatus = errors.New("stale order status")
	// ErrNotTracked is returned for an order the tracker has never observed.
	ErrNotTracked = errors.New("order not tracked")
)

// TransitionError is returned when a proposed status change is not allowed
// from the current status.
type TransitionError struct {
	From Status
	To   Status
}

func (e *TransitionError) Error() string {
	return "cannot move order from " + string(e.From) + " to " + string(e.To)
}

// View is the tracker's merged view of one order. When Pending is set the
// Status and ReturnReason carry a speculative transition that the backend
// has not confirmed yet.
type View struct {
	Order
	Pending bool `json:"pending"`
	Step    int  `json:"step"`
}

type speculative struct {
	to     Status
	reason string
}

type tracked struct {
	order   Order
	pending *speculative
	// maxRank is the highest status rank observed, never lowered.
	maxRank int
	touched time.Time
}

// Tracker reconciles speculative order transitions with authoritative
// backend snapshots. It is safe for concurrent use.
type Tracker struct {
	mu      sync.Mutex
	orders  map[string]*tracked
	limit   int
	nowFunc func() time.Time
}

// NewTracker creates a Tracker remembering at most limit orders; the least
// recently touched order is forgotten first. A limit of 0 means unbounded.
func NewTracker(limit int) *Tracker {
	return &Tracker{
		orders:  make(map[string]*tracked),
		limit:   limit,
		nowFunc: time.Now,
	}
}

// Observe applies an authoritative snapshot and clears any pending
// transition. A snapshot behind the highest status already observed, or one
// that changes a terminal status, is ignored and ErrStaleStatus is returned
// together with the current view.
func (t *Tracker) Observe(o Order) (View, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.orders[o.ID]
	r := rank[o.Status]
	if ok && (r < e.maxRank || (e.order.Status.Terminal() && o.Status != e.order.Status)) {
		return e.view(), ErrStaleStatus
	}
	if !ok {
		t.evict()
		e = &tracked{}
		t.orders[o.ID] = e
	}
	e.order = o
	e.pending = nil
	e.maxRank = max(e.maxRank, r)
	e.touched = t.nowFunc()
	return e.view(), nil
}

// Propose records a speculative transition to status to. The order must
// have been observed and the transition must be allowed from its
// authoritative status.
func (t *Tracker) Propose(id string, to Status, reason string) (View, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.orders[id]
	if !ok {
		return View{}, ErrNotTracked
	}
	if !CanTransition(e.order.Status, to) {
		return e.view(), &TransitionError{From: e.order.Status, To: to}
	}
	e.pending = &speculative{to: to, reason: reason}
	e.touched = t.nowFunc()
	return e.view(), nil
}

// Discard drops the pending transition of an order, if any.
func (t *Tracker) Discard(id string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.orders[id]; ok {
		e.pending = nil
	}
}

// View returns the merged view of an order.
func (t *Tracker) View(id string) (View, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.orders[id]
	if !ok {
		return View{}, false
	}
	return e.view(), true
}

// Len returns the number of tracked orders.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.orders)
}

func (t *Tracker) evict() {
	if t.limit <= 0 || len(t.orders) < t.limit {
		return
	}
	var (
		oldestID string
		oldest   time.Time
	)
	for id, e := range t.orders {
		if oldestID == "" || e.touched.Before(oldest) {
			oldestID, oldest = id, e.touched
		}
	}
	delete(t.orders, oldestID)
}

func (e *tracked) view() View {
	v := View{Order: e.order}
	v.Items = append([]Item(nil), e.order.Items...)
	if e.pending != nil {
		v.Status = e.pending.to
		if e.pending.reason != "" {
			v.ReturnReason = e.pending.reason
		}
		v.Pending = true
	}
	v.Step = ProgressStep(v.Status)
	return v
}
