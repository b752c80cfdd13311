// Package health runs periodic probes behind the /livez and /readyz
// endpoints.
//
// A probe turns unhealthy after three consecutive failures and healthy
// again after one success, so a single slow Redis round trip does not pull
// the gateway out of the load balancer.
package health

import (
	"context"
	"maps"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
)

// CheckFunc reports nil when the dependency is usable.
type CheckFunc func(ctx context.Context) error

const (
	failThreshold    = 3
	recoverThreshold = 1
)

// errNotReady is reported under the "_readiness" key while the server has
// not finished starting or is draining.
var errNotReady = errors.New("not ready")

type probe struct {
	name    string
	timeout time.Duration
	check   CheckFunc

	// streak counts consecutive results of the same kind: positive for
	// passes, negative for failures. Only the probe loop touches it.
	streak int

	down atomic.Bool
	err  atomic.Pointer[error]
}

func (p *probe) observe(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.check(ctx)
	cancel()

	if err != nil {
		p.err.Store(&err)
		p.streak = min(p.streak, 0) - 1
		if -p.streak >= failThreshold {
			p.down.Store(true)
		}
		return
	}
	p.streak = max(p.streak, 0) + 1
	if p.streak >= recoverThreshold {
		p.down.Store(false)
		p.err.Store(nil)
	}
}

func (p *probe) lastError() error {
	if e := p.err.Load(); e != nil {
		return *e
	}
	return nil
}

func (p *probe) loop(ctx context.Context, interval time.Duration) {
	p.observe(ctx)
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			p.observe(ctx)
		}
	}
}

// Health owns the liveness and readiness probe sets.
type Health struct {
	mu        sync.Mutex
	liveness  []*probe
	readiness []*probe

	ready  atomic.Bool
	cancel context.CancelFunc
	done   sync.WaitGroup
}

// New returns a Health that is not ready and has no probes.
func New() *Health { return &Health{} }

func newProbe(name string, timeout time.Duration, check CheckFunc) *probe {
	return &probe{name: name, timeout: timeout, check: check}
}

// AddLivenessCheck registers a probe consulted by LiveEndpoint and
// ReadyEndpoint. Probes added after Start are not run.
func (h *Health) AddLivenessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.liveness = append(h.liveness, newProbe(name, timeout, check))
}

// AddReadinessCheck registers a probe consulted by ReadyEndpoint only.
func (h *Health) AddReadinessCheck(name string, timeout time.Duration, check CheckFunc) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.readiness = append(h.readiness, newProbe(name, timeout, check))
}

// Start runs every probe once immediately and then every interval until
// Stop is called or ctx is done.
func (h *Health) Start(ctx context.Context, interval time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()

	ctx, h.cancel = context.WithCancel(ctx)
	for _, p := range slices.Concat(h.liveness, h.readiness) {
		h.done.Go(func() { p.loop(ctx, interval) })
	}
}

// Stop halts the probe loops and waits for them to exit.
func (h *Health) Stop() {
	h.mu.Lock()
	cancel := h.cancel
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	h.done.Wait()
}

// SetReady flips the manual readiness gate.
func (h *Health) SetReady(ready bool) { h.ready.Store(ready) }

// IsReady reports whether the gate is open and no probe is down.
func (h *Health) IsReady() bool {
	if !h.ready.Load() {
		return false
	}
	return len(h.failures(true)) == 0
}

func (h *Health) failures(withReadiness bool) map[string]string {
	h.mu.Lock()
	probes := h.liveness
	if withReadiness {
		probes = slices.Concat(h.liveness, h.readiness)
	}
	h.mu.Unlock()

	out := make(map[string]string)
	for _, p := range probes {
		if !p.down.Load() {
			continue
		}
		msg := "unhealthy"
		if err := p.lastError(); err != nil {
			msg = err.Error()
		}
		out[p.name] = msg
	}
	return out
}

// LiveEndpoint serves /livez.
func (h *Health) LiveEndpoint(w http.ResponseWriter, _ *http.Request) {
	writeReport(w, h.failures(false))
}

// ReadyEndpoint serves /readyz.
func (h *Health) ReadyEndpoint(w http.ResponseWriter, _ *http.Request) {
	failed := h.failures(true)
	if !h.ready.Load() {
		failed["_readiness"] = errNotReady.Error()
	}
	writeReport(w, failed)
}

// writeReport answers 200 {"status":"ok"} or 503 with the failing probes
// keyed by name in sorted order.
func writeReport(w http.ResponseWriter, failed map[string]string) {
	e := jx.GetEncoder()
	defer jx.PutEncoder(e)

	code := http.StatusOK
	if len(failed) > 0 {
		code = http.StatusServiceUnavailable
	}
	e.ObjStart()
	if code == http.StatusOK {
		e.FieldStart("status")
		e.Str("ok")
	} else {
		e.FieldStart("status")
		e.Str("unhealthy")
		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range slices.Sorted(maps.Keys(failed)) {
			e.FieldStart(name)
			e.Str(failed[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}
