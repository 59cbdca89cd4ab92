// Package health serves liveness and readiness probes.
//
// Checks run in the background at a fixed interval; the HTTP handlers only
// report the last observed state. A check turns unhealthy after a number of
// consecutive failures and healthy again on its first success.
package health

import (
	"context"
	"net/http"
	"runtime"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"
)

// Check returns nil when the checked dependency is usable.
type Check func(ctx context.Context) error

type probe struct {
	name      string
	timeout   time.Duration
	check     Check
	threshold int

	healthy atomic.Bool
	lastErr atomic.Pointer[string]

	// Owned by the goroutine running the probe.
	fails int
}

func (p *probe) run(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	err := p.check(ctx)
	if err == nil {
		p.fails = 0
		if !p.healthy.Swap(true) {
			zctx.From(ctx).Info("Check recovered", zap.String("check", p.name))
		}
		p.lastErr.Store(nil)
		return
	}

	msg := err.Error()
	p.lastErr.Store(&msg)
	p.fails++
	if p.fails >= p.threshold && p.healthy.Swap(false) {
		zctx.From(ctx).Warn("Check failing", zap.String("check", p.name), zap.Error(err))
	}
}

func (p *probe) failure() (string, bool) {
	if p.healthy.Load() {
		return "", false
	}
	if msg := p.lastErr.Load(); msg != nil {
		return *msg, true
	}
	return "check is unhealthy", true
}

// Option configures a Prober.
type Option func(*Prober)

// WithFailureThreshold sets how many consecutive failures mark a check
// unhealthy. Defaults to 3.
func WithFailureThreshold(n int) Option {
	return func(p *Prober) { p.threshold = n }
}

// Prober owns the registered checks and the manual readiness flag.
type Prober struct {
	threshold int
	ready     atomic.Bool

	mu     sync.Mutex
	live   []*probe
	read   []*probe
	cancel context.CancelFunc
}

// New creates a Prober. It reports not ready until SetReady(true).
func New(opts ...Option) *Prober {
	p := &Prober{threshold: 3}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Liveness registers a check that reports whether the process should be
// restarted.
func (p *Prober) Liveness(name string, timeout time.Duration, check Check) {
	p.add(&p.live, name, timeout, check)
}

// Readiness registers a check that reports whether the process can take
// traffic, typically a dependency ping.
func (p *Prober) Readiness(name string, timeout time.Duration, check Check) {
	p.add(&p.read, name, timeout, check)
}

func (p *Prober) add(to *[]*probe, name string, timeout time.Duration, check Check) {
	p.mu.Lock()
	defer p.mu.Unlock()

	pr := &probe{name: name, timeout: timeout, check: check, threshold: p.threshold}
	pr.healthy.Store(true)
	*to = append(*to, pr)
}

// Start runs every registered check once per interval until Stop is called
// or ctx is done. Checks registered after Start are not run.
func (p *Prober) Start(ctx context.Context, interval time.Duration) {
	ctx, cancel := context.WithCancel(ctx)

	p.mu.Lock()
	p.cancel = cancel
	all := slices.Concat(p.live, p.read)
	p.mu.Unlock()

	for _, pr := range all {
		go func() {
			ticker := time.NewTicker(interval)
			defer ticker.Stop()
			for {
				pr.run(ctx)
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
				}
			}
		}()
	}
}

// Stop halts the background checks. It is safe to call more than once.
func (p *Prober) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
	}
}

// SetReady flips the manual readiness flag, e.g. to drain before shutdown.
func (p *Prober) SetReady(ready bool) { p.ready.Store(ready) }

// LiveHandler serves the liveness probe.
func (p *Prober) LiveHandler(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	failures := collect(p.live)
	p.mu.Unlock()
	write(w, failures)
}

// ReadyHandler serves the readiness probe.
func (p *Prober) ReadyHandler(w http.ResponseWriter, _ *http.Request) {
	p.mu.Lock()
	failures := collect(p.read)
	p.mu.Unlock()
	if !p.ready.Load() {
		failures["_readiness"] = "service is not ready"
	}
	write(w, failures)
}

func collect(probes []*probe) map[string]string {
	failures := make(map[string]string)
	for _, pr := range probes {
		if msg, failed := pr.failure(); failed {
			failures[pr.name] = msg
		}
	}
	return failures
}

func write(w http.ResponseWriter, failures map[string]string) {
	status, code := "ok", http.StatusOK
	if len(failures) > 0 {
		status, code = "unhealthy", http.StatusServiceUnavailable
	}

	var e jx.Encoder
	e.ObjStart()
	e.FieldStart("status")
	e.Str(status)
	if len(failures) > 0 {
		names := make([]string, 0, len(failures))
		for name := range failures {
			names = append(names, name)
		}
		slices.Sort(names)

		e.FieldStart("checks")
		e.ObjStart()
		for _, name := range names {
			e.FieldStart(name)
			e.Str(failures[name])
		}
		e.ObjEnd()
	}
	e.ObjEnd()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_, _ = w.Write(e.Bytes())
}

// GoroutineLimit fails when the process runs more than limit goroutines.
func GoroutineLimit(limit int) Check {
	return func(context.Context) error {
		if n := runtime.NumGoroutine(); n > limit {
			return errors.Errorf("goroutine count %d exceeds %d", n, limit)
		}
		return nil
	}
}
