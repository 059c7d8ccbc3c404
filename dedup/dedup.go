// Package dedup coalesces concurrent identical requests. Callers that ask
// for the same key while an execution is in flight share its result instead
// of starting their own.
package dedup

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/hallucifix/go-resilience/apierror"
	"github.com/hallucifix/go-resilience/sys"
)

// Work is the operation being deduplicated. It must be safe to share its
// result between callers.
type Work func(ctx context.Context) (any, error)

// ExecuteOptions controls a single Execute call.
type ExecuteOptions struct {
	// TTL overrides the default join window when positive.
	TTL time.Duration
}

type pending struct {
	startedAt time.Time
	ttl       time.Duration
	joinCount int
	waiters   []chan sys.Result[any]
}

// Deduplicator tracks in-flight executions by key.
type Deduplicator struct {
	ctx       context.Context
	cancel    context.CancelFunc
	mutex     sync.Mutex
	waitGroup sync.WaitGroup
	once      sync.Once
	cfg       config

	pending      map[string]*pending
	total        int64
	deduplicated int64
	completed    int64
	failed       int64
	rejected     int64
	timedOut     int64
	settled      int64
	responseTime time.Duration
}

// New returns a Deduplicator and starts its timeout sweep.
func New(parent context.Context, opts ...Option) *Deduplicator {
	ctx, cancel := context.WithCancel(parent)
	d := &Deduplicator{
		ctx:     ctx,
		cancel:  cancel,
		cfg:     applyOptions(opts),
		pending: make(map[string]*pending),
	}
	d.waitGroup.Add(1)
	go d.run()
	return d
}

// Execute runs work for key, or joins an execution of key that is already in
// flight and younger than the TTL. Joined callers receive the same value or
// error as the caller that started the work.
//
// When no execution can be joined and the number of distinct pending keys is
// at the ceiling, Execute fails immediately with apierror.ErrConcurrencyLimit.
//
// Work runs detached from ctx cancellation; cancelling ctx only stops this
// caller from waiting.
func (d *Deduplicator) Execute(ctx context.Context, key string, work Work, opts ExecuteOptions) (any, error) {
	ttl := opts.TTL
	if ttl <= 0 {
		ttl = d.cfg.ttl
	}
	now := d.cfg.clock.Now()
	ch := make(chan sys.Result[any], 1)

	d.mutex.Lock()
	d.total++
	if p, ok := d.pending[key]; ok {
		if now.Sub(p.startedAt) <= ttl {
			p.joinCount++
			p.waiters = append(p.waiters, ch)
			d.deduplicated++
			joins := p.joinCount
			d.mutex.Unlock()
			d.cfg.log.Debug("joined pending request %s (%d joined)", key, joins)
			return d.wait(ctx, ch)
		}
		// the stale execution keeps running and still settles its own waiters
		delete(d.pending, key)
		d.cfg.log.Warn("pending request %s exceeded %v, starting a new execution", key, ttl)
	}
	if d.cfg.maxConcurrent > 0 && len(d.pending) >= d.cfg.maxConcurrent {
		d.rejected++
		n := len(d.pending)
		d.mutex.Unlock()
		return nil, errors.Wrapf(apierror.ErrConcurrencyLimit, "dedup: %d requests already pending", n)
	}
	p := &pending{
		startedAt: now,
		ttl:       ttl,
		waiters:   []chan sys.Result[any]{ch},
	}
	d.pending[key] = p
	d.mutex.Unlock()

	go d.execute(context.WithoutCancel(ctx), key, p, work)
	return d.wait(ctx, ch)
}

func (d *Deduplicator) wait(ctx context.Context, ch <-chan sys.Result[any]) (any, error) {
	select {
	case res := <-ch:
		return res.Unwrap()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (d *Deduplicator) execute(ctx context.Context, key string, p *pending, work Work) {
	val, err := sys.SafeCall(d.cfg.log, func() (any, error) {
		return work(ctx)
	})
	elapsed := d.cfg.clock.Now().Sub(p.startedAt)

	d.mutex.Lock()
	if cur, ok := d.pending[key]; ok && cur == p {
		delete(d.pending, key)
	}
	waiters := p.waiters
	p.waiters = nil
	if err != nil {
		d.failed++
	} else {
		d.completed++
	}
	d.settled++
	d.responseTime += elapsed
	d.mutex.Unlock()

	if err != nil {
		d.cfg.log.Debug("request %s failed after %v: %v", key, elapsed, err)
	}
	notify(waiters, sys.Result[any]{Ok: val, Err: err})
}

// notify delivers res to every waiter in join order. Waiter channels are
// buffered so a caller that stopped waiting never blocks delivery.
func notify(waiters []chan sys.Result[any], res sys.Result[any]) {
	for _, w := range waiters {
		w <- res
	}
}

// Cancel rejects every caller waiting on key with apierror.ErrCancelled and
// forgets the key. Work that is already running is not interrupted.
func (d *Deduplicator) Cancel(key string) bool {
	d.mutex.Lock()
	p, ok := d.pending[key]
	var waiters []chan sys.Result[any]
	if ok {
		delete(d.pending, key)
		waiters = p.waiters
		p.waiters = nil
	}
	d.mutex.Unlock()
	if !ok {
		return false
	}
	d.cfg.log.Debug("cancelled %s with %d waiters", key, len(waiters))
	notify(waiters, sys.Err[any](errors.Wrapf(apierror.ErrCancelled, "dedup: %s", key)))
	return true
}

// CancelAll cancels every pending key and returns how many were cancelled.
func (d *Deduplicator) CancelAll() int {
	var n int
	for _, key := range d.PendingKeys() {
		if d.Cancel(key) {
			n++
		}
	}
	return n
}

// IsPending reports whether an execution for key is being tracked.
func (d *Deduplicator) IsPending(key string) bool {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	_, ok := d.pending[key]
	return ok
}

// PendingKeys returns the tracked keys in sorted order.
func (d *Deduplicator) PendingKeys() []string {
	d.mutex.Lock()
	keys := make([]string, 0, len(d.pending))
	for key := range d.pending {
		keys = append(keys, key)
	}
	d.mutex.Unlock()
	sort.Strings(keys)
	return keys
}

// sweep times out every entry older than its TTL and returns how many were
// removed.
func (d *Deduplicator) sweep() int {
	now := d.cfg.clock.Now()
	type stale struct {
		key     string
		waiters []chan sys.Result[any]
	}
	var expired []stale
	d.mutex.Lock()
	for key, p := range d.pending {
		if now.Sub(p.startedAt) > p.ttl {
			delete(d.pending, key)
			expired = append(expired, stale{key, p.waiters})
			p.waiters = nil
			d.timedOut++
		}
	}
	d.mutex.Unlock()
	for _, s := range expired {
		d.cfg.log.Warn("timed out pending request %s, rejecting %d waiters", s.key, len(s.waiters))
		notify(s.waiters, sys.Err[any](errors.Wrapf(apierror.ErrTimeout, "dedup: %s", s.key)))
	}
	return len(expired)
}

// Close stops the sweep. In-flight work is not affected.
func (d *Deduplicator) Close() error {
	d.once.Do(func() {
		d.cancel()
		d.waitGroup.Wait()
	})
	return nil
}

func (d *Deduplicator) run() {
	defer d.waitGroup.Done()
	ticker := time.NewTicker(d.cfg.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-d.ctx.Done():
			return
		case <-ticker.C:
			d.sweep()
		}
	}
}

// Do is a typed wrapper around Execute.
func Do[T any](ctx context.Context, d *Deduplicator, key string, work func(ctx context.Context) (T, error), opts ExecuteOptions) (T, error) {
	var zero T
	val, err := d.Execute(ctx, key, func(ctx context.Context) (any, error) {
		v, err := work(ctx)
		return v, err
	}, opts)
	if err != nil {
		return zero, err
	}
	if val == nil {
		return zero, nil
	}
	typed, ok := val.(T)
	if !ok {
		return zero, errors.Newf("dedup: cannot convert value of type %T to %T", val, zero)
	}
	return typed, nil
}
