// Package browserpool implements the BrowserPool of spec.md §4.10: a
// bounded pool of BrowserHandles with fair FIFO-ish acquisition, adapted
// from the teacher's channel-based instance pool onto BrowserHandle.
package browserpool

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"reach/internal/browserhandle"
	"reach/internal/corerrors"
)

// Config sizes and paces the pool.
type Config struct {
	MaxInstances        int
	MinInstances        int
	AcquireTimeout      time.Duration
	InstanceMaxAge      time.Duration
	InstanceMaxSessions int
	Launch              browserhandle.Options
}

// DefaultConfig returns sane pool defaults.
func DefaultConfig() Config {
	return Config{
		MaxInstances:        5,
		MinInstances:        1,
		AcquireTimeout:      30 * time.Second,
		InstanceMaxAge:      2 * time.Hour,
		InstanceMaxSessions: 200,
		Launch:              browserhandle.Options{Headless: true},
	}
}

type entry struct {
	handle       *browserhandle.Handle
	createdAt    time.Time
	lastUsedAt   time.Time
	sessionCount int32
	inUse        int32
}

func (e *entry) needsRecycle(maxAge time.Duration, maxSessions int) bool {
	if maxAge > 0 && time.Since(e.createdAt) > maxAge {
		return true
	}
	if maxSessions > 0 && atomic.LoadInt32(&e.sessionCount) >= int32(maxSessions) {
		return true
	}
	return false
}

// Metrics is a point-in-time snapshot of pool activity.
type Metrics struct {
	TotalAcquired int64
	TotalReleased int64
	TotalReused   int64
	AcquireWaits  int64
	ResetErrors   int64
	CurrentActive int32
	CurrentIdle   int32
}

// Pool is the BrowserPool.
type Pool struct {
	config Config
	log    *zap.Logger

	available chan *entry
	acquireLimiter *rate.Limiter

	mu        sync.Mutex
	instances map[*browserhandle.Handle]*entry
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	metrics Metrics
}

// New builds a pool, pre-warming it with MinInstances browsers.
func New(ctx context.Context, config Config, log *zap.Logger) (*Pool, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if config.MaxInstances <= 0 {
		config.MaxInstances = 1
	}
	pctx, cancel := context.WithCancel(ctx)
	p := &Pool{
		config:    config,
		log:       log,
		available: make(chan *entry, config.MaxInstances),
		// Re-creation of recycled idle instances is paced at 5/s so a whole
		// pool aging out at once doesn't launch every browser together.
		// Acquire itself is not rate-limited.
		acquireLimiter: rate.NewLimiter(5, 1),
		instances:      make(map[*browserhandle.Handle]*entry),
		ctx:            pctx,
		cancel:         cancel,
	}

	for i := 0; i < config.MinInstances; i++ {
		e, err := p.createEntry(ctx)
		if err != nil {
			p.Close()
			return nil, fmt.Errorf("browserpool: prewarm: %w", err)
		}
		p.available <- e
		atomic.AddInt32(&p.metrics.CurrentIdle, 1)
	}

	p.wg.Add(1)
	go p.maintenanceLoop()
	return p, nil
}

func (p *Pool) createEntry(ctx context.Context) (*entry, error) {
	h, err := browserhandle.Launch(ctx, p.config.Launch, p.log)
	if err != nil {
		return nil, err
	}
	e := &entry{handle: h, createdAt: time.Now(), lastUsedAt: time.Now()}
	p.mu.Lock()
	p.instances[h] = e
	p.mu.Unlock()
	return e, nil
}

func (p *Pool) destroyEntry(e *entry) {
	p.mu.Lock()
	delete(p.instances, e.handle)
	p.mu.Unlock()
	closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.handle.Close(closeCtx); err != nil {
		p.log.Warn("browserpool: close on destroy failed", zap.Error(err))
	}
}

// Acquire returns a ready BrowserHandle, blocking (up to AcquireTimeout)
// if the pool is at capacity and nothing is idle.
func (p *Pool) Acquire(ctx context.Context) (*browserhandle.Handle, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, corerrors.ErrPoolClosed
	}
	p.mu.Unlock()

	atomic.AddInt64(&p.metrics.TotalAcquired, 1)

	select {
	case e := <-p.available:
		atomic.AddInt32(&p.metrics.CurrentIdle, -1)
		return p.prepare(ctx, e)
	default:
	}

	p.mu.Lock()
	canCreate := len(p.instances) < p.config.MaxInstances
	p.mu.Unlock()
	if canCreate {
		e, err := p.createEntry(ctx)
		if err != nil {
			return nil, fmt.Errorf("browserpool: create: %w", err)
		}
		return p.prepare(ctx, e)
	}

	atomic.AddInt64(&p.metrics.AcquireWaits, 1)
	timeout := p.config.AcquireTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	acquireCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	select {
	case e := <-p.available:
		atomic.AddInt32(&p.metrics.CurrentIdle, -1)
		return p.prepare(ctx, e)
	case <-acquireCtx.Done():
		return nil, fmt.Errorf("browserpool: %w", corerrors.ErrPoolExhausted)
	case <-p.ctx.Done():
		return nil, corerrors.ErrPoolClosed
	}
}

func (p *Pool) prepare(ctx context.Context, e *entry) (*browserhandle.Handle, error) {
	if e.needsRecycle(p.config.InstanceMaxAge, p.config.InstanceMaxSessions) {
		p.destroyEntry(e)
		fresh, err := p.createEntry(ctx)
		if err != nil {
			return nil, err
		}
		e = fresh
	}
	atomic.StoreInt32(&e.inUse, 1)
	e.lastUsedAt = time.Now()
	atomic.AddInt32(&e.sessionCount, 1)
	atomic.AddInt32(&p.metrics.CurrentActive, 1)
	atomic.AddInt64(&p.metrics.TotalReused, 1)
	return e.handle, nil
}

// Release resets handle and returns it to the pool, or discards it if the
// reset fails or the pool has no room.
func (p *Pool) Release(ctx context.Context, h *browserhandle.Handle) {
	if h == nil {
		return
	}
	p.mu.Lock()
	e, ok := p.instances[h]
	p.mu.Unlock()
	if !ok {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = h.Close(closeCtx)
		return
	}

	atomic.AddInt64(&p.metrics.TotalReleased, 1)
	atomic.AddInt32(&p.metrics.CurrentActive, -1)
	atomic.StoreInt32(&e.inUse, 0)

	select {
	case <-p.ctx.Done():
		p.destroyEntry(e)
		return
	default:
	}

	if err := h.Reset(ctx); err != nil {
		atomic.AddInt64(&p.metrics.ResetErrors, 1)
		p.destroyEntry(e)
		return
	}

	select {
	case p.available <- e:
		atomic.AddInt32(&p.metrics.CurrentIdle, 1)
	default:
		p.destroyEntry(e)
	}
}

// Metrics returns a snapshot of pool activity counters.
func (p *Pool) Metrics() Metrics {
	return Metrics{
		TotalAcquired: atomic.LoadInt64(&p.metrics.TotalAcquired),
		TotalReleased: atomic.LoadInt64(&p.metrics.TotalReleased),
		TotalReused:   atomic.LoadInt64(&p.metrics.TotalReused),
		AcquireWaits:  atomic.LoadInt64(&p.metrics.AcquireWaits),
		ResetErrors:   atomic.LoadInt64(&p.metrics.ResetErrors),
		CurrentActive: atomic.LoadInt32(&p.metrics.CurrentActive),
		CurrentIdle:   atomic.LoadInt32(&p.metrics.CurrentIdle),
	}
}

func (p *Pool) maintenanceLoop() {
	defer p.wg.Done()
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			p.recycleStaleIdle()
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool) recycleStaleIdle() {
	var toRecycle []*entry
	for drained := 0; drained < p.config.MaxInstances; drained++ {
		select {
		case e := <-p.available:
			if e.needsRecycle(p.config.InstanceMaxAge, p.config.InstanceMaxSessions) {
				toRecycle = append(toRecycle, e)
			} else {
				p.available <- e
			}
		default:
			drained = p.config.MaxInstances
		}
	}

	for _, e := range toRecycle {
		atomic.AddInt32(&p.metrics.CurrentIdle, -1)
		p.destroyEntry(e)
		if ctx := p.ctx; ctx.Err() == nil {
			// Pace instance recreation so a whole pool recycling at once
			// doesn't launch MaxInstances browser processes in the same
			// instant.
			_ = p.acquireLimiter.Wait(ctx)
			if fresh, err := p.createEntry(ctx); err == nil {
				p.available <- fresh
				atomic.AddInt32(&p.metrics.CurrentIdle, 1)
			}
		}
	}
}

// Close drains and destroys every pooled browser, idle or not.
func (p *Pool) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	all := make([]*entry, 0, len(p.instances))
	for _, e := range p.instances {
		all = append(all, e)
	}
	p.mu.Unlock()

	p.cancel()
	p.wg.Wait()

	for _, e := range all {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		_ = e.handle.Close(closeCtx)
		cancel()
	}
	return nil
}
