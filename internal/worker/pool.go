package worker

import (
	"context"
	"log/slog"
	"sync"
)

// Pool runs background tasks behind a bounded concurrency gate. Submit never
// blocks the caller: when every slot is busy the task is dropped and counted,
// because background memory work must not delay a reply.
type Pool struct {
	logger *slog.Logger
	slots  chan struct{}
	wg     sync.WaitGroup

	mu      sync.Mutex
	dropped int64
	closed  bool
}

// NewPool creates a pool with the given number of concurrent slots.
func NewPool(size int, logger *slog.Logger) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		logger: logger,
		slots:  make(chan struct{}, size),
	}
}

// Submit schedules fn if a slot is free and reports whether it was accepted.
// fn runs with the supplied context; panics are recovered and logged so one
// bad task cannot take down the process.
func (p *Pool) Submit(ctx context.Context, name string, fn func(context.Context)) bool {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return false
	}

	select {
	case p.slots <- struct{}{}:
	default:
		p.dropped++
		p.mu.Unlock()
		p.logger.Warn("background task dropped, pool saturated", "task", name)
		return false
	}
	p.wg.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.logger.Error("background task panicked", "task", name, "panic", r)
			}
			<-p.slots
			p.wg.Done()
		}()
		fn(ctx)
	}()
	return true
}

// Dropped returns how many tasks were rejected for lack of capacity.
func (p *Pool) Dropped() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.dropped
}

// Close stops accepting tasks and waits for in-flight ones to finish.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
