package whisper

import (
	"context"
	"sync"

	"github.com/MrWong99/ambient/pkg/provider/stt"
)

// gate admits one inference at a time. When it is released, the oldest waiter
// of the highest waiting priority is admitted next.
type gate struct {
	mu      sync.Mutex
	busy    bool
	waiters [stt.PriorityHigh + 1][]chan struct{}
}

func clampPriority(p stt.Priority) stt.Priority {
	switch {
	case p < stt.PriorityLow:
		return stt.PriorityLow
	case p > stt.PriorityHigh:
		return stt.PriorityHigh
	default:
		return p
	}
}

// acquire blocks until the caller holds the gate or ctx is done.
func (g *gate) acquire(ctx context.Context, p stt.Priority) error {
	g.mu.Lock()
	if !g.busy {
		g.busy = true
		g.mu.Unlock()
		return nil
	}
	p = clampPriority(p)
	ch := make(chan struct{})
	g.waiters[p] = append(g.waiters[p], ch)
	g.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		g.mu.Lock()
		queued := g.dequeue(p, ch)
		g.mu.Unlock()
		if !queued {
			// Admitted concurrently with cancellation; pass the turn on.
			g.release()
		}
		return ctx.Err()
	}
}

// release hands the gate to the next waiter or marks it free.
func (g *gate) release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	for p := len(g.waiters) - 1; p >= 0; p-- {
		if q := g.waiters[p]; len(q) > 0 {
			g.waiters[p] = q[1:]
			close(q[0])
			return
		}
	}
	g.busy = false
}

// waiting returns the number of queued callers.
func (g *gate) waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, q := range g.waiters {
		n += len(q)
	}
	return n
}

func (g *gate) dequeue(p stt.Priority, ch chan struct{}) bool {
	q := g.waiters[p]
	for i, c := range q {
		if c == ch {
			g.waiters[p] = append(q[:i:i], q[i+1:]...)
			return true
		}
	}
	return false
}
