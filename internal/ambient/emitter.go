package ambient

import "sync"

// emitter delivers events to a single consumer channel in production order.
// The queue is unbounded so producers, which usually hold the provider
// lock, never wait on the consumer.
type emitter struct {
	out    chan Event
	notify chan struct{}

	mu     sync.Mutex
	queue  []Event
	closed bool
}

func newEmitter() *emitter {
	e := &emitter{
		out:    make(chan Event),
		notify: make(chan struct{}, 1),
	}
	go e.run()
	return e
}

// emit enqueues ev. It is a no-op after close.
func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.queue = append(e.queue, ev)
	e.mu.Unlock()
	e.wake()
}

func (e *emitter) wake() {
	select {
	case e.notify <- struct{}{}:
	default:
	}
}

func (e *emitter) run() {
	defer close(e.out)
	for {
		e.mu.Lock()
		if len(e.queue) == 0 {
			closed := e.closed
			e.mu.Unlock()
			if closed {
				return
			}
			<-e.notify
			continue
		}
		ev := e.queue[0]
		e.queue[0] = Event{}
		e.queue = e.queue[1:]
		e.mu.Unlock()

		e.out <- ev
	}
}

// pending returns the number of queued, undelivered events.
func (e *emitter) pending() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.queue)
}

// close stops accepting events. Events already queued are still delivered,
// then the output channel is closed. It does not wait for the consumer.
func (e *emitter) close() {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return
	}
	e.closed = true
	e.mu.Unlock()
	e.wake()
}
