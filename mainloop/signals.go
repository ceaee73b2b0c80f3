// SPDX-License-Identifier: LGPL-3.0-or-later

package mainloop

import "sync"

// Event names emitted by the scheduler loop.
const (
	EventQueueEmpty   = "queue-empty"
	EventJobStarted   = "job-started"
	EventJobSucceeded = "job-succeeded"
	EventJobAborted   = "job-aborted"
	EventJobCompleted = "job-completed"
)

// Subscriber receives event-specific positional arguments: (job) for
// most events, (job, error) for job-aborted, and no arguments for
// queue-empty.
type Subscriber func(args ...interface{})

// warnLogger is the minimal logging surface the signal bus needs to
// report a swallowed subscriber panic. logger.Logger satisfies this
// structurally; mainloop does not import the logger package so the
// core stays dependency-free.
type warnLogger interface {
	Warn(msg string, keysAndValues ...interface{})
}

// SignalBus is a minimal publish/subscribe facility keyed by event
// name. Emissions are synchronous, made from the scheduler thread.
// Subscriber panics are recovered and swallowed so one bad observer
// cannot stop the scheduler.
type SignalBus struct {
	mu   sync.RWMutex
	subs map[string][]Subscriber
	log  warnLogger
}

// NewSignalBus creates an empty bus. log may be nil.
func NewSignalBus(log warnLogger) *SignalBus {
	return &SignalBus{
		subs: make(map[string][]Subscriber),
		log:  log,
	}
}

// On registers a subscriber for the named event.
func (b *SignalBus) On(event string, sub Subscriber) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[event] = append(b.subs[event], sub)
}

// Emit calls every subscriber registered for event, in registration
// order, swallowing any panic a subscriber raises.
func (b *SignalBus) Emit(event string, args ...interface{}) {
	b.mu.RLock()
	subs := make([]Subscriber, len(b.subs[event]))
	copy(subs, b.subs[event])
	b.mu.RUnlock()

	for _, sub := range subs {
		b.call(event, sub, args...)
	}
}

func (b *SignalBus) call(event string, sub Subscriber, args ...interface{}) {
	defer func() {
		if r := recover(); r != nil {
			if b.log != nil {
				b.log.Warn("signal subscriber panicked", "event", event, "recovered", r)
			}
		}
	}()
	sub(args...)
}
