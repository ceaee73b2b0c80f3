// SPDX-License-Identifier: LGPL-3.0-or-later

// Package mainloop implements a bounded-concurrency work queue: a
// scheduler that admits at most N user-submitted Actions to concurrent
// execution, supports priority injection and force-start bypass, tracks
// per-action suspension so sleeping actions do not count against the
// concurrency budget, and drains cleanly on shutdown.
package mainloop

// Action is a unit of work supplied by a caller. The core treats an
// Action as opaque: it never inspects what Run does, only when it
// starts, sleeps, wakes and finishes.
type Action interface {
	// Name identifies the action for display and name-based dedup. It
	// is not required to be unique.
	Name() string

	// Run executes the action's work on a dedicated worker goroutine.
	// A panic recovered during Run becomes the Job's Err.
	Run() error

	// AddedNotify is called exactly once, at admission time, so the
	// action can later call back into the loop with ActionSleepNotify/
	// ActionWakeNotify around its own long waits.
	AddedNotify(l *MainLoop)
}

// BaseAction is an embeddable helper that implements AddedNotify and
// gives an Action the stored MainLoop reference it needs to call
// ActionSleepNotify/ActionWakeNotify on itself.
type BaseAction struct {
	loop *MainLoop
}

// AddedNotify stores the back-reference installed by the loop.
func (b *BaseAction) AddedNotify(l *MainLoop) {
	b.loop = l
}

// Sleeping marks the embedding action as suspended for the duration of
// fn, so the scheduler may admit another action in its place. fn
// typically wraps a blocking external wait.
func (b *BaseAction) Sleeping(self Action, fn func()) {
	if b.loop == nil {
		fn()
		return
	}
	b.loop.ActionSleepNotify(self)
	defer b.loop.ActionWakeNotify(self)
	fn()
}
