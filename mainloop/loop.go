// SPDX-License-Identifier: LGPL-3.0-or-later

package mainloop

import (
	"fmt"
	"sync"
	"time"
)

const defaultActivityTick = 200 * time.Millisecond

// MainLoop is the central scheduler: queues, admission, worker
// lifecycle and signalling. All mutable state is guarded by exactly
// one mutex, paired with one condition variable (§5 of the design).
type MainLoop struct {
	cond *sync.Cond
	bus  *SignalBus
	log  warnLogger

	// guarded by cond.L
	queue       []Action
	forceStart  []Action
	runningJobs []*Job
	sleeping    map[Action]struct{}
	paused      bool
	shutdownNow bool
	maxThreads  int

	stopped      chan struct{}
	shutdownOnce sync.Once
}

// New creates a MainLoop with the given concurrency cap and starts its
// scheduler goroutine immediately. log may be nil; when set, it
// receives a Warn call whenever a signal subscriber panics.
func New(maxThreads int, log warnLogger) *MainLoop {
	if maxThreads < 1 {
		maxThreads = 1
	}
	l := &MainLoop{
		cond:       sync.NewCond(&sync.Mutex{}),
		bus:        NewSignalBus(log),
		log:        log,
		sleeping:   make(map[Action]struct{}),
		maxThreads: maxThreads,
		stopped:    make(chan struct{}),
	}
	go l.schedulerLoop()
	return l
}

// On registers a subscriber for a signal bus event. See Event* constants.
func (l *MainLoop) On(event string, sub Subscriber) {
	l.bus.On(event, sub)
}

// --- admission API (§4.2) -------------------------------------------------

// Enqueue appends a to the back of the queue.
func (l *MainLoop) Enqueue(a Action) {
	a.AddedNotify(l)

	l.cond.L.Lock()
	l.queue = append(l.queue, a)
	l.cond.Broadcast()
	l.cond.L.Unlock()
}

// EnqueueOrIgnore appends a to the queue and returns true, unless an
// action with the same name is already reachable in queue, force-start
// or the running set, in which case it is a no-op returning false.
func (l *MainLoop) EnqueueOrIgnore(a Action) bool {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()

	if l.findByNameLocked(a.Name()) != nil {
		return false
	}

	a.AddedNotify(l)
	l.queue = append(l.queue, a)
	l.cond.Broadcast()
	return true
}

// PriorityEnqueue inserts a at the front of the queue, or — if
// forceStart is true — appends it to the force-start list, which
// bypasses both the concurrency cap and the pause gate on the next
// scheduling tick.
func (l *MainLoop) PriorityEnqueue(a Action, forceStart bool) {
	a.AddedNotify(l)

	l.cond.L.Lock()
	if forceStart {
		l.forceStart = append(l.forceStart, a)
	} else {
		l.queue = append([]Action{a}, l.queue...)
	}
	l.cond.Broadcast()
	l.cond.L.Unlock()
}

// PriorityEnqueueOrRaise bubbles up priority for an existing pending
// entry without creating a duplicate. It returns true iff a was newly
// admitted, false iff an existing entry of the same name was promoted
// instead (a is discarded in that case).
func (l *MainLoop) PriorityEnqueueOrRaise(a Action, forceStart bool) bool {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()

	name := a.Name()

	if findByName(l.forceStart, name) != nil {
		return false
	}
	if j := l.findRunningByNameLocked(name); j != nil {
		return false
	}

	if idx, existing := l.findInQueueLocked(name); existing != nil {
		l.queue = append(l.queue[:idx], l.queue[idx+1:]...)
		if forceStart {
			l.forceStart = append(l.forceStart, existing)
		} else {
			l.queue = append([]Action{existing}, l.queue...)
		}
		l.cond.Broadcast()
		return false
	}

	a.AddedNotify(l)
	if forceStart {
		l.forceStart = append(l.forceStart, a)
	} else {
		l.queue = append([]Action{a}, l.queue...)
	}
	l.cond.Broadcast()
	return true
}

// Pause stops the scheduler from admitting new queue entries. It does
// not affect force-start and does not suspend already-running jobs.
func (l *MainLoop) Pause() {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	l.paused = true
	l.cond.Broadcast()
}

// Resume clears the pause gate. A no-op if not paused.
func (l *MainLoop) Resume() {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	l.paused = false
	l.cond.Broadcast()
}

// IsPaused reports the current pause gate state.
func (l *MainLoop) IsPaused() bool {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	return l.paused
}

// SetMaxThreads updates the concurrency cap. Lowering it below the
// current active count does not interrupt any running job; the
// scheduler simply refrains from admitting new work until drain.
func (l *MainLoop) SetMaxThreads(n int) error {
	if n < 1 {
		return fmt.Errorf("mainloop: max threads must be >= 1, got %d", n)
	}

	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	if l.maxThreads == n {
		return nil
	}
	l.maxThreads = n
	l.cond.Broadcast()
	return nil
}

// Shutdown sets the terminal flag, wakes the scheduler, waits for it
// to exit its loop, and then joins every Job still in the running
// set. Idempotent: a second call observes the first's completion and
// returns immediately.
func (l *MainLoop) Shutdown() {
	l.shutdownOnce.Do(func() {
		l.cond.L.Lock()
		l.shutdownNow = true
		l.cond.Broadcast()
		l.cond.L.Unlock()

		<-l.stopped

		l.cond.L.Lock()
		jobs := make([]*Job, len(l.runningJobs))
		copy(jobs, l.runningJobs)
		l.cond.L.Unlock()

		for _, j := range jobs {
			j.join()
		}
	})
}

// --- observer API (§4.3) --------------------------------------------------

// WaitFor blocks while a is reachable in queue, force-start or the
// running set.
func (l *MainLoop) WaitFor(a Action) {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	for l.reachableLocked(a) {
		l.cond.Wait()
	}
}

// WaitUntilDone blocks while GetQueueLength() > 0.
func (l *MainLoop) WaitUntilDone() {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	for l.queueLengthLocked() > 0 {
		l.cond.Wait()
	}
}

// WaitForActivity blocks for up to one tick (~200ms) for any state
// change, for use by polling observers. It never blocks longer than
// that, even if no change occurs.
func (l *MainLoop) WaitForActivity() {
	timer := time.AfterFunc(defaultActivityTick, func() {
		l.cond.L.Lock()
		l.cond.Broadcast()
		l.cond.L.Unlock()
	})
	defer timer.Stop()

	l.cond.L.Lock()
	l.cond.Wait()
	l.cond.L.Unlock()
}

// InQueue reports whether a is currently in the pending queue.
func (l *MainLoop) InQueue(a Action) bool {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	for _, q := range l.queue {
		if q == a {
			return true
		}
	}
	return false
}

// InProgress reports whether a is currently running.
func (l *MainLoop) InProgress(a Action) bool {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	return l.inRunningLocked(a)
}

// GetRunningActions returns a snapshot of the actions currently running.
func (l *MainLoop) GetRunningActions() []Action {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	out := make([]Action, len(l.runningJobs))
	for i, j := range l.runningJobs {
		out[i] = j.Action()
	}
	return out
}

// GetQueueLength returns |queue| + |force_start| + |running_jobs|, the
// sole published size metric.
func (l *MainLoop) GetQueueLength() int {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	return l.queueLengthLocked()
}

// SleepingCount returns the number of currently running actions marked
// suspended via ActionSleepNotify.
func (l *MainLoop) SleepingCount() int {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	return len(l.sleeping)
}

// GetFirstActionFromName returns the first action (queue, then
// force-start, then running) whose name matches, or nil.
func (l *MainLoop) GetFirstActionFromName(name string) Action {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()
	return l.findByNameLocked(name)
}

// GetActionsFromName returns every action across queue, force-start and
// the running set whose name matches.
func (l *MainLoop) GetActionsFromName(name string) []Action {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()

	var out []Action
	for _, a := range l.queue {
		if a.Name() == name {
			out = append(out, a)
		}
	}
	for _, a := range l.forceStart {
		if a.Name() == name {
			out = append(out, a)
		}
	}
	for _, j := range l.runningJobs {
		if j.Name() == name {
			out = append(out, j.Action())
		}
	}
	return out
}

// --- suspension callbacks (§4.4) ------------------------------------------

// ActionSleepNotify marks a as suspended, removing it from the
// effective-active count. Precondition: a must be in the running set;
// violating it is a programming error.
func (l *MainLoop) ActionSleepNotify(a Action) {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()

	if !l.inRunningLocked(a) {
		panic("mainloop: action_sleep_notify called for an action that is not running")
	}

	l.sleeping[a] = struct{}{}
	l.cond.Broadcast()
}

// ActionWakeNotify clears a's suspended flag. Preconditions: a must be
// in the running set and currently sleeping; violating either is a
// programming error.
func (l *MainLoop) ActionWakeNotify(a Action) {
	l.cond.L.Lock()
	defer l.cond.L.Unlock()

	if !l.inRunningLocked(a) {
		panic("mainloop: action_wake_notify called for an action that is not running")
	}
	if _, ok := l.sleeping[a]; !ok {
		panic("mainloop: action_wake_notify called for an action that is not sleeping")
	}

	delete(l.sleeping, a)
	l.cond.Broadcast()
}

// --- scheduler loop (§4.5) -------------------------------------------------

func (l *MainLoop) schedulerLoop() {
	l.cond.L.Lock()
	defer func() {
		l.cond.L.Unlock()
		close(l.stopped)
	}()

	for {
		if l.shutdownNow {
			return
		}

		l.reap()

		if l.queueLengthLocked() == 0 {
			l.cond.L.Unlock()
			l.bus.Emit(EventQueueEmpty)
			l.cond.L.Lock()
		}

		if len(l.forceStart) > 0 {
			toLaunch := l.forceStart
			l.forceStart = nil
			for _, a := range toLaunch {
				l.launchLocked(a)
			}
			l.cond.Broadcast()
		}

		if l.shutdownNow {
			return
		}

		if len(l.queue) == 0 || l.paused {
			l.cond.Wait()
			continue
		}

		effectiveActive := len(l.runningJobs) - len(l.sleeping)
		if effectiveActive >= l.maxThreads {
			l.cond.Wait()
			continue
		}

		a := l.queue[0]
		l.queue = l.queue[1:]
		l.launchLocked(a)
	}
}

// reap partitions running_jobs into still-alive and terminated, fires
// completion signals for each terminated Job, and joins its worker.
// Must be called with cond.L held; re-acquires it before returning.
func (l *MainLoop) reap() {
	var alive, terminated []*Job
	for _, j := range l.runningJobs {
		if j.IsAlive() {
			alive = append(alive, j)
		} else {
			terminated = append(terminated, j)
		}
	}
	if len(terminated) == 0 {
		return
	}

	l.runningJobs = alive
	for _, j := range terminated {
		delete(l.sleeping, j.Action())
	}
	l.cond.Broadcast()

	l.cond.L.Unlock()
	for _, j := range terminated {
		if err := j.Err(); err != nil {
			l.bus.Emit(EventJobAborted, j, err)
		} else {
			l.bus.Emit(EventJobSucceeded, j)
		}
		l.bus.Emit(EventJobCompleted, j)
		j.join()
	}
	l.cond.L.Lock()
}

// launchLocked starts a Job for a, releasing the lock around the
// thread-start and the job-started emission, and reacquiring it
// before returning. Must be called with cond.L held.
func (l *MainLoop) launchLocked(a Action) {
	j := newJob(l, a)
	l.runningJobs = append(l.runningJobs, j)

	l.cond.L.Unlock()
	j.start()
	l.bus.Emit(EventJobStarted, j)
	l.cond.L.Lock()
}

// --- locked helpers (cond.L must already be held) -------------------------

func (l *MainLoop) queueLengthLocked() int {
	return len(l.queue) + len(l.forceStart) + len(l.runningJobs)
}

func (l *MainLoop) reachableLocked(a Action) bool {
	for _, q := range l.queue {
		if q == a {
			return true
		}
	}
	for _, f := range l.forceStart {
		if f == a {
			return true
		}
	}
	return l.inRunningLocked(a)
}

func (l *MainLoop) inRunningLocked(a Action) bool {
	for _, j := range l.runningJobs {
		if j.Action() == a {
			return true
		}
	}
	return false
}

func (l *MainLoop) findRunningByNameLocked(name string) Action {
	for _, j := range l.runningJobs {
		if j.Name() == name {
			return j.Action()
		}
	}
	return nil
}

func (l *MainLoop) findInQueueLocked(name string) (int, Action) {
	for i, q := range l.queue {
		if q.Name() == name {
			return i, q
		}
	}
	return -1, nil
}

func (l *MainLoop) findByNameLocked(name string) Action {
	if a := findByName(l.queue, name); a != nil {
		return a
	}
	if a := findByName(l.forceStart, name); a != nil {
		return a
	}
	return l.findRunningByNameLocked(name)
}

func findByName(actions []Action, name string) Action {
	for _, a := range actions {
		if a.Name() == name {
			return a
		}
	}
	return nil
}
