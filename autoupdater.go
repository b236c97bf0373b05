package register

import (
	"context"
	"sync"
	"time"
	"weak"

	"github.com/GoAethereal/cancel"
)

// maxWait is the longest the scheduler ever sleeps in one step,
// regardless of how far out the next due register or hint probe is.
// It bounds reaction time to bookkeeping changes (add/remove
// registers, disable hints, a collection going away) without needing
// a full interrupt/reschedule handshake.
const maxWait = 100 * time.Millisecond

// collectionState is the AutoUpdater's bookkeeping for one
// RegisterCollection: the registers of that collection currently
// under management, and its optional hint-probing configuration. It
// holds only a weak reference to the collection itself — the
// scheduler must never be the reason a RegisterCollection outlives
// its owner's last strong reference. Once ref.Value() returns nil, the
// state is pruned on the next scan.
//
// A state is created the first time a register from that collection
// is added, or hints are enabled for it, whichever happens first; it
// is dropped once both become empty.
type collectionState struct {
	ref                   weak.Pointer[RegisterCollection]
	registers             map[*Register]struct{}
	hints                 *HintSettings
	lastHintTime          int64
	unconfirmedRegisterId int
}

func newCollectionState(c *RegisterCollection) *collectionState {
	return &collectionState{
		ref:                   weak.Make(c),
		registers:             make(map[*Register]struct{}),
		unconfirmedRegisterId: -1,
	}
}

func (st *collectionState) empty() bool {
	return len(st.registers) == 0 && st.hints == nil
}

// AutoUpdater is the single background scheduler that multiplexes
// polling (and, where enabled, change-hint probing) across every
// Register registered with it, regardless of which RegisterCollection
// or Gateway it belongs to. The UpdateValue calls it makes are always
// one at a time, never concurrent with each other.
//
// State changes (adding/removing registers, enabling/disabling hints)
// don't interrupt a running loop iteration; they mutate the shared
// state under a lock, and the loop picks up the new state on its next
// pass. AddRegisters and UseRegistryHints also send a non-blocking
// wake; removals and DisableRegistryHints do not, so they take effect
// within maxWait. The scheduler's goroutine is
// started lazily, the first time there is anything for it to do
// (AddRegisters or UseRegistryHints on an otherwise idle updater), and
// stops itself once the managed set becomes empty: each run of the
// loop captures its own *taskHandle at start and, every time it
// re-enters its critical section, checks whether u.task still points
// to that same handle. Once the managed set empties out, whichever
// membership call emptied it clears u.task under the lock; the running
// loop notices on its next iteration and exits on its own, without
// needing to be interrupted or joined — a generation-counter idiom
// expressed here with a pointer identity instead of an integer
// generation.
type AutoUpdater struct {
	mu     sync.Mutex
	states []*collectionState
	clk    Clock
	task   *taskHandle

	wake  chan struct{}
	scope cancel.Context
	stop  cancel.CancelFunc
}

// taskHandle identifies one run of the scheduler's background loop.
// Its identity (not its contents) is what a loop iteration compares
// against u.task to decide whether it is still the current task.
type taskHandle struct {
	done chan struct{}
}

// AutoUpdaterOption configures an AutoUpdater at construction.
type AutoUpdaterOption func(*AutoUpdater)

// WithUpdaterClock overrides the scheduler's time source; intended for
// tests that need to drive hint-probe timing by hand.
func WithUpdaterClock(c Clock) AutoUpdaterOption {
	return func(u *AutoUpdater) { u.clk = c }
}

// NewAutoUpdater constructs an idle AutoUpdater. Its background loop
// does not start until the first register or hint configuration is
// added.
func NewAutoUpdater(opts ...AutoUpdaterOption) *AutoUpdater {
	scope, stop := cancel.Promote(context.Background())
	u := &AutoUpdater{
		wake:  make(chan struct{}, 1),
		clk:   DefaultClock,
		scope: scope,
		stop:  stop,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// Close permanently tears down the scheduler and waits for its
// background loop, if one is currently running, to exit. It does not
// touch any RegisterCollection or Gateway.
func (u *AutoUpdater) Close() {
	u.mu.Lock()
	h := u.task
	u.mu.Unlock()
	u.stop()
	if h != nil {
		<-h.done
	}
}

// ensureTaskRunningLocked starts the background loop if nothing is
// currently running. Caller must hold u.mu.
func (u *AutoUpdater) ensureTaskRunningLocked() {
	if u.task != nil {
		return
	}
	select {
	case <-u.scope.Done():
		return
	default:
	}
	h := &taskHandle{done: make(chan struct{})}
	u.task = h
	go u.run(h)
}

// stopTaskIfIdleLocked requests the background loop to stop once the
// managed set has become empty: it clears u.task so the running loop
// notices, on its next iteration, that it is no longer current and
// exits by itself. Caller must hold u.mu.
func (u *AutoUpdater) stopTaskIfIdleLocked() {
	if len(u.states) == 0 {
		u.task = nil
	}
}

// findStateLocked returns the state for c, if c already has one,
// pruning any states whose collection has been garbage collected
// along the way. Caller must hold u.mu.
func (u *AutoUpdater) findStateLocked(c *RegisterCollection) *collectionState {
	live := u.states[:0]
	var found *collectionState
	for _, st := range u.states {
		v := st.ref.Value()
		if v == nil {
			continue
		}
		live = append(live, st)
		if c != nil && v == c {
			found = st
		}
	}
	u.states = live
	return found
}

func (u *AutoUpdater) getOrCreateStateLocked(c *RegisterCollection) *collectionState {
	if st := u.findStateLocked(c); st != nil {
		return st
	}
	st := newCollectionState(c)
	u.states = append(u.states, st)
	return st
}

// AddRegisters puts regs under this scheduler's management, creating
// per-collection state as needed.
func (u *AutoUpdater) AddRegisters(regs ...*Register) {
	if len(regs) == 0 {
		return
	}
	u.mu.Lock()
	for _, r := range regs {
		st := u.getOrCreateStateLocked(r.collection)
		st.registers[r] = struct{}{}
	}
	u.ensureTaskRunningLocked()
	u.mu.Unlock()
	u.wakeLoop()
}

// RemoveRegisters stops scheduling regs. If a collection's state ends
// up with no managed registers and no hint settings, the state itself
// is dropped.
func (u *AutoUpdater) RemoveRegisters(regs ...*Register) {
	if len(regs) == 0 {
		return
	}
	u.mu.Lock()
	byCollection := make(map[*RegisterCollection][]*Register)
	for _, r := range regs {
		byCollection[r.collection] = append(byCollection[r.collection], r)
	}
	live := u.states[:0]
	for _, st := range u.states {
		c := st.ref.Value()
		if c == nil {
			continue
		}
		for _, r := range byCollection[c] {
			delete(st.registers, r)
		}
		if !st.empty() {
			live = append(live, st)
		}
	}
	u.states = live
	u.stopTaskIfIdleLocked()
	u.mu.Unlock()
}

// RemoveAllRegisters stops scheduling every register and disables
// hints on every collection currently registered.
func (u *AutoUpdater) RemoveAllRegisters() {
	u.mu.Lock()
	u.states = nil
	u.stopTaskIfIdleLocked()
	u.mu.Unlock()
}

// UseRegistryHints enables change-hint probing for collection c with
// the given settings, cloning settings so later external mutation
// can't race the scheduler loop.
func (u *AutoUpdater) UseRegistryHints(c *RegisterCollection, settings HintSettings) {
	u.mu.Lock()
	st := u.getOrCreateStateLocked(c)
	cloned := settings.clone()
	st.hints = &cloned
	st.unconfirmedRegisterId = -1
	u.ensureTaskRunningLocked()
	u.mu.Unlock()
	u.wakeLoop()
}

// DisableRegistryHints turns off change-hint probing for c. If the
// collection has no managed registers either, its state is dropped.
func (u *AutoUpdater) DisableRegistryHints(c *RegisterCollection) {
	u.mu.Lock()
	if st := u.findStateLocked(c); st != nil {
		st.hints = nil
		if st.empty() {
			u.removeStateLocked(st)
		}
	}
	u.stopTaskIfIdleLocked()
	u.mu.Unlock()
}

func (u *AutoUpdater) removeStateLocked(target *collectionState) {
	live := u.states[:0]
	for _, st := range u.states {
		if st != target {
			live = append(live, st)
		}
	}
	u.states = live
}

func (u *AutoUpdater) wakeLoop() {
	select {
	case u.wake <- struct{}{}:
	default:
	}
}

// run is one generation of the scheduler's background task. It exits
// as soon as it finds u.task no longer points to its own handle h,
// which is how a membership call that emptied the managed set asks
// the loop to stop without interrupting or joining it directly.
func (u *AutoUpdater) run(h *taskHandle) {
	defer close(h.done)
	for {
		u.mu.Lock()
		current := u.task == h
		u.mu.Unlock()
		if !current {
			return
		}

		wait := u.step()
		select {
		case <-u.scope.Done():
			return
		case <-u.wake:
			continue
		case <-time.After(wait):
			continue
		}
	}
}

// hintJob is a snapshot of one collection's due hint probe, taken
// under the lock so the probe itself (a network round trip) can run
// without holding it.
type hintJob struct {
	state       *collectionState
	collection  *RegisterCollection
	confirmedId int
	timeout     time.Duration
	strategy    HintStrategy
}

// step runs one scheduler pass: gather expired registers and due hint
// probes, run the probes, fold any hint matches into the expired set,
// and finally call UpdateValue on every one of them in sequence. It
// returns how long the loop should sleep before its next pass.
func (u *AutoUpdater) step() time.Duration {
	now := u.clk.NowMillis()

	u.mu.Lock()
	u.findStateLocked(nil) // prune only
	var expired []*Register
	var jobs []hintJob
	wait := maxWait
	for _, st := range u.states {
		c := st.ref.Value()
		if c == nil {
			continue
		}
		for r := range st.registers {
			if ms := r.MillisToNextUpdate(); ms == 0 {
				expired = append(expired, r)
			} else if d := time.Duration(ms) * time.Millisecond; d < wait {
				wait = d
			}
		}
		if st.hints != nil && len(st.registers) > 0 {
			dueIn := st.hints.Interval().Milliseconds() - (now - st.lastHintTime)
			if dueIn <= 0 {
				jobs = append(jobs, hintJob{
					state:       st,
					collection:  c,
					confirmedId: st.unconfirmedRegisterId,
					timeout:     st.hints.Timeout(),
					strategy:    st.hints.Strategy(),
				})
				st.unconfirmedRegisterId = -1
			} else if d := time.Duration(dueIn) * time.Millisecond; d < wait {
				wait = d
			}
		}
	}
	u.mu.Unlock()

	for _, job := range jobs {
		expired = append(expired, u.runHintProbe(job, now)...)
	}

	seen := make(map[*Register]bool, len(expired))
	for _, r := range expired {
		if seen[r] {
			continue
		}
		seen[r] = true
		r.UpdateValue(u.scope)
	}

	if wait <= 0 {
		wait = time.Millisecond
	}
	return wait
}

// runHintProbe issues one change-hint request: matching managed
// registers are returned for the caller to fold into the serial update
// pass, the strategy decides whether lastHintTime advances now or the
// collection gets probed again next pass, and an unmatched
// non-negative hint becomes the confirmedRegisterId for the next
// probe.
func (u *AutoUpdater) runHintProbe(job hintJob, now int64) []*Register {
	hintId, err := job.collection.GetChangeHintId(u.scope, job.confirmedId, job.timeout)
	if err != nil {
		hintId = -1
	}

	u.mu.Lock()
	defer u.mu.Unlock()

	var matched []*Register
	if hintId >= 0 {
		for r := range job.state.registers {
			if r.ID() == hintId {
				matched = append(matched, r)
			}
		}
		if len(matched) == 0 {
			job.state.unconfirmedRegisterId = hintId
		}
	}

	advance := false
	switch job.strategy {
	case HintSimple:
		advance = true
	case HintSemiGreedy:
		advance = len(matched) == 0
	case HintGreedy:
		advance = hintId < 0
	}
	if advance {
		job.state.lastHintTime = now
	}

	return matched
}
