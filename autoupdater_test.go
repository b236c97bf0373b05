package register

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/GoAethereal/cancel"
	"github.com/stretchr/testify/require"
)

// newBareAutoUpdater builds an AutoUpdater whose loop the test drives
// by calling step() itself rather than letting a background goroutine
// run it. It pins a placeholder taskHandle into u.task so that
// AddRegisters/UseRegistryHints see a task as already "running" and
// don't spawn a real one alongside the test's manual step() calls.
func newBareAutoUpdater(clk Clock) *AutoUpdater {
	scope, stop := cancel.Promote(context.Background())
	return &AutoUpdater{
		clk:   clk,
		scope: scope,
		stop:  stop,
		wake:  make(chan struct{}, 1),
		task:  &taskHandle{done: make(chan struct{})},
	}
}

// TestAutoUpdaterHintSemiGreedyScenario exercises a collection
// managing registers A=5, B=7 whose first hint probe names A (a
// managed register, so lastHintTime does not advance and the very next
// pass probes again without waiting out the interval), then names 9
// (unmanaged, so lastHintTime advances and 9 becomes the
// confirmedRegisterId of the subsequent probe).
func TestAutoUpdaterHintSemiGreedyScenario(t *testing.T) {
	clk := &manualClock{}
	clk.set(10_000)

	var hintSeq []int
	callIdx := 0
	hints := []int32{5, 9, -1}
	gw := NewGateway(newFakeMessenger(func(destId, tag int, payload []byte) ([]byte, bool) {
		if payload[0] == opGetHint {
			confirmed := -1
			if len(payload) > 1 {
				id, _, _ := decodeRegisterID(payload[1:])
				confirmed = id
			}
			hintSeq = append(hintSeq, confirmed)
			h := hints[callIdx]
			callIdx++
			return append([]byte{byte(StatusOK)}, encodeVarint(h)...), true
		}
		return append([]byte{byte(StatusOK)}, encodeVarint(0)...), true
	}))
	require.NoError(t, gw.Start(context.Background()))
	defer gw.Stop(true)

	rc, err := NewRegisterCollection(gw, 1, WithClock(clk))
	require.NoError(t, err)
	regA, err := rc.AddRegister(5, false, identityIntCodec{}, DefaultConnectionSettings())
	require.NoError(t, err)
	require.NoError(t, regA.SetUpdateInterval(time.Hour))
	regB, err := rc.AddRegister(7, false, identityIntCodec{}, DefaultConnectionSettings())
	require.NoError(t, err)
	require.NoError(t, regB.SetUpdateInterval(time.Hour))

	settings, err := NewHintSettings(HintSemiGreedy, 100*time.Millisecond, time.Second)
	require.NoError(t, err)

	u := newBareAutoUpdater(clk)
	u.AddRegisters(regA, regB)
	u.UseRegistryHints(rc, settings)

	u.step()
	u.step()

	require.Equal(t, []int{-1, -1}, hintSeq)

	u.mu.Lock()
	st := u.findStateLocked(rc)
	require.NotNil(t, st)
	require.Equal(t, 9, st.unconfirmedRegisterId)
	require.Equal(t, int64(10_000), st.lastHintTime)
	u.mu.Unlock()

	clk.set(10_100)
	u.step()
	require.Equal(t, []int{-1, -1, 9}, hintSeq)
}

func TestAutoUpdaterRemoveRegistersDropsEmptyState(t *testing.T) {
	clk := &manualClock{}
	gw := NewGateway(newFakeMessenger(func(destId, tag int, payload []byte) ([]byte, bool) { return nil, false }))
	require.NoError(t, gw.Start(context.Background()))
	defer gw.Stop(true)
	rc, err := NewRegisterCollection(gw, 1, WithClock(clk))
	require.NoError(t, err)
	r, err := rc.AddRegister(5, false, identityIntCodec{}, DefaultConnectionSettings())
	require.NoError(t, err)

	u := newBareAutoUpdater(clk)
	u.AddRegisters(r)

	u.mu.Lock()
	require.Len(t, u.states, 1)
	u.mu.Unlock()

	u.RemoveRegisters(r)

	u.mu.Lock()
	require.Len(t, u.states, 0)
	u.mu.Unlock()
}

// TestAutoUpdaterTaskStopsWhenIdleAndRestarts exercises the
// scheduler's task lifetime: the background loop is started lazily by
// AddRegisters, stops itself once the managed set empties out
// (RemoveAllRegisters), and a later AddRegisters starts a fresh one
// rather than leaking the old loop forever.
func TestAutoUpdaterTaskStopsWhenIdleAndRestarts(t *testing.T) {
	clk := &manualClock{}
	gw := NewGateway(newFakeMessenger(func(destId, tag int, payload []byte) ([]byte, bool) {
		return append([]byte{byte(StatusOK)}, encodeVarint(1)...), true
	}))
	require.NoError(t, gw.Start(context.Background()))
	defer gw.Stop(true)
	rc, err := NewRegisterCollection(gw, 1, WithClock(clk))
	require.NoError(t, err)
	r, err := rc.AddRegister(5, false, identityIntCodec{}, DefaultConnectionSettings())
	require.NoError(t, err)

	u := NewAutoUpdater(WithUpdaterClock(clk))
	defer u.Close()

	u.mu.Lock()
	require.Nil(t, u.task, "an idle AutoUpdater must not have started a background loop yet")
	u.mu.Unlock()

	u.AddRegisters(r)

	u.mu.Lock()
	firstTask := u.task
	u.mu.Unlock()
	require.NotNil(t, firstTask, "AddRegisters must start the background loop")

	u.RemoveAllRegisters()

	require.Eventually(t, func() bool {
		select {
		case <-firstTask.done:
			return true
		default:
			return false
		}
	}, time.Second, time.Millisecond, "the loop must exit on its own once the managed set is empty")

	u.mu.Lock()
	require.Nil(t, u.task, "stopTaskIfIdleLocked must clear the task once idle")
	u.mu.Unlock()

	u.AddRegisters(r)

	u.mu.Lock()
	secondTask := u.task
	u.mu.Unlock()
	require.NotNil(t, secondTask)
	require.NotSame(t, firstTask, secondTask, "a fresh AddRegisters after going idle must start a new loop generation")
}

// TestAutoUpdaterWeaklyPrunesHintOnlyCollection exercises the weak
// reference requirement: a collection tracked only for hint probing
// (no managed registers) is reachable solely through its owner's own
// variable. Once that variable goes out of scope and the collector
// runs, the scheduler's next scan must discover the weak reference as
// dead and prune the state — without the scheduler ever having kept
// the collection alive itself.
func TestAutoUpdaterWeaklyPrunesHintOnlyCollection(t *testing.T) {
	u := newBareAutoUpdater(DefaultClock)
	settings, err := NewHintSettings(HintSimple, 50*time.Millisecond, time.Second)
	require.NoError(t, err)

	func() {
		gw := NewGateway(newFakeMessenger(func(destId, tag int, payload []byte) ([]byte, bool) { return nil, false }))
		rc, err := NewRegisterCollection(gw, 1)
		require.NoError(t, err)
		u.UseRegistryHints(rc, settings)
	}()

	u.mu.Lock()
	require.Len(t, u.states, 1)
	u.mu.Unlock()

	runtime.GC()
	runtime.GC()

	u.mu.Lock()
	u.findStateLocked(nil)
	remaining := len(u.states)
	u.mu.Unlock()
	require.Equal(t, 0, remaining, "a hint-only collection with no other strong references must be collectible")
}
