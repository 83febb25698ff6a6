package epoch

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEnterExit_BasicRoundTrip(t *testing.T) {
	m := New()
	ts := m.NewThreadState()

	_, entered := ts.Entered()
	assert.False(t, entered)

	ts.Enter()
	e, entered := ts.Entered()
	assert.True(t, entered)
	assert.Equal(t, uint64(1), e)

	ts.Exit()
	_, entered = ts.Entered()
	assert.False(t, entered)
}

func TestReentrantEnter_PanicsInDebugMode(t *testing.T) {
	m := New()
	m.Debug = true
	ts := m.NewThreadState()

	ts.Enter()
	defer ts.Exit()

	assert.Panics(t, func() { ts.Enter() })
}

func TestReentrantEnter_SilentWithoutDebug(t *testing.T) {
	m := New()
	ts := m.NewThreadState()

	ts.Enter()
	defer ts.Exit()

	assert.NotPanics(t, func() { ts.Enter() })
}

func TestFlush_DoesNotFreeWhileReaderHoldsOlderEpoch(t *testing.T) {
	m := New()
	reader := m.NewThreadState()
	reader.Enter()

	freed := false
	m.Retire(func() { freed = true })

	m.Flush()
	assert.False(t, freed, "item retired while a reader holds an epoch <= retire epoch must not be freed")

	reader.Exit()
	m.Flush()
	assert.True(t, freed)
}

func TestFlush_FreesOnceNoReaderBlocks(t *testing.T) {
	m := New()
	m.Retire(func() {})
	m.Retire(func() {})
	assert.Equal(t, 2, m.PendingCount())

	freed := m.Flush()
	assert.Equal(t, 2, freed)
	assert.Equal(t, 0, m.PendingCount())
}

// TestCrossThreadEpoch exercises S5: two threads each enter, allocate,
// sleep, free, exit, flush -- no free observed to run while any
// thread's entered epoch is <= that free's retire epoch.
func TestCrossThreadEpoch(t *testing.T) {
	m := New()

	var observedUnsafeFree int32
	var wg sync.WaitGroup

	run := func() {
		defer wg.Done()
		ts := m.NewThreadState()
		ts.Enter()
		time.Sleep(time.Millisecond)

		retireEpoch := ts.mgr.CurrentEpoch()
		m.Retire(func() {
			if cur := m.minEnteredEpoch(); cur <= retireEpoch {
				observedUnsafeFree++
			}
		})

		ts.Exit()
		m.Flush()
	}

	wg.Add(2)
	go run()
	go run()
	wg.Wait()

	m.Flush()
	require.Equal(t, int32(0), observedUnsafeFree)
}
