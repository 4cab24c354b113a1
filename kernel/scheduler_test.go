package kernel

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evanphx/minikern/pkg/clock"
)

type schedHarness struct {
	s      *Scheduler
	clk    *clock.Manual
	exited []int
	pid    int
}

func newHarness(seed int64) *schedHarness {
	h := &schedHarness{
		clk: clock.NewManual(time.Unix(1000, 0)),
	}

	h.s = NewScheduler(
		WithRand(rand.New(rand.NewSource(seed))),
		WithClock(h.clk.Now),
		WithExitHook(func(p *PCB) { h.exited = append(h.exited, p.Pid) }),
	)

	return h
}

func (h *schedHarness) create(prio Priority) *PCB {
	h.pid++
	p := NewPCB(h.pid, "p", prio, nil)
	h.s.CreateProcess(p)
	return p
}

func TestSchedulerCreateDoesNotDispatch(t *testing.T) {
	h := newHarness(1)

	p := h.create(Interactive)

	require.Nil(t, h.s.Current())
	require.Equal(t, -1, h.s.GetPid())
	require.Equal(t, StateReady, p.State())

	h.s.SwitchProcess()
	require.Equal(t, p, h.s.Current())
	require.Equal(t, StateRunning, p.State())
	require.Equal(t, p, h.s.Running())
}

func TestSchedulerRoundRobinWithinClass(t *testing.T) {
	h := newHarness(1)

	a := h.create(Background)
	b := h.create(Background)
	c := h.create(Background)

	var order []int
	for i := 0; i < 6; i++ {
		h.s.SwitchProcess()
		order = append(order, h.s.GetPid())
	}

	require.Equal(t, []int{a.Pid, b.Pid, c.Pid, a.Pid, b.Pid, c.Pid}, order)
}

func TestSchedulerOneRunning(t *testing.T) {
	h := newHarness(7)

	var all []*PCB
	for _, prio := range []Priority{Realtime, Interactive, Background, Interactive, Realtime} {
		all = append(all, h.create(prio))
	}

	for i := 0; i < 200; i++ {
		h.s.SwitchProcess()

		running := 0
		for _, p := range all {
			if p.State() == StateRunning {
				running++
				require.Equal(t, p, h.s.Current())
			}
		}

		require.Equal(t, 1, running)
	}
}

func TestSchedulerSleep(t *testing.T) {
	h := newHarness(1)

	sleeper := h.create(Realtime)
	other := h.create(Background)

	for i := 0; i < 50 && h.s.Current() != sleeper; i++ {
		h.s.SwitchProcess()
	}
	require.Equal(t, sleeper, h.s.Current())

	h.s.Sleep(100)
	require.Equal(t, other, h.s.Current())
	require.True(t, sleeper.Sleeping())
	require.Equal(t, StateSleeping, sleeper.State())

	wake, ok := h.s.NextWake()
	require.True(t, ok)
	require.Equal(t, h.clk.Now().Add(100*time.Millisecond), wake)

	h.clk.Advance(99 * time.Millisecond)
	for i := 0; i < 20; i++ {
		h.s.SwitchProcess()
		require.Equal(t, other, h.s.Current())
	}

	h.clk.Advance(time.Millisecond)
	h.s.SwitchProcess()

	// realtime wins 6 of 10 draws, so it comes back within a few switches
	found := false
	for i := 0; i < 50 && !found; i++ {
		found = h.s.Current() == sleeper
		h.s.SwitchProcess()
	}

	require.True(t, found)
	require.False(t, sleeper.Sleeping())
	require.False(t, h.s.HasSleepers())
}

func TestSchedulerSleepOrdering(t *testing.T) {
	h := newHarness(1)

	a := h.create(Background)
	b := h.create(Background)
	c := h.create(Background)

	h.s.SwitchProcess()
	require.Equal(t, a, h.s.Current())
	h.s.Sleep(30)

	require.Equal(t, b, h.s.Current())
	h.s.Sleep(10)

	require.Equal(t, c, h.s.Current())
	h.s.Sleep(-5)

	// negative sleeps are due immediately
	require.Equal(t, c, h.s.Current())

	snap := h.s.Snapshot()
	require.Equal(t, []int{b.Pid, a.Pid}, snap.Sleeping)

	h.s.Sleep(0)
	require.Equal(t, c, h.s.Current())

	h.s.Sleep(1000)
	require.Nil(t, h.s.Current())

	h.clk.Advance(time.Second)
	h.s.Dispatch()
	require.Equal(t, b, h.s.Current())
}

func TestSchedulerSleepHugeDuration(t *testing.T) {
	h := newHarness(1)

	a := h.create(Background)
	b := h.create(Background)

	h.s.SwitchProcess()
	require.Equal(t, a, h.s.Current())

	h.s.Sleep(math.MaxInt)
	require.Equal(t, b, h.s.Current())

	wake, ok := h.s.NextWake()
	require.True(t, ok)
	require.True(t, wake.After(h.clk.Now().Add(100*365*24*time.Hour)))

	h.clk.Advance(24 * time.Hour)
	for i := 0; i < 10; i++ {
		h.s.SwitchProcess()
		require.Equal(t, b, h.s.Current())
	}

	require.True(t, a.Sleeping())
}

func TestSchedulerDemotion(t *testing.T) {
	h := newHarness(1)

	p := h.create(Realtime)
	h.s.SwitchProcess()

	for i := 1; i <= DefaultDemoteAfter; i++ {
		p.MarkTimeoutSignal()
		h.s.SwitchProcess()

		require.Equal(t, Realtime, p.Priority())
		require.Equal(t, i, p.TimeoutStreak())
	}

	p.MarkTimeoutSignal()
	h.s.SwitchProcess()

	require.Equal(t, Interactive, p.Priority())
	require.Equal(t, 0, p.TimeoutStreak())

	// voluntary yields never promote it back
	for i := 0; i < 100; i++ {
		h.s.SwitchProcess()
	}

	require.Equal(t, Interactive, p.Priority())

	for i := 0; i <= DefaultDemoteAfter; i++ {
		p.MarkTimeoutSignal()
		h.s.SwitchProcess()
	}

	require.Equal(t, Background, p.Priority())

	for i := 0; i < 20; i++ {
		p.MarkTimeoutSignal()
		h.s.SwitchProcess()
	}

	require.Equal(t, Background, p.Priority())
}

func TestSchedulerVoluntaryYieldResetsStreak(t *testing.T) {
	h := newHarness(1)

	p := h.create(Interactive)
	h.s.SwitchProcess()

	for i := 0; i < 4; i++ {
		p.MarkTimeoutSignal()
		h.s.SwitchProcess()
	}
	require.Equal(t, 4, p.TimeoutStreak())

	h.s.SwitchProcess()
	require.Equal(t, 0, p.TimeoutStreak())

	for i := 0; i < 50; i++ {
		h.s.SwitchProcess()
		require.Equal(t, 0, p.TimeoutStreak())
	}

	require.Equal(t, Interactive, p.Priority())
}

func TestSchedulerSleepResetsStreak(t *testing.T) {
	h := newHarness(1)

	p := h.create(Interactive)
	h.s.SwitchProcess()

	for i := 0; i < 5; i++ {
		p.MarkTimeoutSignal()
		h.s.SwitchProcess()
	}

	// the timer fires again, but the process blocks before the next switch
	p.MarkTimeoutSignal()
	h.s.Sleep(0)

	require.Equal(t, 0, p.TimeoutStreak())
	require.Equal(t, p, h.s.Current())

	h.s.SwitchProcess()
	require.Equal(t, Interactive, p.Priority())
	require.Equal(t, 0, p.TimeoutStreak())
}

func TestSchedulerExit(t *testing.T) {
	h := newHarness(1)

	a := h.create(Interactive)
	b := h.create(Interactive)

	h.s.SwitchProcess()
	require.Equal(t, a, h.s.Current())

	h.s.ExitCurrent()
	require.Equal(t, []int{a.Pid}, h.exited)
	require.Equal(t, StateGone, a.State())
	require.Equal(t, b, h.s.Current())

	for i := 0; i < 10; i++ {
		h.s.SwitchProcess()
		require.Equal(t, b, h.s.Current())
	}

	h.s.ExitCurrent()
	require.Nil(t, h.s.Current())
	require.Equal(t, -1, h.s.GetPid())

	h.s.ExitCurrent()
	require.Equal(t, []int{a.Pid, b.Pid}, h.exited)
}

func TestSchedulerDropsExitingOnSwitch(t *testing.T) {
	h := newHarness(1)

	a := h.create(Background)
	b := h.create(Background)

	h.s.SwitchProcess()
	require.Equal(t, a, h.s.Current())

	a.exiting = true
	h.s.SwitchProcess()

	require.Equal(t, []int{a.Pid}, h.exited)
	require.Equal(t, b, h.s.Current())

	h.s.SwitchProcess()
	require.Equal(t, b, h.s.Current())
}

func TestSchedulerSleeperExitingIsDropped(t *testing.T) {
	h := newHarness(1)

	a := h.create(Background)
	h.s.SwitchProcess()
	h.s.Sleep(10)

	a.exiting = true
	h.clk.Advance(time.Second)
	h.s.Dispatch()

	require.Nil(t, h.s.Current())
	require.False(t, h.s.HasSleepers())
}

// selectionShares fills the given classes and counts which class each of
// trials dispatches picks.
func selectionShares(seed int64, trials int, classes ...Priority) map[Priority]float64 {
	h := newHarness(seed)

	for _, prio := range classes {
		for i := 0; i < 3; i++ {
			h.create(prio)
		}
	}

	counts := map[Priority]int{}
	for i := 0; i < trials; i++ {
		p := h.s.pick()
		counts[p.Priority()]++
		h.s.enqueue(p)
	}

	shares := map[Priority]float64{}
	for prio, n := range counts {
		shares[prio] = float64(n) / float64(trials)
	}

	return shares
}

func TestSchedulerSelectionPolicy(t *testing.T) {
	const trials = 10000

	all := selectionShares(3, trials, Realtime, Interactive, Background)
	assert.InDelta(t, 0.6, all[Realtime], 0.03)
	assert.InDelta(t, 0.3, all[Interactive], 0.03)
	assert.InDelta(t, 0.1, all[Background], 0.02)

	// interactive empty: its three draws fall through to background
	rtbg := selectionShares(5, trials, Realtime, Background)
	assert.InDelta(t, 0.6, rtbg[Realtime], 0.03)
	assert.InDelta(t, 0.4, rtbg[Background], 0.03)

	// background empty: its draw falls back to realtime
	rtit := selectionShares(9, trials, Realtime, Interactive)
	assert.InDelta(t, 0.7, rtit[Realtime], 0.03)
	assert.InDelta(t, 0.3, rtit[Interactive], 0.03)

	itbg := selectionShares(11, trials, Interactive, Background)
	assert.InDelta(t, 0.75, itbg[Interactive], 0.03)
	assert.InDelta(t, 0.25, itbg[Background], 0.03)

	only := selectionShares(13, 100, Background)
	assert.Equal(t, 1.0, only[Background])

	h := newHarness(1)
	require.Nil(t, h.s.pick())
}
