package kernel

import (
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/evanphx/minikern/log"
	"github.com/evanphx/minikern/pkg/clock"
)

// DefaultDemoteAfter is how many consecutive quantum expirations a
// process may accumulate before it loses a priority class.
const DefaultDemoteAfter = 5

// maxSleepMs is the longest sleep that still fits in a time.Duration.
const maxSleepMs = math.MaxInt64 / int64(time.Millisecond)

type SchedulerOption func(s *Scheduler)

// WithRand sets the source used by the selection policy.
func WithRand(r *rand.Rand) SchedulerOption {
	return func(s *Scheduler) { s.rng = r }
}

// WithClock sets the clock used for sleep deadlines.
func WithClock(now func() time.Time) SchedulerOption {
	return func(s *Scheduler) { s.now = now }
}

func WithDemoteAfter(n int) SchedulerOption {
	return func(s *Scheduler) { s.demoteAfter = n }
}

// WithExitHook sets the function called to release the resources of a
// process that is leaving the scheduler for good.
func WithExitHook(f func(*PCB)) SchedulerOption {
	return func(s *Scheduler) { s.onExit = f }
}

// Scheduler keeps one FIFO ready queue per priority class and a sleep
// set, and owns the single running slot. It is only touched by the
// kernel, apart from Running which the quantum timer reads.
type Scheduler struct {
	queues   [numPriorities][]*PCB
	sleepers sleepSet
	seq      uint64

	current *PCB
	running atomic.Pointer[PCB]

	rng         *rand.Rand
	now         func() time.Time
	demoteAfter int
	onExit      func(*PCB)
}

func NewScheduler(opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		now:         clock.Now,
		demoteAfter: DefaultDemoteAfter,
	}

	for _, opt := range opts {
		opt(s)
	}

	if s.rng == nil {
		s.rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	return s
}

// CreateProcess queues p at the tail of its class. It does not dispatch.
func (s *Scheduler) CreateProcess(p *PCB) int {
	s.enqueue(p)

	log.L.Trace("sched-create", "pid", p.Pid, "name", p.Name, "priority", p.Priority())

	return p.Pid
}

// Sleep moves the running process into the sleep set for at least ms
// milliseconds and dispatches.
func (s *Scheduler) Sleep(ms int) {
	if cur := s.current; cur != nil {
		d := int64(ms)
		switch {
		case d < 0:
			d = 0
		case d > maxSleepMs:
			d = maxSleepMs
		}

		s.seq++
		s.sleepers.add(sleeper{
			pcb:    cur,
			wakeAt: s.now().Add(time.Duration(d) * time.Millisecond),
			seq:    s.seq,
		})

		cur.sleeping = true
		cur.setState(StateSleeping)

		// blocking voluntarily never counts toward demotion
		cur.ResetTimeoutStreak()
		cur.ConsumeTimeoutSignal()
		cur.consumePreemption()

		log.L.Trace("sched-sleep", "pid", cur.Pid, "ms", ms)
	}

	s.dispatch()
}

// ExitCurrent retires the running process and dispatches.
func (s *Scheduler) ExitCurrent() {
	if cur := s.current; cur != nil {
		log.L.Trace("sched-exit", "pid", cur.Pid)
		s.retire(cur)
	}

	s.dispatch()
}

// SwitchProcess is the preemption and cooperation point. The running
// process is charged for a timeout only if the quantum timer fired since
// it was last scheduled.
func (s *Scheduler) SwitchProcess() {
	s.wake()

	if cur := s.current; cur != nil {
		if cur.exiting || cur.IsFinished() {
			s.retire(cur)
		} else {
			s.account(cur)
			s.enqueue(cur)
		}
	}

	s.dispatch()
}

func (s *Scheduler) account(p *PCB) {
	p.consumePreemption()

	if !p.ConsumeTimeoutSignal() {
		p.ResetTimeoutStreak()
		return
	}

	n := p.IncrementTimeoutStreak()

	prio := p.Priority()
	if prio == Background || n <= s.demoteAfter {
		return
	}

	p.SetPriority(prio.Demote())
	p.ResetTimeoutStreak()

	log.L.Debug("sched-demote", "pid", p.Pid, "from", prio, "to", p.Priority())
}

func (s *Scheduler) retire(p *PCB) {
	p.exiting = true
	p.setState(StateGone)

	if s.onExit != nil {
		s.onExit(p)
	}
}

func (s *Scheduler) enqueue(p *PCB) {
	p.sleeping = false
	p.setState(StateReady)

	prio := p.Priority()
	s.queues[prio] = append(s.queues[prio], p)
}

func (s *Scheduler) dequeue(prio Priority) *PCB {
	q := s.queues[prio]
	p := q[0]
	q[0] = nil
	s.queues[prio] = q[1:]
	return p
}

// wake moves every sleeper whose deadline has passed into its ready
// queue.
func (s *Scheduler) wake() {
	now := s.now()

	for {
		e, ok := s.sleepers.peek()
		if !ok || e.wakeAt.After(now) {
			return
		}

		s.sleepers.pop()

		if e.pcb.exiting {
			continue
		}

		log.L.Trace("sched-wake", "pid", e.pcb.Pid)
		s.enqueue(e.pcb)
	}
}

// dispatch wakes eligible sleepers and picks the next process to run.
// The running slot is nil when nothing is ready.
func (s *Scheduler) dispatch() {
	s.wake()

	next := s.pick()
	if next != nil {
		next.setState(StateRunning)
	}

	s.current = next
	s.running.Store(next)
}

func (s *Scheduler) ready(prio Priority) bool {
	return len(s.queues[prio]) > 0
}

// pick draws the next process. With realtime work present, realtime gets
// 6 of 10 draws, interactive 3 and background 1; otherwise interactive
// gets 3 of 4 and background 1. An empty bucket falls through to the
// next non-empty class.
func (s *Scheduler) pick() *PCB {
	rt, it, bg := s.ready(Realtime), s.ready(Interactive), s.ready(Background)

	switch {
	case rt:
		roll := s.rng.Intn(10)
		switch {
		case roll < 6:
			return s.dequeue(Realtime)
		case roll < 9 && it:
			return s.dequeue(Interactive)
		case bg:
			return s.dequeue(Background)
		default:
			return s.dequeue(Realtime)
		}
	case it:
		roll := s.rng.Intn(4)
		if roll < 3 || !bg {
			return s.dequeue(Interactive)
		}

		return s.dequeue(Background)
	case bg:
		return s.dequeue(Background)
	}

	return nil
}

// Current is the process holding the running slot.
func (s *Scheduler) Current() *PCB {
	return s.current
}

// Running is Current, safe to read from other goroutines.
func (s *Scheduler) Running() *PCB {
	return s.running.Load()
}

func (s *Scheduler) GetPid() int {
	if s.current == nil {
		return -1
	}

	return s.current.Pid
}

func (s *Scheduler) HasSleepers() bool {
	return s.sleepers.Len() > 0
}

// NextWake is the earliest sleeper deadline.
func (s *Scheduler) NextWake() (time.Time, bool) {
	e, ok := s.sleepers.peek()
	return e.wakeAt, ok
}

// Dispatch runs a scheduling decision without touching the running
// process. The kernel uses it when it was idle and a sleeper is due.
func (s *Scheduler) Dispatch() {
	if s.current != nil {
		return
	}

	s.dispatch()
}

type SchedulerSnapshot struct {
	Running     int
	Realtime    []int
	Interactive []int
	Background  []int
	Sleeping    []int
}

func pids(q []*PCB) []int {
	out := make([]int, 0, len(q))
	for _, p := range q {
		out = append(out, p.Pid)
	}

	return out
}

// Snapshot copies the queue contents as pids.
func (s *Scheduler) Snapshot() SchedulerSnapshot {
	snap := SchedulerSnapshot{
		Running:     s.GetPid(),
		Realtime:    pids(s.queues[Realtime]),
		Interactive: pids(s.queues[Interactive]),
		Background:  pids(s.queues[Background]),
	}

	sorted := make(sleepSet, len(s.sleepers))
	copy(sorted, s.sleepers)

	for sorted.Len() > 0 {
		snap.Sleeping = append(snap.Sleeping, sorted.pop().pcb.Pid)
	}

	return snap
}
