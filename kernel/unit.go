package kernel

import (
	"context"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/evanphx/minikern/log"
)

// CPU counts the units currently past their gate. Every unit of one
// kernel shares a CPU, and the count must never exceed one.
type CPU struct {
	onCPU      atomic.Int32
	violations atomic.Int64
}

func (c *CPU) enter(u *Unit) {
	if n := c.onCPU.Add(1); n > 1 {
		c.violations.Add(1)
		log.L.Error("gate-violation", "unit", u.name, "executing", n)
	}
}

func (c *CPU) leave() {
	c.onCPU.Add(-1)
}

// Violations reports how many times two units were past the gate at once.
func (c *CPU) Violations() int64 {
	return c.violations.Load()
}

// Body is run once per grant. The returned unit, if any, is granted as
// this unit leaves the CPU.
type Body func(ctx context.Context) *Unit

// Unit is one goroutine behind a binary gate.
type Unit struct {
	name string
	cpu  *CPU
	body Body

	mu        sync.Mutex
	cond      *sync.Cond
	permit    bool
	executing bool
	started   bool
	finished  bool
	closed    bool

	preempt atomic.Bool
	done    chan struct{}
}

func NewUnit(cpu *CPU, name string, body Body) *Unit {
	if cpu == nil {
		cpu = &CPU{}
	}

	u := &Unit{
		name: name,
		cpu:  cpu,
		body: body,
		done: make(chan struct{}),
	}

	u.cond = sync.NewCond(&u.mu)

	return u
}

func (u *Unit) Name() string {
	return u.name
}

// Start spawns the goroutine. It blocks at the gate until the first Grant.
func (u *Unit) Start(ctx context.Context) {
	u.mu.Lock()
	if u.started {
		u.mu.Unlock()
		return
	}
	u.started = true
	u.mu.Unlock()

	go u.run(ctx)
}

func (u *Unit) run(ctx context.Context) {
	defer u.finish()

	if !u.wait() {
		return
	}

	for {
		next := u.body(ctx)
		if !u.HandOff(next) {
			return
		}
	}
}

func (u *Unit) finish() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.executing {
		u.executing = false
		u.cpu.leave()
	}

	u.finished = true
	u.permit = false
	close(u.done)
	u.cond.Broadcast()
}

// Grant releases one permit. Extra grants while a permit is outstanding
// are absorbed.
func (u *Unit) Grant() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.finished || u.closed {
		return
	}

	u.permit = true
	u.cond.Broadcast()
}

// wait blocks until a permit is available and takes the CPU. It returns
// false once the unit has been closed.
func (u *Unit) wait() bool {
	u.mu.Lock()

	for !u.permit && !u.closed {
		u.cond.Wait()
	}

	if u.closed {
		u.mu.Unlock()
		return false
	}

	u.permit = false
	u.executing = true
	u.mu.Unlock()

	u.cpu.enter(u)

	return true
}

func (u *Unit) leave() {
	u.mu.Lock()
	defer u.mu.Unlock()

	if u.executing {
		u.executing = false
		u.cpu.leave()
	}

	u.cond.Broadcast()
}

// HandOff gives up the CPU, grants next and blocks until this unit is
// granted again. Must be called from the unit's own goroutine.
func (u *Unit) HandOff(next *Unit) bool {
	u.leave()

	if next != nil {
		next.Grant()
	}

	return u.wait()
}

// Park stops the calling unit until its next grant.
func (u *Unit) Park() bool {
	return u.HandOff(nil)
}

// Exit gives up the CPU, grants next and terminates the goroutine.
func (u *Unit) Exit(next *Unit) {
	u.leave()

	if next != nil {
		next.Grant()
	}

	runtime.Goexit()
}

// Stop revokes any outstanding permit and returns only once the unit is
// no longer executing. A unit stops itself with Park instead.
func (u *Unit) Stop() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.permit = false

	for u.executing {
		u.cond.Wait()
	}
}

// Close wakes a parked unit so its goroutine returns. A unit that is
// executing returns at its next handoff.
func (u *Unit) Close() {
	u.mu.Lock()
	defer u.mu.Unlock()

	u.closed = true
	u.permit = false
	u.cond.Broadcast()
}

func (u *Unit) IsRunnable() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.permit || u.executing
}

func (u *Unit) IsStopped() bool {
	return !u.IsRunnable()
}

func (u *Unit) IsFinished() bool {
	u.mu.Lock()
	defer u.mu.Unlock()

	return u.finished
}

// Done is closed when the goroutine has terminated.
func (u *Unit) Done() <-chan struct{} {
	return u.done
}

func (u *Unit) RequestPreemption() {
	u.preempt.Store(true)
}

func (u *Unit) ConsumePreemption() bool {
	return u.preempt.Swap(false)
}
