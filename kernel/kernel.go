package kernel

import (
	"context"
	"math/rand"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/evanphx/minikern/config"
	"github.com/evanphx/minikern/fs"
	"github.com/evanphx/minikern/fs/host"
	"github.com/evanphx/minikern/fs/random"
	"github.com/evanphx/minikern/fs/tarfs"
	"github.com/evanphx/minikern/log"
	"github.com/evanphx/minikern/pkg/clock"
	"github.com/evanphx/minikern/pkg/waiter"
	"github.com/evanphx/minikern/tracing"
)

var (
	ErrBooted   = errors.New("kernel already booted")
	ErrShutdown = errors.New("kernel shut down")
)

const (
	_ waiter.EventType = 1 << iota
	ProcessExited
	SystemIdle
)

// Kernel is itself a unit: the only consumer of syscalls. It owns the
// scheduler, the VFS and the process table.
type Kernel struct {
	ID string
	L  hclog.Logger

	cfg   *config.Config
	cpu   *CPU
	unit  *Unit
	sched *Scheduler
	vfs   *fs.VFS
	procs *ProcessManager

	events waiter.Waiter
	idle   atomic.Bool

	trap      chan *Call
	closed    chan struct{}
	closeOnce sync.Once
	booted    atomic.Bool
}

func NewKernel(cfg *config.Config) (*Kernel, error) {
	if cfg == nil {
		cfg = config.Default()
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	procs, err := NewProcessManager(cfg.History)
	if err != nil {
		return nil, err
	}

	archives, err := tarfs.NewTarFS(cfg.Root)
	if err != nil {
		return nil, err
	}

	id := uuid.New().String()

	k := &Kernel{
		ID:     id,
		L:      log.L.Named("kernel").With("boot", id),
		cfg:    cfg,
		cpu:    &CPU{},
		procs:  procs,
		vfs:    fs.NewVFS(host.NewHostFS(cfg.Root), random.New(), archives),
		trap:   make(chan *Call, 1),
		closed: make(chan struct{}),
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	k.sched = NewScheduler(
		WithRand(rand.New(rand.NewSource(seed))),
		WithDemoteAfter(cfg.DemoteAfter),
		WithExitHook(k.reap),
	)

	k.unit = NewUnit(k.cpu, "kernel", k.main)

	return k, nil
}

func (k *Kernel) Scheduler() *Scheduler {
	return k.sched
}

func (k *Kernel) VFS() *fs.VFS {
	return k.vfs
}

func (k *Kernel) Processes() *ProcessManager {
	return k.procs
}

// Violations is the number of times two units were seen past the gate.
func (k *Kernel) Violations() int64 {
	return k.cpu.Violations()
}

// Start launches the kernel unit and the quantum timer. Nothing runs
// until Boot.
func (k *Kernel) Start(ctx context.Context) {
	k.unit.Start(ctx)

	if k.cfg.Quantum > 0 {
		go k.quantum(k.cfg.Quantum)
	}

	k.L.Debug("kernel-start", "quantum", k.cfg.Quantum, "demote-after", k.cfg.DemoteAfter)
}

// Boot creates the first process from outside any unit and switches to
// it. It may only be called once, before anything else is running.
func (k *Kernel) Boot(ctx context.Context, prog Program, prio Priority) (int, error) {
	if !k.booted.CompareAndSwap(false, true) {
		return -1, ErrBooted
	}

	c := k.call(&Call{Kind: CallCreateProcess, Program: prog, Priority: prio})
	if c.Ret < 0 {
		return -1, ErrShutdown
	}

	k.call(&Call{Kind: CallSwitchProcess})

	return c.Ret, nil
}

// main is the kernel's body: one pass per grant.
func (k *Kernel) main(ctx context.Context) *Unit {
	select {
	case c := <-k.trap:
		k.idle.Store(false)
		k.invoke(ctx, c)
	default:
	}

	if !k.waitRunnable() {
		return nil
	}

	cur := k.sched.Current()
	if cur == nil {
		k.L.Trace("system-idle")
		k.idle.Store(true)
		k.events.Notify(SystemIdle)
		return nil
	}

	k.idle.Store(false)

	return cur.unit
}

func (k *Kernel) invoke(ctx context.Context, c *Call) {
	kind := c.Kind

	ctx, span := tracing.StartSpan(ctx, "syscall."+kind.String())
	span.WithAttributes(map[string]string{
		"pid": strconv.Itoa(k.sched.GetPid()),
	})

	var err error

	defer func() {
		if r := recover(); r != nil {
			k.L.Error("syscall-panic", "kind", kind, "pid", k.sched.GetPid(), "panic", r)
			err = errors.Errorf("syscall %s panicked: %v", kind, r)
			c.Ret = -1
			c.Out = []byte{}
		}

		tracing.EndSpan(span, err)

		c.Kind = CallNone
		close(c.done)
	}()

	var h handler
	if kind >= 0 && kind < numCallKinds {
		h = calls[kind]
	}

	if h == nil {
		k.L.Debug("syscall-unimplemented", "kind", kind, "pid", k.sched.GetPid())
		c.Ret = -1
		return
	}

	h(ctx, k.L, k, c)
}

// waitRunnable idles the CPU while nothing is ready but a sleeper is
// pending, then dispatches it. False means the kernel was shut down.
func (k *Kernel) waitRunnable() bool {
	for k.sched.Current() == nil {
		wake, ok := k.sched.NextWake()
		if !ok {
			return true
		}

		d := wake.Sub(clock.Now())
		if d > 0 {
			timer := time.NewTimer(d)

			select {
			case <-timer.C:
			case <-k.closed:
				timer.Stop()
				return false
			}
		}

		k.sched.Dispatch()
	}

	return true
}

func (k *Kernel) quantum(d time.Duration) {
	ticker := time.NewTicker(d)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if p := k.sched.Running(); p != nil {
				p.MarkTimeoutSignal()
				p.RequestPreemption()
			}
		case <-k.closed:
			return
		}
	}
}

// spawn builds the PCB and unit for a new process.
func (k *Kernel) spawn(ctx context.Context, prog Program, prio Priority) *PCB {
	pid := k.procs.AssignPid()
	name := programName(prog)

	var pcb *PCB

	unit := NewUnit(k.cpu, name+"-"+strconv.Itoa(pid), func(ctx context.Context) *Unit {
		task := &Task{PCB: pcb, Kernel: k}
		k.run(SetTask(ctx, task), task, prog)
		return nil
	})

	pcb = NewPCB(pid, name, prio, unit)

	k.procs.Add(pcb)

	select {
	case <-k.closed:
		unit.Close()
	default:
	}

	pcb.Start(context.WithoutCancel(ctx))

	return pcb
}

// run executes a program body. Whether it returns or panics, the process
// exits; the kernel never goes down with it.
func (k *Kernel) run(ctx context.Context, task *Task, prog Program) {
	func() {
		defer func() {
			if r := recover(); r != nil {
				k.L.Error("process-panic", "pid", task.Pid, "name", task.Name, "panic", r)
			}
		}()

		prog.Main(ctx)
	}()

	k.L.Trace("process-returned", "pid", task.Pid)
	k.Trap(ctx, &Call{Kind: CallExit})
}

// reap closes every descriptor the process still holds and drops it
// from the process table. Calling it twice is harmless.
func (k *Kernel) reap(p *PCB) {
	for _, fd := range p.OpenDescriptors() {
		id := p.VfsID(fd)
		if err := k.vfs.Close(id); err != nil {
			k.L.Debug("reap-close", "pid", p.Pid, "fd", fd, "id", id, "error", err)
		}
		p.ClearFd(fd)
	}

	if k.procs.Remove(p, clock.Now()) {
		k.L.Trace("process-exit", "pid", p.Pid, "name", p.Name)
		k.events.Notify(ProcessExited)
	}
}

// ProcessState reports where pid is in its lifecycle. Safe from any
// goroutine.
func (k *Kernel) ProcessState(pid int) ProcessState {
	if p, ok := k.procs.Lookup(pid); ok {
		return p.State()
	}

	if k.procs.Assigned(pid) {
		return StateGone
	}

	return StateUnknown
}

// Wait blocks until pid has exited.
func (k *Kernel) Wait(ctx context.Context, pid int) error {
	if !k.procs.Assigned(pid) {
		return errors.Wrapf(ErrUnknownPid, "pid: %d", pid)
	}

	c := make(chan struct{}, 1)
	ev := k.events.RegisterChannel(ProcessExited, c)
	defer k.events.Unregister(ev)

	for {
		if _, ok := k.procs.Lookup(pid); !ok {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-k.closed:
			return ErrShutdown
		case <-c:
		}
	}
}

// WaitIdle blocks until the kernel has nothing left to run.
func (k *Kernel) WaitIdle(ctx context.Context) error {
	c := make(chan struct{}, 1)
	ev := k.events.RegisterChannel(SystemIdle, c)
	defer k.events.Unregister(ev)

	for {
		if k.idle.Load() {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-k.closed:
			return ErrShutdown
		case <-c:
		}
	}
}

// Shutdown releases every parked unit and waits for the kernel unit to
// return.
func (k *Kernel) Shutdown() {
	k.closeOnce.Do(func() {
		close(k.closed)

		k.unit.Close()
		k.procs.Each(func(p *PCB) {
			p.unit.Close()
		})

		k.L.Debug("kernel-shutdown", "live", k.procs.Count())
	})

	k.unit.mu.Lock()
	started := k.unit.started
	k.unit.mu.Unlock()

	if started {
		<-k.unit.Done()
	}
}

type Snapshot struct {
	ID         string
	Scheduler  SchedulerSnapshot
	Live       int
	OpenFiles  int
	Violations int64
}

// Snapshot reads scheduler state; call it only while the kernel is idle
// or shut down.
func (k *Kernel) Snapshot() Snapshot {
	return Snapshot{
		ID:         k.ID,
		Scheduler:  k.sched.Snapshot(),
		Live:       k.procs.Count(),
		OpenFiles:  k.vfs.OpenCount(),
		Violations: k.Violations(),
	}
}
