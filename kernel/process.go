package kernel

import (
	"context"
	"reflect"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"
	"github.com/pkg/errors"
)

var (
	ErrUnknownPid = errors.New("unknown pid")
)

// Program is the userland code a process runs. Main is expected to loop,
// making syscalls; returning from it exits the process.
type Program interface {
	Main(ctx context.Context)
}

// ProgramFunc adapts a plain function to Program.
type ProgramFunc func(ctx context.Context)

func (f ProgramFunc) Main(ctx context.Context) {
	f(ctx)
}

type namedProgram struct {
	name string
	Program
}

func (n namedProgram) Name() string {
	return n.name
}

// Named attaches a name to a program, used by GetPidByName.
func Named(name string, p Program) Program {
	return namedProgram{name: name, Program: p}
}

func programName(p Program) string {
	if n, ok := p.(interface{ Name() string }); ok {
		return n.Name()
	}

	t := reflect.TypeOf(p)
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if t.Name() == "" || t.Name() == "ProgramFunc" {
		return "anonymous"
	}

	return t.Name()
}

type prockey struct{}

func GetTask(ctx context.Context) (*Task, bool) {
	if v := ctx.Value(prockey{}); v != nil {
		return v.(*Task), true
	}

	return nil, false
}

func SetTask(ctx context.Context, t *Task) context.Context {
	return context.WithValue(ctx, prockey{}, t)
}

// Task is the view a running program has of itself.
type Task struct {
	*PCB
	Kernel *Kernel
}

// ExitRecord is what remains of a process once it has been reaped.
type ExitRecord struct {
	Pid      int
	Name     string
	Priority Priority
	ExitedAt time.Time
}

type ProcessManager struct {
	mu        sync.RWMutex
	highWater int
	processes map[int]*PCB

	exited *lru.Cache
}

func NewProcessManager(history int) (*ProcessManager, error) {
	cache, err := lru.New(history)
	if err != nil {
		return nil, errors.Wrapf(err, "exited history of %d", history)
	}

	return &ProcessManager{
		processes: make(map[int]*PCB),
		exited:    cache,
	}, nil
}

// AssignPid hands out the next pid. Pids are never reused.
func (p *ProcessManager) AssignPid() int {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.highWater++
	return p.highWater
}

func (p *ProcessManager) Add(proc *PCB) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.processes[proc.Pid] = proc
}

func (p *ProcessManager) Lookup(pid int) (*PCB, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	proc, ok := p.processes[pid]
	return proc, ok
}

// LookupName returns the lowest live pid running a program called name.
func (p *ProcessManager) LookupName(name string) (int, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	found := -1
	for pid, proc := range p.processes {
		if proc.Name == name && (found == -1 || pid < found) {
			found = pid
		}
	}

	return found, found != -1
}

// Remove drops proc from the live table and records it in the exited
// history. It reports whether proc was live.
func (p *ProcessManager) Remove(proc *PCB, at time.Time) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if _, ok := p.processes[proc.Pid]; !ok {
		return false
	}

	delete(p.processes, proc.Pid)

	p.exited.Add(proc.Pid, ExitRecord{
		Pid:      proc.Pid,
		Name:     proc.Name,
		Priority: proc.Priority(),
		ExitedAt: at,
	})

	return true
}

func (p *ProcessManager) Exited(pid int) (ExitRecord, bool) {
	v, ok := p.exited.Get(pid)
	if !ok {
		return ExitRecord{}, false
	}

	return v.(ExitRecord), true
}

// Assigned reports whether pid was ever handed out.
func (p *ProcessManager) Assigned(pid int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return pid >= 1 && pid <= p.highWater
}

func (p *ProcessManager) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()

	return len(p.processes)
}

// Each calls f for every live process in pid order.
func (p *ProcessManager) Each(f func(*PCB)) {
	p.mu.RLock()
	procs := make([]*PCB, 0, len(p.processes))
	for _, proc := range p.processes {
		procs = append(procs, proc)
	}
	p.mu.RUnlock()

	sort.Slice(procs, func(i, j int) bool { return procs[i].Pid < procs[j].Pid })

	for _, proc := range procs {
		f(proc)
	}
}
