package kernel

import (
	"context"
	"strings"
	"sync/atomic"

	"github.com/pkg/errors"
)

type Priority int

const (
	Realtime Priority = iota
	Interactive
	Background

	numPriorities = 3
)

var ErrUnknownPriority = errors.New("unknown priority")

func (p Priority) String() string {
	switch p {
	case Realtime:
		return "realtime"
	case Interactive:
		return "interactive"
	case Background:
		return "background"
	default:
		return "unknown"
	}
}

// Demote returns the class one level below p. Background stays put.
func (p Priority) Demote() Priority {
	switch p {
	case Realtime:
		return Interactive
	default:
		return Background
	}
}

func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "realtime", "rt":
		return Realtime, nil
	case "interactive":
		return Interactive, nil
	case "background", "bg":
		return Background, nil
	}

	return 0, errors.Wrapf(ErrUnknownPriority, "priority: %q", s)
}

type ProcessState int32

const (
	StateUnknown ProcessState = iota
	StateReady
	StateRunning
	StateSleeping
	StateGone
)

func (s ProcessState) String() string {
	switch s {
	case StateReady:
		return "ready"
	case StateRunning:
		return "running"
	case StateSleeping:
		return "sleeping"
	case StateGone:
		return "gone"
	default:
		return "unknown"
	}
}

// MaxDescriptors is the size of a process's descriptor table.
const MaxDescriptors = 10

// PCB decorates a Unit with scheduling metadata.
type PCB struct {
	Pid  int
	Name string

	unit     *Unit
	priority Priority
	state    atomic.Int32

	streak          int
	timeoutSignaled atomic.Bool

	sleeping bool
	exiting  bool

	fds [MaxDescriptors]int
}

func NewPCB(pid int, name string, priority Priority, unit *Unit) *PCB {
	p := &PCB{
		Pid:      pid,
		Name:     name,
		unit:     unit,
		priority: priority,
	}

	for i := range p.fds {
		p.fds[i] = -1
	}

	return p
}

func (p *PCB) Priority() Priority {
	return p.priority
}

func (p *PCB) SetPriority(prio Priority) {
	p.priority = prio
}

func (p *PCB) State() ProcessState {
	return ProcessState(p.state.Load())
}

func (p *PCB) setState(s ProcessState) {
	p.state.Store(int32(s))
}

func (p *PCB) Sleeping() bool { return p.sleeping }
func (p *PCB) Exiting() bool  { return p.exiting }

// MarkTimeoutSignal records that the quantum expired while p was running.
func (p *PCB) MarkTimeoutSignal() {
	p.timeoutSignaled.Store(true)
}

// ConsumeTimeoutSignal reports and clears the timeout mark.
func (p *PCB) ConsumeTimeoutSignal() bool {
	return p.timeoutSignaled.Swap(false)
}

func (p *PCB) IncrementTimeoutStreak() int {
	p.streak++
	return p.streak
}

func (p *PCB) ResetTimeoutStreak() {
	p.streak = 0
}

func (p *PCB) TimeoutStreak() int {
	return p.streak
}

// AllocFd returns the first free user fd, or -1 when the table is full.
func (p *PCB) AllocFd() int {
	for i, id := range p.fds {
		if id == -1 {
			return i
		}
	}

	return -1
}

func (p *PCB) SetFd(fd, vfsID int) {
	if fd >= 0 && fd < len(p.fds) {
		p.fds[fd] = vfsID
	}
}

// VfsID translates a user fd, returning -1 for free or out of range fds.
func (p *PCB) VfsID(fd int) int {
	if fd < 0 || fd >= len(p.fds) {
		return -1
	}

	return p.fds[fd]
}

func (p *PCB) ClearFd(fd int) {
	if fd >= 0 && fd < len(p.fds) {
		p.fds[fd] = -1
	}
}

// OpenDescriptors lists the user fds currently in use.
func (p *PCB) OpenDescriptors() []int {
	var fds []int

	for i, id := range p.fds {
		if id != -1 {
			fds = append(fds, i)
		}
	}

	return fds
}

func (p *PCB) Unit() *Unit {
	return p.unit
}

func (p *PCB) Start(ctx context.Context) {
	if p.unit != nil {
		p.unit.Start(ctx)
	}
}

func (p *PCB) Stop() {
	if p.unit != nil {
		p.unit.Stop()
	}
}

func (p *PCB) IsFinished() bool {
	return p.unit != nil && p.unit.IsFinished()
}

func (p *PCB) RequestPreemption() {
	if p.unit != nil {
		p.unit.RequestPreemption()
	}
}

func (p *PCB) consumePreemption() bool {
	return p.unit != nil && p.unit.ConsumePreemption()
}
