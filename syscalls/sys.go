// Package syscalls is the userland side of the kernel boundary. Every
// function takes the ctx handed to Program.Main, which carries the
// calling task.
package syscalls

import (
	"context"
	"runtime"

	"github.com/evanphx/minikern/kernel"
	"github.com/evanphx/minikern/log"
)

func invoke(ctx context.Context, c *kernel.Call) *kernel.Call {
	t, ok := kernel.GetTask(ctx)
	if !ok {
		log.L.Error("syscall outside of a process", "kind", c.Kind)
		c.Ret = -1
		return c
	}

	return t.Kernel.Trap(ctx, c)
}

func CreateProcess(ctx context.Context, prog kernel.Program, prio kernel.Priority) int {
	return invoke(ctx, &kernel.Call{
		Kind:     kernel.CallCreateProcess,
		Program:  prog,
		Priority: prio,
	}).Ret
}

// Sleep blocks the caller for at least ms milliseconds.
func Sleep(ctx context.Context, ms int) {
	invoke(ctx, &kernel.Call{Kind: kernel.CallSleep, N: ms})
}

func GetPid(ctx context.Context) int {
	return invoke(ctx, &kernel.Call{Kind: kernel.CallGetPid}).Ret
}

func GetPidByName(ctx context.Context, name string) int {
	return invoke(ctx, &kernel.Call{Kind: kernel.CallGetPidByName, Spec: name}).Ret
}

// Exit terminates the calling process. It does not return.
func Exit(ctx context.Context) {
	invoke(ctx, &kernel.Call{Kind: kernel.CallExit})
}

// SwitchProcess yields the CPU.
func SwitchProcess(ctx context.Context) {
	invoke(ctx, &kernel.Call{Kind: kernel.CallSwitchProcess})
}

// Cooperate is the point where a process honours preemption. It only
// enters the kernel when the quantum has expired.
func Cooperate(ctx context.Context) {
	t, ok := kernel.GetTask(ctx)
	if ok && t.Unit().ConsumePreemption() {
		SwitchProcess(ctx)
		return
	}

	runtime.Gosched()
}

// Open returns a descriptor for spec, "<device> <arg>", or -1.
func Open(ctx context.Context, spec string) int {
	return invoke(ctx, &kernel.Call{Kind: kernel.CallOpen, Spec: spec}).Ret
}

func Close(ctx context.Context, fd int) {
	invoke(ctx, &kernel.Call{Kind: kernel.CallClose, Fd: fd})
}

// Read returns up to size bytes; fewer at end of file, none on error.
func Read(ctx context.Context, fd, size int) []byte {
	c := invoke(ctx, &kernel.Call{Kind: kernel.CallRead, Fd: fd, N: size})
	if c.Out == nil {
		return []byte{}
	}

	return c.Out
}

func Seek(ctx context.Context, fd, offset int) {
	invoke(ctx, &kernel.Call{Kind: kernel.CallSeek, Fd: fd, N: offset})
}

func Write(ctx context.Context, fd int, data []byte) int {
	return invoke(ctx, &kernel.Call{Kind: kernel.CallWrite, Fd: fd, Data: data}).Ret
}
