package kernel

import (
	"context"
	"runtime"

	"github.com/evanphx/minikern/log"
)

// Trap hands c to the kernel and blocks until it has been handled. It
// must be called from inside a process: the caller gives the CPU to the
// kernel and only resumes when the scheduler picks it again. An Exit
// trap never returns. Without a task in ctx the call is refused with -1.
func (k *Kernel) Trap(ctx context.Context, c *Call) *Call {
	task, ok := GetTask(ctx)
	if !ok {
		log.L.Error("trap outside of a process", "kind", c.Kind)
		c.Ret = -1
		return c
	}

	c.done = make(chan struct{})

	kind := c.Kind

	select {
	case k.trap <- c:
	case <-k.closed:
		runtime.Goexit()
	}

	if kind == CallExit {
		task.unit.Exit(k.unit)
	}

	if !task.unit.HandOff(k.unit) {
		runtime.Goexit()
	}

	<-c.done

	return c
}

// call runs c on the kernel from outside any unit. Only Boot uses it,
// before any process has been dispatched.
func (k *Kernel) call(c *Call) *Call {
	c.done = make(chan struct{})

	select {
	case k.trap <- c:
	case <-k.closed:
		c.Ret = -1
		return c
	}

	k.unit.Grant()

	select {
	case <-c.done:
	case <-k.closed:
		c.Ret = -1
	}

	return c
}
