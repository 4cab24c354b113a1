package kernel

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"
)

func sysCreateProcess(ctx context.Context, l hclog.Logger, k *Kernel, c *Call) {
	if c.Program == nil {
		l.Error("create-process without program", "pid", k.sched.GetPid())
		c.Ret = -1
		return
	}

	prio := c.Priority
	if prio < Realtime || prio > Background {
		prio = Interactive
	}

	pcb := k.spawn(ctx, c.Program, prio)

	c.Ret = k.sched.CreateProcess(pcb)
}

func sysSwitchProcess(ctx context.Context, l hclog.Logger, k *Kernel, c *Call) {
	k.sched.SwitchProcess()
	c.Ret = 0
}

func sysSleep(ctx context.Context, l hclog.Logger, k *Kernel, c *Call) {
	k.sched.Sleep(c.N)
	c.Ret = 0
}

func sysGetPid(ctx context.Context, l hclog.Logger, k *Kernel, c *Call) {
	c.Ret = k.sched.GetPid()
}

func sysGetPidByName(ctx context.Context, l hclog.Logger, k *Kernel, c *Call) {
	pid, ok := k.procs.LookupName(c.Spec)
	if !ok {
		c.Ret = -1
		return
	}

	c.Ret = pid
}

func sysExit(ctx context.Context, l hclog.Logger, k *Kernel, c *Call) {
	k.sched.ExitCurrent()
	c.Ret = 0
}

func init() {
	calls[CallCreateProcess] = sysCreateProcess
	calls[CallSwitchProcess] = sysSwitchProcess
	calls[CallSleep] = sysSleep
	calls[CallGetPid] = sysGetPid
	calls[CallGetPidByName] = sysGetPidByName
	calls[CallExit] = sysExit
}
