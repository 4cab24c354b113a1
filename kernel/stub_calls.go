package kernel

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"
)

// Messaging and memory management are not modelled. The calls exist so
// userland built against them completes instead of hanging.
func sysNotImplemented(ctx context.Context, l hclog.Logger, k *Kernel, c *Call) {
	l.Trace("syscall-stub", "kind", c.Kind, "pid", k.sched.GetPid())
	c.Ret = -1
	c.Out = nil
}

func init() {
	calls[CallSendMessage] = sysNotImplemented
	calls[CallWaitForMessage] = sysNotImplemented
	calls[CallGetMapping] = sysNotImplemented
	calls[CallAllocateMemory] = sysNotImplemented
	calls[CallFreeMemory] = sysNotImplemented
}
