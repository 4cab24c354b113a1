package kernel

import (
	"context"

	hclog "github.com/hashicorp/go-hclog"
	"github.com/pkg/errors"

	"github.com/evanphx/minikern/fs"
)

// caller returns the running process, which is always the one that
// trapped.
func caller(k *Kernel) (*PCB, bool) {
	p := k.sched.Current()
	return p, p != nil
}

func sysOpen(ctx context.Context, l hclog.Logger, k *Kernel, c *Call) {
	c.Ret = -1

	p, ok := caller(k)
	if !ok {
		return
	}

	fd := p.AllocFd()
	if fd < 0 {
		l.Debug("open-no-fd", "pid", p.Pid, "spec", c.Spec)
		return
	}

	id, err := k.vfs.Open(c.Spec)
	if err != nil {
		l.Debug("open-failed", "pid", p.Pid, "spec", c.Spec, "error", err)
		return
	}

	p.SetFd(fd, id)
	c.Ret = fd
}

func sysClose(ctx context.Context, l hclog.Logger, k *Kernel, c *Call) {
	c.Ret = 0

	p, ok := caller(k)
	if !ok {
		return
	}

	id := p.VfsID(c.Fd)
	if id < 0 {
		return
	}

	p.ClearFd(c.Fd)

	if err := k.vfs.Close(id); err != nil {
		l.Debug("close-failed", "pid", p.Pid, "fd", c.Fd, "error", err)
	}
}

func sysRead(ctx context.Context, l hclog.Logger, k *Kernel, c *Call) {
	c.Out = []byte{}

	p, ok := caller(k)
	if !ok {
		return
	}

	data, err := k.vfs.Read(p.VfsID(c.Fd), c.N)
	if err != nil {
		if errors.Cause(err) != fs.ErrBadDescriptor {
			l.Error("error reading", "pid", p.Pid, "fd", c.Fd, "error", err)
		}
		return
	}

	c.Out = data
	c.Ret = len(data)
}

func sysSeek(ctx context.Context, l hclog.Logger, k *Kernel, c *Call) {
	c.Ret = 0

	p, ok := caller(k)
	if !ok {
		return
	}

	err := k.vfs.Seek(p.VfsID(c.Fd), int64(c.N))
	if err != nil && errors.Cause(err) != fs.ErrBadDescriptor {
		l.Error("error seeking", "pid", p.Pid, "fd", c.Fd, "error", err)
	}
}

func sysWrite(ctx context.Context, l hclog.Logger, k *Kernel, c *Call) {
	c.Ret = 0

	p, ok := caller(k)
	if !ok {
		return
	}

	n, err := k.vfs.Write(p.VfsID(c.Fd), c.Data)
	if err != nil {
		if errors.Cause(err) != fs.ErrBadDescriptor {
			l.Error("error writing", "pid", p.Pid, "fd", c.Fd, "error", err)
		}
		return
	}

	c.Ret = n
}

func init() {
	calls[CallOpen] = sysOpen
	calls[CallClose] = sysClose
	calls[CallRead] = sysRead
	calls[CallSeek] = sysSeek
	calls[CallWrite] = sysWrite
}
