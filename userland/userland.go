// Package userland holds the sample programs booted by cmd/minikern.
package userland

import (
	"context"
	"fmt"
	"time"

	"github.com/evanphx/minikern/kernel"
	"github.com/evanphx/minikern/log"
	"github.com/evanphx/minikern/syscalls"
)

// Init starts the sample processes and exits.
type Init struct {
	IdleTick time.Duration
	DataFile string
}

func (i *Init) Main(ctx context.Context) {
	syscalls.CreateProcess(ctx, &Idle{Tick: i.IdleTick}, kernel.Background)
	syscalls.CreateProcess(ctx, &Greeter{Message: "hello world"}, kernel.Interactive)
	syscalls.CreateProcess(ctx, &Greeter{Message: "goodbye world"}, kernel.Background)
	syscalls.CreateProcess(ctx, &Ticker{Every: 60}, kernel.Realtime)
	syscalls.CreateProcess(ctx, &FileDemo{Path: i.DataFile}, kernel.Interactive)
	syscalls.CreateProcess(ctx, &RandomDemo{Seed: "42"}, kernel.Background)

	syscalls.Exit(ctx)
}

// Idle keeps the scheduler turning so sleepers are woken on time.
type Idle struct {
	Tick time.Duration
}

func (i *Idle) Main(ctx context.Context) {
	tick := i.Tick
	if tick <= 0 {
		tick = 20 * time.Millisecond
	}

	for {
		time.Sleep(tick)
		syscalls.SwitchProcess(ctx)
	}
}

// Greeter logs its message forever, only ever cooperating. Left alone
// it burns whole quanta and is demoted.
type Greeter struct {
	Message string
}

func (g *Greeter) Main(ctx context.Context) {
	pid := syscalls.GetPid(ctx)

	for {
		log.L.Info(g.Message, "pid", pid)
		time.Sleep(50 * time.Millisecond)
		syscalls.Cooperate(ctx)
	}
}

// Ticker sleeps between frames, so it never loses its class.
type Ticker struct {
	Every int
}

func (t *Ticker) Main(ctx context.Context) {
	pid := syscalls.GetPid(ctx)

	for frame := 0; ; frame++ {
		log.L.Info("rendering frame", "pid", pid, "frame", frame)
		syscalls.Sleep(ctx, t.Every)
		syscalls.Cooperate(ctx)
	}
}

// FileDemo writes a line at the start of a file, reads it back and exits.
type FileDemo struct {
	Path string
}

func (f *FileDemo) Main(ctx context.Context) {
	path := f.Path
	if path == "" {
		path = "minikern.dat"
	}

	fd := syscalls.Open(ctx, "file "+path)
	if fd < 0 {
		log.L.Error("file demo could not open", "path", path)
		return
	}

	line := []byte(fmt.Sprintf("pid %d was here\n", syscalls.GetPid(ctx)))

	n := syscalls.Write(ctx, fd, line)
	syscalls.Seek(ctx, fd, 0)
	back := syscalls.Read(ctx, fd, n)

	log.L.Info("file demo", "path", path, "wrote", n, "read", string(back))

	syscalls.Close(ctx, fd)
}

// RandomDemo reads a few seeded bytes and exits with its descriptor
// still open; the kernel closes it.
type RandomDemo struct {
	Seed string
}

func (r *RandomDemo) Main(ctx context.Context) {
	fd := syscalls.Open(ctx, "random "+r.Seed)
	if fd < 0 {
		log.L.Error("random demo could not open")
		return
	}

	log.L.Info("random demo", "bytes", fmt.Sprintf("%x", syscalls.Read(ctx, fd, 8)))
}
