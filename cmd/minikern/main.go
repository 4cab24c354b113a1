package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/davecgh/go-spew/spew"
	"github.com/spf13/pflag"

	"github.com/evanphx/minikern/config"
	"github.com/evanphx/minikern/kernel"
	clog "github.com/evanphx/minikern/log"
	"github.com/evanphx/minikern/tracing"
	"github.com/evanphx/minikern/userland"
)

var (
	fConfig    = pflag.StringP("config", "c", "", "config file (path or afs URL)")
	fQuantum   = pflag.DurationP("quantum", "q", 0, "preemption quantum, overrides config")
	fSeed      = pflag.Int64("seed", 0, "scheduler seed, overrides config")
	fDuration  = pflag.DurationP("duration", "d", 3*time.Second, "how long to run before shutting down")
	fData      = pflag.String("data", "minikern.dat", "file used by the file demo")
	fTrace     = pflag.Bool("trace", false, "enable trace logging")
	fTraceFile = pflag.String("trace-file", "", "write syscall spans to this file")
	fDump      = pflag.Bool("dump", false, "dump the scheduler state on exit")
)

func main() {
	pflag.Parse()

	ctx := context.Background()

	cfg := config.Default()
	if *fConfig != "" {
		var err error
		cfg, err = config.Load(ctx, *fConfig)
		if err != nil {
			log.Fatal(err)
		}
	}

	if pflag.CommandLine.Changed("quantum") {
		cfg.Quantum = *fQuantum
	}

	if pflag.CommandLine.Changed("seed") {
		cfg.Seed = *fSeed
	}

	if *fTrace {
		cfg.Trace = true
	}

	if *fTraceFile != "" {
		cfg.TraceFile = *fTraceFile
	}

	if cfg.Trace {
		clog.EnableTrace()
	}

	if cfg.TraceFile != "" {
		if err := tracing.Init("minikern", "0.1.0", cfg.TraceFile); err != nil {
			log.Fatal(err)
		}
		defer tracing.Shutdown(ctx)
	}

	k, err := kernel.NewKernel(cfg)
	if err != nil {
		log.Fatal(err)
	}

	k.Start(ctx)

	pid, err := k.Boot(ctx, &userland.Init{IdleTick: cfg.IdleTick, DataFile: *fData}, kernel.Interactive)
	if err != nil {
		log.Fatal(err)
	}

	clog.L.Info("booted", "init", pid, "kernel", k.ID)

	runCtx, cancel := context.WithTimeout(ctx, *fDuration)
	defer cancel()

	if err := k.WaitIdle(runCtx); err != nil && err != context.DeadlineExceeded {
		log.Fatal(err)
	}

	k.Shutdown()

	if k.Violations() > 0 {
		fmt.Fprintf(os.Stderr, "gate violations: %d\n", k.Violations())
	}

	if *fDump {
		spew.Fdump(os.Stderr, k.Snapshot())
	}
}
