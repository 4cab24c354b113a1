package userland

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/evanphx/minikern/config"
	"github.com/evanphx/minikern/kernel"
)

func start(t *testing.T, quantum time.Duration) (*kernel.Kernel, *config.Config) {
	cfg := config.Default()
	cfg.Quantum = quantum
	cfg.Seed = 3
	cfg.Root = t.TempDir()

	k, err := kernel.NewKernel(cfg)
	require.NoError(t, err)

	k.Start(context.Background())
	t.Cleanup(k.Shutdown)

	return k, cfg
}

func wait(t *testing.T, k *kernel.Kernel, pid int) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, k.Wait(ctx, pid))
}

func TestFileDemo(t *testing.T) {
	k, cfg := start(t, 0)

	pid, err := k.Boot(context.Background(), &FileDemo{Path: "demo.dat"}, kernel.Interactive)
	require.NoError(t, err)

	wait(t, k, pid)

	data, err := os.ReadFile(filepath.Join(cfg.Root, "demo.dat"))
	require.NoError(t, err)
	require.Equal(t, "pid 1 was here\n", string(data))
	require.Equal(t, 0, k.VFS().OpenCount())
}

func TestFileDemoOverwritesFromStart(t *testing.T) {
	k, cfg := start(t, 0)

	path := filepath.Join(cfg.Root, "demo.dat")
	require.NoError(t, os.WriteFile(path, []byte("0123456789abcdefghij-tail"), 0644))

	pid, err := k.Boot(context.Background(), &FileDemo{Path: "demo.dat"}, kernel.Interactive)
	require.NoError(t, err)

	wait(t, k, pid)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "pid 1 was here\nfghij-tail", string(data))
}

func TestRandomDemoLeavesNothingOpen(t *testing.T) {
	k, _ := start(t, 0)

	pid, err := k.Boot(context.Background(), &RandomDemo{Seed: "42"}, kernel.Background)
	require.NoError(t, err)

	wait(t, k, pid)

	require.Equal(t, 0, k.VFS().OpenCount())
}

func TestInitRunsTheSampleSet(t *testing.T) {
	k, _ := start(t, 10*time.Millisecond)

	pid, err := k.Boot(context.Background(), &Init{IdleTick: time.Millisecond}, kernel.Interactive)
	require.NoError(t, err)

	wait(t, k, pid)

	time.Sleep(200 * time.Millisecond)
	k.Shutdown()

	require.Equal(t, int64(0), k.Violations())

	for _, name := range []string{"Idle", "Greeter", "Ticker"} {
		live := false
		k.Processes().Each(func(p *kernel.PCB) {
			if p.Name == name {
				live = true
			}
		})

		require.True(t, live, name)
	}
}
