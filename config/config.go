package config

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/viant/afs"
	"gopkg.in/yaml.v3"
)

// Config holds the tunables of one kernel instance. The zero value is not
// valid; start from Default.
type Config struct {
	// Quantum is how often the running process is flagged for preemption.
	// Zero disables the timer, leaving a purely cooperative system.
	Quantum time.Duration `yaml:"quantum"`

	// DemoteAfter is the timeout streak a process may exceed before it
	// drops a priority class.
	DemoteAfter int `yaml:"demoteAfter"`

	// Seed drives the selection policy. Zero seeds from the wall clock.
	Seed int64 `yaml:"seed"`

	// History is how many exited processes are remembered.
	History int `yaml:"history"`

	// IdleTick paces the sample idle process.
	IdleTick time.Duration `yaml:"idleTick"`

	// Root resolves relative paths handed to the file device.
	Root string `yaml:"root"`

	Trace     bool   `yaml:"trace"`
	TraceFile string `yaml:"traceFile"`
}

func Default() *Config {
	return &Config{
		Quantum:     250 * time.Millisecond,
		DemoteAfter: 5,
		History:     64,
		IdleTick:    20 * time.Millisecond,
	}
}

func (c *Config) Validate() error {
	if c == nil {
		return nil
	}

	if c.Quantum < 0 {
		return errors.Errorf("quantum must be >= 0, got %s", c.Quantum)
	}

	if c.DemoteAfter <= 0 {
		return errors.Errorf("demoteAfter must be > 0, got %d", c.DemoteAfter)
	}

	if c.History <= 0 {
		return errors.Errorf("history must be > 0, got %d", c.History)
	}

	if c.IdleTick <= 0 {
		return errors.Errorf("idleTick must be > 0, got %s", c.IdleTick)
	}

	return nil
}

// Parse overlays YAML data on the defaults.
func Parse(data []byte) (*Config, error) {
	cfg := Default()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, errors.Wrap(err, "decoding config")
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Load reads a config from any location afs understands: a plain path,
// file://, mem:// and so on.
func Load(ctx context.Context, URL string) (*Config, error) {
	fs := afs.New()

	data, err := fs.DownloadWithURL(ctx, URL)
	if err != nil {
		return nil, errors.Wrapf(err, "loading config %s", URL)
	}

	return Parse(data)
}
