package engine

import (
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config holds the engine construction parameters. Everything is set
// once at construction; there is no live reconfiguration.
type Config struct {
	// TickPeriod is the fixed period between session updates. It is
	// the tuning knob between throughput and input lag.
	TickPeriod time.Duration `yaml:"tick_period"`

	// MatchPeriod is the fixed period between matcher invocations.
	// Matchmaker mode only.
	MatchPeriod time.Duration `yaml:"match_period"`

	// ArchiveRetention is how long ended sessions keep their result
	// tokens available for late reconnects.
	ArchiveRetention time.Duration `yaml:"archive_retention"`

	// MessageWorkers is the number of goroutines draining the action
	// queue.
	MessageWorkers int `yaml:"message_workers"`

	// TickWorkers bounds how many sessions tick in parallel.
	TickWorkers int `yaml:"tick_workers"`
}

func DefaultConfig() Config {
	return Config{
		TickPeriod:       500 * time.Millisecond,
		MatchPeriod:      100 * time.Millisecond,
		ArchiveRetention: 30 * time.Minute,
		MessageWorkers:   4,
		TickWorkers:      4,
	}
}

// withDefaults fills zero fields so a partially populated config is
// usable.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.TickPeriod <= 0 {
		c.TickPeriod = def.TickPeriod
	}
	if c.MatchPeriod <= 0 {
		c.MatchPeriod = def.MatchPeriod
	}
	if c.ArchiveRetention <= 0 {
		c.ArchiveRetention = def.ArchiveRetention
	}
	if c.MessageWorkers < 1 {
		c.MessageWorkers = def.MessageWorkers
	}
	if c.TickWorkers < 1 {
		c.TickWorkers = def.TickWorkers
	}
	return c
}

// LoadConfig reads a YAML config file into out, which should carry
// yaml-tagged fields. The binaries use it for their combined
// engine/transport/token configuration.
func LoadConfig(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "failed to read config file")
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return errors.Wrap(err, "failed to parse config file")
	}
	return nil
}
