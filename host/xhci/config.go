package xhci

import (
	"errors"
	"fmt"
	"os"
	"time"

	"dario.cat/mergo"
	"go.yaml.in/yaml/v3"

	"github.com/ardnew/softxhci/host/xhci/ring"
	"github.com/ardnew/softxhci/pkg"
)

// Limits enforced by [Config.Validate].
const (
	MinEventSegmentSlots = 16
	MaxEventSegments     = 256
	MaxInterrupters      = 1024
	MaxDeviceSlots       = 255
)

// Config holds the controller parameters. Zero fields take the value from
// [DefaultConfig] when loaded through [ParseConfig] or [LoadConfig].
type Config struct {
	// CommandRingSlots is the command ring length including the Link slot.
	CommandRingSlots int `yaml:"command_ring_slots"`
	// TransferRingSlots is the length of each endpoint transfer ring.
	TransferRingSlots int `yaml:"transfer_ring_slots"`
	// EventSegments is the number of event ring segments.
	EventSegments int `yaml:"event_segments"`
	// EventSegmentSlots is the length of each event ring segment.
	EventSegmentSlots int `yaml:"event_segment_slots"`
	// Interrupter selects the interrupter whose event ring is serviced.
	Interrupter int `yaml:"interrupter"`
	// PortChangeBuffer is the capacity of the port change channel. Changes
	// that do not fit are dropped.
	PortChangeBuffer int `yaml:"port_change_buffer"`
	// PollInterval drains the event ring periodically in addition to
	// interrupts. Zero disables polling.
	PollInterval time.Duration `yaml:"poll_interval"`
}

// DefaultConfig returns the default parameters.
func DefaultConfig() Config {
	return Config{
		CommandRingSlots:  64,
		TransferRingSlots: 64,
		EventSegments:     1,
		EventSegmentSlots: 256,
		PortChangeBuffer:  16,
	}
}

// ParseConfig decodes YAML and fills unset fields with defaults.
func ParseConfig(b []byte) (Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}
	if err := mergo.Merge(&cfg, DefaultConfig()); err != nil {
		return Config{}, fmt.Errorf("merge config defaults: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadConfig reads and parses the YAML file at path.
func LoadConfig(path string) (Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("load config: %w", err)
	}
	return ParseConfig(b)
}

// Validate reports every parameter outside its hardware limits.
func (c Config) Validate() error {
	var errs []error
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errs = append(errs, fmt.Errorf("%w: "+format, append([]any{pkg.ErrInvalidParameter}, args...)...))
		}
	}

	check(c.CommandRingSlots >= ring.MinSlots && c.CommandRingSlots <= ring.MaxSegmentBlocks,
		"command_ring_slots %d outside [%d,%d]", c.CommandRingSlots, ring.MinSlots, ring.MaxSegmentBlocks)
	check(c.TransferRingSlots >= ring.MinSlots && c.TransferRingSlots <= ring.MaxSegmentBlocks,
		"transfer_ring_slots %d outside [%d,%d]", c.TransferRingSlots, ring.MinSlots, ring.MaxSegmentBlocks)
	check(c.EventSegments >= 1 && c.EventSegments <= MaxEventSegments,
		"event_segments %d outside [1,%d]", c.EventSegments, MaxEventSegments)
	check(c.EventSegmentSlots >= MinEventSegmentSlots && c.EventSegmentSlots <= ring.MaxSegmentBlocks,
		"event_segment_slots %d outside [%d,%d]", c.EventSegmentSlots, MinEventSegmentSlots, ring.MaxSegmentBlocks)
	check(c.Interrupter >= 0 && c.Interrupter < MaxInterrupters,
		"interrupter %d outside [0,%d)", c.Interrupter, MaxInterrupters)
	check(c.PortChangeBuffer >= 0, "port_change_buffer %d is negative", c.PortChangeBuffer)
	check(c.PollInterval >= 0, "poll_interval %v is negative", c.PollInterval)

	return errors.Join(errs...)
}
