// Package config assembles the settings of a search.
//
// Settings are layered: built-in defaults, then an optional YAML file, then
// COLLATE_* environment variables, then command-line flags. Each layer only
// overrides what it sets.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/roach88/collate/internal/chain"
	"github.com/roach88/collate/internal/device"
	"github.com/roach88/collate/internal/digest"
)

// Drivers.
const (
	// DriverFarm runs chains on the software farm.
	DriverFarm = "farm"

	// DriverSim runs chains on a simulated device behind the poller.
	DriverSim = "sim"
)

var (
	// ErrInvalidStages is returned when the stage count is not positive.
	ErrInvalidStages = errors.New("stages must be greater than 0")

	// ErrInvalidPipes is returned when the pipe count is outside 1..26.
	ErrInvalidPipes = errors.New("pipes must be between 1 and 26")

	// ErrInvalidBits is returned when the search width is outside 1..96.
	ErrInvalidBits = errors.New("bits must be between 1 and 96")

	// ErrInvalidTableBits is returned when the table key is wider than the
	// search width.
	ErrInvalidTableBits = errors.New("table bits must not exceed bits")

	// ErrInvalidDistBits is returned when the distinguished point test would
	// reach into the trigger bits.
	ErrInvalidDistBits = errors.New("dist bits must be between 1 and 30")

	// ErrUnknownDriver is returned for a driver other than farm or sim.
	ErrUnknownDriver = errors.New("unknown driver")

	// ErrNoLog is returned when no log path is configured.
	ErrNoLog = errors.New("log path is required")
)

// Config is the full set of search settings.
type Config struct {
	Log string `yaml:"log" env:"COLLATE_LOG"`
	DB  string `yaml:"db" env:"COLLATE_DB"`

	Transform string `yaml:"transform" env:"COLLATE_TRANSFORM"`
	Bits      uint   `yaml:"bits" env:"COLLATE_BITS"`
	TableBits uint   `yaml:"table_bits" env:"COLLATE_TABLE_BITS"`
	DistBits  uint   `yaml:"dist_bits" env:"COLLATE_DIST_BITS"`

	Stages int    `yaml:"stages" env:"COLLATE_STAGES"`
	Pipes  int    `yaml:"pipes" env:"COLLATE_PIPES"`
	Freq   uint64 `yaml:"freq" env:"COLLATE_FREQ"`

	Driver      string `yaml:"driver" env:"COLLATE_DRIVER"`
	Workers     int    `yaml:"workers" env:"COLLATE_WORKERS"`
	FarmWorkers int    `yaml:"farm_workers" env:"COLLATE_FARM_WORKERS"`
	Seed        uint64 `yaml:"seed" env:"COLLATE_SEED"`
	MaxHits     int    `yaml:"max_hits" env:"COLLATE_MAX_HITS"`

	OTLPEndpoint string `yaml:"otlp_endpoint" env:"COLLATE_OTLP_ENDPOINT"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		Transform: "md5",
		Bits:      64,
		DistBits:  20,
		Stages:    device.DefaultStages,
		Pipes:     2,
		Freq:      device.DefaultFreq,
		Driver:    DriverFarm,
	}
}

// Load builds a Config from defaults, the YAML file at path (if path is not
// empty) and the environment.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		f, err := os.Open(path)
		if err != nil {
			return Config{}, fmt.Errorf("open config: %w", err)
		}
		defer f.Close()
		if err := cfg.decodeYAML(f); err != nil {
			return Config{}, fmt.Errorf("config %s: %w", path, err)
		}
	}
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	return cfg, nil
}

func (c *Config) decodeYAML(r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decode yaml: %w", err)
	}
	return nil
}

// Validate checks that the settings describe a runnable search.
func (c Config) Validate() error {
	if c.Log == "" {
		return ErrNoLog
	}
	return c.ValidateSearch()
}

// ValidateSearch checks everything Validate does except the log path.
func (c Config) ValidateSearch() error {
	if c.Stages <= 0 {
		return fmt.Errorf("%w: got %d", ErrInvalidStages, c.Stages)
	}
	if c.Pipes <= 0 || c.Pipes > 26 {
		return fmt.Errorf("%w: got %d", ErrInvalidPipes, c.Pipes)
	}
	if c.Bits == 0 || c.Bits > digest.Width {
		return fmt.Errorf("%w: got %d", ErrInvalidBits, c.Bits)
	}
	if c.TableBits > c.Bits {
		return fmt.Errorf("%w: table bits (%d), bits (%d)", ErrInvalidTableBits, c.TableBits, c.Bits)
	}
	if c.DistBits == 0 || c.DistBits > digest.WordBits-digest.TriggerBits {
		return fmt.Errorf("%w: got %d", ErrInvalidDistBits, c.DistBits)
	}
	if _, err := chain.ByName(c.Transform, c.Bits); err != nil {
		return fmt.Errorf("transform: %w", err)
	}
	if c.Driver != DriverFarm && c.Driver != DriverSim {
		return fmt.Errorf("%w: %q", ErrUnknownDriver, c.Driver)
	}
	return nil
}
