// Package democonfig loads the configuration for cmd/barrierdemo: a small
// runnable program that drives a Barrier through several phases (via New,
// SignalAndWait and CurrentPhase) so the package can be poked at from the
// command line instead of only from tests.
package democonfig

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config controls one run of the barrier demo.
type Config struct {
	// Workers is the number of participant goroutines to start with.
	Workers int `yaml:"workers" validate:"required,min=1,max=1000"`
	// Phases is the number of rounds the workers run through.
	Phases int `yaml:"phases" validate:"required,min=1,max=100000"`
	// WorkDuration is how long each worker pretends to do work before
	// arriving at the barrier.
	WorkDuration time.Duration `yaml:"work_duration" validate:"min=0"`
	// FailPhase, if >= 0, makes the post-phase action fail exactly once,
	// on that phase number, to demonstrate PostPhaseFailure propagation.
	FailPhase int64 `yaml:"fail_phase" validate:"min=-1"`
}

var validate = validator.New()

// Load reads an optional YAML config file named by BARRIERDEMO_CONFIG,
// then applies BARRIERDEMO_* environment variable overrides (themselves
// optionally sourced from a .env file in the working directory, via
// godotenv), and validates the result.
func Load() (Config, error) {
	_ = godotenv.Load()

	cfg := Config{
		Workers:      4,
		Phases:       3,
		WorkDuration: 10 * time.Millisecond,
		FailPhase:    -1,
	}

	if path := os.Getenv("BARRIERDEMO_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("democonfig: reading %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("democonfig: parsing %s: %w", path, err)
		}
	}

	if err := overrideInt(&cfg.Workers, "BARRIERDEMO_WORKERS"); err != nil {
		return Config{}, err
	}
	if err := overrideInt(&cfg.Phases, "BARRIERDEMO_PHASES"); err != nil {
		return Config{}, err
	}
	if err := overrideDuration(&cfg.WorkDuration, "BARRIERDEMO_WORK_DURATION"); err != nil {
		return Config{}, err
	}
	if err := overrideInt64(&cfg.FailPhase, "BARRIERDEMO_FAIL_PHASE"); err != nil {
		return Config{}, err
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("democonfig: invalid configuration: %w", err)
	}

	return cfg, nil
}

func overrideInt(dst *int, env string) error {
	v, ok := os.LookupEnv(env)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("democonfig: parsing %s: %w", env, err)
	}
	*dst = n
	return nil
}

func overrideInt64(dst *int64, env string) error {
	v, ok := os.LookupEnv(env)
	if !ok || v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fmt.Errorf("democonfig: parsing %s: %w", env, err)
	}
	*dst = n
	return nil
}

func overrideDuration(dst *time.Duration, env string) error {
	v, ok := os.LookupEnv(env)
	if !ok || v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("democonfig: parsing %s: %w", env, err)
	}
	*dst = d
	return nil
}
