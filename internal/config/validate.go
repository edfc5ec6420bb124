package config

import (
	"errors"
	"fmt"

	"cardscan/internal/store"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateStore(); err != nil {
		return err
	}
	if err := c.validateExtractor(); err != nil {
		return err
	}
	if err := c.validateFilter(); err != nil {
		return err
	}
	if err := c.VerifierParams().Validate(); err != nil {
		return fmt.Errorf("verifier: %w", err)
	}
	if c.Pipeline.BudgetMS < 0 {
		return errors.New("pipeline.budget_ms must not be negative")
	}
	if err := c.validateScheduler(); err != nil {
		return err
	}
	if c.Watcher.Enabled && c.Watcher.PollSeconds <= 0 {
		return errors.New("watcher.poll_seconds must be positive when the watcher is enabled")
	}
	if c.Ingest.Concurrency <= 0 {
		return errors.New("ingest.concurrency must be positive")
	}
	return c.validateLogging()
}

func (c *Config) validateStore() error {
	switch c.Store.Driver {
	case store.DriverModernc, store.DriverMattn:
		return nil
	default:
		return fmt.Errorf("store.driver must be %q or %q, got %q", store.DriverModernc, store.DriverMattn, c.Store.Driver)
	}
}

func (c *Config) validateExtractor() error {
	e := c.Extractor
	if e.MaxFeatures <= 0 {
		return errors.New("extractor.max_features must be positive")
	}
	if e.MinKeypoints < 4 {
		return errors.New("extractor.min_keypoints must be at least 4")
	}
	if e.Octaves <= 0 {
		return errors.New("extractor.octaves must be positive")
	}
	if e.ScaleFactor <= 1 {
		return errors.New("extractor.scale_factor must be greater than 1")
	}
	if e.WorkingSize < 0 {
		return errors.New("extractor.working_size must not be negative")
	}
	if e.BlurKernel < 0 || (e.BlurKernel > 0 && e.BlurKernel%2 == 0) {
		return errors.New("extractor.blur_kernel must be zero or odd")
	}
	if e.HashGrid < 2 {
		return errors.New("extractor.hash_grid must be at least 2")
	}
	return nil
}

func (c *Config) validateFilter() error {
	if c.Filter.TopK <= 0 {
		return errors.New("filter.top_k must be positive")
	}
	if c.Filter.MaxHashDistance < 0 {
		return errors.New("filter.max_hash_distance must not be negative")
	}
	if bits := c.Extractor.HashGrid * c.Extractor.HashGrid; c.Filter.MaxHashDistance > bits {
		return fmt.Errorf("filter.max_hash_distance must not exceed the hash size (%d bits)", bits)
	}
	return nil
}

func (c *Config) validateScheduler() error {
	if c.Scheduler.Workers < 0 {
		return errors.New("scheduler.workers must not be negative")
	}
	if c.Scheduler.QueueSize < 0 {
		return errors.New("scheduler.queue_size must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "console", "json":
	default:
		return fmt.Errorf("logging.format must be console or json, got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn or error, got %q", c.Logging.Level)
	}
	return nil
}
