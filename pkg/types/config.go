package types

import (
	"fmt"
	"time"
)

// Config defines Pipeline configuration
type Config struct {
	// QueueCapacity is the capacity of every queue in a run's wiring
	QueueCapacity int

	// BatchTimeout is how long a stage waits for its first item before re-checking state
	BatchTimeout time.Duration

	// Per-stage batch sizes for the standard page pipeline
	PreprocessBatchSize int
	OCRBatchSize        int
	LayoutBatchSize     int
	TableBatchSize      int
	AssembleBatchSize   int

	// DrainBatchSize is the maximum number of items pulled from the terminal queue at once
	DrainBatchSize int

	// DrainTimeout bounds how long the coordinator sleeps when neither queue signals
	DrainTimeout time.Duration

	// FeedTimeout is how long a feed attempt may wait for room in the entry queue.
	// Zero means try once.
	FeedTimeout time.Duration

	// StopTimeout bounds how long Stop waits for a stage worker to exit
	StopTimeout time.Duration

	// Clock provides time operations (for testing)
	Clock Clock
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		QueueCapacity:       100,
		BatchTimeout:        2 * time.Second,
		PreprocessBatchSize: 1,
		OCRBatchSize:        4,
		LayoutBatchSize:     4,
		TableBatchSize:      4,
		AssembleBatchSize:   1,
		DrainBatchSize:      32,
		DrainTimeout:        50 * time.Millisecond,
		FeedTimeout:         0,
		StopTimeout:         30 * time.Second,
		Clock:               NewRealClock(),
	}
}

// Validate checks the configuration
func (c *Config) Validate() error {
	if c.QueueCapacity <= 0 {
		return fmt.Errorf("%w: queue capacity must be positive, got %d", ErrInvalidConfig, c.QueueCapacity)
	}
	if c.BatchTimeout <= 0 {
		return fmt.Errorf("%w: batch timeout must be positive, got %v", ErrInvalidConfig, c.BatchTimeout)
	}
	sizes := map[string]int{
		"preprocess": c.PreprocessBatchSize,
		"ocr":        c.OCRBatchSize,
		"layout":     c.LayoutBatchSize,
		"table":      c.TableBatchSize,
		"assemble":   c.AssembleBatchSize,
		"drain":      c.DrainBatchSize,
	}
	for name, size := range sizes {
		if size <= 0 {
			return fmt.Errorf("%w: %s batch size must be positive, got %d", ErrInvalidConfig, name, size)
		}
	}
	if c.DrainTimeout <= 0 {
		return fmt.Errorf("%w: drain timeout must be positive, got %v", ErrInvalidConfig, c.DrainTimeout)
	}
	if c.FeedTimeout < 0 {
		return fmt.Errorf("%w: feed timeout must not be negative, got %v", ErrInvalidConfig, c.FeedTimeout)
	}
	if c.StopTimeout <= 0 {
		return fmt.Errorf("%w: stop timeout must be positive, got %v", ErrInvalidConfig, c.StopTimeout)
	}
	return nil
}

// WithDefaults returns a copy of c where zero values are replaced by defaults
func (c *Config) WithDefaults() *Config {
	def := DefaultConfig()
	if c == nil {
		return def
	}
	out := *c
	if out.QueueCapacity == 0 {
		out.QueueCapacity = def.QueueCapacity
	}
	if out.BatchTimeout == 0 {
		out.BatchTimeout = def.BatchTimeout
	}
	if out.PreprocessBatchSize == 0 {
		out.PreprocessBatchSize = def.PreprocessBatchSize
	}
	if out.OCRBatchSize == 0 {
		out.OCRBatchSize = def.OCRBatchSize
	}
	if out.LayoutBatchSize == 0 {
		out.LayoutBatchSize = def.LayoutBatchSize
	}
	if out.TableBatchSize == 0 {
		out.TableBatchSize = def.TableBatchSize
	}
	if out.AssembleBatchSize == 0 {
		out.AssembleBatchSize = def.AssembleBatchSize
	}
	if out.DrainBatchSize == 0 {
		out.DrainBatchSize = def.DrainBatchSize
	}
	if out.DrainTimeout == 0 {
		out.DrainTimeout = def.DrainTimeout
	}
	if out.StopTimeout == 0 {
		out.StopTimeout = def.StopTimeout
	}
	if out.Clock == nil {
		out.Clock = def.Clock
	}
	return &out
}
