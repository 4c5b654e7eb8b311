// Package config loads pipeline configuration from YAML or TOML files
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jzx17/pagepipeline/pkg/types"
	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ErrConfigNotFound is returned when the configuration file does not exist.
var ErrConfigNotFound = errors.New("configuration file not found")

// Format is a configuration file format
type Format string

const (
	FormatYAML Format = "yaml"
	FormatTOML Format = "toml"
)

// File mirrors the on-disk configuration. Absent keys are nil and keep their defaults.
type File struct {
	QueueMaxSize        *int     `yaml:"queue_max_size,omitempty" toml:"queue_max_size,omitempty"`
	BatchTimeoutSeconds *float64 `yaml:"batch_timeout_seconds,omitempty" toml:"batch_timeout_seconds,omitempty"`
	PreprocessBatchSize *int     `yaml:"preprocess_batch_size,omitempty" toml:"preprocess_batch_size,omitempty"`
	OCRBatchSize        *int     `yaml:"ocr_batch_size,omitempty" toml:"ocr_batch_size,omitempty"`
	LayoutBatchSize     *int     `yaml:"layout_batch_size,omitempty" toml:"layout_batch_size,omitempty"`
	TableBatchSize      *int     `yaml:"table_batch_size,omitempty" toml:"table_batch_size,omitempty"`
	AssembleBatchSize   *int     `yaml:"assemble_batch_size,omitempty" toml:"assemble_batch_size,omitempty"`
	DrainBatchSize      *int     `yaml:"drain_batch_size,omitempty" toml:"drain_batch_size,omitempty"`
	DrainTimeoutSeconds *float64 `yaml:"drain_timeout_seconds,omitempty" toml:"drain_timeout_seconds,omitempty"`
	FeedTimeoutSeconds  *float64 `yaml:"feed_timeout_seconds,omitempty" toml:"feed_timeout_seconds,omitempty"`
	StopTimeoutSeconds  *float64 `yaml:"stop_timeout_seconds,omitempty" toml:"stop_timeout_seconds,omitempty"`
}

// FormatFromPath picks the format from the file extension
func FormatFromPath(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML, nil
	case ".toml":
		return FormatTOML, nil
	default:
		return "", fmt.Errorf("unsupported config extension %q (want .yaml, .yml or .toml)", filepath.Ext(path))
	}
}

// Load reads path and returns the default configuration overlaid with the
// file's values. If the file does not exist, it returns ErrConfigNotFound.
func Load(path string) (*types.Config, error) {
	format, err := FormatFromPath(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) //nolint:gosec // user-provided config path is intentional
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrConfigNotFound
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	return Parse(data, format)
}

// Parse decodes data in the given format and applies it to the defaults
func Parse(data []byte, format Format) (*types.Config, error) {
	var f File
	if err := Decode(bytes.NewReader(data), format, &f); err != nil {
		return nil, err
	}

	cfg := types.DefaultConfig()
	f.Apply(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Decode reads a File, rejecting unknown keys
func Decode(r io.Reader, format Format, f *File) error {
	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(r)
		dec.KnownFields(true)
		if err := dec.Decode(f); err != nil && !errors.Is(err, io.EOF) {
			return fmt.Errorf("parse config: %w", err)
		}
	case FormatTOML:
		dec := toml.NewDecoder(r)
		dec.DisallowUnknownFields()
		if err := dec.Decode(f); err != nil {
			return fmt.Errorf("parse config: %w", err)
		}
	default:
		return fmt.Errorf("unsupported config format %q", format)
	}
	return nil
}

// Encode writes cfg in the given format
func Encode(w io.Writer, cfg *types.Config, format Format) error {
	f := FromConfig(cfg)
	switch format {
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(f); err != nil {
			return err
		}
		return enc.Close()
	case FormatTOML:
		return toml.NewEncoder(w).Encode(f)
	default:
		return fmt.Errorf("unsupported config format %q", format)
	}
}

// Apply overlays the values present in f onto cfg
func (f *File) Apply(cfg *types.Config) {
	setInt(&cfg.QueueCapacity, f.QueueMaxSize)
	setSeconds(&cfg.BatchTimeout, f.BatchTimeoutSeconds)
	setInt(&cfg.PreprocessBatchSize, f.PreprocessBatchSize)
	setInt(&cfg.OCRBatchSize, f.OCRBatchSize)
	setInt(&cfg.LayoutBatchSize, f.LayoutBatchSize)
	setInt(&cfg.TableBatchSize, f.TableBatchSize)
	setInt(&cfg.AssembleBatchSize, f.AssembleBatchSize)
	setInt(&cfg.DrainBatchSize, f.DrainBatchSize)
	setSeconds(&cfg.DrainTimeout, f.DrainTimeoutSeconds)
	setSeconds(&cfg.FeedTimeout, f.FeedTimeoutSeconds)
	setSeconds(&cfg.StopTimeout, f.StopTimeoutSeconds)
}

// FromConfig converts cfg to its file representation with every key set
func FromConfig(cfg *types.Config) *File {
	return &File{
		QueueMaxSize:        ptr(cfg.QueueCapacity),
		BatchTimeoutSeconds: ptr(cfg.BatchTimeout.Seconds()),
		PreprocessBatchSize: ptr(cfg.PreprocessBatchSize),
		OCRBatchSize:        ptr(cfg.OCRBatchSize),
		LayoutBatchSize:     ptr(cfg.LayoutBatchSize),
		TableBatchSize:      ptr(cfg.TableBatchSize),
		AssembleBatchSize:   ptr(cfg.AssembleBatchSize),
		DrainBatchSize:      ptr(cfg.DrainBatchSize),
		DrainTimeoutSeconds: ptr(cfg.DrainTimeout.Seconds()),
		FeedTimeoutSeconds:  ptr(cfg.FeedTimeout.Seconds()),
		StopTimeoutSeconds:  ptr(cfg.StopTimeout.Seconds()),
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setSeconds(dst *time.Duration, v *float64) {
	if v != nil {
		*dst = time.Duration(math.Round(*v * float64(time.Second)))
	}
}

func ptr[T any](v T) *T {
	return &v
}
