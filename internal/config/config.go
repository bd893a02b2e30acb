// Package config provides YAML configuration loading, defaulting, and
// validation for passover.Options.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/tripwire/passover/internal/perr"
)

// Options configures a passover session: the ring directory, fmap window
// size, per-file cap, prefix naming, and hot-path defaulting knobs
// (spec.md §6).
type Options struct {
	// MaxFiles is the rotdir ring cap per prefix. Defaults to 100.
	MaxFiles int `yaml:"max_files"`

	// MapSize is the fmap half-window size in bytes. Defaults to 2 MiB.
	MapSize int `yaml:"map_size"`

	// FileSize is the rotrec per-file cap in bytes. Defaults to 100 MiB.
	FileSize int `yaml:"file_size"`

	// Template formats a traced thread's prefix from its thread-local
	// monotone id (e.g. "thread-%d"). Defaults to "thread-%d".
	Template string `yaml:"template"`

	// TraceThreads controls whether child threads spawned from a traced
	// thread are auto-traced with the parent's configuration. Defaults
	// to true.
	TraceThreads bool `yaml:"trace_threads"`

	// RemoveExistingDir controls whether opening a session deletes a
	// pre-existing non-empty ring directory. Defaults to true.
	RemoveExistingDir bool `yaml:"remove_existing_dir"`

	// IndexInterval is T_index, the wall-clock cadence bound for a
	// time-index append. Defaults to 1ms.
	IndexInterval time.Duration `yaml:"index_interval"`

	// IndexBytes is S_index, the logical-offset-delta cadence bound for a
	// time-index append. Defaults to 1 MiB.
	IndexBytes uint64 `yaml:"index_bytes"`

	// MaxArgs bounds how many call arguments a tracer renders and
	// records per PyFuncCall. Defaults to 32.
	MaxArgs int `yaml:"max_args"`
}

// Defaults returns spec.md §6's documented defaults. TraceThreads and
// RemoveExistingDir default to true.
func Defaults() Options {
	return Options{
		MaxFiles:          100,
		MapSize:           2 << 20,
		FileSize:          100 << 20,
		Template:          "thread-%d",
		TraceThreads:      true,
		RemoveExistingDir: true,
		IndexInterval:     time.Millisecond,
		IndexBytes:        1 << 20,
		MaxArgs:           32,
	}
}

// applyDefaults fills in zero-value fields left unset by an Options{}
// built directly in code (as opposed to one unmarshalled from YAML onto
// an already-defaulted struct, which Load does instead).
func applyDefaults(o *Options) {
	d := Defaults()
	if o.MaxFiles == 0 {
		o.MaxFiles = d.MaxFiles
	}
	if o.MapSize == 0 {
		o.MapSize = d.MapSize
	}
	if o.FileSize == 0 {
		o.FileSize = d.FileSize
	}
	if o.Template == "" {
		o.Template = d.Template
	}
	if o.IndexInterval == 0 {
		o.IndexInterval = d.IndexInterval
	}
	if o.IndexBytes == 0 {
		o.IndexBytes = d.IndexBytes
	}
	if o.MaxArgs == 0 {
		o.MaxArgs = d.MaxArgs
	}
}

// Load reads the YAML file at path, unmarshals it onto Defaults() (so a
// field omitted from the file keeps its default, including the booleans,
// which YAML's zero value can't distinguish from an explicit false), and
// validates the result.
func Load(path string) (Options, error) {
	opts := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return Options{}, fmt.Errorf("config: cannot read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return Options{}, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	if err := opts.Validate(); err != nil {
		return Options{}, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}
	return opts, nil
}

// Validate accumulates every violation via errors.Join rather than
// stopping at the first. A non-nil error wraps perr.ErrConfig.
func (o Options) Validate() error {
	var errs []error

	if o.MaxFiles <= 0 {
		errs = append(errs, errors.New("max_files must be positive"))
	}
	if o.MapSize <= 0 {
		errs = append(errs, errors.New("map_size must be positive"))
	}
	if o.FileSize <= o.MapSize {
		errs = append(errs, fmt.Errorf("file_size (%d) must exceed map_size (%d)", o.FileSize, o.MapSize))
	}
	if o.Template == "" {
		errs = append(errs, errors.New("template must not be empty"))
	}
	if o.IndexInterval <= 0 {
		errs = append(errs, errors.New("index_interval must be positive"))
	}
	if o.IndexBytes == 0 {
		errs = append(errs, errors.New("index_bytes must be positive"))
	}
	if o.MaxArgs <= 0 {
		errs = append(errs, errors.New("max_args must be positive"))
	}

	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %w", perr.ErrConfig, errors.Join(errs...))
}
