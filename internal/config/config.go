// Package config reads the hlsbv.toml file that tunes the bit-value
// pipeline.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"hlsbv/internal/passes"
)

const FileName = "hlsbv.toml"

type Config struct {
	// Roots names the functions treated as entry points. Empty means the
	// functions marked by the frontend, then main.
	Roots    []string       `toml:"roots"`
	BitValue BitValueConfig `toml:"bitvalue"`
}

type BitValueConfig struct {
	MaxLUTSize         int  `toml:"max_lut_size"`
	MaxTransformations int  `toml:"max_transformations"`
	MaxIterations      int  `toml:"max_iterations"`
	EnableIPA          bool `toml:"enable_ipa"`
	Jobs               int  `toml:"jobs"`
}

// Default returns the configuration used when no file is found.
func Default() Config {
	o := passes.DefaultOptions()
	return Config{
		BitValue: BitValueConfig{
			MaxLUTSize:         o.MaxLUTSize,
			MaxTransformations: o.MaxTransformations,
			MaxIterations:      o.MaxIterations,
			EnableIPA:          o.EnableIPA,
		},
	}
}

// Load reads path over the defaults. Keys absent from the file keep their
// default value; unknown keys are an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	var file Config
	meta, err := toml.DecodeFile(path, &file)
	if err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return cfg, fmt.Errorf("config %s: unknown keys %s", path, strings.Join(keys, ", "))
	}
	if meta.IsDefined("roots") {
		cfg.Roots = file.Roots
	}
	bv := &cfg.BitValue
	if meta.IsDefined("bitvalue", "max_lut_size") {
		bv.MaxLUTSize = file.BitValue.MaxLUTSize
	}
	if meta.IsDefined("bitvalue", "max_transformations") {
		bv.MaxTransformations = file.BitValue.MaxTransformations
	}
	if meta.IsDefined("bitvalue", "max_iterations") {
		bv.MaxIterations = file.BitValue.MaxIterations
	}
	if meta.IsDefined("bitvalue", "enable_ipa") {
		bv.EnableIPA = file.BitValue.EnableIPA
	}
	if meta.IsDefined("bitvalue", "jobs") {
		bv.Jobs = file.BitValue.Jobs
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Find looks for FileName in dir and its parents.
func Find(dir string) (string, bool) {
	for dir != "" {
		path := filepath.Join(dir, FileName)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false
}

func (c Config) Validate() error {
	bv := c.BitValue
	switch {
	case bv.MaxLUTSize < 1 || bv.MaxLUTSize > 16:
		return fmt.Errorf("bitvalue.max_lut_size must be between 1 and 16, got %d", bv.MaxLUTSize)
	case bv.MaxIterations < 1:
		return fmt.Errorf("bitvalue.max_iterations must be positive, got %d", bv.MaxIterations)
	case bv.Jobs < 0:
		return fmt.Errorf("bitvalue.jobs must not be negative, got %d", bv.Jobs)
	}
	return nil
}

// PipelineOptions converts the bitvalue table into pipeline settings.
func (c Config) PipelineOptions() passes.Options {
	return passes.Options{
		MaxLUTSize:         c.BitValue.MaxLUTSize,
		MaxTransformations: c.BitValue.MaxTransformations,
		MaxIterations:      c.BitValue.MaxIterations,
		EnableIPA:          c.BitValue.EnableIPA,
		Jobs:               c.BitValue.Jobs,
	}
}
