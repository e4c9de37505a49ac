package tiledflow

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
)

// Config is the JSON form of everything that affects tiling, blending and padding.
// Fields omitted from a JSON file keep their default (or preset) values.
type Config struct {
	// Preset names an entry of Presets to start from, before the other fields are applied
	Preset string `json:"preset,omitempty"`

	PatchHeight int     `json:"patch_height"`
	PatchWidth  int     `json:"patch_width"`
	MinOverlap  int     `json:"min_overlap"`
	Sigma       float64 `json:"sigma"`
	Strategy    string  `json:"strategy"` // "step" or "even"
	Padding     string  `json:"padding"`  // See ParsePadder
	Workers     int     `json:"workers"`
}

// DefaultConfig returns the configuration used when no file or preset is given
func DefaultConfig() Config {
	return Config{
		PatchHeight: 432,
		PatchWidth:  960,
		MinOverlap:  20,
		Sigma:       0.05,
		Strategy:    StrategyStep.String(),
		Padding:     PolicyNone.String(),
		Workers:     1,
	}
}

// Presets holds the settings of the benchmarks the estimator is usually run on
var Presets = map[string]Config{
	"sintel": DefaultConfig(),
	"kitti": func() Config {
		c := DefaultConfig()
		c.Padding = "kitti432"
		return c
	}(),
	"kitti-validation": func() Config {
		c := DefaultConfig()
		c.PatchHeight = 288
		return c
	}(),
	"things": func() Config {
		c := DefaultConfig()
		c.Padding = "sintel"
		return c
	}(),
}

// PresetNames returns the keys of Presets in sorted order
func PresetNames() []string {
	names := make([]string, 0, len(Presets))
	for name := range Presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// PresetConfig returns a copy of the named preset
func PresetConfig(name string) (Config, error) {
	c, ok := Presets[name]
	if !ok {
		return Config{}, fmt.Errorf("%w: unknown preset %q (have %v)", ErrInvalidConfig, name, PresetNames())
	}
	c.Preset = name
	return c, nil
}

// LoadConfig loads a Config from a JSON file.
// The file must have a .json extension and be at most 1MB.
func LoadConfig(path string) (*Config, error) {
	return LoadConfigOver(DefaultConfig(), path)
}

// LoadConfigOver is LoadConfig with the file applied over base instead of the defaults
func LoadConfigOver(base Config, path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}
	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return ParseConfigOver(base, data)
}

// ParseConfig decodes JSON over the defaults, or over the preset the JSON names
func ParseConfig(data []byte) (*Config, error) {
	return ParseConfigOver(DefaultConfig(), data)
}

// ParseConfigOver decodes JSON over base. A preset named in the JSON replaces
// base, unless base was itself made from a different preset.
func ParseConfigOver(base Config, data []byte) (*Config, error) {
	var head struct {
		Preset string `json:"preset"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	cfg := base
	if head.Preset != "" && head.Preset != base.Preset {
		if base.Preset != "" {
			return nil, fmt.Errorf("%w: config names preset %q but %q was requested", ErrInvalidConfig, head.Preset, base.Preset)
		}
		var err error
		if cfg, err = PresetConfig(head.Preset); err != nil {
			return nil, err
		}
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// StitcherOptions converts the config into options for NewStitcher
func (c Config) StitcherOptions() (StitcherOptions, error) {
	strategy, err := ParseStrategy(c.Strategy)
	if err != nil {
		return StitcherOptions{}, err
	}
	opts := StitcherOptions{
		Patch:      Size{H: c.PatchHeight, W: c.PatchWidth},
		MinOverlap: c.MinOverlap,
		Sigma:      c.Sigma,
		Strategy:   strategy,
		Workers:    c.Workers,
	}
	return opts, opts.Validate()
}

// Padder returns the padder named by c.Padding
func (c Config) Padder() (Padder, error) {
	return ParsePadder(c.Padding)
}

// Validate checks every field that can be checked without an image
func (c Config) Validate() error {
	if _, err := c.StitcherOptions(); err != nil {
		return err
	}
	p, err := c.Padder()
	if err != nil {
		return err
	}
	if p.Policy == PolicyBottom && p.TargetHeight <= 0 {
		return fmt.Errorf("%w: padding target height %d must be positive", ErrInvalidConfig, p.TargetHeight)
	}
	return nil
}

// NewPipelineFromConfig builds a Pipeline around est
func NewPipelineFromConfig(c Config, est Estimator) (*Pipeline, error) {
	opts, err := c.StitcherOptions()
	if err != nil {
		return nil, err
	}
	padder, err := c.Padder()
	if err != nil {
		return nil, err
	}
	st, err := NewStitcher(est, opts)
	if err != nil {
		return nil, err
	}
	return NewPipeline(st, padder), nil
}
