// Package config loads resembl's YAML configuration file.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v2"
)

// Format selects the CLI's default output rendering.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
)

// Config holds the six recognized keys. Every field has a
// spec-mandated default, applied by Load when the key is absent from the
// file.
type Config struct {
	LSHThreshold    float64 `yaml:"lsh_threshold"`
	NumPermutations uint32  `yaml:"num_permutations"`
	TopN            uint32  `yaml:"top_n"`
	NgramSize       uint32  `yaml:"ngram_size"`
	JaccardWeight   float64 `yaml:"jaccard_weight"`
	Format          Format  `yaml:"format"`
}

// Default returns the baseline defaults: 0.5, 128, 5, 3, 0.4, table.
func Default() Config {
	return Config{
		LSHThreshold:    0.5,
		NumPermutations: 128,
		TopN:            5,
		NgramSize:       3,
		JaccardWeight:   0.4,
		Format:          FormatTable,
	}
}

// recognizedKeys lists every YAML key Load accepts. Anything else is
// rejected outright rather than silently ignored.
var recognizedKeys = map[string]bool{
	"lsh_threshold":    true,
	"num_permutations": true,
	"top_n":            true,
	"ngram_size":       true,
	"jaccard_weight":   true,
	"format":           true,
}

// Dir resolves the config directory: CONFIG_DIR if set, else
// ~/.config/resembl.
func Dir() (string, error) {
	if dir := os.Getenv("CONFIG_DIR"); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resembl: resolving home directory: %w", err)
	}
	return filepath.Join(home, ".config", "resembl"), nil
}

// Path returns the full path to config.yaml inside Dir().
func Path() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.yaml"), nil
}

// Load reads the config file at path, applying defaults for any key left
// unset. A missing file is not an error; Load returns Default(). An
// unrecognized key is.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return Config{}, fmt.Errorf("resembl: reading config %s: %w", path, err)
	}

	if err := rejectUnrecognizedKeys(data); err != nil {
		return Config{}, err
	}

	overrides := Default()
	if err := yaml.Unmarshal(data, &overrides); err != nil {
		return Config{}, fmt.Errorf("resembl: parsing config %s: %w", path, err)
	}
	return overrides, nil
}

func rejectUnrecognizedKeys(data []byte) error {
	var raw map[string]interface{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("resembl: parsing config: %w", err)
	}
	for key := range raw {
		if !recognizedKeys[key] {
			return fmt.Errorf("resembl: unrecognized config key %q", key)
		}
	}
	return nil
}

// Save writes cfg to path as YAML, creating its parent directory if
// needed.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("resembl: creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("resembl: marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("resembl: writing config %s: %w", path, err)
	}
	return nil
}

// Get returns the string representation of a single recognized key's
// current value, for the CLI's `config get` subcommand.
func (c Config) Get(key string) (string, error) {
	switch key {
	case "lsh_threshold":
		return fmt.Sprintf("%v", c.LSHThreshold), nil
	case "num_permutations":
		return fmt.Sprintf("%v", c.NumPermutations), nil
	case "top_n":
		return fmt.Sprintf("%v", c.TopN), nil
	case "ngram_size":
		return fmt.Sprintf("%v", c.NgramSize), nil
	case "jaccard_weight":
		return fmt.Sprintf("%v", c.JaccardWeight), nil
	case "format":
		return string(c.Format), nil
	default:
		return "", fmt.Errorf("resembl: unrecognized config key %q", key)
	}
}

// Set parses value and assigns it to the given recognized key, returning
// a plain error for an unknown key or a malformed value.
func (c *Config) Set(key, value string) error {
	switch key {
	case "lsh_threshold":
		v, err := parseFloatInRange(value, 0, 1)
		if err != nil {
			return err
		}
		c.LSHThreshold = v
	case "num_permutations":
		v, err := parseUint32(value)
		if err != nil {
			return err
		}
		c.NumPermutations = v
	case "top_n":
		v, err := parseUint32(value)
		if err != nil || v < 1 {
			return fmt.Errorf("resembl: top_n must be >= 1")
		}
		c.TopN = v
	case "ngram_size":
		v, err := parseUint32(value)
		if err != nil || v < 1 {
			return fmt.Errorf("resembl: ngram_size must be >= 1")
		}
		c.NgramSize = v
	case "jaccard_weight":
		v, err := parseFloatInRange(value, 0, 1)
		if err != nil {
			return err
		}
		c.JaccardWeight = v
	case "format":
		switch Format(value) {
		case FormatTable, FormatJSON, FormatCSV:
			c.Format = Format(value)
		default:
			return fmt.Errorf("resembl: format must be one of table, json, csv")
		}
	default:
		return fmt.Errorf("resembl: unrecognized config key %q", key)
	}
	return nil
}

// Unset resets key to its default value.
func (c *Config) Unset(key string) error {
	def := Default()
	switch key {
	case "lsh_threshold":
		c.LSHThreshold = def.LSHThreshold
	case "num_permutations":
		c.NumPermutations = def.NumPermutations
	case "top_n":
		c.TopN = def.TopN
	case "ngram_size":
		c.NgramSize = def.NgramSize
	case "jaccard_weight":
		c.JaccardWeight = def.JaccardWeight
	case "format":
		c.Format = def.Format
	default:
		return fmt.Errorf("resembl: unrecognized config key %q", key)
	}
	return nil
}

func parseFloatInRange(value string, lo, hi float64) (float64, error) {
	var v float64
	if _, err := fmt.Sscanf(value, "%g", &v); err != nil {
		return 0, fmt.Errorf("resembl: invalid float %q", value)
	}
	if v < lo || v > hi {
		return 0, fmt.Errorf("resembl: value %v out of range [%v,%v]", v, lo, hi)
	}
	return v, nil
}

func parseUint32(value string) (uint32, error) {
	var v uint32
	if _, err := fmt.Sscanf(value, "%d", &v); err != nil {
		return 0, fmt.Errorf("resembl: invalid integer %q", value)
	}
	return v, nil
}
