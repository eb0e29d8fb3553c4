package preprocess

import (
	"encoding/json"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// ThresholdMethod selects the binarization algorithm used by the threshold stage.
type ThresholdMethod string

const (
	ThresholdAdaptive ThresholdMethod = "adaptive"
	ThresholdOtsu     ThresholdMethod = "otsu"
)

// Config toggles the pipeline stages. Flags are independent; the stage
// order never changes. The zero value disables every stage.
type Config struct {
	Rescale             bool            `yaml:"rescale" json:"rescale"`
	Grayscale           bool            `yaml:"grayscale" json:"grayscale"`
	NoiseRemoval        bool            `yaml:"noise_removal" json:"noise_removal"`
	ContrastEnhancement bool            `yaml:"contrast_enhancement" json:"contrast_enhancement"`
	Threshold           bool            `yaml:"threshold" json:"threshold"`
	ThresholdMethod     ThresholdMethod `yaml:"threshold_method" json:"threshold_method"`
	Dilation            bool            `yaml:"dilation" json:"dilation"`
	Erosion             bool            `yaml:"erosion" json:"erosion"`
	EdgeDetection       bool            `yaml:"edge_detection" json:"edge_detection"`
	Sharpening          bool            `yaml:"sharpening" json:"sharpening"`
}

// DefaultConfig enables every stage with adaptive thresholding.
func DefaultConfig() Config {
	return Config{
		Rescale:             true,
		Grayscale:           true,
		NoiseRemoval:        true,
		ContrastEnhancement: true,
		Threshold:           true,
		ThresholdMethod:     ThresholdAdaptive,
		Dilation:            true,
		Erosion:             true,
		EdgeDetection:       true,
		Sharpening:          true,
	}
}

// Validate checks the threshold method.
func (c Config) Validate() error {
	switch c.ThresholdMethod {
	case "", ThresholdAdaptive, ThresholdOtsu:
		return nil
	default:
		return fmt.Errorf("invalid threshold_method %q (want %q or %q)", c.ThresholdMethod, ThresholdAdaptive, ThresholdOtsu)
	}
}

// ParseConfig decodes a YAML pipeline profile. Keys missing from the profile
// keep their DefaultConfig value.
func ParseConfig(data []byte) (Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse pipeline profile: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// UnmarshalJSON decodes onto DefaultConfig, so job payloads only need to
// name the stages they change.
func (c *Config) UnmarshalJSON(data []byte) error {
	type plain Config
	cfg := plain(DefaultConfig())
	if err := json.Unmarshal(data, &cfg); err != nil {
		return err
	}
	*c = Config(cfg)
	return nil
}

// LoadConfig reads a YAML pipeline profile from path.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read pipeline profile: %w", err)
	}
	return ParseConfig(data)
}
