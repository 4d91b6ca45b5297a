// Package config holds run settings, read from YAML and overridden by flags.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"rl-deconv/internal/convolve"
	"rl-deconv/internal/deconv"
	"rl-deconv/internal/logger"

	"gopkg.in/yaml.v3"
)

// Engine names the convolution backend.
const (
	EngineGo     = "go"
	EngineOpenCV = "opencv"
)

// Codec names the image decoder and encoder.
const (
	CodecGo     = "go"
	CodecOpenCV = "opencv"
)

// PSF describes the Gaussian blur kernel.
type PSF struct {
	Size     int     `yaml:"size"`
	SigmaRow float64 `yaml:"sigma_row"`
	SigmaCol float64 `yaml:"sigma_col"`
}

// Deconvolution configures the iteration itself.
type Deconvolution struct {
	Iterations int     `yaml:"iterations"`
	Division   string  `yaml:"division"`
	Epsilon    float64 `yaml:"epsilon"`
	Border     string  `yaml:"border"`
	Workers    int     `yaml:"workers"`
	Engine     string  `yaml:"engine"`
}

// Input controls how the source image is read.
type Input struct {
	Grayscale bool   `yaml:"grayscale"`
	Codec     string `yaml:"codec"`
}

// Output controls what happens with the estimate.
type Output struct {
	Path string `yaml:"path"`
	Show bool   `yaml:"show"`
}

// Logging selects verbosity and format.
type Logging struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Metrics names the node-exporter textfile to write after the run.
type Metrics struct {
	Textfile string `yaml:"textfile"`
}

type Config struct {
	PSF           PSF           `yaml:"psf"`
	Deconvolution Deconvolution `yaml:"deconvolution"`
	Input         Input         `yaml:"input"`
	Output        Output        `yaml:"output"`
	Logging       Logging       `yaml:"logging"`
	Metrics       Metrics       `yaml:"metrics"`
}

// Default returns the settings used when neither file nor flag sets a value.
func Default() Config {
	return Config{
		PSF: PSF{Size: 5, SigmaRow: 9, SigmaCol: 5},
		Deconvolution: Deconvolution{
			Iterations: 10,
			Division:   deconv.DivisionEpsilon.String(),
			Epsilon:    deconv.DefaultEpsilon,
			Border:     convolve.BorderReflect101.String(),
			Workers:    1,
			Engine:     EngineGo,
		},
		Input:   Input{Codec: CodecOpenCV},
		Output:  Output{Show: true},
		Logging: Logging{Level: "info", Console: true},
	}
}

// Load reads path over the defaults. An empty path yields the defaults.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// keys are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML.
func (c Config) Marshal() ([]byte, error) {
	return yaml.Marshal(c)
}

// Validate reports the first invalid parameter as a *ValidationError.
func (c Config) Validate() error {
	if err := intRange("psf.size", c.PSF.Size, ranges["psf.size"]); err != nil {
		return err
	}
	if err := positive("psf.sigma_row", c.PSF.SigmaRow); err != nil {
		return err
	}
	if err := positive("psf.sigma_col", c.PSF.SigmaCol); err != nil {
		return err
	}
	if err := intRange("deconvolution.iterations", c.Deconvolution.Iterations, ranges["deconvolution.iterations"]); err != nil {
		return err
	}
	if _, err := deconv.ParseDivisionPolicy(c.Deconvolution.Division); err != nil {
		return NewValidationError("deconvolution.division", c.Deconvolution.Division, err.Error())
	}
	if err := positive("deconvolution.epsilon", c.Deconvolution.Epsilon); err != nil {
		return err
	}
	if _, err := convolve.ParseBorder(c.Deconvolution.Border); err != nil {
		return NewValidationError("deconvolution.border", c.Deconvolution.Border, err.Error())
	}
	if c.Deconvolution.Workers < 0 {
		return NewValidationError("deconvolution.workers", c.Deconvolution.Workers, "must be >= 0 (0 uses every CPU)")
	}
	switch c.Deconvolution.Engine {
	case EngineGo, EngineOpenCV:
	default:
		return NewValidationError("deconvolution.engine", c.Deconvolution.Engine,
			fmt.Sprintf("must be %q or %q", EngineGo, EngineOpenCV))
	}
	switch c.Input.Codec {
	case CodecGo, CodecOpenCV:
	default:
		return NewValidationError("input.codec", c.Input.Codec,
			fmt.Sprintf("must be %q or %q", CodecGo, CodecOpenCV))
	}
	if _, err := logger.ParseLevel(c.Logging.Level); err != nil {
		return NewValidationError("logging.level", c.Logging.Level, err.Error())
	}
	return nil
}

// DivisionPolicy returns the parsed division policy. Call after Validate.
func (c Config) DivisionPolicy() deconv.DivisionPolicy {
	p, _ := deconv.ParseDivisionPolicy(c.Deconvolution.Division)
	return p
}

// Border returns the parsed border mode. Call after Validate.
func (c Config) Border() convolve.Border {
	b, _ := convolve.ParseBorder(c.Deconvolution.Border)
	return b
}
