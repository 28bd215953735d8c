// Package config - YAML configuration shared by the modeltool commands.
package config

import (
	"os"

	"github.com/creasty/defaults"
	"github.com/nvr-ai/go-ml-deploy/benchmark"
	"github.com/nvr-ai/go-ml-deploy/inference"
	"github.com/nvr-ai/go-ml-deploy/inference/providers"
	"github.com/nvr-ai/go-ml-deploy/pose"
	"github.com/nvr-ai/go-ml-deploy/precision"
	"github.com/nvr-ai/go-ml-deploy/preprocess"
	"github.com/nvr-ai/go-ml-deploy/quantize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// DefaultPath is read when no --config flag is given.
const DefaultPath = "modeltool.yaml"

// Config is the full tool configuration. Every section has usable defaults
// so a missing file is not an error.
type Config struct {
	// Logging is the logrus level used when --log-level is not set.
	Logging string `yaml:"logging" default:"info"`

	Runtime   RuntimeConfig            `yaml:"runtime"`
	Precision precision.Float16Options `yaml:"precision"`
	Normalize preprocess.Options       `yaml:"normalize"`
	Quantize  quantize.Options         `yaml:"quantize"`
	Inference InferenceConfig          `yaml:"inference"`
	Benchmark benchmark.Options        `yaml:"benchmark"`
	Pipeline  PipelineConfig           `yaml:"pipeline"`
	Pose      PoseConfig               `yaml:"pose"`
}

// RuntimeConfig locates the onnxruntime shared library.
type RuntimeConfig struct {
	// LibraryPath is used by every session unless inference.provider sets
	// its own.
	LibraryPath string `yaml:"library_path"`
}

// InferenceConfig groups the session and input settings of infer and bench.
type InferenceConfig struct {
	Provider providers.Config       `yaml:"provider"`
	Inputs   inference.InputSpec    `yaml:"inputs"`
	Image    inference.ImageOptions `yaml:"image"`
}

// PipelineConfig holds the quantization used by the pipeline command, which
// defaults to signed weights unlike the quantize command.
type PipelineConfig struct {
	Quantize quantize.Options `yaml:"quantize"`
}

// PoseConfig holds the camera intrinsics and drawing sizes of the pnp command.
type PoseConfig struct {
	Fx         float64   `yaml:"fx"          default:"1600"`
	Fy         float64   `yaml:"fy"          default:"1705.7"`
	Cx         float64   `yaml:"cx"          default:"320"`
	Cy         float64   `yaml:"cy"          default:"192"`
	Distortion []float64 `yaml:"distortion"`
	// AxisLength is the length of the drawn pose axes in millimetres.
	AxisLength float64 `yaml:"axis_length" default:"100"`
	// ImageWidth and ImageHeight size the rendered camera image.
	ImageWidth  int `yaml:"image_width"  default:"640"`
	ImageHeight int `yaml:"image_height" default:"384"`
}

// Camera builds the pinhole camera described by the section.
func (p PoseConfig) Camera() pose.Camera {
	camera := pose.NewCamera(p.Fx, p.Fy, p.Cx, p.Cy)
	camera.Distortion = append([]float64(nil), p.Distortion...)
	return camera
}

// Default returns the configuration used when no file is present.
func Default() *Config {
	return &Config{
		Logging:   "info",
		Precision: precision.DefaultFloat16Options(),
		Normalize: preprocess.DefaultOptions(),
		Quantize:  quantize.Options{WeightType: quantize.QUInt8},
		Inference: InferenceConfig{
			Provider: providers.DefaultConfig(),
			Inputs:   inference.DefaultInputSpec(),
			Image:    inference.ImageOptions{Width: 640, Height: 640, Normalize: true},
		},
		Benchmark: benchmark.DefaultOptions(),
		Pipeline:  PipelineConfig{Quantize: quantize.Options{WeightType: quantize.QInt8}},
		Pose:      PoseConfig{Distortion: make([]float64, 5)},
	}
}

// Load reads the YAML file at path over the defaults.
//
// Arguments:
//   - path: The config file. Empty selects DefaultPath.
//
// Returns:
//   - *Config: The merged configuration.
//   - error: An error if the file exists but cannot be parsed or is invalid.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	config := Default()
	if err := defaults.Set(config); err != nil {
		return nil, errors.Wrap(err, "failed to set config defaults")
	}

	data, err := os.ReadFile(path) //nolint:gosec // user supplied config path
	switch {
	case os.IsNotExist(err):
		// Defaults only.
	case err != nil:
		return nil, errors.Wrapf(err, "failed to read config %s", path)
	default:
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, errors.Wrapf(err, "failed to parse config %s", path)
		}
	}

	config.applyRuntime()
	if err := config.Validate(); err != nil {
		return nil, errors.Wrapf(err, "invalid config %s", path)
	}
	return config, nil
}

// applyRuntime copies the shared library path into the session configs that
// do not name their own.
func (c *Config) applyRuntime() {
	if c.Inference.Provider.LibraryPath == "" {
		c.Inference.Provider.LibraryPath = c.Runtime.LibraryPath
	}
}

// Validate checks the sections that can be checked without a model.
func (c *Config) Validate() error {
	if _, err := logrus.ParseLevel(c.Logging); err != nil {
		return errors.Wrap(err, "logging")
	}
	if err := c.Inference.Provider.Validate(); err != nil {
		return errors.Wrap(err, "inference.provider")
	}
	if _, err := quantize.ParseWeightType(string(c.Quantize.WeightType)); err != nil {
		return errors.Wrap(err, "quantize")
	}
	if _, err := quantize.ParseWeightType(string(c.Pipeline.Quantize.WeightType)); err != nil {
		return errors.Wrap(err, "pipeline.quantize")
	}
	if c.Benchmark.Iterations <= 0 {
		return errors.Wrap(benchmark.ErrNoIterations, "benchmark")
	}
	if err := c.Pose.Camera().Validate(); err != nil {
		return errors.Wrap(err, "pose")
	}
	return nil
}
