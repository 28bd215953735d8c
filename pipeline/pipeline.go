// Package pipeline - Quantizes a model file and checks it with one inference run.
package pipeline

import (
	"context"

	"github.com/nvr-ai/go-ml-deploy/inference"
	"github.com/nvr-ai/go-ml-deploy/inference/providers"
	"github.com/nvr-ai/go-ml-deploy/onnx"
	"github.com/nvr-ai/go-ml-deploy/quantize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// Options controls Run.
type Options struct {
	// Input is the float32 model.
	Input string `json:"input"      yaml:"input"`
	// Output is where the quantized model is written.
	Output string `json:"output"     yaml:"output"`
	// Quantize selects the weight type and nodes.
	Quantize quantize.Options `json:"quantize"   yaml:"quantize"`
	// Inference opens the quantized model. Quantized operators run on CPU.
	Inference providers.Config `json:"inference"  yaml:"inference"`
	// InputSpec generates the inputs of the check run.
	InputSpec inference.InputSpec `json:"input_spec" yaml:"input_spec"`
	// Logger receives stage messages. Nil uses the standard logger.
	Logger logrus.FieldLogger `json:"-"          yaml:"-"`
}

// DefaultOptions quantizes to signed 8-bit weights and runs on the CPU.
func DefaultOptions() Options {
	return Options{
		Quantize:  quantize.Options{WeightType: quantize.QInt8},
		Inference: providers.DefaultConfig(),
		InputSpec: inference.DefaultInputSpec(),
	}
}

// Result holds what each stage produced.
type Result struct {
	Quantize *quantize.Report   `json:"quantize"`
	Inputs   []inference.Input  `json:"inputs"`
	Outputs  []inference.Output `json:"outputs"`
}

// QuantizeFile loads input, quantizes its weights and saves the model at output.
func QuantizeFile(input, output string, opts quantize.Options) (*quantize.Report, error) {
	if input == "" || output == "" {
		return nil, errors.New("input and output model paths are required")
	}
	model, err := onnx.Load(input)
	if err != nil {
		return nil, err
	}
	report, err := quantize.QuantizeDynamic(model, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "quantize %s", input)
	}
	if err := onnx.Save(output, model); err != nil {
		return nil, err
	}
	return report, nil
}

// Run quantizes opts.Input into opts.Output, then opens the quantized model
// and runs it once on generated inputs.
//
// Arguments:
//   - ctx: Cancels between stages.
//   - opts: Model paths and stage settings.
//
// Returns:
//   - *Result: The quantization report and the outputs of the run.
//   - error: An error if any stage fails.
func Run(ctx context.Context, opts Options) (*Result, error) {
	log := opts.Logger
	if log == nil {
		log = logrus.StandardLogger()
	}

	report, err := QuantizeFile(opts.Input, opts.Output, opts.Quantize)
	if err != nil {
		return nil, err
	}
	log.WithFields(logrus.Fields{
		"output":    opts.Output,
		"quantized": len(report.QuantizedNodes),
		"skipped":   len(report.SkippedNodes),
	}).Info("Model quantized")

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	session, err := inference.Open(ctx, opts.Output, opts.Inference, log)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := session.Close(); err != nil {
			log.WithError(err).Warn("Failed to close session")
		}
	}()

	inputs, err := inference.GenerateInputs(session.Inputs(), opts.InputSpec)
	if err != nil {
		return nil, err
	}
	outputs, err := session.Run(ctx, inputs)
	if err != nil {
		return nil, err
	}
	for _, out := range outputs {
		log.WithFields(logrus.Fields{"output": out.Name, "shape": out.Shape}).Info("Inference complete")
	}

	return &Result{Quantize: report, Inputs: inputs, Outputs: outputs}, nil
}
