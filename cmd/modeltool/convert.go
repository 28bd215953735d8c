package main

import (
	"encoding/json"
	"strings"

	"github.com/nvr-ai/go-ml-deploy/onnx"
	"github.com/nvr-ai/go-ml-deploy/precision"
	"github.com/nvr-ai/go-ml-deploy/preprocess"
	"github.com/nvr-ai/go-ml-deploy/quantize"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	fp16Input       string
	fp16Output      string
	fp16KeepIOTypes bool
	fp16BlockOps    []string
	fp16BlockNodes  []string

	normInput      string
	normOutput     string
	normInputName  string
	normTargetNode string

	quantInput      string
	quantOutput     string
	quantWeightType string
	quantPerChannel bool
	quantOpTypes    []string
	quantExclude    []string

	inspectFormat string
)

// fp16Cmd converts a float32 model to half precision.
//
//nolint:gochecknoglobals // Cobra commands are typically global
var fp16Cmd = &cobra.Command{
	Use:   "fp16",
	Short: "Convert a float32 model to float16",
	Long: `Convert stores weights and intermediate values in half precision. Ops
that lose accuracy in float16 stay in float32 behind Cast nodes.

Examples:
  modeltool fp16 -i model.onnx -o model_fp16.onnx
  modeltool fp16 -i model.onnx -o model_fp16.onnx --keep-io-types=false --block-op Softmax`,
	RunE: runFP16,
}

// addNormCmd inserts Mul, Sub and Div in front of a model.
//
//nolint:gochecknoglobals // Cobra commands are typically global
var addNormCmd = &cobra.Command{
	Use:   "add-norm",
	Short: "Bake input normalization into a model",
	Long: `Insert x*scale, x-mean and x/std after the model input so raw 0..255
pixels can be fed directly. Statistics come from the normalize config section.

Examples:
  modeltool add-norm -i model_fp16.onnx -o model_norm.onnx
  modeltool add-norm -i model.onnx -o model_norm.onnx --input-name images --target-node ""`,
	RunE: runAddNorm,
}

// quantizeCmd quantizes weights to 8 bits.
//
//nolint:gochecknoglobals // Cobra commands are typically global
var quantizeCmd = &cobra.Command{
	Use:   "quantize",
	Short: "Dynamically quantize model weights to 8 bits",
	Long: `Rewrite MatMul, Conv and Gather nodes to use 8-bit weights with
activations quantized at run time.

Examples:
  modeltool quantize -i model.onnx -o model_u8.onnx
  modeltool quantize -i model.onnx -o model_s8.onnx --weight-type QInt8 --per-channel`,
	RunE: runQuantize,
}

// inspectCmd prints a model overview.
//
//nolint:gochecknoglobals // Cobra commands are typically global
var inspectCmd = &cobra.Command{
	Use:   "inspect <model.onnx>",
	Short: "Print the inputs, outputs and op counts of a model",
	Args:  cobra.ExactArgs(1),
	RunE:  runInspect,
}

func init() {
	rootCmd.AddCommand(fp16Cmd, addNormCmd, quantizeCmd, inspectCmd)

	fp16Cmd.Flags().StringVarP(&fp16Input, "input", "i", "", "float32 input model")
	fp16Cmd.Flags().StringVarP(&fp16Output, "output", "o", "", "float16 output model")
	fp16Cmd.Flags().BoolVar(&fp16KeepIOTypes, "keep-io-types", true, "keep float32 graph inputs and outputs")
	fp16Cmd.Flags().StringSliceVar(&fp16BlockOps, "block-op", nil, "op types kept in float32, added to the config list")
	fp16Cmd.Flags().StringSliceVar(&fp16BlockNodes, "block-node", nil, "node names kept in float32")
	_ = fp16Cmd.MarkFlagRequired("input")
	_ = fp16Cmd.MarkFlagRequired("output")

	addNormCmd.Flags().StringVarP(&normInput, "input", "i", "", "input model")
	addNormCmd.Flags().StringVarP(&normOutput, "output", "o", "", "output model")
	addNormCmd.Flags().StringVar(&normInputName, "input-name", "", "graph input to normalize")
	addNormCmd.Flags().StringVar(&normTargetNode, "target-node", "", "node rewired to the normalized value, empty rewires every consumer")
	_ = addNormCmd.MarkFlagRequired("input")
	_ = addNormCmd.MarkFlagRequired("output")

	quantizeCmd.Flags().StringVarP(&quantInput, "input", "i", "", "float32 input model")
	quantizeCmd.Flags().StringVarP(&quantOutput, "output", "o", "", "quantized output model")
	quantizeCmd.Flags().StringVar(&quantWeightType, "weight-type", "", "QUInt8 or QInt8")
	quantizeCmd.Flags().BoolVar(&quantPerChannel, "per-channel", false, "quantize Conv weights per output channel")
	quantizeCmd.Flags().StringSliceVar(&quantOpTypes, "op-types", nil, "op types to quantize")
	quantizeCmd.Flags().StringSliceVar(&quantExclude, "exclude", nil, "node names left in float32")
	_ = quantizeCmd.MarkFlagRequired("input")
	_ = quantizeCmd.MarkFlagRequired("output")

	inspectCmd.Flags().StringVar(&inspectFormat, "format", "yaml", "output format (yaml, json)")
}

// transformModel loads input, applies fn and saves the result at output.
func transformModel(input, output string, fn func(*onnx.Model) error) error {
	model, err := onnx.Load(input)
	if err != nil {
		return err
	}
	if err := fn(model); err != nil {
		return errors.Wrap(err, input)
	}
	if err := onnx.Save(output, model); err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{"input": input, "output": output}).Info("Model saved")
	return nil
}

func runFP16(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := cfg.Precision
	if cmd.Flags().Changed("keep-io-types") {
		opts.KeepIOTypes = fp16KeepIOTypes
	}
	if len(fp16BlockOps) > 0 {
		if opts.OpBlockList == nil {
			opts.OpBlockList = append(opts.OpBlockList, precision.DefaultOpBlockList...)
		}
		opts.OpBlockList = append(opts.OpBlockList, fp16BlockOps...)
	}
	opts.NodeBlockList = append(opts.NodeBlockList, fp16BlockNodes...)

	return transformModel(fp16Input, fp16Output, func(m *onnx.Model) error {
		if p := precision.Detect(m); p != precision.PrecisionFP32 {
			logger.WithField("precision", p).Warn("Input model is not float32")
		}
		report, err := precision.ConvertToFloat16(m, opts)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"initializers": report.ConvertedInitializers,
			"casts":        report.InsertedCasts,
			"clamped":      report.ClampedValues,
			"blocked":      report.BlockedNodes,
			"bytes_before": report.BytesBefore,
			"bytes_after":  report.BytesAfter,
		}).Info("Converted to float16")
		return nil
	})
}

func runAddNorm(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := cfg.Normalize
	if cmd.Flags().Changed("input-name") {
		opts.InputName = normInputName
	}
	if cmd.Flags().Changed("target-node") {
		opts.TargetNode = normTargetNode
	}

	return transformModel(normInput, normOutput, func(m *onnx.Model) error {
		result, err := preprocess.InsertNormalization(m, opts)
		if err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{
			"output":  result.Output,
			"nodes":   strings.Join(result.Nodes, ","),
			"rewired": strings.Join(result.Rewired, ","),
		}).Info("Normalization inserted")
		return nil
	})
}

func runQuantize(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := cfg.Quantize
	if cmd.Flags().Changed("weight-type") {
		if opts.WeightType, err = quantize.ParseWeightType(quantWeightType); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("per-channel") {
		opts.PerChannel = quantPerChannel
	}
	if len(quantOpTypes) > 0 {
		opts.OpTypes = quantOpTypes
	}
	opts.NodesToExclude = append(opts.NodesToExclude, quantExclude...)

	return transformModel(quantInput, quantOutput, func(m *onnx.Model) error {
		report, err := quantize.QuantizeDynamic(m, opts)
		if err != nil {
			return err
		}
		for _, skipped := range report.SkippedNodes {
			logger.WithFields(logrus.Fields{"node": skipped.Name, "op": skipped.OpType}).Debug(skipped.Reason)
		}
		logger.WithFields(logrus.Fields{
			"weight_type":  report.WeightType,
			"quantized":    len(report.QuantizedNodes),
			"skipped":      len(report.SkippedNodes),
			"bytes_before": report.BytesBefore,
			"bytes_after":  report.BytesAfter,
		}).Info("Weights quantized")
		return nil
	})
}

func runInspect(cmd *cobra.Command, args []string) error {
	model, err := onnx.Load(args[0])
	if err != nil {
		return err
	}
	summary := onnx.Summarize(model)

	out := cmd.OutOrStdout()
	switch strings.ToLower(inspectFormat) {
	case "json":
		encoder := json.NewEncoder(out)
		encoder.SetIndent("", "  ")
		return encoder.Encode(summary)
	case "yaml":
		encoder := yaml.NewEncoder(out)
		defer encoder.Close()
		return encoder.Encode(summary)
	default:
		return errors.Errorf("unknown format %q", inspectFormat)
	}
}
