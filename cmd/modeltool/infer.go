package main

import (
	"fmt"
	"io"

	"github.com/nvr-ai/go-ml-deploy/benchmark"
	"github.com/nvr-ai/go-ml-deploy/config"
	"github.com/nvr-ai/go-ml-deploy/images"
	"github.com/nvr-ai/go-ml-deploy/inference"
	"github.com/nvr-ai/go-ml-deploy/inference/providers"
	"github.com/nvr-ai/go-ml-deploy/pipeline"
	"github.com/nvr-ai/go-ml-deploy/quantize"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	inferModel        string
	inferBackend      string
	inferImage        string
	inferSeed         int64
	inferDistribution string
	inferLabels       string
	inferTopK         int

	benchModel      string
	benchBackend    string
	benchWarmup     int
	benchIterations int
	benchReport     string
	benchMetrics    string

	pipelineInput      string
	pipelineOutput     string
	pipelineWeightType string
)

// inferCmd runs a model once.
//
//nolint:gochecknoglobals // Cobra commands are typically global
var inferCmd = &cobra.Command{
	Use:   "infer",
	Short: "Run a model once on generated or image input",
	Long: `Open a session on the selected execution provider, feed random,
filled or image input and print a summary of every output.

Examples:
  modeltool infer --model model.onnx
  modeltool infer --model model.onnx --backend tensorrt
  modeltool infer --model model_norm.onnx --image frame.jpg
  modeltool infer --model model.onnx --backend openvino --distribution normal --seed 7`,
	RunE: runInfer,
}

// benchCmd times repeated runs.
//
//nolint:gochecknoglobals // Cobra commands are typically global
var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Benchmark repeated inference runs",
	Long: `Run a model repeatedly on one generated input and report latency
percentiles, throughput and memory use. The report can be written as JSON and
as a Prometheus text file for the node exporter textfile collector.

Examples:
  modeltool bench --model model.onnx --iterations 500
  modeltool bench --model model.onnx --backend cuda --report bench.json --metrics bench.prom`,
	RunE: runBench,
}

// pipelineCmd quantizes a model and checks it with one run.
//
//nolint:gochecknoglobals // Cobra commands are typically global
var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Quantize a model and run the quantized model once",
	Long: `Quantize the weights of the input model, save it and run it once on
generated input to check that the runtime accepts it.

Examples:
  modeltool pipeline -i model.onnx -o model_s8.onnx
  modeltool pipeline -i model.onnx -o model_u8.onnx --weight-type QUInt8`,
	RunE: runPipeline,
}

func init() {
	rootCmd.AddCommand(inferCmd, benchCmd, pipelineCmd)

	inferCmd.Flags().StringVarP(&inferModel, "model", "m", "", "model to run")
	inferCmd.Flags().StringVar(&inferBackend, "backend", "", "execution provider (cpu, cuda, tensorrt, openvino, coreml)")
	inferCmd.Flags().StringVar(&inferImage, "image", "", "feed this image to the first input")
	inferCmd.Flags().Int64Var(&inferSeed, "seed", 0, "seed of generated inputs")
	inferCmd.Flags().StringVar(&inferDistribution, "distribution", "", "generated input distribution (uniform, normal, fill)")
	inferCmd.Flags().StringVar(&inferLabels, "labels", "", "label the top scores with a class set (coco, coco-background) or a label file")
	inferCmd.Flags().IntVar(&inferTopK, "top-k", 0, "print the k highest scores of every output")
	_ = inferCmd.MarkFlagRequired("model")

	benchCmd.Flags().StringVarP(&benchModel, "model", "m", "", "model to benchmark")
	benchCmd.Flags().StringVar(&benchBackend, "backend", "", "execution provider (cpu, cuda, tensorrt, openvino, coreml)")
	benchCmd.Flags().IntVar(&benchWarmup, "warmup", 0, "unmeasured runs")
	benchCmd.Flags().IntVar(&benchIterations, "iterations", 0, "measured runs")
	benchCmd.Flags().StringVar(&benchReport, "report", "", "write the JSON report to this file")
	benchCmd.Flags().StringVar(&benchMetrics, "metrics", "", "write Prometheus metrics to this file")
	_ = benchCmd.MarkFlagRequired("model")

	pipelineCmd.Flags().StringVarP(&pipelineInput, "input", "i", "", "float32 input model")
	pipelineCmd.Flags().StringVarP(&pipelineOutput, "output", "o", "", "quantized output model")
	pipelineCmd.Flags().StringVar(&pipelineWeightType, "weight-type", "", "QUInt8 or QInt8")
	_ = pipelineCmd.MarkFlagRequired("input")
	_ = pipelineCmd.MarkFlagRequired("output")
}

// providerConfig applies a --backend override to the configured provider.
func providerConfig(cfg *config.Config, backend string) (providers.Config, error) {
	provider := cfg.Inference.Provider
	if backend != "" {
		parsed, err := providers.ParseBackend(backend)
		if err != nil {
			return provider, err
		}
		provider.Backend = parsed
	}
	return provider, provider.Validate()
}

// modelInputs generates every input, replacing the first with the image when
// one is given.
func modelInputs(session *inference.Session, cfg *config.Config, image string) ([]inference.Input, error) {
	inputs, err := inference.GenerateInputs(session.Inputs(), cfg.Inference.Inputs)
	if err != nil {
		return nil, err
	}
	if image == "" {
		return inputs, nil
	}
	in, err := images.ModelInput(image, session.Inputs()[0], cfg.Inference.Image)
	if err != nil {
		return nil, err
	}
	inputs[0] = in
	return inputs, nil
}

func printOutputs(w io.Writer, outputs []inference.Output) {
	for _, out := range outputs {
		s := out.Summary()
		fmt.Fprintf(w, "%s shape=%v min=%.6g max=%.6g mean=%.6g std=%.6g argmax=%d\n",
			out.Name, out.Shape, s.Min, s.Max, s.Mean, s.StdDev, s.ArgMax)
	}
}

func runInfer(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, err := providerConfig(cfg, inferBackend)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("seed") {
		cfg.Inference.Inputs.Seed = inferSeed
	}
	if inferDistribution != "" {
		cfg.Inference.Inputs.Distribution = inference.Distribution(inferDistribution)
	}

	ctx := cmd.Context()
	session, err := inference.Open(ctx, inferModel, provider, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Failed to close session")
		}
	}()

	for _, in := range session.Inputs() {
		logger.WithField("input", in.String()).Info("Model input")
	}

	inputs, err := modelInputs(session, cfg, inferImage)
	if err != nil {
		return err
	}
	outputs, err := session.Run(ctx, inputs)
	if err != nil {
		return err
	}

	printOutputs(cmd.OutOrStdout(), outputs)
	if inferTopK > 0 {
		var labels []string
		if inferLabels != "" {
			if labels, err = inference.LoadLabels(inferLabels); err != nil {
				return err
			}
		}
		for _, out := range outputs {
			for rank, score := range out.TopK(inferTopK, labels) {
				fmt.Fprintf(cmd.OutOrStdout(), "%s top%d index=%d label=%q score=%.6g\n",
					out.Name, rank+1, score.Index, score.Label, score.Score)
			}
		}
	}
	logger.WithField("duration", session.Stats().Mean).Info("Inference complete")
	return nil
}

func runBench(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	provider, err := providerConfig(cfg, benchBackend)
	if err != nil {
		return err
	}

	opts := cfg.Benchmark
	if cmd.Flags().Changed("warmup") {
		opts.Warmup = benchWarmup
	}
	if cmd.Flags().Changed("iterations") {
		opts.Iterations = benchIterations
	}
	opts.Logger = logger

	ctx := cmd.Context()
	session, err := inference.Open(ctx, benchModel, provider, logger)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := session.Close(); closeErr != nil {
			logger.WithError(closeErr).Error("Failed to close session")
		}
	}()

	inputs, err := inference.GenerateInputs(session.Inputs(), cfg.Inference.Inputs)
	if err != nil {
		return err
	}

	report, err := benchmark.Run(ctx, session, inputs, opts)
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "backend=%s iterations=%d errors=%d fps=%.2f mean=%v p50=%v p90=%v p99=%v\n",
		report.Backend, report.Iterations, report.Errors, report.FramesPerSecond,
		report.Latency.Mean, report.Latency.P50, report.Latency.P90, report.Latency.P99)

	if benchReport != "" {
		if err := report.WriteJSON(benchReport); err != nil {
			return err
		}
		logger.WithField("path", benchReport).Info("Benchmark report written")
	}
	if benchMetrics != "" {
		if err := report.WriteMetrics(benchMetrics); err != nil {
			return err
		}
		logger.WithField("path", benchMetrics).Info("Benchmark metrics written")
	}
	return nil
}

func runPipeline(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	opts := pipeline.Options{
		Input:     pipelineInput,
		Output:    pipelineOutput,
		Quantize:  cfg.Pipeline.Quantize,
		Inference: cfg.Inference.Provider,
		InputSpec: cfg.Inference.Inputs,
		Logger:    logger,
	}
	if pipelineWeightType != "" {
		if opts.Quantize.WeightType, err = quantize.ParseWeightType(pipelineWeightType); err != nil {
			return err
		}
	}

	result, err := pipeline.Run(cmd.Context(), opts)
	if err != nil {
		return err
	}
	printOutputs(cmd.OutOrStdout(), result.Outputs)
	logger.WithFields(logrus.Fields{
		"quantized":   len(result.Quantize.QuantizedNodes),
		"weight_type": result.Quantize.WeightType,
	}).Info("Pipeline complete")
	return nil
}
