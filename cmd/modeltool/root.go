package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/nvr-ai/go-ml-deploy/config"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Global vars needed for cobra CLI
var (
	cfgFile string
	logger  *logrus.Logger
)

// rootCmd represents the base command
//
//nolint:gochecknoglobals // Cobra commands are typically global
var rootCmd = &cobra.Command{
	Use:   "modeltool",
	Short: "Model deployment toolkit - convert, quantize, run and inspect ONNX models",
	Long: `modeltool prepares computer vision models for deployment. It converts
ONNX models to half precision, bakes input normalization into the graph,
quantizes weights to 8 bits, runs and benchmarks models on ONNX Runtime
execution providers, solves armor plate poses and converts image color spaces.

Each command reads its inputs, performs one step and exits.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1) //nolint:gocritic // stop already called
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is ./"+config.DefaultPath+")")
	rootCmd.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error, fatal, panic)")

	// Initialize logger
	logger = logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
}

func initConfig() {
	logLevel, err := rootCmd.PersistentFlags().GetString("log-level")
	if err != nil {
		logLevel = "info"
	}
	setLogLevel(logLevel)
}

func setLogLevel(name string) {
	level, err := logrus.ParseLevel(name)
	if err != nil {
		logger.WithError(err).Warn("Invalid log level, defaulting to info")
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
}

// loadConfig reads the config file. The file's logging level applies unless
// --log-level was given.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	if !rootCmd.PersistentFlags().Changed("log-level") {
		setLogLevel(cfg.Logging)
	}
	logger.WithField("config", cfgFile).Debug("Configuration loaded")
	return cfg, nil
}

// noClose hides Close from writers the commands do not own, such as stdout.
type noClose struct {
	io.Writer
}
