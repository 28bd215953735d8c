package main

import (
	"os"

	"github.com/nvr-ai/go-ml-deploy/images"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	colorInput  string
	colorOutput string
	colorTo     string
)

// colorCmd converts image color spaces.
//
//nolint:gochecknoglobals // Cobra commands are typically global
var colorCmd = &cobra.Command{
	Use:   "color",
	Short: "Convert images from BGR to another color space",
	Long: `Read an image, or every image of a directory, convert it from BGR to
the target color space and write it with the same size.

Examples:
  modeltool color -i frame.jpg -o frame_yuv.png
  modeltool color -i frames/ -o frames_hsv/ --to hsv`,
	RunE: runColor,
}

func init() {
	rootCmd.AddCommand(colorCmd)

	colorCmd.Flags().StringVarP(&colorInput, "input", "i", "", "input image or directory")
	colorCmd.Flags().StringVarP(&colorOutput, "output", "o", "", "output image or directory")
	colorCmd.Flags().StringVar(&colorTo, "to", string(images.ConversionYUV), "target color space (yuv, hsv, lab, ycrcb, gray, rgb)")
	_ = colorCmd.MarkFlagRequired("input")
	_ = colorCmd.MarkFlagRequired("output")
}

func runColor(_ *cobra.Command, _ []string) error {
	if _, err := loadConfig(); err != nil {
		return err
	}
	conversion, err := images.ParseConversion(colorTo)
	if err != nil {
		return err
	}

	info, err := os.Stat(colorInput)
	if err != nil {
		return errors.Wrap(err, "failed to read input")
	}
	log := logger.WithFields(logrus.Fields{"input": colorInput, "output": colorOutput, "to": conversion})

	if info.IsDir() {
		written, err := images.ConvertDir(colorInput, colorOutput, conversion)
		if err != nil {
			return err
		}
		log.WithField("images", len(written)).Info("Images converted")
		return nil
	}

	size, err := images.ConvertFile(colorInput, colorOutput, conversion)
	if err != nil {
		return err
	}
	log.WithFields(logrus.Fields{"width": size.X, "height": size.Y}).Info("Image converted")
	return nil
}
