package main

import (
	"fmt"
	"image"
	"image/color"
	"os"

	"github.com/nvr-ai/go-ml-deploy/pose"
	"github.com/nvr-ai/go-ml-deploy/viz"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

//nolint:gochecknoglobals // Command flags need to be global for cobra
var (
	pnpDetection int
	pnpStream    string
	pnpImage     string
)

// armorColor is the fill of solved plates.
var armorColor = color.RGBA{R: 40, G: 200, B: 255, A: 255} //nolint:gochecknoglobals

// pnpCmd solves armor plate poses.
//
//nolint:gochecknoglobals // Cobra commands are typically global
var pnpCmd = &cobra.Command{
	Use:   "pnp",
	Short: "Solve armor plate poses from the recorded detections",
	Long: `Solve the pose of a 135x55 mm armor plate from each recorded corner
detection with the planar IPPE solver, print translation, rotation and
reprojection error, and log the plates to a visualization stream and image.
Camera intrinsics come from the pose config section.

Examples:
  modeltool pnp
  modeltool pnp --detection 1 --stream -
  modeltool pnp --stream poses.jsonl --image poses.png`,
	RunE: runPnP,
}

func init() {
	rootCmd.AddCommand(pnpCmd)

	pnpCmd.Flags().IntVar(&pnpDetection, "detection", -1, "solve only this detection, -1 solves all")
	pnpCmd.Flags().StringVar(&pnpStream, "stream", "", "write JSON lines records to this file, - for stdout")
	pnpCmd.Flags().StringVar(&pnpImage, "image", "", "draw the plates into this image file")
}

// recorders opens the requested outputs. The returned recorder is nil when
// none was requested.
func recorders(cmd *cobra.Command, camera pose.Camera, size image.Point) (viz.Recorder, error) {
	var out []viz.Recorder
	if pnpImage != "" {
		rec, err := viz.NewImageRecorder(pnpImage, camera, size)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	switch pnpStream {
	case "":
	case "-":
		out = append(out, viz.NewStreamRecorder(noClose{cmd.OutOrStdout()}))
	default:
		f, err := os.Create(pnpStream)
		if err != nil {
			return nil, errors.Wrap(err, "failed to create stream file")
		}
		out = append(out, viz.NewStreamRecorder(f))
	}

	if len(out) == 0 {
		return nil, nil //nolint:nilnil // no recorder requested
	}
	return viz.Multi(out...), nil
}

func runPnP(cmd *cobra.Command, _ []string) (err error) {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	camera := cfg.Pose.Camera()

	detections, first := pose.ArmorImagePoints, 0
	if pnpDetection >= 0 {
		if pnpDetection >= len(detections) {
			return errors.Errorf("detection %d out of range, %d recorded", pnpDetection, len(detections))
		}
		detections, first = detections[pnpDetection:pnpDetection+1], pnpDetection
	}

	rec, err := recorders(cmd, camera, image.Pt(cfg.Pose.ImageWidth, cfg.Pose.ImageHeight))
	if err != nil {
		return err
	}
	if rec != nil {
		defer func() {
			if closeErr := rec.Close(); err == nil {
				err = closeErr
			}
		}()
		if err := rec.Log("base_link", viz.Identity(cfg.Pose.AxisLength)); err != nil {
			return err
		}
	}

	out := cmd.OutOrStdout()
	for k, points := range detections {
		i := first + k
		p, err := pose.SolvePlanar(pose.ArmorObjectPoints, points, camera)
		if err != nil {
			return errors.Wrapf(err, "detection %d", i)
		}
		log := logger.WithFields(logrus.Fields{"detection": i, "error": p.Error})
		if !p.Success {
			log.Warn("No pose in front of the camera")
			continue
		}
		log.WithField("distance", p.Translation.Norm()).Info("Pose solved")

		if pnpStream != "-" {
			fmt.Fprintf(out, "armor_%d translation=[%.3f %.3f %.3f] rvec=[%.5f %.5f %.5f] quaternion=[%.5f %.5f %.5f %.5f] error=%.4f\n",
				i, p.Translation[0], p.Translation[1], p.Translation[2],
				p.RVec[0], p.RVec[1], p.RVec[2],
				p.Quaternion.X, p.Quaternion.Y, p.Quaternion.Z, p.Quaternion.W, p.Error)
		}

		if rec == nil {
			continue
		}
		err = rec.Log(fmt.Sprintf("armor_%d", i),
			viz.TransformFromPose(p, cfg.Pose.AxisLength),
			viz.Boxes3D{
				HalfSizes: []pose.Vec3{pose.ArmorHalfSizes()},
				Color:     armorColor,
				Fill:      viz.FillSolid,
			},
		)
		if err != nil {
			return err
		}
	}
	return nil
}
