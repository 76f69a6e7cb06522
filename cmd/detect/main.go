// Command detect runs the landmark detector once on an image file.
//
// Usage:
//
//	detect -image <photo> [-config <yaml>] [-model <onnx>] [-out <png>] [-json]
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dooh-web/landmark-detector/config"
	"github.com/dooh-web/landmark-detector/detections"
	"github.com/dooh-web/landmark-detector/models"
	"github.com/dooh-web/landmark-detector/render"
)

type options struct {
	configPath string
	modelPath  string
	imagePath  string
	outPath    string
	asJSON     bool
	phase      float64
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", "", "Path to YAML config (defaults are used when empty)")
	flag.StringVar(&opts.modelPath, "model", "", "Path to ONNX model, overrides model.path")
	flag.StringVar(&opts.imagePath, "image", "", "Path to input image (JPEG, PNG or GIF)")
	flag.StringVar(&opts.outPath, "out", "", "Write the annotated image to this PNG file")
	flag.BoolVar(&opts.asJSON, "json", false, "Print detections as JSON")
	flag.Float64Var(&opts.phase, "phase", 0, "Pulse phase of the AR marker, in radians")
	flag.Parse()

	if opts.imagePath == "" {
		fmt.Fprintln(os.Stderr, "Usage: detect -image <photo> [-config <yaml>] [-model <onnx>] [-out <png>] [-json]")
		os.Exit(2)
	}

	logger := logrus.New()
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	if err := run(opts, logger, os.Stdout); err != nil {
		logger.WithError(err).Fatal("Detection failed")
	}
}

func run(opts options, logger *logrus.Logger, stdout io.Writer) error {
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return err
	}
	if opts.modelPath != "" {
		cfg.Model.Path = opts.modelPath
	}
	if cfg.Debug() {
		logger.SetLevel(logrus.DebugLevel)
	}

	detectorCfg, err := cfg.DetectorConfig()
	if err != nil {
		return err
	}

	img, err := render.Open(opts.imagePath)
	if err != nil {
		return err
	}
	img = detections.FitWithin(img, cfg.Upload.MaxDimension)

	libPath, err := detections.ResolveLibraryPath(cfg.Model.LibraryPath)
	if err != nil {
		return err
	}
	if libPath == "" {
		logger.Warn("No onnxruntime library found in lib/ or third_party/, using the system loader")
	}
	if err := detections.InitRuntime(libPath); err != nil {
		return err
	}
	defer detections.DestroyRuntime()

	engine := detections.NewOnnxEngine(detections.OnnxConfig{
		ModelPath:      cfg.Model.Path,
		InputName:      cfg.Model.InputName,
		OutputName:     cfg.Model.OutputName,
		IntraOpThreads: cfg.Model.IntraOpThreads,
		InterOpThreads: cfg.Model.InterOpThreads,
	})
	loadStart := time.Now()
	if err := engine.Load(); err != nil {
		return errors.Wrap(err, "load model")
	}
	defer engine.Close()
	logger.WithFields(logrus.Fields{
		"model":  cfg.Model.Path,
		"schema": detectorCfg.Schema.String(),
		"took":   time.Since(loadStart),
	}).Info("Model loaded")

	detector, err := detections.NewDetector(engine, detectorCfg, logger)
	if err != nil {
		return err
	}

	timings := &models.ProcessingTimings{RequestID: opts.imagePath}
	start := time.Now()
	dets, err := detector.Detect(context.Background(), img, timings)
	if err != nil {
		return err
	}
	timings.Total = time.Since(start)
	logger.WithFields(logrus.Fields{
		"inference": timings.Inference,
		"total":     timings.Total,
	}).Debug("Processing times")

	if err := printDetections(stdout, dets, cfg.Labels, opts.asJSON); err != nil {
		return err
	}

	if opts.outPath != "" {
		style, err := cfg.Style()
		if err != nil {
			return err
		}
		style.Phase = opts.phase
		if err := render.SavePNG(opts.outPath, render.Annotate(img, dets, cfg.Labels, style)); err != nil {
			return err
		}
		logger.WithField("path", opts.outPath).Info("Annotated image written")
	}
	return nil
}

type labelledDetection struct {
	models.Detection
	Label string `json:"label"`
}

func printDetections(w io.Writer, dets []models.Detection, labels render.Labels, asJSON bool) error {
	if asJSON {
		out := make([]labelledDetection, len(dets))
		for i, d := range dets {
			out[i] = labelledDetection{Detection: d, Label: labels.Label(d.ClassID)}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if len(dets) == 0 {
		_, err := fmt.Fprintln(w, "No detections")
		return err
	}
	fmt.Fprintf(w, "Detections (%d):\n", len(dets))
	for i, d := range dets {
		clamped := ""
		if d.Clamped {
			clamped = " (clamped)"
		}
		fmt.Fprintf(w, "  %d: %s at [%.1f, %.1f, %.1f, %.1f]%s\n",
			i+1, labels.Caption(d), d.X1, d.Y1, d.X2, d.Y2, clamped)
	}
	return nil
}
