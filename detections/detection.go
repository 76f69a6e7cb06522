package detections

import (
	"context"
	"image"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/dooh-web/landmark-detector/models"
)

// Config selects the model variant and the thresholds applied to it.
type Config struct {
	InputSize           int
	Schema              DecodeSchema
	ConfidenceThreshold float64
	IoUThreshold        float64
	// MaxDetections caps the suppressed result; 0 keeps every survivor.
	MaxDetections int
	StrictSchema  bool
	// ClassAware suppresses overlaps only between boxes of the same class.
	ClassAware bool
}

// ExploratoryConfig matches the single-class segmentation export: box, score
// and 32 mask coefficients, low threshold, no cap.
func ExploratoryConfig() Config {
	return Config{
		InputSize:           DefaultInputSize,
		Schema:              SingleClassSchema(32),
		ConfidenceThreshold: 0.2,
		IoUThreshold:        DefaultIoUThreshold,
		MaxDetections:       0,
		StrictSchema:        true,
	}
}

// ProductionConfig matches the three-landmark export: box, three class logits
// and 32 mask coefficients, keeping only the best detection.
func ProductionConfig() Config {
	return Config{
		InputSize:           DefaultInputSize,
		Schema:              MultiClassSchema(3, 32),
		ConfidenceThreshold: 0.6,
		IoUThreshold:        0.5,
		MaxDetections:       1,
		StrictSchema:        false,
	}
}

func (c Config) Validate() error {
	if c.InputSize <= 0 {
		return errors.Errorf("input size must be positive, got %d", c.InputSize)
	}
	if err := c.Schema.Validate(); err != nil {
		return err
	}
	if c.ConfidenceThreshold < 0 || c.ConfidenceThreshold >= 1 {
		return errors.Errorf("confidence threshold must be in [0,1), got %v", c.ConfidenceThreshold)
	}
	if c.IoUThreshold < 0 || c.IoUThreshold > 1 {
		return errors.Errorf("iou threshold must be in [0,1], got %v", c.IoUThreshold)
	}
	if c.MaxDetections < 0 {
		return errors.Errorf("max detections must not be negative, got %d", c.MaxDetections)
	}
	return nil
}

// Detector wires letterboxing, packing, inference, decoding and suppression.
// It holds no per-call state and may be shared between goroutines if its
// engine can.
type Detector struct {
	engine Engine
	cfg    Config
	logger logrus.FieldLogger
}

func NewDetector(engine Engine, cfg Config, logger logrus.FieldLogger) (*Detector, error) {
	if engine == nil {
		return nil, errors.New("detector needs an engine")
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid detector config")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Detector{engine: engine, cfg: cfg, logger: logger}, nil
}

func (d *Detector) Config() Config { return d.cfg }

// Detect runs the full pipeline on img. An empty result is not an error.
// Engine errors are returned wrapped so that errors.Is(err, ErrInferenceFailure)
// holds. If ctx is cancelled while the engine runs, its result is discarded.
func (d *Detector) Detect(ctx context.Context, img image.Image, timings *models.ProcessingTimings) ([]models.Detection, error) {
	if timings == nil {
		timings = &models.ProcessingTimings{}
	}
	bounds := img.Bounds()

	start := time.Now()
	boxed, err := Letterbox(img, d.cfg.InputSize)
	if err != nil {
		return nil, err
	}
	timings.Letterbox = time.Since(start)

	start = time.Now()
	input, err := PackTensor(boxed.Pixels, d.cfg.InputSize)
	if err != nil {
		return nil, errors.Wrap(err, "pack input tensor")
	}
	timings.Pack = time.Since(start)

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	start = time.Now()
	pred, err := d.engine.Run(ctx, input, d.cfg.InputSize)
	timings.Inference = time.Since(start)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, wrapInference(err)
	}

	start = time.Now()
	decoded, err := Decode(pred, boxed.Mapping, bounds.Dx(), bounds.Dy(), DecodeOptions{
		Schema:              d.cfg.Schema,
		ConfidenceThreshold: d.cfg.ConfidenceThreshold,
		Strict:              d.cfg.StrictSchema,
		Logger:              d.logger,
	})
	if err != nil {
		return nil, errors.Wrap(err, "decode predictions")
	}
	timings.Decode = time.Since(start)

	start = time.Now()
	var kept []models.Detection
	if d.cfg.ClassAware {
		kept = SuppressByClass(decoded, d.cfg.IoUThreshold, d.cfg.MaxDetections)
	} else {
		kept = Suppress(decoded, d.cfg.IoUThreshold, d.cfg.MaxDetections)
	}
	timings.Suppress = time.Since(start)

	d.logger.WithFields(logrus.Fields{
		"candidates": len(decoded),
		"kept":       len(kept),
	}).Debug("detections after suppression")

	return kept, nil
}
