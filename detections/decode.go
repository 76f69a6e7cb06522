package detections

import (
	"math"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/floats"

	"github.com/dooh-web/landmark-detector/models"
)

// RawPrediction is the engine output of shape [1, F, N], feature-major: the
// value of feature f for candidate i is Features[f*N+i].
type RawPrediction struct {
	Features []float32
	F        int
	N        int
}

// NewRawPrediction reads F and N from the output shape instead of assuming
// them. The shape must be [1, F, N] and match the data length.
func NewRawPrediction(shape []int64, data []float32) (*RawPrediction, error) {
	if len(shape) != 3 || shape[0] != 1 {
		return nil, errors.Wrapf(ErrSchemaMismatch, "output shape %v, want [1 F N]", shape)
	}
	f, n := int(shape[1]), int(shape[2])
	if f <= 0 || n < 0 {
		return nil, errors.Wrapf(ErrSchemaMismatch, "output shape %v", shape)
	}
	if len(data) != f*n {
		return nil, errors.Wrapf(ErrInvalidBufferSize, "got %d values for shape %v", len(data), shape)
	}
	return &RawPrediction{Features: data, F: f, N: n}, nil
}

func (p *RawPrediction) at(feature, i int) float64 {
	return float64(p.Features[feature*p.N+i])
}

// DecodeOptions select the schema and threshold policy for one model variant.
type DecodeOptions struct {
	Schema DecodeSchema
	// ConfidenceThreshold is exclusive: a candidate must score strictly above it.
	ConfidenceThreshold float64
	// Strict turns a feature-count mismatch into ErrSchemaMismatch. When false
	// the mismatch is logged and decoding continues with the schema's rows.
	Strict bool
	Logger logrus.FieldLogger
}

// Candidates scans every prediction column and returns the ones scoring above
// the threshold, in column order, still in letterbox space.
func Candidates(pred *RawPrediction, opts DecodeOptions) ([]models.Candidate, error) {
	if err := checkSchema(pred, opts); err != nil {
		return nil, err
	}

	out := make([]models.Candidate, 0, 16)
	var scores []float64
	if opts.Schema.Kind == MultiClass {
		scores = make([]float64, opts.Schema.ClassCount)
	}

	for i := 0; i < pred.N; i++ {
		var score float64
		classID := 0

		switch opts.Schema.Kind {
		case MultiClass:
			for c := range scores {
				scores[c] = sigmoid(pred.at(BoxFeatures+c, i))
			}
			classID = floats.MaxIdx(scores)
			score = scores[classID]
		default:
			// raw scores above 1 are capped so confidence stays a probability
			score = math.Min(pred.at(BoxFeatures, i), 1)
		}

		if !(score > opts.ConfidenceThreshold) {
			continue
		}
		out = append(out, models.Candidate{
			CX:      pred.at(0, i),
			CY:      pred.at(1, i),
			W:       pred.at(2, i),
			H:       pred.at(3, i),
			Score:   score,
			ClassID: classID,
		})
	}
	return out, nil
}

// Decode turns a raw prediction into detections in original-image
// coordinates. width and height are the size of the image that was
// letterboxed with m. Boxes are clamped into the image, never dropped for
// overshooting it; the Clamped flag records when that happened.
func Decode(pred *RawPrediction, m Mapping, width, height int, opts DecodeOptions) ([]models.Detection, error) {
	if width <= 0 || height <= 0 {
		return nil, errors.Wrapf(ErrInvalidImageDimensions, "%dx%d", width, height)
	}
	candidates, err := Candidates(pred, opts)
	if err != nil {
		return nil, err
	}

	detections := make([]models.Detection, 0, len(candidates))
	for _, c := range candidates {
		detections = append(detections, toDetection(c, m, float64(width), float64(height)))
	}
	return detections, nil
}

func toDetection(c models.Candidate, m Mapping, w, h float64) models.Detection {
	x1, y1 := m.Inverse(c.CX-c.W/2, c.CY-c.H/2)
	x2, y2 := m.Inverse(c.CX+c.W/2, c.CY+c.H/2)

	var clamped bool
	x1, clamped = clampCoord(x1, w, clamped)
	y1, clamped = clampCoord(y1, h, clamped)
	x2, clamped = clampCoord(x2, w, clamped)
	y2, clamped = clampCoord(y2, h, clamped)

	// Negative widths or heights from the network come out flipped.
	if x2 < x1 {
		x1, x2 = x2, x1
	}
	if y2 < y1 {
		y1, y2 = y2, y1
	}

	return models.Detection{
		X1:         x1,
		Y1:         y1,
		X2:         x2,
		Y2:         y2,
		Confidence: c.Score,
		ClassID:    c.ClassID,
		Clamped:    clamped,
	}
}

func clampCoord(v, limit float64, clamped bool) (float64, bool) {
	switch {
	case math.IsNaN(v):
		return 0, true
	case v < 0:
		return 0, true
	case v > limit:
		return limit, true
	}
	return v, clamped
}

func checkSchema(pred *RawPrediction, opts DecodeOptions) error {
	if pred == nil {
		return errors.Wrap(ErrInvalidBufferSize, "nil prediction")
	}
	if len(pred.Features) != pred.F*pred.N {
		return errors.Wrapf(ErrInvalidBufferSize, "got %d values for F=%d N=%d", len(pred.Features), pred.F, pred.N)
	}
	if err := opts.Schema.Validate(); err != nil {
		return err
	}

	want := opts.Schema.FeatureCount()
	if pred.F == want {
		return nil
	}
	if pred.F < opts.Schema.minFeatures() || opts.Strict {
		return errors.Wrapf(ErrSchemaMismatch, "got %d features, %s expects %d", pred.F, opts.Schema, want)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	logger.WithFields(logrus.Fields{
		"features": pred.F,
		"expected": want,
		"schema":   opts.Schema.String(),
	}).Warn("prediction feature count does not match schema, decoding anyway")
	return nil
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
