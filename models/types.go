package models

import "time"

// Detection is a labelled box in original-image coordinates.
type Detection struct {
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
	ClassID    int     `json:"class_id"`
	// Clamped is set when a coordinate was pulled back inside the image.
	Clamped bool `json:"clamped,omitempty"`
}

// Width of the box.
func (d Detection) Width() float64 { return d.X2 - d.X1 }

// Height of the box.
func (d Detection) Height() float64 { return d.Y2 - d.Y1 }

// Area of the box.
func (d Detection) Area() float64 { return d.Width() * d.Height() }

// Center returns the center point of the box.
func (d Detection) Center() (x, y float64) {
	return (d.X1 + d.X2) / 2, (d.Y1 + d.Y2) / 2
}

// Candidate is a raw network row that passed the confidence threshold, still
// in letterbox space and center form.
type Candidate struct {
	CX, CY, W, H float64
	Score        float64
	ClassID      int
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Letterbox   time.Duration
	Pack        time.Duration
	Inference   time.Duration
	Decode      time.Duration
	Suppress    time.Duration
	Total       time.Duration
}
