package detections

const (
	// DefaultInputSize is the side of the square network input.
	DefaultInputSize = 640
	// PadValue is the gray the detector was trained to see as letterbox padding.
	PadValue = 114
	// NumChannels packed into the input tensor (R, G, B).
	NumChannels = 3
	// BoxFeatures are the leading cx, cy, w, h rows of every prediction.
	BoxFeatures = 4
	// DefaultMaxDimension caps uploads before letterboxing.
	DefaultMaxDimension = 2000
)
