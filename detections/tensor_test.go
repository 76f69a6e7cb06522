package detections

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/require"
)

func TestPackTensor_PlanarLayout(t *testing.T) {
	// 2x2 image, row-major: (0,0) (1,0) (0,1) (1,1)
	pixels := []uint8{
		255, 0, 0, 255,
		0, 255, 0, 128,
		0, 0, 255, 0,
		51, 102, 153, 255,
	}

	out, err := PackTensor(pixels, 2)
	require.NoError(t, err)
	require.Len(t, out, 3*2*2)

	require.InDeltaSlice(t, []float32{1, 0, 0, 0.2}, out[0:4], 1e-6)
	require.InDeltaSlice(t, []float32{0, 1, 0, 0.4}, out[4:8], 1e-6)
	require.InDeltaSlice(t, []float32{0, 0, 1, 0.6}, out[8:12], 1e-6)
}

func TestPackTensor_FromLetterbox(t *testing.T) {
	res, err := Letterbox(solidImage(10, 10, grayRGBA(PadValue)), 8)
	require.NoError(t, err)

	out, err := PackTensor(res.Pixels, 8)
	require.NoError(t, err)
	for _, v := range out {
		require.InDelta(t, float32(PadValue)/255.0, v, 0.005)
	}
}

func TestPackTensor_InvalidBufferSize(t *testing.T) {
	_, err := PackTensor(make([]uint8, 15), 2)
	require.True(t, errors.Is(err, ErrInvalidBufferSize))

	_, err = PackTensor(nil, 0)
	require.True(t, errors.Is(err, ErrInvalidBufferSize))
}
