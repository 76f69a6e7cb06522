package detections

import "github.com/pkg/errors"

// PackTensor converts a size×size RGBA buffer into a planar float buffer of
// length 3·size·size: all R values, then all G, then all B, each scaled to
// [0,1]. Alpha is dropped.
func PackTensor(pixels []uint8, size int) ([]float32, error) {
	if size <= 0 {
		return nil, errors.Wrapf(ErrInvalidBufferSize, "size %d", size)
	}
	channelSize := size * size
	if len(pixels) != channelSize*4 {
		return nil, errors.Wrapf(ErrInvalidBufferSize, "got %d bytes, want %d", len(pixels), channelSize*4)
	}

	buffer := make([]float32, channelSize*NumChannels)
	for i := 0; i < channelSize; i++ {
		p := pixels[i*4 : i*4+4 : i*4+4]
		buffer[i] = float32(p[0]) / 255.0
		buffer[channelSize+i] = float32(p[1]) / 255.0
		buffer[channelSize*2+i] = float32(p[2]) / 255.0
	}
	return buffer, nil
}
