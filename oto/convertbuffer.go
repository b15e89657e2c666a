package oto

import (
	"encoding/binary"
	"math"

	"github.com/vsariola/tahti"
)

// encodeFloat32LE writes frames stereo frames of b to dst as little-endian
// float32, padding with silence if b is shorter. It returns the number of
// bytes written.
func encodeFloat32LE(dst []byte, b tahti.AudioBuffer, frames int) int {
	for i := 0; i < frames; i++ {
		var f [2]float32
		if i < len(b) {
			f = b[i]
		}
		binary.LittleEndian.PutUint32(dst[i*8:], math.Float32bits(f[0]))
		binary.LittleEndian.PutUint32(dst[i*8+4:], math.Float32bits(f[1]))
	}
	return frames * 8
}
