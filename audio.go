package tahti

// AudioBuffer is a buffer of stereo frames.
type AudioBuffer [][2]float32

// Resize returns a buffer of frames frames, reusing the backing array of b
// when it is large enough. The contents are not cleared.
func (b AudioBuffer) Resize(frames int) AudioBuffer {
	if cap(b) < frames {
		return make(AudioBuffer, frames)
	}
	return b[:frames]
}

// Clear sets every frame to silence.
func (b AudioBuffer) Clear() {
	for i := range b {
		b[i] = [2]float32{}
	}
}

// Interleave appends the frames of b to dst as left, right, left, right...
func (b AudioBuffer) Interleave(dst []float32) []float32 {
	for _, f := range b {
		dst = append(dst, f[0], f[1])
	}
	return dst
}

// Channel copies one channel of b into dst, which must hold len(b) values.
func (b AudioBuffer) Channel(ch int, dst []float32) []float32 {
	dst = dst[:len(b)]
	for i, f := range b {
		dst[i] = f[ch]
	}
	return dst
}
