package tahti

import (
	"bytes"
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
)

// AudioFormat describes interleaved audio written to bounce files.
type AudioFormat struct {
	SampleRate int
	Channels   int
	PCM16      bool // false: 32-bit float
}

// Wav encodes interleaved samples into a RIFF wave file.
func Wav(buffer []float32, f AudioFormat) ([]byte, error) {
	buf := new(bytes.Buffer)
	wavHeader(len(buffer), f, buf)
	if err := rawToBuffer(buffer, f.PCM16, buf); err != nil {
		return nil, errors.Wrap(err, "Wav failed")
	}
	return buf.Bytes(), nil
}

func Raw(buffer []float32, pcm16 bool) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := rawToBuffer(buffer, pcm16, buf); err != nil {
		return nil, errors.Wrap(err, "Raw failed")
	}
	return buf.Bytes(), nil
}

func rawToBuffer(data []float32, pcm16 bool, buf *bytes.Buffer) error {
	var err error
	if pcm16 {
		int16data := make([]int16, len(data))
		for i, v := range data {
			int16data[i] = int16(clamp(int(v*math.MaxInt16), math.MinInt16, math.MaxInt16))
		}
		err = binary.Write(buf, binary.LittleEndian, int16data)
	} else {
		err = binary.Write(buf, binary.LittleEndian, data)
	}
	return errors.Wrap(err, "could not binary write data to binary buffer")
}

// wavHeader writes the header of an int16 or float32 wave file. bufferLength
// is the number of interleaved samples, so frames = bufferLength / channels.
func wavHeader(bufferLength int, f AudioFormat, buf *bytes.Buffer) {
	// Refer to: http://www-mmsp.ece.mcgill.ca/Documents/AudioFormats/WAVE/WAVE.html
	numChannels := f.Channels
	if numChannels < 1 {
		numChannels = 2
	}
	var bytesPerSample, chunkSize, fmtChunkSize, waveFormat int
	var factChunk bool
	if f.PCM16 {
		bytesPerSample = 2
		chunkSize = 36 + bytesPerSample*bufferLength
		fmtChunkSize = 16
		waveFormat = 1 // PCM
	} else {
		bytesPerSample = 4
		chunkSize = 50 + bytesPerSample*bufferLength
		fmtChunkSize = 18
		waveFormat = 3 // IEEE float
		factChunk = true
	}
	buf.Write([]byte("RIFF"))
	binary.Write(buf, binary.LittleEndian, uint32(chunkSize))
	buf.Write([]byte("WAVE"))
	buf.Write([]byte("fmt "))
	binary.Write(buf, binary.LittleEndian, uint32(fmtChunkSize))
	binary.Write(buf, binary.LittleEndian, uint16(waveFormat))
	binary.Write(buf, binary.LittleEndian, uint16(numChannels))
	binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate))
	binary.Write(buf, binary.LittleEndian, uint32(f.SampleRate*numChannels*bytesPerSample)) // avgBytesPerSec
	binary.Write(buf, binary.LittleEndian, uint16(numChannels*bytesPerSample))              // blockAlign
	binary.Write(buf, binary.LittleEndian, uint16(8*bytesPerSample))                        // bits per sample
	if fmtChunkSize > 16 {
		binary.Write(buf, binary.LittleEndian, uint16(0)) // size of extension
	}
	if factChunk {
		buf.Write([]byte("fact"))
		binary.Write(buf, binary.LittleEndian, uint32(4))                        // fact chunk size
		binary.Write(buf, binary.LittleEndian, uint32(bufferLength/numChannels)) // sample frames
	}
	buf.Write([]byte("data"))
	binary.Write(buf, binary.LittleEndian, uint32(bytesPerSample*bufferLength))
}

func clamp(value, min, max int) int {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
