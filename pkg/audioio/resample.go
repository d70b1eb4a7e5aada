package audioio

import (
	"encoding/binary"
	"math"
)

// Resample converts audio from one sample rate to another using linear interpolation.
// This is a simple resampler suitable for speech audio.
func Resample(samples []int16, fromRate, toRate int) []int16 {
	if fromRate == toRate || len(samples) == 0 {
		return samples
	}

	ratio := float64(fromRate) / float64(toRate)
	newLen := int(float64(len(samples)) / ratio)
	if newLen == 0 {
		return []int16{}
	}

	result := make([]int16, newLen)
	last := len(samples) - 1
	for i := range result {
		pos := float64(i) * ratio
		idx := int(pos)
		if idx >= last {
			result[i] = samples[last]
			continue
		}
		s1 := float64(samples[idx])
		s2 := float64(samples[idx+1])
		result[i] = int16(s1 + (pos-float64(idx))*(s2-s1))
	}
	return result
}

// BytesToSamples converts raw PCM16 little-endian bytes to int16 samples.
// A trailing odd byte is ignored.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return samples
}

// SamplesToBytes converts int16 samples to raw PCM16 little-endian bytes.
func SamplesToBytes(samples []int16) []byte {
	data := make([]byte, len(samples)*2)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(data[i*2:], uint16(s))
	}
	return data
}

// Float32ToBytes encodes float samples as little-endian IEEE 754, the
// layout oto expects for FormatFloat32LE. dst is reused when large enough.
func Float32ToBytes(dst []byte, samples []float32) []byte {
	n := len(samples) * 4
	if cap(dst) < n {
		dst = make([]byte, n)
	}
	dst = dst[:n]
	for i, f := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(f))
	}
	return dst
}
