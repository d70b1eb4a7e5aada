package audioio

import "encoding/binary"

// SampleBuffer holds converted samples in one device representation.
// Exactly one of Int16 or Float32 is populated, according to Format.
type SampleBuffer struct {
	Format  SampleFormat
	Int16   []int16
	Float32 []float32
}

// Len returns the number of samples in the buffer.
func (b SampleBuffer) Len() int {
	if b.Format == SampleFormatFloat32 {
		return len(b.Float32)
	}
	return len(b.Int16)
}

// Empty reports whether the buffer holds no samples.
func (b SampleBuffer) Empty() bool {
	return b.Len() == 0
}

// Slice returns the samples from index n onward, sharing storage.
func (b SampleBuffer) Slice(n int) SampleBuffer {
	if n >= b.Len() {
		return SampleBuffer{Format: b.Format}
	}
	if b.Format == SampleFormatFloat32 {
		return SampleBuffer{Format: b.Format, Float32: b.Float32[n:]}
	}
	return SampleBuffer{Format: b.Format, Int16: b.Int16[n:]}
}

// Int16Samples returns the buffer as int16 samples, converting from float if needed.
func (b SampleBuffer) Int16Samples() []int16 {
	if b.Format == SampleFormatInt16 {
		return b.Int16
	}
	out := make([]int16, len(b.Float32))
	for i, f := range b.Float32 {
		out[i] = int16(f * 32767)
	}
	return out
}

// Converter turns 16-bit signed little-endian PCM chunks into the
// device's native sample representation. It is stateless.
//
// Odd-length chunks are truncated: the trailing byte cannot form a sample
// and is discarded.
type Converter struct {
	Format SampleFormat
}

// NewConverter returns a converter producing the given representation.
func NewConverter(format SampleFormat) Converter {
	return Converter{Format: format}
}

// Convert converts a chunk. A chunk with no complete frame yields an empty buffer.
func (c Converter) Convert(chunk []byte) SampleBuffer {
	buf, _ := c.ConvertChecked(chunk)
	return buf
}

// ConvertChecked converts a chunk and reports whether a trailing byte was dropped.
func (c Converter) ConvertChecked(chunk []byte) (SampleBuffer, bool) {
	frames := len(chunk) / 2
	truncated := len(chunk)%2 != 0
	if frames == 0 {
		return SampleBuffer{Format: c.Format}, truncated
	}

	switch c.Format {
	case SampleFormatFloat32:
		out := make([]float32, frames)
		for i := range out {
			s := int16(binary.LittleEndian.Uint16(chunk[i*2:]))
			f := float32(s) / 32767
			if f < -1 {
				f = -1
			}
			out[i] = f
		}
		return SampleBuffer{Format: SampleFormatFloat32, Float32: out}, truncated
	default:
		return SampleBuffer{Format: SampleFormatInt16, Int16: BytesToSamples(chunk[:frames*2])}, truncated
	}
}
