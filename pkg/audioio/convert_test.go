package audioio

import (
	"math"
	"testing"
)

func TestConverter_Int16Passthrough(t *testing.T) {
	c := NewConverter(SampleFormatInt16)
	buf := c.Convert([]byte{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80})

	want := []int16{0, 32767, -32768}
	if buf.Format != SampleFormatInt16 {
		t.Fatalf("Expected int16 buffer, got %s", buf.Format)
	}
	if len(buf.Int16) != len(want) {
		t.Fatalf("Expected %d samples, got %d", len(want), len(buf.Int16))
	}
	for i, s := range want {
		if buf.Int16[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, buf.Int16[i])
		}
	}
}

func TestConverter_Float32(t *testing.T) {
	c := NewConverter(SampleFormatFloat32)
	buf := c.Convert([]byte{0x00, 0x00, 0xff, 0x7f, 0x00, 0x80})

	if buf.Format != SampleFormatFloat32 {
		t.Fatalf("Expected float32 buffer, got %s", buf.Format)
	}
	want := []float32{0, 1, -1}
	for i, f := range want {
		if buf.Float32[i] != f {
			t.Errorf("Sample %d: expected %v, got %v", i, f, buf.Float32[i])
		}
	}
}

func TestConverter_Float32Range(t *testing.T) {
	c := NewConverter(SampleFormatFloat32)

	samples := make([]int16, 0, 65536)
	for s := math.MinInt16; s <= math.MaxInt16; s++ {
		samples = append(samples, int16(s))
	}
	buf := c.Convert(SamplesToBytes(samples))

	if buf.Len() != len(samples) {
		t.Fatalf("Expected %d samples, got %d", len(samples), buf.Len())
	}
	for i, f := range buf.Float32 {
		if f < -1 || f > 1 {
			t.Fatalf("Sample %d (%d) out of range: %v", i, samples[i], f)
		}
	}
}

func TestConverter_OddLengthTruncates(t *testing.T) {
	for _, format := range []SampleFormat{SampleFormatInt16, SampleFormatFloat32} {
		c := NewConverter(format)
		buf, truncated := c.ConvertChecked([]byte{0x01, 0x00, 0x02, 0x00, 0x03})
		if !truncated {
			t.Errorf("%s: expected truncation to be reported", format)
		}
		if buf.Len() != 2 {
			t.Errorf("%s: expected 2 samples, got %d", format, buf.Len())
		}
	}
}

func TestConverter_Empty(t *testing.T) {
	c := NewConverter(SampleFormatFloat32)

	if buf := c.Convert(nil); !buf.Empty() {
		t.Errorf("Expected empty buffer for nil chunk, got %d samples", buf.Len())
	}

	buf, truncated := c.ConvertChecked([]byte{0x7f})
	if !buf.Empty() {
		t.Errorf("Expected empty buffer for single byte, got %d samples", buf.Len())
	}
	if !truncated {
		t.Error("Expected single byte chunk to report truncation")
	}
}

func TestSampleBuffer_Slice(t *testing.T) {
	buf := SampleBuffer{Format: SampleFormatInt16, Int16: []int16{1, 2, 3}}

	rest := buf.Slice(1)
	if rest.Len() != 2 || rest.Int16[0] != 2 {
		t.Errorf("Unexpected slice: %v", rest.Int16)
	}
	if !buf.Slice(3).Empty() {
		t.Error("Expected slicing past the end to be empty")
	}
}

func TestSampleBuffer_Int16Samples(t *testing.T) {
	buf := SampleBuffer{Format: SampleFormatFloat32, Float32: []float32{1, 0, -1}}
	got := buf.Int16Samples()
	want := []int16{32767, 0, -32767}
	for i, s := range want {
		if got[i] != s {
			t.Errorf("Sample %d: expected %d, got %d", i, s, got[i])
		}
	}
}

func TestSampleFormat_UnmarshalText(t *testing.T) {
	tests := []struct {
		in      string
		want    SampleFormat
		wantErr bool
	}{
		{"int16", SampleFormatInt16, false},
		{"s16le", SampleFormatInt16, false},
		{"float32", SampleFormatFloat32, false},
		{"f32", SampleFormatFloat32, false},
		{"u8", 0, true},
	}

	for _, tt := range tests {
		var f SampleFormat
		err := f.UnmarshalText([]byte(tt.in))
		if (err != nil) != tt.wantErr {
			t.Errorf("UnmarshalText(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && f != tt.want {
			t.Errorf("UnmarshalText(%q) = %s, want %s", tt.in, f, tt.want)
		}
	}
}

func BenchmarkConverter_Float32(b *testing.B) {
	c := NewConverter(SampleFormatFloat32)
	chunk := make([]byte, 960)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = c.Convert(chunk)
	}
}
