package numeric_test

import (
	"testing"

	"github.com/fieldbus/deviceaccess/numeric"
)

func TestFixedPointRoundTrip(t *testing.T) {
	// 16-bit signed, 8 fractional bits: values are multiples of 1/256.
	c := numeric.NewFixedPointConverter(16, 8, true)

	for raw := int32(-32768); raw <= 32767; raw += 137 {
		r := uint32(uint16(raw))
		cooked := numeric.ToCooked[float64](c, r)
		back := numeric.ToRaw[float64](c, cooked)
		if back != r&0xFFFF {
			t.Fatalf("round trip raw=%d: got back=%d, cooked=%v", r, back, cooked)
		}
	}
}

func TestFixedPointUnsignedNoSignExtension(t *testing.T) {
	c := numeric.NewFixedPointConverter(8, 0, false)
	got := numeric.ToCooked[int32](c, 0xFF)
	if got != 255 {
		t.Fatalf("unsigned 0xFF should decode to 255, got %d", got)
	}
}

func TestFixedPointSignedSignExtension(t *testing.T) {
	c := numeric.NewFixedPointConverter(8, 0, true)
	got := numeric.ToCooked[int32](c, 0xFF) // all-ones byte == -1 in two's complement
	if got != -1 {
		t.Fatalf("signed 0xFF should decode to -1, got %d", got)
	}
}

func TestFixedPointEdgeCaseNFractionalEqualsNBits(t *testing.T) {
	// signed, nFractionalBits == nBits: max cooked = 0.5 - 2^-nBits, min = -0.5.
	c := numeric.NewFixedPointConverter(8, 8, true)

	maxRaw := uint32(0x7F) // most positive raw value
	minRaw := uint32(0x80) // most negative raw value

	maxCooked := numeric.ToCooked[float64](c, maxRaw)
	minCooked := numeric.ToCooked[float64](c, minRaw)

	wantMax := 0.5 - 1.0/256.0
	wantMin := -0.5

	if maxCooked != wantMax {
		t.Errorf("max cooked = %v, want %v", maxCooked, wantMax)
	}
	if minCooked != wantMin {
		t.Errorf("min cooked = %v, want %v", minCooked, wantMin)
	}
}

func TestFixedPointSaturationOnWrite(t *testing.T) {
	c := numeric.NewFixedPointConverter(8, 0, true) // signed byte, no scaling
	if got := numeric.ToRaw[float64](c, 1000.0); int8(got) != 127 {
		t.Errorf("overflow write should saturate to 127, got raw=%d", int8(got))
	}
	if got := numeric.ToRaw[float64](c, -1000.0); int8(got) != -128 {
		t.Errorf("underflow write should saturate to -128, got raw=%d", int8(got))
	}
}

func TestFixedPointOutOfRangeShiftProducesZero(t *testing.T) {
	c := numeric.NewFixedPointConverter(16, 100, true) // |nFractionalBits| > 32
	if got := numeric.ToCooked[float64](c, 0x1234); got != 0 {
		t.Errorf("out-of-range shift should decode to zero, got %v", got)
	}
	if got := numeric.ToRaw[float64](c, 3.14); got != 0 {
		t.Errorf("out-of-range shift should encode to zero, got %d", got)
	}
}
