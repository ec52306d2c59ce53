package numeric_test

import (
	"math"
	"testing"

	"github.com/fieldbus/deviceaccess/numeric"
)

func TestConvertFloatToIntRounding(t *testing.T) {
	cases := []struct {
		in   float64
		want int32
	}{
		{2.49, 2},
		{2.51, 3},
		{-2.49, -2},
		{-2.51, -3},
		{2.5, 2},  // ties to even
		{3.5, 4},  // ties to even
		{-2.5, -2}, // ties to even
	}
	for _, c := range cases {
		got := numeric.Convert[int32](c.in)
		if got != c.want {
			t.Errorf("Convert[int32](%v) = %d, want %d", c.in, got, c.want)
		}
	}
}

func TestConvertFloatSaturation(t *testing.T) {
	if got := numeric.Convert[int8](1e10); got != math.MaxInt8 {
		t.Errorf("large positive should saturate to MaxInt8, got %d", got)
	}
	if got := numeric.Convert[int8](-1e10); got != math.MinInt8 {
		t.Errorf("large negative should saturate to MinInt8, got %d", got)
	}
	if got := numeric.Convert[int32](math.Inf(1)); got != math.MaxInt32 {
		t.Errorf("+Inf should saturate to MaxInt32, got %d", got)
	}
	if got := numeric.Convert[int32](math.Inf(-1)); got != math.MinInt32 {
		t.Errorf("-Inf should saturate to MinInt32, got %d", got)
	}
	if got := numeric.Convert[uint8](-5.0); got != 0 {
		t.Errorf("negative float into unsigned should clamp to 0, got %d", got)
	}
}

func TestConvertNaNMapping(t *testing.T) {
	if got := numeric.Convert[int16](math.NaN()); got != math.MinInt16 {
		t.Errorf("NaN → signed should map to MinInt16, got %d", got)
	}
	if got := numeric.Convert[uint16](math.NaN()); got != math.MaxUint16 {
		t.Errorf("NaN → unsigned should map to MaxUint16, got %d", got)
	}
}

func TestConvertIntToIntSaturation(t *testing.T) {
	if got := numeric.Convert[int8](int32(200)); got != math.MaxInt8 {
		t.Errorf("200 into int8 should saturate to 127, got %d", got)
	}
	if got := numeric.Convert[int8](int32(-200)); got != math.MinInt8 {
		t.Errorf("-200 into int8 should saturate to -128, got %d", got)
	}
	if got := numeric.Convert[uint8](int32(-1)); got != 0 {
		t.Errorf("-1 into uint8 should clamp to 0, got %d", got)
	}
	if got := numeric.Convert[uint32](int64(-1)); got != 0 {
		t.Errorf("-1 into uint32 should clamp to 0, got %d", got)
	}
	if got := numeric.Convert[int32](uint64(math.MaxUint64)); got != math.MaxInt32 {
		t.Errorf("huge unsigned into int32 should saturate to MaxInt32, got %d", got)
	}
}

func TestConvertFloatToFloatPreservesSpecialValues(t *testing.T) {
	if got := numeric.Convert[float64](float32(math.NaN())); !math.IsNaN(got) {
		t.Errorf("NaN must round-trip through float→float conversion")
	}
	if got := numeric.Convert[float32](math.Inf(-1)); !math.IsInf(float64(got), -1) {
		t.Errorf("-Inf must round-trip through float→float conversion")
	}
	negZero := math.Copysign(0, -1)
	got := numeric.Convert[float32](negZero)
	if math.Signbit(float64(got)) == false {
		t.Errorf("sign of negative zero must be preserved, got %v", got)
	}
}

func TestFromVoidAndToVoid(t *testing.T) {
	if got := numeric.FromVoid[int32](); got != 0 {
		t.Errorf("FromVoid must yield the zero value, got %d", got)
	}
	_ = numeric.ToVoid(int32(42)) // must not panic; Void carries no data.
}
