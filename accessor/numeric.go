package accessor

import (
	"context"
	"fmt"
	"math"

	"github.com/fieldbus/deviceaccess/numeric"
	"github.com/fieldbus/deviceaccess/regcatalogue"
)

// decodeRaw converts a raw 32-bit storage word into a cooked U according to
// dataType: FIXED_POINT goes through conv, IEEE754 reinterprets the word as
// an IEEE-754 single-precision float, ASCII passes the word through as a
// plain integer character code, and VOID always decodes to the zero value.
func decodeRaw[U numeric.Number](dataType regcatalogue.DataType, conv *numeric.FixedPointConverter, raw uint32) U {
	switch dataType {
	case regcatalogue.IEEE754:
		return numeric.Convert[U](float64(math.Float32frombits(raw)))
	case regcatalogue.ASCII:
		return numeric.Convert[U](float64(raw))
	case regcatalogue.Void:
		var zero U
		return zero
	default:
		return numeric.ToCooked[U](conv, raw)
	}
}

// encodeRaw is decodeRaw's inverse for the write path.
func encodeRaw[U numeric.Number](dataType regcatalogue.DataType, conv *numeric.FixedPointConverter, cooked U) uint32 {
	switch dataType {
	case regcatalogue.IEEE754:
		return math.Float32bits(float32(numeric.Convert[float64](cooked)))
	case regcatalogue.ASCII:
		return numeric.Convert[uint32](cooked)
	case regcatalogue.Void:
		return 0
	default:
		return numeric.ToRaw(conv, cooked)
	}
}

// RawChannel is the minimal synchronous raw-word I/O surface a
// NumericAddressedBackend exposes to a cooked accessor: read/write a run
// of 32-bit words at a byte address within one BAR.
type RawChannel interface {
	ReadWords(ctx context.Context, bar int, byteAddress uint64, words []uint32) error
	WriteWords(ctx context.Context, bar int, byteAddress uint64, words []uint32) error
}

// NumericTransfer adapts a RawChannel plus a RegisterInfo into a
// TransferImplementor for FIXED_POINT/VOID/IEEE754/ASCII scalar and 1-D
// registers. 2-D (multiplexed) registers use MuxedTransfer instead.
type NumericTransfer struct {
	raw  RawChannel
	info regcatalogue.RegisterInfo
	conv *numeric.FixedPointConverter

	rawWords []uint32
	writable bool

	// resolveVersion, if set, lets a DataConsistencyRealm override the
	// version stamped on the next completed read (see
	// accessor.VersionResolver). It is consulted through raw words just
	// transferred, so the realm can key its version allocation on the
	// content actually read rather than a synthetic counter.
	resolveVersion func(rawWords []uint32) (VersionNumber, bool)
}

// NewNumericTransfer builds a NumericTransfer for info's single channel.
// It panics if info has more than one channel — callers must route
// multiplexed registers through MuxedTransfer instead, a programming
// error rather than a runtime condition.
func NewNumericTransfer(raw RawChannel, info regcatalogue.RegisterInfo) *NumericTransfer {
	if info.NChannels != 1 {
		panic("accessor: NewNumericTransfer requires a single-channel register")
	}
	ch := info.Channels[0]
	conv := numeric.NewFixedPointConverter(maxInt(ch.Width, 1), ch.NFractionalBits, ch.Signed)
	return &NumericTransfer{
		raw:      raw,
		info:     info,
		conv:     conv,
		rawWords: make([]uint32, info.NElements),
		writable: info.AccessMode == regcatalogue.ReadWrite || info.AccessMode == regcatalogue.WriteOnly,
	}
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}

func (t *NumericTransfer) PreRead(kind TransferType) error {
	if t.info.AccessMode == regcatalogue.WriteOnly {
		return fmt.Errorf("register %s is write-only", t.info.Path)
	}
	return nil
}

func (t *NumericTransfer) ReadTransfer(ctx context.Context) (bool, error) {
	if err := t.raw.ReadWords(ctx, t.info.BAR, t.info.Address, t.rawWords); err != nil {
		return false, err
	}
	return true, nil
}

// PostReadInto decodes rawWords into dst using the converter; exported as
// a free function so both scalar and future wrapper accessors can reuse
// the decode step without re-deriving a TransferImplementor per element
// type.
func PostReadInto[U numeric.Number](t *NumericTransfer, dst []U) {
	dataType := t.info.Channels[0].DataType
	for i, w := range t.rawWords {
		if i >= len(dst) {
			break
		}
		dst[i] = decodeRaw[U](dataType, t.conv, w)
	}
}

func (t *NumericTransfer) PostRead(kind TransferType, hasNewData bool) error {
	return nil // decoding happens via PostReadInto, invoked by the typed wrapper.
}

// SetVersionResolver attaches a DataConsistencyRealm-backed version
// resolver. Passing nil restores the default per-process version
// counter.
func (t *NumericTransfer) SetVersionResolver(resolve func(rawWords []uint32) (VersionNumber, bool)) {
	t.resolveVersion = resolve
}

// ResolveVersion implements accessor.VersionResolver.
func (t *NumericTransfer) ResolveVersion() (VersionNumber, bool) {
	if t.resolveVersion == nil {
		return 0, false
	}
	return t.resolveVersion(t.rawWords)
}

func (t *NumericTransfer) PreWrite(kind TransferType, version VersionNumber) error {
	if !t.writable {
		return fmt.Errorf("register %s is read-only", t.info.Path)
	}
	return nil
}

// PreWriteFrom encodes src into rawWords ahead of WriteTransfer.
func PreWriteFrom[U numeric.Number](t *NumericTransfer, src []U) {
	dataType := t.info.Channels[0].DataType
	for i := range t.rawWords {
		if i >= len(src) {
			t.rawWords[i] = 0
			continue
		}
		t.rawWords[i] = encodeRaw(dataType, t.conv, src[i])
	}
}

func (t *NumericTransfer) WriteTransfer(ctx context.Context, version VersionNumber) (bool, error) {
	if err := t.raw.WriteWords(ctx, t.info.BAR, t.info.Address, t.rawWords); err != nil {
		return false, err
	}
	return false, nil
}

func (t *NumericTransfer) PostWrite(kind TransferType, version VersionNumber, writeErr error) error {
	return nil
}
