// Package mappedstruct implements MappedImage/MappedStruct (C14):
// a self-describing binary struct overlay over a single 1-D raw byte
// accessor, letting a caller address named fields of a packed hardware
// record instead of hand-computing byte offsets.
package mappedstruct

import (
	"context"
	"fmt"

	"github.com/fieldbus/deviceaccess/numeric"
)

// FieldKind selects how a field's raw bits are interpreted, mirroring
// regcatalogue.DataType without importing it (mappedstruct has no
// dependency on the catalogue; a field's layout is supplied directly by
// the caller building the image). Field and SetField do not consult it:
// every field, FieldIEEE754 included, is decoded and encoded as fixed
// point through numeric.FixedPointConverter.
type FieldKind int

const (
	FieldFixedPoint FieldKind = iota
	FieldIEEE754
)

// FieldSpec describes one named field of a MappedStruct record.
type FieldSpec struct {
	Name            string
	ByteOffset      int
	Width           int // bits, 1..32
	NFractionalBits int
	Signed          bool
	Kind            FieldKind
}

// RawAccessor is the minimal synchronous byte-addressable surface a
// MappedImage transfers through: a single contiguous block read/written
// as whole 32-bit words, matching accessor.RawChannel's contract for a
// one-channel register of NElements words.
type RawAccessor interface {
	ReadWords(ctx context.Context, bar int, byteAddress uint64, words []uint32) error
	WriteWords(ctx context.Context, bar int, byteAddress uint64, words []uint32) error
}

// MappedStruct is a compiled field layout: a list of FieldSpec entries
// plus the total record size, derived once and reused for every
// MappedImage built over the same register.
type MappedStruct struct {
	Fields    []FieldSpec
	SizeBytes int
	byName    map[string]int
}

// NewMappedStruct validates fields (no two overlap on the same byte
// within a 32-bit word boundary check is left to the caller; this
// layer trusts the caller-supplied offsets) and compiles a MappedStruct
// covering sizeBytes.
func NewMappedStruct(fields []FieldSpec, sizeBytes int) (*MappedStruct, error) {
	if sizeBytes%4 != 0 {
		return nil, fmt.Errorf("mappedstruct: sizeBytes %d is not a multiple of 4", sizeBytes)
	}
	byName := make(map[string]int, len(fields))
	for i, f := range fields {
		if f.ByteOffset+4 > sizeBytes {
			return nil, fmt.Errorf("mappedstruct: field %q at byte %d exceeds record size %d", f.Name, f.ByteOffset, sizeBytes)
		}
		if f.Width < 1 || f.Width > 32 {
			return nil, fmt.Errorf("mappedstruct: field %q width %d out of [1,32]", f.Name, f.Width)
		}
		if _, dup := byName[f.Name]; dup {
			return nil, fmt.Errorf("mappedstruct: duplicate field name %q", f.Name)
		}
		byName[f.Name] = i
	}
	return &MappedStruct{Fields: fields, SizeBytes: sizeBytes, byName: byName}, nil
}

// Image is a live read/write view of one MappedStruct-shaped record at a
// fixed (bar, address) in a RawAccessor's address space.
type Image struct {
	layout  *MappedStruct
	raw     RawAccessor
	bar     int
	address uint64

	words []uint32
}

// NewImage builds an Image over layout at (bar, address), reading through
// raw. The image's word buffer is lazily populated by Read.
func NewImage(layout *MappedStruct, raw RawAccessor, bar int, address uint64) *Image {
	return &Image{
		layout:  layout,
		raw:     raw,
		bar:     bar,
		address: address,
		words:   make([]uint32, layout.SizeBytes/4),
	}
}

// Read pulls the whole record from the backend into the image's buffer.
func (img *Image) Read(ctx context.Context) error {
	return img.raw.ReadWords(ctx, img.bar, img.address, img.words)
}

// Write pushes the image's buffer back to the backend.
func (img *Image) Write(ctx context.Context) error {
	return img.raw.WriteWords(ctx, img.bar, img.address, img.words)
}

// Field returns the typed cooked value of the named field from the
// image's current buffer contents (as last loaded by Read).
func Field[U numeric.Number](img *Image, name string) (U, error) {
	spec, err := img.layout.specFor(name)
	if err != nil {
		var zero U
		return zero, err
	}
	wordIdx := spec.ByteOffset / 4
	conv := numeric.NewFixedPointConverter(maxInt(spec.Width, 1), spec.NFractionalBits, spec.Signed)
	return numeric.ToCooked[U](conv, img.words[wordIdx]), nil
}

// SetField encodes value into the named field of the image's buffer.
// Callers must call Write to publish the change.
func SetField[U numeric.Number](img *Image, name string, value U) error {
	spec, err := img.layout.specFor(name)
	if err != nil {
		return err
	}
	wordIdx := spec.ByteOffset / 4
	conv := numeric.NewFixedPointConverter(maxInt(spec.Width, 1), spec.NFractionalBits, spec.Signed)
	img.words[wordIdx] = numeric.ToRaw(conv, value)
	return nil
}

func (m *MappedStruct) specFor(name string) (FieldSpec, error) {
	i, ok := m.byName[name]
	if !ok {
		return FieldSpec{}, fmt.Errorf("mappedstruct: no such field %q", name)
	}
	return m.Fields[i], nil
}

func maxInt(a, b int) int {
	if a > b {
		return a
	}
	return b
}
