// Package regcatalogue holds the register descriptor data model
// (RegisterInfo) and the typed container of descriptors
// (NumericAddressedRegisterCatalogue / BackendRegisterCatalogue) that a
// map-file parse populates and a backend consults.
package regcatalogue

import (
	"fmt"

	"github.com/fieldbus/deviceaccess/registerpath"
)

// DataType identifies how a channel's bits are interpreted.
type DataType int

const (
	FixedPoint DataType = iota
	IEEE754
	ASCII
	Void
)

func (d DataType) String() string {
	switch d {
	case FixedPoint:
		return "FIXED_POINT"
	case IEEE754:
		return "IEEE754"
	case ASCII:
		return "ASCII"
	case Void:
		return "VOID"
	default:
		return "UNKNOWN"
	}
}

// Access is the register's allowed transfer direction.
type Access int

const (
	ReadOnly Access = iota
	ReadWrite
	WriteOnly
	Interrupt
)

func (a Access) String() string {
	switch a {
	case ReadOnly:
		return "RO"
	case ReadWrite:
		return "RW"
	case WriteOnly:
		return "WO"
	case Interrupt:
		return "INTERRUPT"
	default:
		return "UNKNOWN"
	}
}

// ChannelInfo describes one channel of a (possibly multiplexed) register.
type ChannelInfo struct {
	BitOffset       int
	DataType        DataType
	Width           int // bits, 0..32
	NFractionalBits int // -1024..1023
	Signed          bool

	// WordBytes is the per-block storage size of this channel in bytes
	// (1, 2, or 4) for a 2-D multiplexed register's channel; it is the
	// byte span MuxedTransfer reads/writes to recover the raw word that
	// Width/NFractionalBits then interpret. Zero (the default for a
	// scalar/1-D register's single channel) means "whole word," since
	// NumericTransfer always reads a full ElementPitchBits/8 span.
	WordBytes int
}

// RegisterInfo is a single catalogue entry: the full addressing and typing
// metadata needed to construct an accessor for one register.
type RegisterInfo struct {
	Path     registerpath.Path
	NElements int // samples per channel
	NChannels int // 1 for scalar/1-D, >1 for 2-D multiplexed

	Address      uint64 // byte offset within the BAR
	SizeInBytes  uint64
	BAR          int
	ElementPitchBits int // bit distance between successive samples of one channel

	Channels []ChannelInfo

	AccessMode Access

	// InterruptID is the non-empty chain of interrupt domain identifiers
	// for INTERRUPT registers (e.g. [6] or [1,2]). Nil for non-async
	// registers.
	InterruptID []int

	// DataConsistencyRealm optionally names a consistency realm (see
	// package consistency) this register's version numbers are drawn
	// from.
	DataConsistencyRealm string
}

// Validate checks the invariants from spec.md §3 and returns the first
// violation found, or nil.
func (r RegisterInfo) Validate() error {
	if r.NElements <= 0 {
		return fmt.Errorf("regcatalogue: %s: nElements must be positive, got %d", r.Path, r.NElements)
	}
	if r.NChannels <= 0 {
		return fmt.Errorf("regcatalogue: %s: nChannels must be positive, got %d", r.Path, r.NChannels)
	}
	if r.ElementPitchBits%8 != 0 {
		return fmt.Errorf("regcatalogue: %s: elementPitchBits %% 8 != 0 (got %d)", r.Path, r.ElementPitchBits)
	}
	wantSize := uint64(r.NElements) * uint64(r.ElementPitchBits) / 8
	if r.SizeInBytes != wantSize {
		return fmt.Errorf("regcatalogue: %s: sizeInBytes %d != nElements*elementPitchBits/8 (%d)", r.Path, r.SizeInBytes, wantSize)
	}
	for i, c := range r.Channels {
		if c.BitOffset+c.Width > r.ElementPitchBits {
			return fmt.Errorf("regcatalogue: %s: channel %d bitOffset+width (%d) exceeds elementPitchBits (%d)", r.Path, i, c.BitOffset+c.Width, r.ElementPitchBits)
		}
		if c.Width < 0 || c.Width > 32 {
			return fmt.Errorf("regcatalogue: %s: channel %d width %d out of [0,32]", r.Path, i, c.Width)
		}
		if c.Width == 0 && c.DataType != Void {
			return fmt.Errorf("regcatalogue: %s: channel %d has width 0 but dataType %s != VOID", r.Path, i, c.DataType)
		}
		if c.NFractionalBits < -1024 || c.NFractionalBits > 1023 {
			return fmt.Errorf("regcatalogue: %s: channel %d nFractionalBits %d out of [-1024,1023]", r.Path, i, c.NFractionalBits)
		}
	}
	if r.AccessMode == Interrupt && len(r.InterruptID) == 0 {
		return fmt.Errorf("regcatalogue: %s: INTERRUPT register must carry a non-empty interruptId chain", r.Path)
	}
	return nil
}

// IsScalar reports whether this register is a plain scalar/1-D register
// (exactly one channel).
func (r RegisterInfo) IsScalar() bool { return r.NChannels == 1 }

// Clone returns a deep copy of r, suitable for handing to user code without
// exposing any backend-owned slices.
func (r RegisterInfo) Clone() RegisterInfo {
	out := r
	out.Channels = append([]ChannelInfo(nil), r.Channels...)
	out.InterruptID = append([]int(nil), r.InterruptID...)
	return out
}
