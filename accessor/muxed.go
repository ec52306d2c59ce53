package accessor

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/fieldbus/deviceaccess/numeric"
	"github.com/fieldbus/deviceaccess/regcatalogue"
	"github.com/fieldbus/deviceaccess/registerpath"
)

// MuxedTransfer adapts a RawChannel plus a multi-channel RegisterInfo into
// a TransferImplementor for 2-D (multiplexed) registers: NChannels
// independently-typed channels interleaved byte-wise within each of
// NElements fixed-size blocks, per SPEC_FULL.md §4.4.
type MuxedTransfer struct {
	raw  RawChannel
	info regcatalogue.RegisterInfo
	convs []*numeric.FixedPointConverter

	bytesPerBlock int
	rawBytes      []byte
	writable      bool
}

// NewMuxedTransfer builds a MuxedTransfer for info, which must have more
// than one channel; scalar/1-D registers use NewNumericTransfer instead.
func NewMuxedTransfer(raw RawChannel, info regcatalogue.RegisterInfo) *MuxedTransfer {
	if info.NChannels <= 1 {
		panic("accessor: NewMuxedTransfer requires a multi-channel register")
	}
	convs := make([]*numeric.FixedPointConverter, len(info.Channels))
	for i, c := range info.Channels {
		width := c.Width
		if width == 0 {
			width = 1
		}
		convs[i] = numeric.NewFixedPointConverter(width, c.NFractionalBits, c.Signed)
	}
	return &MuxedTransfer{
		raw:           raw,
		info:          info,
		convs:         convs,
		bytesPerBlock: info.ElementPitchBits / 8,
		rawBytes:      make([]byte, info.SizeInBytes),
		writable:      info.AccessMode == regcatalogue.ReadWrite || info.AccessMode == regcatalogue.WriteOnly,
	}
}

func (t *MuxedTransfer) wordCount() int {
	return int((t.info.SizeInBytes + 3) / 4)
}

func (t *MuxedTransfer) PreRead(kind TransferType) error {
	if t.info.AccessMode == regcatalogue.WriteOnly {
		return fmt.Errorf("register %s is write-only", t.info.Path)
	}
	return nil
}

func (t *MuxedTransfer) ReadTransfer(ctx context.Context) (bool, error) {
	words := make([]uint32, t.wordCount())
	if err := t.raw.ReadWords(ctx, t.info.BAR, t.info.Address, words); err != nil {
		return false, err
	}
	var buf [4]byte
	for i, w := range words {
		off := i * 4
		if off >= len(t.rawBytes) {
			break
		}
		binary.LittleEndian.PutUint32(buf[:], w)
		copy(t.rawBytes[off:], buf[:])
	}
	return true, nil
}

func (t *MuxedTransfer) PostRead(kind TransferType, hasNewData bool) error {
	return nil // decoding happens via MuxedPostReadInto, invoked by the typed wrapper.
}

func (t *MuxedTransfer) PreWrite(kind TransferType, version VersionNumber) error {
	if !t.writable {
		return fmt.Errorf("register %s is read-only", t.info.Path)
	}
	return nil
}

func (t *MuxedTransfer) WriteTransfer(ctx context.Context, version VersionNumber) (bool, error) {
	words := make([]uint32, t.wordCount())
	var buf [4]byte
	for i := range words {
		off := i * 4
		n := copy(buf[:], t.rawBytes[off:])
		for j := n; j < 4; j++ {
			buf[j] = 0
		}
		words[i] = binary.LittleEndian.Uint32(buf[:])
	}
	if err := t.raw.WriteWords(ctx, t.info.BAR, t.info.Address, words); err != nil {
		return false, err
	}
	return false, nil
}

func (t *MuxedTransfer) PostWrite(kind TransferType, version VersionNumber, writeErr error) error {
	return nil
}

// channelWordBytes falls back to the full converter width (rounded up to a
// byte count) when a channel's WordBytes wasn't set explicitly.
func (t *MuxedTransfer) channelWordBytes(ch int) int {
	if n := t.info.Channels[ch].WordBytes; n > 0 {
		return n
	}
	return (t.convs[ch].NBits() + 7) / 8
}

func (t *MuxedTransfer) readChannelRaw(ch, block int) uint32 {
	byteOffset := t.info.Channels[ch].BitOffset / 8
	n := t.channelWordBytes(ch)
	start := block*t.bytesPerBlock + byteOffset
	var buf [4]byte
	copy(buf[:], t.rawBytes[start:start+n])
	return binary.LittleEndian.Uint32(buf[:])
}

func (t *MuxedTransfer) writeChannelRaw(ch, block int, raw uint32) {
	byteOffset := t.info.Channels[ch].BitOffset / 8
	n := t.channelWordBytes(ch)
	start := block*t.bytesPerBlock + byteOffset
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], raw)
	copy(t.rawBytes[start:start+n], buf[:n])
}

// MuxedPostReadInto decodes the just-transferred raw block buffer into
// dst, one slice per channel, mirroring PostReadInto's role for
// NumericTransfer.
func MuxedPostReadInto[U numeric.Number](t *MuxedTransfer, dst [][]U) {
	nBlocks := t.info.NElements
	for ch := range t.convs {
		dataType := t.info.Channels[ch].DataType
		for b := 0; b < nBlocks && b < len(dst[ch]); b++ {
			dst[ch][b] = decodeRaw[U](dataType, t.convs[ch], t.readChannelRaw(ch, b))
		}
	}
}

// MuxedPreWriteFrom encodes src, one slice per channel, into the raw block
// buffer ahead of WriteTransfer.
func MuxedPreWriteFrom[U numeric.Number](t *MuxedTransfer, src [][]U) {
	nBlocks := t.info.NElements
	for ch := range t.convs {
		dataType := t.info.Channels[ch].DataType
		for b := 0; b < nBlocks; b++ {
			var v U
			if b < len(src[ch]) {
				v = src[ch][b]
			}
			t.writeChannelRaw(ch, b, encodeRaw(dataType, t.convs[ch], v))
		}
	}
}

// MuxedAccessor ties an NDRegisterAccessor to a MuxedTransfer so the raw
// multi-channel decode/encode steps run automatically around Read/Write,
// the 2-D counterpart of ScalarAccessor.
type MuxedAccessor[U numeric.Number] struct {
	*NDRegisterAccessor[U]
	transfer *MuxedTransfer
}

// NewMuxedAccessor builds a ready-to-use cooked 2-D accessor.
func NewMuxedAccessor[U numeric.Number](path registerpath.Path, transfer *MuxedTransfer, nChannels, nElements int, mode AccessMode, sink ExceptionSink) *MuxedAccessor[U] {
	return &MuxedAccessor[U]{
		NDRegisterAccessor: New[U](path, transfer, nChannels, nElements, mode, sink),
		transfer:           transfer,
	}
}

func (m *MuxedAccessor[U]) channelSlices() [][]U {
	out := make([][]U, m.NChannels())
	for i := range out {
		out[i] = m.NDRegisterAccessor.Channel(i)
	}
	return out
}

func (m *MuxedAccessor[U]) Read(ctx context.Context) error {
	if err := m.NDRegisterAccessor.Read(ctx); err != nil {
		return err
	}
	MuxedPostReadInto(m.transfer, m.channelSlices())
	return nil
}

func (m *MuxedAccessor[U]) Write(ctx context.Context) error {
	MuxedPreWriteFrom(m.transfer, m.channelSlices())
	return m.NDRegisterAccessor.Write(ctx)
}
