package accessor_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/fieldbus/deviceaccess/accessor"
	"github.com/fieldbus/deviceaccess/registerpath"
	"github.com/fieldbus/deviceaccess/regcatalogue"
)

// fakeRaw is an in-memory RawChannel backing a single BAR, for exercising
// NumericTransfer without any real hardware.
type fakeRaw struct {
	mu   sync.Mutex
	bars map[int][]uint32 // byte address / 4 -> word
}

func newFakeRaw() *fakeRaw { return &fakeRaw{bars: make(map[int][]uint32)} }

func (f *fakeRaw) ensure(bar int, n int) {
	if len(f.bars[bar]) < n {
		grown := make([]uint32, n)
		copy(grown, f.bars[bar])
		f.bars[bar] = grown
	}
}

func (f *fakeRaw) ReadWords(ctx context.Context, bar int, byteAddress uint64, words []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := int(byteAddress / 4)
	f.ensure(bar, idx+len(words))
	copy(words, f.bars[bar][idx:idx+len(words)])
	return nil
}

func (f *fakeRaw) WriteWords(ctx context.Context, bar int, byteAddress uint64, words []uint32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	idx := int(byteAddress / 4)
	f.ensure(bar, idx+len(words))
	copy(f.bars[bar][idx:idx+len(words)], words)
	return nil
}

func scalarInfo() regcatalogue.RegisterInfo {
	return regcatalogue.RegisterInfo{
		Path:             registerpath.New("/SET_POINT", registerpath.DefaultSeparator),
		NElements:        1,
		NChannels:        1,
		Address:          0,
		SizeInBytes:      4,
		BAR:              0,
		ElementPitchBits: 32,
		Channels: []regcatalogue.ChannelInfo{
			{Width: 16, DataType: regcatalogue.FixedPoint, NFractionalBits: 8, Signed: true},
		},
		AccessMode: regcatalogue.ReadWrite,
	}
}

func TestScalarAccessorWriteThenRead(t *testing.T) {
	raw := newFakeRaw()
	info := scalarInfo()
	transfer := accessor.NewNumericTransfer(raw, info)
	acc := accessor.NewScalarAccessor[float64](info.Path, transfer, info.NElements, accessor.ModeNone, nil)

	acc.Channel(0)[0] = 12.5
	if err := acc.Write(context.Background()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	acc2 := accessor.NewScalarAccessor[float64](info.Path, accessor.NewNumericTransfer(raw, info), info.NElements, accessor.ModeNone, nil)
	if err := acc2.Read(context.Background()); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := acc2.Channel(0)[0]; got != 12.5 {
		t.Errorf("round trip = %v, want 12.5", got)
	}
}

func TestReadOnlyRegisterRejectsWrite(t *testing.T) {
	raw := newFakeRaw()
	info := scalarInfo()
	info.AccessMode = regcatalogue.ReadOnly
	transfer := accessor.NewNumericTransfer(raw, info)
	acc := accessor.NewScalarAccessor[float64](info.Path, transfer, info.NElements, accessor.ModeNone, nil)

	if err := acc.Write(context.Background()); err == nil {
		t.Error("expected error writing to a read-only register")
	}
}

func TestWriteOnlyRegisterRejectsRead(t *testing.T) {
	raw := newFakeRaw()
	info := scalarInfo()
	info.AccessMode = regcatalogue.WriteOnly
	transfer := accessor.NewNumericTransfer(raw, info)
	acc := accessor.NewScalarAccessor[float64](info.Path, transfer, info.NElements, accessor.ModeNone, nil)

	if err := acc.Read(context.Background()); err == nil {
		t.Error("expected error reading a write-only register")
	}
}

func TestInterruptUnblocksRead(t *testing.T) {
	raw := newFakeRaw()
	info := scalarInfo()
	info.AccessMode = regcatalogue.Interrupt
	info.InterruptID = []int{6}
	transfer := accessor.NewNumericTransfer(raw, info)
	acc := accessor.New[float64](info.Path, transfer, 1, 1, accessor.ModeWaitForNewData, nil)

	done := make(chan error, 1)
	go func() { done <- acc.Read(context.Background()) }()
	acc.Interrupt()

	err := <-done
	if !errors.Is(err, accessor.ErrInterrupted) {
		t.Errorf("expected ErrInterrupted, got %v", err)
	}
}

func TestPushThenReadNonBlocking(t *testing.T) {
	raw := newFakeRaw()
	info := scalarInfo()
	info.AccessMode = regcatalogue.Interrupt
	info.InterruptID = []int{6}
	transfer := accessor.NewNumericTransfer(raw, info)
	acc := accessor.New[float64](info.Path, transfer, 1, 1, accessor.ModeWaitForNewData, nil)

	acc.Push(accessor.VersionNumber(1))
	if err := acc.ReadNonBlocking(context.Background()); err != nil {
		t.Fatalf("ReadNonBlocking: %v", err)
	}
	if acc.VersionNumber() != accessor.VersionNumber(1) {
		t.Errorf("version = %d, want 1", acc.VersionNumber())
	}
}
