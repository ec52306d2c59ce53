package backend_test

import (
	"context"
	"testing"

	"github.com/fieldbus/deviceaccess/accessor"
	"github.com/fieldbus/deviceaccess/asyncdomain"
	"github.com/fieldbus/deviceaccess/backend"
	"github.com/fieldbus/deviceaccess/consistency"
	"github.com/fieldbus/deviceaccess/diagnostics"
	"github.com/fieldbus/deviceaccess/internal/rawio"
	"github.com/fieldbus/deviceaccess/regcatalogue"
	"github.com/fieldbus/deviceaccess/registerpath"
)

type memOpener struct {
	sizes map[int]int
}

func (o *memOpener) OpenChannels(ctx context.Context) (map[int]rawio.Channel, error) {
	out := make(map[int]rawio.Channel)
	for bar, size := range o.sizes {
		out[bar] = rawio.NewMemChannel(size)
	}
	return out, nil
}

func (o *memOpener) CloseChannels(channels map[int]rawio.Channel) error {
	for _, ch := range channels {
		_ = ch.Close()
	}
	return nil
}

func newTestBackend(t *testing.T) (*backend.Backend, *regcatalogue.NumericAddressedRegisterCatalogue) {
	t.Helper()
	cat := regcatalogue.NewNumericAddressedRegisterCatalogue()
	info := regcatalogue.RegisterInfo{
		Path:             registerpath.New("/SET_POINT", registerpath.DefaultSeparator),
		NElements:        1,
		NChannels:        1,
		Address:          0,
		SizeInBytes:      4,
		BAR:              0,
		ElementPitchBits: 32,
		Channels: []regcatalogue.ChannelInfo{
			{Width: 32, DataType: regcatalogue.FixedPoint, Signed: true},
		},
		AccessMode: regcatalogue.ReadWrite,
	}
	if err := cat.AddRegister(info); err != nil {
		t.Fatalf("AddRegister: %v", err)
	}

	trigger := regcatalogue.RegisterInfo{
		Path:             registerpath.New("/TRIGGER", registerpath.DefaultSeparator),
		NElements:        1,
		NChannels:        1,
		Address:          4,
		SizeInBytes:      4,
		BAR:              0,
		ElementPitchBits: 32,
		Channels: []regcatalogue.ChannelInfo{
			{Width: 32, DataType: regcatalogue.FixedPoint, Signed: true},
		},
		AccessMode:  regcatalogue.Interrupt,
		InterruptID: []int{6},
	}
	if err := cat.AddRegister(trigger); err != nil {
		t.Fatalf("AddRegister trigger: %v", err)
	}

	domains := asyncdomain.NewContainer()
	t.Cleanup(domains.Close)

	opener := &memOpener{sizes: map[int]int{0: 64}}
	b := backend.New(opener, cat, domains, nil)
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return b, cat
}

func TestBackendScalarReadWriteRoundTrip(t *testing.T) {
	b, _ := newTestBackend(t)

	acc, err := backend.GetScalarAccessor[int32](b, registerpath.New("/SET_POINT", registerpath.DefaultSeparator), accessor.ModeNone)
	if err != nil {
		t.Fatalf("GetScalarAccessor: %v", err)
	}
	acc.Channel(0)[0] = 77
	if err := acc.Write(context.Background()); err != nil {
		t.Fatalf("Write: %v", err)
	}

	acc2, err := backend.GetScalarAccessor[int32](b, registerpath.New("/SET_POINT", registerpath.DefaultSeparator), accessor.ModeNone)
	if err != nil {
		t.Fatalf("GetScalarAccessor 2: %v", err)
	}
	if err := acc2.Read(context.Background()); err != nil {
		t.Fatalf("Read: %v", err)
	}
	if got := acc2.Channel(0)[0]; got != 77 {
		t.Errorf("round trip = %d, want 77", got)
	}
}

func TestBackendAsyncAccessorReceivesPush(t *testing.T) {
	b, _ := newTestBackend(t)

	acc, cancel, err := backend.GetAsyncAccessor[int32](context.Background(), b, registerpath.New("/TRIGGER", registerpath.DefaultSeparator))
	if err != nil {
		t.Fatalf("GetAsyncAccessor: %v", err)
	}
	defer cancel()

	// Subscribing activates the domain, which first queues its initial
	// version (0 from Backend.InitialVersion).
	if err := acc.ReadNonBlocking(context.Background()); err != nil {
		t.Fatalf("ReadNonBlocking (initial value): %v", err)
	}
	if acc.VersionNumber() != 0 {
		t.Errorf("initial version = %d, want 0", acc.VersionNumber())
	}

	acc.Push(accessor.VersionNumber(5))
	if err := acc.ReadNonBlocking(context.Background()); err != nil {
		t.Fatalf("ReadNonBlocking: %v", err)
	}
	if acc.VersionNumber() != 5 {
		t.Errorf("version = %d, want 5", acc.VersionNumber())
	}
}

func TestBackendSetExceptionBlocksFurtherTransfers(t *testing.T) {
	b, _ := newTestBackend(t)
	b.SetException("simulated fault")

	acc, err := backend.GetScalarAccessor[int32](b, registerpath.New("/SET_POINT", registerpath.DefaultSeparator), accessor.ModeNone)
	if err != nil {
		t.Fatalf("GetScalarAccessor: %v", err)
	}
	if err := acc.Read(context.Background()); err == nil {
		t.Error("expected read to fail while an exception is active")
	}
}

func TestBarIndexValidation(t *testing.T) {
	b, cat := newTestBackend(t)
	bad := regcatalogue.RegisterInfo{
		Path:             registerpath.New("/BAD_BAR", registerpath.DefaultSeparator),
		NElements:        1,
		NChannels:        1,
		Address:          0,
		SizeInBytes:      4,
		BAR:              9, // not physical (0-5), not DMA (13+)
		ElementPitchBits: 32,
		Channels: []regcatalogue.ChannelInfo{
			{Width: 32, DataType: regcatalogue.FixedPoint, Signed: true},
		},
		AccessMode: regcatalogue.ReadWrite,
	}
	if err := cat.AddRegister(bad); err != nil {
		t.Fatalf("AddRegister: %v", err)
	}
	acc, err := backend.GetScalarAccessor[int32](b, bad.Path, accessor.ModeNone)
	if err != nil {
		t.Fatalf("GetScalarAccessor: %v", err)
	}
	if err := acc.Read(context.Background()); err == nil {
		t.Error("expected read on invalid BAR to fail")
	}
}

func TestBackendConsistencyRealmSharesVersionAcrossRegisters(t *testing.T) {
	cat := regcatalogue.NewNumericAddressedRegisterCatalogue()
	a := regcatalogue.RegisterInfo{
		Path:             registerpath.New("/A", registerpath.DefaultSeparator),
		NElements:        1,
		NChannels:        1,
		Address:          0,
		SizeInBytes:      4,
		BAR:              0,
		ElementPitchBits: 32,
		Channels: []regcatalogue.ChannelInfo{
			{Width: 32, DataType: regcatalogue.FixedPoint, Signed: true},
		},
		AccessMode:           regcatalogue.ReadWrite,
		DataConsistencyRealm: "R",
	}
	b2 := regcatalogue.RegisterInfo{
		Path:             registerpath.New("/B", registerpath.DefaultSeparator),
		NElements:        1,
		NChannels:        1,
		Address:          4,
		SizeInBytes:      4,
		BAR:              0,
		ElementPitchBits: 32,
		Channels: []regcatalogue.ChannelInfo{
			{Width: 32, DataType: regcatalogue.FixedPoint, Signed: true},
		},
		AccessMode:           regcatalogue.ReadWrite,
		DataConsistencyRealm: "R",
	}
	if err := cat.AddRegister(a); err != nil {
		t.Fatalf("AddRegister a: %v", err)
	}
	if err := cat.AddRegister(b2); err != nil {
		t.Fatalf("AddRegister b: %v", err)
	}

	domains := asyncdomain.NewContainer()
	t.Cleanup(domains.Close)
	store := consistency.NewStore()
	opener := &memOpener{sizes: map[int]int{0: 64}}
	back := backend.New(opener, cat, domains, nil, backend.WithConsistencyStore(store))
	if err := back.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = back.Close() })

	accA, err := backend.GetScalarAccessor[int32](back, a.Path, accessor.ModeNone)
	if err != nil {
		t.Fatalf("GetScalarAccessor a: %v", err)
	}
	accB, err := backend.GetScalarAccessor[int32](back, b2.Path, accessor.ModeNone)
	if err != nil {
		t.Fatalf("GetScalarAccessor b: %v", err)
	}

	accA.Channel(0)[0] = 99
	if err := accA.Write(context.Background()); err != nil {
		t.Fatalf("Write a: %v", err)
	}
	accB.Channel(0)[0] = 99
	if err := accB.Write(context.Background()); err != nil {
		t.Fatalf("Write b: %v", err)
	}

	if err := accA.Read(context.Background()); err != nil {
		t.Fatalf("Read a: %v", err)
	}
	if err := accB.Read(context.Background()); err != nil {
		t.Fatalf("Read b: %v", err)
	}

	if accA.VersionNumber() != accB.VersionNumber() {
		t.Errorf("expected identical realm version for identical content, got %v vs %v", accA.VersionNumber(), accB.VersionNumber())
	}
	if store.Len() != 1 {
		t.Errorf("expected exactly one realm held while backend is open, got %d", store.Len())
	}
	if err := back.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if store.Len() != 0 {
		t.Errorf("expected realm released after Close, got %d held", store.Len())
	}
}

func TestBackendJournalRecordsTransfers(t *testing.T) {
	b, _ := newTestBackendWithJournal(t)

	acc, err := backend.GetScalarAccessor[int32](b.backend, registerpath.New("/SET_POINT", registerpath.DefaultSeparator), accessor.ModeNone)
	if err != nil {
		t.Fatalf("GetScalarAccessor: %v", err)
	}
	acc.Channel(0)[0] = 11
	if err := acc.Write(context.Background()); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := acc.Read(context.Background()); err != nil {
		t.Fatalf("Read: %v", err)
	}

	brokenAt, ok, err := b.journal.VerifyChain(context.Background())
	if err != nil {
		t.Fatalf("VerifyChain: %v", err)
	}
	if !ok {
		t.Errorf("expected an intact hash chain, broke at seq %d", brokenAt)
	}
}

type journalBackend struct {
	backend *backend.Backend
	journal *diagnostics.Journal
}

func newTestBackendWithJournal(t *testing.T) (journalBackend, *regcatalogue.NumericAddressedRegisterCatalogue) {
	t.Helper()
	cat := regcatalogue.NewNumericAddressedRegisterCatalogue()
	info := regcatalogue.RegisterInfo{
		Path:             registerpath.New("/SET_POINT", registerpath.DefaultSeparator),
		NElements:        1,
		NChannels:        1,
		Address:          0,
		SizeInBytes:      4,
		BAR:              0,
		ElementPitchBits: 32,
		Channels: []regcatalogue.ChannelInfo{
			{Width: 32, DataType: regcatalogue.FixedPoint, Signed: true},
		},
		AccessMode: regcatalogue.ReadWrite,
	}
	if err := cat.AddRegister(info); err != nil {
		t.Fatalf("AddRegister: %v", err)
	}

	domains := asyncdomain.NewContainer()
	t.Cleanup(domains.Close)

	journal, err := diagnostics.Open(":memory:")
	if err != nil {
		t.Fatalf("diagnostics.Open: %v", err)
	}
	t.Cleanup(func() { _ = journal.Close() })

	opener := &memOpener{sizes: map[int]int{0: 64}}
	b := backend.New(opener, cat, domains, nil, backend.WithJournal(journal))
	if err := b.Open(context.Background()); err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	return journalBackend{backend: b, journal: journal}, cat
}
