// Package backend implements NumericAddressedBackend: the common
// register-transfer engine shared by every concrete backend (shared
// dummy, rebot, and any future PCIe/uio/xdma implementation). A concrete
// backend supplies only a rawio.Channel per BAR and an IOOpener; this
// package supplies catalogue-driven accessor construction, async
// dispatch, and fault-state tracking.
package backend

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/fieldbus/deviceaccess/accessor"
	"github.com/fieldbus/deviceaccess/asyncdomain"
	"github.com/fieldbus/deviceaccess/consistency"
	"github.com/fieldbus/deviceaccess/diagnostics"
	"github.com/fieldbus/deviceaccess/internal/rawio"
	"github.com/fieldbus/deviceaccess/numeric"
	"github.com/fieldbus/deviceaccess/regcatalogue"
	"github.com/fieldbus/deviceaccess/registerpath"
)

// IOOpener supplies and releases the raw BAR channels a backend transfers
// through. Concrete backends (shareddummy, rebot) implement this to plug
// their transport into the shared engine.
type IOOpener interface {
	// OpenChannels returns a rawio.Channel per BAR, keyed by BAR number.
	OpenChannels(ctx context.Context) (map[int]rawio.Channel, error)
	CloseChannels(channels map[int]rawio.Channel) error
}

// barPhysicalMax is the highest BAR number treated as a physical region;
// BAR numbers from dmaBarMin up are DMA channels. Both ranges are valid
// by default; a concrete backend may further restrict via
// BarIndexValidator.
const (
	barPhysicalMax = 5
	dmaBarMin      = 13
)

// BarIndexValidator lets a concrete backend accept BAR numbers outside
// the default physical/DMA convention (e.g. a simulator with a single
// synthetic BAR 0 only).
type BarIndexValidator interface {
	BarIndexValid(bar int) bool
}

func defaultBarIndexValid(bar int) bool {
	return (bar >= 0 && bar <= barPhysicalMax) || bar >= dmaBarMin
}

// Backend is NumericAddressedBackend (C9).
type Backend struct {
	opener    IOOpener
	catalogue *regcatalogue.NumericAddressedRegisterCatalogue
	domains   *asyncdomain.Container
	validator BarIndexValidator

	mu       sync.Mutex
	channels map[int]rawio.Channel
	isOpen   bool

	exceptionMu sync.Mutex
	exception   string

	asyncMu sync.Mutex
	asyncOn bool

	consistencyStore  *consistency.Store
	consistencyRealms map[string]*consistency.Realm

	journal *diagnostics.Journal
}

// Option configures optional Backend behavior not every concrete backend
// needs (a DataConsistencyRealm store, a TransferJournal) without
// breaking existing four-argument New call sites.
type Option func(*Backend)

// WithConsistencyStore attaches store; New then acquires a realm for
// every distinct RegisterInfo.DataConsistencyRealm name present in
// catalogue, releasing them all on Close.
func WithConsistencyStore(store *consistency.Store) Option {
	return func(b *Backend) {
		b.consistencyStore = store
	}
}

// WithJournal attaches j; every ReadWords, WriteWords, and SetException
// call then appends a Record to it.
func WithJournal(j *diagnostics.Journal) Option {
	return func(b *Backend) {
		b.journal = j
	}
}

// New constructs a Backend over catalogue, delegating BAR transport to
// opener. domains may be shared across several backends that feed the
// same DomainsContainer (not the usual case) or private to one backend.
func New(opener IOOpener, catalogue *regcatalogue.NumericAddressedRegisterCatalogue, domains *asyncdomain.Container, validator BarIndexValidator, opts ...Option) *Backend {
	if validator == nil {
		validator = barIndexValidatorFunc(defaultBarIndexValid)
	}
	b := &Backend{
		opener:    opener,
		catalogue: catalogue,
		domains:   domains,
		validator: validator,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.consistencyStore != nil {
		b.consistencyRealms = make(map[string]*consistency.Realm)
		for _, info := range catalogue.ListRegisters() {
			name := info.DataConsistencyRealm
			if name == "" || b.consistencyRealms[name] != nil {
				continue
			}
			b.consistencyRealms[name] = b.consistencyStore.Acquire(name)
		}
	}
	return b
}

type barIndexValidatorFunc func(bar int) bool

func (f barIndexValidatorFunc) BarIndexValid(bar int) bool { return f(bar) }

// Open acquires the underlying I/O channels and clears any active
// exception. On an already-open backend it only clears the exception.
func (b *Backend) Open(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.isOpen {
		b.clearException()
		return nil
	}
	channels, err := b.opener.OpenChannels(ctx)
	if err != nil {
		return fmt.Errorf("backend: open: %w", err)
	}
	b.channels = channels
	b.isOpen = true
	b.clearException()
	return nil
}

// Close flips every domain to inactive, releases any acquired
// consistency realms, and releases I/O channels.
func (b *Backend) Close() error {
	b.domains.ForEach(func(id string, d *asyncdomain.Domain) {
		d.Deactivate()
	})

	if b.consistencyStore != nil {
		for name := range b.consistencyRealms {
			b.consistencyStore.Release(name)
		}
		b.consistencyRealms = nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isOpen {
		return nil
	}
	err := b.opener.CloseChannels(b.channels)
	b.channels = nil
	b.isOpen = false
	return err
}

// barIndexValid checks a BAR number against the configured convention.
func (b *Backend) barIndexValid(bar int) bool { return b.validator.BarIndexValid(bar) }

func (b *Backend) channelFor(bar int) (rawio.Channel, error) {
	if !b.barIndexValid(bar) {
		return nil, fmt.Errorf("backend: BAR %d is not a valid BAR index", bar)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.isOpen {
		return nil, fmt.Errorf("backend: device is not open")
	}
	ch, ok := b.channels[bar]
	if !ok {
		return nil, fmt.Errorf("backend: BAR %d has no backing channel", bar)
	}
	return ch, nil
}

// ReadWords implements accessor.RawChannel: the raw pass-through read
// every NumericTransfer ultimately calls.
func (b *Backend) ReadWords(ctx context.Context, bar int, byteAddress uint64, words []uint32) error {
	if msg, active := b.ActiveException(); active {
		return fmt.Errorf("backend: active exception: %s", msg)
	}
	ch, err := b.channelFor(bar)
	if err != nil {
		b.SetException(err.Error())
		return err
	}
	if err := ch.ReadWords(byteAddress, words); err != nil {
		b.SetException(err.Error())
		b.appendJournal(ctx, bar, byteAddress, "read", "faulty", err.Error())
		return err
	}
	b.appendJournal(ctx, bar, byteAddress, "read", "ok", "")
	return nil
}

// WriteWords implements accessor.RawChannel.
func (b *Backend) WriteWords(ctx context.Context, bar int, byteAddress uint64, words []uint32) error {
	if msg, active := b.ActiveException(); active {
		return fmt.Errorf("backend: active exception: %s", msg)
	}
	ch, err := b.channelFor(bar)
	if err != nil {
		b.SetException(err.Error())
		return err
	}
	if err := ch.WriteWords(byteAddress, words); err != nil {
		b.SetException(err.Error())
		b.appendJournal(ctx, bar, byteAddress, "write", "faulty", err.Error())
		return err
	}
	b.appendJournal(ctx, bar, byteAddress, "write", "ok", "")
	return nil
}

// appendJournal records one transfer event, if a journal is attached.
// Append failures are deliberately swallowed: a logging malfunction must
// never fail the transfer it is merely recording.
func (b *Backend) appendJournal(ctx context.Context, bar int, byteAddress uint64, kind, validity, detail string) {
	if b.journal == nil {
		return
	}
	path := fmt.Sprintf("BAR%d@0x%x", bar, byteAddress)
	_ = b.journal.Append(ctx, diagnostics.Record{
		Path:     path,
		Kind:     kind,
		Validity: validity,
		Detail:   detail,
	})
}

// SetException records msg as the backend's active exception, so every
// subsequent transfer fails fast with the same text until the next
// successful Open, and broadcasts it to every async subscriber.
func (b *Backend) SetException(msg string) {
	b.exceptionMu.Lock()
	b.exception = msg
	b.exceptionMu.Unlock()

	b.asyncMu.Lock()
	b.asyncOn = false
	b.asyncMu.Unlock()

	b.domains.SendExceptions(msg)

	if b.journal != nil {
		_ = b.journal.Append(context.Background(), diagnostics.Record{
			Path:     "*",
			Kind:     "exception",
			Validity: "faulty",
			Detail:   msg,
		})
	}
}

// ActiveException reports the current fault text, if any.
func (b *Backend) ActiveException() (string, bool) {
	b.exceptionMu.Lock()
	defer b.exceptionMu.Unlock()
	return b.exception, b.exception != ""
}

func (b *Backend) clearException() {
	b.exceptionMu.Lock()
	b.exception = ""
	b.exceptionMu.Unlock()
}

// ActivateAsyncRead marks the backend ready to emit async data and fires
// the activation handshake for every currently registered domain.
func (b *Backend) ActivateAsyncRead(ctx context.Context) {
	b.asyncMu.Lock()
	b.asyncOn = true
	b.asyncMu.Unlock()

	b.domains.ForEach(func(id string, d *asyncdomain.Domain) {
		if err := b.ActivateSubscription(ctx, id); err != nil {
			b.SetException(err.Error())
			return
		}
		v, err := b.InitialVersion(ctx, id)
		if err != nil {
			b.SetException(err.Error())
			return
		}
		d.Activate(v)
	})
}

// ActivateSubscription is the default hardware-arming hook: it succeeds
// immediately. Backends needing a real handshake (a DMA engine, a
// cascaded interrupt controller) wrap Backend and override this by not
// delegating — NumericAddressedBackend itself has no hardware to arm.
func (b *Backend) ActivateSubscription(ctx context.Context, domainID string) error {
	return nil
}

// InitialVersion is the default async-domain initial-value source: zero.
// A subclassing backend overrides this to poll the real current value.
func (b *Backend) InitialVersion(ctx context.Context, domainID string) (uint64, error) {
	return 0, nil
}

// GetScalarAccessor builds a cooked scalar accessor for a FIXED_POINT
// register (path must resolve to a single-channel, non-INTERRUPT
// register, possibly via numeric-address pseudo-path synthesis).
func GetScalarAccessor[U numeric.Number](b *Backend, path registerpath.Path, mode accessor.AccessMode) (*accessor.ScalarAccessor[U], error) {
	info, err := b.catalogue.GetRegister(path)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	if info.NChannels != 1 {
		return nil, fmt.Errorf("backend: %s has %d channels; use GetMuxedAccessor", path, info.NChannels)
	}
	if info.AccessMode == regcatalogue.Interrupt {
		return nil, fmt.Errorf("backend: %s is an INTERRUPT register; use GetAsyncAccessor", path)
	}
	transfer := accessor.NewNumericTransfer(b, info)
	if realm := b.realmFor(info.DataConsistencyRealm); realm != nil {
		transfer.SetVersionResolver(func(rawWords []uint32) (accessor.VersionNumber, bool) {
			return realm.GetVersion(fmt.Sprint(rawWords)), true
		})
	}
	return accessor.NewScalarAccessor[U](path, transfer, info.NElements, mode, b), nil
}

// realmFor looks up the realm acquired for name, returning nil if no
// consistency store was configured or name has no matching realm (the
// common case for most registers, which do not participate in a
// DataConsistencyRealm at all).
func (b *Backend) realmFor(name string) *consistency.Realm {
	if name == "" || b.consistencyRealms == nil {
		return nil
	}
	return b.consistencyRealms[name]
}

// GetMuxedAccessor builds a cooked 2-D accessor for a multiplexed register
// (path must resolve to a multi-channel, non-INTERRUPT register).
func GetMuxedAccessor[U numeric.Number](b *Backend, path registerpath.Path, mode accessor.AccessMode) (*accessor.MuxedAccessor[U], error) {
	info, err := b.catalogue.GetRegister(path)
	if err != nil {
		return nil, fmt.Errorf("backend: %w", err)
	}
	if info.NChannels <= 1 {
		return nil, fmt.Errorf("backend: %s has %d channel; use GetScalarAccessor", path, info.NChannels)
	}
	if info.AccessMode == regcatalogue.Interrupt {
		return nil, fmt.Errorf("backend: %s is an INTERRUPT register; use GetAsyncAccessor", path)
	}
	transfer := accessor.NewMuxedTransfer(b, info)
	return accessor.NewMuxedAccessor[U](path, transfer, info.NChannels, info.NElements, mode, b), nil
}

// GetAsyncAccessor builds an async accessor for an INTERRUPT register,
// subscribing it through the DomainsContainer keyed by the first element
// of its interruptId chain (see DESIGN.md's chained-INTERRUPT-ids
// decision).
func GetAsyncAccessor[U numeric.Number](ctx context.Context, b *Backend, path registerpath.Path) (*accessor.NDRegisterAccessor[U], func(), error) {
	info, err := b.catalogue.GetRegister(path)
	if err != nil {
		return nil, nil, fmt.Errorf("backend: %w", err)
	}
	if info.AccessMode != regcatalogue.Interrupt || len(info.InterruptID) == 0 {
		return nil, nil, fmt.Errorf("backend: %s is not an INTERRUPT register", path)
	}

	transfer := accessor.NewNumericTransfer(b, info)
	acc := accessor.New[U](path, transfer, 1, info.NElements, accessor.ModeWaitForNewData, b)

	domainID := interruptDomainID(info.InterruptID)
	distributor := accessorDistributor[U]{acc: acc, transfer: transfer, realm: b.realmFor(info.DataConsistencyRealm)}
	cancel, err := b.domains.Subscribe(ctx, domainID, true, b, distributor)
	if err != nil {
		return nil, nil, fmt.Errorf("backend: subscribe %s: %w", path, err)
	}
	return acc, cancel, nil
}

// interruptDomainID derives the DomainsContainer key from a register's
// interruptId chain. Only the first (outermost) element is significant,
// per the front()-only keying spec.md §4.9 requires.
func interruptDomainID(ids []int) string {
	return strconv.Itoa(ids[0])
}

// accessorDistributor adapts an NDRegisterAccessor to asyncdomain.
// Distributor.
type accessorDistributor[U numeric.Number] struct {
	acc      *accessor.NDRegisterAccessor[U]
	transfer *accessor.NumericTransfer
	// realm, when non-nil, translates the domain's own monotonic counter
	// into the shared DataConsistencyRealm's version, keyed on the
	// counter's decimal value, so two accessors on distinct INTERRUPT
	// registers that share a realm observe matching versions for the same
	// counter value.
	realm *consistency.Realm
}

func (d accessorDistributor[U]) Distribute(version uint64) {
	if d.realm != nil {
		d.acc.Push(d.realm.GetVersion(strconv.FormatUint(version, 10)))
		return
	}
	d.acc.Push(accessor.VersionNumber(version))
}

func (d accessorDistributor[U]) Fail(err error) {
	d.acc.Interrupt()
}
