// Package accessor implements NDRegisterAccessor: the typed, versioned,
// validity-tracked view over one register that every backend hands back
// from getRegisterAccessor.
package accessor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/fieldbus/deviceaccess/registerpath"
)

// TransferType distinguishes the phase of a read or write call so hook
// implementations can branch without threading a second boolean through
// every signature.
type TransferType int

const (
	Read TransferType = iota
	ReadNonBlocking
	ReadLatest
	Write
	WriteDestructively
)

// DataValidity is sticky upward: a decorator may elevate Faulty but must
// never downgrade it back to Ok on its own authority.
type DataValidity int

const (
	Ok DataValidity = iota
	Faulty
)

// VersionNumber is a monotonically increasing, totally ordered tag issued
// by a backend (or a DataConsistencyRealm) for each distinct transfer.
// The zero value denotes "never written."
type VersionNumber uint64

// AccessMode is a bitset of per-accessor behavior flags negotiated at
// construction time.
type AccessMode uint8

const (
	ModeNone AccessMode = 0
	// ModeRaw bypasses numeric conversion; element type must match the
	// storage word width exactly.
	ModeRaw AccessMode = 1 << iota
	// ModeWaitForNewData requests the async push-queue path instead of
	// a synchronous transfer.
	ModeWaitForNewData
)

func (m AccessMode) Has(flag AccessMode) bool { return m&flag != 0 }

// ErrInterrupted is the distinguished poison-pill error injected by
// Interrupt to unblock a pending blocking Read.
var ErrInterrupted = errors.New("accessor: interrupted")

// pushQueueCapacity is the default bound on the async push queue per
// SPEC_FULL.md §4.6.
const pushQueueCapacity = 3

// queueItem is the sum-type element of the async push queue: either a
// delivered value-and-version pair or a poisoning error.
type queueItem struct {
	version VersionNumber
	err     error
}

// TransferImplementor is the backend-supplied strategy an accessor
// delegates the three-phase read/write protocol to. Distinct backends
// (numeric-addressed, rebot, mapped-struct) provide distinct
// implementors; the accessor itself owns only buffer management,
// versioning, and validity bookkeeping.
type TransferImplementor interface {
	// PreRead validates preconditions for kind; returns a logic error
	// (e.g. write-only register) rather than performing I/O.
	PreRead(kind TransferType) error
	// ReadTransfer performs the synchronous I/O for a blocking read and
	// reports whether new data was obtained.
	ReadTransfer(ctx context.Context) (hasNewData bool, err error)
	// PostRead swaps the raw buffer into the accessor's cooked buffer.
	PostRead(kind TransferType, hasNewData bool) error

	// PreWrite validates preconditions and captures the current user
	// buffer for write path.
	PreWrite(kind TransferType, version VersionNumber) error
	// WriteTransfer performs the synchronous I/O and reports whether
	// data was lost (e.g. queue overflow at a lower layer).
	WriteTransfer(ctx context.Context, version VersionNumber) (dataLost bool, err error)
	// PostWrite finalizes the write, restoring the prior buffer on
	// failure.
	PostWrite(kind TransferType, version VersionNumber, writeErr error) error
}

// VersionResolver is implemented by a TransferImplementor that wants to
// override the version number stamped on a completed synchronous read —
// used by registers participating in a DataConsistencyRealm (package
// consistency), where a shared realm, not the default per-process
// counter, decides whether two reads observed the same underlying
// event. ResolveVersion is consulted only after a successful
// ReadTransfer/PostRead pair; the second return value false means "no
// realm opinion," leaving the accessor's version unchanged.
type VersionResolver interface {
	ResolveVersion() (VersionNumber, bool)
}

// NDRegisterAccessor is the typed, generic accessor. U is the cooked
// user-facing element type.
type NDRegisterAccessor[U any] struct {
	path registerpath.Path
	mode AccessMode

	impl TransferImplementor

	mu          sync.Mutex
	buffer      [][]U // 2-D: [channel][element]
	version     VersionNumber
	validity    DataValidity

	// exceptionBackend is a weak reference (by convention: the backend
	// never retains this accessor, so storing the pointer directly does
	// not create a cycle the GC can't collect) used to report
	// transfer-time exceptions to the owning backend's fault state.
	exceptionBackend ExceptionSink

	queue chan queueItem
}

// ExceptionSink receives a human-readable message when a transfer fails,
// so the owning backend can flip into its "active exception" state.
type ExceptionSink interface {
	SetException(msg string)
}

// New constructs an accessor over nChannels channels of nElements each.
func New[U any](path registerpath.Path, impl TransferImplementor, nChannels, nElements int, mode AccessMode, sink ExceptionSink) *NDRegisterAccessor[U] {
	buf := make([][]U, nChannels)
	for i := range buf {
		buf[i] = make([]U, nElements)
	}
	return &NDRegisterAccessor[U]{
		path:             path,
		mode:             mode,
		impl:             impl,
		buffer:           buf,
		exceptionBackend: sink,
		queue:            make(chan queueItem, pushQueueCapacity),
	}
}

// Path returns the register path this accessor was created for.
func (a *NDRegisterAccessor[U]) Path() registerpath.Path { return a.path }

// AccessMode returns the negotiated access-mode flags.
func (a *NDRegisterAccessor[U]) AccessMode() AccessMode { return a.mode }

// VersionNumber returns the version of the data currently held in the
// buffer.
func (a *NDRegisterAccessor[U]) VersionNumber() VersionNumber {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.version
}

// DataValidity returns the validity of the data currently held in the
// buffer.
func (a *NDRegisterAccessor[U]) DataValidity() DataValidity {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.validity
}

// Channel returns a mutable view of channel i's element buffer. Callers
// may write into it before Write, or read from it after Read.
func (a *NDRegisterAccessor[U]) Channel(i int) []U {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.buffer[i]
}

// NChannels reports the number of channels.
func (a *NDRegisterAccessor[U]) NChannels() int { return len(a.buffer) }

// Read performs a blocking synchronous read, or for ModeWaitForNewData
// accessors, waits on the push queue.
func (a *NDRegisterAccessor[U]) Read(ctx context.Context) error {
	return a.doRead(ctx, Read)
}

// ReadNonBlocking pops the push queue without waiting, or performs a
// non-blocking synchronous poll.
func (a *NDRegisterAccessor[U]) ReadNonBlocking(ctx context.Context) error {
	return a.doRead(ctx, ReadNonBlocking)
}

// ReadLatest drains the push queue to its newest element.
func (a *NDRegisterAccessor[U]) ReadLatest(ctx context.Context) error {
	if a.mode.Has(ModeWaitForNewData) {
		var latest *queueItem
		for {
			select {
			case item := <-a.queue:
				it := item
				latest = &it
				continue
			default:
			}
			break
		}
		if latest == nil {
			return a.doRead(ctx, ReadLatest)
		}
		return a.applyQueueItem(ReadLatest, *latest)
	}
	return a.doRead(ctx, ReadLatest)
}

func (a *NDRegisterAccessor[U]) doRead(ctx context.Context, kind TransferType) error {
	if err := a.impl.PreRead(kind); err != nil {
		return fmt.Errorf("accessor: %s: preRead: %w", a.path, err)
	}

	if a.mode.Has(ModeWaitForNewData) {
		return a.doAsyncRead(ctx, kind)
	}

	hasNewData, err := a.impl.ReadTransfer(ctx)
	if err != nil {
		a.reportException(err)
		return fmt.Errorf("accessor: %s: readTransfer: %w", a.path, err)
	}
	if postErr := a.impl.PostRead(kind, hasNewData); postErr != nil {
		return fmt.Errorf("accessor: %s: postRead: %w", a.path, postErr)
	}
	if hasNewData {
		if vr, ok := a.impl.(VersionResolver); ok {
			if v, ok2 := vr.ResolveVersion(); ok2 {
				a.mu.Lock()
				a.version = v
				a.mu.Unlock()
			}
		}
	}
	return nil
}

func (a *NDRegisterAccessor[U]) doAsyncRead(ctx context.Context, kind TransferType) error {
	switch kind {
	case ReadNonBlocking:
		select {
		case item := <-a.queue:
			return a.applyQueueItem(kind, item)
		default:
			return a.impl.PostRead(kind, false)
		}
	default: // Read: blocks until data, interrupt, or context cancellation.
		select {
		case item := <-a.queue:
			return a.applyQueueItem(kind, item)
		case <-ctx.Done():
			return fmt.Errorf("accessor: %s: %w", a.path, ctx.Err())
		}
	}
}

func (a *NDRegisterAccessor[U]) applyQueueItem(kind TransferType, item queueItem) error {
	if item.err != nil {
		a.mu.Lock()
		a.validity = Faulty
		a.mu.Unlock()
		return fmt.Errorf("accessor: %s: %w", a.path, item.err)
	}
	a.mu.Lock()
	a.version = item.version
	a.mu.Unlock()
	return a.impl.PostRead(kind, true)
}

// Push delivers a new value-and-version pair to the async push queue,
// dropping the oldest entry if the queue is full (bounded push, per
// SPEC_FULL.md §4.6 — a slow consumer sees gaps, not unbounded memory
// growth).
func (a *NDRegisterAccessor[U]) Push(version VersionNumber) {
	item := queueItem{version: version}
	select {
	case a.queue <- item:
	default:
		select {
		case <-a.queue:
		default:
		}
		a.queue <- item
	}
}

// Interrupt injects ErrInterrupted into the push queue to unblock a
// pending Read.
func (a *NDRegisterAccessor[U]) Interrupt() {
	item := queueItem{err: ErrInterrupted}
	select {
	case a.queue <- item:
	default:
		select {
		case <-a.queue:
		default:
		}
		a.queue <- item
	}
}

// Write performs a blocking synchronous write.
func (a *NDRegisterAccessor[U]) Write(ctx context.Context) error {
	return a.doWrite(ctx, Write)
}

// WriteDestructively performs a write that may reuse/clobber the user
// buffer for efficiency; semantically identical to Write here since Go
// buffers carry no such optimization hazard, but kept as a distinct kind
// so TransferImplementor hooks can still branch on it.
func (a *NDRegisterAccessor[U]) WriteDestructively(ctx context.Context) error {
	return a.doWrite(ctx, WriteDestructively)
}

func (a *NDRegisterAccessor[U]) doWrite(ctx context.Context, kind TransferType) error {
	version := a.nextVersion()
	if err := a.impl.PreWrite(kind, version); err != nil {
		return fmt.Errorf("accessor: %s: preWrite: %w", a.path, err)
	}

	dataLost, err := a.impl.WriteTransfer(ctx, version)
	postErr := a.impl.PostWrite(kind, version, err)
	if err != nil {
		a.reportException(err)
		return fmt.Errorf("accessor: %s: writeTransfer: %w", a.path, err)
	}
	if postErr != nil {
		return fmt.Errorf("accessor: %s: postWrite: %w", a.path, postErr)
	}
	if dataLost {
		return fmt.Errorf("accessor: %s: write succeeded but data was lost upstream", a.path)
	}

	a.mu.Lock()
	a.version = version
	a.mu.Unlock()
	return nil
}

var versionCounter uint64

// nextVersion allocates a process-wide monotonically increasing version.
// Every write takes its version from here; a DataConsistencyRealm-backed
// register overrides only the version of a completed read, through
// VersionResolver (see package consistency). This is the default,
// realm-free source of monotonic versions shared by every accessor in the
// process.
func (a *NDRegisterAccessor[U]) nextVersion() VersionNumber {
	return VersionNumber(atomic.AddUint64(&versionCounter, 1))
}

func (a *NDRegisterAccessor[U]) reportException(err error) {
	a.mu.Lock()
	a.validity = Faulty
	a.mu.Unlock()
	if a.exceptionBackend != nil {
		a.exceptionBackend.SetException(err.Error())
	}
}
