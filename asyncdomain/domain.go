// Package asyncdomain implements AsyncDomain, the per-interrupt-source
// fan-out point that delivers pushed data to every subscribed accessor,
// and DomainsContainer, the process-wide registry of domains plus the
// exception-broadcast thread that drives them during a backend fault.
package asyncdomain

import (
	"fmt"
	"sync"
)

// State is the AsyncDomain lifecycle state machine.
type State int

const (
	Inactive State = iota
	Active
	Faulted
)

func (s State) String() string {
	switch s {
	case Inactive:
		return "inactive"
	case Active:
		return "active"
	case Faulted:
		return "faulted"
	default:
		return "unknown"
	}
}

// Distributor is the per-subscriber sink an AsyncDomain fans values and
// exceptions out to. Package accessor's NDRegisterAccessor satisfies this
// via thin adapter methods (Push/Interrupt), kept separate here so
// asyncdomain has no import-time dependency on a specific element type.
type Distributor interface {
	// Distribute delivers version to the subscriber.
	Distribute(version uint64)
	// Fail delivers a poisoning exception to the subscriber.
	Fail(err error)
}

type subscriber struct {
	id   uint64
	dist Distributor
}

// Domain is one AsyncDomain: a single fan-out point guarded by a plain,
// non-recursive mutex (see the mu field for how re-entry is avoided).
type Domain struct {
	id string

	// mu is a simple mutex standing in for the source's recursive
	// mutex: every method that needs to re-enter while already holding
	// mu takes an internal, already-locked variant instead of calling
	// back through the public API, so the lock is never actually
	// acquired twice by the same goroutine.
	mu sync.Mutex

	state State

	subscribers []subscriber
	nextSubID   uint64

	lastVersion uint64
	hasLast     bool
}

// NewDomain constructs an Inactive domain identified by id (package
// backend passes the first element of a register's interrupt-id chain in
// decimal, see DESIGN.md's Open Question decision on chained INTERRUPT
// ids).
func NewDomain(id string) *Domain {
	return &Domain{id: id}
}

// ID returns the domain's identifier.
func (d *Domain) ID() string { return d.id }

// State returns the current lifecycle state.
func (d *Domain) State() State {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.state
}

// Subscribe registers dist to receive future distributions and returns a
// cancel function. If the domain already holds a stashed (lastValue,
// lastVersion) from before this subscriber joined, it is NOT replayed
// here — only Activate replays it, per the race-handling contract in
// SPEC_FULL.md §4.7.
func (d *Domain) Subscribe(dist Distributor) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSubID
	d.nextSubID++
	d.subscribers = append(d.subscribers, subscriber{id: id, dist: dist})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.subscribers {
			if s.id == id {
				d.subscribers = append(d.subscribers[:i], d.subscribers[i+1:]...)
				break
			}
		}
	}
}

// Distribute hands version to every current subscriber if the domain is
// Active; otherwise it stashes (version) as the last-known value so a
// later Activate can replay it.
func (d *Domain) Distribute(version uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.lastVersion = version
	d.hasLast = true

	if d.state != Active {
		return
	}
	for _, s := range d.subscribers {
		s.dist.Distribute(version)
	}
}

// Activate transitions Inactive → Active, forwarding initialVersion to
// every subscriber unless a newer value has already been stashed by a
// racing Distribute call (the backend may have distributed between the
// subscribe and the activate call; the newer value wins).
func (d *Domain) Activate(initialVersion uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()

	toSend := initialVersion
	if d.hasLast && d.lastVersion > initialVersion {
		toSend = d.lastVersion
	}
	d.hasLast = true
	d.lastVersion = toSend
	d.state = Active

	for _, s := range d.subscribers {
		s.dist.Distribute(toSend)
	}
}

// Deactivate transitions Active → Inactive without notifying
// subscribers.
func (d *Domain) Deactivate() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = Inactive
}

// SendException forwards err to every subscriber and flips the domain to
// Inactive (a faulted domain is reactivated only by a fresh Activate
// after the backend recovers).
func (d *Domain) SendException(err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.state = Faulted
	for _, s := range d.subscribers {
		s.dist.Fail(err)
	}
	d.state = Inactive
}

func (d *Domain) String() string {
	return fmt.Sprintf("Domain(%s, %s)", d.id, d.State())
}
