// Package consistency implements DataConsistencyRealm: a named mapping
// from a device-supplied sequence key to a monotonic VersionNumber, used
// to recognize that two registers were captured at the same physical
// event even though they were read through independent accessors.
package consistency

import (
	"sync"

	"github.com/fieldbus/deviceaccess/accessor"
)

// OutOfWindow is the sentinel VersionNumber returned for a key older than
// the oldest entry still held in a realm's ring buffer.
const OutOfWindow accessor.VersionNumber = 0

// defaultRingSize bounds how many distinct keys a realm remembers before
// evicting the oldest.
const defaultRingSize = 256

type entry struct {
	key     string
	version accessor.VersionNumber
}

// Realm holds an ordered ring buffer of (key, version) entries for one
// named consistency domain (e.g. the register path used as the
// device-supplied sequence key).
type Realm struct {
	mu       sync.Mutex
	name     string
	ring     []entry
	byKey    map[string]accessor.VersionNumber
	next     accessor.VersionNumber
	ringSize int
}

// NewRealm constructs an empty realm with the default ring size.
func NewRealm(name string) *Realm {
	return &Realm{
		name:     name,
		byKey:    make(map[string]accessor.VersionNumber),
		ringSize: defaultRingSize,
	}
}

// Name returns the realm's identifier.
func (r *Realm) Name() string { return r.name }

// GetVersion returns key's version, allocating a new one if key has not
// been seen before (or has aged out of the window and is being reused).
// Calling GetVersion twice with the same key and no intervening new key
// returns the identical version both times (idempotence).
func (r *Realm) GetVersion(key string) accessor.VersionNumber {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.byKey[key]; ok {
		return v
	}

	r.next++
	v := r.next
	r.byKey[key] = v
	r.ring = append(r.ring, entry{key: key, version: v})

	if len(r.ring) > r.ringSize {
		oldest := r.ring[0]
		r.ring = r.ring[1:]
		delete(r.byKey, oldest.key)
	}
	return v
}

// Lookup returns the version for key without allocating one, reporting
// OutOfWindow (with ok=false) if the key has never been seen or has aged
// out.
func (r *Realm) Lookup(key string) (v accessor.VersionNumber, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok = r.byKey[key]
	if !ok {
		return OutOfWindow, false
	}
	return v, true
}
