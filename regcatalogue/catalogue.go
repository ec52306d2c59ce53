package regcatalogue

import (
	"fmt"
	"strconv"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/fieldbus/deviceaccess/registerpath"
)

// numericAddressCacheSize bounds the number of lazily synthesized
// numeric-address pseudo-paths (/BAR/<n>/<addr>[*<nBytes>]) a catalogue
// will keep resident. Backends that are walked register-by-register never
// hit this path; it exists for callers that address a BAR offset directly
// without ever naming a register.
const numericAddressCacheSize = 4096

// NumericAddressedRegisterCatalogue is the in-memory table of RegisterInfo
// entries a map file (or a hand-built descriptor list) populates, keyed by
// register path. It additionally answers numeric BAR-offset queries by
// synthesizing a throwaway RegisterInfo on demand and caching the result,
// so a caller never has to special-case "I only have an address, not a
// name."
type NumericAddressedRegisterCatalogue struct {
	mu       sync.RWMutex
	byPath   map[string]RegisterInfo
	order    []string // insertion order, for deterministic enumeration

	numericCache *lru.Cache[string, RegisterInfo]
}

// NewNumericAddressedRegisterCatalogue returns an empty catalogue ready for
// AddRegister calls.
func NewNumericAddressedRegisterCatalogue() *NumericAddressedRegisterCatalogue {
	cache, err := lru.New[string, RegisterInfo](numericAddressCacheSize)
	if err != nil {
		// Only returns an error for a non-positive size, which is a
		// compile-time constant here.
		panic(err)
	}
	return &NumericAddressedRegisterCatalogue{
		byPath:       make(map[string]RegisterInfo),
		numericCache: cache,
	}
}

// AddRegister inserts or replaces the entry for info.Path after validating
// it.
func (c *NumericAddressedRegisterCatalogue) AddRegister(info RegisterInfo) error {
	if err := info.Validate(); err != nil {
		return err
	}
	key := info.Path.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byPath[key]; !exists {
		c.order = append(c.order, key)
	}
	c.byPath[key] = info.Clone()
	return nil
}

// HasRegister reports whether path names a real (non-synthesized) entry.
func (c *NumericAddressedRegisterCatalogue) HasRegister(path registerpath.Path) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.byPath[path.String()]
	return ok
}

// GetRegister looks up path, first among real entries and, failing that,
// as a numeric-address pseudo-path of the form /BAR/<n>/<addr> or
// /BAR/<n>/<addr>*<nBytes>.
func (c *NumericAddressedRegisterCatalogue) GetRegister(path registerpath.Path) (RegisterInfo, error) {
	key := path.String()

	c.mu.RLock()
	info, ok := c.byPath[key]
	c.mu.RUnlock()
	if ok {
		return info.Clone(), nil
	}

	synthesized, ok := c.numericCache.Get(key)
	if ok {
		return synthesized.Clone(), nil
	}

	synthesized, err := synthesizeNumericAddress(path)
	if err != nil {
		return RegisterInfo{}, fmt.Errorf("regcatalogue: %w", err)
	}
	c.numericCache.Add(key, synthesized)
	return synthesized.Clone(), nil
}

// ListRegisters returns every real (non-synthesized) entry in insertion
// order.
func (c *NumericAddressedRegisterCatalogue) ListRegisters() []RegisterInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]RegisterInfo, 0, len(c.order))
	for _, key := range c.order {
		out = append(out, c.byPath[key].Clone())
	}
	return out
}

// RemoveRegister deletes path's entry, if any. Removing an unknown path is
// a no-op, matching AddRegister's insert-or-replace symmetry.
func (c *NumericAddressedRegisterCatalogue) RemoveRegister(path registerpath.Path) {
	key := path.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, exists := c.byPath[key]; !exists {
		return
	}
	delete(c.byPath, key)
	for i, k := range c.order {
		if k == key {
			c.order = append(c.order[:i], c.order[i+1:]...)
			break
		}
	}
}

// GetNumberOfRegisters reports the count of real (non-synthesized)
// entries currently in the catalogue.
func (c *NumericAddressedRegisterCatalogue) GetNumberOfRegisters() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.order)
}

// SetDataConsistencyRealm stamps realmName onto path's existing entry,
// so a later backend.New can discover which registers share a
// DataConsistencyRealm. Returns an error if path has no entry yet.
func (c *NumericAddressedRegisterCatalogue) SetDataConsistencyRealm(path registerpath.Path, realmName string) error {
	key := path.String()

	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.byPath[key]
	if !ok {
		return fmt.Errorf("regcatalogue: %s: no such register", path)
	}
	info.DataConsistencyRealm = realmName
	c.byPath[key] = info
	return nil
}

// synthesizeNumericAddress parses a pseudo-path of the form
// "/BAR/<n>/<addr>" or "/BAR/<n>/<addr>*<nBytes>" into a scalar,
// 32-bit-wide, byte-array-ish RegisterInfo. nBytes defaults to 4 (one
// 32-bit word) when omitted.
func synthesizeNumericAddress(path registerpath.Path) (RegisterInfo, error) {
	comps := path.Components()
	if len(comps) != 3 || comps[0] != "BAR" {
		return RegisterInfo{}, fmt.Errorf("not a numeric-address pseudo-path: %s", path)
	}

	bar, err := strconv.Atoi(comps[1])
	if err != nil {
		return RegisterInfo{}, fmt.Errorf("invalid BAR number in %s: %w", path, err)
	}

	addrSpec := comps[2]
	nBytes := uint64(4)
	addrStr := addrSpec
	if idx := strings.IndexByte(addrSpec, '*'); idx >= 0 {
		addrStr = addrSpec[:idx]
		n, err := strconv.ParseUint(addrSpec[idx+1:], 10, 64)
		if err != nil {
			return RegisterInfo{}, fmt.Errorf("invalid byte count in %s: %w", path, err)
		}
		nBytes = n
	}
	addr, err := strconv.ParseUint(addrStr, 0, 64)
	if err != nil {
		return RegisterInfo{}, fmt.Errorf("invalid address in %s: %w", path, err)
	}
	if nBytes%4 != 0 {
		return RegisterInfo{}, fmt.Errorf("numeric-address byte count must be a multiple of 4, got %d in %s", nBytes, path)
	}

	nElements := int(nBytes / 4)
	info := RegisterInfo{
		Path:             path,
		NElements:        nElements,
		NChannels:        1,
		Address:          addr,
		SizeInBytes:      nBytes,
		BAR:              bar,
		ElementPitchBits: 32,
		Channels: []ChannelInfo{{
			BitOffset:       0,
			DataType:        FixedPoint,
			Width:           32,
			NFractionalBits: 0,
			Signed:          true,
		}},
		AccessMode: ReadWrite,
	}
	if err := info.Validate(); err != nil {
		return RegisterInfo{}, err
	}
	return info, nil
}

// BackendRegisterCatalogue is the read-only view of a
// NumericAddressedRegisterCatalogue, for handing to user code:
// it hides AddRegister so callers cannot mutate the backend's idea of its
// own register map.
type BackendRegisterCatalogue interface {
	HasRegister(path registerpath.Path) bool
	GetRegister(path registerpath.Path) (RegisterInfo, error)
	ListRegisters() []RegisterInfo
	GetNumberOfRegisters() int
}

var _ BackendRegisterCatalogue = (*NumericAddressedRegisterCatalogue)(nil)
