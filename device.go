// Package deviceaccess ties the register catalogue, accessor layer and
// backend implementations together behind a single descriptor-driven
// facade, mirroring the top-level Device/DeviceInfoMap split of the
// register-access model this module implements.
package deviceaccess

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/fieldbus/deviceaccess/accessor"
	"github.com/fieldbus/deviceaccess/backend"
	"github.com/fieldbus/deviceaccess/numeric"
	"github.com/fieldbus/deviceaccess/registerpath"
)

// dataConsistencyKeysParam is the descriptor query parameter carrying a
// JSON object mapping register paths to DataConsistencyRealm names, per
// spec §6 ("DataConsistencyKeys").
const dataConsistencyKeysParam = "DataConsistencyKeys"

// Descriptor is a parsed device address in the form
// "(backendType:address?key1=value1&key2=value2)". The parentheses are
// optional on input and stripped on parse; Parameters holds the query
// part decoded as a plain string map.
type Descriptor struct {
	BackendType string
	Address     string
	Parameters  map[string]string

	// DataConsistencyKeys maps a register path to the name of the
	// DataConsistencyRealm it participates in, decoded from the
	// "DataConsistencyKeys" query parameter (a JSON object). A backend
	// factory applies these via
	// regcatalogue.NumericAddressedRegisterCatalogue.SetDataConsistencyRealm
	// before constructing the backend.Backend, and typically passes a
	// shared *consistency.Store to backend.WithConsistencyStore so
	// registers naming the same realm actually share one.
	DataConsistencyKeys map[string]string
}

// ParseDescriptor parses a device descriptor string. Malformed input is a
// LogicError: a bad descriptor is always a caller authoring mistake, never
// an environmental failure.
func ParseDescriptor(s string) (Descriptor, error) {
	trimmed := strings.TrimSpace(s)
	trimmed = strings.TrimPrefix(trimmed, "(")
	trimmed = strings.TrimSuffix(trimmed, ")")

	colon := strings.IndexByte(trimmed, ':')
	if colon < 0 {
		return Descriptor{}, NewLogicError("ParseDescriptor", fmt.Errorf("missing ':' separating backend type from address in %q", s))
	}
	backendType := trimmed[:colon]
	rest := trimmed[colon+1:]
	if backendType == "" {
		return Descriptor{}, NewLogicError("ParseDescriptor", fmt.Errorf("empty backend type in %q", s))
	}

	address := rest
	params := map[string]string{}
	if q := strings.IndexByte(rest, '?'); q >= 0 {
		address = rest[:q]
		values, err := url.ParseQuery(rest[q+1:])
		if err != nil {
			return Descriptor{}, NewLogicError("ParseDescriptor", fmt.Errorf("bad parameter string in %q: %w", s, err))
		}
		for k := range values {
			params[k] = values.Get(k)
		}
	}
	if address == "" {
		return Descriptor{}, NewLogicError("ParseDescriptor", fmt.Errorf("empty address in %q", s))
	}

	var keys map[string]string
	if raw, ok := params[dataConsistencyKeysParam]; ok {
		if err := json.Unmarshal([]byte(raw), &keys); err != nil {
			return Descriptor{}, NewLogicError("ParseDescriptor", fmt.Errorf("bad %s in %q: %w", dataConsistencyKeysParam, s, err))
		}
	}

	return Descriptor{BackendType: backendType, Address: address, Parameters: params, DataConsistencyKeys: keys}, nil
}

// String renders the descriptor back to its canonical parenthesized form.
// Parameters are URL-encoded and sorted by key (url.Values.Encode), so
// the rendered form is the same on every call.
func (d Descriptor) String() string {
	var b strings.Builder
	b.WriteByte('(')
	b.WriteString(d.BackendType)
	b.WriteByte(':')
	b.WriteString(d.Address)
	if len(d.Parameters) > 0 {
		b.WriteByte('?')
		values := url.Values{}
		for k, v := range d.Parameters {
			values.Set(k, v)
		}
		b.WriteString(values.Encode())
	}
	b.WriteByte(')')
	return b.String()
}

// BackendFactory constructs an opened Backend for a given Descriptor. A
// backend type registers exactly one factory with RegisterBackend.
type BackendFactory func(ctx context.Context, d Descriptor) (*backend.Backend, error)

var (
	factoryMu sync.RWMutex
	factories = map[string]BackendFactory{}
)

// RegisterBackend registers factory under backendType, in the style of
// database/sql driver registration: called from an init() in each backend
// subpackage that wants to be reachable by descriptor string. Registering
// the same backendType twice panics, matching database/sql's own contract,
// since it is always a build-time programming error, never a runtime one.
func RegisterBackend(backendType string, factory BackendFactory) {
	factoryMu.Lock()
	defer factoryMu.Unlock()
	if _, dup := factories[backendType]; dup {
		panic(fmt.Sprintf("deviceaccess: RegisterBackend called twice for backend type %q", backendType))
	}
	factories[backendType] = factory
}

// Device is an opened, addressable connection to a piece of hardware (or
// a dummy/rebot stand-in for one): the combination of a Backend, its
// register catalogue and its async-domain subscription container.
type Device struct {
	InstanceID string
	Descriptor Descriptor

	backend *backend.Backend
}

// Open resolves descriptor's backend type against the registered factory
// set, constructs the backend and opens it. The returned Device owns the
// backend's lifetime; callers must call Close.
func Open(ctx context.Context, descriptor Descriptor) (*Device, error) {
	factoryMu.RLock()
	factory, ok := factories[descriptor.BackendType]
	factoryMu.RUnlock()
	if !ok {
		return nil, NewLogicError("Open", fmt.Errorf("no backend registered for type %q", descriptor.BackendType))
	}

	b, err := factory(ctx, descriptor)
	if err != nil {
		return nil, NewRuntimeError("Open", fmt.Errorf("constructing backend %q: %w", descriptor.BackendType, err))
	}
	if err := b.Open(ctx); err != nil {
		return nil, NewRuntimeError("Open", fmt.Errorf("opening backend %q: %w", descriptor.BackendType, err))
	}

	return &Device{
		InstanceID: uuid.NewString(),
		Descriptor: descriptor,
		backend:    b,
	}, nil
}

// Close releases the device's backend resources.
func (d *Device) Close() error {
	if err := d.backend.Close(); err != nil {
		return NewRuntimeError("Close", err)
	}
	return nil
}

// Backend exposes the underlying backend for callers that need direct
// catalogue registration or exception inspection beyond the facade's
// typed accessor methods.
func (d *Device) Backend() *backend.Backend { return d.backend }

// GetScalarRegisterAccessor resolves path against the device's catalogue
// through its backend and returns a typed scalar or 1-D accessor. The
// register must have exactly one channel and must not be an INTERRUPT
// register; otherwise, or if path is unknown, the error is a LogicError.
func GetScalarRegisterAccessor[U numeric.Number](ctx context.Context, d *Device, path registerpath.Path, mode accessor.AccessMode) (*accessor.ScalarAccessor[U], error) {
	acc, err := backend.GetScalarAccessor[U](d.backend, path, mode)
	if err != nil {
		return nil, NewLogicError("GetScalarRegisterAccessor", err)
	}
	return acc, nil
}

// GetAsyncRegisterAccessor resolves path's interrupt-driven register and
// subscribes it to the device's async domain container, returning a
// push-driven accessor and an unsubscribe function.
func GetAsyncRegisterAccessor[U numeric.Number](ctx context.Context, d *Device, path registerpath.Path) (*accessor.NDRegisterAccessor[U], func(), error) {
	acc, cancel, err := backend.GetAsyncAccessor[U](ctx, d.backend, path)
	if err != nil {
		return nil, nil, NewLogicError("GetAsyncRegisterAccessor", err)
	}
	return acc, cancel, nil
}
