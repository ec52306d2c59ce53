package deviceaccess

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Inventory is a named-device-to-descriptor map, the YAML-loadable
// equivalent of a dmap file: a deployment lists logical device names once
// and resolves each to a backend descriptor string, so application code
// can open a device by name instead of embedding wiring details.
type Inventory struct {
	// Devices maps a logical device name to its descriptor string, e.g.
	// "temperature-sensor": "(rebot:fpga01.example.com:5555)".
	Devices map[string]string `yaml:"devices"`

	// DefaultTimeoutMS is a connection timeout in milliseconds. Defaults
	// to 5000 when omitted; a negative value fails validation. It is only
	// stored: nothing in this module applies it to a backend or reads a
	// "timeout_ms" descriptor parameter.
	DefaultTimeoutMS int `yaml:"default_timeout_ms"`
}

// LoadInventory reads the YAML file at path, unmarshals it into an
// Inventory, applies defaults, and validates all required fields.
func LoadInventory(path string) (*Inventory, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, NewLogicError("LoadInventory", fmt.Errorf("cannot read %q: %w", path, err))
	}

	var inv Inventory
	if err := yaml.Unmarshal(data, &inv); err != nil {
		return nil, NewLogicError("LoadInventory", fmt.Errorf("cannot parse %q: %w", path, err))
	}

	applyInventoryDefaults(&inv)

	if err := validateInventory(&inv); err != nil {
		return nil, NewLogicError("LoadInventory", fmt.Errorf("validation failed for %q: %w", path, err))
	}

	return &inv, nil
}

func applyInventoryDefaults(inv *Inventory) {
	if inv.DefaultTimeoutMS == 0 {
		inv.DefaultTimeoutMS = 5000
	}
}

func validateInventory(inv *Inventory) error {
	var errs []error

	if len(inv.Devices) == 0 {
		errs = append(errs, errors.New("devices: at least one device is required"))
	}
	for name, descriptor := range inv.Devices {
		if name == "" {
			errs = append(errs, errors.New("devices: empty device name not allowed"))
			continue
		}
		if descriptor == "" {
			errs = append(errs, fmt.Errorf("devices[%s]: descriptor must not be empty", name))
			continue
		}
		if _, err := ParseDescriptor(descriptor); err != nil {
			errs = append(errs, fmt.Errorf("devices[%s]: %w", name, err))
		}
	}
	if inv.DefaultTimeoutMS < 0 {
		errs = append(errs, errors.New("default_timeout_ms must not be negative"))
	}

	return errors.Join(errs...)
}

// Resolve looks up name in the inventory and parses its descriptor.
// Returns a LogicError if name is not present or its descriptor is
// malformed.
func (inv *Inventory) Resolve(name string) (Descriptor, error) {
	raw, ok := inv.Devices[name]
	if !ok {
		return Descriptor{}, NewLogicError("Resolve", fmt.Errorf("no device named %q in inventory", name))
	}
	d, err := ParseDescriptor(raw)
	if err != nil {
		return Descriptor{}, NewLogicError("Resolve", fmt.Errorf("device %q: %w", name, err))
	}
	return d, nil
}
