package deviceaccess_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/fieldbus/deviceaccess"
)

func TestLoadInventoryAppliesDefaultsAndValidates(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inventory.yaml")
	content := `
devices:
  temp-sensor: "(rebot:fpga01.example.com:5555)"
  dummy-board: "(dummy:/tmp/board.map)"
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	inv, err := deviceaccess.LoadInventory(path)
	if err != nil {
		t.Fatalf("LoadInventory: %v", err)
	}
	if inv.DefaultTimeoutMS != 5000 {
		t.Errorf("DefaultTimeoutMS = %d, want default 5000", inv.DefaultTimeoutMS)
	}
	if len(inv.Devices) != 2 {
		t.Errorf("len(Devices) = %d, want 2", len(inv.Devices))
	}

	d, err := inv.Resolve("temp-sensor")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if d.BackendType != "rebot" {
		t.Errorf("BackendType = %q, want rebot", d.BackendType)
	}
}

func TestLoadInventoryRejectsEmptyDeviceList(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "empty.yaml")
	if err := os.WriteFile(path, []byte("devices: {}\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := deviceaccess.LoadInventory(path); err == nil {
		t.Error("expected error for empty device list")
	}
}

func TestLoadInventoryRejectsBadDescriptor(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("devices:\n  bad: \"no-colon-here\"\n"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	if _, err := deviceaccess.LoadInventory(path); err == nil {
		t.Error("expected error for malformed descriptor")
	}
}

func TestResolveUnknownDevice(t *testing.T) {
	inv := &deviceaccess.Inventory{Devices: map[string]string{"a": "(dummy:x)"}}
	if _, err := inv.Resolve("missing"); err == nil {
		t.Error("expected error for unknown device name")
	}
}
