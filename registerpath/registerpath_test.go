package registerpath_test

import (
	"testing"

	"github.com/fieldbus/deviceaccess/registerpath"
)

func TestNewSplitsOnDefaultSeparator(t *testing.T) {
	p := registerpath.New("/FEATURE/AREA1", 0)
	if p.Length() != 2 {
		t.Fatalf("Length() = %d, want 2", p.Length())
	}
	if p.Component(0) != "FEATURE" || p.Component(1) != "AREA1" {
		t.Fatalf("components = %v, want [FEATURE AREA1]", p.Components())
	}
}

func TestNewAlternateSeparator(t *testing.T) {
	slash := registerpath.New("/FEATURE/AREA1", '.')
	dotted := registerpath.New("FEATURE.AREA1", '.')
	if !slash.Equal(dotted) {
		t.Fatalf("paths built from different separators should be equal: %v vs %v", slash, dotted)
	}
}

func TestRootPath(t *testing.T) {
	if !(registerpath.Path{}).Root() {
		t.Fatal("zero value Path must be root")
	}
	p := registerpath.New("/", 0)
	if !p.Root() {
		t.Fatalf("%q should parse to root path", "/")
	}
	if p.String() != "/" {
		t.Fatalf("root.String() = %q, want %q", p.String(), "/")
	}
}

func TestStartsWith(t *testing.T) {
	p := registerpath.New("/FEATURE/AREA1/CH0", 0)
	prefix := registerpath.New("/FEATURE/AREA1", 0)
	if !p.StartsWith(prefix) {
		t.Fatalf("%v should start with %v", p, prefix)
	}
	other := registerpath.New("/FEATURE/AREA2", 0)
	if p.StartsWith(other) {
		t.Fatalf("%v should not start with %v", p, other)
	}
	// A path starts with itself and with the root.
	if !p.StartsWith(p) {
		t.Fatal("a path must start with itself")
	}
	if !p.StartsWith(registerpath.Path{}) {
		t.Fatal("every path must start with the root path")
	}
}

func TestChildAndParent(t *testing.T) {
	base := registerpath.New("/FEATURE", 0)
	child := base.Child("AREA1")
	if child.String() != "/FEATURE/AREA1" {
		t.Fatalf("child.String() = %q", child.String())
	}
	if !child.Parent().Equal(base) {
		t.Fatalf("child.Parent() = %v, want %v", child.Parent(), base)
	}
	if child.Last() != "AREA1" {
		t.Fatalf("child.Last() = %q, want AREA1", child.Last())
	}
}

func TestEmptyComponentsAreDropped(t *testing.T) {
	p := registerpath.New("//FEATURE//AREA1/", 0)
	want := registerpath.Of("FEATURE", "AREA1")
	if !p.Equal(want) {
		t.Fatalf("p = %v, want %v", p, want)
	}
}
