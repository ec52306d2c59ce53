package regcatalogue_test

import (
	"testing"

	"github.com/fieldbus/deviceaccess/registerpath"
	"github.com/fieldbus/deviceaccess/regcatalogue"
)

func scalarInfo(path string) regcatalogue.RegisterInfo {
	return regcatalogue.RegisterInfo{
		Path:             registerpath.New(path, registerpath.DefaultSeparator),
		NElements:        1,
		NChannels:        1,
		Address:          0x10,
		SizeInBytes:      4,
		BAR:              0,
		ElementPitchBits: 32,
		Channels: []regcatalogue.ChannelInfo{
			{Width: 32, DataType: regcatalogue.FixedPoint, Signed: true},
		},
		AccessMode: regcatalogue.ReadWrite,
	}
}

func TestAddAndGetRegister(t *testing.T) {
	cat := regcatalogue.NewNumericAddressedRegisterCatalogue()
	info := scalarInfo("/BOARD/WORD_STATUS")
	if err := cat.AddRegister(info); err != nil {
		t.Fatalf("AddRegister: %v", err)
	}

	got, err := cat.GetRegister(info.Path)
	if err != nil {
		t.Fatalf("GetRegister: %v", err)
	}
	if !got.Path.Equal(info.Path) {
		t.Errorf("path mismatch: got %s want %s", got.Path, info.Path)
	}
}

func TestValidateRejectsBadInvariants(t *testing.T) {
	info := scalarInfo("/BAD")
	info.ElementPitchBits = 7 // not a multiple of 8
	if err := info.Validate(); err == nil {
		t.Error("expected validation error for elementPitchBits % 8 != 0")
	}

	info2 := scalarInfo("/BAD2")
	info2.Channels[0].Width = 40
	if err := info2.Validate(); err == nil {
		t.Error("expected validation error for width > 32")
	}

	info3 := scalarInfo("/BAD3")
	info3.AccessMode = regcatalogue.Interrupt
	info3.InterruptID = nil
	if err := info3.Validate(); err == nil {
		t.Error("expected validation error for INTERRUPT with empty interruptId")
	}
}

func TestNumericAddressSynthesis(t *testing.T) {
	cat := regcatalogue.NewNumericAddressedRegisterCatalogue()

	path := registerpath.New("/BAR/0/0x20", registerpath.DefaultSeparator)
	info, err := cat.GetRegister(path)
	if err != nil {
		t.Fatalf("synthesize: %v", err)
	}
	if info.BAR != 0 || info.Address != 0x20 || info.SizeInBytes != 4 {
		t.Errorf("unexpected synthesized info: %+v", info)
	}

	pathMulti := registerpath.New("/BAR/2/0x100*16", registerpath.DefaultSeparator)
	infoMulti, err := cat.GetRegister(pathMulti)
	if err != nil {
		t.Fatalf("synthesize multi: %v", err)
	}
	if infoMulti.NElements != 4 || infoMulti.SizeInBytes != 16 {
		t.Errorf("unexpected multi-word synthesis: %+v", infoMulti)
	}

	if cat.HasRegister(path) {
		t.Error("synthesized entries must not count as real registers")
	}
}

func TestListRegistersPreservesInsertionOrder(t *testing.T) {
	cat := regcatalogue.NewNumericAddressedRegisterCatalogue()
	paths := []string{"/A", "/B", "/C"}
	for _, p := range paths {
		if err := cat.AddRegister(scalarInfo(p)); err != nil {
			t.Fatalf("AddRegister(%s): %v", p, err)
		}
	}
	list := cat.ListRegisters()
	if len(list) != 3 {
		t.Fatalf("got %d registers, want 3", len(list))
	}
	for i, p := range paths {
		if list[i].Path.String() != p {
			t.Errorf("position %d: got %s, want %s", i, list[i].Path, p)
		}
	}
}
