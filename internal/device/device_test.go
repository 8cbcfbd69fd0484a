package device

import (
	"errors"
	"testing"
)

func TestCapsValidate(t *testing.T) {
	t.Parallel()

	good := Caps{NumCores: 4, NumWarps: 4, NumThreads: 32, GlobalMemSize: 1 << 20, PointerWidth: 4}
	if err := good.Validate(); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cases := map[string]Caps{
		"no cores":      {NumWarps: 4, NumThreads: 4, GlobalMemSize: 1, PointerWidth: 4},
		"bad width":     {NumCores: 1, NumWarps: 1, NumThreads: 1, GlobalMemSize: 1, PointerWidth: 2},
		"no global mem": {NumCores: 1, NumWarps: 1, NumThreads: 1, PointerWidth: 8},
	}
	for name, c := range cases {
		if err := c.Validate(); !errors.Is(err, ErrInvalidCaps) {
			t.Fatalf("%s: expected ErrInvalidCaps, got %v", name, err)
		}
	}
}

func TestCapsDerived(t *testing.T) {
	t.Parallel()

	c := Caps{NumWarps: 8, NumThreads: 16, PointerWidth: 8}
	if got := c.MaxWorkGroupSize(); got != 128 {
		t.Fatalf("max work group size: got %d want 128", got)
	}
	if c.XLen() != 64 {
		t.Fatalf("xlen: got %d", c.XLen())
	}
	if c.Triple() != "vortex-riscv64-unknown-unknown-elf" {
		t.Fatalf("triple: got %q", c.Triple())
	}
	c.PointerWidth = 4
	if c.Triple() != "vortex-riscv32-unknown-unknown-elf" {
		t.Fatalf("triple: got %q", c.Triple())
	}
}

func TestParseAccessMode(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]AccessMode{"": ReadWrite, "ro": ReadOnly, "WRITE-ONLY": WriteOnly, "rw": ReadWrite} {
		got, err := ParseAccessMode(in)
		if err != nil {
			t.Fatalf("ParseAccessMode(%q): %v", in, err)
		}
		if got != want {
			t.Fatalf("ParseAccessMode(%q): got %v want %v", in, got, want)
		}
	}
	if _, err := ParseAccessMode("rx"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}
