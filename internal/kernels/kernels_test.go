package kernels

import (
	"testing"

	"github.com/samcharles93/vxcl/internal/sim"
	"github.com/samcharles93/vxcl/pkg/vxbin"
)

func TestRegisterAll(t *testing.T) {
	t.Parallel()

	r := sim.NewRegistry()
	if err := Register(r); err != nil {
		t.Fatalf("Register: %v", err)
	}
	for _, k := range All() {
		if _, ok := r.Lookup(k.Info.Name); !ok {
			t.Fatalf("kernel %q not registered", k.Info.Name)
		}
	}
	if err := Register(r); err == nil {
		t.Fatal("registering twice should fail")
	}
}

func TestBinaryMatchesSignatures(t *testing.T) {
	t.Parallel()

	for _, xlen := range []int{32, 64} {
		bin, err := Binary(xlen)
		if err != nil {
			t.Fatalf("Binary(%d): %v", xlen, err)
		}
		f, err := vxbin.Parse(bin)
		if err != nil {
			t.Fatalf("Parse: %v", err)
		}
		if f.Meta.XLen != xlen || f.Is64Bit() != (xlen == 64) {
			t.Fatalf("xlen %d: meta says %d, 64-bit flag %t", xlen, f.Meta.XLen, f.Is64Bit())
		}
		for i, k := range All() {
			id, info, err := f.Meta.Kernel(k.Info.Name)
			if err != nil {
				t.Fatalf("kernel %q: %v", k.Info.Name, err)
			}
			if int(id) != i || info.Slots() != k.Info.Slots() {
				t.Fatalf("kernel %q: id %d slots %d, want %d and %d", k.Info.Name, id, info.Slots(), i, k.Info.Slots())
			}
		}
	}
}

func TestGroupSumSignature(t *testing.T) {
	t.Parallel()

	for _, k := range All() {
		if k.Info.Name != "groupsum" {
			continue
		}
		if !k.Info.HasLocals() || k.Info.Slots() != 5 {
			t.Fatalf("groupsum: locals %t slots %d", k.Info.HasLocals(), k.Info.Slots())
		}
		return
	}
	t.Fatal("groupsum missing")
}
