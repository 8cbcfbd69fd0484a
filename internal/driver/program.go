package driver

import (
	"fmt"

	"github.com/samcharles93/vxcl/pkg/vxbin"
)

// Program is a kernel binary loaded for one device. It is uploaded lazily
// by the first launch that needs it.
type Program struct {
	dev    *Device
	image  []byte
	digest vxbin.Digest
	meta   *vxbin.Meta
}

// LoadProgram parses a .vxbin image. The image is copied.
func (d *Device) LoadProgram(image []byte) (*Program, error) {
	image = append([]byte(nil), image...)
	f, err := vxbin.Parse(image)
	if err != nil {
		return nil, err
	}
	return d.newProgram(f)
}

// OpenProgram loads a .vxbin from disk.
func (d *Device) OpenProgram(path string) (*Program, error) {
	f, err := vxbin.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()
	image := append([]byte(nil), f.Data...)
	f, err = vxbin.Parse(image)
	if err != nil {
		return nil, err
	}
	return d.newProgram(f)
}

func (d *Device) newProgram(f *vxbin.File) (*Program, error) {
	if want := d.caps.XLen(); f.Meta.XLen != want {
		return nil, configError(fmt.Errorf("binary built for xlen %d, device %s is %d", f.Meta.XLen, d.name, want))
	}
	return &Program{dev: d, image: f.Data, digest: vxbin.Sum(f.Data), meta: f.Meta}, nil
}

func (p *Program) Digest() vxbin.Digest { return p.digest }

// Kernels lists kernel names in id order.
func (p *Program) Kernels() []string {
	names := make([]string, len(p.meta.Kernels))
	for i, k := range p.meta.Kernels {
		names[i] = k.Name
	}
	return names
}

// Kernel is one entry point of a program.
type Kernel struct {
	prog *Program
	id   uint32
	info vxbin.KernelInfo
}

func (p *Program) Kernel(name string) (*Kernel, error) {
	id, info, err := p.meta.Kernel(name)
	if err != nil {
		return nil, err
	}
	return &Kernel{prog: p, id: id, info: info}, nil
}

func (k *Kernel) Name() string           { return k.info.Name }
func (k *Kernel) ID() uint32             { return k.id }
func (k *Kernel) Info() vxbin.KernelInfo { return k.info }
func (k *Kernel) Program() *Program      { return k.prog }
