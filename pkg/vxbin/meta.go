package vxbin

import (
	"fmt"

	json "github.com/goccy/go-json"
)

// Argument kinds as they appear in kernel signatures.
const (
	ArgScalar  = "scalar"
	ArgPointer = "pointer"
	ArgLocal   = "local"
	ArgImage   = "image"
	ArgSampler = "sampler"
)

// Meta is the payload of the Meta section.
type Meta struct {
	XLen    int          `json:"xlen"`
	Kernels []KernelInfo `json:"kernels"`
}

// KernelInfo is the compiled signature of one kernel.
type KernelInfo struct {
	Name string   `json:"name"`
	Args []string `json:"args"`
	// Locals are implicit local allocations the compiler hoisted out of the
	// kernel body, in bytes.
	Locals []uint64 `json:"locals,omitempty"`
}

// Slots is the number of index table entries the kernel reads.
func (k KernelInfo) Slots() int { return len(k.Args) + len(k.Locals) }

// HasLocals reports whether the kernel uses any local memory.
func (k KernelInfo) HasLocals() bool {
	if len(k.Locals) > 0 {
		return true
	}
	for _, a := range k.Args {
		if a == ArgLocal {
			return true
		}
	}
	return false
}

// Kernel looks a kernel up by name and returns its id.
func (m *Meta) Kernel(name string) (uint32, KernelInfo, error) {
	for i, k := range m.Kernels {
		if k.Name == name {
			return uint32(i), k, nil
		}
	}
	return 0, KernelInfo{}, fmt.Errorf("%w: %q", ErrNoKernel, name)
}

func (m *Meta) Validate() error {
	if m.XLen != 32 && m.XLen != 64 {
		return fmt.Errorf("%w: xlen %d", ErrCorruptFile, m.XLen)
	}
	seen := make(map[string]struct{}, len(m.Kernels))
	for i, k := range m.Kernels {
		if k.Name == "" {
			return fmt.Errorf("%w: kernel %d has no name", ErrCorruptFile, i)
		}
		if _, dup := seen[k.Name]; dup {
			return fmt.Errorf("%w: duplicate kernel %q", ErrCorruptFile, k.Name)
		}
		seen[k.Name] = struct{}{}
		for j, a := range k.Args {
			switch a {
			case ArgScalar, ArgPointer, ArgLocal, ArgImage, ArgSampler:
			default:
				return fmt.Errorf("%w: kernel %q arg %d has kind %q", ErrCorruptFile, k.Name, j, a)
			}
		}
	}
	return nil
}

func decodeMeta(data []byte) (*Meta, error) {
	var m Meta
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: meta: %v", ErrCorruptFile, err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func encodeMeta(m *Meta) ([]byte, error) {
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return json.Marshal(m)
}
