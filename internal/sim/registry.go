package sim

import (
	"fmt"
	"sort"
	"sync"

	"github.com/samcharles93/vxcl/internal/dispatch"
)

// Registry maps kernel names found in a binary's metadata to the Go
// functions the simulator runs for them.
type Registry struct {
	mu      sync.RWMutex
	kernels map[string]dispatch.Kernel
}

func NewRegistry() *Registry {
	return &Registry{kernels: make(map[string]dispatch.Kernel)}
}

// Register adds a kernel. Registering a name twice is an error.
func (r *Registry) Register(name string, k dispatch.Kernel) error {
	if k == nil {
		return fmt.Errorf("sim: nil kernel %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.kernels[name]; ok {
		return fmt.Errorf("sim: kernel %q already registered", name)
	}
	r.kernels[name] = k
	return nil
}

func (r *Registry) Lookup(name string) (dispatch.Kernel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.kernels[name]
	return k, ok
}

// Names lists registered kernels in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.kernels))
	for n := range r.kernels {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
