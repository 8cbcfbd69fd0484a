package plan

import (
	"fmt"
	"math"
	"math/bits"
)

// Residency is the result of an occupancy check.
type Residency struct {
	// MaxResident is the number of workgroups that may be live on one core
	// at the same time.
	MaxResident uint64 `json:"max_resident"`
	// Needed is MaxResident times the per-workgroup local bytes
	// (math.MaxUint64 when the product overflows).
	Needed    uint64 `json:"needed"`
	Available uint64 `json:"available"`
	OK        bool   `json:"ok"`
}

// Occupancy bounds the number of concurrently resident workgroups per core
// and checks that their local memory fits into capacity. Unlike New it
// rounds the core count up, so the bound is conservative for any plan.
func Occupancy(q uint64, nc, nw, nt uint32, localBytes, capacity uint64) Residency {
	r := Residency{Available: capacity, OK: true}
	if q == 0 || nc == 0 || nw == 0 || nt == 0 {
		return r
	}
	wt := uint64(nw) * uint64(nt)
	needed := ceilDiv(q, wt)
	active := min(needed, uint64(nc))
	perCore := ceilDiv(q, active)
	r.MaxResident = min(perCore, wt)

	hi, lo := bits.Mul64(r.MaxResident, localBytes)
	if hi != 0 {
		r.Needed = math.MaxUint64
		r.OK = false
		return r
	}
	r.Needed = lo
	r.OK = lo <= capacity
	return r
}

func (r Residency) String() string {
	return fmt.Sprintf("resident=%d needed=%d available=%d ok=%t", r.MaxResident, r.Needed, r.Available, r.OK)
}

func ceilDiv(a, b uint64) uint64 {
	n := a / b
	if a%b != 0 {
		n++
	}
	return n
}
