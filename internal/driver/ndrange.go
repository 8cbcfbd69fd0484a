package driver

import (
	"math"

	"github.com/samcharles93/vxcl/internal/device"
	"github.com/samcharles93/vxcl/internal/kargs"
)

// NDRange is the shape of one launch. Dimensions at or beyond WorkDim
// must be left zero or set to 1 group of 1 item with no offset.
type NDRange struct {
	WorkDim      uint32    `json:"work_dim"`
	NumGroups    [3]uint32 `json:"num_groups"`
	LocalSize    [3]uint32 `json:"local_size"`
	GlobalOffset [3]uint32 `json:"global_offset"`
}

// Grid builds an NDRange from global and local sizes. Every global size
// must be a multiple of the matching local size.
func Grid(global, local []uint32) (NDRange, error) {
	var nd NDRange
	if len(global) < 1 || len(global) > 3 {
		return nd, &NDRangeError{Field: "work_dim", Dim: -1, Value: uint64(len(global)), Reason: "must be 1, 2 or 3"}
	}
	if len(local) != len(global) {
		return nd, &NDRangeError{Field: "local_size", Dim: -1, Value: uint64(len(local)), Reason: "dimension count differs from global size"}
	}
	nd.WorkDim = uint32(len(global))
	for d := range global {
		if local[d] == 0 {
			return nd, &NDRangeError{Field: "local_size", Dim: d, Reason: "must be at least 1"}
		}
		if global[d]%local[d] != 0 {
			return nd, &NDRangeError{Field: "global_size", Dim: d, Value: uint64(global[d]), Reason: "not a multiple of the local size"}
		}
		nd.NumGroups[d] = global[d] / local[d]
		nd.LocalSize[d] = local[d]
	}
	return nd, nd.normalize()
}

// WithOffset returns nd shifted by a global offset.
func (nd NDRange) WithOffset(off ...uint32) NDRange {
	copy(nd.GlobalOffset[:], off)
	return nd
}

func (nd *NDRange) normalize() error {
	if nd.WorkDim < 1 || nd.WorkDim > 3 {
		return &NDRangeError{Field: "work_dim", Dim: -1, Value: uint64(nd.WorkDim), Reason: "must be 1, 2 or 3"}
	}
	for d := int(nd.WorkDim); d < 3; d++ {
		if nd.NumGroups[d] == 0 {
			nd.NumGroups[d] = 1
		}
		if nd.LocalSize[d] == 0 {
			nd.LocalSize[d] = 1
		}
		switch {
		case nd.NumGroups[d] != 1:
			return &NDRangeError{Field: "num_groups", Dim: d, Value: uint64(nd.NumGroups[d]), Reason: "must be 1 beyond work_dim"}
		case nd.LocalSize[d] != 1:
			return &NDRangeError{Field: "local_size", Dim: d, Value: uint64(nd.LocalSize[d]), Reason: "must be 1 beyond work_dim"}
		case nd.GlobalOffset[d] != 0:
			return &NDRangeError{Field: "global_offset", Dim: d, Value: uint64(nd.GlobalOffset[d]), Reason: "must be 0 beyond work_dim"}
		}
	}
	return nil
}

// Groups is the total workgroup count Q.
func (nd NDRange) Groups() uint64 {
	return uint64(nd.NumGroups[0]) * uint64(nd.NumGroups[1]) * uint64(nd.NumGroups[2])
}

// GroupSize is the number of work-items per workgroup.
func (nd NDRange) GroupSize() uint64 {
	return uint64(nd.LocalSize[0]) * uint64(nd.LocalSize[1]) * uint64(nd.LocalSize[2])
}

// Validate normalizes nd and checks it against the device. A zero group
// count or group size is valid and means there is nothing to run.
func (nd *NDRange) Validate(caps device.Caps) error {
	if err := nd.normalize(); err != nil {
		return err
	}
	for d := range int(nd.WorkDim) {
		end := uint64(nd.NumGroups[d])*uint64(nd.LocalSize[d]) + uint64(nd.GlobalOffset[d])
		if end > math.MaxUint32 {
			return &NDRangeError{Field: "global_size", Dim: d, Value: end, Reason: "global id range exceeds 32 bits"}
		}
	}
	if q := nd.Groups(); q > math.MaxUint32 {
		return &NDRangeError{Field: "groups", Dim: -1, Value: q, Reason: "workgroup count exceeds 32 bits"}
	}
	if gs, limit := nd.GroupSize(), uint64(caps.MaxWorkGroupSize()); gs > limit {
		return &NDRangeError{Field: "group_size", Dim: -1, Value: gs, Reason: "exceeds the device's warps x threads"}
	}
	return nil
}

// Empty reports whether the launch has no work-items.
func (nd NDRange) Empty() bool { return nd.Groups() == 0 || nd.GroupSize() == 0 }

func (nd NDRange) header() kargs.Header {
	return kargs.Header{
		NumGroups:    nd.NumGroups,
		GlobalOffset: nd.GlobalOffset,
		LocalSize:    nd.LocalSize,
		WorkDim:      nd.WorkDim,
	}
}
