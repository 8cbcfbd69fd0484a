package api

import (
	"github.com/samcharles93/vxcl/internal/device"
	"github.com/samcharles93/vxcl/internal/driver"
	"github.com/samcharles93/vxcl/internal/plan"
)

type ErrorBody struct {
	Message string `json:"message"`
	Type    string `json:"type"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

type DeviceResponse struct {
	Name             string       `json:"name"`
	Triple           string       `json:"triple"`
	XLen             int          `json:"xlen"`
	MaxWorkGroupSize uint32       `json:"max_work_group_size"`
	Caps             device.Caps  `json:"caps"`
	Stats            driver.Stats `json:"stats"`
	Uptime           string       `json:"uptime"`
	Error            string       `json:"error,omitempty"`
}

// Hardware overrides the open device's shape. Unset fields fall back to the
// device capabilities.
type Hardware struct {
	Cores    *uint32 `json:"cores,omitempty"`
	Warps    *uint32 `json:"warps,omitempty"`
	Threads  *uint32 `json:"threads,omitempty"`
	LocalMem *uint64 `json:"local_mem,omitempty"`
}

type PlanRequest struct {
	// Groups is the workgroup count per dimension, 1 to 3 entries.
	Groups []uint32 `json:"groups"`
	Hardware
}

type PlanResponse struct {
	Plan  plan.Plan       `json:"plan"`
	Cores []plan.CorePlan `json:"cores"`
}

type OccupancyRequest struct {
	Groups     []uint32 `json:"groups"`
	LocalBytes uint64   `json:"local_bytes"`
	Hardware
}

type OccupancyResponse struct {
	Groups uint64 `json:"groups"`
	plan.Residency
}
