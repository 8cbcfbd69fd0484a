// Package api serves the status of an open device over HTTP, along with
// the distribution planner and occupancy check as stateless calculators.
package api

import (
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"

	"github.com/samcharles93/vxcl/internal/driver"
	"github.com/samcharles93/vxcl/internal/logger"
	"github.com/samcharles93/vxcl/internal/plan"
	"github.com/samcharles93/vxcl/internal/version"
)

type Server struct {
	dev     *driver.Device
	log     logger.Logger
	clock   func() time.Time
	started time.Time
}

// NewServer reports on dev. A nil dev still serves the calculators when
// requests carry a full hardware description.
func NewServer(dev *driver.Device, log logger.Logger) *Server {
	if log == nil {
		log = logger.Discard()
	}
	return &Server{dev: dev, log: log, clock: time.Now, started: time.Now()}
}

// MaxPlanCores bounds the per-core listing a plan request may ask for.
const MaxPlanCores = 4096

func (s *Server) Register(e *echo.Echo) {
	e.GET("/v1/device", s.handleDevice)
	e.POST("/v1/plan", s.handlePlan)
	e.POST("/v1/occupancy", s.handleOccupancy)
	e.GET("/v1/version", s.handleVersion)
}

func (s *Server) handleDevice(c *echo.Context) error {
	if s.dev == nil {
		return writeUnavailable(c, "no device open")
	}
	caps := s.dev.Caps()
	resp := DeviceResponse{
		Name:             s.dev.Name(),
		Triple:           caps.Triple(),
		XLen:             caps.XLen(),
		MaxWorkGroupSize: caps.MaxWorkGroupSize(),
		Caps:             caps,
		Stats:            s.dev.Stats(),
		Uptime:           s.clock().Sub(s.started).Round(time.Second).String(),
	}
	if err := s.dev.Err(); err != nil {
		resp.Error = err.Error()
	}
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handlePlan(c *echo.Context) error {
	req, err := decodeJSON[PlanRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	q, err := groupCount(req.Groups)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	nc, nw, nt, _, err := s.hardware(req.Hardware)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	if nc > MaxPlanCores {
		return writeBadRequest(c, fmt.Sprintf("cores: at most %d per plan request, got %d", MaxPlanCores, nc))
	}
	p := plan.New(q, nc, nw, nt)
	resp := PlanResponse{Plan: p, Cores: make([]plan.CorePlan, 0, p.ActiveCores)}
	for core := range p.ActiveCores {
		resp.Cores = append(resp.Cores, p.Core(core))
	}
	s.log.Debug("plan computed", "groups", q, "active_cores", p.ActiveCores)
	return writeJSON(c, http.StatusOK, resp)
}

func (s *Server) handleOccupancy(c *echo.Context) error {
	req, err := decodeJSON[OccupancyRequest](c.Request().Body)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	q, err := groupCount(req.Groups)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	nc, nw, nt, local, err := s.hardware(req.Hardware)
	if err != nil {
		return writeBadRequest(c, err.Error())
	}
	res := plan.Occupancy(q, nc, nw, nt, req.LocalBytes, local)
	return writeJSON(c, http.StatusOK, OccupancyResponse{Groups: q, Residency: res})
}

func (s *Server) handleVersion(c *echo.Context) error {
	return writeJSON(c, http.StatusOK, version.Resolve())
}

func groupCount(groups []uint32) (uint64, error) {
	if len(groups) < 1 || len(groups) > 3 {
		return 0, newInvalidRequest(fmt.Sprintf("groups: want 1 to 3 dimensions, got %d", len(groups)))
	}
	q := uint64(1)
	for _, g := range groups {
		q *= uint64(g)
		if q > math.MaxUint32 {
			return 0, newInvalidRequest("groups: workgroup count exceeds 32 bits")
		}
	}
	return q, nil
}

func (s *Server) hardware(h Hardware) (nc, nw, nt uint32, local uint64, err error) {
	if s.dev != nil {
		caps := s.dev.Caps()
		nc, nw, nt, local = caps.NumCores, caps.NumWarps, caps.NumThreads, caps.LocalMemSize
	}
	if h.Cores != nil {
		nc = *h.Cores
	}
	if h.Warps != nil {
		nw = *h.Warps
	}
	if h.Threads != nil {
		nt = *h.Threads
	}
	if h.LocalMem != nil {
		local = *h.LocalMem
	}
	switch {
	case nc != 0 && nw != 0 && nt != 0:
		return nc, nw, nt, local, nil
	case s.dev == nil:
		return 0, 0, 0, 0, newInvalidRequest("no device open: cores, warps and threads are required")
	default:
		return 0, 0, 0, 0, newInvalidRequest("cores, warps and threads must be non-zero")
	}
}
