package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"
	"github.com/labstack/echo/v5"

	"github.com/samcharles93/vxcl/internal/device"
	"github.com/samcharles93/vxcl/internal/driver"
	"github.com/samcharles93/vxcl/internal/sim"
)

func newTestEcho(t *testing.T, withDevice bool) *echo.Echo {
	t.Helper()
	var dev *driver.Device
	if withDevice {
		caps := sim.DefaultCaps()
		caps.GlobalMemSize = 1 << 20
		open := func() (device.Runtime, error) { return sim.New(sim.Config{Caps: caps}) }
		var err error
		dev, err = driver.Open(t.Name(), open, driver.Options{PrintfBufferSize: 1024})
		if err != nil {
			t.Fatalf("open device: %v", err)
		}
		t.Cleanup(func() { _ = dev.Close() })
	}
	e := echo.New()
	NewServer(dev, nil).Register(e)
	return e
}

func doJSON(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %s: %v", rec.Body.String(), err)
	}
	return out
}

func TestDevice(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, true)
	rec := doJSON(t, e, http.MethodGet, "/v1/device", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode[DeviceResponse](t, rec)
	if resp.Name != t.Name() || resp.XLen != 32 || resp.MaxWorkGroupSize != 16 {
		t.Fatalf("unexpected device: %+v", resp)
	}
	if resp.Caps.NumCores != 4 || resp.Stats.Refs != 1 || resp.Error != "" {
		t.Fatalf("unexpected caps or stats: %+v", resp)
	}
	if resp.Triple != "vortex-riscv32-unknown-unknown-elf" {
		t.Fatalf("triple: %q", resp.Triple)
	}
}

func TestDeviceUnavailable(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, false)
	rec := doJSON(t, e, http.MethodGet, "/v1/device", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status: got %d", rec.Code)
	}
	if resp := decode[ErrorResponse](t, rec); resp.Error.Type != "device_unavailable" {
		t.Fatalf("error type: %q", resp.Error.Type)
	}
}

func TestPlan(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, false)
	rec := doJSON(t, e, http.MethodPost, "/v1/plan", `{"groups":[1001],"cores":4,"warps":4,"threads":32}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode[PlanResponse](t, rec)
	if resp.Plan.ActiveCores != 4 || resp.Plan.PerCore != 250 || resp.Plan.Extra != 1 {
		t.Fatalf("plan: %+v", resp.Plan)
	}
	if len(resp.Cores) != 4 || resp.Cores[3].Count != 251 || resp.Cores[3].Offset != 750 {
		t.Fatalf("cores: %+v", resp.Cores)
	}
}

func TestPlanUsesDeviceDefaults(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, true)
	rec := doJSON(t, e, http.MethodPost, "/v1/plan", `{"groups":[8,8]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode[PlanResponse](t, rec)
	if resp.Plan.Groups != 64 || resp.Plan.ActiveCores != 4 || resp.Plan.Threads != 4 {
		t.Fatalf("plan: %+v", resp.Plan)
	}
}

func TestPlanBadRequests(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, false)
	for name, body := range map[string]string{
		"empty":          ``,
		"no groups":      `{"cores":1,"warps":1,"threads":1}`,
		"four dims":      `{"groups":[1,1,1,1],"cores":1,"warps":1,"threads":1}`,
		"overflow":       `{"groups":[65536,65536,2],"cores":1,"warps":1,"threads":1}`,
		"no hardware":    `{"groups":[4]}`,
		"unknown field":  `{"groups":[4],"cores":1,"warps":1,"threads":1,"gpus":2}`,
		"too many cores": `{"groups":[4000000],"cores":4000000,"warps":1,"threads":1}`,
	} {
		rec := doJSON(t, e, http.MethodPost, "/v1/plan", body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: status %d body=%s", name, rec.Code, rec.Body.String())
		}
	}
}

func TestPlanCoreLimit(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, false)
	rec := doJSON(t, e, http.MethodPost, "/v1/plan", `{"groups":[8192],"cores":4096,"warps":1,"threads":1}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	if resp := decode[PlanResponse](t, rec); len(resp.Cores) != MaxPlanCores {
		t.Fatalf("cores: got %d entries", len(resp.Cores))
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/plan", `{"groups":[8192],"cores":4097,"warps":1,"threads":1}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status: got %d body=%d bytes", rec.Code, rec.Body.Len())
	}
	if body := rec.Body.String(); !strings.Contains(body, "at most 4096") {
		t.Fatalf("body: %s", body)
	}
}

func TestOccupancy(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, true)
	// 64 groups on 4x4x4: 16 resident per core. 16 x 1024 fills 16 KiB exactly.
	rec := doJSON(t, e, http.MethodPost, "/v1/occupancy", `{"groups":[64],"local_bytes":1024}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d body=%s", rec.Code, rec.Body.String())
	}
	resp := decode[OccupancyResponse](t, rec)
	if !resp.OK || resp.MaxResident != 16 || resp.Needed != 16<<10 {
		t.Fatalf("occupancy: %+v", resp)
	}

	rec = doJSON(t, e, http.MethodPost, "/v1/occupancy", `{"groups":[64],"local_bytes":1025}`)
	if resp := decode[OccupancyResponse](t, rec); resp.OK {
		t.Fatalf("one byte over capacity must not fit: %+v", resp)
	}
}

func TestVersion(t *testing.T) {
	t.Parallel()

	e := newTestEcho(t, false)
	rec := doJSON(t, e, http.MethodGet, "/v1/version", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, `"version"`) {
		t.Fatalf("body: %s", body)
	}
}
