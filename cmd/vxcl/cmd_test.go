package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestParseDims(t *testing.T) {
	t.Parallel()

	got, err := parseDims("32, 4,2")
	if err != nil {
		t.Fatalf("parseDims returned error: %v", err)
	}
	if len(got) != 3 || got[0] != 32 || got[1] != 4 || got[2] != 2 {
		t.Fatalf("unexpected dims: %v", got)
	}
	for _, bad := range []string{"", "1,2,3,4", "x", "-1", "4294967296"} {
		if _, err := parseDims(bad); err == nil {
			t.Fatalf("parseDims(%q) should fail", bad)
		}
	}
}

func TestProduct(t *testing.T) {
	t.Parallel()

	q, err := product([]uint32{1000, 4, 2})
	if err != nil || q != 8000 {
		t.Fatalf("product = %d, %v", q, err)
	}
	if _, err := product([]uint32{65536, 65536}); err == nil {
		t.Fatalf("expected overflow error")
	}
}

func TestLoadConfigFile(t *testing.T) {
	t.Run("missing file gives zero config", func(t *testing.T) {
		cfg := loadConfigFile(filepath.Join(t.TempDir(), "absent.yaml"))
		if cfg.Cores != nil || cfg.ServerAddress != "" {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})

	t.Run("fields are decoded", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		body := "cores: 8\nlocal_mem_size: 0\nlog_level: debug\nserver_address: 0.0.0.0:9000\n"
		if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		cfg := loadConfigFile(path)
		if cfg.Cores == nil || *cfg.Cores != 8 {
			t.Fatalf("cores not decoded: %+v", cfg.Cores)
		}
		if cfg.LocalMemSize == nil || *cfg.LocalMemSize != 0 {
			t.Fatalf("explicit zero local_mem_size lost")
		}
		if cfg.Warps != nil {
			t.Fatalf("warps should be unset")
		}
		if cfg.LogLevel != "debug" || cfg.ServerAddress != "0.0.0.0:9000" {
			t.Fatalf("unexpected config: %+v", cfg)
		}
	})

	t.Run("malformed yaml gives zero config", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "config.yaml")
		if err := os.WriteFile(path, []byte("cores: [\n"), 0o644); err != nil {
			t.Fatalf("write config: %v", err)
		}
		if cfg := loadConfigFile(path); cfg.Cores != nil {
			t.Fatalf("expected zero config, got %+v", cfg)
		}
	})
}

func TestSelectKernels(t *testing.T) {
	t.Parallel()

	m, err := selectKernels(64, []string{"saxpy", "vecadd"})
	if err != nil {
		t.Fatalf("selectKernels: %v", err)
	}
	if m.XLen != 64 || len(m.Kernels) != 2 || m.Kernels[0].Name != "saxpy" || m.Kernels[1].Name != "vecadd" {
		t.Fatalf("unexpected meta: %+v", m)
	}
	all, err := selectKernels(32, nil)
	if err != nil || len(all.Kernels) < 5 {
		t.Fatalf("expected every built-in kernel, got %+v, %v", all, err)
	}
	if _, err := selectKernels(32, []string{"nope"}); err == nil {
		t.Fatalf("expected an error for an unknown kernel")
	}
}
