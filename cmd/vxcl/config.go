package main

import (
	"os"
	"path/filepath"

	"github.com/urfave/cli/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the vxcl configuration file (~/.config/vxcl/config.yaml).
// Numeric fields are pointers so we can distinguish "not set" from zero.
type Config struct {
	// Device shape
	Cores         *int64 `yaml:"cores"`
	Warps         *int64 `yaml:"warps"`
	Threads       *int64 `yaml:"threads"`
	LocalMemSize  *int64 `yaml:"local_mem_size"`
	GlobalMemSize *int64 `yaml:"global_mem_size"`
	XLen          *int64 `yaml:"xlen"`

	PrintfBufferSize *int64 `yaml:"printf_buffer_size"`

	// Output
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Server
	ServerAddress string `yaml:"server_address"`
}

func configPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "vxcl", "config.yaml")
}

// applyDeviceConfig applies config file defaults to the device flags that
// were not set on the command line or through the environment.
func applyDeviceConfig(c *cli.Command, cfg Config) {
	set := func(flag string, v *int64, dst *int64) {
		if v != nil && !c.IsSet(flag) {
			*dst = *v
		}
	}
	set("cores", cfg.Cores, &numCores)
	set("warps", cfg.Warps, &numWarps)
	set("threads", cfg.Threads, &numThreads)
	set("local-mem", cfg.LocalMemSize, &localMemSize)
	set("global-mem", cfg.GlobalMemSize, &globalMemSize)
	set("xlen", cfg.XLen, &xlen)
	set("printf-buffer", cfg.PrintfBufferSize, &printfBuffer)
}

func applyServeConfig(c *cli.Command, cfg Config, addr *string) {
	applyDeviceConfig(c, cfg)
	if cfg.ServerAddress != "" && !c.IsSet("addr") {
		*addr = cfg.ServerAddress
	}
}

// LoadConfig reads the config file. Returns a zero Config if the file doesn't exist.
func LoadConfig() Config {
	path := configPath()
	if path == "" {
		return Config{}
	}
	return loadConfigFile(path)
}

func loadConfigFile(path string) Config {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}
	}
	return cfg
}
