// Package bootconfig loads the kernel's boot-time configuration from a
// TOML file: the init binary to exec, its argv/envp, initial rlimits,
// and any extra /dev entries to seed before mounting (SPEC_FULL §A).
package bootconfig

import "github.com/BurntSushi/toml"

// Config is the top-level boot configuration document.
type Config struct {
	Init    InitConfig         `toml:"init"`
	RLimits map[string]uintptr `toml:"rlimits"`
	Devices []DeviceConfig     `toml:"devices"`
}

// InitConfig names the first executable the kernel runs and its
// arguments and environment (spec §4.G's execve entry point).
type InitConfig struct {
	Path string   `toml:"path"`
	Argv []string `toml:"argv"`
	Envp []string `toml:"envp"`
}

// DeviceConfig describes one extra /dev entry to register before
// mounting, beyond DevFS's built-in standard set (spec §4.D: "new
// devices may be registered before mounting").
type DeviceConfig struct {
	Name string `toml:"name"`
	Kind string `toml:"kind"`
}

// Default returns the configuration used when no boot file is given:
// a single-segment init at /sbin/init with an empty environment.
func Default() *Config {
	return &Config{
		Init: InitConfig{
			Path: "/sbin/init",
		},
		RLimits: map[string]uintptr{"nofile": 256},
	}
}

// Load parses path as a boot configuration document.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}
