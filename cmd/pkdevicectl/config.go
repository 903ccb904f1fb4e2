package main

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// deviceConfig is the pkdevicectl.toml shape: where to find the device
// manifest and engine tuning files, plus the port/diagnostics knobs.
// Decoded with BurntSushi/toml + meta.IsDefined, same idiom as
// cmd/ghostctl/config.go.
type deviceConfig struct {
	Port         string `toml:"port"`
	MTU          int    `toml:"mtu"`
	EngineTOML   string `toml:"engine_config"`
	ManifestTOML string `toml:"manifest"`
	DiagAddr     string `toml:"diag_addr"`
}

func loadDeviceConfig(path string, into *runOptions) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	var raw deviceConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load device config %q: %w", path, err)
	}

	if meta.IsDefined("port") {
		into.port = strings.TrimSpace(raw.Port)
	}
	if meta.IsDefined("mtu") && raw.MTU > 0 {
		into.mtu = raw.MTU
	}
	if meta.IsDefined("engine_config") {
		into.engineConfigPath = strings.TrimSpace(raw.EngineTOML)
	}
	if meta.IsDefined("manifest") {
		into.manifestPath = strings.TrimSpace(raw.ManifestTOML)
	}
	if meta.IsDefined("diag_addr") {
		into.diagAddr = strings.TrimSpace(raw.DiagAddr)
	}
	return nil
}
