// Package pkconfig loads the engine's tuning knobs and a device's
// variable/method manifest from TOML files.
package pkconfig

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	pgtoml "github.com/pelletier/go-toml/v2"

	"github.com/danmuck/pkcmd/internal/pkengine"
)

// engineOverrides mirrors pkengine.Config one field at a time so a
// manifest only has to name the knobs it wants to change; zero values
// leave pkengine.DefaultConfig()'s value untouched.
type engineOverrides struct {
	AckTimeoutMS          int64 `toml:"ack_timeout_ms"`
	AwaitIntervalMS       int64 `toml:"await_interval_ms"`
	InterCommandTimeoutMS int64 `toml:"inter_command_timeout_ms"`
	MaxAttempts           int   `toml:"max_attempts"`
	MaxInboundBytes       int   `toml:"max_inbound_bytes"`
	MaxOutboundBytes      int   `toml:"max_outbound_bytes"`
}

// LoadEngineConfig reads engine reliability knobs from a TOML file,
// layered over pkengine.DefaultConfig(), the way
// internal/protocol/session.Config is loaded over its own defaults.
func LoadEngineConfig(path string) (pkengine.Config, error) {
	cfg := pkengine.DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return pkengine.Config{}, fmt.Errorf("engine config load failed (%s): %w", path, err)
	}
	var raw engineOverrides
	if err := pgtoml.Unmarshal(data, &raw); err != nil {
		return pkengine.Config{}, fmt.Errorf("engine config parse failed (%s): %w", path, err)
	}

	if raw.AckTimeoutMS > 0 {
		cfg.AckTimeout = time.Duration(raw.AckTimeoutMS) * time.Millisecond
	}
	if raw.AwaitIntervalMS > 0 {
		cfg.AwaitInterval = time.Duration(raw.AwaitIntervalMS) * time.Millisecond
	}
	if raw.InterCommandTimeoutMS > 0 {
		cfg.InterCommandTimeout = time.Duration(raw.InterCommandTimeoutMS) * time.Millisecond
	}
	if raw.MaxAttempts > 0 {
		cfg.MaxAttempts = raw.MaxAttempts
	}
	if raw.MaxInboundBytes > 0 {
		cfg.MaxInboundBytes = raw.MaxInboundBytes
	}
	if raw.MaxOutboundBytes > 0 {
		cfg.MaxOutboundBytes = raw.MaxOutboundBytes
	}
	return cfg, nil
}

// DeviceManifest declares the variables and methods a pkdevicectl
// process should seed into its pkhandler.Store at startup.
type DeviceManifest struct {
	MTU          int
	VersionMinor int
	VersionPatch int
	Variables    map[string]string
	Methods      []string
}

type fileManifest struct {
	MTU          int               `toml:"mtu"`
	VersionMinor int               `toml:"version_minor"`
	VersionPatch int               `toml:"version_patch"`
	Variables    map[string]string `toml:"variables"`
	Methods      []string          `toml:"methods"`
}

// LoadDeviceManifest decodes a device manifest the same way
// cmd/ghostctl/config.go decodes its service config: BurntSushi/toml
// with meta.IsDefined presence tracking, so an absent key keeps its
// default rather than zeroing the field.
func LoadDeviceManifest(path string) (DeviceManifest, error) {
	out := DeviceManifest{MTU: 64, Variables: map[string]string{}}

	var raw fileManifest
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return DeviceManifest{}, fmt.Errorf("load device manifest: %w", err)
	}

	if meta.IsDefined("mtu") && raw.MTU > 0 {
		out.MTU = raw.MTU
	}
	if meta.IsDefined("version_minor") {
		out.VersionMinor = raw.VersionMinor
	}
	if meta.IsDefined("version_patch") {
		out.VersionPatch = raw.VersionPatch
	}
	if meta.IsDefined("variables") {
		out.Variables = raw.Variables
	}
	if meta.IsDefined("methods") {
		out.Methods = normalizeNames(raw.Methods)
	}

	if err := ValidateDeviceManifest(out); err != nil {
		return DeviceManifest{}, err
	}
	return out, nil
}

func ValidateDeviceManifest(m DeviceManifest) error {
	if m.MTU < 15 {
		return fmt.Errorf("manifest mtu must be at least 15 (got %d)", m.MTU)
	}
	for name := range m.Variables {
		if len(name) != 5 {
			return fmt.Errorf("variable name %q must be exactly 5 characters", name)
		}
	}
	for _, name := range m.Methods {
		if len(name) != 5 {
			return fmt.Errorf("method name %q must be exactly 5 characters", name)
		}
	}
	return nil
}

func normalizeNames(in []string) []string {
	out := make([]string, 0, len(in))
	for _, n := range in {
		n = strings.TrimSpace(n)
		if n == "" {
			continue
		}
		out = append(out, n)
	}
	return out
}
