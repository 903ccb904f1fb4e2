package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// hostConfig is the pkhostctl.toml shape, decoded with BurntSushi/toml
// and meta.IsDefined presence tracking exactly as cmd/ghostctl/config.go
// and cmd/miragectl/config.go decode their own service configs: an
// absent key keeps its flag/default value rather than zeroing it.
type hostConfig struct {
	Port       string `toml:"port"`
	MTU        int    `toml:"mtu"`
	EngineTOML string `toml:"engine_config"`

	SSHHost        string `toml:"ssh_host"`
	SSHUser        string `toml:"ssh_user"`
	SSHKeyPath     string `toml:"ssh_key_path"`
	SSHRemoteCmd   string `toml:"ssh_remote_cmd"`
	SSHTimeoutSec  int    `toml:"ssh_timeout_seconds"`
	SSHMaxAttempts int    `toml:"ssh_max_attempts"`
}

func loadHostConfig(path string, into *runOptions) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	var raw hostConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return fmt.Errorf("load host config %q: %w", path, err)
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
	if meta.IsDefined("ssh_host") {
		into.sshHost = strings.TrimSpace(raw.SSHHost)
	}
	if meta.IsDefined("ssh_user") {
		into.sshUser = strings.TrimSpace(raw.SSHUser)
	}
	if meta.IsDefined("ssh_key_path") {
		into.sshKeyPath = strings.TrimSpace(raw.SSHKeyPath)
	}
	if meta.IsDefined("ssh_remote_cmd") {
		into.sshRemoteCmd = strings.TrimSpace(raw.SSHRemoteCmd)
	}
	if meta.IsDefined("ssh_timeout_seconds") && raw.SSHTimeoutSec > 0 {
		into.sshTimeout = time.Duration(raw.SSHTimeoutSec) * time.Second
	}
	if meta.IsDefined("ssh_max_attempts") && raw.SSHMaxAttempts > 0 {
		into.sshMaxAttempts = raw.SSHMaxAttempts
	}
	return nil
}
