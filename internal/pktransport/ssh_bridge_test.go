package pktransport

import "testing"

func TestSSHBridgeAddressValidation(t *testing.T) {
	b := &SSHBridge{}
	if _, err := b.address(); err == nil {
		t.Fatalf("expected host validation error")
	}

	b.Host = "node-a"
	addr, err := b.address()
	if err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	if addr != "node-a:22" {
		t.Fatalf("expected default ssh port, got %q", addr)
	}
}

func TestSSHBridgeAddressHonorsExplicitPort(t *testing.T) {
	b := &SSHBridge{Host: "node-a", Port: "2222"}
	addr, err := b.address()
	if err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	if addr != "node-a:2222" {
		t.Fatalf("got %q, want node-a:2222", addr)
	}
}

func TestSSHBridgeAddressHonorsHostPortAlready(t *testing.T) {
	b := &SSHBridge{Host: "node-a:2200"}
	addr, err := b.address()
	if err != nil {
		t.Fatalf("unexpected address error: %v", err)
	}
	if addr != "node-a:2200" {
		t.Fatalf("got %q, want node-a:2200", addr)
	}
}

func TestSSHBridgeClientConfigValidation(t *testing.T) {
	b := &SSHBridge{Host: "node-a"}
	if _, err := b.clientConfig(); err == nil {
		t.Fatalf("expected missing user validation error")
	}
}

func TestSSHBridgeClientConfigMissingKeyPath(t *testing.T) {
	b := &SSHBridge{Host: "node-a", User: "bench"}
	if _, err := b.clientConfig(); err == nil {
		t.Fatalf("expected missing key path validation error")
	}
}
