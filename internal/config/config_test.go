package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, dir, body string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, "config.toml"), []byte(body), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func serversTOML() string {
	addrs := make([]string, NumPeers)
	for i := range addrs {
		addrs[i] = `"127.0.0.1:100` + string(rune('0'+i%10)) + `"`
	}
	return "[" + strings.Join(addrs, ", ") + "]"
}

func TestLoadValidConfig(t *testing.T) {
	dir := t.TempDir()
	body := `
[server]
raida_id = 7
coin_id = 1
port = 8080
proxy_key = "00112233445566778899aabbccddeeff"
admin_key = "aabbccddeeff001122334455667788ff"
raida_servers = ` + serversTOML() + `
`
	writeConfig(t, dir, body)

	cfg, err := Load(dir)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Server.RaidaID != 7 || cfg.Server.Port != 8080 {
		t.Fatalf("got %+v", cfg.Server)
	}
	if cfg.Server.Threads != defaultThreads {
		t.Fatalf("expected default threads, got %d", cfg.Server.Threads)
	}
	if cfg.AdminKey == ([16]byte{}) {
		t.Fatalf("admin key should have decoded to non-zero bytes")
	}
}

func TestLoadMissingAdminKeyFails(t *testing.T) {
	dir := t.TempDir()
	body := `
[server]
raida_id = 7
coin_id = 1
port = 8080
proxy_key = "00112233445566778899aabbccddeeff"
raida_servers = ` + serversTOML() + `
`
	writeConfig(t, dir, body)

	if _, err := Load(dir); err == nil {
		t.Fatalf("expected an error for a missing admin_key")
	}
}

func TestLoadWrongPeerCountFails(t *testing.T) {
	dir := t.TempDir()
	body := `
[server]
raida_id = 7
coin_id = 1
port = 8080
proxy_key = "00112233445566778899aabbccddeeff"
admin_key = "aabbccddeeff001122334455667788ff"
raida_servers = ["127.0.0.1:1000"]
`
	writeConfig(t, dir, body)

	if _, err := Load(dir); err == nil {
		t.Fatalf("expected an error for a wrong-length raida_servers list")
	}
}

func TestLoadRaidaIDOutOfRangeFails(t *testing.T) {
	dir := t.TempDir()
	body := `
[server]
raida_id = 30
coin_id = 1
port = 8080
proxy_key = "00112233445566778899aabbccddeeff"
admin_key = "aabbccddeeff001122334455667788ff"
raida_servers = ` + serversTOML() + `
`
	writeConfig(t, dir, body)

	if _, err := Load(dir); err == nil {
		t.Fatalf("expected an error for raida_id out of range")
	}
}
