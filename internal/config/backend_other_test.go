//go:build !darwin

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestFileBackend_RoundTrip(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	b := newPlatformBackend()
	if err := b.SetInt("server.port", 4300); err != nil {
		t.Fatalf("SetInt: %v", err)
	}
	if err := b.SetString("gemini.model", "gemini-2.5-pro"); err != nil {
		t.Fatalf("SetString: %v", err)
	}

	reloaded := newPlatformBackend()
	port, ok, err := reloaded.GetInt("server.port")
	if err != nil || !ok || port != 4300 {
		t.Errorf("GetInt = %d, %v, %v", port, ok, err)
	}
	model, ok, _ := reloaded.GetString("gemini.model")
	if !ok || model != "gemini-2.5-pro" {
		t.Errorf("GetString = %q, %v", model, ok)
	}

	if err := reloaded.Delete("server.port"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, ok, _ := newPlatformBackend().GetInt("server.port"); ok {
		t.Error("key still present after Delete")
	}
}

func TestSecretsFile_RoundTrip(t *testing.T) {
	t.Setenv("XDG_DATA_HOME", t.TempDir())
	kc := NewKeychain()

	if _, err := kc.Get("sqldraft", "gemini_api_key"); err == nil {
		t.Fatal("expected error before the secrets file exists")
	}
	if err := kc.Set("sqldraft", "gemini_api_key", "k1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, err := kc.Get("sqldraft", "gemini_api_key")
	if err != nil || got != "k1" {
		t.Errorf("Get = %q, %v", got, err)
	}

	info, err := os.Stat(filepath.Join(os.Getenv("XDG_DATA_HOME"), "sqldraft", "secrets.json"))
	if err != nil {
		t.Fatalf("stat secrets file: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Errorf("secrets file mode = %v, want 0600", info.Mode().Perm())
	}
}
