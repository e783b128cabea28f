package config

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"
	"time"
)

// TestLoadDefaults derives directories from data_dir.
func TestLoadDefaults(t *testing.T) {
	t.Setenv("DOCTRANS_DATA_DIR", "/srv/doctrans")
	t.Setenv("DOCTRANS_AUTH_SECRET", "")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":8080" || cfg.ArtifactExt != ".pdf" || cfg.EvictAfter != 10*time.Minute {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.DBPath != filepath.Join("/srv/doctrans", "history.db") {
		t.Fatalf("db path = %s", cfg.DBPath)
	}
	if cfg.OutputsDir != filepath.Join("/srv/doctrans", "outputs") {
		t.Fatalf("outputs = %s", cfg.OutputsDir)
	}
	if !reflect.DeepEqual(cfg.SecretKeys, []string{"api_key"}) {
		t.Fatalf("secret keys = %v", cfg.SecretKeys)
	}
	if cfg.Engine.MaxDuration != 0 {
		t.Fatalf("max duration = %v", cfg.Engine.MaxDuration)
	}
	if err := cfg.RequireSecret(); err == nil {
		t.Fatal("empty secret accepted")
	}
}

// TestLoadEnvOverrides parses lists and durations from the environment.
func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("DOCTRANS_ENGINE_ARGS", "--verbose, --layout=onnx")
	t.Setenv("DOCTRANS_SANITIZE_SECRET_KEYS", "api_key,token")
	t.Setenv("DOCTRANS_ENGINE_MAX_DURATION", "2h")
	t.Setenv("DOCTRANS_OUTPUTS_DIR", "/mnt/out")
	t.Setenv("DOCTRANS_AUTH_SECRET", "k")
	t.Setenv("DOCTRANS_ARTIFACT_EXT", "pdf")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !reflect.DeepEqual(cfg.Engine.Args, []string{"--verbose", "--layout=onnx"}) {
		t.Fatalf("args = %q", cfg.Engine.Args)
	}
	if !reflect.DeepEqual(cfg.SecretKeys, []string{"api_key", "token"}) {
		t.Fatalf("keys = %q", cfg.SecretKeys)
	}
	if cfg.Engine.MaxDuration != 2*time.Hour || cfg.OutputsDir != "/mnt/out" || cfg.ArtifactExt != ".pdf" {
		t.Fatalf("cfg = %+v", cfg)
	}
	if err := cfg.RequireSecret(); err != nil {
		t.Fatalf("secret: %v", err)
	}
}

// TestLoadFile reads a YAML file below the environment.
func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "doctrans.yaml")
	body := `
addr: ":9090"
engine:
  command: /opt/bridge
  args: ["--fast"]
jobs:
  evict_after: 1m
log:
  format: json
`
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("DOCTRANS_ADDR", ":7070")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Addr != ":7070" {
		t.Fatalf("env should win over file: addr = %s", cfg.Addr)
	}
	if cfg.Engine.Command != "/opt/bridge" || !reflect.DeepEqual(cfg.Engine.Args, []string{"--fast"}) {
		t.Fatalf("engine = %+v", cfg.Engine)
	}
	if cfg.EvictAfter != time.Minute || cfg.Log.Format != "json" {
		t.Fatalf("cfg = %+v", cfg)
	}
}

// TestLoadMissingFile reports the path.
func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "none.yaml")); err == nil {
		t.Fatal("expected error")
	}
}

// TestSplitCSV drops blanks.
func TestSplitCSV(t *testing.T) {
	got := splitCSV(" a, ,b,")
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Fatalf("got %q", got)
	}
}
