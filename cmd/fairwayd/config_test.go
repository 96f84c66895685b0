package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := loadConfig("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":8090" || cfg.DataDir != "data" || cfg.LogLevel != "info" {
		t.Errorf("defaults: %+v", cfg)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	doc := `
listen: ":9000"
data_dir: /var/lib/fairway
history_db: /var/lib/fairway/history.db
log_level: debug
browser:
  recycle_interval: 1h
  navigate_timeout: 45s
acquire:
  attempts: 5
  retry_pause: 3s
`
	if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Listen != ":9000" || cfg.DataDir != "/var/lib/fairway" {
		t.Errorf("config: %+v", cfg)
	}
	if cfg.Browser.RecycleInterval != time.Hour || cfg.Acquire.Attempts != 5 {
		t.Errorf("nested config: %+v", cfg)
	}
	if cfg.Acquire.RetryPause != 3*time.Second {
		t.Errorf("retry pause: %v", cfg.Acquire.RetryPause)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := loadConfig("/does/not/exist.yaml"); err == nil {
		t.Error("missing file accepted")
	}
}
