package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaultsAndEnv(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("GEOFENCE_CONFIRMATION_DELAY", "5s")
	t.Setenv("GEOFENCE_BATCH_WORKERS", "8")
	t.Setenv("MOTION_START_SPEED", "not-a-number")
	t.Setenv("LOCSHARE_CONFIG", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":8080" {
		t.Fatalf("expected default addr, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.Engine.ConfirmationDelay.Std() != 5*time.Second {
		t.Fatalf("expected 5s confirmation delay, got %s", cfg.Engine.ConfirmationDelay.Std())
	}
	if cfg.Engine.RecentEventLimit != 20 {
		t.Fatalf("expected recent event limit 20, got %d", cfg.Engine.RecentEventLimit)
	}
	if cfg.Workers.BatchUsers != 8 {
		t.Fatalf("expected 8 workers, got %d", cfg.Workers.BatchUsers)
	}
	if cfg.Motion.StartSpeed != 6.7 {
		t.Fatalf("expected fallback start speed, got %v", cfg.Motion.StartSpeed)
	}
}

func TestLoadYAMLOverlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locshare.yaml")
	content := []byte(`
server:
  http_addr: ":9090"
engine:
  confirmation_delay: 10s
  max_accuracy_meters: 75
motion:
  start_after: 90s
notify:
  webhook_url: "https://hooks.example.com/geofence"
  escalation_after: 15m
  rate_per_minute: 30
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("HTTP_ADDR", ":7070")
	t.Setenv("LOCSHARE_CONFIG", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddr != ":9090" {
		t.Fatalf("expected yaml to override env, got %s", cfg.Server.HTTPAddr)
	}
	if cfg.Engine.ConfirmationDelay.Std() != 10*time.Second || cfg.Engine.MaxAccuracyMeters != 75 {
		t.Fatalf("unexpected engine config: %+v", cfg.Engine)
	}
	if cfg.Motion.StartAfter.Std() != 90*time.Second || cfg.Motion.StopAfter.Std() != 3*time.Minute {
		t.Fatalf("unexpected motion config: %+v", cfg.Motion)
	}
	if cfg.Notify.EscalationAfter.Std() != 15*time.Minute || cfg.Notify.RatePerMinute != 30 {
		t.Fatalf("unexpected notify config: %+v", cfg.Notify)
	}
}

func TestLoadRejectsInvalidConfig(t *testing.T) {
	t.Setenv("AUTH_JWT_SECRET", "")
	t.Setenv("JWT_SECRET", "")
	t.Setenv("LOCSHARE_CONFIG", "")
	if _, err := Load(); err == nil {
		t.Fatalf("expected error without jwt secret")
	}

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("engine:\n  confirmation_delay: soon\n"), 0o600); err != nil {
		t.Fatalf("write yaml: %v", err)
	}
	t.Setenv("AUTH_JWT_SECRET", "secret")
	t.Setenv("LOCSHARE_CONFIG", path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected error on bad duration")
	}

	cfg := Config{
		Server:  ServerConfig{JWTSecret: "secret"},
		Engine:  EngineConfig{RecentEventLimit: 20},
		Motion:  MotionConfig{StartSpeed: 2, StopSpeed: 3},
		Workers: WorkersConfig{BatchUsers: 1},
	}
	if err := cfg.Validate(); err == nil {
		t.Fatalf("expected error when stop speed exceeds start speed")
	}
}
