package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadPrecedence(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("HTTP_ADDR", ":7000")
	t.Setenv("LOST_AFTER", "20s")

	path := filepath.Join(t.TempDir(), "fleet.yaml")
	yamlBody := "grpc_addr: \":7001\"\nfleet:\n  degraded_after: 4s\n  critical_battery: 12\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load([]string{"--config", path, "--http-addr", ":7002"})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPAddr != ":7002" {
		t.Fatalf("flag did not override env: %s", cfg.HTTPAddr)
	}
	if cfg.GRPCAddr != ":7001" {
		t.Fatalf("yaml did not override default: %s", cfg.GRPCAddr)
	}
	if cfg.Fleet.LostAfter != 20*time.Second || cfg.Fleet.DegradedAfter != 4*time.Second || cfg.Fleet.CriticalBattery != 12 {
		t.Fatalf("unexpected fleet section: %+v", cfg.Fleet)
	}

	engine := cfg.Engine()
	if engine.Drone.LostAfter != 20*time.Second || engine.Drone.CriticalBattery != 12 {
		t.Fatalf("engine config not converted: %+v", engine.Drone)
	}
}

func TestLoadValidation(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := Load(nil); err == nil {
		t.Fatal("expected missing JWT_SECRET error")
	}

	t.Setenv("JWT_SECRET", "x")
	t.Setenv("DEGRADED_AFTER", "30s")
	t.Setenv("LOST_AFTER", "10s")
	if _, err := Load(nil); err == nil {
		t.Fatal("expected threshold ordering error")
	}

	t.Setenv("DEGRADED_AFTER", "")
	t.Setenv("LOST_AFTER", "")
	t.Setenv("PERSISTENCE", "postgres")
	t.Setenv("DATABASE_URL", "")
	if _, err := Load(nil); err == nil {
		t.Fatal("expected DATABASE_URL error for postgres")
	}
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := Config{JWTSecret: "topsecret", DatabaseURL: "postgres://user:pass@db:5432/fleet"}
	out := cfg.String()
	if strings.Contains(out, "topsecret") || strings.Contains(out, "pass") {
		t.Fatalf("secrets leaked: %s", out)
	}
	if !strings.Contains(out, "db:5432/fleet") {
		t.Fatalf("host missing: %s", out)
	}
}
