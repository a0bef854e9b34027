package config

import (
	"testing"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DIOMY_DISPATCH_POLICY", "")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Matching.AcceptWindowSeconds != 30 {
		t.Errorf("accept window = %d, want 30", cfg.Matching.AcceptWindowSeconds)
	}
	if cfg.Trip.CancelGraceSeconds != 120 {
		t.Errorf("grace = %d, want 120", cfg.Trip.CancelGraceSeconds)
	}
	if cfg.Geofence.ArrivalRadiusM != 50 || cfg.Geofence.ProximityRadiusM != 500 {
		t.Errorf("unexpected geofence radii: %+v", cfg.Geofence)
	}
	if cfg.Realtime.ReplayWindowSeconds != 600 {
		t.Errorf("replay window = %d, want 600", cfg.Realtime.ReplayWindowSeconds)
	}
	if len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("unexpected brokers: %v", cfg.Kafka.Brokers)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("DIOMY_DISPATCH_POLICY", "NEXT_CANDIDATE")
	t.Setenv("DIOMY_KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("DIOMY_CANCEL_GRACE_SECONDS", "60")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Matching.DispatchPolicy != DispatchNextCandidate {
		t.Errorf("policy = %q", cfg.Matching.DispatchPolicy)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Trip.CancelGrace().Seconds() != 60 {
		t.Errorf("grace = %v", cfg.Trip.CancelGrace())
	}
}

func TestLoad_RejectsUnknownPolicy(t *testing.T) {
	t.Setenv("DIOMY_DISPATCH_POLICY", "broadcast")
	if _, err := Load(); err == nil {
		t.Fatal("expected validation error for unknown dispatch policy")
	}
}
