package config

import (
	"strings"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DispatchRadiusMeters != 5000 || cfg.BaseFare != 40 || cfg.GeohashPrecision != 5 {
		t.Fatalf("unexpected dispatch defaults: %+v", cfg)
	}
	if cfg.KafkaRideTopic != "ride-events" || cfg.KafkaLocationTopic != "driver-locations" {
		t.Fatalf("unexpected topics: %q %q", cfg.KafkaRideTopic, cfg.KafkaLocationTopic)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " a:9092, ,b:9092 ")
	t.Setenv("DISPATCH_RADIUS_METERS", "2500")
	t.Setenv("MIRROR_MAX_ELAPSED", "30s")
	t.Setenv("MIGRATE", "TRUE")
	t.Setenv("LOG_LEVEL", "DEBUG")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("brokers not split: %v", cfg.KafkaBrokers)
	}
	if cfg.DispatchRadiusMeters != 2500 || cfg.MirrorMaxElapsed != 30*time.Second {
		t.Fatalf("overrides not applied: %+v", cfg)
	}
	if !cfg.RunMigrations || cfg.LogLevel != "debug" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
}

func TestInvalidValuesAreJoined(t *testing.T) {
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("BASE_FARE", "cheap")
	t.Setenv("PRESENCE_GEOHASH_PRECISION", "20")

	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, key := range []string{"HTTP_READ_TIMEOUT", "BASE_FARE", "PRESENCE_GEOHASH_PRECISION"} {
		if !strings.Contains(err.Error(), key) {
			t.Fatalf("error %q does not mention %s", err, key)
		}
	}
}
