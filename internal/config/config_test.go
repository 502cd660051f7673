package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("TOKEN_LENGTH", "")
	t.Setenv("IVA_PERCENT", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("WORKER_ATTEMPTS", "")
	t.Setenv("WORKER_DEAD_LETTER", "")

	cfg := Load()
	if cfg.Token.Length != 6 {
		t.Errorf("expected token length 6, got %d", cfg.Token.Length)
	}
	if cfg.Token.TTL != 10*time.Minute {
		t.Errorf("expected token ttl 10m, got %s", cfg.Token.TTL)
	}
	if cfg.Pricing.IVAPercent.String() != "16" {
		t.Errorf("expected iva 16, got %s", cfg.Pricing.IVAPercent)
	}
	if len(cfg.KafkaBrokers) != 1 || cfg.KafkaBrokers[0] != "kafka:9092" {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.WorkerAttempts != 5 || !cfg.WorkerDeadLetter {
		t.Errorf("expected 5 attempts with dead letter, got %d/%v", cfg.WorkerAttempts, cfg.WorkerDeadLetter)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092 ,")
	t.Setenv("TOKEN_TTL", "90s")
	t.Setenv("TOKEN_LENGTH", "abc")
	t.Setenv("IVA_PERCENT", "-3")
	t.Setenv("PUBLIC_BASE_URL", "https://shop.example/")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Errorf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.Token.TTL != 90*time.Second {
		t.Errorf("expected 90s, got %s", cfg.Token.TTL)
	}
	if cfg.Token.Length != 6 {
		t.Errorf("invalid int should fall back to default, got %d", cfg.Token.Length)
	}
	if cfg.Pricing.IVAPercent.String() != "16" {
		t.Errorf("negative iva should fall back to default, got %s", cfg.Pricing.IVAPercent)
	}
	if cfg.PublicBaseURL != "https://shop.example" {
		t.Errorf("trailing slash not trimmed: %q", cfg.PublicBaseURL)
	}
}
