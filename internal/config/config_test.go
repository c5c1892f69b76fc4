package config

import (
	"os"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	for _, key := range []string{"REDIS_URL", "REDIS_PREFIX", "INVISIBILITY_TIMEOUT", "LIFO_QUEUES"} {
		os.Unsetenv(key)
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Store.Prefix != "{hangfire}:" {
		t.Fatalf("expected default prefix, got %q", cfg.Store.Prefix)
	}
	if cfg.Store.InvisibilityTimeout != 30*time.Minute {
		t.Fatalf("expected default invisibility timeout, got %v", cfg.Store.InvisibilityTimeout)
	}
	if len(cfg.Store.LifoQueues) != 0 {
		t.Fatalf("expected no LIFO queues by default, got %v", cfg.Store.LifoQueues)
	}
}

func TestLoadConfig_EnvOverrides(t *testing.T) {
	os.Setenv("REDIS_PREFIX", "{custom}:")
	os.Setenv("INVISIBILITY_TIMEOUT", "5m")
	os.Setenv("LIFO_QUEUES", "bulk, archive")
	defer func() {
		os.Unsetenv("REDIS_PREFIX")
		os.Unsetenv("INVISIBILITY_TIMEOUT")
		os.Unsetenv("LIFO_QUEUES")
	}()

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.Store.Prefix != "{custom}:" {
		t.Fatalf("expected overridden prefix, got %q", cfg.Store.Prefix)
	}
	if cfg.Store.InvisibilityTimeout != 5*time.Minute {
		t.Fatalf("expected overridden invisibility timeout, got %v", cfg.Store.InvisibilityTimeout)
	}
	if len(cfg.Store.LifoQueues) != 2 || cfg.Store.LifoQueues[0] != "bulk" || cfg.Store.LifoQueues[1] != "archive" {
		t.Fatalf("expected parsed LIFO queue list, got %v", cfg.Store.LifoQueues)
	}
}

func TestLoadConfig_RejectsInvalidOverride(t *testing.T) {
	os.Setenv("REDIS_PREFIX", "")
	os.Setenv("INVISIBILITY_TIMEOUT", "-5m")
	defer os.Unsetenv("INVISIBILITY_TIMEOUT")

	if _, err := LoadConfig(); err == nil {
		t.Fatal("expected a negative invisibility timeout to fail validation")
	}
}
