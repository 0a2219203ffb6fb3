package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("expected default port 8080, got %s", cfg.Port)
	}
	if cfg.StoreBackend != StoreBolt {
		t.Errorf("expected default store backend bolt, got %s", cfg.StoreBackend)
	}
	if cfg.CacheMaxItems != 20 {
		t.Errorf("expected default cache max items 20, got %d", cfg.CacheMaxItems)
	}
	if cfg.CacheLifetime != 120*time.Hour {
		t.Errorf("expected default cache lifetime 120h, got %v", cfg.CacheLifetime)
	}
	if cfg.SyncInterval != 5*time.Minute {
		t.Errorf("expected default sync interval 5m, got %v", cfg.SyncInterval)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("STORE_BACKEND", "file")
	t.Setenv("CACHE_MAX_ITEMS", "50")
	t.Setenv("SYNC_INTERVAL", "90s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}
	if cfg.Port != "9999" {
		t.Errorf("expected port 9999, got %s", cfg.Port)
	}
	if cfg.StoreBackend != StoreFile {
		t.Errorf("expected store backend file, got %s", cfg.StoreBackend)
	}
	if cfg.CacheMaxItems != 50 {
		t.Errorf("expected cache max items 50, got %d", cfg.CacheMaxItems)
	}
	if cfg.SyncInterval != 90*time.Second {
		t.Errorf("expected sync interval 90s, got %v", cfg.SyncInterval)
	}
}

func TestValidateRejectsBadBackend(t *testing.T) {
	t.Setenv("STORE_BACKEND", "etcd")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error for an unknown store backend")
	}
}

func TestValidateRedisRequiresURL(t *testing.T) {
	t.Setenv("STORE_BACKEND", "redis")
	t.Setenv("STORE_REDIS_URL", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected an error when redis backend has no URL")
	}

	t.Setenv("STORE_REDIS_URL", "redis://localhost:6379/0")
	if _, err := Load(); err != nil {
		t.Fatalf("expected valid config with redis URL set, got %v", err)
	}
}
