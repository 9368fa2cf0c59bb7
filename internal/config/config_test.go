package config

import (
	"testing"
	"time"

	"github.com/webinv/pixelshape/internal/raster"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.API.Addr != ":8080" {
		t.Fatalf("expected default api addr, got %q", cfg.API.Addr)
	}
	if cfg.Imaging.Filter != raster.FilterCatmullRom {
		t.Fatalf("expected catmullrom filter, got %s", cfg.Imaging.Filter)
	}
	if cfg.Imaging.Lenient() {
		t.Fatal("expected strict geometry by default")
	}
	if cfg.Database.DSN != "" {
		t.Fatalf("expected empty dsn, got %q", cfg.Database.DSN)
	}
	if cfg.Worker.Concurrency < 1 || cfg.Worker.MaxActiveJobs < 1 {
		t.Fatalf("expected positive worker slots, got %+v", cfg.Worker)
	}
}

func TestLoadFromEnvironment(t *testing.T) {
	t.Setenv("PIXELSHAPE_API_ADDR", ":9999")
	t.Setenv("PIXELSHAPE_PRESIGN_TTL", "90s")
	t.Setenv("REDIS_DB", "3")
	t.Setenv("MINIO_USE_SSL", "true")
	t.Setenv("IMAGE_FILTER", "Lanczos")
	t.Setenv("WORKER_GEOMETRY_POLICY", "LENIENT")
	t.Setenv("WORKER_MAX_ACTIVE_JOBS", "0")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.API.Addr != ":9999" {
		t.Fatalf("expected :9999, got %q", cfg.API.Addr)
	}
	if cfg.API.PresignTTL != 90*time.Second {
		t.Fatalf("expected 90s presign ttl, got %s", cfg.API.PresignTTL)
	}
	if cfg.Queue.RedisDB != 3 {
		t.Fatalf("expected redis db 3, got %d", cfg.Queue.RedisDB)
	}
	if !cfg.Storage.UseSSL {
		t.Fatal("expected ssl enabled")
	}
	if cfg.Imaging.Filter != raster.FilterLanczos {
		t.Fatalf("expected lanczos, got %s", cfg.Imaging.Filter)
	}
	if !cfg.Imaging.Lenient() {
		t.Fatal("expected lenient geometry policy")
	}
	if cfg.Worker.MaxActiveJobs != 1 {
		t.Fatalf("expected max active jobs clamped to 1, got %d", cfg.Worker.MaxActiveJobs)
	}
	if cfg.Log.Level != "debug" {
		t.Fatalf("expected debug log level, got %q", cfg.Log.Level)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	t.Run("filter", func(t *testing.T) {
		t.Setenv("IMAGE_FILTER", "mitchell")
		if _, err := Load(); err == nil {
			t.Fatal("expected error for unknown filter")
		}
	})
	t.Run("geometry policy", func(t *testing.T) {
		t.Setenv("WORKER_GEOMETRY_POLICY", "sometimes")
		if _, err := Load(); err == nil {
			t.Fatal("expected error for unknown geometry policy")
		}
	})
}
