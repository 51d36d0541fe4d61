package storage

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func openTestStorage(t *testing.T) (*Storage, string) {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "aegis-state.db")
	s, err := Open(ctx, Config{
		Path:      dbPath,
		EnableWAL: true,
	})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, dbPath
}

func TestInitializeSchemaIdempotent(t *testing.T) {
	s, _ := openTestStorage(t)
	ctx := context.Background()

	created, err := s.GetMetadata(ctx, MetaCreated)
	if err != nil {
		t.Fatalf("get created: %v", err)
	}
	if created == "" {
		t.Fatal("created metadata not set on first init")
	}

	version, err := s.GetMetadata(ctx, MetaSchemaVersion)
	if err != nil {
		t.Fatalf("get version: %v", err)
	}
	if version != SchemaVersion {
		t.Fatalf("expected schema version %s, got %s", SchemaVersion, version)
	}

	// 重复初始化不得改写 created。
	time.Sleep(1100 * time.Millisecond)
	if err := s.InitializeSchema(ctx); err != nil {
		t.Fatalf("re-init: %v", err)
	}
	again, err := s.GetMetadata(ctx, MetaCreated)
	if err != nil {
		t.Fatalf("get created after re-init: %v", err)
	}
	if again != created {
		t.Fatalf("created changed across re-init: %s -> %s", created, again)
	}
}

func TestCheckIntegrityHealthy(t *testing.T) {
	s, _ := openTestStorage(t)

	healthy, err := s.CheckIntegrity(context.Background())
	if err != nil {
		t.Fatalf("check integrity: %v", err)
	}
	if !healthy {
		t.Fatal("fresh store reported corrupt")
	}
}

func TestExists(t *testing.T) {
	_, dbPath := openTestStorage(t)

	if !Exists(dbPath) {
		t.Fatal("expected Exists=true for opened store")
	}
	if Exists(filepath.Join(t.TempDir(), "missing.db")) {
		t.Fatal("expected Exists=false for missing file")
	}
}

func TestTruncateOperationalPreservesMetadata(t *testing.T) {
	s, _ := openTestStorage(t)
	ctx := context.Background()

	if err := s.DB().WithContext(ctx).Create(&SystemEvent{EventType: "test", Source: "unit"}).Error; err != nil {
		t.Fatalf("insert event: %v", err)
	}

	created, err := s.GetMetadata(ctx, MetaCreated)
	if err != nil {
		t.Fatalf("get created: %v", err)
	}

	if err := s.TruncateOperational(ctx); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	for table, n := range counts {
		if n != 0 {
			t.Fatalf("table %s not empty after truncate: %d rows", table, n)
		}
	}

	again, err := s.GetMetadata(ctx, MetaCreated)
	if err != nil {
		t.Fatalf("get created after truncate: %v", err)
	}
	if again != created {
		t.Fatalf("created metadata lost by truncate: %s -> %s", created, again)
	}
}

func TestRotateIfOversize(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "ops.log")

	write := func(p, content string) {
		t.Helper()
		if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", p, err)
		}
	}

	// 未超限：不轮转。
	write(path, "small")
	rotated, err := RotateIfOversize(path, 1024, 3)
	if err != nil {
		t.Fatalf("rotate small: %v", err)
	}
	if rotated {
		t.Fatal("small file should not rotate")
	}

	// 超限：path -> path.1，已有世代后移，超出 keepCount 的被丢弃。
	write(path, "0123456789")
	write(path+".1", "gen1")
	write(path+".2", "gen2")

	rotated, err = RotateIfOversize(path, 5, 2)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if !rotated {
		t.Fatal("oversized file should rotate")
	}

	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatal("base path should be moved away")
	}
	got, err := os.ReadFile(path + ".1")
	if err != nil {
		t.Fatalf("read gen1: %v", err)
	}
	if string(got) != "0123456789" {
		t.Fatalf("gen1 content = %q", got)
	}
	got, err = os.ReadFile(path + ".2")
	if err != nil {
		t.Fatalf("read gen2: %v", err)
	}
	if string(got) != "gen1" {
		t.Fatalf("gen2 content = %q", got)
	}
	if _, err := os.Stat(path + ".3"); !os.IsNotExist(err) {
		t.Fatal("generation beyond keepCount should be dropped")
	}

	// 文件缺失：安静返回 false。
	rotated, err = RotateIfOversize(filepath.Join(dir, "absent.log"), 1, 2)
	if err != nil {
		t.Fatalf("rotate absent: %v", err)
	}
	if rotated {
		t.Fatal("absent file should not rotate")
	}
}
