package maintenance

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/stats"
	"github.com/disturbedkh/Aegis-All-In-One-sub003/internal/storage"
)

func openTestFacade(t *testing.T) (*Facade, *storage.Storage, *stats.Aggregator) {
	t.Helper()

	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "aegis-state.db")
	s, err := storage.Open(ctx, storage.Config{Path: dbPath})
	if err != nil {
		t.Fatalf("open storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	f, err := New(s)
	if err != nil {
		t.Fatalf("new facade: %v", err)
	}
	a, err := stats.New(s)
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	return f, s, a
}

func TestBackup(t *testing.T) {
	f, _, a := openTestFacade(t)
	ctx := context.Background()

	if err := a.AppendEvent(ctx, "test", "unit", "before backup", ""); err != nil {
		t.Fatalf("append event: %v", err)
	}

	dir := t.TempDir()
	path, err := f.Backup(ctx, dir)
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if filepath.Dir(path) != dir {
		t.Fatalf("backup landed outside dir: %s", path)
	}
	if !strings.HasPrefix(filepath.Base(path), backupPrefix) {
		t.Fatalf("unexpected backup name: %s", path)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat backup: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("backup file is empty")
	}

	// 备份本身是合法的库，可以独立打开。
	b, err := storage.Open(ctx, storage.Config{Path: path})
	if err != nil {
		t.Fatalf("open backup: %v", err)
	}
	defer b.Close()
	counts, err := b.Counts(ctx)
	if err != nil {
		t.Fatalf("counts on backup: %v", err)
	}
	if counts["system_events"] != 1 {
		t.Fatalf("backup lost data: %d events", counts["system_events"])
	}
}

func TestExportTable(t *testing.T) {
	f, _, a := openTestFacade(t)
	ctx := context.Background()

	if err := a.RecordProxyOutcome(ctx, "10.0.0.1:1080", stats.OutcomeSuccess, 42); err != nil {
		t.Fatalf("record: %v", err)
	}

	dir := t.TempDir()
	path, err := f.ExportTable(ctx, "proxy_stats", dir)
	if err != nil {
		t.Fatalf("export: %v", err)
	}

	file, err := os.Open(path)
	if err != nil {
		t.Fatalf("open export: %v", err)
	}
	defer file.Close()

	records, err := csv.NewReader(file).ReadAll()
	if err != nil {
		t.Fatalf("parse csv: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected header + 1 row, got %d records", len(records))
	}
	joined := strings.Join(records[1], ",")
	if !strings.Contains(joined, "10.0.0.1:1080") {
		t.Fatalf("exported row missing address: %s", joined)
	}

	if _, err := f.ExportTable(ctx, "sqlite_master", dir); err == nil {
		t.Fatal("non-whitelisted table must be rejected")
	}
}

func TestPruneOlderThan(t *testing.T) {
	f, s, a := openTestFacade(t)
	ctx := context.Background()

	old := time.Now().UTC().AddDate(0, 0, -30)

	// 直接写旧行，绕过聚合器的 now() 时间戳。
	oldResolved := storage.ErrorStat{
		Service: "xray", ErrorType: "old", Message: "resolved long ago",
		OccurrenceCount: 1, FirstSeen: old, LastSeen: old, Resolved: true,
	}
	oldUnresolved := storage.ErrorStat{
		Service: "xray", ErrorType: "old", Message: "still open",
		OccurrenceCount: 1, FirstSeen: old, LastSeen: old, Resolved: false,
	}
	oldEvent := storage.SystemEvent{EventType: "old", Source: "unit", CreatedAt: old}
	oldSummary := storage.LogSummary{Date: old.Format("2006-01-02"), Service: "xray", TotalLines: 1}
	for _, row := range []interface{}{&oldResolved, &oldUnresolved, &oldEvent, &oldSummary} {
		if err := s.DB().WithContext(ctx).Create(row).Error; err != nil {
			t.Fatalf("seed old row: %v", err)
		}
	}

	// 新行不应被清理。
	if err := a.RecordError(ctx, "xray", "fresh", "recent failure"); err != nil {
		t.Fatalf("record fresh: %v", err)
	}
	if err := a.AppendEvent(ctx, "fresh", "unit", "recent", ""); err != nil {
		t.Fatalf("append fresh: %v", err)
	}

	report, err := f.PruneOlderThan(ctx, 7)
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if report.ResolvedErrors != 1 {
		t.Fatalf("resolved errors pruned = %d, want 1 (unresolved must survive)", report.ResolvedErrors)
	}
	if report.Events != 1 {
		t.Fatalf("events pruned = %d, want 1", report.Events)
	}
	if report.LogSummaries != 1 {
		t.Fatalf("log summaries pruned = %d, want 1", report.LogSummaries)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["error_stats"] != 2 {
		t.Fatalf("error rows = %d, want 2 (old unresolved + fresh)", counts["error_stats"])
	}
	if counts["system_events"] != 1 {
		t.Fatalf("event rows = %d, want 1", counts["system_events"])
	}

	if _, err := f.PruneOlderThan(ctx, 0); err == nil {
		t.Fatal("non-positive retention must be rejected")
	}
}

func TestResetAllTwoStep(t *testing.T) {
	f, s, a := openTestFacade(t)
	ctx := context.Background()

	if err := a.RecordContainerStart(ctx, "golbat"); err != nil {
		t.Fatalf("record: %v", err)
	}
	created, err := s.GetMetadata(ctx, storage.MetaCreated)
	if err != nil {
		t.Fatalf("get created: %v", err)
	}

	// 未确认：拒绝。
	if err := f.ResetAll(ctx, ""); err != ErrResetNotArmed {
		t.Fatalf("expected ErrResetNotArmed, got %v", err)
	}
	// 错误令牌：拒绝。
	if _, err := f.ArmReset(); err != nil {
		t.Fatalf("arm: %v", err)
	}
	if err := f.ResetAll(ctx, "bogus-token"); err != ErrResetNotArmed {
		t.Fatalf("expected ErrResetNotArmed for wrong token, got %v", err)
	}

	// 正常两步流程。
	token, err := f.ArmReset()
	if err != nil {
		t.Fatalf("arm: %v", err)
	}
	if err := f.ResetAll(ctx, token); err != nil {
		t.Fatalf("reset: %v", err)
	}
	// 令牌单次有效。
	if err := f.ResetAll(ctx, token); err != ErrResetNotArmed {
		t.Fatalf("expected token to be single-use, got %v", err)
	}

	counts, err := s.Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts["container_stats"] != 0 {
		t.Fatalf("container stats survived reset: %d", counts["container_stats"])
	}

	again, err := s.GetMetadata(ctx, storage.MetaCreated)
	if err != nil {
		t.Fatalf("get created after reset: %v", err)
	}
	if again != created {
		t.Fatalf("created changed across reset: %s -> %s", created, again)
	}
	lastReset, err := s.GetMetadata(ctx, storage.MetaLastReset)
	if err != nil {
		t.Fatalf("get last_reset: %v", err)
	}
	if lastReset == "" {
		t.Fatal("last_reset not stamped")
	}
}
