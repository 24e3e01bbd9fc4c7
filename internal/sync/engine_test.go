package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/object0/foldersync/internal/jobs"
	"github.com/object0/foldersync/internal/remote"
	"github.com/object0/foldersync/internal/store"
	"github.com/object0/foldersync/internal/sync/events"
	"github.com/object0/foldersync/internal/sync/scheduler"
	"github.com/object0/foldersync/internal/watch"
)

type testEnv struct {
	engine  *Engine
	db      *store.DB
	remote  *remote.MemoryStore
	watcher *watch.ChannelWatcher
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	remoteStore := remote.NewMemoryStore()
	queue := jobs.NewLocalQueue(remoteStore, 2, nil)
	t.Cleanup(func() { queue.Close() })

	watcher := watch.NewChannelWatcher()
	engine, err := NewEngine(Options{
		DB:      db,
		Queue:   queue,
		Watcher: watcher,
		Remote: func(store.Profile) (remote.Store, error) {
			return remoteStore, nil
		},
		Debounce: 20 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	return &testEnv{engine: engine, db: db, remote: remoteStore, watcher: watcher}
}

func (env *testEnv) addRule(t *testing.T, mutate func(*store.Rule)) store.Rule {
	t.Helper()
	rule := store.Rule{
		Bucket:         "backups",
		Prefix:         "laptop",
		LocalPath:      t.TempDir(),
		Direction:      store.DirectionBidirectional,
		ConflictPolicy: "newer-wins",
		PollInterval:   time.Hour,
		Enabled:        true,
	}
	if mutate != nil {
		mutate(&rule)
	}
	added, err := env.engine.AddRule(context.Background(), rule)
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}
	return added
}

func writeRuleFile(t *testing.T, rule store.Rule, rel, content string) {
	t.Helper()
	full := filepath.Join(rule.LocalPath, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(full), 0700); err != nil {
		t.Fatalf("MkdirAll: %v", err)
	}
	if err := os.WriteFile(full, []byte(content), 0600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
}

func waitForStatus(t *testing.T, engine *Engine, ruleID string, want scheduler.Status) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, state := range engine.Statuses() {
			if state.RuleID == ruleID && state.Status == want {
				return
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("Rule %s never reached %s; states: %+v", ruleID, want, engine.Statuses())
}

func TestEngineSyncNowWithoutActor(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rule := env.addRule(t, func(r *store.Rule) { r.Enabled = false })

	writeRuleFile(t, rule, "up.txt", "local")
	env.remote.PutString("backups", "laptop/down.txt", "remote")

	if err := env.engine.SyncNow(ctx, rule.ID); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}

	if _, err := env.remote.Head(ctx, "backups", "laptop/up.txt"); err != nil {
		t.Errorf("Expected upload, got %v", err)
	}
	data, err := os.ReadFile(filepath.Join(rule.LocalPath, "down.txt"))
	if err != nil || string(data) != "remote" {
		t.Errorf("Expected download, got %q, %v", data, err)
	}

	stored, err := env.db.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if stored.LastSyncStatus != store.SyncStatusSuccess {
		t.Errorf("Expected success, got %s (%s)", stored.LastSyncStatus, stored.LastSyncError)
	}

	// A second pass over the settled state does nothing
	preview, err := env.engine.Preview(ctx, rule.ID)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !preview.Empty() {
		t.Errorf("Expected settled state, got %d pending operations", preview.Total())
	}
	if preview.Unchanged != 2 {
		t.Errorf("Expected 2 unchanged paths, got %d", preview.Unchanged)
	}
}

func TestEngineWatcherDrivenSync(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rule := env.addRule(t, nil) // enabled, but engine not yet started
	if err := env.engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer env.engine.Stop()
	waitForStatus(t, env.engine, rule.ID, scheduler.StatusWatching)

	writeRuleFile(t, rule, "note.txt", "hello")
	env.watcher.Notify("note.txt")

	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := env.remote.Head(ctx, "backups", "laptop/note.txt"); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("File was never uploaded after watcher notification")
		}
		time.Sleep(10 * time.Millisecond)
	}
	waitForStatus(t, env.engine, rule.ID, scheduler.StatusWatching)

	counts := env.engine.Counts()
	if counts.Watching != 1 {
		t.Errorf("Expected 1 watching rule, got %+v", counts)
	}
}

func TestEngineConflictLifecycle(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rule := env.addRule(t, func(r *store.Rule) { r.Enabled = false })

	bus := env.engine.Bus()
	conflictCh, cancelSub := bus.Subscribe(events.CategoryConflict)
	defer cancelSub()

	// Both sides changed since baseline with timestamps inside the tie
	// window: newer-wins cannot settle it.
	now := time.Now()
	writeRuleFile(t, rule, "doc.txt", "local edit")
	info, err := os.Stat(filepath.Join(rule.LocalPath, "doc.txt"))
	if err != nil {
		t.Fatalf("Stat: %v", err)
	}
	env.remote.SetClock(func() time.Time { return info.ModTime() })
	env.remote.PutString("backups", "laptop/doc.txt", "remote edit too")

	baseline := store.FileRecord{
		RuleID:             rule.ID,
		RelativePath:       "doc.txt",
		LocalMTime:         now.Add(-time.Hour).UnixMilli(),
		LocalSize:          1,
		RemoteETag:         "old-etag",
		RemoteLastModified: now.Add(-time.Hour).UnixMilli(),
		RemoteSize:         1,
		SyncedAt:           now.Add(-time.Hour),
	}
	if err := env.db.UpsertRecord(ctx, baseline); err != nil {
		t.Fatalf("UpsertRecord: %v", err)
	}

	if err := env.engine.SyncNow(ctx, rule.ID); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}

	conflicts, err := env.engine.Conflicts(ctx, rule.ID)
	if err != nil {
		t.Fatalf("Conflicts: %v", err)
	}
	if len(conflicts) != 1 || conflicts[0].RelativePath != "doc.txt" {
		t.Fatalf("Expected one conflict for doc.txt, got %+v", conflicts)
	}
	if conflicts[0].Reason != "Both sides changed" {
		t.Errorf("Unexpected reason %q", conflicts[0].Reason)
	}

	select {
	case ev := <-conflictCh:
		detected, ok := ev.Payload.(events.ConflictDetected)
		if !ok || detected.Path != "doc.txt" {
			t.Errorf("Unexpected conflict event %+v", ev)
		}
	case <-time.After(time.Second):
		t.Error("Conflict event never published")
	}

	// Neither side was touched while the conflict stood
	data, err := os.ReadFile(filepath.Join(rule.LocalPath, "doc.txt"))
	if err != nil || string(data) != "local edit" {
		t.Errorf("Local file must be untouched, got %q, %v", data, err)
	}

	if err := env.engine.ClearConflicts(ctx, rule.ID); err != nil {
		t.Fatalf("ClearConflicts: %v", err)
	}
	conflicts, err = env.engine.Conflicts(ctx, rule.ID)
	if err != nil {
		t.Fatalf("Conflicts: %v", err)
	}
	if len(conflicts) != 0 {
		t.Errorf("Expected conflicts cleared, got %+v", conflicts)
	}
}

func TestEngineConflictResolvedByPolicy(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rule := env.addRule(t, func(r *store.Rule) {
		r.Enabled = false
		r.ConflictPolicy = "local-wins"
	})

	now := time.Now()
	writeRuleFile(t, rule, "doc.txt", "local edit wins")
	env.remote.PutString("backups", "laptop/doc.txt", "remote edit")
	baseline := store.FileRecord{
		RuleID:             rule.ID,
		RelativePath:       "doc.txt",
		LocalMTime:         now.Add(-time.Hour).UnixMilli(),
		LocalSize:          1,
		RemoteETag:         "old-etag",
		RemoteLastModified: now.Add(-time.Hour).UnixMilli(),
		RemoteSize:         1,
		SyncedAt:           now.Add(-time.Hour),
	}
	if err := env.db.UpsertRecord(ctx, baseline); err != nil {
		t.Fatalf("UpsertRecord: %v", err)
	}

	if err := env.engine.SyncNow(ctx, rule.ID); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}

	content, err := readRemote(ctx, env.remote, "backups", "laptop/doc.txt")
	if err != nil {
		t.Fatalf("readRemote: %v", err)
	}
	if string(content) != "local edit wins" {
		t.Errorf("Expected local content pushed, got %q", content)
	}

	conflicts, err := env.engine.Conflicts(ctx, rule.ID)
	if err != nil {
		t.Fatalf("Conflicts: %v", err)
	}
	if len(conflicts) != 0 {
		t.Errorf("Policy-resolved conflict must not persist, got %+v", conflicts)
	}
}

func TestEngineKeepBothPreservesBothVersions(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rule := env.addRule(t, func(r *store.Rule) {
		r.Enabled = false
		r.ConflictPolicy = "keep-both"
	})

	now := time.Now()
	writeRuleFile(t, rule, "doc.txt", "local edit")
	env.remote.PutString("backups", "laptop/doc.txt", "remote edit")
	baseline := store.FileRecord{
		RuleID:             rule.ID,
		RelativePath:       "doc.txt",
		LocalMTime:         now.Add(-time.Hour).UnixMilli(),
		LocalSize:          1,
		RemoteETag:         "old-etag",
		RemoteLastModified: now.Add(-time.Hour).UnixMilli(),
		RemoteSize:         1,
		SyncedAt:           now.Add(-time.Hour),
	}
	if err := env.db.UpsertRecord(ctx, baseline); err != nil {
		t.Fatalf("UpsertRecord: %v", err)
	}

	if err := env.engine.SyncNow(ctx, rule.ID); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}

	// Local copy stays at the original path and is pushed to the original key
	data, err := os.ReadFile(filepath.Join(rule.LocalPath, "doc.txt"))
	if err != nil || string(data) != "local edit" {
		t.Errorf("Local copy must stay put, got %q, %v", data, err)
	}
	content, err := readRemote(ctx, env.remote, "backups", "laptop/doc.txt")
	if err != nil || string(content) != "local edit" {
		t.Errorf("Expected local content at the original key, got %q, %v", content, err)
	}

	// The remote version must survive in the conflict sibling, captured
	// before the same-key upload replaced it
	siblings, err := filepath.Glob(filepath.Join(rule.LocalPath, "doc.conflict-*.txt"))
	if err != nil || len(siblings) != 1 {
		t.Fatalf("Expected one conflict sibling, got %v, %v", siblings, err)
	}
	data, err = os.ReadFile(siblings[0])
	if err != nil || string(data) != "remote edit" {
		t.Errorf("Conflict sibling must hold the remote version, got %q, %v", data, err)
	}

	conflicts, err := env.engine.Conflicts(ctx, rule.ID)
	if err != nil {
		t.Fatalf("Conflicts: %v", err)
	}
	if len(conflicts) != 1 {
		t.Errorf("Keep-both must leave a conflict record, got %+v", conflicts)
	}
}

func TestEngineExcludedPathKeepsBaseline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rule := env.addRule(t, func(r *store.Rule) { r.Enabled = false })

	writeRuleFile(t, rule, "keep.log", "log line")
	if err := env.engine.SyncNow(ctx, rule.ID); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}

	rule.ExcludePatterns = []string{"*.log"}
	if err := env.engine.UpdateRule(ctx, rule); err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	if err := env.engine.SyncNow(ctx, rule.ID); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}

	records, err := env.db.ListRecords(ctx, rule.ID)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if _, ok := records["keep.log"]; !ok {
		t.Fatal("Baseline row for the excluded path must survive")
	}
	if _, err := env.remote.Head(ctx, "backups", "laptop/keep.log"); err != nil {
		t.Errorf("Excluded object must not be touched: %v", err)
	}

	// Lifting the pattern resumes change detection against the kept row
	rule.ExcludePatterns = nil
	if err := env.engine.UpdateRule(ctx, rule); err != nil {
		t.Fatalf("UpdateRule: %v", err)
	}
	preview, err := env.engine.Preview(ctx, rule.ID)
	if err != nil {
		t.Fatalf("Preview: %v", err)
	}
	if !preview.Empty() || preview.Unchanged != 1 {
		t.Errorf("Expected settled state after lifting the pattern, got %d pending, %d unchanged",
			preview.Total(), preview.Unchanged)
	}
}

func TestEngineProfileUpdateRefreshesRemote(t *testing.T) {
	ctx := context.Background()

	db, err := store.Open(filepath.Join(t.TempDir(), "state.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	remoteStore := remote.NewMemoryStore()
	queue := jobs.NewLocalQueue(remoteStore, 2, nil)
	t.Cleanup(func() { queue.Close() })

	factoryCalls := 0
	engine, err := NewEngine(Options{
		DB:    db,
		Queue: queue,
		Remote: func(store.Profile) (remote.Store, error) {
			factoryCalls++
			return remoteStore, nil
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	profile := store.Profile{ID: "prof-1", Name: "primary", Provider: "memory", CreatedAt: time.Now()}
	if err := engine.UpsertProfile(ctx, profile); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	rule, err := engine.AddRule(ctx, store.Rule{
		ProfileID:      profile.ID,
		Bucket:         "backups",
		LocalPath:      t.TempDir(),
		Direction:      store.DirectionBidirectional,
		ConflictPolicy: "newer-wins",
		PollInterval:   time.Hour,
	})
	if err != nil {
		t.Fatalf("AddRule: %v", err)
	}

	for i := 0; i < 2; i++ {
		if err := engine.SyncNow(ctx, rule.ID); err != nil {
			t.Fatalf("SyncNow: %v", err)
		}
	}
	if factoryCalls != 1 {
		t.Fatalf("Expected one cached client build, got %d", factoryCalls)
	}

	profile.Endpoint = "https://eu.example"
	if err := engine.UpsertProfile(ctx, profile); err != nil {
		t.Fatalf("UpsertProfile: %v", err)
	}
	if err := engine.SyncNow(ctx, rule.ID); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	if factoryCalls != 2 {
		t.Errorf("Expected a rebuilt client after the profile update, got %d builds", factoryCalls)
	}
}

func TestEngineRemoteFailureSetsError(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rule := env.addRule(t, func(r *store.Rule) { r.Enabled = false })

	listErr := errors.New("endpoint unreachable")
	env.remote.FailList = func(string, string) error { return listErr }

	if err := env.engine.SyncNow(ctx, rule.ID); !errors.Is(err, listErr) {
		t.Fatalf("Expected listing failure, got %v", err)
	}

	stored, err := env.db.GetRule(ctx, rule.ID)
	if err != nil {
		t.Fatalf("GetRule: %v", err)
	}
	if stored.LastSyncStatus != store.SyncStatusError {
		t.Errorf("Expected error status, got %s", stored.LastSyncStatus)
	}
	if stored.LastSyncError == "" {
		t.Error("Expected lastSyncError to be recorded")
	}
}

func TestEngineRuleValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	base := store.Rule{
		Bucket:         "backups",
		LocalPath:      t.TempDir(),
		Direction:      store.DirectionBidirectional,
		ConflictPolicy: "newer-wins",
		PollInterval:   time.Minute,
	}

	tests := []struct {
		name   string
		mutate func(*store.Rule)
	}{
		{"missing local path", func(r *store.Rule) { r.LocalPath = "" }},
		{"nonexistent local path", func(r *store.Rule) { r.LocalPath = filepath.Join(r.LocalPath, "nope") }},
		{"missing bucket", func(r *store.Rule) { r.Bucket = "" }},
		{"bad direction", func(r *store.Rule) { r.Direction = "sideways" }},
		{"bad policy", func(r *store.Rule) { r.ConflictPolicy = "coin-flip" }},
		{"zero poll interval", func(r *store.Rule) { r.PollInterval = 0 }},
		{"malformed exclude pattern", func(r *store.Rule) { r.ExcludePatterns = []string{"[unclosed"} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rule := base
			tt.mutate(&rule)
			if _, err := env.engine.AddRule(ctx, rule); !errors.Is(err, ErrInvalidRule) {
				t.Errorf("Expected ErrInvalidRule, got %v", err)
			}
		})
	}

	if _, err := env.engine.AddRule(ctx, base); err != nil {
		t.Errorf("Valid rule rejected: %v", err)
	}
}

func TestEngineRemoveRulePurgesState(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	rule := env.addRule(t, func(r *store.Rule) { r.Enabled = false })

	writeRuleFile(t, rule, "a.txt", "content")
	if err := env.engine.SyncNow(ctx, rule.ID); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}

	if err := env.engine.RemoveRule(ctx, rule.ID); err != nil {
		t.Fatalf("RemoveRule: %v", err)
	}
	if _, err := env.db.GetRule(ctx, rule.ID); !errors.Is(err, store.ErrRuleNotFound) {
		t.Errorf("Expected rule gone, got %v", err)
	}
	records, err := env.db.ListRecords(ctx, rule.ID)
	if err != nil {
		t.Fatalf("ListRecords: %v", err)
	}
	if len(records) != 0 {
		t.Errorf("Expected baseline purged, got %v", records)
	}
	if err := env.engine.SyncNow(ctx, rule.ID); !errors.Is(err, store.ErrRuleNotFound) {
		t.Errorf("Expected not-found after removal, got %v", err)
	}
}

func TestEnginePauseAllResumeAll(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	first := env.addRule(t, nil)
	second := env.addRule(t, nil)
	if err := env.engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer env.engine.Stop()
	waitForStatus(t, env.engine, first.ID, scheduler.StatusWatching)
	waitForStatus(t, env.engine, second.ID, scheduler.StatusWatching)

	env.engine.PauseAll()
	waitForStatus(t, env.engine, first.ID, scheduler.StatusPaused)
	waitForStatus(t, env.engine, second.ID, scheduler.StatusPaused)
	if counts := env.engine.Counts(); counts.Paused != 2 {
		t.Errorf("Expected 2 paused, got %+v", counts)
	}

	env.engine.ResumeAll()
	waitForStatus(t, env.engine, first.ID, scheduler.StatusWatching)
	waitForStatus(t, env.engine, second.ID, scheduler.StatusWatching)
}

func TestEngineDisableStopsActor(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rule := env.addRule(t, nil)
	if err := env.engine.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer env.engine.Stop()
	waitForStatus(t, env.engine, rule.ID, scheduler.StatusWatching)

	if err := env.engine.DisableRule(ctx, rule.ID); err != nil {
		t.Fatalf("DisableRule: %v", err)
	}
	if len(env.engine.Statuses()) != 0 {
		t.Errorf("Expected no running actors, got %+v", env.engine.Statuses())
	}

	if err := env.engine.EnableRule(ctx, rule.ID); err != nil {
		t.Fatalf("EnableRule: %v", err)
	}
	waitForStatus(t, env.engine, rule.ID, scheduler.StatusWatching)
}

func readRemote(ctx context.Context, store *remote.MemoryStore, bucket, key string) ([]byte, error) {
	var buf writableBuffer
	if _, err := store.Get(ctx, bucket, key, &buf); err != nil {
		return nil, err
	}
	return buf.data, nil
}

type writableBuffer struct {
	data []byte
}

func (b *writableBuffer) Write(p []byte) (int, error) {
	b.data = append(b.data, p...)
	return len(p), nil
}
