package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/object0/foldersync/internal/sync/events"
	"github.com/object0/foldersync/internal/watch"
)

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("Timed out waiting for %s", what)
}

func startActor(t *testing.T, cfg Config) *Actor {
	t.Helper()
	if cfg.RuleID == "" {
		cfg.RuleID = "rule-1"
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = time.Hour
	}
	actor := NewActor(cfg)
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(actor.Stop)
	return actor
}

func TestActorSingleFlightCoalescing(t *testing.T) {
	var runs atomic.Int32
	release := make(chan struct{})
	entered := make(chan struct{}, 8)

	actor := startActor(t, Config{
		Run: func(ctx context.Context, _ func(int, int, int64, int64, string)) (int, error) {
			runs.Add(1)
			entered <- struct{}{}
			<-release
			return 0, nil
		},
	})

	if err := actor.SyncNow(); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	<-entered

	// A burst of fires while syncing collapses into a single follow-up
	for i := 0; i < 5; i++ {
		if err := actor.SyncNow(); err != nil {
			t.Fatalf("SyncNow: %v", err)
		}
	}
	release <- struct{}{}
	<-entered
	release <- struct{}{}

	waitFor(t, "actor back to watching", func() bool {
		return actor.State().Status == StatusWatching
	})
	if got := runs.Load(); got != 2 {
		t.Errorf("Expected 2 runs (initial + one coalesced), got %d", got)
	}
}

func TestActorDebouncesWatcherEvents(t *testing.T) {
	var runs atomic.Int32
	watcher := watch.NewChannelWatcher()

	actor := startActor(t, Config{
		LocalPath: "/tmp/ignored",
		Debounce:  30 * time.Millisecond,
		Watcher:   watcher,
		Run: func(ctx context.Context, _ func(int, int, int64, int64, string)) (int, error) {
			runs.Add(1)
			return 3, nil
		},
	})

	for i := 0; i < 10; i++ {
		watcher.Notify("file.txt")
		time.Sleep(2 * time.Millisecond)
	}

	waitFor(t, "debounced sync", func() bool { return runs.Load() >= 1 })
	// The quiet window ended once, so the burst produced one pass
	time.Sleep(100 * time.Millisecond)
	if got := runs.Load(); got != 1 {
		t.Errorf("Expected 1 debounced run, got %d", got)
	}
	state := actor.State()
	if state.FilesWatching != 3 {
		t.Errorf("Expected FilesWatching 3, got %d", state.FilesWatching)
	}
	if state.LastChange.IsZero() {
		t.Error("Expected LastChange to be recorded")
	}
}

func TestActorPauseResume(t *testing.T) {
	var runs atomic.Int32
	actor := startActor(t, Config{
		Run: func(ctx context.Context, _ func(int, int, int64, int64, string)) (int, error) {
			runs.Add(1)
			return 0, nil
		},
	})

	waitFor(t, "watching", func() bool { return actor.State().Status == StatusWatching })

	actor.Pause()
	waitFor(t, "paused", func() bool { return actor.State().Status == StatusPaused })
	if err := actor.SyncNow(); !errors.Is(err, ErrPaused) {
		t.Errorf("Expected ErrPaused, got %v", err)
	}

	actor.Resume()
	waitFor(t, "watching after resume", func() bool { return actor.State().Status == StatusWatching })
	if err := actor.SyncNow(); err != nil {
		t.Fatalf("SyncNow after resume: %v", err)
	}
	waitFor(t, "run after resume", func() bool { return runs.Load() == 1 })
}

func TestActorPauseCancelsInFlight(t *testing.T) {
	entered := make(chan struct{})
	actor := startActor(t, Config{
		Run: func(ctx context.Context, _ func(int, int, int64, int64, string)) (int, error) {
			close(entered)
			<-ctx.Done()
			return 0, ctx.Err()
		},
	})

	if err := actor.SyncNow(); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	<-entered
	actor.Pause()

	waitFor(t, "paused after cancel", func() bool { return actor.State().Status == StatusPaused })
	if msg := actor.State().LastError; msg == "" {
		t.Log("cancelled run left no error message") // cancellation is not a failure
	}
}

func TestActorErrorStateRetries(t *testing.T) {
	var runs atomic.Int32
	fail := atomic.Bool{}
	fail.Store(true)

	actor := startActor(t, Config{
		Run: func(ctx context.Context, _ func(int, int, int64, int64, string)) (int, error) {
			runs.Add(1)
			if fail.Load() {
				return 0, errors.New("remote unreachable")
			}
			return 0, nil
		},
	})

	if err := actor.SyncNow(); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	waitFor(t, "error state", func() bool { return actor.State().Status == StatusError })
	if actor.State().LastError == "" {
		t.Error("Expected LastError to be set")
	}

	// The trigger path stays armed: the next request retries and recovers
	fail.Store(false)
	if err := actor.SyncNow(); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	waitFor(t, "recovered", func() bool { return actor.State().Status == StatusWatching })
	if actor.State().LastError != "" {
		t.Errorf("Expected LastError cleared, got %q", actor.State().LastError)
	}
}

func TestActorPublishesStatusEvents(t *testing.T) {
	bus := events.NewBus()
	defer bus.Close()
	ch, cancel := bus.Subscribe(events.CategoryStatus)
	defer cancel()

	actor := startActor(t, Config{
		Bus: bus,
		Run: func(ctx context.Context, progress func(int, int, int64, int64, string)) (int, error) {
			progress(1, 2, 512, 1024, "a.txt")
			return 0, nil
		},
	})

	if err := actor.SyncNow(); err != nil {
		t.Fatalf("SyncNow: %v", err)
	}
	waitFor(t, "back to watching", func() bool { return actor.State().Status == StatusWatching })

	var transitions []string
	for done := false; !done; {
		select {
		case ev := <-ch:
			change, ok := ev.Payload.(events.StatusChange)
			if !ok {
				t.Fatalf("Unexpected payload %T", ev.Payload)
			}
			transitions = append(transitions, change.From+">"+change.To)
			if change.To == string(StatusWatching) && change.From == string(StatusSyncing) {
				done = true
			}
		case <-time.After(time.Second):
			t.Fatalf("Missing transitions, got %v", transitions)
		}
	}

	want := map[string]bool{}
	for _, tr := range transitions {
		want[tr] = true
	}
	if !want["idle>watching"] || !want["watching>syncing"] || !want["syncing>watching"] {
		t.Errorf("Expected idle>watching, watching>syncing, syncing>watching; got %v", transitions)
	}

	state := actor.State()
	if state.CompletedOps != 1 || state.TotalOps != 2 {
		t.Errorf("Expected op progress 1/2, got %d/%d", state.CompletedOps, state.TotalOps)
	}
	if state.BytesTransferred != 512 || state.BytesTotal != 1024 {
		t.Errorf("Expected byte progress 512/1024, got %d/%d", state.BytesTransferred, state.BytesTotal)
	}
}

func TestActorStopGoesIdle(t *testing.T) {
	actor := NewActor(Config{
		RuleID:       "rule-1",
		PollInterval: time.Hour,
		Run: func(ctx context.Context, _ func(int, int, int64, int64, string)) (int, error) {
			return 0, nil
		},
	})
	if err := actor.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	actor.Stop()
	if got := actor.State().Status; got != StatusIdle {
		t.Errorf("Expected idle after stop, got %s", got)
	}
	actor.Stop() // second stop is harmless
}
