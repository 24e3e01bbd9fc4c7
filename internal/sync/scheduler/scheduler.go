// Package scheduler owns the per-rule runtime: one actor goroutine per
// enabled rule that serializes reconciliations, debounces watcher
// notifications and drives the rule's status machine.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/object0/foldersync/internal/logging"
	"github.com/object0/foldersync/internal/sync/events"
	"github.com/object0/foldersync/internal/watch"
)

// Status is a rule's runtime state
type Status string

const (
	StatusIdle     Status = "idle"
	StatusWatching Status = "watching"
	StatusSyncing  Status = "syncing"
	StatusError    Status = "error"
	StatusPaused   Status = "paused"
)

// ErrPaused is returned when a sync is requested for a paused rule
var ErrPaused = errors.New("rule is paused")

// RuntimeState is the queryable snapshot of one rule actor
type RuntimeState struct {
	RuleID           string
	Status           Status
	FilesWatching    int
	LastChange       time.Time
	LastSyncAt       time.Time
	LastError        string
	CurrentFile      string
	CompletedOps     int
	TotalOps         int
	BytesTransferred int64
	BytesTotal       int64
}

// RunFunc performs one reconciliation pass for the rule. The actor
// guarantees at most one call in flight; progress callbacks feed the
// runtime snapshot. It returns the number of local files under watch.
type RunFunc func(ctx context.Context, progress func(completed, total int, bytesDone, bytesTotal int64, currentFile string)) (filesWatching int, err error)

const defaultDebounce = 500 * time.Millisecond

// Config wires one rule actor
type Config struct {
	RuleID       string
	LocalPath    string
	PollInterval time.Duration
	Debounce     time.Duration
	Watcher      watch.Watcher
	Run          RunFunc
	Bus          *events.Bus
	Log          logging.Logger
}

// Actor runs the state machine for one rule. All reconciliations for the
// rule flow through its loop goroutine, which is what makes a sync
// single-flight: a trigger that fires mid-sync parks in a one-slot buffer
// and collapses with any further fires into a single follow-up pass.
type Actor struct {
	cfg    Config
	log    logging.Logger
	bus    *events.Bus
	paused atomic.Bool

	// trigger has capacity 1; that buffer is the coalescing rerun flag
	trigger chan struct{}
	wake    chan struct{}
	done    chan struct{}

	mu        sync.Mutex
	state     RuntimeState
	runCancel context.CancelFunc
	stop      context.CancelFunc
}

func NewActor(cfg Config) *Actor {
	if cfg.Debounce <= 0 {
		cfg.Debounce = defaultDebounce
	}
	if cfg.Log == nil {
		cfg.Log = logging.NopLogger{}
	}
	return &Actor{
		cfg:     cfg,
		log:     cfg.Log.WithRule(cfg.RuleID),
		bus:     cfg.Bus,
		trigger: make(chan struct{}, 1),
		wake:    make(chan struct{}, 1),
		done:    make(chan struct{}),
		state:   RuntimeState{RuleID: cfg.RuleID, Status: StatusIdle},
	}
}

// Start arms the watcher and the poll timer and launches the actor loop
func (a *Actor) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)

	var changes <-chan watch.Event
	if a.cfg.Watcher != nil {
		var err error
		changes, err = a.cfg.Watcher.Watch(ctx, a.cfg.LocalPath)
		if err != nil {
			cancel()
			return err
		}
	}

	a.mu.Lock()
	a.stop = cancel
	a.mu.Unlock()

	if changes != nil {
		go a.debounceLoop(ctx, changes)
	}
	go a.loop(ctx)
	return nil
}

// Stop cancels any in-flight sync and waits for the loop to exit
func (a *Actor) Stop() {
	a.mu.Lock()
	cancel := a.stop
	a.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-a.done
}

// SyncNow requests an immediate reconciliation. A fire while a sync is in
// flight coalesces into one follow-up pass.
func (a *Actor) SyncNow() error {
	if a.paused.Load() {
		return ErrPaused
	}
	a.fire()
	return nil
}

// Pause suspends the rule and cancels any in-flight sync cooperatively
func (a *Actor) Pause() {
	if a.paused.Swap(true) {
		return
	}
	a.mu.Lock()
	if a.runCancel != nil {
		a.runCancel()
	}
	a.mu.Unlock()
	a.poke()
}

// Resume re-arms a paused rule
func (a *Actor) Resume() {
	if !a.paused.Swap(false) {
		return
	}
	a.poke()
}

// State returns a snapshot of the actor's runtime state
func (a *Actor) State() RuntimeState {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

func (a *Actor) fire() {
	select {
	case a.trigger <- struct{}{}:
	default:
	}
}

func (a *Actor) poke() {
	select {
	case a.wake <- struct{}{}:
	default:
	}
}

func (a *Actor) loop(ctx context.Context) {
	defer close(a.done)

	interval := a.cfg.PollInterval
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if a.paused.Load() {
		a.setStatus(StatusPaused)
	} else {
		a.setStatus(StatusWatching)
	}

	for {
		select {
		case <-ctx.Done():
			a.setStatus(StatusIdle)
			return
		case <-a.wake:
			if a.paused.Load() {
				a.setStatus(StatusPaused)
			} else if a.State().Status == StatusPaused {
				a.setStatus(StatusWatching)
			}
		case <-ticker.C:
			if !a.paused.Load() {
				a.fire()
			}
		case <-a.trigger:
			if a.paused.Load() {
				continue
			}
			a.runOnce(ctx)
		}
	}
}

func (a *Actor) runOnce(parent context.Context) {
	runCtx, cancel := context.WithCancel(parent)
	defer cancel()

	a.mu.Lock()
	a.runCancel = cancel
	a.state.CompletedOps = 0
	a.state.TotalOps = 0
	a.state.BytesTransferred = 0
	a.state.BytesTotal = 0
	a.state.CurrentFile = ""
	a.mu.Unlock()
	a.setStatus(StatusSyncing)

	files, err := a.cfg.Run(runCtx, a.reportProgress)

	a.mu.Lock()
	a.runCancel = nil
	a.state.LastSyncAt = time.Now()
	a.state.CurrentFile = ""
	if err == nil {
		a.state.FilesWatching = files
		a.state.LastError = ""
	} else {
		a.state.LastError = err.Error()
	}
	a.mu.Unlock()

	switch {
	case a.paused.Load():
		a.setStatus(StatusPaused)
	case parent.Err() != nil:
		// actor is shutting down; the loop publishes idle on exit
	case err != nil && !errors.Is(err, context.Canceled):
		a.log.Warn("sync failed", logging.Err(err))
		a.setStatus(StatusError)
	default:
		a.setStatus(StatusWatching)
	}
}

func (a *Actor) reportProgress(completed, total int, bytesDone, bytesTotal int64, currentFile string) {
	a.mu.Lock()
	a.state.CompletedOps = completed
	a.state.TotalOps = total
	a.state.BytesTransferred = bytesDone
	a.state.BytesTotal = bytesTotal
	a.state.CurrentFile = currentFile
	a.mu.Unlock()
}

func (a *Actor) setStatus(next Status) {
	a.mu.Lock()
	prev := a.state.Status
	a.state.Status = next
	var progress *events.SyncProgress
	if next == StatusSyncing {
		progress = &events.SyncProgress{
			CompletedOps:     a.state.CompletedOps,
			TotalOps:         a.state.TotalOps,
			BytesTransferred: a.state.BytesTransferred,
			BytesTotal:       a.state.BytesTotal,
			CurrentFile:      a.state.CurrentFile,
		}
	}
	a.mu.Unlock()

	if prev == next {
		return
	}
	a.log.Debug("status change", logging.F("from", string(prev)), logging.F("to", string(next)))
	if a.bus != nil {
		a.bus.Publish(events.Event{
			Category: events.CategoryStatus,
			RuleID:   a.cfg.RuleID,
			Payload:  events.StatusChange{From: string(prev), To: string(next), Progress: progress},
		})
	}
}

// debounceLoop folds bursts of filesystem events into one trigger after a
// quiet window
func (a *Actor) debounceLoop(ctx context.Context, changes <-chan watch.Event) {
	var timer *time.Timer
	var timerC <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				return
			}
			a.mu.Lock()
			a.state.LastChange = ev.Time
			a.mu.Unlock()

			if timer == nil {
				timer = time.NewTimer(a.cfg.Debounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(a.cfg.Debounce)
			}
		case <-timerC:
			timer = nil
			timerC = nil
			if !a.paused.Load() {
				a.fire()
			}
		}
	}
}
