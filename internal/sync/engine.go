// Package sync hosts the folder synchronization engine: rule management,
// per-rule reconciliation and the runtime control surface.
package sync

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	gosync "sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/object0/foldersync/internal/jobs"
	"github.com/object0/foldersync/internal/logging"
	"github.com/object0/foldersync/internal/remote"
	"github.com/object0/foldersync/internal/store"
	"github.com/object0/foldersync/internal/sync/conflict"
	"github.com/object0/foldersync/internal/sync/diff"
	"github.com/object0/foldersync/internal/sync/events"
	"github.com/object0/foldersync/internal/sync/exclude"
	"github.com/object0/foldersync/internal/sync/executor"
	"github.com/object0/foldersync/internal/sync/scanner"
	"github.com/object0/foldersync/internal/sync/scheduler"
	"github.com/object0/foldersync/internal/watch"
)

// ErrInvalidRule wraps rule validation failures
var ErrInvalidRule = errors.New("invalid rule")

// ErrNotStarted is returned for operations that need a running engine
var ErrNotStarted = errors.New("engine not started")

// RemoteFactory builds the remote store client for a profile. Rules without
// a profile get the zero Profile.
type RemoteFactory func(profile store.Profile) (remote.Store, error)

// Options wires an Engine
type Options struct {
	DB       *store.DB
	Queue    jobs.Queue
	Watcher  watch.Watcher
	Remote   RemoteFactory
	Bus      *events.Bus
	Log      logging.Logger
	Debounce time.Duration
}

// Engine owns the rule actors and implements the control surface. All rule
// mutations go through it so persisted state and runtime state stay in step.
type Engine struct {
	db      *store.DB
	queue   jobs.Queue
	watcher watch.Watcher
	factory RemoteFactory
	bus     *events.Bus
	log     logging.Logger

	debounce time.Duration

	mu      gosync.Mutex
	ctx     context.Context
	actors  map[string]*scheduler.Actor
	remotes map[string]remote.Store
}

func NewEngine(opts Options) (*Engine, error) {
	if opts.DB == nil {
		return nil, errors.New("engine requires a store")
	}
	if opts.Queue == nil {
		return nil, errors.New("engine requires a job queue")
	}
	if opts.Remote == nil {
		return nil, errors.New("engine requires a remote factory")
	}
	log := opts.Log
	if log == nil {
		log = logging.NopLogger{}
	}
	bus := opts.Bus
	if bus == nil {
		bus = events.NewBus()
	}
	return &Engine{
		db:       opts.DB,
		queue:    opts.Queue,
		watcher:  opts.Watcher,
		factory:  opts.Remote,
		bus:      bus,
		log:      log,
		debounce: opts.Debounce,
		actors:   make(map[string]*scheduler.Actor),
		remotes:  make(map[string]remote.Store),
	}, nil
}

// Bus exposes the event stream for subscribers
func (e *Engine) Bus() *events.Bus {
	return e.bus
}

// Start loads the persisted rules and arms an actor for every enabled one
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	e.ctx = ctx
	e.mu.Unlock()

	rules, err := e.db.ListRules(ctx)
	if err != nil {
		return fmt.Errorf("load rules: %w", err)
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}
		if err := e.startActor(rule); err != nil {
			e.log.Error("rule not started", logging.F("rule", rule.ID), logging.Err(err))
		}
	}

	e.log.Info("engine started", logging.F("rules", len(rules)))
	return nil
}

// Stop halts every rule actor and the event bus
func (e *Engine) Stop() {
	e.mu.Lock()
	actors := make([]*scheduler.Actor, 0, len(e.actors))
	for id, actor := range e.actors {
		actors = append(actors, actor)
		delete(e.actors, id)
	}
	e.ctx = nil
	e.mu.Unlock()

	for _, actor := range actors {
		actor.Stop()
	}
	e.bus.Close()
	e.log.Info("engine stopped")
}

// AddRule validates and persists a new rule and, when the rule is enabled
// and the engine is running, arms its actor
func (e *Engine) AddRule(ctx context.Context, rule store.Rule) (store.Rule, error) {
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	if err := validateRule(rule); err != nil {
		return store.Rule{}, err
	}
	if err := e.db.UpsertRule(ctx, rule); err != nil {
		return store.Rule{}, err
	}
	e.log.Info("rule added", logging.F("rule", rule.ID), logging.F("path", rule.LocalPath))

	if rule.Enabled {
		if err := e.startActor(rule); err != nil && !errors.Is(err, ErrNotStarted) {
			return rule, err
		}
	}
	return rule, nil
}

// UpdateRule replaces an existing rule's settings. A running actor is
// restarted so the new direction, policy and patterns take effect.
func (e *Engine) UpdateRule(ctx context.Context, rule store.Rule) error {
	existing, err := e.db.GetRule(ctx, rule.ID)
	if err != nil {
		return err
	}
	rule.CreatedAt = existing.CreatedAt
	if err := validateRule(rule); err != nil {
		return err
	}
	if err := e.db.UpsertRule(ctx, rule); err != nil {
		return err
	}

	e.invalidateRemote(existing.ProfileID)
	if rule.ProfileID != existing.ProfileID {
		e.invalidateRemote(rule.ProfileID)
	}

	e.stopActor(rule.ID)
	if rule.Enabled {
		if err := e.startActor(rule); err != nil && !errors.Is(err, ErrNotStarted) {
			return err
		}
	}
	return nil
}

// RemoveRule stops the rule's actor and discards the rule with its baseline
// and conflict records
func (e *Engine) RemoveRule(ctx context.Context, id string) error {
	e.stopActor(id)
	if err := e.db.DeleteRule(ctx, id); err != nil {
		return err
	}
	e.log.Info("rule removed", logging.F("rule", id))
	return nil
}

// EnableRule marks the rule enabled and arms its actor
func (e *Engine) EnableRule(ctx context.Context, id string) error {
	rule, err := e.db.GetRule(ctx, id)
	if err != nil {
		return err
	}
	if err := e.db.SetRuleEnabled(ctx, id, true); err != nil {
		return err
	}
	rule.Enabled = true
	if err := e.startActor(*rule); err != nil && !errors.Is(err, ErrNotStarted) {
		return err
	}
	return nil
}

// DisableRule stops the rule's actor and marks the rule disabled. The
// baseline stays, so re-enabling does not resync everything.
func (e *Engine) DisableRule(ctx context.Context, id string) error {
	if _, err := e.db.GetRule(ctx, id); err != nil {
		return err
	}
	e.stopActor(id)
	return e.db.SetRuleEnabled(ctx, id, false)
}

// SyncNow triggers an immediate reconciliation. For a rule with a running
// actor the trigger coalesces with any in-flight pass; otherwise one pass
// runs synchronously.
func (e *Engine) SyncNow(ctx context.Context, id string) error {
	e.mu.Lock()
	actor := e.actors[id]
	e.mu.Unlock()

	if actor != nil {
		return actor.SyncNow()
	}

	if _, err := e.db.GetRule(ctx, id); err != nil {
		return err
	}
	_, err := e.reconcile(ctx, id, nil)
	return err
}

// Preview computes the rule's reconciliation plan without executing it
func (e *Engine) Preview(ctx context.Context, id string) (*diff.Diff, error) {
	rule, err := e.db.GetRule(ctx, id)
	if err != nil {
		return nil, err
	}

	baseline, local, remoteSnap, err := e.collect(ctx, *rule, exclude.New(rule.ExcludePatterns))
	if err != nil {
		return nil, err
	}
	return diff.Compute(baseline, local, remoteSnap, rule.Direction), nil
}

// Conflicts lists persisted conflict records, all rules when id is empty
func (e *Engine) Conflicts(ctx context.Context, ruleID string) ([]store.ConflictRecord, error) {
	return e.db.ListConflicts(ctx, ruleID)
}

// ClearConflicts drops the rule's conflict records
func (e *Engine) ClearConflicts(ctx context.Context, ruleID string) error {
	return e.db.ClearConflicts(ctx, ruleID)
}

// UpsertProfile persists the profile and drops its cached remote client so
// the next reconciliation of any rule using it sees the new settings
func (e *Engine) UpsertProfile(ctx context.Context, profile store.Profile) error {
	if err := e.db.UpsertProfile(ctx, profile); err != nil {
		return err
	}
	e.invalidateRemote(profile.ID)
	return nil
}

// RemoveProfile deletes the profile row and its cached remote client
func (e *Engine) RemoveProfile(ctx context.Context, id string) error {
	if err := e.db.DeleteProfile(ctx, id); err != nil {
		return err
	}
	e.invalidateRemote(id)
	return nil
}

func (e *Engine) invalidateRemote(profileID string) {
	e.mu.Lock()
	delete(e.remotes, profileID)
	e.mu.Unlock()
}

// PauseRule suspends the rule's actor, cancelling in-flight work
func (e *Engine) PauseRule(id string) error {
	e.mu.Lock()
	actor := e.actors[id]
	e.mu.Unlock()
	if actor == nil {
		return store.ErrRuleNotFound
	}
	actor.Pause()
	return nil
}

// ResumeRule re-arms a paused rule
func (e *Engine) ResumeRule(id string) error {
	e.mu.Lock()
	actor := e.actors[id]
	e.mu.Unlock()
	if actor == nil {
		return store.ErrRuleNotFound
	}
	actor.Resume()
	return nil
}

// PauseAll suspends every running rule actor
func (e *Engine) PauseAll() {
	for _, actor := range e.snapshotActors() {
		actor.Pause()
	}
}

// ResumeAll re-arms every paused rule actor
func (e *Engine) ResumeAll() {
	for _, actor := range e.snapshotActors() {
		actor.Resume()
	}
}

// Statuses returns the runtime state of every running rule actor, sorted by
// rule ID
func (e *Engine) Statuses() []scheduler.RuntimeState {
	actors := e.snapshotActors()
	states := make([]scheduler.RuntimeState, 0, len(actors))
	for _, actor := range actors {
		states = append(states, actor.State())
	}
	sort.Slice(states, func(i, j int) bool { return states[i].RuleID < states[j].RuleID })
	return states
}

// StatusCounts aggregates the runtime states for summary surfaces
type StatusCounts struct {
	Watching int
	Syncing  int
	Paused   int
	Error    int
	Idle     int
}

func (e *Engine) Counts() StatusCounts {
	var counts StatusCounts
	for _, state := range e.Statuses() {
		switch state.Status {
		case scheduler.StatusWatching:
			counts.Watching++
		case scheduler.StatusSyncing:
			counts.Syncing++
		case scheduler.StatusPaused:
			counts.Paused++
		case scheduler.StatusError:
			counts.Error++
		case scheduler.StatusIdle:
			counts.Idle++
		}
	}
	return counts
}

func (e *Engine) snapshotActors() []*scheduler.Actor {
	e.mu.Lock()
	defer e.mu.Unlock()
	actors := make([]*scheduler.Actor, 0, len(e.actors))
	for _, actor := range e.actors {
		actors = append(actors, actor)
	}
	return actors
}

func (e *Engine) startActor(rule store.Rule) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.ctx == nil {
		return ErrNotStarted
	}
	if _, running := e.actors[rule.ID]; running {
		return nil
	}

	ruleID := rule.ID
	actor := scheduler.NewActor(scheduler.Config{
		RuleID:       ruleID,
		LocalPath:    rule.LocalPath,
		PollInterval: rule.PollInterval,
		Debounce:     e.debounce,
		Watcher:      e.watcher,
		Bus:          e.bus,
		Log:          e.log,
		Run: func(ctx context.Context, progress func(int, int, int64, int64, string)) (int, error) {
			return e.reconcile(ctx, ruleID, progress)
		},
	})
	if err := actor.Start(e.ctx); err != nil {
		return err
	}
	e.actors[ruleID] = actor
	return nil
}

func (e *Engine) stopActor(id string) {
	e.mu.Lock()
	actor := e.actors[id]
	delete(e.actors, id)
	e.mu.Unlock()
	if actor != nil {
		actor.Stop()
	}
}

// remoteFor returns the rule's remote client, built once per profile
func (e *Engine) remoteFor(ctx context.Context, rule store.Rule) (remote.Store, error) {
	e.mu.Lock()
	cached, ok := e.remotes[rule.ProfileID]
	e.mu.Unlock()
	if ok {
		return cached, nil
	}

	var profile store.Profile
	if rule.ProfileID != "" {
		p, err := e.db.GetProfile(ctx, rule.ProfileID)
		if err != nil {
			return nil, err
		}
		profile = *p
	}

	client, err := e.factory(profile)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	e.remotes[rule.ProfileID] = client
	e.mu.Unlock()
	return client, nil
}

// collect gathers the three diff inputs; the two snapshots run in parallel
func (e *Engine) collect(ctx context.Context, rule store.Rule, matcher *exclude.Matcher) (map[string]store.FileRecord, map[string]scanner.LocalEntry, map[string]scanner.RemoteEntry, error) {
	remoteStore, err := e.remoteFor(ctx, rule)
	if err != nil {
		return nil, nil, nil, err
	}

	baseline, err := e.db.ListRecords(ctx, rule.ID)
	if err != nil {
		return nil, nil, nil, err
	}
	// Excluded paths drop out of all three diff inputs, so their baseline
	// rows survive untouched until the pattern is lifted
	for path := range baseline {
		if matcher.IsExcluded(path) {
			delete(baseline, path)
		}
	}

	var local map[string]scanner.LocalEntry
	var remoteSnap map[string]scanner.RemoteEntry
	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		var err error
		local, err = scanner.ScanLocal(groupCtx, rule.LocalPath, matcher)
		return err
	})
	group.Go(func() error {
		var err error
		remoteSnap, err = scanner.ScanRemote(groupCtx, remoteStore, rule.Bucket, rule.Prefix, matcher)
		return err
	})
	if err := group.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return baseline, local, remoteSnap, nil
}

// reconcile runs one full pass for the rule: snapshot, diff, resolve,
// execute, record. Failures before a plan exists surface as an error (the
// actor moves to the error state); per-path failures during execution leave
// a partial result instead.
func (e *Engine) reconcile(ctx context.Context, ruleID string, progress func(int, int, int64, int64, string)) (int, error) {
	rule, err := e.db.GetRule(ctx, ruleID)
	if err != nil {
		return 0, e.failRule(ctx, ruleID, err)
	}

	baseline, local, remoteSnap, err := e.collect(ctx, *rule, exclude.New(rule.ExcludePatterns))
	if err != nil {
		return 0, e.failRule(ctx, ruleID, err)
	}
	filesWatching := len(local)

	plan := diff.Compute(baseline, local, remoteSnap, rule.Direction)
	e.log.Debug("plan computed",
		logging.F("rule", ruleID),
		logging.F("uploads", len(plan.Uploads)),
		logging.F("downloads", len(plan.Downloads)),
		logging.F("conflicts", len(plan.Conflicts)),
		logging.F("unchanged", plan.Unchanged))

	resolvedPaths, err := e.resolveConflicts(ctx, *rule, plan)
	if err != nil {
		return filesWatching, e.failRule(ctx, ruleID, err)
	}

	remoteStore, err := e.remoteFor(ctx, *rule)
	if err != nil {
		return filesWatching, e.failRule(ctx, ruleID, err)
	}
	exec := executor.New(e.db, e.queue, remoteStore, e.log)
	result, err := exec.Run(ctx, *rule, plan, progress)
	if err != nil {
		return filesWatching, e.failRule(ctx, ruleID, err)
	}

	e.clearResolvedConflicts(ctx, ruleID, resolvedPaths, result)

	status := result.Status()
	message := ""
	if execErr := result.Err(); execErr != nil {
		message = execErr.Error()
		e.bus.Publish(events.Event{
			Category: events.CategoryError,
			RuleID:   ruleID,
			Payload:  events.RuleError{Message: message},
		})
	}
	if err := e.db.UpdateRuleResult(ctx, ruleID, status, message); err != nil {
		return filesWatching, err
	}

	e.log.Info("sync finished",
		logging.F("rule", ruleID),
		logging.F("status", string(status)),
		logging.F("uploaded", result.Uploaded),
		logging.F("downloaded", result.Downloaded),
		logging.F("deleted_local", result.DeletedLocal),
		logging.F("deleted_remote", result.DeletedRemote),
		logging.F("failed", len(result.Failed)))
	return filesWatching, nil
}

// resolveConflicts applies the rule's policy to the plan's conflict bucket.
// Resolved entries merge back into the transfer buckets; unresolved ones are
// persisted and published, and drop out of this pass. Returns the paths
// whose conflicts the policy settled, so their stale records can be cleared
// after execution.
func (e *Engine) resolveConflicts(ctx context.Context, rule store.Rule, plan *diff.Diff) (map[string]bool, error) {
	if len(plan.Conflicts) == 0 {
		return nil, nil
	}

	res := conflict.Resolve(plan.Conflicts, conflict.Policy(rule.ConflictPolicy), time.Now())
	plan.Conflicts = nil

	resolved := make(map[string]bool)
	for _, entry := range res.Actions {
		plan.Add(entry)
		resolved[entry.Path] = true
	}

	for _, entry := range res.Unresolved {
		delete(resolved, entry.Path)
		record := store.ConflictRecord{
			RuleID:       rule.ID,
			RelativePath: entry.Path,
			Reason:       entry.Reason,
			DetectedAt:   time.Now(),
		}
		if entry.Local != nil {
			record.LocalSize = entry.Local.Size
			record.LocalMTime = entry.Local.MTime.UnixMilli()
		}
		if entry.Remote != nil {
			record.RemoteSize = entry.Remote.Size
			record.RemoteETag = entry.Remote.ETag
			record.RemoteLastModified = entry.Remote.LastModified.UnixMilli()
		}
		if err := e.db.UpsertConflict(ctx, record); err != nil {
			return nil, err
		}
		e.bus.Publish(events.Event{
			Category: events.CategoryConflict,
			RuleID:   rule.ID,
			Payload:  events.ConflictDetected{Path: entry.Path, Reason: entry.Reason},
		})
	}
	return resolved, nil
}

// clearResolvedConflicts drops conflict records for paths whose resolution
// executed successfully
func (e *Engine) clearResolvedConflicts(ctx context.Context, ruleID string, resolved map[string]bool, result *executor.Result) {
	if len(resolved) == 0 {
		return
	}
	failed := make(map[string]bool, len(result.Failed))
	for _, f := range result.Failed {
		failed[f.Path] = true
	}
	for path := range resolved {
		if failed[path] {
			continue
		}
		if err := e.db.DeleteConflict(ctx, ruleID, path); err != nil {
			e.log.Warn("conflict record not cleared", logging.F("path", path), logging.Err(err))
		}
	}
}

// failRule records a failed attempt and publishes the error event
func (e *Engine) failRule(ctx context.Context, ruleID string, cause error) error {
	if errors.Is(cause, context.Canceled) {
		return cause
	}
	e.bus.Publish(events.Event{
		Category: events.CategoryError,
		RuleID:   ruleID,
		Payload:  events.RuleError{Message: cause.Error()},
	})
	if err := e.db.UpdateRuleResult(ctx, ruleID, store.SyncStatusError, cause.Error()); err != nil {
		e.log.Warn("rule result not recorded", logging.F("rule", ruleID), logging.Err(err))
	}
	return cause
}

func validateRule(rule store.Rule) error {
	switch {
	case rule.LocalPath == "":
		return fmt.Errorf("%w: local path required", ErrInvalidRule)
	case rule.Bucket == "":
		return fmt.Errorf("%w: bucket required", ErrInvalidRule)
	case !rule.Direction.Valid():
		return fmt.Errorf("%w: unknown direction %q", ErrInvalidRule, rule.Direction)
	case !conflict.Policy(rule.ConflictPolicy).Valid():
		return fmt.Errorf("%w: unknown conflict policy %q", ErrInvalidRule, rule.ConflictPolicy)
	case rule.PollInterval <= 0:
		return fmt.Errorf("%w: poll interval must be positive", ErrInvalidRule)
	}
	if info, err := os.Stat(rule.LocalPath); err != nil {
		return fmt.Errorf("%w: local path %s: %v", ErrInvalidRule, rule.LocalPath, err)
	} else if !info.IsDir() {
		return fmt.Errorf("%w: local path %s is not a directory", ErrInvalidRule, rule.LocalPath)
	}
	if err := exclude.Validate(rule.ExcludePatterns); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	return nil
}
