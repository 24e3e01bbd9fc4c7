// Package executor applies a reconciliation plan: transfers go through the
// job queue, deletions run afterwards, and the baseline is updated per path
// as each operation succeeds so a partial failure never corrupts the rows of
// paths that were not touched.
package executor

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/object0/foldersync/internal/jobs"
	"github.com/object0/foldersync/internal/logging"
	"github.com/object0/foldersync/internal/remote"
	"github.com/object0/foldersync/internal/store"
	"github.com/object0/foldersync/internal/sync/diff"
	"github.com/object0/foldersync/internal/sync/scanner"
)

// Progress is called as operations start and finish and as transfer bytes
// move. completed counts finished operations (failed ones included),
// bytesDone/bytesTotal aggregate transfer bytes across the whole plan,
// currentFile is the path most recently active.
type Progress func(completed, total int, bytesDone, bytesTotal int64, currentFile string)

// Failure is one operation that did not complete
type Failure struct {
	Path   string
	Action diff.Action
	Err    error
}

// Result summarizes one executed plan
type Result struct {
	Uploaded      int
	Downloaded    int
	DeletedLocal  int
	DeletedRemote int
	Failed        []Failure
}

// Status maps the result onto the rule's last-sync status
func (r *Result) Status() store.SyncStatus {
	if len(r.Failed) > 0 {
		return store.SyncStatusPartial
	}
	return store.SyncStatusSuccess
}

// Err joins the failure errors, nil when everything succeeded
func (r *Result) Err() error {
	if len(r.Failed) == 0 {
		return nil
	}
	errs := make([]error, 0, len(r.Failed))
	for _, f := range r.Failed {
		errs = append(errs, f.Err)
	}
	return errors.Join(errs...)
}

type Executor struct {
	db     *store.DB
	queue  jobs.Queue
	remote remote.Store
	log    logging.Logger
	now    func() time.Time
}

func New(db *store.DB, queue jobs.Queue, remoteStore remote.Store, log logging.Logger) *Executor {
	if log == nil {
		log = logging.NopLogger{}
	}
	return &Executor{
		db:     db,
		queue:  queue,
		remote: remoteStore,
		log:    log,
		now:    time.Now,
	}
}

// Run executes the plan's upload, download and delete buckets. Conflict
// entries still in the plan are ignored; the resolver reclassifies them
// before execution. Downloads run to completion before uploads start: a
// keep-both resolution uploads the local copy to the very key its sibling
// download reads, so the remote version must be captured first. Deletions
// run after all transfers so a delete never races a transfer.
// Returns an error only for plan-independent failures (context cancelled);
// per-path failures land in Result.Failed.
func (e *Executor) Run(ctx context.Context, rule store.Rule, plan *diff.Diff, progress Progress) (*Result, error) {
	result := &Result{}
	total := len(plan.Uploads) + len(plan.Downloads) + len(plan.DeleteLocal) + len(plan.DeleteRemote)

	var bytesTotal int64
	for _, entry := range plan.Uploads {
		if entry.Local != nil {
			bytesTotal += entry.Local.Size
		}
	}
	for _, entry := range plan.Downloads {
		if entry.Remote != nil {
			bytesTotal += entry.Remote.Size
		}
	}

	var mu sync.Mutex
	completed := 0
	var bytesDone int64
	report := func(path string) {
		if progress == nil {
			return
		}
		progress(completed, total, bytesDone, bytesTotal, path)
	}
	addBytes := func(delta int64, path string) {
		mu.Lock()
		bytesDone += delta
		report(path)
		mu.Unlock()
	}

	finish := func(entry diff.Entry, err error, onSuccess func()) {
		mu.Lock()
		defer mu.Unlock()
		completed++
		if err != nil {
			result.Failed = append(result.Failed, Failure{Path: entry.Path, Action: entry.Action, Err: err})
			e.log.Warn("operation failed",
				logging.F("path", entry.Path),
				logging.F("action", string(entry.Action)),
				logging.Err(err))
		} else if onSuccess != nil {
			onSuccess()
		}
		report(entry.Path)
	}

	var wg sync.WaitGroup
	transfer := func(entry diff.Entry) {
		if err := ctx.Err(); err != nil {
			finish(entry, err, nil)
			return
		}
		mu.Lock()
		report(entry.Path)
		mu.Unlock()

		op, err := e.buildOperation(rule, entry)
		if err != nil {
			finish(entry, err, nil)
			return
		}
		updates, err := e.queue.Submit(ctx, op)
		if err != nil {
			finish(entry, err, nil)
			return
		}

		wg.Add(1)
		go func() {
			defer wg.Done()
			e.awaitTransfer(ctx, rule, entry, op, updates, addBytes, finish, result)
		}()
	}

	for _, entry := range plan.Downloads {
		transfer(entry)
	}
	wg.Wait()
	for _, entry := range plan.Uploads {
		transfer(entry)
	}
	wg.Wait()

	if err := ctx.Err(); err != nil {
		return result, err
	}

	for _, entry := range plan.DeleteLocal {
		e.deleteLocal(ctx, rule, entry, finish, result)
	}
	for _, entry := range plan.DeleteRemote {
		e.deleteRemote(ctx, rule, entry, finish, result)
	}

	for _, path := range plan.StaleBaseline {
		if err := e.db.DeleteRecord(ctx, rule.ID, path); err != nil {
			e.log.Warn("stale baseline row not removed", logging.F("path", path), logging.Err(err))
		}
	}

	return result, ctx.Err()
}

func (e *Executor) buildOperation(rule store.Rule, entry diff.Entry) (jobs.Operation, error) {
	fsRel, err := scanner.SafeRelativePath(entry.Path)
	if err != nil {
		return jobs.Operation{}, err
	}

	op := jobs.Operation{
		ID:           uuid.NewString(),
		RuleID:       rule.ID,
		Bucket:       rule.Bucket,
		LocalPath:    filepath.Join(rule.LocalPath, fsRel),
		RelativePath: entry.Path,
	}

	switch entry.Action {
	case diff.ActionUpload:
		op.Type = jobs.TypeUpload
		op.Key = scanner.JoinKey(rule.Prefix, entry.Path)
		if entry.Local != nil {
			op.Size = entry.Local.Size
		}
	case diff.ActionDownload:
		op.Type = jobs.TypeDownload
		// Keep-both conflict copies carry the original object's key
		if entry.Remote != nil {
			op.Key = entry.Remote.Key
			op.Size = entry.Remote.Size
		} else {
			op.Key = scanner.JoinKey(rule.Prefix, entry.Path)
		}
	}
	return op, nil
}

func (e *Executor) awaitTransfer(ctx context.Context, rule store.Rule, entry diff.Entry, op jobs.Operation, updates <-chan jobs.Update, addBytes func(int64, string), finish func(diff.Entry, error, func()), result *Result) {
	var final jobs.Update
	var reported int64
	for update := range updates {
		if update.Done {
			final = update
			continue
		}
		addBytes(update.BytesTransferred-reported, op.RelativePath)
		reported = update.BytesTransferred
	}

	if final.Err != nil {
		finish(entry, final.Err, nil)
		return
	}
	if final.BytesTransferred > reported {
		addBytes(final.BytesTransferred-reported, op.RelativePath)
	}

	finish(entry, e.recordTransfer(ctx, rule, entry, op, final), func() {
		if entry.Action == diff.ActionUpload {
			result.Uploaded++
		} else {
			result.Downloaded++
		}
	})
}

// recordTransfer writes the baseline row for a completed transfer
func (e *Executor) recordTransfer(ctx context.Context, rule store.Rule, entry diff.Entry, op jobs.Operation, final jobs.Update) error {
	if entry.SkipBaseline {
		return nil
	}

	record := store.FileRecord{
		RuleID:       rule.ID,
		RelativePath: entry.Path,
		SyncedAt:     e.now(),
	}

	switch entry.Action {
	case diff.ActionUpload:
		record.LocalMTime = entry.Local.MTime.UnixMilli()
		record.LocalSize = entry.Local.Size
		record.RemoteETag = final.Remote.ETag
		record.RemoteLastModified = final.Remote.LastModified.UnixMilli()
		record.RemoteSize = final.Remote.Size
	case diff.ActionDownload:
		info, err := os.Stat(op.LocalPath)
		if err != nil {
			return err
		}
		record.LocalMTime = info.ModTime().UnixMilli()
		record.LocalSize = info.Size()
		record.RemoteETag = entry.Remote.ETag
		record.RemoteLastModified = entry.Remote.LastModified.UnixMilli()
		record.RemoteSize = entry.Remote.Size
	}

	return e.db.UpsertRecord(ctx, record)
}

func (e *Executor) deleteLocal(ctx context.Context, rule store.Rule, entry diff.Entry, finish func(diff.Entry, error, func()), result *Result) {
	fsRel, err := scanner.SafeRelativePath(entry.Path)
	if err != nil {
		finish(entry, err, nil)
		return
	}

	err = os.Remove(filepath.Join(rule.LocalPath, fsRel))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		finish(entry, err, nil)
		return
	}

	finish(entry, e.db.DeleteRecord(ctx, rule.ID, entry.Path), func() {
		result.DeletedLocal++
	})
}

func (e *Executor) deleteRemote(ctx context.Context, rule store.Rule, entry diff.Entry, finish func(diff.Entry, error, func()), result *Result) {
	key := scanner.JoinKey(rule.Prefix, entry.Path)
	if entry.Remote != nil {
		key = entry.Remote.Key
	}

	if err := e.remote.Delete(ctx, rule.Bucket, key); err != nil {
		finish(entry, err, nil)
		return
	}

	finish(entry, e.db.DeleteRecord(ctx, rule.ID, entry.Path), func() {
		result.DeletedRemote++
	})
}
