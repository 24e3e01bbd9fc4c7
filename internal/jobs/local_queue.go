package jobs

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/object0/foldersync/internal/logging"
	"github.com/object0/foldersync/internal/remote"
)

const partSuffix = ".foldersync-part"

// progressInterval is how many bytes pass between progress updates
const progressInterval = 256 * 1024

// LocalQueue is the in-process Queue implementation: a fixed worker pool
// moving bytes between the local filesystem and a remote.Store
type LocalQueue struct {
	store remote.Store
	log   logging.Logger

	mu     sync.Mutex
	closed bool
	jobs   chan submission
	group  *errgroup.Group
	cancel context.CancelFunc
}

type submission struct {
	ctx     context.Context
	op      Operation
	updates chan Update
}

// NewLocalQueue starts a queue with the given global concurrency
func NewLocalQueue(store remote.Store, concurrency int, log logging.Logger) *LocalQueue {
	if concurrency <= 0 {
		concurrency = 3
	}
	if log == nil {
		log = logging.NopLogger{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, ctx := errgroup.WithContext(ctx)

	q := &LocalQueue{
		store:  store,
		log:    log,
		jobs:   make(chan submission),
		group:  group,
		cancel: cancel,
	}

	for i := 0; i < concurrency; i++ {
		group.Go(func() error {
			for {
				select {
				case <-ctx.Done():
					return nil
				case sub, ok := <-q.jobs:
					if !ok {
						return nil
					}
					q.run(sub)
				}
			}
		})
	}

	return q
}

// Submit enqueues one transfer. It blocks while all workers are busy and the
// handoff buffer is full, which is how the global limit propagates backpressure.
func (q *LocalQueue) Submit(ctx context.Context, op Operation) (<-chan Update, error) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil, ErrQueueClosed
	}
	q.mu.Unlock()

	updates := make(chan Update, 16)
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case q.jobs <- submission{ctx: ctx, op: op, updates: updates}:
		return updates, nil
	}
}

// Close stops accepting jobs and waits for in-flight transfers to finish
func (q *LocalQueue) Close() error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	err := q.group.Wait()
	q.cancel()
	return err
}

func (q *LocalQueue) run(sub submission) {
	defer close(sub.updates)

	op := sub.op
	if err := sub.ctx.Err(); err != nil {
		sub.updates <- Update{JobID: op.ID, Done: true, Err: err}
		return
	}

	var err error
	var final Update
	switch op.Type {
	case TypeUpload:
		final, err = q.upload(sub.ctx, op, sub.updates)
	case TypeDownload:
		final, err = q.download(sub.ctx, op, sub.updates)
	default:
		err = fmt.Errorf("unknown job type %q", op.Type)
	}

	final.JobID = op.ID
	final.Done = true
	final.Err = err
	if err != nil {
		q.log.Debug("transfer failed", logging.F("job", op.ID), logging.F("path", op.RelativePath), logging.Err(err))
	}
	sub.updates <- final
}

func (q *LocalQueue) upload(ctx context.Context, op Operation, updates chan Update) (Update, error) {
	file, err := os.Open(op.LocalPath)
	if err != nil {
		return Update{}, fmt.Errorf("open %s: %w", op.LocalPath, err)
	}
	defer file.Close()

	reader := &progressReader{
		r:       file,
		total:   op.Size,
		jobID:   op.ID,
		updates: updates,
	}
	info, err := q.store.Put(ctx, op.Bucket, op.Key, reader)
	if err != nil {
		return Update{}, fmt.Errorf("upload %s: %w", op.RelativePath, err)
	}
	return Update{
		BytesTransferred: reader.read,
		BytesTotal:       op.Size,
		Remote:           info,
	}, nil
}

func (q *LocalQueue) download(ctx context.Context, op Operation, updates chan Update) (Update, error) {
	if err := os.MkdirAll(filepath.Dir(op.LocalPath), 0700); err != nil {
		return Update{}, fmt.Errorf("create directory for %s: %w", op.RelativePath, err)
	}

	partPath := op.LocalPath + partSuffix
	file, err := os.Create(partPath)
	if err != nil {
		return Update{}, fmt.Errorf("create %s: %w", partPath, err)
	}

	writer := &progressWriter{
		w:       file,
		total:   op.Size,
		jobID:   op.ID,
		updates: updates,
	}
	n, err := q.store.Get(ctx, op.Bucket, op.Key, writer)
	if closeErr := file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if err != nil {
		_ = os.Remove(partPath)
		return Update{}, fmt.Errorf("download %s: %w", op.RelativePath, err)
	}

	if err := os.Rename(partPath, op.LocalPath); err != nil {
		_ = os.Remove(partPath)
		return Update{}, fmt.Errorf("move %s into place: %w", op.RelativePath, err)
	}

	return Update{
		BytesTransferred: n,
		BytesTotal:       op.Size,
	}, nil
}

type progressReader struct {
	r       io.Reader
	read    int64
	lastAt  int64
	total   int64
	jobID   string
	updates chan Update
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.r.Read(buf)
	p.read += int64(n)
	if p.read-p.lastAt >= progressInterval {
		p.lastAt = p.read
		select {
		case p.updates <- Update{JobID: p.jobID, BytesTransferred: p.read, BytesTotal: p.total}:
		default:
		}
	}
	return n, err
}

type progressWriter struct {
	w       io.Writer
	written int64
	lastAt  int64
	total   int64
	jobID   string
	updates chan Update
}

func (p *progressWriter) Write(buf []byte) (int, error) {
	n, err := p.w.Write(buf)
	p.written += int64(n)
	if p.written-p.lastAt >= progressInterval {
		p.lastAt = p.written
		select {
		case p.updates <- Update{JobID: p.jobID, BytesTransferred: p.written, BytesTotal: p.total}:
		default:
		}
	}
	return n, err
}
