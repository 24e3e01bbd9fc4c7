// Package jobs is the transfer/job queue collaborator: byte-level copy with
// a global concurrency limit, reporting progress per job.
package jobs

import (
	"context"
	"errors"

	"github.com/object0/foldersync/internal/remote"
)

// Type is the kind of transfer a job performs
type Type string

const (
	TypeUpload   Type = "upload"
	TypeDownload Type = "download"
)

// Operation describes one path-granular transfer
type Operation struct {
	ID           string
	RuleID       string
	Type         Type
	Bucket       string
	Key          string
	LocalPath    string
	RelativePath string
	Size         int64
}

// Update is a progress or completion event for a submitted job. The final
// update has Done set; Err is non-nil if the transfer failed.
type Update struct {
	JobID            string
	BytesTransferred int64
	BytesTotal       int64
	Done             bool
	Err              error
	// Remote holds post-transfer object metadata for uploads
	Remote remote.ObjectInfo
}

// ErrQueueClosed is returned by Submit after Close
var ErrQueueClosed = errors.New("job queue closed")

// Queue accepts transfer operations and executes them under a global
// concurrency limit. The returned channel delivers progress updates and is
// closed after the final (Done) update.
type Queue interface {
	Submit(ctx context.Context, op Operation) (<-chan Update, error)
}
