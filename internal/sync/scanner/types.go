package scanner

import "time"

// LocalEntry is one file in the local snapshot
type LocalEntry struct {
	RelativePath string
	AbsPath      string
	Size         int64
	MTime        time.Time
}

// RemoteEntry is one object in the remote snapshot
type RemoteEntry struct {
	RelativePath string
	Key          string
	Size         int64
	ETag         string
	LastModified time.Time
}
