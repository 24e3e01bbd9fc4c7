package store

import "time"

// Direction controls which action classes a rule may produce
type Direction string

const (
	DirectionBidirectional Direction = "bidirectional"
	DirectionLocalToRemote Direction = "local-to-remote"
	DirectionRemoteToLocal Direction = "remote-to-local"
)

// Valid reports whether the direction is one of the known values
func (d Direction) Valid() bool {
	switch d {
	case DirectionBidirectional, DirectionLocalToRemote, DirectionRemoteToLocal:
		return true
	}
	return false
}

// SyncStatus is the outcome of the last reconciliation of a rule
type SyncStatus string

const (
	SyncStatusSuccess SyncStatus = "success"
	SyncStatusError   SyncStatus = "error"
	SyncStatusPartial SyncStatus = "partial"
)

// Rule binds one local directory to one remote bucket/prefix
type Rule struct {
	ID              string
	ProfileID       string
	Bucket          string
	Prefix          string
	LocalPath       string
	Direction       Direction
	ConflictPolicy  string
	PollInterval    time.Duration
	ExcludePatterns []string
	Enabled         bool
	LastSyncAt      time.Time
	LastSyncStatus  SyncStatus
	LastSyncError   string
	CreatedAt       time.Time
}

// FileRecord is the baseline for one relative path: the last point at which
// local and remote were known to agree
type FileRecord struct {
	RuleID             string
	RelativePath       string
	LocalMTime         int64 // unix milliseconds
	LocalSize          int64
	RemoteETag         string
	RemoteLastModified int64 // unix milliseconds
	RemoteSize         int64
	SyncedAt           time.Time
}

// ConflictRecord is a path whose local and remote sides both changed since
// baseline in ways the configured policy did not auto-resolve
type ConflictRecord struct {
	RuleID             string
	RelativePath       string
	Reason             string
	LocalSize          int64
	LocalMTime         int64
	RemoteSize         int64
	RemoteETag         string
	RemoteLastModified int64
	DetectedAt         time.Time
}

// Profile identifies a remote store endpoint; its credentials live in the
// OS keychain, never in the database
type Profile struct {
	ID        string
	Name      string
	Provider  string
	Endpoint  string
	Region    string
	CreatedAt time.Time
}
