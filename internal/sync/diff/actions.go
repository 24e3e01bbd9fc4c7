package diff

import (
	"github.com/object0/foldersync/internal/store"
	"github.com/object0/foldersync/internal/sync/scanner"
)

// Action classifies what reconciliation must do for one relative path
type Action string

const (
	// actionNone marks an entry the rule direction downgraded to a no-op
	actionNone Action = ""

	ActionUpload       Action = "upload"
	ActionDownload     Action = "download"
	ActionDeleteLocal  Action = "delete-local"
	ActionDeleteRemote Action = "delete-remote"
	ActionConflict     Action = "conflict"
)

// Entry is one path the differ decided to act on. Local, Remote and Base are
// nil for the sides the path is missing from.
type Entry struct {
	Path   string
	Action Action
	Reason string
	Local  *scanner.LocalEntry
	Remote *scanner.RemoteEntry
	Base   *store.FileRecord

	// SkipBaseline suppresses the baseline row for this path after a
	// successful transfer. Set for keep-both conflict copies, which must
	// not be compared against the original path later.
	SkipBaseline bool
}

// Diff is the reconciliation plan for one rule, bucketed by action.
// StaleBaseline holds paths whose baseline rows point at files gone on both
// sides; they need their rows dropped but no transfer.
type Diff struct {
	Uploads       []Entry
	Downloads     []Entry
	DeleteLocal   []Entry
	DeleteRemote  []Entry
	Conflicts     []Entry
	StaleBaseline []string
	Unchanged     int
}

// Empty reports whether the plan contains no work at all
func (d *Diff) Empty() bool {
	return len(d.Uploads) == 0 && len(d.Downloads) == 0 &&
		len(d.DeleteLocal) == 0 && len(d.DeleteRemote) == 0 &&
		len(d.Conflicts) == 0 && len(d.StaleBaseline) == 0
}

// Total is the number of entries that require an operation
func (d *Diff) Total() int {
	return len(d.Uploads) + len(d.Downloads) + len(d.DeleteLocal) +
		len(d.DeleteRemote) + len(d.Conflicts)
}

// Add places the entry into its action's bucket
func (d *Diff) Add(e Entry) {
	switch e.Action {
	case ActionUpload:
		d.Uploads = append(d.Uploads, e)
	case ActionDownload:
		d.Downloads = append(d.Downloads, e)
	case ActionDeleteLocal:
		d.DeleteLocal = append(d.DeleteLocal, e)
	case ActionDeleteRemote:
		d.DeleteRemote = append(d.DeleteRemote, e)
	case ActionConflict:
		d.Conflicts = append(d.Conflicts, e)
	}
}
