package conflict

import (
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/object0/foldersync/internal/sync/diff"
)

// Policy decides what happens to paths whose local and remote sides both
// changed since the baseline
type Policy string

const (
	PolicyNewerWins  Policy = "newer-wins"
	PolicyLocalWins  Policy = "local-wins"
	PolicyRemoteWins Policy = "remote-wins"
	PolicyKeepBoth   Policy = "keep-both"
)

// skewTolerance absorbs clock and storage timestamp granularity when
// comparing a local mtime against a remote last-modified. Timestamps closer
// than this are a tie.
const skewTolerance = 2 * time.Second

// Valid reports whether the policy is one of the known values
func (p Policy) Valid() bool {
	switch p {
	case PolicyNewerWins, PolicyLocalWins, PolicyRemoteWins, PolicyKeepBoth:
		return true
	}
	return false
}

// Resolution is the outcome of running a policy over a diff's conflict
// bucket. Actions merge back into the plan before execution; Unresolved
// entries are persisted as conflict records and skipped this pass.
type Resolution struct {
	Actions    []diff.Entry
	Unresolved []diff.Entry
}

// Resolve applies the policy to each conflict entry. The clock is only used
// by keep-both to stamp the renamed sibling copy.
func Resolve(conflicts []diff.Entry, policy Policy, now time.Time) Resolution {
	var res Resolution

	for _, entry := range conflicts {
		// Edit/delete conflicts: only one side still has content. The
		// surviving modified copy wins under every data-preserving policy;
		// only an explicit local-wins/remote-wins verdict for the deleted
		// side propagates the deletion.
		if entry.Local == nil || entry.Remote == nil {
			res.Actions = append(res.Actions, resolveEditDelete(entry, policy))
			continue
		}

		switch policy {
		case PolicyLocalWins:
			res.Actions = append(res.Actions, reclassify(entry, diff.ActionUpload))
		case PolicyRemoteWins:
			res.Actions = append(res.Actions, reclassify(entry, diff.ActionDownload))
		case PolicyNewerWins:
			action, ok := resolveNewerWins(entry)
			if ok {
				res.Actions = append(res.Actions, action)
			} else {
				res.Unresolved = append(res.Unresolved, entry)
			}
		case PolicyKeepBoth:
			res.Actions = append(res.Actions, resolveKeepBoth(entry, now)...)
			res.Unresolved = append(res.Unresolved, entry)
		default:
			res.Unresolved = append(res.Unresolved, entry)
		}
	}

	return res
}

func resolveEditDelete(entry diff.Entry, policy Policy) diff.Entry {
	if entry.Local != nil {
		// local changed, remote deleted
		if policy == PolicyRemoteWins {
			return reclassify(entry, diff.ActionDeleteLocal)
		}
		return reclassify(entry, diff.ActionUpload)
	}
	// remote changed, local deleted
	if policy == PolicyLocalWins {
		return reclassify(entry, diff.ActionDeleteRemote)
	}
	return reclassify(entry, diff.ActionDownload)
}

func resolveNewerWins(entry diff.Entry) (diff.Entry, bool) {
	localTime := entry.Local.MTime.UTC()
	remoteTime := entry.Remote.LastModified.UTC()

	delta := localTime.Sub(remoteTime)
	if delta < 0 {
		delta = -delta
	}
	if delta <= skewTolerance {
		return diff.Entry{}, false
	}
	if localTime.After(remoteTime) {
		return reclassify(entry, diff.ActionUpload), true
	}
	return reclassify(entry, diff.ActionDownload), true
}

// resolveKeepBoth keeps the local copy at the original path and pulls the
// remote version down under a conflict-stamped sibling name. The sibling is
// never given a baseline row, so the next pass treats it as a plain new
// local file.
func resolveKeepBoth(entry diff.Entry, now time.Time) []diff.Entry {
	sibling := ConflictCopyPath(entry.Path, now)
	download := diff.Entry{
		Path:         sibling,
		Action:       diff.ActionDownload,
		Reason:       "Keep-both conflict copy",
		Remote:       entry.Remote,
		SkipBaseline: true,
	}
	upload := reclassify(entry, diff.ActionUpload)
	upload.Reason = "Keep-both (local kept at original path)"
	return []diff.Entry{download, upload}
}

func reclassify(entry diff.Entry, action diff.Action) diff.Entry {
	entry.Action = action
	return entry
}

// ConflictCopyPath derives the sibling name for a keep-both remote copy,
// e.g. report.pdf -> report.conflict-1740830400.pdf
func ConflictCopyPath(p string, now time.Time) string {
	ext := path.Ext(p)
	base := strings.TrimSuffix(p, ext)
	return base + ".conflict-" + strconv.FormatInt(now.Unix(), 10) + ext
}
