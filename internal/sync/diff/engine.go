package diff

import (
	"sort"

	"github.com/object0/foldersync/internal/store"
	"github.com/object0/foldersync/internal/sync/scanner"
)

// Compute builds the reconciliation plan for one rule from the three inputs:
// the persisted baseline, the local snapshot and the remote snapshot. Change
// is always judged against the baseline, never by comparing local and remote
// directly; that is what separates "one side changed" from "both changed
// independently".
//
// Direction restricts which action classes are legal. An action the
// direction forbids is downgraded: pulls are skipped under local-to-remote,
// pushes under remote-to-local, and deletions that would erase the
// authoritative side's copy turn into a re-transfer instead.
func Compute(baseline map[string]store.FileRecord, local map[string]scanner.LocalEntry, remote map[string]scanner.RemoteEntry, direction store.Direction) *Diff {
	d := &Diff{}

	for _, path := range unionPaths(baseline, local, remote) {
		localEntry, hasLocal := local[path]
		remoteEntry, hasRemote := remote[path]
		base, hasBase := baseline[path]

		var entry Entry
		entry.Path = path
		if hasLocal {
			le := localEntry
			entry.Local = &le
		}
		if hasRemote {
			re := remoteEntry
			entry.Remote = &re
		}
		if hasBase {
			b := base
			entry.Base = &b
		}

		switch {
		case !hasBase && hasLocal && !hasRemote:
			entry.Action = ActionUpload
			entry.Reason = "New local file"

		case !hasBase && !hasLocal && hasRemote:
			entry.Action = ActionDownload
			entry.Reason = "New remote object"

		case !hasBase && hasLocal && hasRemote:
			// No shared history. Same size is taken as the same content;
			// the first successful pass records a baseline for it.
			if localEntry.Size == remoteEntry.Size {
				d.Unchanged++
				continue
			}
			entry.Action = ActionConflict
			entry.Reason = "Both sides present with different content"

		case hasBase && !hasLocal && !hasRemote:
			d.StaleBaseline = append(d.StaleBaseline, path)
			continue

		case hasBase && hasLocal && !hasRemote:
			if localChanged(base, localEntry) {
				entry.Action = ActionConflict
				entry.Reason = "Local file changed, remote object deleted"
			} else {
				entry.Action = ActionDeleteLocal
				entry.Reason = "Remote object deleted"
			}

		case hasBase && !hasLocal && hasRemote:
			if remoteChanged(base, remoteEntry) {
				entry.Action = ActionConflict
				entry.Reason = "Remote object changed, local file deleted"
			} else {
				entry.Action = ActionDeleteRemote
				entry.Reason = "Local file deleted"
			}

		default: // baseline and both sides present
			lc := localChanged(base, localEntry)
			rc := remoteChanged(base, remoteEntry)
			switch {
			case lc && rc:
				entry.Action = ActionConflict
				entry.Reason = "Both sides changed"
			case lc:
				entry.Action = ActionUpload
				entry.Reason = "Local file changed"
			case rc:
				entry.Action = ActionDownload
				entry.Reason = "Remote object changed"
			default:
				d.Unchanged++
				continue
			}
		}

		entry = applyDirection(entry, direction)
		if entry.Action == actionNone {
			d.Unchanged++
			continue
		}
		d.Add(entry)
	}

	return d
}

// applyDirection downgrades actions the rule direction forbids. One-way
// rules treat their source side as authoritative: a conflict collapses into
// the direction's own transfer, and a deletion on the passive side is undone
// by re-transferring the surviving copy.
func applyDirection(e Entry, direction store.Direction) Entry {
	switch direction {
	case store.DirectionLocalToRemote:
		switch e.Action {
		case ActionDownload:
			e.Action = actionNone
		case ActionDeleteLocal:
			e.Action = ActionUpload
			e.Reason = "Re-upload (remote deleted)"
		case ActionConflict:
			if e.Local != nil {
				e.Action = ActionUpload
			} else {
				e.Action = ActionDeleteRemote
			}
		}
	case store.DirectionRemoteToLocal:
		switch e.Action {
		case ActionUpload:
			e.Action = actionNone
		case ActionDeleteRemote:
			e.Action = ActionDownload
			e.Reason = "Re-download (local deleted)"
		case ActionConflict:
			if e.Remote != nil {
				e.Action = ActionDownload
			} else {
				e.Action = ActionDeleteLocal
			}
		}
	}
	return e
}

func localChanged(base store.FileRecord, entry scanner.LocalEntry) bool {
	return entry.Size != base.LocalSize || entry.MTime.UnixMilli() != base.LocalMTime
}

func remoteChanged(base store.FileRecord, entry scanner.RemoteEntry) bool {
	if entry.ETag != "" && base.RemoteETag != "" {
		return entry.ETag != base.RemoteETag
	}
	return entry.Size != base.RemoteSize || entry.LastModified.UnixMilli() != base.RemoteLastModified
}

func unionPaths(baseline map[string]store.FileRecord, local map[string]scanner.LocalEntry, remote map[string]scanner.RemoteEntry) []string {
	seen := make(map[string]struct{}, len(local)+len(remote))
	for path := range local {
		seen[path] = struct{}{}
	}
	for path := range remote {
		seen[path] = struct{}{}
	}
	for path := range baseline {
		seen[path] = struct{}{}
	}

	paths := make([]string, 0, len(seen))
	for path := range seen {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}
