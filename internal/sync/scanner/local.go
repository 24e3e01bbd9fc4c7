package scanner

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/object0/foldersync/internal/sync/exclude"
)

// ErrUnsafePath is returned for relative paths that escape the rule root
var ErrUnsafePath = errors.New("unsafe relative path")

// ScanLocal walks the rule's local directory and returns the snapshot of
// regular files keyed by slash-separated relative path. A missing root is an
// empty snapshot, not an error: a fresh rule may point at a directory the
// first download pass will create.
func ScanLocal(ctx context.Context, root string, matcher *exclude.Matcher) (map[string]LocalEntry, error) {
	entries := make(map[string]LocalEntry)

	if _, err := os.Stat(root); os.IsNotExist(err) {
		return entries, nil
	}

	err := filepath.WalkDir(root, func(current string, d fs.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if d.Type()&os.ModeSymlink != 0 {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(root, current)
		if err != nil {
			return err
		}
		if rel == "." {
			return nil
		}
		rel = path.Clean(filepath.ToSlash(rel))

		if matcher != nil && matcher.IsExcluded(rel) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return err
		}
		if !info.Mode().IsRegular() {
			return nil
		}

		entries[rel] = LocalEntry{
			RelativePath: rel,
			AbsPath:      current,
			Size:         info.Size(),
			MTime:        info.ModTime(),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return entries, nil
}

// SafeRelativePath validates that a relative path stays under the rule root
// and returns its filesystem form
func SafeRelativePath(rel string) (string, error) {
	if rel == "" || path.IsAbs(rel) || filepath.IsAbs(rel) {
		return "", ErrUnsafePath
	}
	cleaned := path.Clean(rel)
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", ErrUnsafePath
	}
	return filepath.FromSlash(cleaned), nil
}
