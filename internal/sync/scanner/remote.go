package scanner

import (
	"context"
	"fmt"
	"strings"

	"github.com/object0/foldersync/internal/remote"
	"github.com/object0/foldersync/internal/sync/exclude"
)

// NormalizePrefix ensures a non-empty prefix ends with a slash
func NormalizePrefix(prefix string) string {
	if prefix == "" {
		return ""
	}
	if strings.HasSuffix(prefix, "/") {
		return prefix
	}
	return prefix + "/"
}

// JoinKey maps a relative path to its full object key under the rule prefix
func JoinKey(prefix, rel string) string {
	return NormalizePrefix(prefix) + rel
}

// ScanRemote lists the objects under the rule's prefix and returns the
// snapshot keyed by relative path. Directory marker keys (trailing slash)
// are skipped.
func ScanRemote(ctx context.Context, store remote.Store, bucket, prefix string, matcher *exclude.Matcher) (map[string]RemoteEntry, error) {
	normalized := NormalizePrefix(prefix)
	objects, err := store.List(ctx, bucket, normalized)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, normalized, err)
	}

	entries := make(map[string]RemoteEntry)
	for _, obj := range objects {
		rel := strings.TrimPrefix(obj.Key, normalized)
		if rel == "" || strings.HasSuffix(rel, "/") {
			continue
		}
		if matcher != nil && matcher.IsExcluded(rel) {
			continue
		}
		entries[rel] = RemoteEntry{
			RelativePath: rel,
			Key:          obj.Key,
			Size:         obj.Size,
			ETag:         strings.Trim(obj.ETag, `"`),
			LastModified: obj.LastModified,
		}
	}
	return entries, nil
}
