package remote

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-memory Store used by tests and local development
type MemoryStore struct {
	mu      sync.RWMutex
	buckets map[string]map[string]memoryObject

	// FailPut, when set, makes Put fail for matching keys
	FailPut func(bucket, key string) error
	// FailList, when set, makes List fail
	FailList func(bucket, prefix string) error

	clock func() time.Time
}

type memoryObject struct {
	data         []byte
	etag         string
	lastModified time.Time
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		buckets: make(map[string]map[string]memoryObject),
		clock:   time.Now,
	}
}

// SetClock overrides the timestamp source, for tests
func (s *MemoryStore) SetClock(clock func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clock = clock
}

func (s *MemoryStore) List(ctx context.Context, bucket, prefix string) ([]ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.FailList != nil {
		if err := s.FailList(bucket, prefix); err != nil {
			return nil, err
		}
	}

	var infos []ObjectInfo
	for key, obj := range s.buckets[bucket] {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		infos = append(infos, ObjectInfo{
			Key:          key,
			Size:         int64(len(obj.data)),
			ETag:         obj.etag,
			LastModified: obj.lastModified,
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos, nil
}

func (s *MemoryStore) Get(ctx context.Context, bucket, key string, w io.Writer) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s.mu.RLock()
	obj, ok := s.buckets[bucket][key]
	s.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("get %s/%s: %w", bucket, key, ErrNotFound)
	}
	n, err := io.Copy(w, bytes.NewReader(obj.data))
	return n, err
}

func (s *MemoryStore) Put(ctx context.Context, bucket, key string, r io.Reader) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	if s.FailPut != nil {
		if err := s.FailPut(bucket, key); err != nil {
			return ObjectInfo{}, err
		}
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return ObjectInfo{}, err
	}

	sum := md5.Sum(data)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.buckets[bucket] == nil {
		s.buckets[bucket] = make(map[string]memoryObject)
	}
	obj := memoryObject{
		data:         data,
		etag:         hex.EncodeToString(sum[:]),
		lastModified: s.clock(),
	}
	s.buckets[bucket][key] = obj

	return ObjectInfo{
		Key:          key,
		Size:         int64(len(data)),
		ETag:         obj.etag,
		LastModified: obj.lastModified,
	}, nil
}

func (s *MemoryStore) Head(ctx context.Context, bucket, key string) (ObjectInfo, error) {
	if err := ctx.Err(); err != nil {
		return ObjectInfo{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.buckets[bucket][key]
	if !ok {
		return ObjectInfo{}, fmt.Errorf("head %s/%s: %w", bucket, key, ErrNotFound)
	}
	return ObjectInfo{
		Key:          key,
		Size:         int64(len(obj.data)),
		ETag:         obj.etag,
		LastModified: obj.lastModified,
	}, nil
}

func (s *MemoryStore) Delete(ctx context.Context, bucket, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.buckets[bucket], key)
	return nil
}

// PutString is a test convenience that stores content at key
func (s *MemoryStore) PutString(bucket, key, content string) ObjectInfo {
	info, _ := s.Put(context.Background(), bucket, key, strings.NewReader(content))
	return info
}
