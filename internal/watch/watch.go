// Package watch defines the boundary contract to the local filesystem
// watch primitive.
package watch

import (
	"context"
	"sync"
	"time"
)

// Event is one local change notification
type Event struct {
	Path string
	Time time.Time
}

// Watcher produces change notifications for a directory tree. The returned
// channel is closed when the context is cancelled or the watch fails.
type Watcher interface {
	Watch(ctx context.Context, root string) (<-chan Event, error)
}

// ChannelWatcher is a Watcher fed by explicit Notify calls, used by tests
// and by embedders that bring their own filesystem events
type ChannelWatcher struct {
	mu    sync.Mutex
	chans []chan Event
}

// NewChannelWatcher creates an empty ChannelWatcher
func NewChannelWatcher() *ChannelWatcher {
	return &ChannelWatcher{}
}

func (w *ChannelWatcher) Watch(ctx context.Context, root string) (<-chan Event, error) {
	ch := make(chan Event, 64)
	w.mu.Lock()
	w.chans = append(w.chans, ch)
	w.mu.Unlock()

	go func() {
		<-ctx.Done()
		w.mu.Lock()
		for i, c := range w.chans {
			if c == ch {
				w.chans = append(w.chans[:i], w.chans[i+1:]...)
				break
			}
		}
		w.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

// Notify delivers an event to every active watch
func (w *ChannelWatcher) Notify(path string) {
	event := Event{Path: path, Time: time.Now()}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, ch := range w.chans {
		select {
		case ch <- event:
		default:
		}
	}
}
