package cli

import (
	"fmt"

	"github.com/object0/foldersync/internal/jobs"
	"github.com/object0/foldersync/internal/keychain"
	"github.com/object0/foldersync/internal/remote"
	"github.com/object0/foldersync/internal/store"
	foldersync "github.com/object0/foldersync/internal/sync"
	"github.com/object0/foldersync/internal/watch"
)

// app bundles the wired collaborators a command needs
type app struct {
	db      *store.DB
	engine  *foldersync.Engine
	queue   *jobs.LocalQueue
	watcher *watch.ChannelWatcher
}

// sharedMemory backs the "memory" provider so every rule in one process sees
// the same objects
var sharedMemory = remote.NewMemoryStore()

// remoteFactory builds remote clients per profile. Credentials come from the
// OS keychain, never from the database.
func remoteFactory(creds *keychain.Store) foldersync.RemoteFactory {
	return func(profile store.Profile) (remote.Store, error) {
		switch profile.Provider {
		case "", "memory":
			return sharedMemory, nil
		default:
			if _, err := creds.Load(profile.ID); err != nil {
				return nil, fmt.Errorf("credentials for profile %s: %w", profile.Name, err)
			}
			return nil, fmt.Errorf("unsupported remote provider %q", profile.Provider)
		}
	}
}

// openApp opens the state database and wires the engine
func openApp() (*app, error) {
	db, err := store.Open(cfg.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open state database: %w", err)
	}

	queue := jobs.NewLocalQueue(sharedMemory, cfg.ConcurrentTransfers, logger)
	watcher := watch.NewChannelWatcher()

	engine, err := foldersync.NewEngine(foldersync.Options{
		DB:       db,
		Queue:    queue,
		Watcher:  watcher,
		Remote:   remoteFactory(keychain.New()),
		Log:      logger,
		Debounce: cfg.Debounce(),
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &app{db: db, engine: engine, queue: queue, watcher: watcher}, nil
}

func (a *app) close() {
	_ = a.queue.Close()
	_ = a.db.Close()
}
