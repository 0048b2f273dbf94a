package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watcher watches a config file for writes and re-parses it, reporting
// only the InitialPeers entries newly added since the last successful
// parse. Mirrors pkg/credswatcher.FsCredsWatcher's directory-watch idiom:
// editors typically replace a file rather than edit it in place, so the
// watch targets the containing directory and filters by name.
type Watcher struct {
	path    string
	current *DomainParticipantConfig

	// OnPeersAdded is called with any "host:port" entries present in the
	// reloaded file that weren't in the previous version.
	OnPeersAdded func(added []string)
	// OnError is called when a reload fails to parse; the previous
	// config remains in effect.
	OnError func(err error)
}

// NewWatcher builds a Watcher seeded with an already-loaded config.
func NewWatcher(path string, initial *DomainParticipantConfig) *Watcher {
	return &Watcher{path: path, current: initial}
}

// Start watches the config file's directory until ctx is cancelled.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fsw.Close()

	dir := filepath.Dir(w.path)
	if err := fsw.Add(dir); err != nil {
		return err
	}

	for {
		select {
		case event := <-fsw.Events:
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.reload()
		case err := <-fsw.Errors:
			log.Warnf("config: watch error on %s: %s", dir, err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (w *Watcher) reload() {
	next, err := Load(w.path)
	if err != nil {
		log.Warnf("config: reload of %s failed, keeping previous config: %s", w.path, err)
		if w.OnError != nil {
			w.OnError(err)
		}
		return
	}
	added := diffAdded(w.current.InitialPeers, next.InitialPeers)
	w.current = next
	if len(added) > 0 && w.OnPeersAdded != nil {
		log.WithFields(log.Fields{"added": added}).Info("config: new initial peers")
		w.OnPeersAdded(added)
	}
}
