package authstore

import (
	"context"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// Watch observes the auth directory and invokes onChange whenever a
// credential file is created, rewritten, renamed or removed. Events are
// debounced so an atomic temp-write-rename sequence fires once.
func (s *Store) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()

		var debounce *time.Timer
		fire := func() {
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(200*time.Millisecond, onChange)
		}

		for {
			select {
			case <-ctx.Done():
				if debounce != nil {
					debounce.Stop()
				}
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !strings.HasSuffix(event.Name, ".json") {
					continue
				}
				if event.Has(fsnotify.Create) || event.Has(fsnotify.Write) ||
					event.Has(fsnotify.Rename) || event.Has(fsnotify.Remove) {
					fire()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.WithField("path", s.dir).Debugf("auth watcher error: %v", err)
			}
		}
	}()
	return nil
}
