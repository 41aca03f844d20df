// Package watcher follows stream segments appearing in and disappearing from
// the shared memory directory.
package watcher

import (
	"context"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	golog "github.com/ipfs/go-log/v2"

	"strzcam.com/framecast/segment"
)

var log = golog.Logger("framecast/watcher")

type SegmentWatcher struct {
	names   []string
	paths   map[string]bool
	watcher *fsnotify.Watcher

	changed chan struct{}

	removeOnce sync.Once
	removed    chan struct{}
	done       chan struct{}
}

// New watches the shared memory directory for the named segments.
func New(names ...string) (*SegmentWatcher, error) {
	paths := make(map[string]bool, len(names))
	for _, name := range names {
		p, err := segment.Path(name)
		if err != nil {
			return nil, err
		}
		paths[filepath.Clean(p)] = true
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(segment.Dir); err != nil {
		watcher.Close()
		return nil, err
	}

	w := &SegmentWatcher{
		names:   names,
		paths:   paths,
		watcher: watcher,
		changed: make(chan struct{}, 1),
		removed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	go w.run()
	return w, nil
}

func (w *SegmentWatcher) run() {
	defer close(w.done)
	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !w.paths[filepath.Clean(event.Name)] {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				select {
				case w.changed <- struct{}{}:
				default:
				}
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				log.Infow("segment removed", "path", event.Name)
				w.removeOnce.Do(func() { close(w.removed) })
			}

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warnw("watcher error", "err", err)
		}
	}
}

// ready reports whether every segment exists and has been sized. A producer
// creates the file before truncating it, so a bare name is not enough to
// attach.
func (w *SegmentWatcher) ready() bool {
	for _, name := range w.names {
		path, err := segment.Path(name)
		if err != nil {
			return false
		}
		st, err := os.Stat(path)
		if err != nil || st.Size() == 0 {
			return false
		}
	}
	return true
}

// WaitForSegments blocks until every watched segment exists with a non-zero
// size or ctx is done.
func (w *SegmentWatcher) WaitForSegments(ctx context.Context) error {
	log.Infow("waiting for segments", "names", w.names)
	for !w.ready() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.changed:
		}
	}
	return nil
}

// Removed is closed once any watched segment is unlinked.
func (w *SegmentWatcher) Removed() <-chan struct{} {
	return w.removed
}

func (w *SegmentWatcher) Close() error {
	err := w.watcher.Close()
	<-w.done
	return err
}
