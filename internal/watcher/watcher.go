// Package watcher turns file system events under a source root into
// source.Change events, debounced per file.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/log"
	"github.com/zjrosen/defreg/internal/pubsub"
	"github.com/zjrosen/defreg/internal/source"
)

// Watcher monitors a bundle tree laid out as root/<namespace>/<bundle>/<file>.
type Watcher struct {
	fsWatcher *fsnotify.Watcher
	root      string
	debounce  time.Duration
	origin    string
	broker    *pubsub.Broker[source.Change]
	done      chan struct{}
	stopped   chan struct{}
	stopOnce  sync.Once
	started   bool

	mu   sync.Mutex
	dirs map[string]struct{}
}

// Config holds watcher configuration options.
type Config struct {
	Root        string
	DebounceDur time.Duration
	// Origin labels emitted changes. Empty uses "file:"+Root.
	Origin string
}

// DefaultConfig returns defaults for watching root.
func DefaultConfig(root string) Config {
	return Config{
		Root:        root,
		DebounceDur: 200 * time.Millisecond,
	}
}

// New creates a watcher. Nothing is watched until Start.
func New(cfg Config) (*Watcher, error) {
	if cfg.Root == "" {
		return nil, errors.New("watcher root is required")
	}
	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return nil, fmt.Errorf("resolving watcher root: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating fsnotify watcher: %w", err)
	}
	origin := cfg.Origin
	if origin == "" {
		origin = "file:" + cfg.Root
	}

	return &Watcher{
		fsWatcher: fsw,
		root:      root,
		debounce:  cfg.DebounceDur,
		origin:    origin,
		broker:    pubsub.NewBroker[source.Change](),
		done:      make(chan struct{}),
		stopped:   make(chan struct{}),
		dirs:      make(map[string]struct{}),
	}, nil
}

// Changes subscribes to debounced changes until ctx is cancelled or the
// watcher stops.
func (w *Watcher) Changes(ctx context.Context) <-chan pubsub.Event[source.Change] {
	return w.broker.Subscribe(ctx)
}

// Start watches root and every directory below it.
func (w *Watcher) Start() error {
	if err := w.addTree(w.root); err != nil {
		return err
	}
	w.started = true
	go w.loop()
	log.Info(log.CatWatcher, "Watching sources", "root", w.root, "dirs", w.watchedCount())
	return nil
}

// Stop terminates the watcher and closes every subscription.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		err = w.fsWatcher.Close()
		if w.started {
			<-w.stopped
		}
		w.broker.Close()
	})
	return err
}

func (w *Watcher) watchedCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.dirs)
}

// addTree watches dir and its subdirectories. Hidden directories are skipped.
func (w *Watcher) addTree(dir string) error {
	return filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil {
			if p != dir && errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !entry.IsDir() {
			return nil
		}
		if p != dir && strings.HasPrefix(entry.Name(), ".") {
			return filepath.SkipDir
		}
		if err := w.fsWatcher.Add(p); err != nil {
			return fmt.Errorf("watching directory %s: %w", p, err)
		}
		w.mu.Lock()
		w.dirs[p] = struct{}{}
		w.mu.Unlock()
		return nil
	})
}

func (w *Watcher) forgetTree(dir string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	found := false
	for p := range w.dirs {
		if p == dir || strings.HasPrefix(p, dir+string(filepath.Separator)) {
			delete(w.dirs, p)
			found = true
		}
	}
	return found
}

// descriptorFor maps an absolute path to its descriptor, or nil when the path
// is not a bundle file directly under root/<namespace>/<bundle>.
func (w *Watcher) descriptorFor(p string) *descriptor.Descriptor {
	rel, err := filepath.Rel(w.root, p)
	if err != nil || strings.HasPrefix(rel, "..") {
		return nil
	}
	if len(strings.Split(filepath.ToSlash(rel), "/")) != 3 {
		return nil
	}
	return source.DescriptorForPath(rel)
}

// batch accumulates the net change per descriptor between flushes.
type batch struct {
	changes map[string]source.Change
	reset   bool
}

func newBatch() *batch {
	return &batch{changes: make(map[string]source.Change)}
}

func (b *batch) empty() bool { return !b.reset && len(b.changes) == 0 }

func (b *batch) add(d descriptor.Descriptor, kind source.ChangeKind, origin string) {
	key := d.Key()
	prev, ok := b.changes[key]
	if !ok {
		b.changes[key] = source.Change{Descriptor: &d, Kind: kind, Origin: origin}
		return
	}
	switch {
	case prev.Kind == source.Created && kind == source.Deleted:
		delete(b.changes, key)
		return
	case prev.Kind == source.Created:
		kind = source.Created
	case prev.Kind == source.Deleted && kind != source.Deleted:
		kind = source.Changed
	}
	b.changes[key] = source.Change{Descriptor: &d, Kind: kind, Origin: origin}
}

func (w *Watcher) loop() {
	defer close(w.stopped)

	var (
		timer   *time.Timer
		timerC  <-chan time.Time
		pending = newBatch()
	)
	arm := func() {
		if timer == nil {
			timer = time.NewTimer(w.debounce)
		} else {
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(w.debounce)
		}
		timerC = timer.C
	}

	for {
		select {
		case event, ok := <-w.fsWatcher.Events:
			if !ok {
				return
			}
			if w.handle(event, pending) {
				arm()
			}

		case <-timerC:
			timerC = nil
			w.flush(pending)
			pending = newBatch()

		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return
			}
			if errors.Is(err, fsnotify.ErrEventOverflow) {
				pending.reset = true
				arm()
			}
			log.ErrorErr(log.CatWatcher, "Watch error", err, "root", w.root)

		case <-w.done:
			if timer != nil {
				timer.Stop()
			}
			return
		}
	}
}

// handle folds one fs event into b and reports whether anything changed.
func (w *Watcher) handle(event fsnotify.Event, b *batch) bool {
	switch {
	case event.Op.Has(fsnotify.Create):
		info, err := os.Stat(event.Name)
		if err == nil && info.IsDir() {
			return w.createdDir(event.Name, b)
		}
		if d := w.descriptorFor(event.Name); d != nil {
			b.add(*d, source.Created, w.origin)
			return true
		}

	case event.Op.Has(fsnotify.Write):
		if d := w.descriptorFor(event.Name); d != nil {
			b.add(*d, source.Changed, w.origin)
			return true
		}

	case event.Op.Has(fsnotify.Remove), event.Op.Has(fsnotify.Rename):
		if d := w.descriptorFor(event.Name); d != nil {
			b.add(*d, source.Deleted, w.origin)
			return true
		}
		if w.forgetTree(event.Name) {
			// The files that lived below are unknown now.
			b.reset = true
			return true
		}
	}
	return false
}

// createdDir watches a new directory and reports the files it already holds,
// since they may have been written before the watch was added.
func (w *Watcher) createdDir(dir string, b *batch) bool {
	if err := w.addTree(dir); err != nil {
		log.ErrorErr(log.CatWatcher, "Failed to watch new directory", err, "dir", dir)
		b.reset = true
		return true
	}
	found := false
	_ = filepath.WalkDir(dir, func(p string, entry fs.DirEntry, err error) error {
		if err != nil || entry.IsDir() {
			return nil
		}
		if d := w.descriptorFor(p); d != nil {
			b.add(*d, source.Created, w.origin)
			found = true
		}
		return nil
	})
	return found
}

func (w *Watcher) flush(b *batch) {
	if b.empty() {
		return
	}
	if b.reset {
		log.Debug(log.CatWatcher, "Unattributed change", "root", w.root)
		w.broker.Publish(pubsub.ResetEvent, source.Change{Kind: source.Changed, Origin: w.origin})
		return
	}

	keys := make([]string, 0, len(b.changes))
	for k := range b.changes {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		c := b.changes[k]
		log.Debug(log.CatWatcher, "Source changed", "descriptor", c.Descriptor.String(), "kind", c.Kind.String())
		w.broker.Publish(eventType(c.Kind), c)
	}
}

func eventType(kind source.ChangeKind) pubsub.EventType {
	switch kind {
	case source.Created:
		return pubsub.CreatedEvent
	case source.Deleted:
		return pubsub.DeletedEvent
	default:
		return pubsub.UpdatedEvent
	}
}
