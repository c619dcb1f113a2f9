// Package app wires configuration, sources and the registry into one
// process-wide service for the CLI.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/zjrosen/defreg/internal/config"
	"github.com/zjrosen/defreg/internal/descriptor"
	"github.com/zjrosen/defreg/internal/flags"
	"github.com/zjrosen/defreg/internal/infrastructure/sqlite"
	"github.com/zjrosen/defreg/internal/log"
	"github.com/zjrosen/defreg/internal/metrics"
	"github.com/zjrosen/defreg/internal/policy"
	"github.com/zjrosen/defreg/internal/pubsub"
	"github.com/zjrosen/defreg/internal/registry"
	"github.com/zjrosen/defreg/internal/source"
	"github.com/zjrosen/defreg/internal/tracing"
	"github.com/zjrosen/defreg/internal/watcher"
	"github.com/zjrosen/defreg/internal/yamldef"
)

// App owns the registry and every resource feeding it.
type App struct {
	cfg      config.Config
	prefixes descriptor.PrefixMap

	Registry *registry.Registry
	Metrics  *metrics.Metrics
	Files    []*source.FileLoader
	DB       *sqlite.DB
	Store    *sqlite.SourceStore

	tracing *tracing.Provider

	mu       sync.Mutex
	watchers []*watcher.Watcher
	cancel   context.CancelFunc
	follows  sync.WaitGroup
}

// New builds the registry described by cfg. Sub-registries are consulted in
// order: builtins, each source root, then the SQLite store.
func New(cfg config.Config) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	prefixes, err := cfg.DefaultPrefixes()
	if err != nil {
		return nil, err
	}
	stalePolicy, err := registry.ParseStaleUIDPolicy(cfg.UID.StalePolicy)
	if err != nil {
		return nil, err
	}

	a := &App{
		cfg:      cfg,
		prefixes: prefixes,
		Metrics:  metrics.New(prometheus.NewRegistry()),
	}

	a.tracing, err = tracing.NewProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("creating tracer: %w", err)
	}

	compiler := yamldef.New(prefixes)
	subs := []registry.SubRegistry{yamldef.Builtins()}
	for _, root := range cfg.Sources.Roots {
		loader, err := source.NewFileLoader(root)
		if err != nil {
			_ = a.Close()
			return nil, err
		}
		a.Files = append(a.Files, loader)
		subs = append(subs, source.NewRegistry(loader, compiler))
	}

	if cfg.Sources.DBPath != "" {
		a.DB, err = sqlite.NewDB(cfg.Sources.DBPath)
		if err != nil {
			_ = a.Close()
			return nil, fmt.Errorf("opening source store: %w", err)
		}
		a.Store = a.DB.Sources("default")
		subs = append(subs, source.NewRegistry(a.Store, compiler))
	}

	privileged := policy.NewNamespaceList(cfg.Namespaces.Privileged...)
	a.Registry = registry.New(registry.Options{
		SubRegistries: subs,
		Privileged:    privileged,
		Evaluator: policy.DefaultEvaluator{
			Privileged:        privileged,
			UnsecuredPrefixes: cfg.Namespaces.UnsecuredPrefixes,
		},
		AlwaysCacheablePrefixes: cfg.Namespaces.UnsecuredPrefixes,
		StaleUIDPolicy:          stalePolicy,
		DefinitionsTTL:          cfg.Cache.DefinitionsTTL,
		StringsTTL:              cfg.Cache.StringsTTL,
		CleanupInterval:         cfg.Cache.CleanupInterval,
		Flags:                   flags.New(cfg.Flags),
		Metrics:                 a.Metrics,
		Tracer:                  a.tracing.Tracer(),
	})
	return a, nil
}

// Config returns the configuration the app was built from.
func (a *App) Config() config.Config { return a.cfg }

// NewContext starts a request carrying the configured default prefixes.
func (a *App) NewContext(opts ...registry.ContextOption) *registry.Context {
	return registry.NewContext(append([]registry.ContextOption{registry.WithPrefixes(a.prefixes)}, opts...)...)
}

// Parse reads a raw descriptor with the configured default prefixes.
func (a *App) Parse(raw string, t descriptor.DefType) (descriptor.Descriptor, error) {
	return descriptor.Parse(raw, t, a.prefixes)
}

// Watch starts a watcher per source root and applies its changes, and those
// written through the store, to the registry until ctx ends or Close.
func (a *App) Watch(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.cancel != nil {
		return errors.New("already watching")
	}
	ctx, cancel := context.WithCancel(ctx)

	for _, loader := range a.Files {
		cfg := watcher.DefaultConfig(loader.Root())
		cfg.Origin = loader.Name()
		if a.cfg.Watch.Debounce > 0 {
			cfg.DebounceDur = a.cfg.Watch.Debounce
		}
		w, err := watcher.New(cfg)
		if err != nil {
			cancel()
			_ = a.stopWatchersLocked()
			return err
		}
		changes := w.Changes(ctx)
		if err := w.Start(); err != nil {
			_ = w.Stop()
			cancel()
			_ = a.stopWatchersLocked()
			return err
		}
		a.watchers = append(a.watchers, w)
		a.follow(ctx, changes)
	}
	if a.Store != nil {
		a.follow(ctx, a.Store.Changes(ctx))
	}

	a.cancel = cancel
	log.Info(log.CatWatcher, "Following source changes", "roots", len(a.Files), "store", a.Store != nil)
	return nil
}

func (a *App) follow(ctx context.Context, changes <-chan pubsub.Event[source.Change]) {
	a.follows.Add(1)
	go func() {
		defer a.follows.Done()
		a.Registry.Follow(ctx, changes)
	}()
}

func (a *App) stopWatchersLocked() error {
	var errs []error
	for _, w := range a.watchers {
		errs = append(errs, w.Stop())
	}
	a.watchers = nil
	return errors.Join(errs...)
}

// Import copies every source matching f from the source roots into the
// store and returns how many were written.
func (a *App) Import(ctx context.Context, f descriptor.Filter) (int, error) {
	if a.Store == nil {
		return 0, errors.New("no source store configured (set sources.db_path)")
	}
	total := 0
	for _, loader := range a.Files {
		n, err := a.Store.Import(ctx, loader, f)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Close stops watching and releases every resource.
func (a *App) Close() error {
	a.mu.Lock()
	if a.cancel != nil {
		a.cancel()
		a.cancel = nil
	}
	errs := []error{a.stopWatchersLocked()}
	a.mu.Unlock()
	a.follows.Wait()

	if a.Registry != nil {
		a.Registry.Close()
	}
	if a.Store != nil {
		a.Store.Close()
	}
	if a.DB != nil {
		errs = append(errs, a.DB.Close())
	}
	if a.tracing != nil {
		errs = append(errs, a.tracing.Shutdown(context.Background()))
	}
	return errors.Join(errs...)
}
