package plugin

import (
	"fmt"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/pkg/errors"
)

// Factory constructs a new plugin instance for the given metadata. The
// returned value must implement Input, Processor, or Flusher according to
// the category it was registered under.
type Factory func(meta Meta) (any, error)

// ErrDuplicatePlugin is returned by Register when a (category, typeName)
// pair is already registered and the caller did not ask for an override.
var ErrDuplicatePlugin = errors.New("plugin: duplicate registration")

// ErrUnknownPlugin is returned by the Create* methods when typeName is not
// in the catalog.
var ErrUnknownPlugin = errors.New("plugin: unknown type")

type registryKey struct {
	category Category
	typeName string
}

type registryEntry struct {
	factory   Factory
	singleton bool
}

// Registry is the process-wide catalog mapping (category, type-name) to a
// constructing factory. Lookups take only a brief RWMutex read lock;
// writes only happen during registration at startup/reload.
//
// Registry also tracks which singleton-flagged Input types currently have
// a live instance, so a pipeline builder can refuse a second instantiation
// across all applied configs.
type Registry struct {
	mu      sync.RWMutex
	entries map[registryKey]registryEntry

	singletonMu sync.Mutex
	singletonUp map[string]bool // typeName -> instantiated

	logger log.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger log.Logger) *Registry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Registry{
		entries:     make(map[registryKey]registryEntry),
		singletonUp: make(map[string]bool),
		logger:      logger,
	}
}

// Register adds typeName to the catalog under category. A second
// registration of the same key fails with ErrDuplicatePlugin unless
// allowOverride is true, in which case the factory is replaced.
func (r *Registry) Register(category Category, typeName string, factory Factory, singleton, allowOverride bool) error {
	if typeName == "" {
		return errors.New("plugin: empty type name")
	}
	if factory == nil {
		return errors.New("plugin: nil factory")
	}

	key := registryKey{category: category, typeName: typeName}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[key]; exists && !allowOverride {
		return errors.Wrapf(ErrDuplicatePlugin, "%s/%s", category, typeName)
	}

	r.entries[key] = registryEntry{factory: factory, singleton: singleton}

	return nil
}

// BuiltinRegistration is one static plugin the registry discovers on Load.
type BuiltinRegistration struct {
	Category  Category
	TypeName  string
	Factory   Factory
	Singleton bool
}

// OptionalLoader discovers additional plugins beyond the built-in set,
// e.g. from a dynamically loaded native module. A real host binary can
// wire this to plugin.Open on Linux; it is optional precisely because
// that mechanism is platform-specific and frequently unavailable (static
// binaries, non-Linux hosts).
type OptionalLoader func(r *Registry) []error

// Load registers every builtin, then invokes optional (if non-nil) to
// discover additional plugins. Failure of an individual optional plugin is
// non-fatal: it is logged as a warning and simply omitted from the
// catalog. Load returns every error encountered for builtins (which are
// fatal to the caller) but optional-loader errors are only logged, per
// §4.1's "failure to load any optional plugin is non-fatal".
func (r *Registry) Load(builtins []BuiltinRegistration, optional OptionalLoader) []error {
	var errs []error
	for _, b := range builtins {
		if err := r.Register(b.Category, b.TypeName, b.Factory, b.Singleton, false); err != nil {
			errs = append(errs, err)
		}
	}

	if optional != nil {
		for _, err := range optional(r) {
			level.Warn(r.logger).Log("msg", "optional plugin failed to load", "err", err)
		}
	}

	return errs
}

func (r *Registry) create(category Category, typeName string, meta Meta) (any, error) {
	r.mu.RLock()
	entry, ok := r.entries[registryKey{category: category, typeName: typeName}]
	r.mu.RUnlock()

	if !ok {
		return nil, errors.Wrapf(ErrUnknownPlugin, "%s/%s", category, typeName)
	}

	if entry.singleton {
		r.singletonMu.Lock()
		if r.singletonUp[typeName] {
			r.singletonMu.Unlock()
			return nil, fmt.Errorf("plugin: singleton %q already instantiated", typeName)
		}
		r.singletonUp[typeName] = true
		r.singletonMu.Unlock()
	}

	instance, err := entry.factory(meta)
	if err != nil {
		if entry.singleton {
			r.singletonMu.Lock()
			delete(r.singletonUp, typeName)
			r.singletonMu.Unlock()
		}
		return nil, err
	}

	return instance, nil
}

// ReleaseSingleton marks a singleton Input type as no longer instantiated,
// allowing a future pipeline to create it again. Called when the owning
// pipeline stops.
func (r *Registry) ReleaseSingleton(typeName string) {
	r.singletonMu.Lock()
	delete(r.singletonUp, typeName)
	r.singletonMu.Unlock()
}

// CreateInput constructs a new Input plugin instance of typeName.
func (r *Registry) CreateInput(typeName string, meta Meta) (Input, error) {
	meta.Category = CategoryInput
	v, err := r.create(CategoryInput, typeName, meta)
	if err != nil {
		return nil, err
	}
	in, ok := v.(Input)
	if !ok {
		return nil, fmt.Errorf("plugin: %q factory did not return an Input", typeName)
	}
	return in, nil
}

// CreateProcessor constructs a new Processor plugin instance of typeName.
func (r *Registry) CreateProcessor(typeName string, meta Meta) (Processor, error) {
	meta.Category = CategoryProcessor
	v, err := r.create(CategoryProcessor, typeName, meta)
	if err != nil {
		return nil, err
	}
	p, ok := v.(Processor)
	if !ok {
		return nil, fmt.Errorf("plugin: %q factory did not return a Processor", typeName)
	}
	return p, nil
}

// CreateFlusher constructs a new Flusher plugin instance of typeName.
func (r *Registry) CreateFlusher(typeName string, meta Meta) (Flusher, error) {
	meta.Category = CategoryFlusher
	v, err := r.create(CategoryFlusher, typeName, meta)
	if err != nil {
		return nil, err
	}
	f, ok := v.(Flusher)
	if !ok {
		return nil, fmt.Errorf("plugin: %q factory did not return a Flusher", typeName)
	}
	return f, nil
}

// IsValidInput reports whether typeName is registered under CategoryInput.
func (r *Registry) IsValidInput(typeName string) bool {
	return r.isValid(CategoryInput, typeName)
}

// IsValidProcessor reports whether typeName is registered under CategoryProcessor.
func (r *Registry) IsValidProcessor(typeName string) bool {
	return r.isValid(CategoryProcessor, typeName)
}

// IsValidFlusher reports whether typeName is registered under CategoryFlusher.
func (r *Registry) IsValidFlusher(typeName string) bool {
	return r.isValid(CategoryFlusher, typeName)
}

func (r *Registry) isValid(category Category, typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[registryKey{category: category, typeName: typeName}]
	return ok
}

// IsGlobalSingletonInput reports whether typeName was registered as a
// singleton Input.
func (r *Registry) IsGlobalSingletonInput(typeName string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entry, ok := r.entries[registryKey{category: CategoryInput, typeName: typeName}]
	return ok && entry.singleton
}

// Unload clears the entire catalog. Used by tests and by a full process
// shutdown; no factory survives after Unload.
func (r *Registry) Unload() {
	r.mu.Lock()
	r.entries = make(map[registryKey]registryEntry)
	r.mu.Unlock()

	r.singletonMu.Lock()
	r.singletonUp = make(map[string]bool)
	r.singletonMu.Unlock()
}

// Len returns the number of registered (category, typeName) entries.
// Intended for tests.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
