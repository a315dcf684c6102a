package docmodel

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"
)

// Registry attaches exactly one Manager to every registered entity type and
// hands the same instance to every caller. Register types during startup,
// then Seal the registry.
//
// Example:
//
//	registry := docmodel.NewRegistry(conn, docmodel.WithLogger(logger))
//	users := docmodel.MustRegister[User](registry)
//	registry.Seal()
//
//	// elsewhere
//	users, err := docmodel.Objects[User](registry)
type Registry struct {
	resolver Resolver
	logger   Logger
	metrics  Metrics
	claims   *ClaimManager
	ids      IDAdapter
	now      func() time.Time

	mu      sync.RWMutex
	entries map[reflect.Type]*registration
	sealed  bool
}

type registration struct {
	typ     *EntityType
	manager any
	indexes func(ctx context.Context) error
}

// Option is a functional option for configuring a Registry.
type Option func(*Registry)

// WithLogger sets the logger shared by all managers.
func WithLogger(logger Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector shared by all managers.
func WithMetrics(metrics Metrics) Option {
	return func(r *Registry) {
		if metrics != nil {
			r.metrics = metrics
		}
	}
}

// WithClaims enables atomic uniqueness claims through Redis.
func WithClaims(claims *ClaimManager) Option {
	return func(r *Registry) {
		r.claims = claims
	}
}

// WithIDAdapter sets the default identifier adapter (ObjectIDAdapter if unset).
func WithIDAdapter(ids IDAdapter) Option {
	return func(r *Registry) {
		if ids != nil {
			r.ids = ids
		}
	}
}

// WithClock overrides the clock used to stamp _last_updated.
func WithClock(now func() time.Time) Option {
	return func(r *Registry) {
		if now != nil {
			r.now = now
		}
	}
}

// NewRegistry creates a registry whose managers resolve collections through
// resolver.
func NewRegistry(resolver Resolver, opts ...Option) *Registry {
	r := &Registry{
		resolver: resolver,
		logger:   &NoOpLogger{},
		metrics:  &NoOpMetrics{},
		ids:      ObjectIDAdapter{},
		now:      time.Now,
		entries:  make(map[reflect.Type]*registration),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// TypeOption configures a single registration.
type TypeOption func(*typeOptions)

type typeOptions struct {
	constraints *Constraints
	ids         IDAdapter
}

// WithUnique declares a single unique field, overriding Constraints().
func WithUnique(field string) TypeOption {
	return func(o *typeOptions) {
		o.constraints = &Constraints{Unique: field}
	}
}

// WithUniqueTogether declares a unique field group, overriding Constraints().
func WithUniqueTogether(fields ...string) TypeOption {
	return func(o *typeOptions) {
		o.constraints = &Constraints{UniqueTogether: append([]string(nil), fields...)}
	}
}

// WithTypeIDAdapter overrides the registry's identifier adapter for one type.
func WithTypeIDAdapter(ids IDAdapter) TypeOption {
	return func(o *typeOptions) {
		o.ids = ids
	}
}

// Register validates T's field declarations, creates its Manager and stores
// it in the registry. Each type can be registered once.
func Register[T any, PT RecordPtr[T]](r *Registry, opts ...TypeOption) (*Manager[T, PT], error) {
	t := reflect.TypeOf((*T)(nil)).Elem()

	var o typeOptions
	for _, opt := range opts {
		opt(&o)
	}

	var constraints Constraints
	if c, ok := any(PT(new(T))).(Constrained); ok {
		constraints = c.Constraints()
	}
	if o.constraints != nil {
		constraints = *o.constraints
	}

	ids := r.ids
	if o.ids != nil {
		ids = o.ids
	}

	et, err := newEntityType(t, constraints, ids)
	if err != nil {
		return nil, err
	}

	m := &Manager[T, PT]{typ: et, registry: r}

	r.mu.Lock()
	if r.sealed {
		r.mu.Unlock()
		return nil, WithContext(ErrRegistrySealed, map[string]interface{}{"type": et.Name})
	}
	if _, exists := r.entries[t]; exists {
		r.mu.Unlock()
		return nil, WithContext(ErrAlreadyRegistered, map[string]interface{}{"type": et.Name})
	}
	r.entries[t] = &registration{typ: et, manager: m, indexes: m.EnsureIndexes}
	count := len(r.entries)
	r.mu.Unlock()

	r.metrics.Gauge(MetricRegisteredTypes, float64(count))
	r.logger.Debug("registered entity type",
		"entity", et.Name,
		"collection", et.Collection,
		"fields", len(et.Fields),
		"unique", et.Constraints.Fields())

	return m, nil
}

// MustRegister is like Register but panics on error. Use it for package-level
// manager variables.
func MustRegister[T any, PT RecordPtr[T]](r *Registry, opts ...TypeOption) *Manager[T, PT] {
	m, err := Register[T, PT](r, opts...)
	if err != nil {
		panic(fmt.Sprintf("docmodel.MustRegister: %v", err))
	}
	return m
}

// Objects returns the manager registered for T.
func Objects[T any, PT RecordPtr[T]](r *Registry) (*Manager[T, PT], error) {
	t := reflect.TypeOf((*T)(nil)).Elem()

	r.mu.RLock()
	entry, ok := r.entries[t]
	r.mu.RUnlock()

	if !ok {
		return nil, WithContext(ErrNotRegistered, map[string]interface{}{"type": t.String()})
	}
	m, ok := entry.manager.(*Manager[T, PT])
	if !ok {
		return nil, WithContext(ErrNotRegistered, map[string]interface{}{"type": t.String()})
	}
	return m, nil
}

// Seal ends the registration phase. Later Register calls fail with
// ErrRegistrySealed; lookups keep working.
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal was called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Types returns the registered entity types ordered by name.
func (r *Registry) Types() []*EntityType {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]*EntityType, 0, len(r.entries))
	for _, e := range r.entries {
		types = append(types, e.typ)
	}
	sort.Slice(types, func(i, j int) bool { return types[i].Name < types[j].Name })
	return types
}

// Lookup finds a registered entity type by its Go type name.
func (r *Registry) Lookup(name string) (*EntityType, bool) {
	for _, t := range r.Types() {
		if t.Name == name {
			return t, true
		}
	}
	return nil, false
}

// EnsureIndexes creates the unique index of every constrained type. All
// types are attempted; the errors are joined.
func (r *Registry) EnsureIndexes(ctx context.Context) error {
	r.mu.RLock()
	entries := make([]*registration, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	var errs []error
	for _, e := range entries {
		if err := e.indexes(ctx); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", e.typ.Name, err))
		}
	}
	return errors.Join(errs...)
}

// Resolver returns the resolver managers use.
func (r *Registry) Resolver() Resolver {
	return r.resolver
}
