package docmodel

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MemoryBackend is an in-process Resolver for tests and local development.
// Filters are exact-match on top-level fields; numeric values compare across
// int32, int64 and double the way MongoDB does.
type MemoryBackend struct {
	mu          sync.RWMutex
	database    string
	collections map[string]*memoryCollection
	closed      bool
}

// NewMemoryBackend creates an empty, connected backend.
func NewMemoryBackend(database string) *MemoryBackend {
	return &MemoryBackend{
		database:    database,
		collections: make(map[string]*memoryCollection),
	}
}

// Resolve returns the named collection, creating it on first use.
func (b *MemoryBackend) Resolve(ctx context.Context, collection string) (Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil, ErrNotConnected
	}

	c, ok := b.collections[collection]
	if !ok {
		c = &memoryCollection{name: collection}
		b.collections[collection] = c
	}
	return c, nil
}

// DatabaseName returns the database name the backend was created with.
func (b *MemoryBackend) DatabaseName() string {
	return b.database
}

// Close marks the backend disconnected; later Resolve calls fail with
// ErrNotConnected. Stored documents are kept.
func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	return nil
}

// Reopen reconnects a closed backend.
func (b *MemoryBackend) Reopen() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = false
}

type memoryIndex struct {
	name   string
	fields []string
}

type memoryCollection struct {
	mu      sync.RWMutex
	name    string
	docs    []bson.Raw
	indexes []memoryIndex
}

func (c *memoryCollection) Name() string {
	return c.name
}

func (c *memoryCollection) FindOne(ctx context.Context, filter bson.D) (bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want, err := marshalFilter(filter)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, doc := range c.docs {
		if matches(doc, want) {
			return cloneRaw(doc), nil
		}
	}
	return nil, nil
}

func (c *memoryCollection) Find(ctx context.Context, filter bson.D) ([]bson.Raw, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	want, err := marshalFilter(filter)
	if err != nil {
		return nil, err
	}

	c.mu.RLock()
	defer c.mu.RUnlock()

	out := []bson.Raw{}
	for _, doc := range c.docs {
		if matches(doc, want) {
			out = append(out, cloneRaw(doc))
		}
	}
	return out, nil
}

func (c *memoryCollection) InsertOne(ctx context.Context, doc bson.D) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var id any
	hasID := false
	for _, e := range doc {
		if e.Key == IDField {
			id, hasID = e.Value, true
			break
		}
	}
	if !hasID {
		id = primitive.NewObjectID()
		doc = append(bson.D{{Key: IDField, Value: id}}, doc...)
	}

	data, err := bson.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode document: %w", err)
	}
	raw := bson.Raw(data)

	c.mu.Lock()
	defer c.mu.Unlock()

	idValue := raw.Lookup(IDField)
	for _, existing := range c.docs {
		if rawEqual(existing.Lookup(IDField), idValue) {
			return nil, fmt.Errorf("%w: %s _id %v", ErrDuplicateKey, c.name, id)
		}
	}
	for _, idx := range c.indexes {
		if c.violates(idx, raw) {
			return nil, fmt.Errorf("%w: %s index %s", ErrDuplicateKey, c.name, idx.name)
		}
	}

	c.docs = append(c.docs, raw)
	return id, nil
}

func (c *memoryCollection) CountDocuments(ctx context.Context, filter bson.D) (int64, error) {
	docs, err := c.Find(ctx, filter)
	if err != nil {
		return 0, err
	}
	return int64(len(docs)), nil
}

func (c *memoryCollection) EnsureUniqueIndex(ctx context.Context, name string, fields []string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for _, idx := range c.indexes {
		if idx.name == name {
			return nil
		}
	}

	idx := memoryIndex{name: name, fields: append([]string(nil), fields...)}
	for i, doc := range c.docs {
		for _, other := range c.docs[i+1:] {
			if sameKey(idx, doc, other) {
				return fmt.Errorf("%w: cannot build index %s over existing documents", ErrDuplicateKey, name)
			}
		}
	}

	c.indexes = append(c.indexes, idx)
	return nil
}

// violates reports whether doc collides with a stored document under idx.
// Caller holds the lock.
func (c *memoryCollection) violates(idx memoryIndex, doc bson.Raw) bool {
	for _, existing := range c.docs {
		if sameKey(idx, existing, doc) {
			return true
		}
	}
	return false
}

// sameKey compares the indexed fields of two documents. Indexes are partial:
// a document missing any indexed field is not indexed.
func sameKey(idx memoryIndex, a, b bson.Raw) bool {
	for _, f := range idx.fields {
		av, aerr := a.LookupErr(f)
		bv, berr := b.LookupErr(f)
		if aerr != nil || berr != nil {
			return false
		}
		if !rawEqual(av, bv) {
			return false
		}
	}
	return true
}

type filterTerm struct {
	key   string
	value bson.RawValue
}

func marshalFilter(filter bson.D) ([]filterTerm, error) {
	terms := make([]filterTerm, 0, len(filter))
	for _, e := range filter {
		if e.Value == nil {
			terms = append(terms, filterTerm{key: e.Key, value: bson.RawValue{Type: bson.TypeNull}})
			continue
		}
		t, data, err := bson.MarshalValue(e.Value)
		if err != nil {
			return nil, fmt.Errorf("encode filter value for %q: %w", e.Key, err)
		}
		terms = append(terms, filterTerm{key: e.Key, value: bson.RawValue{Type: t, Value: data}})
	}
	return terms, nil
}

func matches(doc bson.Raw, terms []filterTerm) bool {
	for _, term := range terms {
		v, err := doc.LookupErr(term.key)
		if err != nil {
			// {field: null} matches documents without the field
			if term.value.Type == bson.TypeNull {
				continue
			}
			return false
		}
		if !rawEqual(v, term.value) {
			return false
		}
	}
	return true
}

func rawEqual(a, b bson.RawValue) bool {
	if an, ok := numeric(a); ok {
		if bn, ok := numeric(b); ok {
			return an == bn
		}
		return false
	}
	return a.Type == b.Type && bytes.Equal(a.Value, b.Value)
}

func numeric(v bson.RawValue) (float64, bool) {
	switch v.Type {
	case bson.TypeInt32:
		return float64(v.Int32()), true
	case bson.TypeInt64:
		return float64(v.Int64()), true
	case bson.TypeDouble:
		return v.Double(), true
	default:
		return 0, false
	}
}

func cloneRaw(doc bson.Raw) bson.Raw {
	return append(bson.Raw(nil), doc...)
}
