package docmodel

import (
	"context"

	"go.mongodb.org/mongo-driver/bson"
)

// Collection is a handle on one store collection. Handles are resolved per
// call and must not be cached by callers: the underlying connection can be
// swapped at any time.
type Collection interface {
	// Name returns the collection name.
	Name() string

	// FindOne returns the first document matching filter, or nil when
	// nothing matches.
	FindOne(ctx context.Context, filter bson.D) (bson.Raw, error)

	// Find returns every document matching filter.
	Find(ctx context.Context, filter bson.D) ([]bson.Raw, error)

	// InsertOne stores doc and returns its _id. When doc has no _id the
	// store assigns one. Unique index violations are reported as
	// ErrDuplicateKey.
	InsertOne(ctx context.Context, doc bson.D) (any, error)

	// CountDocuments returns the number of documents matching filter.
	CountDocuments(ctx context.Context, filter bson.D) (int64, error)

	// EnsureUniqueIndex creates a unique index over fields if it does not
	// exist yet. Documents missing any of the fields are not indexed.
	EnsureUniqueIndex(ctx context.Context, name string, fields []string) error
}

// Resolver obtains collection handles inside the configured database.
// Implementations fail with ErrNotConnected when no connection is active.
type Resolver interface {
	Resolve(ctx context.Context, collection string) (Collection, error)
}

// ResolverFunc adapts a function to the Resolver interface.
type ResolverFunc func(ctx context.Context, collection string) (Collection, error)

// Resolve calls f.
func (f ResolverFunc) Resolve(ctx context.Context, collection string) (Collection, error) {
	return f(ctx, collection)
}
