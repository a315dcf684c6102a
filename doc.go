// Package docmodel maps typed Go entities onto a schemaless document store
// (MongoDB) with declarative uniqueness constraints.
//
// # Overview
//
// An entity is a struct that embeds Model inline. Registering it with a
// Registry validates its field declarations and attaches exactly one Manager,
// which provides the four operations application code needs:
//
//   - Get: the first entity matching an exact-match filter, or nil
//   - Filter: every matching entity
//   - Create: validate, check uniqueness, stamp _last_updated, insert
//   - Count: the number of matching documents
//
// Collections are resolved per call; the manager never holds a collection
// handle, so the underlying connection can be swapped at any time.
//
// # Quick Start
//
//	type User struct {
//	    docmodel.Model `bson:",inline"`
//	    Email string   `bson:"email"`
//	    Name  string   `bson:"name"`
//	}
//
//	func (User) Constraints() docmodel.Constraints {
//	    return docmodel.Constraints{Unique: "email"}
//	}
//
//	conn := docmodel.NewConnection(logger)
//	if err := conn.Connect(ctx, "mongodb://localhost:27017", "app"); err != nil {
//	    log.Fatal(err)
//	}
//
//	registry := docmodel.NewRegistry(conn)
//	users := docmodel.MustRegister[User](registry)
//	registry.Seal()
//
//	id, err := users.Create(ctx, docmodel.Attrs{"email": "alice@example.com", "name": "Alice"})
//	alice, err := users.Get(ctx, docmodel.Attrs{"id": id})
//
// # Identifiers
//
// Identifiers cross the API as strings. An IDAdapter translates them to the
// store-native form: ObjectIDAdapter (the default) parses 24-character hex
// into primitive.ObjectID, UUIDAdapter keeps UUIDv7 strings and generates them
// on create. The "id" attribute key is translated in Get, Filter and Count.
//
// # Uniqueness
//
// An entity declares either a single unique field or a unique_together group.
// Create looks for an existing document with the same values first, but that
// check is not atomic with the insert. Two mechanisms close the window:
//
//	// store-side unique indexes; duplicate-key inserts become IntegrityError
//	if err := registry.EnsureIndexes(ctx); err != nil { ... }
//
//	// atomic claims shared by every writer using the same Redis
//	claims := docmodel.NewClaimManager(redis.NewClient(cfg.RedisOptions()))
//	registry := docmodel.NewRegistry(conn, docmodel.WithClaims(claims))
//
// # Errors
//
// Failures are reported through sentinel errors usable with errors.Is:
// ErrNotConnected, ErrInvalidIdentifier, ErrIntegrity, ErrStorage,
// ErrInvalidAttributes and the registration errors. A missing entity is not an
// error: Get returns nil and Filter an empty slice.
//
// # Observability
//
// Pass WithLogger (ZapLogger wraps go.uber.org/zap) and WithMetrics
// (PrometheusMetrics registers docmodel_* collectors) to NewRegistry.
package docmodel
