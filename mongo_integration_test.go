package docmodel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/testcontainers/testcontainers-go/modules/mongodb"
	"go.mongodb.org/mongo-driver/bson"
)

// startMongo auto-starts MongoDB using testcontainers and returns a connected
// Connection. Requires Docker; skipped otherwise.
func startMongo(t *testing.T, ctx context.Context) *Connection {
	t.Helper()

	if testing.Short() {
		t.Skip("Skipping MongoDB integration test in short mode")
	}

	// Catch panic if Docker daemon is not running
	defer func() {
		if r := recover(); r != nil {
			t.Skipf("Docker daemon not available, skipping testcontainers test: %v", r)
		}
	}()

	container, err := mongodb.Run(ctx, "mongo:7")
	if err != nil {
		t.Skipf("Failed to start MongoDB container (Docker not available?): %v", err)
	}
	t.Cleanup(func() {
		if err := container.Terminate(context.Background()); err != nil {
			t.Logf("Failed to terminate MongoDB container: %v", err)
		}
	})

	uri, err := container.ConnectionString(ctx)
	if err != nil {
		t.Fatalf("Failed to get MongoDB connection string: %v", err)
	}

	conn := NewConnection(nil)
	connectCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if err := conn.Connect(connectCtx, uri, "docmodel_test"); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	t.Cleanup(func() { conn.Close(context.Background()) })

	return conn
}

// TestIntegration_MongoBackend runs the manager operations against a real MongoDB
func TestIntegration_MongoBackend(t *testing.T) {
	ctx := context.Background()
	conn := startMongo(t, ctx)

	if err := conn.Ping(ctx); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	if conn.DatabaseName() != "docmodel_test" {
		t.Errorf("unexpected database %s", conn.DatabaseName())
	}

	registry := NewRegistry(conn, WithClock(func() time.Time { return fixedNow }))
	users := MustRegister[User](registry)
	pages := MustRegister[Page](registry)
	registry.Seal()

	if err := registry.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}

	id, err := users.Create(ctx, Attrs{"email": "alice@example.com", "name": "Alice", "age": 30})
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if !IsValidObjectID(id) {
		t.Fatalf("expected ObjectID, got %q", id)
	}

	alice, err := users.Get(ctx, Attrs{"id": id})
	if err != nil || alice == nil {
		t.Fatalf("Get failed: %v", err)
	}
	if alice.ID != id || alice.Name != "Alice" || alice.Age != 30 {
		t.Errorf("unexpected user %+v", alice)
	}
	if !alice.GetLastUpdated().Equal(fixedNow.Truncate(time.Microsecond)) {
		t.Errorf("unexpected last updated %v", alice.GetLastUpdated())
	}

	// persisted layout
	client, err := conn.Client()
	if err != nil {
		t.Fatalf("Client failed: %v", err)
	}
	raw, err := client.Database("docmodel_test").Collection("users").FindOne(ctx, bson.D{}).Raw()
	if err != nil {
		t.Fatalf("raw FindOne failed: %v", err)
	}
	if s, _ := raw.Lookup("_last_updated").StringValueOK(); s != "2024-03-01T12:00:00.123456Z" {
		t.Errorf("unexpected _last_updated %q", s)
	}

	_, err = users.Create(ctx, Attrs{"email": "alice@example.com", "name": "Again"})
	if !IsIntegrity(err) {
		t.Errorf("expected integrity error, got %v", err)
	}

	missing, err := users.Get(ctx, Attrs{"email": "nobody@example.com"})
	if err != nil || missing != nil {
		t.Errorf("expected nil, nil for absent user, got %v, %v", missing, err)
	}

	for _, attrs := range []Attrs{
		{"tenant": "acme", "slug": "home"},
		{"tenant": "acme", "slug": "about"},
		{"tenant": "globex", "slug": "home"},
	} {
		if _, err := pages.Create(ctx, attrs); err != nil {
			t.Fatalf("Create(%v) failed: %v", attrs, err)
		}
	}

	acme, err := pages.Filter(ctx, Attrs{"tenant": "acme"})
	if err != nil {
		t.Fatalf("Filter failed: %v", err)
	}
	if len(acme) != 2 {
		t.Errorf("expected 2 acme pages, got %d", len(acme))
	}

	n, err := pages.Count(ctx, Attrs{"slug": "home"})
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 home pages, got %d", n)
	}

	if _, err := users.Get(ctx, Attrs{"id": "not-hex"}); !IsInvalidIdentifier(err) {
		t.Errorf("expected ErrInvalidIdentifier, got %v", err)
	}
}

// TestIntegration_MongoUniqueIndexRace tests that the unique index rejects a
// duplicate the pre-check let through
func TestIntegration_MongoUniqueIndexRace(t *testing.T) {
	ctx := context.Background()
	conn := startMongo(t, ctx)

	barrier := newBarrierResolver(conn)
	registry := NewRegistry(barrier)
	users := MustRegister[User](registry)
	if err := users.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}

	errs := raceCreates(t, users)
	barrier.assertBothPassedPrecheck(t)
	failures := 0
	for _, err := range errs {
		if err != nil {
			var ierr *IntegrityError
			if !errors.As(err, &ierr) {
				t.Fatalf("expected *IntegrityError, got %v", err)
			}
			failures++
		}
	}
	if failures != 1 {
		t.Errorf("expected exactly one create to fail, got %d", failures)
	}
}

// TestConnection_NotConnected tests the fail-fast path without a server
func TestConnection_NotConnected(t *testing.T) {
	conn := NewConnection(nil)
	ctx := context.Background()

	if _, err := conn.Resolve(ctx, "users"); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Resolve: expected ErrNotConnected, got %v", err)
	}
	if _, err := conn.Client(); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Client: expected ErrNotConnected, got %v", err)
	}
	if err := conn.Ping(ctx); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Ping: expected ErrNotConnected, got %v", err)
	}
	if err := conn.Close(ctx); err != nil {
		t.Errorf("Close on unconnected holder: %v", err)
	}

	users := MustRegister[User](NewRegistry(conn))
	if _, err := users.Get(ctx, nil); !IsNotConnected(err) {
		t.Errorf("Get: expected ErrNotConnected, got %v", err)
	}
}

// TestConnection_ConnectValidation tests argument checks that need no server
func TestConnection_ConnectValidation(t *testing.T) {
	conn := NewConnection(nil)

	if err := conn.Connect(context.Background(), "mongodb://localhost:27017", ""); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for empty database, got %v", err)
	}

	cfg := DefaultConfig()
	cfg.ConnectTimeout = 0
	if err := conn.ConnectFromConfig(context.Background(), cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Errorf("expected ErrInvalidConfig for invalid config, got %v", err)
	}
}
