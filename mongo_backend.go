package docmodel

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

// Connection holds the process-wide MongoDB client and the active database
// name. It implements Resolver; until Connect succeeds every Resolve call
// fails fast with ErrNotConnected.
//
// Example:
//
//	conn := docmodel.NewConnection(logger)
//	if err := conn.Connect(ctx, "mongodb://localhost:27017", "app"); err != nil {
//	    log.Fatal(err)
//	}
//	defer conn.Close(context.Background())
//
//	registry := docmodel.NewRegistry(conn)
type Connection struct {
	mu       sync.RWMutex
	client   *mongo.Client
	database string
	logger   Logger
}

// NewConnection creates an unconnected holder. A nil logger disables logging.
func NewConnection(logger Logger) *Connection {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	return &Connection{logger: logger}
}

// ConnectFromConfig connects using a loaded Config.
func (c *Connection) ConnectFromConfig(ctx context.Context, cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.ConnectTimeout)
	defer cancel()
	return c.Connect(ctx, cfg.MongoURL, cfg.Database)
}

// Connect dials uri, verifies the server with a ping and makes database the
// active database. A previously connected client is disconnected after the
// swap.
func (c *Connection) Connect(ctx context.Context, uri, database string) error {
	if database == "" {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "database",
			"reason": "database name is required",
		})
	}

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return fmt.Errorf("connect to mongodb: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return fmt.Errorf("ping mongodb: %w", err)
	}

	c.mu.Lock()
	previous := c.client
	c.client = client
	c.database = database
	c.mu.Unlock()

	if previous != nil {
		if err := previous.Disconnect(ctx); err != nil {
			c.logger.Warn("failed to disconnect previous mongodb client", "error", err)
		}
	}

	c.logger.Info("connected to mongodb", "database", database)
	return nil
}

// Close disconnects the client. Closing an unconnected holder is a no-op.
func (c *Connection) Close(ctx context.Context) error {
	c.mu.Lock()
	client := c.client
	c.client = nil
	c.mu.Unlock()

	if client == nil {
		return nil
	}
	if err := client.Disconnect(ctx); err != nil {
		return fmt.Errorf("disconnect mongodb: %w", err)
	}

	c.logger.Info("disconnected from mongodb")
	return nil
}

// Client returns the active client or ErrNotConnected.
func (c *Connection) Client() (*mongo.Client, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.client == nil {
		return nil, ErrNotConnected
	}
	return c.client, nil
}

// DatabaseName returns the active database name.
func (c *Connection) DatabaseName() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.database
}

// Ping checks the server is reachable.
func (c *Connection) Ping(ctx context.Context) error {
	client, err := c.Client()
	if err != nil {
		return err
	}
	return client.Ping(ctx, readpref.Primary())
}

// Resolve returns a handle on collection inside the active database.
func (c *Connection) Resolve(ctx context.Context, collection string) (Collection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.RLock()
	client, database := c.client, c.database
	c.mu.RUnlock()

	if client == nil || database == "" {
		return nil, ErrNotConnected
	}

	return &mongoCollection{coll: client.Database(database).Collection(collection)}, nil
}

// mongoCollection adapts *mongo.Collection to Collection.
type mongoCollection struct {
	coll *mongo.Collection
}

func (m *mongoCollection) Name() string {
	return m.coll.Name()
}

func (m *mongoCollection) FindOne(ctx context.Context, filter bson.D) (bson.Raw, error) {
	raw, err := m.coll.FindOne(ctx, filter).Raw()
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (m *mongoCollection) Find(ctx context.Context, filter bson.D) ([]bson.Raw, error) {
	cur, err := m.coll.Find(ctx, filter)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	docs := []bson.Raw{}
	for cur.Next(ctx) {
		// cur.Current is reused by the next call
		docs = append(docs, append(bson.Raw(nil), cur.Current...))
	}
	if err := cur.Err(); err != nil {
		return nil, err
	}
	return docs, nil
}

func (m *mongoCollection) InsertOne(ctx context.Context, doc bson.D) (any, error) {
	res, err := m.coll.InsertOne(ctx, doc)
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return nil, fmt.Errorf("%w: %v", ErrDuplicateKey, err)
		}
		return nil, err
	}
	return res.InsertedID, nil
}

func (m *mongoCollection) CountDocuments(ctx context.Context, filter bson.D) (int64, error) {
	return m.coll.CountDocuments(ctx, filter)
}

func (m *mongoCollection) EnsureUniqueIndex(ctx context.Context, name string, fields []string) error {
	keys := bson.D{}
	partial := bson.D{}
	for _, f := range fields {
		keys = append(keys, bson.E{Key: f, Value: 1})
		partial = append(partial, bson.E{Key: f, Value: bson.D{{Key: "$exists", Value: true}}})
	}

	// Only documents carrying every field are indexed.
	_, err := m.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    keys,
		Options: options.Index().SetName(name).SetUnique(true).SetPartialFilterExpression(partial),
	})
	return err
}
