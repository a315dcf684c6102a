package docmodel

import "time"

// LastUpdatedField is the reserved metadata field stamped on every create.
const LastUpdatedField = "_last_updated"

// Attrs is a loosely-typed attribute mapping. Keys are field aliases, Go
// field names, or "id" for the entity identifier.
type Attrs map[string]any

// Model carries the two implicit fields every entity has. Embed it inline:
//
//	type User struct {
//	    docmodel.Model `bson:",inline"`
//	    Email string   `bson:"email"`
//	}
//
// ID is never written by the struct codec; the manager maps it to _id.
type Model struct {
	ID          string    `bson:"-" json:"id,omitempty"`
	LastUpdated Timestamp `bson:"_last_updated" json:"last_updated"`
}

// GetID returns the identifier, empty before the entity is first persisted.
func (m *Model) GetID() string { return m.ID }

// SetID sets the identifier.
func (m *Model) SetID(id string) { m.ID = id }

// GetLastUpdated returns the last-modified time.
func (m *Model) GetLastUpdated() time.Time { return m.LastUpdated.Time }

// SetLastUpdated stamps the last-modified time.
func (m *Model) SetLastUpdated(t time.Time) { m.LastUpdated = NewTimestamp(t) }

// Record is the validated-record capability an entity must provide.
// Embedding Model satisfies it.
type Record interface {
	GetID() string
	SetID(id string)
	GetLastUpdated() time.Time
	SetLastUpdated(t time.Time)
}

// RecordPtr constrains PT to be *T implementing Record, so managers can
// allocate T values and still call pointer methods on them.
type RecordPtr[T any] interface {
	*T
	Record
}

// Validator is implemented by entities that check their own field values.
// Create calls Validate after the attributes are applied.
type Validator interface {
	Validate() error
}

// Defaulter is implemented by entities with field defaults. Create calls
// SetDefaults before the attributes are applied.
type Defaulter interface {
	SetDefaults()
}

// Constrained is implemented by entities that declare uniqueness metadata.
type Constrained interface {
	Constraints() Constraints
}
