package docmodel

import (
	"fmt"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// IDField is the primary-key field of every persisted document.
const IDField = "_id"

// IDAdapter converts between the application identifier (always a string at
// the API boundary) and the identifier the store keeps in _id.
type IDAdapter interface {
	// ToNative converts an application-supplied identifier for use in a query.
	ToNative(v any) (any, error)

	// ToString converts a store-native identifier back to its string form.
	ToString(v any) string
}

// IDGenerator is implemented by adapters whose identifiers the store cannot
// assign on its own. The manager sets _id to NewID() before inserting.
type IDGenerator interface {
	NewID() any
}

// ObjectIDAdapter maps hex strings to MongoDB ObjectIDs. This is the default
// adapter; the store assigns new ObjectIDs on insert.
type ObjectIDAdapter struct{}

// ToNative parses a 24-character hex string into a primitive.ObjectID.
// ObjectID values are passed through untouched.
func (ObjectIDAdapter) ToNative(v any) (any, error) {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id, nil
	case *primitive.ObjectID:
		if id == nil {
			return nil, &InvalidIdentifierError{Value: v}
		}
		return *id, nil
	case string:
		oid, err := primitive.ObjectIDFromHex(id)
		if err != nil {
			return nil, &InvalidIdentifierError{Value: id, Err: err}
		}
		return oid, nil
	default:
		return nil, &InvalidIdentifierError{Value: v, Err: fmt.Errorf("unsupported identifier type %T", v)}
	}
}

// ToString renders an ObjectID as hex; anything else is stringified.
func (ObjectIDAdapter) ToString(v any) string {
	switch id := v.(type) {
	case primitive.ObjectID:
		return id.Hex()
	case string:
		return id
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// UUIDAdapter stores identifiers as canonical UUID strings and generates
// UUIDv7 (time-ordered) values for new documents.
type UUIDAdapter struct{}

// ToNative validates the UUID and returns its canonical string form.
func (UUIDAdapter) ToNative(v any) (any, error) {
	switch id := v.(type) {
	case uuid.UUID:
		return id.String(), nil
	case string:
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, &InvalidIdentifierError{Value: id, Err: err}
		}
		return parsed.String(), nil
	default:
		return nil, &InvalidIdentifierError{Value: v, Err: fmt.Errorf("unsupported identifier type %T", v)}
	}
}

// ToString returns the stored string as-is.
func (UUIDAdapter) ToString(v any) string {
	switch id := v.(type) {
	case string:
		return id
	case uuid.UUID:
		return id.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(id)
	}
}

// NewID generates a UUIDv7, falling back to UUIDv4 if NewV7 fails (extremely rare)
func (UUIDAdapter) NewID() any {
	id, err := uuid.NewV7()
	if err != nil {
		id = uuid.New()
	}
	return id.String()
}

// IsValidObjectID checks if a string is a well-formed ObjectID hex
func IsValidObjectID(s string) bool {
	return primitive.IsValidObjectID(s)
}
