package docmodel

import (
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// TimestampLayout is the wire format of _last_updated: ISO-8601 in UTC with a
// trailing Z and exactly six fractional digits, so stored values sort as
// strings.
const TimestampLayout = "2006-01-02T15:04:05.000000Z"

// Timestamp is a time.Time persisted as an ISO-8601 UTC string.
type Timestamp struct {
	time.Time
}

// NewTimestamp truncates t to microseconds and converts it to UTC.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{Time: t.UTC().Truncate(time.Microsecond)}
}

// String returns the wire representation.
func (t Timestamp) String() string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimestampLayout)
}

// MarshalBSONValue writes the timestamp as a string, or null when unset.
func (t Timestamp) MarshalBSONValue() (bsontype.Type, []byte, error) {
	if t.IsZero() {
		return bson.TypeNull, nil, nil
	}
	return bson.TypeString, bsoncore.AppendString(nil, t.String()), nil
}

// UnmarshalBSONValue accepts the string form, BSON datetimes written by other
// tools, and null.
func (t *Timestamp) UnmarshalBSONValue(typ bsontype.Type, data []byte) error {
	raw := bson.RawValue{Type: typ, Value: data}

	switch typ {
	case bson.TypeNull, bson.TypeUndefined:
		t.Time = time.Time{}
		return nil
	case bson.TypeString:
		s, ok := raw.StringValueOK()
		if !ok {
			return fmt.Errorf("malformed timestamp string")
		}
		if s == "" {
			t.Time = time.Time{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		t.Time = parsed.UTC()
		return nil
	case bson.TypeDateTime:
		ms, ok := raw.DateTimeOK()
		if !ok {
			return fmt.Errorf("malformed timestamp datetime")
		}
		t.Time = time.UnixMilli(ms).UTC()
		return nil
	default:
		return fmt.Errorf("cannot decode %s into Timestamp", typ)
	}
}
