package docmodel

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestObjectIDAdapter_ToNative(t *testing.T) {
	adapter := ObjectIDAdapter{}
	oid := primitive.NewObjectID()

	native, err := adapter.ToNative(oid.Hex())
	if err != nil {
		t.Fatalf("ToNative failed: %v", err)
	}
	if native != oid {
		t.Errorf("expected %v, got %v", oid, native)
	}

	// already native
	native, err = adapter.ToNative(oid)
	if err != nil || native != oid {
		t.Errorf("expected ObjectID passthrough, got %v (%v)", native, err)
	}
	native, err = adapter.ToNative(&oid)
	if err != nil || native != oid {
		t.Errorf("expected *ObjectID to be dereferenced, got %v (%v)", native, err)
	}
}

func TestObjectIDAdapter_ToNativeInvalid(t *testing.T) {
	adapter := ObjectIDAdapter{}

	for _, v := range []any{"", "xyz", "507f1f77bcf86cd79943901", 42, nil, (*primitive.ObjectID)(nil)} {
		_, err := adapter.ToNative(v)
		if !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("ToNative(%#v): expected ErrInvalidIdentifier, got %v", v, err)
		}
	}
}

func TestObjectIDAdapter_ToString(t *testing.T) {
	adapter := ObjectIDAdapter{}
	oid := primitive.NewObjectID()

	if got := adapter.ToString(oid); got != oid.Hex() {
		t.Errorf("expected %s, got %s", oid.Hex(), got)
	}
	if got := adapter.ToString("already-a-string"); got != "already-a-string" {
		t.Errorf("unexpected %q", got)
	}
	if got := adapter.ToString(nil); got != "" {
		t.Errorf("expected empty string for nil, got %q", got)
	}
	if got := adapter.ToString(int32(7)); got != "7" {
		t.Errorf("expected 7, got %q", got)
	}
}

func TestObjectIDAdapter_RoundTrip(t *testing.T) {
	adapter := ObjectIDAdapter{}
	hex := "507f1f77bcf86cd799439011"

	native, err := adapter.ToNative(hex)
	if err != nil {
		t.Fatalf("ToNative failed: %v", err)
	}
	if got := adapter.ToString(native); got != hex {
		t.Errorf("expected %s, got %s", hex, got)
	}
}

func TestUUIDAdapter(t *testing.T) {
	adapter := UUIDAdapter{}

	id, ok := adapter.NewID().(string)
	if !ok {
		t.Fatalf("expected string id, got %T", adapter.NewID())
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("NewID produced invalid UUID %q: %v", id, err)
	}
	if parsed.Version() != 7 {
		t.Errorf("expected UUIDv7, got version %d", parsed.Version())
	}

	native, err := adapter.ToNative(id)
	if err != nil || native != id {
		t.Errorf("expected canonical passthrough, got %v (%v)", native, err)
	}

	// non-canonical input is normalized
	native, err = adapter.ToNative("{" + id + "}")
	if err != nil || native != id {
		t.Errorf("expected braces to be stripped, got %v (%v)", native, err)
	}

	native, err = adapter.ToNative(parsed)
	if err != nil || native != id {
		t.Errorf("expected uuid.UUID to be rendered, got %v (%v)", native, err)
	}

	if _, err := adapter.ToNative("not-a-uuid"); !IsInvalidIdentifier(err) {
		t.Errorf("expected ErrInvalidIdentifier, got %v", err)
	}
	if _, err := adapter.ToNative(12); !IsInvalidIdentifier(err) {
		t.Errorf("expected ErrInvalidIdentifier, got %v", err)
	}

	if got := adapter.ToString(id); got != id {
		t.Errorf("expected %s, got %s", id, got)
	}
	if got := adapter.ToString(parsed); got != id {
		t.Errorf("expected %s, got %s", id, got)
	}
}

func TestUUIDAdapter_Unique(t *testing.T) {
	adapter := UUIDAdapter{}
	seen := make(map[any]bool)
	for i := 0; i < 1000; i++ {
		id := adapter.NewID()
		if seen[id] {
			t.Fatalf("duplicate id generated: %v", id)
		}
		seen[id] = true
	}
}

func TestIsValidObjectID(t *testing.T) {
	if !IsValidObjectID(primitive.NewObjectID().Hex()) {
		t.Error("expected generated ObjectID to be valid")
	}
	if IsValidObjectID("nope") {
		t.Error("expected invalid ObjectID")
	}
}
