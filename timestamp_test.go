package docmodel

import (
	"testing"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

type stamped struct {
	At Timestamp `bson:"at"`
}

func TestNewTimestamp(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	in := time.Date(2024, 3, 1, 14, 0, 0, 123456789, loc)

	ts := NewTimestamp(in)
	if ts.Location() != time.UTC {
		t.Errorf("expected UTC, got %v", ts.Location())
	}
	if ts.Nanosecond() != 123456000 {
		t.Errorf("expected microsecond truncation, got %d ns", ts.Nanosecond())
	}
	if got := ts.String(); got != "2024-03-01T12:00:00.123456Z" {
		t.Errorf("unexpected string %q", got)
	}

	if got := NewTimestamp(time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)).String(); got != "2024-03-01T12:00:00.000000Z" {
		t.Errorf("expected six fractional digits, got %q", got)
	}
	if got := (Timestamp{}).String(); got != "" {
		t.Errorf("expected empty string for zero timestamp, got %q", got)
	}
}

func TestTimestamp_MarshalBSON(t *testing.T) {
	data, err := bson.Marshal(stamped{At: NewTimestamp(time.Date(2024, 3, 1, 12, 0, 0, 500000000, time.UTC))})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}

	v := bson.Raw(data).Lookup("at")
	s, ok := v.StringValueOK()
	if !ok {
		t.Fatalf("expected string, got %s", v.Type)
	}
	if s != "2024-03-01T12:00:00.500000Z" {
		t.Errorf("unexpected wire value %q", s)
	}

	data, err = bson.Marshal(stamped{})
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	if typ := bson.Raw(data).Lookup("at").Type; typ != bson.TypeNull {
		t.Errorf("expected null for zero timestamp, got %s", typ)
	}
}

func TestTimestamp_UnmarshalBSON(t *testing.T) {
	want := time.Date(2024, 3, 1, 12, 0, 0, 123456000, time.UTC)

	cases := []struct {
		name string
		doc  bson.D
		want time.Time
	}{
		{"string", bson.D{{Key: "at", Value: "2024-03-01T12:00:00.123456Z"}}, want},
		{"string with offset", bson.D{{Key: "at", Value: "2024-03-01T14:00:00.123456+02:00"}}, want},
		{"datetime", bson.D{{Key: "at", Value: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)}}, want.Truncate(time.Second)},
		{"null", bson.D{{Key: "at", Value: nil}}, time.Time{}},
		{"empty string", bson.D{{Key: "at", Value: ""}}, time.Time{}},
	}

	for _, tc := range cases {
		data, err := bson.Marshal(tc.doc)
		if err != nil {
			t.Fatalf("%s: Marshal failed: %v", tc.name, err)
		}
		var got stamped
		if err := bson.Unmarshal(data, &got); err != nil {
			t.Fatalf("%s: Unmarshal failed: %v", tc.name, err)
		}
		if !got.At.Equal(tc.want) {
			t.Errorf("%s: expected %v, got %v", tc.name, tc.want, got.At.Time)
		}
	}
}

func TestTimestamp_UnmarshalBSONInvalid(t *testing.T) {
	for name, value := range map[string]any{
		"garbage": "yesterday",
		"number":  int32(5),
	} {
		data, _ := bson.Marshal(bson.D{{Key: "at", Value: value}})
		var got stamped
		if err := bson.Unmarshal(data, &got); err == nil {
			t.Errorf("%s: expected error, got %v", name, got.At)
		}
	}
}

func TestTimestamp_StringsSortChronologically(t *testing.T) {
	base := time.Date(2024, 3, 1, 12, 0, 5, 0, time.UTC)
	times := []time.Time{
		base,
		base.Add(100 * time.Millisecond),
		base.Add(150 * time.Millisecond),
		base.Add(time.Second),
	}

	for i := 1; i < len(times); i++ {
		prev, next := NewTimestamp(times[i-1]).String(), NewTimestamp(times[i]).String()
		if len(prev) != len(next) {
			t.Errorf("expected fixed width, got %q and %q", prev, next)
		}
		if prev >= next {
			t.Errorf("expected %q to sort before %q", prev, next)
		}
	}
}

func TestTimestamp_RoundTrip(t *testing.T) {
	in := stamped{At: NewTimestamp(time.Now())}

	data, err := bson.Marshal(in)
	if err != nil {
		t.Fatalf("Marshal failed: %v", err)
	}
	var out stamped
	if err := bson.Unmarshal(data, &out); err != nil {
		t.Fatalf("Unmarshal failed: %v", err)
	}
	if !out.At.Equal(in.At.Time) {
		t.Errorf("expected %v, got %v", in.At, out.At)
	}
}
