package docmodel

import (
	"context"
	"strings"
)

// Constraints is the declarative uniqueness metadata of an entity type.
// At most one of Unique and UniqueTogether may be set.
//
// Example:
//
//	func (User) Constraints() docmodel.Constraints {
//	    return docmodel.Constraints{Unique: "email"}
//	}
//
//	func (Page) Constraints() docmodel.Constraints {
//	    return docmodel.Constraints{UniqueTogether: []string{"tenant", "slug"}}
//	}
type Constraints struct {
	Unique         string
	UniqueTogether []string
}

// IsZero reports whether no constraint is declared.
func (c Constraints) IsZero() bool {
	return c.Unique == "" && len(c.UniqueTogether) == 0
}

// Fields returns the constrained field set.
func (c Constraints) Fields() []string {
	if len(c.UniqueTogether) > 0 {
		return append([]string(nil), c.UniqueTogether...)
	}
	if c.Unique != "" {
		return []string{c.Unique}
	}
	return nil
}

// indexName is the name of the unique index backing the constraint.
func (c Constraints) indexName() string {
	return "unique_" + strings.Join(c.Fields(), "_")
}

// subset picks the constrained fields out of attrs. The check only applies
// when every constrained field was supplied; partial sets are not checked.
func (c Constraints) subset(attrs Attrs) (Attrs, bool) {
	fields := c.Fields()
	if len(fields) == 0 {
		return nil, false
	}

	out := make(Attrs, len(fields))
	for _, f := range fields {
		v, ok := attrs[f]
		if !ok {
			return nil, false
		}
		out[f] = v
	}
	return out, true
}

// checkUnique looks for an existing document holding the constrained values
// in attrs (already normalized to aliases). This is a best-effort pre-check:
// it is not atomic with the insert that follows. Unique indexes or a
// ClaimManager close that window.
func (m *Manager[T, PT]) checkUnique(ctx context.Context, attrs Attrs) error {
	subset, ok := m.typ.Constraints.subset(attrs)
	if !ok {
		return nil
	}

	existing, err := m.Get(ctx, subset)
	if err != nil {
		return err
	}
	if existing != nil {
		return &IntegrityError{Entity: m.typ.Name, Fields: subset}
	}
	return nil
}
