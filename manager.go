package docmodel

import (
	"bytes"
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
)

// Manager provides typed get/filter/create/count operations for one entity
// type. Obtain it from Register or Objects; there is exactly one per type.
// Managers hold no per-call state and are safe for concurrent use.
//
// Example:
//
//	id, err := users.Create(ctx, docmodel.Attrs{"email": "alice@example.com", "name": "Alice"})
//	user, err := users.Get(ctx, docmodel.Attrs{"id": id})
//	admins, err := users.Filter(ctx, docmodel.Attrs{"role": "admin"})
//	n, err := users.Count(ctx, docmodel.Attrs{"role": "admin"})
type Manager[T any, PT RecordPtr[T]] struct {
	typ      *EntityType
	registry *Registry
}

// Type returns the entity type this manager is bound to.
func (m *Manager[T, PT]) Type() *EntityType {
	return m.typ
}

// Get returns the first entity matching attrs, or nil when none does.
// An "id" attribute is translated to the store-native _id.
func (m *Manager[T, PT]) Get(ctx context.Context, attrs Attrs) (item *T, err error) {
	start := time.Now()
	defer func() {
		outcome := outcomeOf(err)
		if err == nil && item == nil {
			outcome = OutcomeNotFound
		}
		m.record("get", start, outcome)
	}()

	filter, err := m.typ.filter(attrs)
	if err != nil {
		return nil, err
	}

	coll, err := m.collection(ctx)
	if err != nil {
		return nil, err
	}

	raw, err := coll.FindOne(ctx, filter)
	if err != nil {
		return nil, m.storageError("find_one", err)
	}
	if raw == nil {
		return nil, nil
	}

	return m.decode(raw)
}

// Filter returns every entity matching attrs exactly. The result is empty,
// never nil, when nothing matches.
func (m *Manager[T, PT]) Filter(ctx context.Context, attrs Attrs) (items []*T, err error) {
	start := time.Now()
	defer func() {
		m.record("filter", start, outcomeOf(err))
	}()

	filter, err := m.typ.filter(attrs)
	if err != nil {
		return nil, err
	}

	coll, err := m.collection(ctx)
	if err != nil {
		return nil, err
	}

	docs, err := coll.Find(ctx, filter)
	if err != nil {
		return nil, m.storageError("find", err)
	}

	items = make([]*T, 0, len(docs))
	for _, raw := range docs {
		item, err := m.decode(raw)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}

	m.registry.metrics.Histogram(MetricQueryResults, float64(len(items)), "entity", m.typ.Name)
	return items, nil
}

// Count returns the number of documents matching attrs.
func (m *Manager[T, PT]) Count(ctx context.Context, attrs Attrs) (n int64, err error) {
	start := time.Now()
	defer func() {
		m.record("count", start, outcomeOf(err))
	}()

	filter, err := m.typ.filter(attrs)
	if err != nil {
		return 0, err
	}

	coll, err := m.collection(ctx)
	if err != nil {
		return 0, err
	}

	n, err = coll.CountDocuments(ctx, filter)
	if err != nil {
		return 0, m.storageError("count", err)
	}
	return n, nil
}

// Create validates attrs against the entity's declarations, checks its
// uniqueness constraint, stamps _last_updated and inserts the document. It
// returns the store-assigned identifier. A client-supplied "id" is ignored.
//
// Without a unique index (EnsureIndexes) or a ClaimManager the constraint
// check is best-effort: concurrent creates can both pass it.
func (m *Manager[T, PT]) Create(ctx context.Context, attrs Attrs) (id string, err error) {
	start := time.Now()
	defer func() {
		m.record("create", start, outcomeOf(err))
	}()

	fields, _, _, err := m.typ.normalize(attrs)
	if err != nil {
		return "", err
	}

	entity, err := m.build(fields)
	if err != nil {
		return "", err
	}

	if err := m.checkUnique(ctx, fields); err != nil {
		if IsIntegrity(err) {
			m.conflict("precheck", err)
		}
		return "", err
	}

	claimKey, err := m.claim(ctx, fields)
	if err != nil {
		return "", err
	}

	pt := PT(entity)
	pt.SetLastUpdated(m.registry.now())
	pt.SetID("")

	doc, err := m.encode(pt)
	if err != nil {
		m.release(ctx, claimKey)
		return "", err
	}
	doc = m.omitUnsupplied(doc, fields)

	coll, err := m.collection(ctx)
	if err != nil {
		m.release(ctx, claimKey)
		return "", err
	}

	native, err := coll.InsertOne(ctx, doc)
	if err != nil {
		m.release(ctx, claimKey)
		if errors.Is(err, ErrDuplicateKey) {
			ierr := &IntegrityError{Entity: m.typ.Name, Fields: docSubset(doc, m.typ.Constraints.Fields())}
			m.conflict("index", ierr)
			return "", ierr
		}
		return "", m.storageError("insert_one", err)
	}

	id = m.typ.IDs.ToString(native)
	pt.SetID(id)

	if claimKey != "" {
		if err := m.registry.claims.Confirm(context.WithoutCancel(ctx), claimKey, id); err != nil {
			m.registry.logger.Warn("failed to confirm unique claim",
				"entity", m.typ.Name, "key", claimKey, "id", id, "error", err)
		}
	}

	m.registry.logger.Debug("created entity", "entity", m.typ.Name, "collection", m.typ.Collection, "id", id)
	return id, nil
}

// EnsureIndexes creates the unique index backing the declared constraint so
// the store itself rejects duplicates. Types without constraints are a no-op.
func (m *Manager[T, PT]) EnsureIndexes(ctx context.Context) error {
	fields := m.typ.Constraints.Fields()
	if len(fields) == 0 {
		return nil
	}

	coll, err := m.collection(ctx)
	if err != nil {
		return err
	}

	name := m.typ.Constraints.indexName()
	if err := coll.EnsureUniqueIndex(ctx, name, fields); err != nil {
		return m.storageError("ensure_index", err)
	}

	m.registry.logger.Info("ensured unique index", "entity", m.typ.Name, "collection", m.typ.Collection, "index", name)
	return nil
}

// RebuildClaims recreates the Redis claims of this type from the documents
// currently stored. Documents missing a constrained field are skipped.
func (m *Manager[T, PT]) RebuildClaims(ctx context.Context) error {
	claims := m.registry.claims
	if claims == nil {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"entity": m.typ.Name,
			"reason": "no claim manager configured",
		})
	}

	fields := m.typ.Constraints.Fields()
	if len(fields) == 0 {
		return nil
	}

	coll, err := m.collection(ctx)
	if err != nil {
		return err
	}

	docs, err := coll.Find(ctx, bson.D{})
	if err != nil {
		return m.storageError("find", err)
	}

	owners := make(map[string]Attrs, len(docs))
	for _, raw := range docs {
		values, complete := rawSubset(raw, fields)
		if !complete {
			continue
		}
		id, err := m.rawID(raw)
		if err != nil {
			return err
		}
		owners[id] = values
	}

	return claims.Rebuild(ctx, m.typ.Name, m.typ.Collection, owners)
}

// collection resolves the backing collection for this call only.
func (m *Manager[T, PT]) collection(ctx context.Context) (Collection, error) {
	coll, err := m.registry.resolver.Resolve(ctx, m.typ.Collection)
	if err != nil {
		if errors.Is(err, ErrNotConnected) || ctx.Err() != nil {
			return nil, err
		}
		return nil, m.storageError("resolve", err)
	}
	return coll, nil
}

// build constructs a transient entity: defaults first, then attrs decoded
// through the entity's bson declarations, then its own validation.
func (m *Manager[T, PT]) build(fields Attrs) (*T, error) {
	var entity T
	pt := PT(&entity)

	if d, ok := any(pt).(Defaulter); ok {
		d.SetDefaults()
	}

	if len(fields) > 0 {
		data, err := bson.Marshal(bson.M(fields))
		if err != nil {
			return nil, &ValidationError{Entity: m.typ.Name, Reason: "cannot encode attributes", Err: err}
		}
		if err := bson.Unmarshal(data, pt); err != nil {
			return nil, &ValidationError{Entity: m.typ.Name, Reason: "attributes do not match field types", Err: err}
		}
	}

	if v, ok := any(pt).(Validator); ok {
		if err := v.Validate(); err != nil {
			return nil, &ValidationError{Entity: m.typ.Name, Err: err}
		}
	}

	return &entity, nil
}

// encode serializes the entity by alias. The struct codec never writes ID;
// adapters that generate identifiers get a fresh _id prepended.
func (m *Manager[T, PT]) encode(pt PT) (bson.D, error) {
	data, err := bson.Marshal(pt)
	if err != nil {
		return nil, &ValidationError{Entity: m.typ.Name, Reason: "cannot encode entity", Err: err}
	}

	var doc bson.D
	if err := bson.Unmarshal(data, &doc); err != nil {
		return nil, &ValidationError{Entity: m.typ.Name, Reason: "cannot encode entity", Err: err}
	}

	if gen, ok := m.typ.IDs.(IDGenerator); ok {
		doc = append(bson.D{{Key: IDField, Value: gen.NewID()}}, doc...)
	}
	return doc, nil
}

// omitUnsupplied drops constrained fields that attrs did not supply and that
// still hold their zero value, so partial unique indexes skip them like the
// pre-check does. Defaults set on a constrained field are kept.
func (m *Manager[T, PT]) omitUnsupplied(doc bson.D, fields Attrs) bson.D {
	constrained := m.typ.Constraints.Fields()
	if len(constrained) == 0 {
		return doc
	}

	var zero T
	data, err := bson.Marshal(PT(&zero))
	if err != nil {
		return doc
	}
	zeroDoc := bson.Raw(data)

	skip := make(map[string]bool, len(constrained))
	for _, f := range constrained {
		if _, ok := fields[f]; !ok {
			skip[f] = true
		}
	}

	out := doc[:0]
	for _, e := range doc {
		if skip[e.Key] && isZeroValue(zeroDoc, e) {
			continue
		}
		out = append(out, e)
	}
	return out
}

func isZeroValue(zeroDoc bson.Raw, e bson.E) bool {
	zv, err := zeroDoc.LookupErr(e.Key)
	if err != nil {
		return false
	}
	typ, data, err := bson.MarshalValue(e.Value)
	if err != nil {
		return false
	}
	return typ == zv.Type && bytes.Equal(data, zv.Value)
}

// docSubset reads the named fields from an encoded document. Missing fields
// are left out.
func docSubset(doc bson.D, fields []string) Attrs {
	out := make(Attrs, len(fields))
	for _, f := range fields {
		for _, e := range doc {
			if e.Key == f {
				out[f] = e.Value
				break
			}
		}
	}
	return out
}

// decode constructs an entity from a stored document.
func (m *Manager[T, PT]) decode(raw bson.Raw) (*T, error) {
	var entity T
	pt := PT(&entity)

	if err := bson.Unmarshal(raw, pt); err != nil {
		return nil, m.storageError("decode", err)
	}

	id, err := m.rawID(raw)
	if err != nil {
		return nil, err
	}
	pt.SetID(id)

	return &entity, nil
}

func (m *Manager[T, PT]) rawID(raw bson.Raw) (string, error) {
	v, err := raw.LookupErr(IDField)
	if err != nil {
		return "", nil
	}
	var native any
	if err := v.Unmarshal(&native); err != nil {
		return "", m.storageError("decode", err)
	}
	return m.typ.IDs.ToString(native), nil
}

// claim reserves the constrained values in Redis when a ClaimManager is
// configured and every constrained field was supplied.
func (m *Manager[T, PT]) claim(ctx context.Context, fields Attrs) (string, error) {
	claims := m.registry.claims
	if claims == nil {
		return "", nil
	}
	subset, ok := m.typ.Constraints.subset(fields)
	if !ok {
		return "", nil
	}

	key, err := claims.Claim(ctx, m.typ.Name, m.typ.Collection, subset)
	if err != nil {
		if IsIntegrity(err) {
			m.conflict("claim", err)
			return "", err
		}
		return "", m.storageError("claim", err)
	}
	return key, nil
}

func (m *Manager[T, PT]) release(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := m.registry.claims.Release(context.WithoutCancel(ctx), key); err != nil {
		m.registry.logger.Warn("failed to release unique claim", "entity", m.typ.Name, "key", key, "error", err)
	}
}

func (m *Manager[T, PT]) conflict(source string, err error) {
	m.registry.metrics.Increment(MetricIntegrityConflicts, "entity", m.typ.Name, "source", source)
	m.registry.logger.Warn("uniqueness conflict", "entity", m.typ.Name, "source", source, "error", err)
}

func (m *Manager[T, PT]) storageError(op string, err error) error {
	m.registry.logger.Error("storage operation failed",
		"entity", m.typ.Name, "collection", m.typ.Collection, "op", op, "error", err)
	return &StorageError{Op: op, Collection: m.typ.Collection, Err: err}
}

func (m *Manager[T, PT]) record(op string, start time.Time, outcome string) {
	elapsed := time.Since(start)
	m.registry.metrics.Timing(MetricOperationDuration, elapsed,
		"entity", m.typ.Name, "operation", op)
	m.registry.metrics.Increment(MetricOperations,
		"entity", m.typ.Name, "operation", op, "outcome", outcome)
	m.registry.logger.Debug("entity operation",
		"entity", m.typ.Name, "operation", op, "outcome", outcome, "duration_ms", elapsed.Milliseconds())
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, ErrIntegrity):
		return OutcomeConflict
	case errors.Is(err, ErrInvalidAttributes), errors.Is(err, ErrInvalidIdentifier):
		return OutcomeInvalid
	default:
		return OutcomeError
	}
}

// rawSubset reads fields from a stored document; complete is false when any
// of them is missing.
func rawSubset(raw bson.Raw, fields []string) (Attrs, bool) {
	out := make(Attrs, len(fields))
	for _, f := range fields {
		v, err := raw.LookupErr(f)
		if err != nil {
			return nil, false
		}
		var val any
		if err := v.Unmarshal(&val); err != nil {
			return nil, false
		}
		out[f] = val
	}
	return out, true
}
