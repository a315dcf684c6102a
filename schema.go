package docmodel

import (
	"fmt"
	"reflect"
	"sort"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
)

var modelType = reflect.TypeOf(Model{})

// Field is one declared field of an entity type.
type Field struct {
	Name     string       // Go field name
	Alias    string       // wire name in the document
	Type     reflect.Type // Go type
	Implicit bool         // contributed by Model
}

// EntityType describes one kind of entity: its field declarations, the
// collection backing it, its constraint metadata and identifier adapter.
type EntityType struct {
	Name        string
	Collection  string
	Fields      []Field
	Constraints Constraints
	IDs         IDAdapter

	goType reflect.Type
	byKey  map[string]int
}

// CollectionName derives a collection name from an entity type name:
// lower-cased with a trailing "s". Names that already look plural still get
// the suffix (Address -> addresss).
func CollectionName(typeName string) string {
	return strings.ToLower(typeName) + "s"
}

// newEntityType reflects over t and validates its field declarations.
func newEntityType(t reflect.Type, constraints Constraints, ids IDAdapter) (*EntityType, error) {
	if t.Kind() != reflect.Struct {
		return nil, WithContext(ErrInvalidModel, map[string]interface{}{
			"type":   t.String(),
			"reason": "entity must be a struct",
		})
	}
	if t.Name() == "" {
		return nil, WithContext(ErrInvalidModel, map[string]interface{}{
			"type":   t.String(),
			"reason": "entity must be a named type",
		})
	}

	et := &EntityType{
		Name:       t.Name(),
		Collection: CollectionName(t.Name()),
		IDs:        ids,
		goType:     t,
		byKey:      make(map[string]int),
	}

	et.addField(Field{Name: "ID", Alias: IDField, Type: reflect.TypeOf(""), Implicit: true})

	embedsModel, err := et.collectFields(t)
	if err != nil {
		return nil, err
	}
	if !embedsModel {
		return nil, WithContext(ErrInvalidModel, map[string]interface{}{
			"type":   et.Name,
			"reason": "entity must embed docmodel.Model with `bson:\",inline\"`",
		})
	}

	normalized, err := et.normalizeConstraints(constraints)
	if err != nil {
		return nil, err
	}
	et.Constraints = normalized

	return et, nil
}

// collectFields walks the struct the way the bson struct codec does:
// exported fields keyed by their bson tag name, inline structs flattened.
func (et *EntityType) collectFields(t reflect.Type) (bool, error) {
	embedsModel := false

	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if sf.PkgPath != "" && !sf.Anonymous {
			continue
		}

		alias, inline, skip := parseBSONTag(sf)
		if skip {
			continue
		}

		if sf.Type == modelType {
			if !sf.Anonymous || !inline {
				return false, WithContext(ErrInvalidModel, map[string]interface{}{
					"type":   et.Name,
					"field":  sf.Name,
					"reason": "docmodel.Model must be embedded with `bson:\",inline\"`",
				})
			}
			embedsModel = true
			et.addField(Field{Name: "LastUpdated", Alias: LastUpdatedField, Type: reflect.TypeOf(Timestamp{}), Implicit: true})
			continue
		}

		if inline {
			ft := sf.Type
			if ft.Kind() == reflect.Ptr {
				ft = ft.Elem()
			}
			if ft.Kind() != reflect.Struct {
				// inline maps carry undeclared keys; nothing to declare
				continue
			}
			nested, err := et.collectFields(ft)
			if err != nil {
				return false, err
			}
			embedsModel = embedsModel || nested
			continue
		}

		if sf.PkgPath != "" {
			continue
		}

		if alias == IDField || alias == LastUpdatedField {
			return false, WithContext(ErrInvalidModel, map[string]interface{}{
				"type":   et.Name,
				"field":  sf.Name,
				"alias":  alias,
				"reason": "alias is reserved",
			})
		}
		if _, exists := et.byKey[alias]; exists {
			return false, WithContext(ErrInvalidModel, map[string]interface{}{
				"type":   et.Name,
				"field":  sf.Name,
				"alias":  alias,
				"reason": "duplicate alias",
			})
		}

		et.addField(Field{Name: sf.Name, Alias: alias, Type: sf.Type})
	}

	return embedsModel, nil
}

func (et *EntityType) addField(f Field) {
	et.Fields = append(et.Fields, f)
	idx := len(et.Fields) - 1
	et.byKey[f.Alias] = idx
	if _, taken := et.byKey[f.Name]; !taken {
		et.byKey[f.Name] = idx
	}
}

// parseBSONTag mirrors the default bson struct tag parser.
func parseBSONTag(sf reflect.StructField) (alias string, inline bool, skip bool) {
	tag, ok := sf.Tag.Lookup("bson")
	if !ok && !strings.Contains(string(sf.Tag), ":") {
		tag = string(sf.Tag)
	}
	if tag == "-" {
		return "", false, true
	}

	parts := strings.Split(tag, ",")
	alias = parts[0]
	for _, opt := range parts[1:] {
		if opt == "inline" {
			inline = true
		}
	}
	if alias == "" {
		alias = strings.ToLower(sf.Name)
	}
	return alias, inline, false
}

// Field looks a field up by alias, Go name, or "id".
func (et *EntityType) Field(key string) (Field, bool) {
	if key == "id" {
		key = IDField
	}
	idx, ok := et.byKey[key]
	if !ok {
		return Field{}, false
	}
	return et.Fields[idx], true
}

func (et *EntityType) normalizeConstraints(c Constraints) (Constraints, error) {
	if c.Unique != "" && len(c.UniqueTogether) > 0 {
		return Constraints{}, WithContext(ErrInvalidModel, map[string]interface{}{
			"type":   et.Name,
			"reason": "declare either unique or unique_together, not both",
		})
	}

	resolve := func(name string) (string, error) {
		f, ok := et.Field(name)
		if !ok || f.Implicit {
			return "", WithContext(ErrInvalidModel, map[string]interface{}{
				"type":   et.Name,
				"field":  name,
				"reason": "constraint references an undeclared field",
			})
		}
		return f.Alias, nil
	}

	var out Constraints
	if c.Unique != "" {
		alias, err := resolve(c.Unique)
		if err != nil {
			return Constraints{}, err
		}
		out.Unique = alias
	}

	seen := make(map[string]bool, len(c.UniqueTogether))
	for _, name := range c.UniqueTogether {
		alias, err := resolve(name)
		if err != nil {
			return Constraints{}, err
		}
		if seen[alias] {
			return Constraints{}, WithContext(ErrInvalidModel, map[string]interface{}{
				"type":   et.Name,
				"field":  name,
				"reason": "field listed twice in unique_together",
			})
		}
		seen[alias] = true
		out.UniqueTogether = append(out.UniqueTogether, alias)
	}

	return out, nil
}

// normalize rewrites attribute keys to aliases. The identifier is returned
// separately and never appears in the result.
func (et *EntityType) normalize(attrs Attrs) (Attrs, any, bool, error) {
	out := make(Attrs, len(attrs))
	var (
		id    any
		hasID bool
	)

	for _, key := range sortedKeys(attrs) {
		f, ok := et.Field(key)
		if !ok {
			return nil, nil, false, &ValidationError{Entity: et.Name, Field: key, Reason: "unknown field"}
		}
		if f.Alias == IDField {
			if hasID {
				return nil, nil, false, &ValidationError{Entity: et.Name, Field: key, Reason: "field given more than once"}
			}
			id, hasID = attrs[key], true
			continue
		}
		if _, dup := out[f.Alias]; dup {
			return nil, nil, false, &ValidationError{Entity: et.Name, Field: key, Reason: "field given more than once"}
		}
		out[f.Alias] = attrs[key]
	}

	return out, id, hasID, nil
}

// filter builds an exact-match query from attrs, translating the identifier
// through the type's adapter. Keys are ordered for deterministic queries.
func (et *EntityType) filter(attrs Attrs) (bson.D, error) {
	fields, id, hasID, err := et.normalize(attrs)
	if err != nil {
		return nil, err
	}

	filter := bson.D{}
	if hasID {
		native, err := et.IDs.ToNative(id)
		if err != nil {
			return nil, err
		}
		filter = append(filter, bson.E{Key: IDField, Value: native})
	}
	for _, key := range sortedKeys(fields) {
		filter = append(filter, bson.E{Key: key, Value: fields[key]})
	}

	return filter, nil
}

func (et *EntityType) String() string {
	return fmt.Sprintf("%s(%s)", et.Name, et.Collection)
}

func sortedKeys(m Attrs) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
