package tap

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

type Kind int

const (
	KindString Kind = iota
	KindInteger
	KindNumber
	KindBoolean
	KindDateTime
	KindObject
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindInteger:
		return "integer"
	case KindNumber:
		return "number"
	case KindBoolean:
		return "boolean"
	case KindDateTime:
		return "date-time"
	case KindObject:
		return "object"
	case KindArray:
		return "array"
	default:
		return "unknown"
	}
}

// Type describes the JSON shape of a property. Every type also admits null.
type Type struct {
	Kind       Kind
	Items      *Type      // element type when Kind is KindArray
	Properties []Property // declared fields when Kind is KindObject; empty means free-form
}

type Property struct {
	Name string
	Type Type
}

// Schema is the ordered property list of a stream. Records are emitted with
// their fields in this order.
type Schema struct {
	Properties []Property
}

var (
	StringType   = Type{Kind: KindString}
	IntegerType  = Type{Kind: KindInteger}
	NumberType   = Type{Kind: KindNumber}
	BooleanType  = Type{Kind: KindBoolean}
	DateTimeType = Type{Kind: KindDateTime}
)

func ObjectType(properties ...Property) Type {
	return Type{Kind: KindObject, Properties: properties}
}

func ArrayType(items Type) Type {
	return Type{Kind: KindArray, Items: &items}
}

func Prop(name string, t Type) Property {
	return Property{Name: name, Type: t}
}

func NewSchema(properties ...Property) Schema {
	return Schema{Properties: properties}
}

// Property returns the declared property called name.
func (s Schema) Property(name string) (Property, bool) {
	for _, p := range s.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

func (s Schema) Names() []string {
	names := make([]string, len(s.Properties))
	for i, p := range s.Properties {
		names[i] = p.Name
	}
	return names
}

// JSONSchema renders the schema as a JSON Schema object for catalogs and
// SCHEMA messages.
func (s Schema) JSONSchema() map[string]any {
	return map[string]any{
		"type":       "object",
		"properties": propertiesJSONSchema(s.Properties),
	}
}

func (t Type) JSONSchema() map[string]any {
	switch t.Kind {
	case KindDateTime:
		return map[string]any{"type": []string{"string", "null"}, "format": "date-time"}
	case KindObject:
		return map[string]any{"type": []string{"object", "null"}, "properties": propertiesJSONSchema(t.Properties)}
	case KindArray:
		items := map[string]any{}
		if t.Items != nil {
			items = t.Items.JSONSchema()
		}
		return map[string]any{"type": []string{"array", "null"}, "items": items}
	default:
		return map[string]any{"type": []string{t.Kind.String(), "null"}}
	}
}

func propertiesJSONSchema(properties []Property) map[string]any {
	result := make(map[string]any, len(properties))
	for _, p := range properties {
		result[p.Name] = p.Type.JSONSchema()
	}
	return result
}

// ConformanceLevel selects how deep records are checked against their schema.
type ConformanceLevel int

const (
	// ConformRecursive checks and coerces every declared field, nested ones included.
	ConformRecursive ConformanceLevel = iota
	// ConformRootOnly checks top-level fields only; nested object and array
	// contents pass through untouched because their shapes vary too much to enumerate.
	ConformRootOnly
)

// Conform renders record as JSON with its fields in schema order.
// Undeclared top-level fields are left out and returned in dropped.
// Lossless coercions (numeric strings, "true"/"false", scalars to string)
// are applied to checked fields; anything else is an error.
func (s Schema) Conform(record gjson.Result, level ConformanceLevel) (conformed string, dropped []string, err error) {
	if !record.IsObject() {
		return "", nil, fmt.Errorf("expected a JSON object, got %s", record.Type)
	}
	record.ForEach(func(key, _ gjson.Result) bool {
		if _, ok := s.Property(key.String()); !ok {
			dropped = append(dropped, key.String())
		}
		return true
	})
	conformed, err = conformObject(s.Properties, record, level, true, "")
	return conformed, dropped, err
}

// FieldError locates a conformance failure within a record.
type FieldError struct {
	Field  string
	Reason string
}

func (e *FieldError) Error() string {
	return fmt.Sprintf("field %q %s", e.Field, e.Reason)
}

func conformObject(properties []Property, record gjson.Result, level ConformanceLevel, root bool, prefix string) (string, error) {
	out := "{}"
	for _, p := range properties {
		value := record.Get(escapePathComponent(p.Name))
		if !value.Exists() {
			continue
		}
		raw, err := conformValue(p.Type, value, level, root, prefix+p.Name)
		if err != nil {
			return "", err
		}
		out, err = sjson.SetRaw(out, escapePathComponent(p.Name), raw)
		if err != nil {
			return "", err
		}
	}
	return out, nil
}

func conformValue(t Type, value gjson.Result, level ConformanceLevel, root bool, field string) (string, error) {
	if value.Type == gjson.Null {
		return "null", nil
	}
	fail := func(reason string) (string, error) {
		return "", &FieldError{Field: field, Reason: reason}
	}
	if !root && level == ConformRootOnly {
		return value.Raw, nil
	}

	switch t.Kind {
	case KindInteger:
		switch value.Type {
		case gjson.Number:
			if _, err := strconv.ParseInt(value.Raw, 10, 64); err == nil {
				return value.Raw, nil
			}
			if f := value.Float(); f == float64(int64(f)) {
				return strconv.FormatInt(int64(f), 10), nil
			}
		case gjson.String:
			if i, err := strconv.ParseInt(strings.TrimSpace(value.Str), 10, 64); err == nil {
				return strconv.FormatInt(i, 10), nil
			}
		}
		return fail(fmt.Sprintf("expected integer, got %s", value.Raw))

	case KindNumber:
		switch value.Type {
		case gjson.Number:
			return value.Raw, nil
		case gjson.String:
			if f, err := strconv.ParseFloat(strings.TrimSpace(value.Str), 64); err == nil {
				return strconv.FormatFloat(f, 'f', -1, 64), nil
			}
		}
		return fail(fmt.Sprintf("expected number, got %s", value.Raw))

	case KindBoolean:
		switch value.Type {
		case gjson.True, gjson.False:
			return value.Raw, nil
		case gjson.String:
			if b, err := strconv.ParseBool(value.Str); err == nil {
				return strconv.FormatBool(b), nil
			}
		}
		return fail(fmt.Sprintf("expected boolean, got %s", value.Raw))

	case KindString:
		switch value.Type {
		case gjson.String:
			return value.Raw, nil
		case gjson.Number, gjson.True, gjson.False:
			return quote(value.Raw)
		}
		return fail(fmt.Sprintf("expected string, got %s", value.Raw))

	case KindDateTime:
		if value.Type != gjson.String {
			return fail(fmt.Sprintf("expected date-time string, got %s", value.Raw))
		}
		if _, err := time.Parse(time.RFC3339Nano, value.Str); err != nil {
			return fail(fmt.Sprintf("expected RFC 3339 date-time, got %q", value.Str))
		}
		return value.Raw, nil

	case KindObject:
		if !value.IsObject() {
			return fail(fmt.Sprintf("expected object, got %s", value.Type))
		}
		if level == ConformRootOnly || len(t.Properties) == 0 {
			return value.Raw, nil
		}
		return conformObject(t.Properties, value, level, false, field+".")

	case KindArray:
		if !value.IsArray() {
			return fail(fmt.Sprintf("expected array, got %s", value.Type))
		}
		if level == ConformRootOnly || t.Items == nil {
			return value.Raw, nil
		}
		out := "[]"
		for i, item := range value.Array() {
			raw, err := conformValue(*t.Items, item, level, false, fmt.Sprintf("%s[%d]", field, i))
			if err != nil {
				return "", err
			}
			if out, err = sjson.SetRaw(out, "-1", raw); err != nil {
				return "", err
			}
		}
		return out, nil
	}
	return fail("has an unknown schema type")
}

func quote(s string) (string, error) {
	b, err := json.Marshal(s)
	return string(b), err
}

// escapePathComponent escapes the gjson/sjson path syntax characters in a
// literal field name.
func escapePathComponent(name string) string {
	var b strings.Builder
	for _, r := range name {
		switch r {
		case '.', '*', '?', '|', '#', '@', '\\':
			b.WriteRune('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
