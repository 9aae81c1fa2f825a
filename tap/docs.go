package tap

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"slices"
	"strings"
)

// FieldDocRow represents a single row in the stream documentation.
type FieldDocRow struct {
	Stream       string
	FieldName    string // dotted path for nested fields, e.g. "couponSettings.couponPattern"
	FieldType    string
	IsPrimaryKey bool
	IsCursor     bool
	Notes        string
}

// StreamDocumentation describes the fields every stream emits.
type StreamDocumentation struct {
	Rows []FieldDocRow
}

// GenerateStreamDocumentation documents the streams of r in registration order.
// Fields keep their schema order; nested object fields follow their parent.
func GenerateStreamDocumentation(r *Registry) StreamDocumentation {
	doc := StreamDocumentation{Rows: []FieldDocRow{}}
	for _, s := range r.All() {
		for _, p := range s.Schema.Properties {
			processProperty(&doc.Rows, s, p, "", true)
		}
	}
	return doc
}

func processProperty(rows *[]FieldDocRow, s *Stream, p Property, prefix string, root bool) {
	name := prefix + p.Name
	row := FieldDocRow{
		Stream:       s.Name,
		FieldName:    name,
		FieldType:    typeName(p.Type),
		IsPrimaryKey: root && slices.Contains(s.PrimaryKeys, p.Name),
		IsCursor:     root && p.Name == s.ReplicationKey,
	}

	var notes []string
	if !root && s.Conformance == ConformRootOnly {
		notes = append(notes, "Passed through unchecked")
	}
	if p.Type.Kind == KindObject && len(p.Type.Properties) == 0 {
		notes = append(notes, "Free-form object")
	}
	if root && stampedFrom(s, p.Name) != "" {
		notes = append(notes, fmt.Sprintf("Filled from %s when missing", stampedFrom(s, p.Name)))
	}
	row.Notes = strings.Join(notes, " | ")
	*rows = append(*rows, row)

	if p.Type.Kind == KindObject {
		for _, nested := range p.Type.Properties {
			processProperty(rows, s, nested, name+".", false)
		}
	}
}

// stampedFrom returns the context key stamped onto field, if any.
func stampedFrom(s *Stream, field string) string {
	for _, key := range s.StampContext {
		if StampedField(key) == field {
			return key
		}
	}
	return ""
}

func typeName(t Type) string {
	if t.Kind == KindArray && t.Items != nil {
		return fmt.Sprintf("array of %s", typeName(*t.Items))
	}
	return t.Kind.String()
}

// FormatCSV formats the stream documentation as CSV.
func (d StreamDocumentation) FormatCSV() (string, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)

	headers := []string{"Stream", "Field", "Type", "Primary Key", "Replication Key", "Notes"}
	if err := writer.Write(headers); err != nil {
		return "", err
	}

	for _, row := range d.Rows {
		record := []string{row.Stream, row.FieldName, row.FieldType, mark(row.IsPrimaryKey), mark(row.IsCursor), row.Notes}
		if err := writer.Write(record); err != nil {
			return "", err
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func mark(b bool) string {
	if b {
		return "✓"
	}
	return ""
}
