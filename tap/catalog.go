package tap

import (
	"fmt"
	"os"
	"slices"

	"github.com/goccy/go-json"
)

type Catalog struct {
	Streams []CatalogEntry `json:"streams"`
}

type CatalogEntry struct {
	TapStreamID   string          `json:"tap_stream_id"`
	Stream        string          `json:"stream"`
	Schema        map[string]any  `json:"schema"`
	KeyProperties []string        `json:"key_properties"`
	Metadata      []MetadataEntry `json:"metadata"`
}

type MetadataEntry struct {
	Breadcrumb []string       `json:"breadcrumb"`
	Metadata   map[string]any `json:"metadata"`
}

// Discover builds the catalog of every registered stream, all selected.
func Discover(r *Registry) Catalog {
	var catalog Catalog
	for _, s := range r.All() {
		catalog.Streams = append(catalog.Streams, catalogEntry(s))
	}
	return catalog
}

func catalogEntry(s *Stream) CatalogEntry {
	top := map[string]any{
		"inclusion":            "available",
		"selected":             true,
		"table-key-properties": s.PrimaryKeys,
	}
	if s.IsIncremental() {
		top["forced-replication-method"] = "INCREMENTAL"
		top["valid-replication-keys"] = []string{s.ReplicationKey}
	} else {
		top["forced-replication-method"] = "FULL_TABLE"
	}
	if !s.IsRoot() {
		top["parent-tap-stream-id"] = s.Parent
	}
	metadata := []MetadataEntry{{Breadcrumb: []string{}, Metadata: top}}
	for _, p := range s.Schema.Properties {
		inclusion := "available"
		if p.Name == s.ReplicationKey || slices.Contains(s.PrimaryKeys, p.Name) {
			inclusion = "automatic"
		}
		metadata = append(metadata, MetadataEntry{
			Breadcrumb: []string{"properties", p.Name},
			Metadata:   map[string]any{"inclusion": inclusion},
		})
	}
	return CatalogEntry{
		TapStreamID:   s.Name,
		Stream:        s.Name,
		Schema:        s.Schema.JSONSchema(),
		KeyProperties: s.PrimaryKeys,
		Metadata:      metadata,
	}
}

func ReadCatalogFile(name string) (Catalog, error) {
	var catalog Catalog
	b, err := os.ReadFile(name)
	if err != nil {
		return catalog, fmt.Errorf("failed to read catalog file %s %w", name, err)
	}
	if err := json.Unmarshal(b, &catalog); err != nil {
		return catalog, fmt.Errorf("failed to parse catalog file %s %w", name, err)
	}
	return catalog, nil
}

// Selection is the set of streams whose records are emitted. A nil
// Selection selects every stream.
type Selection map[string]bool

// Selection reads the top level "selected" metadata of every entry.
// Entries naming unknown streams are rejected.
func (c Catalog) Selection(r *Registry) (Selection, error) {
	selection := Selection{}
	for _, entry := range c.Streams {
		name := entry.TapStreamID
		if name == "" {
			name = entry.Stream
		}
		if _, ok := r.Stream(name); !ok {
			return nil, &ConfigError{Stream: name, Reason: "catalog names an unknown stream"}
		}
		selection[name] = entry.selected()
	}
	return selection, nil
}

func (e CatalogEntry) selected() bool {
	for _, m := range e.Metadata {
		if len(m.Breadcrumb) != 0 {
			continue
		}
		selected, _ := m.Metadata["selected"].(bool)
		return selected
	}
	return false
}

func (s Selection) Selected(name string) bool {
	if s == nil {
		return true
	}
	return s[name]
}

// NeedsTraversal reports whether name must be fetched, either because it
// is selected or because one of its descendants is.
func (s Selection) NeedsTraversal(r *Registry, name string) bool {
	if s.Selected(name) {
		return true
	}
	for _, d := range r.Descendants(name) {
		if s.Selected(d.Name) {
			return true
		}
	}
	return false
}
