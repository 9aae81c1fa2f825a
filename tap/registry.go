package tap

import (
	"fmt"
	"strings"
)

// Registry is the stream tree: root streams in registration order, each
// with its child streams.
type Registry struct {
	streams  []*Stream
	byName   map[string]*Stream
	children map[string][]*Stream
}

// NewRegistry links streams by their Parent names. Duplicate names,
// unknown parents and parent cycles are rejected.
func NewRegistry(streams ...*Stream) (*Registry, error) {
	r := &Registry{
		byName:   make(map[string]*Stream, len(streams)),
		children: make(map[string][]*Stream),
	}
	for _, s := range streams {
		if s.Name == "" {
			return nil, &ConfigError{Reason: fmt.Sprintf("stream with path %s has no name", s.Path)}
		}
		if _, exists := r.byName[s.Name]; exists {
			return nil, &ConfigError{Stream: s.Name, Reason: "stream is registered twice"}
		}
		r.byName[s.Name] = s
		r.streams = append(r.streams, s)
	}
	for _, s := range r.streams {
		if s.IsRoot() {
			continue
		}
		if _, ok := r.byName[s.Parent]; !ok {
			return nil, &ConfigError{Stream: s.Name, Reason: fmt.Sprintf("unknown parent stream %q", s.Parent)}
		}
		r.children[s.Parent] = append(r.children[s.Parent], s)
	}
	for _, s := range r.streams {
		if err := r.checkAncestry(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// DefaultRegistry registers every Talon.One stream.
func DefaultRegistry() *Registry {
	r, err := NewRegistry(Streams()...)
	if err != nil {
		panic(err)
	}
	return r
}

func (r *Registry) checkAncestry(s *Stream) error {
	seen := map[string]bool{s.Name: true}
	path := []string{s.Name}
	for current := s; !current.IsRoot(); {
		current = r.byName[current.Parent]
		path = append(path, current.Name)
		if seen[current.Name] {
			return &ConfigError{Stream: s.Name, Reason: fmt.Sprintf("parent cycle %s", strings.Join(path, " -> "))}
		}
		seen[current.Name] = true
	}
	return nil
}

// All returns every stream in registration order.
func (r *Registry) All() []*Stream {
	return append([]*Stream(nil), r.streams...)
}

func (r *Registry) Roots() []*Stream {
	var roots []*Stream
	for _, s := range r.streams {
		if s.IsRoot() {
			roots = append(roots, s)
		}
	}
	return roots
}

func (r *Registry) Children(name string) []*Stream {
	return append([]*Stream(nil), r.children[name]...)
}

func (r *Registry) Stream(name string) (*Stream, bool) {
	s, ok := r.byName[name]
	return s, ok
}

// Descendants returns every stream below name, depth first.
func (r *Registry) Descendants(name string) []*Stream {
	var result []*Stream
	for _, child := range r.children[name] {
		result = append(result, child)
		result = append(result, r.Descendants(child.Name)...)
	}
	return result
}
