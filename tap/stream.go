package tap

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"time"

	"github.com/tidwall/gjson"
)

const (
	// CreatedAfterFormat is the layout of the createdAfter filter, e.g. 2024-01-01T00:00:00.000000Z.
	CreatedAfterFormat = "2006-01-02T15:04:05.000000Z"
	// RecordsPathList selects the records array of a listing response.
	RecordsPathList = "data"
	// RecordsPathSingle treats the whole response body as the only record.
	RecordsPathSingle = "@this"
	// ServerDefaultPageSize is the page size the API applies when no pageSize is sent.
	ServerDefaultPageSize = 1000
)

var placeholderPattern = regexp.MustCompile(`\{([A-Za-z0-9_]+)\}`)

// ChildContextFunc maps an emitted record and the context it was fetched
// under to the bindings its child streams need.
type ChildContextFunc func(record gjson.Result, parent StreamContext) (StreamContext, error)

// PostProcessFunc transforms a raw record before it is conformed and emitted.
// Returning false drops the record.
type PostProcessFunc func(record string, c StreamContext) (string, bool, error)

// Stream is the fetch contract of one REST resource.
type Stream struct {
	Name           string
	Path           string
	PrimaryKeys    []string
	ReplicationKey string
	// Parent names the stream this one is nested under; empty for root streams.
	Parent      string
	RecordsPath string
	Schema      Schema
	Conformance ConformanceLevel
	// OmitPageSize leaves pageSize out of requests; the server default then
	// sets the page length and the offset step.
	OmitPageSize bool
	// StampContext lists context keys copied onto records that lack the
	// matching camel-cased field.
	StampContext []string
	ChildContext ChildContextFunc
	PostProcess  PostProcessFunc
}

func (s *Stream) IsRoot() bool {
	return s.Parent == ""
}

func (s *Stream) IsIncremental() bool {
	return s.ReplicationKey != ""
}

// PageStep is the offset increment between two requests of this stream.
func (s *Stream) PageStep(pageSize int) int {
	if s.OmitPageSize {
		return ServerDefaultPageSize
	}
	return pageSize
}

// RequestParams builds the query for the page at offset token. createdAfter
// is only sent for replication-keyed streams and only when non-zero.
func (s *Stream) RequestParams(token int, pageSize int, createdAfter time.Time) url.Values {
	params := url.Values{}
	params.Set("skip", strconv.Itoa(token))
	if !s.OmitPageSize {
		params.Set("pageSize", strconv.Itoa(pageSize))
	}
	if s.IsIncremental() && !createdAfter.IsZero() {
		params.Set("createdAfter", createdAfter.UTC().Format(CreatedAfterFormat))
	}
	return params
}

// ResolvePath fills the path template from c. Every placeholder must be bound.
func (s *Stream) ResolvePath(c StreamContext) (string, error) {
	var missing []string
	path := placeholderPattern.ReplaceAllStringFunc(s.Path, func(m string) string {
		key := m[1 : len(m)-1]
		v, ok := c.Get(key)
		if !ok || v == nil {
			missing = append(missing, key)
			return m
		}
		return url.PathEscape(fmt.Sprint(v))
	})
	if len(missing) > 0 {
		return "", &ConfigError{
			Stream: s.Name,
			Reason: fmt.Sprintf("unresolved path placeholders %v in %s (context: %s)", missing, s.Path, c),
		}
	}
	return path, nil
}

// Records extracts the records of a page body.
func (s *Stream) Records(body []byte) []gjson.Result {
	path := s.RecordsPath
	if path == "" {
		path = RecordsPathList
	}
	result := gjson.GetBytes(body, path)
	switch {
	case result.IsArray():
		return result.Array()
	case result.IsObject():
		return []gjson.Result{result}
	default:
		return nil
	}
}

// DeriveChildContext returns the bindings this stream's children need for record.
func (s *Stream) DeriveChildContext(record gjson.Result, parent StreamContext) (StreamContext, error) {
	if s.ChildContext == nil {
		return StreamContext{}, nil
	}
	derived, err := s.ChildContext(record, parent)
	var verr *ValidationError
	if errors.As(err, &verr) && verr.Stream == "" {
		verr.Stream = s.Name
	}
	return derived, err
}

// ApplyPostProcess stamps context fields onto record and then runs the
// stream's PostProcess hook, if any.
func (s *Stream) ApplyPostProcess(record string, c StreamContext) (string, bool, error) {
	if len(s.StampContext) > 0 {
		var err error
		if record, err = stampContext(record, c, s.StampContext); err != nil {
			return "", false, err
		}
	}
	if s.PostProcess == nil {
		return record, true, nil
	}
	return s.PostProcess(record, c)
}

// PrimaryKeyOf renders the primary key values of a conformed record.
// Every key field must be present and non-null.
func (s *Stream) PrimaryKeyOf(record gjson.Result) (string, error) {
	key := ""
	for i, k := range s.PrimaryKeys {
		v := record.Get(escapePathComponent(k))
		if !v.Exists() || v.Type == gjson.Null {
			return "", &ValidationError{Stream: s.Name, Field: k, Reason: "is a primary key and must not be empty"}
		}
		if i > 0 {
			key += "|"
		}
		key += v.Raw
	}
	return key, nil
}

// bindFromRecord builds a ChildContextFunc binding each context key to a
// field of the parent record, on top of the parent's own bindings.
func bindFromRecord(bindings map[string]string) ChildContextFunc {
	return func(record gjson.Result, parent StreamContext) (StreamContext, error) {
		derived := map[string]any{}
		for key, field := range bindings {
			v, ok := contextValue(record.Get(escapePathComponent(field)))
			if !ok {
				return StreamContext{}, &ValidationError{
					Reason: fmt.Sprintf("field %q is needed to bind %s for child streams but is missing", field, key),
				}
			}
			derived[key] = v
		}
		return parent.Merge(NewStreamContext(derived)), nil
	}
}
