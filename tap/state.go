package tap

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/goccy/go-json"
)

// Bookmark is the replication progress of one stream.
type Bookmark struct {
	ReplicationKey      string `json:"replication_key"`
	ReplicationKeyValue string `json:"replication_key_value"`
}

// State is the Singer state document.
type State struct {
	Bookmarks map[string]Bookmark `json:"bookmarks"`
}

func NewState() *State {
	return &State{Bookmarks: map[string]Bookmark{}}
}

// ReadStateFile loads a state document; a missing name means empty state.
func ReadStateFile(name string) (*State, error) {
	if name == "" {
		return NewState(), nil
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s %w", name, err)
	}
	return ParseState(b)
}

func ParseState(b []byte) (*State, error) {
	state := NewState()
	if len(b) == 0 {
		return state, nil
	}
	if err := json.Unmarshal(b, state); err != nil {
		return nil, fmt.Errorf("failed to parse state %w", err)
	}
	if state.Bookmarks == nil {
		state.Bookmarks = map[string]Bookmark{}
	}
	return state, nil
}

// Bookmark returns the persisted cursor of stream as a time.
func (s *State) Bookmark(stream string) (time.Time, bool, error) {
	b, ok := s.Bookmarks[stream]
	if !ok || b.ReplicationKeyValue == "" {
		return time.Time{}, false, nil
	}
	t, err := time.Parse(time.RFC3339Nano, b.ReplicationKeyValue)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("bookmark of stream %s is not a timestamp %w", stream, err)
	}
	return t, true, nil
}

// SetBookmark stores value for stream only when it is later than the
// bookmark already held. It reports whether the state changed.
func (s *State) SetBookmark(stream string, key string, value time.Time) bool {
	current, ok, err := s.Bookmark(stream)
	if err == nil && ok && !value.After(current) {
		return false
	}
	s.Bookmarks[stream] = Bookmark{
		ReplicationKey:      key,
		ReplicationKeyValue: value.UTC().Format(time.RFC3339Nano),
	}
	return true
}

// Streams lists the bookmarked streams in sorted order.
func (s *State) Streams() []string {
	names := make([]string, 0, len(s.Bookmarks))
	for name := range s.Bookmarks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy, so emitted STATE messages are snapshots.
func (s *State) Clone() *State {
	clone := NewState()
	for k, v := range s.Bookmarks {
		clone.Bookmarks[k] = v
	}
	return clone
}

// LowerBound is the createdAfter value for stream: the later of start and
// the stream's bookmark.
func (s *State) LowerBound(stream string, start time.Time) (time.Time, error) {
	bookmark, ok, err := s.Bookmark(stream)
	if err != nil {
		return time.Time{}, err
	}
	if ok && bookmark.After(start) {
		return bookmark, nil
	}
	return start, nil
}

// bookmarkTracker keeps the maximum replication key value seen per stream
// during a run.
type bookmarkTracker struct {
	max map[string]time.Time
}

func newBookmarkTracker() *bookmarkTracker {
	return &bookmarkTracker{max: map[string]time.Time{}}
}

func (t *bookmarkTracker) observe(stream string, value time.Time) {
	if current, ok := t.max[stream]; !ok || value.After(current) {
		t.max[stream] = value
	}
}

// flush writes the tracked maxima of streams into state and reports
// whether anything advanced.
func (t *bookmarkTracker) flush(state *State, streams []*Stream) bool {
	changed := false
	for _, s := range streams {
		value, ok := t.max[s.Name]
		if !ok || !s.IsIncremental() {
			continue
		}
		if state.SetBookmark(s.Name, s.ReplicationKey, value) {
			changed = true
		}
	}
	return changed
}
