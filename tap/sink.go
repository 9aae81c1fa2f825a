package tap

import (
	"bufio"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/tidwall/sjson"
)

// Sink receives the output of a sync.
type Sink interface {
	WriteSchema(stream *Stream) error
	// WriteRecord receives a conformed record as JSON.
	WriteRecord(stream *Stream, record string) error
	WriteState(state *State) error
}

type schemaMessage struct {
	Type               string         `json:"type"`
	Stream             string         `json:"stream"`
	Schema             map[string]any `json:"schema"`
	KeyProperties      []string       `json:"key_properties"`
	BookmarkProperties []string       `json:"bookmark_properties,omitempty"`
}

type stateMessage struct {
	Type  string `json:"type"`
	Value *State `json:"value"`
}

// MessageWriter writes Singer SCHEMA, RECORD and STATE messages as JSON lines.
type MessageWriter struct {
	mu  sync.Mutex
	w   *bufio.Writer
	now func() time.Time
}

func NewMessageWriter(w io.Writer) *MessageWriter {
	return &MessageWriter{w: bufio.NewWriter(w), now: time.Now}
}

func (m *MessageWriter) WriteSchema(stream *Stream) error {
	msg := schemaMessage{
		Type:          "SCHEMA",
		Stream:        stream.Name,
		Schema:        stream.Schema.JSONSchema(),
		KeyProperties: stream.PrimaryKeys,
	}
	if stream.IsIncremental() {
		msg.BookmarkProperties = []string{stream.ReplicationKey}
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode schema of stream %s %w", stream.Name, err)
	}
	return m.writeLine(b, false)
}

func (m *MessageWriter) WriteRecord(stream *Stream, record string) error {
	msg := `{"type":"RECORD"}`
	msg, err := sjson.Set(msg, "stream", stream.Name)
	if err == nil {
		msg, err = sjson.SetRaw(msg, "record", record)
	}
	if err == nil {
		msg, err = sjson.Set(msg, "time_extracted", m.now().UTC().Format(time.RFC3339Nano))
	}
	if err != nil {
		return fmt.Errorf("failed to encode record of stream %s %w", stream.Name, err)
	}
	return m.writeLine([]byte(msg), false)
}

// WriteState writes a STATE message and flushes everything before it.
func (m *MessageWriter) WriteState(state *State) error {
	b, err := json.Marshal(stateMessage{Type: "STATE", Value: state})
	if err != nil {
		return fmt.Errorf("failed to encode state %w", err)
	}
	return m.writeLine(b, true)
}

func (m *MessageWriter) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.w.Flush()
}

func (m *MessageWriter) writeLine(b []byte, flush bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.w.Write(b); err != nil {
		return err
	}
	if err := m.w.WriteByte('\n'); err != nil {
		return err
	}
	if flush {
		return m.w.Flush()
	}
	return nil
}
