package tap

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/tidwall/gjson"
	"go.uber.org/zap"

	"github.com/homemade/tap-talonone/logger"
)

// PageFetcher issues one page request of a stream.
type PageFetcher interface {
	FetchPage(ctx context.Context, stream string, path string, params url.Values) (Page, error)
}

// Syncer walks the stream tree depth first: every record is emitted before
// its children are fetched, and a record's children are exhausted before
// the next record of its page is handled.
// It embeds *SyncContext for shared run configuration.
type Syncer struct {
	*SyncContext
	Registry  *Registry
	Fetcher   PageFetcher
	Sink      Sink
	State     *State
	Selection Selection

	start    time.Time
	visited  map[string]bool
	tracker  *bookmarkTracker
	counts   map[string]int
	warnings map[string]bool
}

func NewSyncer(sc *SyncContext, registry *Registry, fetcher PageFetcher, sink Sink, state *State, selection Selection) *Syncer {
	if state == nil {
		state = NewState()
	}
	return &Syncer{
		SyncContext: sc,
		Registry:    registry,
		Fetcher:     fetcher,
		Sink:        sink,
		State:       state,
		Selection:   selection,
	}
}

// Counts returns the number of records emitted per stream by the last Sync.
func (s *Syncer) Counts() map[string]int {
	counts := make(map[string]int, len(s.counts))
	for k, v := range s.counts {
		counts[k] = v
	}
	return counts
}

// Sync runs every root stream that is selected or has a selected
// descendant. It stops at the first failure; records already written
// stay written.
func (s *Syncer) Sync(ctx context.Context) error {
	start, err := s.Config.StartTime()
	if err != nil {
		return err
	}
	s.start = start
	s.visited = map[string]bool{}
	s.tracker = newBookmarkTracker()
	s.counts = map[string]int{}
	s.warnings = map[string]bool{}
	ctx = context.WithValue(ctx, logger.RunIDKey, s.RunID)

	for _, stream := range s.Registry.All() {
		if !s.Selection.Selected(stream.Name) {
			continue
		}
		if err := s.Sink.WriteSchema(stream); err != nil {
			return fmt.Errorf("failed to write schema of stream %s %w", stream.Name, err)
		}
	}

	for _, root := range s.Registry.Roots() {
		if !s.Selection.NeedsTraversal(s.Registry, root.Name) {
			continue
		}
		began := time.Now()
		if err := s.syncStream(ctx, root, s.RootContext()); err != nil {
			return err
		}
		tree := append([]*Stream{root}, s.Registry.Descendants(root.Name)...)
		if s.tracker.flush(s.State, tree) {
			if err := s.Sink.WriteState(s.State.Clone()); err != nil {
				return fmt.Errorf("failed to write state after stream %s %w", root.Name, err)
			}
		}
		logger.WithContext(ctx).Info("synced stream tree",
			zap.String("stream", root.Name),
			zap.Int("records", s.counts[root.Name]),
			zap.Duration("took", time.Since(began)),
		)
	}
	return nil
}

func (s *Syncer) syncStream(ctx context.Context, stream *Stream, sctx StreamContext) error {
	ctx = context.WithValue(ctx, logger.StreamKey, stream.Name)
	log := logger.WithContext(ctx).With(zap.Stringer("context", sctx))

	partition := stream.Name + "?" + sctx.String()
	if s.visited[partition] {
		log.Debug("partition already synced in this run, skipping")
		return nil
	}
	s.visited[partition] = true

	path, err := stream.ResolvePath(sctx)
	if err != nil {
		return err
	}

	var lowerBound time.Time
	if stream.IsIncremental() {
		if lowerBound, err = s.State.LowerBound(stream.Name, s.start); err != nil {
			return err
		}
	}

	pageSize := s.Config.PageSizeFor(stream.Name)
	paginator := NewOffsetPaginator(0, stream.PageStep(pageSize))
	var children []*Stream
	for _, child := range s.Registry.Children(stream.Name) {
		if s.Selection.NeedsTraversal(s.Registry, child.Name) {
			children = append(children, child)
		}
	}
	p := partitionRun{
		stream:   stream,
		context:  sctx,
		emit:     s.Selection.Selected(stream.Name),
		children: children,
		seen:     map[string]bool{},
	}

	for !paginator.Finished() {
		if err := ctx.Err(); err != nil {
			return err
		}
		params := stream.RequestParams(paginator.CurrentValue(), pageSize, lowerBound)
		page, err := s.Fetcher.FetchPage(ctx, stream.Name, path, params)
		if err != nil {
			return err
		}
		if !gjson.ValidBytes(page.Body) {
			return fmt.Errorf("stream %s: %s: %w: response body is not valid JSON", stream.Name, pageURL(page), ErrInvalidPage)
		}
		records := stream.Records(page.Body)
		log.Debug("fetched page", zap.Int("skip", paginator.CurrentValue()), zap.Int("records", len(records)))
		for _, record := range records {
			if err := s.syncRecord(ctx, p, record); err != nil {
				return err
			}
		}
		if err := paginator.Advance(page); err != nil {
			return fmt.Errorf("stream %s: %s: %w", stream.Name, pageURL(page), err)
		}
	}
	return nil
}

// partitionRun is the state of one (stream, context) traversal.
type partitionRun struct {
	stream   *Stream
	context  StreamContext
	emit     bool
	children []*Stream
	// seen holds the primary keys emitted so far in this partition.
	seen map[string]bool
}

func (s *Syncer) syncRecord(ctx context.Context, p partitionRun, raw gjson.Result) error {
	stream := p.stream
	record, keep, err := stream.ApplyPostProcess(raw.Raw, p.context)
	if err != nil {
		return fmt.Errorf("stream %s: failed to post process record %w", stream.Name, err)
	}
	if !keep {
		s.Metrics.observeDropped(stream.Name, "post_process")
		return nil
	}

	conformed, dropped, err := stream.Schema.Conform(gjson.Parse(record), stream.Conformance)
	if err != nil {
		var fieldErr *FieldError
		if errors.As(err, &fieldErr) {
			return &ValidationError{Stream: stream.Name, Field: fieldErr.Field, Reason: fieldErr.Reason}
		}
		return &ValidationError{Stream: stream.Name, Reason: err.Error()}
	}
	s.warnUndeclared(ctx, stream, dropped)

	emitted := gjson.Parse(conformed)
	key, err := stream.PrimaryKeyOf(emitted)
	if err != nil {
		return err
	}
	if p.seen[key] {
		logger.WithContext(ctx).Warn("dropping record with duplicate primary key",
			zap.String("key", key),
			zap.Stringer("context", p.context),
		)
		s.Metrics.observeDropped(stream.Name, "duplicate_key")
		return nil
	}
	p.seen[key] = true

	if p.emit {
		if err := s.Sink.WriteRecord(stream, conformed); err != nil {
			return fmt.Errorf("failed to write record of stream %s %w", stream.Name, err)
		}
		s.counts[stream.Name]++
		s.Metrics.observeRecord(stream.Name)
		// only emitted records move the bookmark
		if stream.IsIncremental() {
			s.observeReplicationKey(ctx, stream, emitted)
		}
	}

	if len(p.children) == 0 {
		return nil
	}
	derived, err := stream.DeriveChildContext(gjson.Parse(record), p.context)
	if err != nil {
		return err
	}
	childContext := p.context.Merge(derived)
	for _, child := range p.children {
		if err := s.syncStream(ctx, child, childContext); err != nil {
			return err
		}
	}
	return nil
}

func (s *Syncer) observeReplicationKey(ctx context.Context, stream *Stream, record gjson.Result) {
	value := record.Get(escapePathComponent(stream.ReplicationKey))
	if value.Type != gjson.String {
		return
	}
	t, err := time.Parse(time.RFC3339Nano, value.Str)
	if err != nil {
		logger.WithContext(ctx).Warn("replication key is not a timestamp",
			zap.String("value", value.Str),
		)
		return
	}
	s.tracker.observe(stream.Name, t)
}

// warnUndeclared logs each undeclared field once per stream.
func (s *Syncer) warnUndeclared(ctx context.Context, stream *Stream, fields []string) {
	for _, field := range fields {
		key := stream.Name + "." + field
		if s.warnings[key] {
			continue
		}
		s.warnings[key] = true
		logger.WithContext(ctx).Warn("dropping field missing from schema",
			zap.String("field", field),
		)
	}
}

func pageURL(page Page) string {
	if page.URL == nil {
		return "<unknown url>"
	}
	return page.URL.Redacted()
}
