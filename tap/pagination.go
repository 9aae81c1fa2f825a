package tap

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/tidwall/gjson"
)

// Page is one fetched API response together with the request URL that produced it.
type Page struct {
	URL    *url.URL
	Status int
	Body   []byte
}

// OffsetPaginator walks a skip/pageSize paginated listing.
//
// Whether another page exists is decided from the last page alone:
// an explicit hasMore flag wins, otherwise skip+len(data) is compared with
// totalResultSize, and anything else counts as exhausted.
type OffsetPaginator struct {
	pageSize int
	current  int
	finished bool
}

func NewOffsetPaginator(start int, pageSize int) *OffsetPaginator {
	return &OffsetPaginator{
		pageSize: pageSize,
		current:  start,
	}
}

// CurrentValue is the skip offset for the next request.
func (p *OffsetPaginator) CurrentValue() int {
	return p.current
}

func (p *OffsetPaginator) Finished() bool {
	return p.finished
}

// HasMore reports whether another page follows page.
func (p *OffsetPaginator) HasMore(page Page) (bool, error) {
	if !gjson.ValidBytes(page.Body) {
		return false, fmt.Errorf("%w: response body is not valid JSON", ErrInvalidPage)
	}
	body := gjson.ParseBytes(page.Body)

	if hasMore := body.Get("hasMore"); hasMore.Exists() && hasMore.Type != gjson.Null {
		return hasMore.Bool(), nil
	}

	// skip is recovered from the request itself rather than from p.current
	// so a resumed or externally driven walk stays consistent.
	skip, err := requestSkip(page.URL)
	if err != nil {
		return false, err
	}

	data := body.Get("data")
	total := body.Get("totalResultSize")
	if !data.IsArray() || total.Type != gjson.Number {
		return false, nil
	}
	records := data.Array()
	if len(records) == 0 {
		return false, nil
	}
	return int64(skip)+int64(len(records)) < total.Int(), nil
}

// Advance moves to the next offset, or marks the paginator finished when
// page was the last one. The step is always the page size, regardless of
// how many records page held.
func (p *OffsetPaginator) Advance(page Page) error {
	more, err := p.HasMore(page)
	if err != nil {
		return err
	}
	if !more {
		p.finished = true
		return nil
	}
	p.current += p.pageSize
	return nil
}

func requestSkip(u *url.URL) (int, error) {
	if u == nil {
		return 0, fmt.Errorf("%w: page has no request URL", ErrInvalidPage)
	}
	values, ok := u.Query()["skip"]
	if !ok || len(values) == 0 {
		return 0, fmt.Errorf("%w: request %s has no skip parameter", ErrInvalidPage, u.Redacted())
	}
	skip, err := strconv.Atoi(values[0])
	if err != nil {
		return 0, fmt.Errorf("%w: request skip %q is not an integer", ErrInvalidPage, values[0])
	}
	return skip, nil
}
