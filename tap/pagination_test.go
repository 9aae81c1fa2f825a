// go test github.com/homemade/tap-talonone/tap -v
package tap

import (
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testPage(t *testing.T, rawURL string, body string) Page {
	t.Helper()
	u, err := url.Parse(rawURL)
	require.NoError(t, err)
	return Page{URL: u, Status: 200, Body: []byte(body)}
}

func TestOffsetPaginator_HasMoreFlagWins(t *testing.T) {
	paginator := NewOffsetPaginator(0, 5)
	tests := []struct {
		name     string
		body     string
		expected bool
	}{
		{"true with empty data", `{"hasMore":true,"data":[]}`, true},
		{"true past total", `{"hasMore":true,"data":[{"id":1}],"totalResultSize":1}`, true},
		{"false with full page", `{"hasMore":false,"data":[{"id":1},{"id":2},{"id":3},{"id":4},{"id":5}],"totalResultSize":100}`, false},
		{"false alone", `{"hasMore":false}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// hasMore is trusted even when the request carries no skip
			more, err := paginator.HasMore(testPage(t, "https://example.talon.one/v1/applications", tt.body))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, more)
		})
	}
}

func TestOffsetPaginator_TotalResultSize(t *testing.T) {
	paginator := NewOffsetPaginator(0, 5)
	data := `[{"id":1},{"id":2},{"id":3},{"id":4},{"id":5}]`

	more, err := paginator.HasMore(testPage(t, "https://example.talon.one/v1/applications?skip=20&pageSize=5", `{"data":`+data+`,"totalResultSize":30}`))
	require.NoError(t, err)
	assert.True(t, more, "20+5 < 30")

	more, err = paginator.HasMore(testPage(t, "https://example.talon.one/v1/applications?skip=20&pageSize=5", `{"data":`+data+`,"totalResultSize":25}`))
	require.NoError(t, err)
	assert.False(t, more, "20+5 == 25")
}

func TestOffsetPaginator_Exhausted(t *testing.T) {
	paginator := NewOffsetPaginator(0, 5)
	tests := []struct {
		name string
		body string
	}{
		{"empty data with large total", `{"data":[],"totalResultSize":1000000}`},
		{"no signals", `{"foo":"bar"}`},
		{"data without total", `{"data":[{"id":1}]}`},
		{"null hasMore and no total", `{"hasMore":null,"data":[{"id":1}]}`},
		{"total is not a number", `{"data":[{"id":1}],"totalResultSize":"many"}`},
		{"single object", `{"id":1,"companyName":"Acme"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			more, err := paginator.HasMore(testPage(t, "https://example.talon.one/v1/applications?skip=0", tt.body))
			require.NoError(t, err)
			assert.False(t, more)
		})
	}
}

func TestOffsetPaginator_Errors(t *testing.T) {
	paginator := NewOffsetPaginator(0, 5)

	_, err := paginator.HasMore(testPage(t, "https://example.talon.one/v1/applications?skip=0", `{"data":[`))
	assert.ErrorIs(t, err, ErrInvalidPage)

	_, err = paginator.HasMore(testPage(t, "https://example.talon.one/v1/applications", `{"data":[{"id":1}],"totalResultSize":9}`))
	assert.ErrorIs(t, err, ErrInvalidPage, "skip is needed when hasMore is absent")

	_, err = paginator.HasMore(testPage(t, "https://example.talon.one/v1/applications?skip=abc", `{"data":[{"id":1}],"totalResultSize":9}`))
	assert.ErrorIs(t, err, ErrInvalidPage)

	_, err = paginator.HasMore(Page{Body: []byte(`{"data":[]}`)})
	assert.ErrorIs(t, err, ErrInvalidPage)
}

func TestOffsetPaginator_AdvanceStepsByPageSize(t *testing.T) {
	paginator := NewOffsetPaginator(0, 5)
	assert.Equal(t, 0, paginator.CurrentValue())

	// a short page still advances by the full page size
	require.NoError(t, paginator.Advance(testPage(t, "https://example.talon.one/v1/coupons?skip=0", `{"hasMore":true,"data":[{"id":1}]}`)))
	assert.Equal(t, 5, paginator.CurrentValue())
	assert.False(t, paginator.Finished())

	require.NoError(t, paginator.Advance(testPage(t, "https://example.talon.one/v1/coupons?skip=5", `{"data":[{"id":6}],"totalResultSize":12}`)))
	assert.Equal(t, 10, paginator.CurrentValue())

	require.NoError(t, paginator.Advance(testPage(t, "https://example.talon.one/v1/coupons?skip=10", `{"data":[{"id":11},{"id":12}],"totalResultSize":12}`)))
	assert.True(t, paginator.Finished())
	assert.Equal(t, 10, paginator.CurrentValue())
}
