package tap

import (
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func findRow(rows []FieldDocRow, stream string, field string) (FieldDocRow, bool) {
	for _, row := range rows {
		if row.Stream == stream && row.FieldName == field {
			return row, true
		}
	}
	return FieldDocRow{}, false
}

func TestGenerateStreamDocumentation(t *testing.T) {
	doc := GenerateStreamDocumentation(DefaultRegistry())

	id, ok := findRow(doc.Rows, "users", "id")
	require.True(t, ok)
	assert.True(t, id.IsPrimaryKey)
	assert.Equal(t, "integer", id.FieldType)

	created, ok := findRow(doc.Rows, "referrals", "created")
	require.True(t, ok)
	assert.True(t, created.IsCursor)
	assert.Equal(t, "date-time", created.FieldType)

	roles, ok := findRow(doc.Rows, "users", "roles")
	require.True(t, ok)
	assert.Equal(t, "array of integer", roles.FieldType)

	appID, ok := findRow(doc.Rows, "campaigns", "applicationId")
	require.True(t, ok)
	assert.Equal(t, "Filled from application_id when missing", appID.Notes)

	pattern, ok := findRow(doc.Rows, "campaigns", "couponSettings.couponPattern")
	require.True(t, ok)
	assert.False(t, pattern.IsPrimaryKey)
	assert.Equal(t, "Passed through unchecked", pattern.Notes)

	attributes, ok := findRow(doc.Rows, "coupons", "attributes")
	require.True(t, ok)
	assert.Equal(t, "Free-form object", attributes.Notes)
}

func TestStreamDocumentation_FormatCSV(t *testing.T) {
	doc := StreamDocumentation{Rows: []FieldDocRow{
		{Stream: "friends", FieldName: "sessionId", FieldType: "string", IsPrimaryKey: true},
		{Stream: "friends", FieldName: "created", FieldType: "date-time", IsCursor: true, Notes: "a, b"},
	}}
	out, err := doc.FormatCSV()
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(out)).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"Stream", "Field", "Type", "Primary Key", "Replication Key", "Notes"},
		{"friends", "sessionId", "string", "✓", "", ""},
		{"friends", "created", "date-time", "", "✓", "a, b"},
	}, records)
}
