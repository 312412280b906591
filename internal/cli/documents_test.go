package cli

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/carelog/internal/ir"
	"github.com/roach88/carelog/internal/schema"
)

func TestDecodeDocuments(t *testing.T) {
	docs, err := decodeDocuments([]byte(`  {"date": "2026-02-10", "fluid_sessions": 2, "goal": 1.5, "arr": [1, 2.0]}  `))
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, int64(2), docs[0]["fluid_sessions"])
	assert.Equal(t, 1.5, docs[0]["goal"])
	assert.Equal(t, []any{int64(1), int64(2)}, docs[0]["arr"])

	docs, err = decodeDocuments([]byte(`[{"date": "2026-02-10"}, {"week": "2026-W07"}]`))
	require.NoError(t, err)
	assert.Len(t, docs, 2)

	for _, in := range []string{"", "[1]", `"x"`, "{"} {
		_, err := decodeDocuments([]byte(in))
		assert.Error(t, err, "input %q", in)
	}
}

func TestDocumentKind(t *testing.T) {
	tests := []struct {
		doc  map[string]any
		want ir.DocumentKind
	}{
		{map[string]any{"date": "2026-02-10"}, ir.DocDaily},
		{map[string]any{"week": "2026-W07"}, ir.DocWeekly},
		{map[string]any{"month": "2026-02"}, ir.DocMonthly},
		{map[string]any{"month_start": "2026-02-01T00:00:00Z"}, ir.DocMonthly},
	}
	for _, tt := range tests {
		got, err := documentKind(tt.doc)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got)
	}

	_, err := documentKind(map[string]any{"fluid_sessions": int64(1)})
	assert.Error(t, err)
}

func TestExternalDocumentPassesSchema(t *testing.T) {
	v, err := schema.New()
	require.NoError(t, err)
	at := time.Date(2026, 2, 10, 9, 0, 0, 0, time.UTC)

	daily := ir.DailyKey("pet-1", at)
	doc, err := externalDocument(daily, map[string]any{
		ir.FieldFluidSessions: int64(1),
		ir.FieldFluidDone:     true,
		ir.FieldUpdatedAt:     at,
	}, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2026-02-10", doc[ir.FieldDate])
	assert.Equal(t, "pet-1", doc[ir.FieldSubjectID])
	assert.Equal(t, at.UnixMilli(), doc[ir.FieldUpdatedAt])
	assert.Empty(t, v.Validate(ir.DocDaily, doc))

	monthly := ir.MonthlyKey("pet-1", at)
	doc, err = externalDocument(monthly, map[string]any{
		ir.IndexedField(ir.FieldDailyVolumeGiven, 9): int64(120),
		ir.FieldTotalFluidSession:                    int64(1),
	}, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "2026-02", doc[ir.FieldMonth])
	arr, ok := doc[ir.FieldDailyVolumeGiven].([]any)
	require.True(t, ok)
	require.Len(t, arr, 28)
	assert.Equal(t, int64(120), arr[9])
	assert.Empty(t, v.Validate(ir.DocMonthly, doc))

	doc[ir.FieldDailyVolumeGiven] = []any{int64(-1)}
	assert.NotEmpty(t, v.Validate(ir.DocMonthly, doc))
}
