package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/carelog/internal/ir"
)

func newValidator(t *testing.T) *Validator {
	t.Helper()
	v, err := New()
	require.NoError(t, err)
	return v
}

func fields(errs []ValidationError) []string {
	out := make([]string, len(errs))
	for i, e := range errs {
		out[i] = e.Field
	}
	return out
}

func TestValidator_Daily(t *testing.T) {
	v := newValidator(t)

	tests := []struct {
		name  string
		doc   map[string]any
		wantF []string
	}{
		{
			name: "valid",
			doc: map[string]any{
				"subject_id":         "pet-1",
				"date":               "2026-03-14",
				"fluid_volume_given": int64(120),
				"fluid_done":         true,
				"overall_score":      int64(72),
				"has_assessment":     true,
				"updated_at":         int64(1773478800000),
			},
		},
		{
			name: "negative counter and score out of range",
			doc: map[string]any{
				"subject_id":        "pet-1",
				"date":              "2026-03-14",
				"medication_missed": int64(-1),
				"comfort_score":     int64(140),
			},
			wantF: []string{"comfort_score", "medication_missed"},
		},
		{
			name:  "bad date key",
			doc:   map[string]any{"subject_id": "pet-1", "date": "14/03/2026"},
			wantF: []string{"date"},
		},
		{
			name: "extra legacy fields are allowed",
			doc: map[string]any{
				"subject_id": "pet-1",
				"date":       "2026-03-14",
				"notes":      "from the old app",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			errs := v.Validate(ir.DocDaily, tt.doc)
			if tt.wantF == nil {
				assert.Empty(t, errs)
				return
			}
			for _, f := range tt.wantF {
				assert.Contains(t, fields(errs), f)
			}
			for _, e := range errs {
				assert.Equal(t, ErrConstraint, e.Code)
			}
		})
	}
}

func TestValidator_MissingRequiredField(t *testing.T) {
	errs := newValidator(t).Validate(ir.DocDaily, map[string]any{"date": "2026-03-14"})
	assert.NotEmpty(t, errs)
}

func TestValidator_Monthly(t *testing.T) {
	v := newValidator(t)
	valid := map[string]any{
		"subject_id":         "pet-1",
		"month":              "2026-02",
		"daily_volume_given": []any{int64(100), int64(0), int64(150)},
		"adherence_bp":       int64(9500),
	}
	assert.Empty(t, v.Validate(ir.DocMonthly, valid))

	long := make([]any, 32)
	for i := range long {
		long[i] = int64(0)
	}
	errs := v.Validate(ir.DocMonthly, map[string]any{
		"subject_id":        "pet-1",
		"month":             "2026-02",
		"daily_doses_given": long,
		"adherence_bp":      int64(12000),
	})
	require.NotEmpty(t, errs)
	joined := ""
	for _, e := range errs {
		joined += e.Error() + "\n"
	}
	assert.Contains(t, joined, "adherence_bp")
	assert.Contains(t, joined, "daily_doses_given")
}

func TestValidator_Weekly(t *testing.T) {
	v := newValidator(t)
	assert.Empty(t, v.Validate(ir.DocWeekly, map[string]any{"subject_id": "pet-1", "week": "2026-W11"}))
	assert.NotEmpty(t, v.Validate(ir.DocWeekly, map[string]any{"subject_id": "pet-1", "week": "2026-11"}))
}

func TestValidator_UnknownKind(t *testing.T) {
	errs := newValidator(t).Validate(ir.DocSession, map[string]any{})
	require.Len(t, errs, 1)
	assert.Equal(t, ErrUnknownKind, errs[0].Code)
	assert.Equal(t, `[E200] no schema for "session" documents`, errs[0].Error())
}
