package ir

import (
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

// DocumentKind names a document collection.
type DocumentKind string

const (
	DocSession    DocumentKind = "session"
	DocAssessment DocumentKind = "assessment"
	DocDaily      DocumentKind = "daily"
	DocWeekly     DocumentKind = "weekly"
	DocMonthly    DocumentKind = "monthly"
)

// Field names shared by daily and weekly documents.
const (
	FieldDosesGiven        = "medication_doses_given"
	FieldDosesScheduled    = "medication_doses_scheduled"
	FieldMissed            = "medication_missed"
	FieldMedicationDone    = "medication_done"
	FieldVolumeGiven       = "fluid_volume_given"
	FieldFluidSessions     = "fluid_sessions"
	FieldFluidScheduled    = "fluid_sessions_scheduled"
	FieldFluidDone         = "fluid_done"
	FieldSymptomCount      = "symptom_count"
	FieldSymptomSeverity   = "symptom_severity"
	FieldStreak            = "streak"
	FieldHasAssessment     = "has_assessment"
	FieldUpdatedAt         = "updated_at"
	FieldSubjectID         = "subject_id"
	FieldDate              = "date"
	FieldWeek              = "week"
	FieldMonth             = "month"
	FieldTotalVolumeGiven  = "total_volume_given"
	FieldTotalDosesGiven   = "total_doses_given"
	FieldTotalDosesSched   = "total_doses_scheduled"
	FieldTotalFluidSession = "total_fluid_sessions"
)

// Monthly per-day array field names.
const (
	FieldDailyVolumeGiven    = "daily_volume_given"
	FieldDailyVolumeGoal     = "daily_volume_goal"
	FieldDailyFluidScheduled = "daily_fluid_scheduled"
	FieldDailyDosesGiven     = "daily_doses_given"
	FieldDailyDosesSched     = "daily_doses_scheduled"
)

// MonthlyArrayFields lists the per-day arrays in a stable order.
var MonthlyArrayFields = []string{
	FieldDailyVolumeGiven,
	FieldDailyVolumeGoal,
	FieldDailyFluidScheduled,
	FieldDailyDosesGiven,
	FieldDailyDosesSched,
}

// DocumentKey addresses one document of one subject.
type DocumentKey struct {
	SubjectID string       `json:"subject_id"`
	Kind      DocumentKind `json:"kind"`
	ID        string       `json:"id"`
}

// String formats the key as subject/kind/id.
func (k DocumentKey) String() string {
	return k.SubjectID + "/" + string(k.Kind) + "/" + k.ID
}

// DailyKey returns the daily aggregate key for the day of t.
func DailyKey(subjectID string, t time.Time) DocumentKey {
	return DocumentKey{SubjectID: subjectID, Kind: DocDaily, ID: DateKey(t)}
}

// WeeklyKey returns the weekly aggregate key for the ISO week of t.
func WeeklyKey(subjectID string, t time.Time) DocumentKey {
	return DocumentKey{SubjectID: subjectID, Kind: DocWeekly, ID: WeekKey(t)}
}

// MonthlyKey returns the monthly aggregate key for the month of t.
func MonthlyKey(subjectID string, t time.Time) DocumentKey {
	return DocumentKey{SubjectID: subjectID, Kind: DocMonthly, ID: MonthKey(t)}
}

// WriteMode selects how a DocumentWrite is applied.
type WriteMode int

const (
	// WriteMerge applies FieldOps to the document, creating it if absent.
	WriteMerge WriteMode = iota + 1
	// WriteReplace stores Body as the whole document.
	WriteReplace
	// WriteDelete removes the document.
	WriteDelete
)

// String returns the mode name.
func (m WriteMode) String() string {
	switch m {
	case WriteMerge:
		return "merge"
	case WriteReplace:
		return "replace"
	case WriteDelete:
		return "delete"
	default:
		return fmt.Sprintf("WriteMode(%d)", int(m))
	}
}

// DocumentWrite is one document change inside a Batch.
type DocumentWrite struct {
	Key    DocumentKey
	Mode   WriteMode
	Fields FieldOps  // WriteMerge only
	Body   []byte    // WriteReplace only, JSON
	SortAt time.Time // WriteReplace only, ordering for FetchRecent
	At     time.Time // modification time
}

// Batch groups the writes of one logical action. A store must apply all of
// them or none.
type Batch struct {
	ID        string
	SubjectID string
	Nonce     string
	Writes    []DocumentWrite
}

// Keys returns the document keys touched by the batch in order.
func (b Batch) Keys() []DocumentKey {
	keys := make([]DocumentKey, len(b.Writes))
	for i, w := range b.Writes {
		keys[i] = w.Key
	}
	return keys
}

// Cursor marks the position after the last item of a FetchRecent page.
type Cursor struct {
	Before time.Time
	ID     string
}

// IndexedField names entry idx of a per-day array, e.g. "daily_doses_given.14".
func IndexedField(name string, idx int) string {
	return name + "." + strconv.Itoa(idx)
}

// SplitIndexedField reverses IndexedField.
func SplitIndexedField(field string) (name string, idx int, ok bool) {
	dot := strings.LastIndexByte(field, '.')
	if dot <= 0 || dot == len(field)-1 {
		return "", 0, false
	}
	n, err := strconv.Atoi(field[dot+1:])
	if err != nil || n < 0 {
		return "", 0, false
	}
	return field[:dot], n, true
}

// ApplyOps applies field operations to a flat document map in place.
// Integer fields hold int64, flags hold bool, stamps hold time.Time.
// Used by in-memory stores; the SQLite store applies the same semantics in SQL.
func ApplyOps(doc map[string]any, ops FieldOps) error {
	for _, k := range ops.SortedKeys() {
		switch v := ops[k].(type) {
		case Increment:
			cur, _ := doc[k].(int64)
			doc[k] = cur + int64(v)
		case Assign:
			switch val := v.Value.(type) {
			case Int:
				doc[k] = int64(val)
			case Bool:
				doc[k] = bool(val)
			default:
				return fmt.Errorf("field %q: unsupported value %T", k, v.Value)
			}
		case Unset:
			delete(doc, k)
		case Stamp:
			doc[k] = v.Time()
		default:
			return fmt.Errorf("field %q: unsupported op %T", k, ops[k])
		}
	}
	return nil
}

// ExpandIndexed returns a copy of doc with "name.N" fields gathered into
// []any arrays under "name". Missing entries become int64(0). Arrays hold at
// least n entries; entries past n are kept so a reader can report them.
func ExpandIndexed(doc map[string]any, n int) map[string]any {
	out := make(map[string]any, len(doc))
	arrays := make(map[string]map[int]any)
	for k, v := range doc {
		name, idx, ok := SplitIndexedField(k)
		if !ok || !slices.Contains(MonthlyArrayFields, name) {
			out[k] = v
			continue
		}
		if arrays[name] == nil {
			arrays[name] = make(map[int]any)
		}
		arrays[name][idx] = v
	}
	for name, entries := range arrays {
		size := n
		for i := range entries {
			size = max(size, i+1)
		}
		arr := make([]any, size)
		for i := range arr {
			if v, ok := entries[i]; ok {
				arr[i] = v
			} else {
				arr[i] = int64(0)
			}
		}
		out[name] = arr
	}
	return out
}
