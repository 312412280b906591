package store

import (
	"context"
	"database/sql"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/roach88/carelog/internal/ir"
)

// Field value types in document_fields.
const (
	typeInt  = "int"
	typeBool = "bool"
	typeTime = "time"
)

// CommitBatch applies every write of the batch in one transaction.
//
// The batch ID is recorded in the same transaction with ON CONFLICT DO
// NOTHING; a batch already recorded is skipped as a whole, so retrying a
// commit whose outcome was lost never applies its increments twice.
func (s *Store) CommitBatch(ctx context.Context, batch ir.Batch) error {
	if batch.ID == "" {
		return fmt.Errorf("commit batch: missing batch id")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("commit batch %s: begin tx: %w", batch.ID, err)
	}
	defer tx.Rollback() // No-op if committed

	result, err := tx.ExecContext(ctx, `
		INSERT INTO batches (id, subject_id, writes, committed_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, batch.ID, batch.SubjectID, len(batch.Writes), s.clock.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("commit batch %s: record batch: %w", batch.ID, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("commit batch %s: rows affected: %w", batch.ID, err)
	}
	if rows == 0 {
		return nil
	}

	for i, w := range batch.Writes {
		if err := applyWrite(ctx, tx, w); err != nil {
			return fmt.Errorf("commit batch %s: write %d (%s): %w", batch.ID, i, w.Key, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch %s: commit: %w", batch.ID, err)
	}
	return nil
}

func applyWrite(ctx context.Context, tx *sql.Tx, w ir.DocumentWrite) error {
	switch w.Mode {
	case ir.WriteReplace:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO records (subject_id, kind, id, body, sort_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT(subject_id, kind, id) DO UPDATE SET
				body = excluded.body,
				sort_at = excluded.sort_at,
				updated_at = excluded.updated_at
		`, w.Key.SubjectID, string(w.Key.Kind), w.Key.ID, string(w.Body), w.SortAt.UnixMilli(), w.At.UnixMilli())
		return err

	case ir.WriteDelete:
		return deleteDocument(ctx, tx, w.Key)

	case ir.WriteMerge:
		if err := touchDocument(ctx, tx, w.Key, w.At); err != nil {
			return err
		}
		for _, field := range w.Fields.SortedKeys() {
			if err := applyOp(ctx, tx, w.Key, field, w.Fields[field]); err != nil {
				return fmt.Errorf("field %q: %w", field, err)
			}
		}
		return nil

	default:
		return fmt.Errorf("unknown write mode %s", w.Mode)
	}
}

func touchDocument(ctx context.Context, tx *sql.Tx, key ir.DocumentKey, at time.Time) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO documents (subject_id, kind, id, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(subject_id, kind, id) DO UPDATE SET updated_at = excluded.updated_at
	`, key.SubjectID, string(key.Kind), key.ID, at.UnixMilli())
	return err
}

func deleteDocument(ctx context.Context, tx *sql.Tx, key ir.DocumentKey) error {
	// document_fields rows go with their document (ON DELETE CASCADE).
	for _, table := range []string{"records", "documents"} {
		_, err := tx.ExecContext(ctx,
			"DELETE FROM "+table+" WHERE subject_id = ? AND kind = ? AND id = ?",
			key.SubjectID, string(key.Kind), key.ID)
		if err != nil {
			return err
		}
	}
	return nil
}

func applyOp(ctx context.Context, tx *sql.Tx, key ir.DocumentKey, field string, op ir.Op) error {
	switch v := op.(type) {
	case ir.Increment:
		_, err := tx.ExecContext(ctx, `
			INSERT INTO document_fields (subject_id, kind, id, field, type, value)
			VALUES (?, ?, ?, ?, 'int', ?)
			ON CONFLICT(subject_id, kind, id, field) DO UPDATE SET
				value = value + excluded.value,
				type = 'int'
		`, key.SubjectID, string(key.Kind), key.ID, field, int64(v))
		return err

	case ir.Assign:
		typ, value, err := encodeValue(v.Value)
		if err != nil {
			return err
		}
		return setField(ctx, tx, key, field, typ, value)

	case ir.Stamp:
		return setField(ctx, tx, key, field, typeTime, v.Time().UnixMilli())

	case ir.Unset:
		_, err := tx.ExecContext(ctx, `
			DELETE FROM document_fields
			WHERE subject_id = ? AND kind = ? AND id = ? AND field = ?
		`, key.SubjectID, string(key.Kind), key.ID, field)
		return err

	default:
		return fmt.Errorf("unsupported op %T", op)
	}
}

func setField(ctx context.Context, tx *sql.Tx, key ir.DocumentKey, field, typ string, value int64) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO document_fields (subject_id, kind, id, field, type, value)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(subject_id, kind, id, field) DO UPDATE SET
			type = excluded.type,
			value = excluded.value
	`, key.SubjectID, string(key.Kind), key.ID, field, typ, value)
	return err
}

func encodeValue(v ir.Value) (string, int64, error) {
	switch x := v.(type) {
	case ir.Int:
		return typeInt, int64(x), nil
	case ir.Bool:
		if x {
			return typeBool, 1, nil
		}
		return typeBool, 0, nil
	default:
		return "", 0, fmt.Errorf("unsupported value %T", v)
	}
}

// DeleteOne removes the subject's daily aggregate for dateKey ("2006-01-02").
// Deleting an absent document is not an error.
func (s *Store) DeleteOne(ctx context.Context, subjectID, dateKey string) error {
	if _, err := ir.ParseDateKey(dateKey, time.UTC); err != nil {
		return fmt.Errorf("delete one: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("delete one: begin tx: %w", err)
	}
	defer tx.Rollback()

	key := ir.DocumentKey{SubjectID: subjectID, Kind: ir.DocDaily, ID: dateKey}
	if err := deleteDocument(ctx, tx, key); err != nil {
		return fmt.Errorf("delete one %s: %w", key, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("delete one %s: commit: %w", key, err)
	}
	return nil
}

// PutDocument replaces every field of a merge document with doc, as
// produced by an aggregate's Document method. Array fields are stored as
// per-day entries, string fields are dropped since the key carries them,
// and updated_at holds Unix milliseconds.
func (s *Store) PutDocument(ctx context.Context, key ir.DocumentKey, doc map[string]any, at time.Time) error {
	fields, err := encodeDocument(doc)
	if err != nil {
		return fmt.Errorf("put document %s: %w", key, err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("put document %s: begin tx: %w", key, err)
	}
	defer tx.Rollback()

	if err := deleteDocument(ctx, tx, key); err != nil {
		return fmt.Errorf("put document %s: %w", key, err)
	}
	if err := touchDocument(ctx, tx, key, at); err != nil {
		return fmt.Errorf("put document %s: %w", key, err)
	}
	for _, name := range slices.Sorted(maps.Keys(fields)) {
		f := fields[name]
		if err := setField(ctx, tx, key, name, f.typ, f.value); err != nil {
			return fmt.Errorf("put document %s: field %q: %w", key, name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("put document %s: commit: %w", key, err)
	}
	return nil
}

type typedValue struct {
	typ   string
	value int64
}

func encodeDocument(doc map[string]any) (map[string]typedValue, error) {
	out := make(map[string]typedValue, len(doc))
	for k, v := range doc {
		switch x := v.(type) {
		case string:
			continue
		case bool:
			out[k] = typedValue{typeBool, 0}
			if x {
				out[k] = typedValue{typeBool, 1}
			}
		case int64:
			if k == ir.FieldUpdatedAt {
				out[k] = typedValue{typeTime, x}
			} else {
				out[k] = typedValue{typeInt, x}
			}
		case time.Time:
			out[k] = typedValue{typeTime, x.UnixMilli()}
		case []any:
			for i, e := range x {
				n, ok := e.(int64)
				if !ok {
					return nil, fmt.Errorf("field %q[%d]: unsupported value %T", k, i, e)
				}
				out[ir.IndexedField(k, i)] = typedValue{typeInt, n}
			}
		default:
			return nil, fmt.Errorf("field %q: unsupported value %T", k, v)
		}
	}
	return out, nil
}
