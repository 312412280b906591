package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainBatch       = "carelog/batch/v1"
	DomainAggregate   = "carelog/aggregate/v1"
	DomainSessionBody = "carelog/session/v1"
)

// hashWithDomain computes SHA-256 with domain separation.
// Format: SHA256(domain + 0x00 + data)
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// Fingerprint hashes the canonical JSON of v under a domain.
func Fingerprint(domain string, v any) (string, error) {
	canonical, err := MarshalCanonical(v)
	if err != nil {
		return "", fmt.Errorf("fingerprint %s: %w", domain, err)
	}
	return hashWithDomain(domain, canonical), nil
}

// BatchID computes the content-addressed ID of a batch.
//
// The ID covers every write: key, mode, field ops, body hash and time. A
// store records applied IDs, so committing the same batch twice (a retry
// after a lost acknowledgement) applies its increments once.
func BatchID(subjectID string, writes []DocumentWrite) (string, error) {
	return batchID(subjectID, "", writes)
}

func batchID(subjectID, nonce string, writes []DocumentWrite) (string, error) {
	list := make([]any, len(writes))
	for i, w := range writes {
		entry := map[string]any{
			"subject_id": w.Key.SubjectID,
			"kind":       string(w.Key.Kind),
			"id":         w.Key.ID,
			"mode":       w.Mode.String(),
			"at":         w.At.UnixMilli(),
		}
		if len(w.Fields) > 0 {
			fields, err := w.Fields.canonical()
			if err != nil {
				return "", fmt.Errorf("BatchID: write %d: %w", i, err)
			}
			entry["fields"] = fields
		}
		if len(w.Body) > 0 {
			entry["body"] = hashWithDomain(DomainSessionBody, w.Body)
		}
		list[i] = entry
	}

	doc := map[string]any{
		"subject_id": subjectID,
		"writes":     list,
	}
	if nonce != "" {
		doc["nonce"] = nonce
	}
	return Fingerprint(DomainBatch, doc)
}

// NewBatch assembles a batch and stamps its content-addressed ID.
func NewBatch(subjectID string, writes ...DocumentWrite) (Batch, error) {
	id, err := BatchID(subjectID, writes)
	if err != nil {
		return Batch{}, err
	}
	return Batch{ID: id, SubjectID: subjectID, Writes: writes}, nil
}

// WithNonce returns a copy of b whose ID also covers nonce.
//
// Two mutations can plan identical writes at the same instant (save,
// delete, save of one session); distinct nonces keep them from being
// skipped as replays of each other. Retrying the returned batch keeps its
// ID.
func (b Batch) WithNonce(nonce string) (Batch, error) {
	id, err := batchID(b.SubjectID, nonce, b.Writes)
	if err != nil {
		return Batch{}, err
	}
	b.ID = id
	b.Nonce = nonce
	return b, nil
}

// MustNewBatch is like NewBatch but panics on error.
// Use only in tests or when writes are known to be valid.
func MustNewBatch(subjectID string, writes ...DocumentWrite) Batch {
	b, err := NewBatch(subjectID, writes...)
	if err != nil {
		panic(err)
	}
	return b
}
