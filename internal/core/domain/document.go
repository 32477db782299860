package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"
)

// Document is a single remote record. Data never carries the identifier;
// the identifier lives in Path.DocumentID.
type Document struct {
	Path      ResourcePath
	Data      map[string]any
	Version   int64
	UpdatedAt time.Time
}

func (d Document) ID() string { return d.Path.DocumentID }

// Snapshot is one delivery from a remote watch. For a document path it holds
// at most one document; Exists reports whether that document is present.
type Snapshot struct {
	Path      ResourcePath
	Documents []Document
	Exists    bool
	ReadAt    time.Time
}

// MergeFields overlays patch onto base at the top level. Fields absent from
// patch are kept; base is not modified.
func MergeFields(base, patch map[string]any) map[string]any {
	out := make(map[string]any, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		out[k] = v
	}
	return out
}

type WriteOp string

const (
	OpCreate WriteOp = "create"
	OpUpdate WriteOp = "update"
	OpSet    WriteOp = "set"
	OpDelete WriteOp = "delete"
)

// PendingWrite is a write waiting for acknowledgement. Update merges, Set and
// Create replace the whole document, Delete ignores the payload.
type PendingWrite struct {
	Op             WriteOp         `json:"op"`
	Path           ResourcePath    `json:"path"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	IdempotencyKey string          `json:"idempotency_key"`
}

// NewPendingWrite marshals payload and assigns a ULID idempotency key.
func NewPendingWrite(op WriteOp, path ResourcePath, payload any) (PendingWrite, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return PendingWrite{}, fmt.Errorf("%w: %v", ErrDecoding, err)
		}
		raw = b
	}
	return PendingWrite{
		Op:             op,
		Path:           path,
		Payload:        raw,
		IdempotencyKey: ulid.Make().String(),
	}, nil
}

// Fields decodes the payload into a top-level field map.
func (w PendingWrite) Fields() (map[string]any, error) {
	if len(w.Payload) == 0 {
		return map[string]any{}, nil
	}
	var m map[string]any
	if err := json.Unmarshal(w.Payload, &m); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecoding, err)
	}
	delete(m, "id")
	return m, nil
}

func (w PendingWrite) Merge() bool { return w.Op == OpUpdate }

// BatchOperation lives for a single submission.
type BatchOperation struct {
	Writes []PendingWrite
	Atomic bool
}
