package services

import (
	"encoding/json"
	"fmt"

	"possync/internal/core/domain"
)

// Codec converts between entities and document field maps. The identifier is
// never part of the encoded fields; it travels in the document path.
type Codec[T any] interface {
	Encode(v T) (map[string]any, error)
	Decode(doc domain.Document) (T, error)
	ID(v T) string
}

// JSONCodec maps any struct with JSON tags onto document fields. The field
// named by IDField (default "id") carries the document identifier.
//
// Update semantics follow the tags: fields dropped by omitempty/omitzero are
// absent from the payload and therefore left untouched by a merge write.
type JSONCodec[T any] struct {
	IDField string
}

func NewJSONCodec[T any]() JSONCodec[T] { return JSONCodec[T]{IDField: "id"} }

func (c JSONCodec[T]) idField() string {
	if c.IDField == "" {
		return "id"
	}
	return c.IDField
}

func (c JSONCodec[T]) fields(v T) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrDecoding, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("%w: entity is not an object: %v", domain.ErrDecoding, err)
	}
	if m == nil {
		m = map[string]any{}
	}
	return m, nil
}

func (c JSONCodec[T]) Encode(v T) (map[string]any, error) {
	m, err := c.fields(v)
	if err != nil {
		return nil, err
	}
	delete(m, c.idField())
	return m, nil
}

func (c JSONCodec[T]) Decode(doc domain.Document) (T, error) {
	var v T
	m := domain.MergeFields(doc.Data, map[string]any{c.idField(): doc.ID()})
	b, err := json.Marshal(m)
	if err != nil {
		return v, fmt.Errorf("%w: %s: %v", domain.ErrDecoding, doc.Path.Key(), err)
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("%w: %s: %v", domain.ErrDecoding, doc.Path.Key(), err)
	}
	return v, nil
}

func (c JSONCodec[T]) ID(v T) string {
	m, err := c.fields(v)
	if err != nil {
		return ""
	}
	id, _ := m[c.idField()].(string)
	return id
}

// DocumentCodec passes documents through untouched.
type DocumentCodec struct{}

func (DocumentCodec) Encode(d domain.Document) (map[string]any, error) {
	return domain.MergeFields(nil, d.Data), nil
}

func (DocumentCodec) Decode(d domain.Document) (domain.Document, error) { return d, nil }

func (DocumentCodec) ID(d domain.Document) string { return d.Path.DocumentID }
