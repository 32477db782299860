package handlers

import (
	"errors"
	"net/http"
	"time"

	"possync/internal/core/domain"
)

// Client -> server frame types.
const (
	TypeSubscribe   = "subscribe"
	TypeUnsubscribe = "unsubscribe"
)

// Server -> client frame types.
const (
	TypeSubscribed   = "subscribed"
	TypeSnapshot     = "snapshot"
	TypeError        = "error"
	TypeUnsubscribed = "unsubscribed"
)

type ClientFrame struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id,omitempty"`
	// Path is a full resource path ("shops/s1/menu_items"); Collection plus
	// DocumentID is the split form. Path wins when both are set.
	Path       string `json:"path,omitempty"`
	Collection string `json:"collection,omitempty"`
	DocumentID string `json:"document_id,omitempty"`
	Handle     string `json:"handle,omitempty"`
}

func (f ClientFrame) ResourcePath() (domain.ResourcePath, error) {
	if f.Path != "" {
		return domain.ParsePath(f.Path)
	}
	p := domain.DocumentPath(f.Collection, f.DocumentID)
	return p, p.Validate()
}

type ServerFrame struct {
	Type       string         `json:"type"`
	RequestID  string         `json:"request_id,omitempty"`
	Handle     string         `json:"handle,omitempty"`
	Path       string         `json:"path,omitempty"`
	Exists     *bool          `json:"exists,omitempty"`
	Documents  []DocumentView `json:"documents,omitempty"`
	ReceivedAt *time.Time     `json:"received_at,omitempty"`
	Error      *ErrorView     `json:"error,omitempty"`
}

type DocumentView struct {
	ID        string         `json:"id"`
	Path      string         `json:"path"`
	Data      map[string]any `json:"data"`
	Version   int64          `json:"version"`
	UpdatedAt time.Time      `json:"updated_at"`
}

func NewDocumentView(d domain.Document) DocumentView {
	data := d.Data
	if data == nil {
		data = map[string]any{}
	}
	return DocumentView{
		ID:        d.ID(),
		Path:      d.Path.Key(),
		Data:      data,
		Version:   d.Version,
		UpdatedAt: d.UpdatedAt,
	}
}

func documentViews(docs []domain.Document) []DocumentView {
	out := make([]DocumentView, len(docs))
	for i, d := range docs {
		out[i] = NewDocumentView(d)
	}
	return out
}

type ErrorView struct {
	Kind      string `json:"kind"`
	Message   string `json:"message"`
	Transient bool   `json:"transient"`
}

// NewErrorView renders err with its taxonomy kind.
func NewErrorView(op string, err error) *ErrorView {
	var se *domain.SyncError
	if !errors.As(domain.Classify(op, domain.ResourcePath{}, err), &se) {
		return &ErrorView{Kind: "unknown", Message: err.Error()}
	}
	return &ErrorView{Kind: se.KindName(), Message: se.Error(), Transient: se.Transient}
}

// StatusCode maps a taxonomy kind onto HTTP.
func StatusCode(err error) int {
	var se *domain.SyncError
	if !errors.As(err, &se) {
		return http.StatusInternalServerError
	}
	switch se.Kind {
	case domain.ErrNotFound:
		return http.StatusNotFound
	case domain.ErrDecoding:
		return http.StatusBadRequest
	case domain.ErrWriteFailed:
		return http.StatusUnprocessableEntity
	case domain.ErrPermissionDenied:
		return http.StatusForbidden
	case domain.ErrTransactionConflict:
		return http.StatusConflict
	case domain.ErrBatchTooLarge:
		return http.StatusRequestEntityTooLarge
	case domain.ErrTransport:
		if se.Transient {
			return http.StatusServiceUnavailable
		}
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
