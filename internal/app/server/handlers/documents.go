package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"possync/internal/core/domain"
	"possync/internal/core/services"
	"possync/pkg/logging"
)

const maxBodySize = 1 << 20

// DocumentsHandler exposes untyped CRUD, queries and batches over HTTP.
type DocumentsHandler struct {
	engine *services.Engine
}

func NewDocumentsHandler(engine *services.Engine) *DocumentsHandler {
	return &DocumentsHandler{engine: engine}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	err = domain.Classify(op, domain.ResourcePath{}, err)
	status := StatusCode(err)
	if status >= http.StatusInternalServerError {
		logging.FromContext(r.Context()).ErrorContext(r.Context(), "documents handler - "+op+" - failed", logging.Err(err))
	}
	writeJSON(w, status, map[string]any{"error": NewErrorView(op, err)})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodySize))
	dec.UseNumber()
	if err := dec.Decode(v); err != nil {
		return domain.NewError("decode", domain.ResourcePath{}, domain.ErrDecoding, err)
	}
	return nil
}

func resourcePath(r *http.Request) (domain.ResourcePath, error) {
	return domain.ParsePath(r.PathValue("path"))
}

// Get serves a document, or a filtered collection listing:
// GET /v1/documents/menu_items?where=price>=5&where=available==true
func (h *DocumentsHandler) Get(w http.ResponseWriter, r *http.Request) {
	path, err := resourcePath(r)
	if err != nil {
		writeError(w, r, "get", err)
		return
	}
	docs := h.engine.Documents()
	if !path.IsCollection() {
		doc, err := docs.Get(r.Context(), path)
		if err != nil {
			writeError(w, r, "get", err)
			return
		}
		writeJSON(w, http.StatusOK, NewDocumentView(doc))
		return
	}
	filters, err := ParseFilters(r.URL.Query()["where"])
	if err != nil {
		writeError(w, r, "query", err)
		return
	}
	list, err := docs.Query(r.Context(), path, filters...)
	if err != nil {
		writeError(w, r, "query", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"documents": documentViews(list)})
}

// Create adds a document to a collection; an "id" field in the body is kept,
// otherwise one is generated.
func (h *DocumentsHandler) Create(w http.ResponseWriter, r *http.Request) {
	path, err := resourcePath(r)
	if err != nil {
		writeError(w, r, "create", err)
		return
	}
	if !path.IsCollection() {
		writeError(w, r, "create", domain.NewError("create", path, domain.ErrWriteFailed, errors.New("POST needs a collection path")))
		return
	}
	var body map[string]any
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, "create", err)
		return
	}
	id, _ := body["id"].(string)
	delete(body, "id")
	doc, err := h.engine.Documents().Create(r.Context(), path, domain.Document{Path: path.Doc(id), Data: body})
	if err != nil {
		writeError(w, r, "create", err)
		return
	}
	writeJSON(w, http.StatusCreated, NewDocumentView(doc))
}

// Put replaces the document.
func (h *DocumentsHandler) Put(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "set")
}

// Patch merges the body into the document.
func (h *DocumentsHandler) Patch(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "update")
}

func (h *DocumentsHandler) write(w http.ResponseWriter, r *http.Request, op string) {
	path, err := resourcePath(r)
	if err != nil {
		writeError(w, r, op, err)
		return
	}
	var body map[string]any
	if err := decodeBody(w, r, &body); err != nil {
		writeError(w, r, op, err)
		return
	}
	delete(body, "id")
	docs := h.engine.Documents()
	var doc domain.Document
	if op == "update" {
		doc, err = docs.Patch(r.Context(), path, body)
	} else {
		doc, err = docs.Replace(r.Context(), path, domain.Document{Path: path, Data: body})
	}
	if err != nil {
		writeError(w, r, op, err)
		return
	}
	writeJSON(w, http.StatusOK, NewDocumentView(doc))
}

func (h *DocumentsHandler) Delete(w http.ResponseWriter, r *http.Request) {
	path, err := resourcePath(r)
	if err != nil {
		writeError(w, r, "delete", err)
		return
	}
	if err := h.engine.Documents().Delete(r.Context(), path); err != nil {
		writeError(w, r, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type batchRequest struct {
	Atomic bool `json:"atomic"`
	Writes []struct {
		Op             domain.WriteOp  `json:"op"`
		Path           string          `json:"path"`
		Payload        json.RawMessage `json:"payload,omitempty"`
		IdempotencyKey string          `json:"idempotency_key,omitempty"`
	} `json:"writes"`
}

// Batch commits a list of writes: POST /v1/batch.
func (h *DocumentsHandler) Batch(w http.ResponseWriter, r *http.Request) {
	var req batchRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, "batch", err)
		return
	}
	writes := make([]domain.PendingWrite, 0, len(req.Writes))
	for i, bw := range req.Writes {
		path, err := domain.ParsePath(bw.Path)
		if err != nil {
			writeError(w, r, "batch", fmt.Errorf("write %d: %w", i, err))
			return
		}
		switch bw.Op {
		case domain.OpCreate, domain.OpUpdate, domain.OpSet, domain.OpDelete:
		default:
			writeError(w, r, "batch", domain.NewError("batch", path, domain.ErrDecoding,
				fmt.Errorf("write %d: unknown op %q", i, bw.Op)))
			return
		}
		writes = append(writes, domain.PendingWrite{
			Op:             bw.Op,
			Path:           path,
			Payload:        bw.Payload,
			IdempotencyKey: bw.IdempotencyKey,
		})
	}
	if err := h.engine.Batch(r.Context(), writes, req.Atomic); err != nil {
		writeError(w, r, "batch", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"committed": len(writes)})
}

var filterOps = []domain.FilterOp{domain.OpGte, domain.OpLte, domain.OpNeq, domain.OpEq, domain.OpGt, domain.OpLt}

// ParseFilters reads "field<op>value" expressions, splitting at the leftmost
// operator. Values are JSON when they parse as JSON and plain strings otherwise.
func ParseFilters(exprs []string) ([]domain.Filter, error) {
	filters := make([]domain.Filter, 0, len(exprs))
	for _, expr := range exprs {
		at, op := -1, domain.FilterOp("")
		for _, candidate := range filterOps {
			// two-character operators come first, so they win ties
			if i := strings.Index(expr, string(candidate)); i >= 0 && (at < 0 || i < at) {
				at, op = i, candidate
			}
		}
		if at <= 0 {
			return nil, domain.NewError("query", domain.ResourcePath{}, domain.ErrDecoding,
				fmt.Errorf("bad filter %q", expr))
		}
		raw := expr[at+len(op):]
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			v = raw
		}
		filters = append(filters, domain.Filter{Field: expr[:at], Op: op, Value: v})
	}
	return filters, nil
}
