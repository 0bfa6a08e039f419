package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/KohoVolit/api.parldata.eu/internal/apperr"
	"github.com/KohoVolit/api.parldata.eu/internal/embed"
	"github.com/KohoVolit/api.parldata.eu/internal/entityservice"
	"github.com/KohoVolit/api.parldata.eu/internal/models"
)

const maxBodyBytes = 10 << 20

// Handler holds API route handlers.
type Handler struct {
	svc *entityservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *entityservice.Service) *Handler {
	return &Handler{svc: svc}
}

func writeOptions(r *http.Request) entityservice.WriteOptions {
	return entityservice.WriteOptions{
		EffectiveDate: r.URL.Query().Get("effective_date"),
		IfMatch:       strings.Trim(r.Header.Get("If-Match"), `"`),
	}
}

func setETag(w http.ResponseWriter, doc models.Document) {
	if tag := entityservice.ETag(doc); tag != "" {
		w.Header().Set("ETag", `"`+tag+`"`)
	}
}

// decodeDocument reads a single JSON object body.
func decodeDocument(r *http.Request) (models.Document, error) {
	data, err := io.ReadAll(r.Body)
	if err != nil {
		return nil, apperr.BadRequest("failed to read body")
	}
	doc, err := models.DecodeDocument(data)
	if err != nil || doc == nil {
		return nil, apperr.BadRequest("body must be a JSON object")
	}
	return doc, nil
}

func parseListQuery(r *http.Request) (entityservice.ListQuery, error) {
	q := r.URL.Query()
	var lq entityservice.ListQuery
	if raw := q.Get("where"); raw != "" {
		if err := json.Unmarshal([]byte(raw), &lq.Where); err != nil {
			return lq, apperr.BadRequest("where must be a JSON object")
		}
	}
	for name, dst := range map[string]*int{"page": &lq.Page, "max_results": &lq.MaxResults} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			return lq, apperr.BadRequest("%s must be a positive integer", name)
		}
		*dst = n
	}
	paths, err := embed.ParsePaths(q.Get("embed"))
	if err != nil {
		return lq, err
	}
	lq.Embed = paths
	return lq, nil
}

// ListResources handles GET /api/.
func (h *Handler) ListResources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, ResourcesResponse{Resources: h.svc.Resources()})
}

// List handles GET /api/{resource}.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	lq, err := parseListQuery(r)
	if err != nil {
		writeError(w, r, "list", err)
		return
	}
	res, err := h.svc.List(r.Context(), chi.URLParam(r, "resource"), lq)
	if err != nil {
		writeError(w, r, "list", err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// Get handles GET /api/{resource}/{id}. The ETag is only sent for documents
// returned without embedded relations.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	paths, err := embed.ParsePaths(r.URL.Query().Get("embed"))
	if err != nil {
		writeError(w, r, "get", err)
		return
	}
	doc, err := h.svc.Get(r.Context(), chi.URLParam(r, "resource"), chi.URLParam(r, "id"), paths)
	if err != nil {
		writeError(w, r, "get", err)
		return
	}
	if len(paths) == 0 {
		setETag(w, doc)
	}
	writeJSON(w, http.StatusOK, doc)
}

// Create handles POST /api/{resource}. The body is one document or an array
// of documents; the response has the same shape.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	data, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}

	batch := bytes.HasPrefix(bytes.TrimSpace(data), []byte("["))
	var docs []models.Document
	if batch {
		err = json.Unmarshal(data, &docs)
	} else {
		var doc models.Document
		doc, err = models.DecodeDocument(data)
		docs = []models.Document{doc}
	}
	if err != nil || len(docs) == 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	for _, doc := range docs {
		if doc == nil {
			writeJSON(w, http.StatusBadRequest, errorBody("documents must be JSON objects"))
			return
		}
	}

	created, err := h.svc.Create(r.Context(), chi.URLParam(r, "resource"), docs)
	if err != nil {
		writeError(w, r, "create", err)
		return
	}
	if batch {
		writeJSON(w, http.StatusCreated, CreateBatchResponse{Items: created})
		return
	}
	setETag(w, created[0])
	writeJSON(w, http.StatusCreated, created[0])
}

// Update handles PATCH /api/{resource}/{id}.
func (h *Handler) Update(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "update", h.svc.Update)
}

// Replace handles PUT /api/{resource}/{id}.
func (h *Handler) Replace(w http.ResponseWriter, r *http.Request) {
	h.write(w, r, "replace", h.svc.Replace)
}

type writeFunc func(ctx context.Context, resource, id string, doc models.Document, opts entityservice.WriteOptions) (models.Document, error)

func (h *Handler) write(w http.ResponseWriter, r *http.Request, op string, fn writeFunc) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	doc, err := decodeDocument(r)
	if err != nil {
		writeError(w, r, op, err)
		return
	}
	updated, err := fn(r.Context(), chi.URLParam(r, "resource"), chi.URLParam(r, "id"), doc, writeOptions(r))
	if err != nil {
		writeError(w, r, op, err)
		return
	}
	setETag(w, updated)
	writeJSON(w, http.StatusOK, updated)
}

// Delete handles DELETE /api/{resource}/{id}.
func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	err := h.svc.Delete(r.Context(), chi.URLParam(r, "resource"), chi.URLParam(r, "id"), writeOptions(r).IfMatch)
	if err != nil {
		writeError(w, r, "delete", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DeleteAll handles DELETE /api/{resource}.
func (h *Handler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	n, err := h.svc.DeleteAll(r.Context(), chi.URLParam(r, "resource"))
	if err != nil {
		writeError(w, r, "delete all", err)
		return
	}
	writeJSON(w, http.StatusOK, DeleteAllResponse{Deleted: n})
}

// Assets handles GET /api/{resource}/{id}/assets.
func (h *Handler) Assets(w http.ResponseWriter, r *http.Request) {
	files, err := h.svc.Assets(r.Context(), chi.URLParam(r, "resource"), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, "assets", err)
		return
	}
	writeJSON(w, http.StatusOK, AssetsResponse{Assets: files})
}
