// Package entityservice orchestrates CRUD over the document store through
// the write and read hooks.
package entityservice

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/KohoVolit/api.parldata.eu/internal/apperr"
	"github.com/KohoVolit/api.parldata.eu/internal/checksum"
	"github.com/KohoVolit/api.parldata.eu/internal/docstore"
	"github.com/KohoVolit/api.parldata.eu/internal/embed"
	"github.com/KohoVolit/api.parldata.eu/internal/hooks"
	"github.com/KohoVolit/api.parldata.eu/internal/keylock"
	"github.com/KohoVolit/api.parldata.eu/internal/ledger"
	"github.com/KohoVolit/api.parldata.eu/internal/metrics"
	"github.com/KohoVolit/api.parldata.eu/internal/mirror"
	"github.com/KohoVolit/api.parldata.eu/internal/models"
	"github.com/KohoVolit/api.parldata.eu/internal/schema"
	"github.com/KohoVolit/api.parldata.eu/internal/sse"
	"github.com/KohoVolit/api.parldata.eu/internal/storage"
	"github.com/KohoVolit/api.parldata.eu/internal/validate"
)

// fieldEffectiveDate may be sent inside a write payload instead of the
// effective_date query parameter. It is never stored.
const fieldEffectiveDate = "effective_date"

// Publisher receives entity change notifications.
type Publisher interface {
	PublishEntityEvent(kind, resource, id string)
}

// Deps are the collaborators of a Service. Mirror, Events and Metrics are
// optional.
type Deps struct {
	Store      docstore.Store
	Schemas    *schema.Source
	Validators *validate.Registry
	Mirror     *mirror.Mirror
	Events     Publisher
	Logger     *slog.Logger
	Metrics    *metrics.Metrics
	// Now is the clock used for the default effective date.
	Now func() time.Time
}

// Service coordinates the store and the hooks.
type Service struct {
	deps     Deps
	embedder *embed.Embedder
	locks    keylock.Map
}

// NewService creates a new entity service.
func NewService(deps Deps) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Validators == nil {
		deps.Validators = validate.NewRegistry()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	return &Service{
		deps:     deps,
		embedder: embed.New(deps.Store, deps.Logger),
	}
}

// env snapshots the current schema registry for one operation.
func (s *Service) env() *hooks.Env {
	return &hooks.Env{
		Registry:   s.deps.Schemas.Registry(),
		Store:      s.deps.Store,
		Validators: s.deps.Validators,
		Embedder:   s.embedder,
		Mirror:     s.deps.Mirror,
		Logger:     s.deps.Logger,
		Metrics:    s.deps.Metrics,
	}
}

func (s *Service) publish(kind, resource, id string) {
	if s.deps.Events != nil {
		s.deps.Events.PublishEntityEvent(kind, resource, id)
	}
}

func lockKey(resource, id string) string { return resource + "/" + id }

// ETag returns the entity tag of a stored document, as clients see it.
func ETag(doc models.Document) string {
	view := make(models.Document, len(doc))
	for k, v := range doc {
		if !models.IsInternal(k) {
			view[k] = v
		}
	}
	data, err := json.Marshal(view)
	if err != nil {
		return ""
	}
	return checksum.Sum(data)
}

// WriteOptions carries per-request write parameters.
type WriteOptions struct {
	// EffectiveDate is the raw effective_date parameter: empty, a date or "fix".
	EffectiveDate string
	// IfMatch, when set, must equal the current ETag.
	IfMatch string
}

// ListQuery filters and paginates a listing.
type ListQuery struct {
	Where      map[string]any
	Page       int
	MaxResults int
	Embed      []string
}

// Meta describes a listing page.
type Meta struct {
	Page       int `json:"page"`
	MaxResults int `json:"max_results"`
	Total      int `json:"total"`
}

// ListResult is one page of documents.
type ListResult struct {
	Items []models.Document `json:"_items"`
	Meta  Meta              `json:"_meta"`
}

// DefaultMaxResults applies when a listing asks for no page size.
const DefaultMaxResults = 25

// MaxPageSize caps max_results.
const MaxPageSize = 1000

// Resources returns the declared resource names.
func (s *Service) Resources() []string {
	return s.deps.Schemas.Registry().Names()
}

// Describe returns the metadata of a resource.
func (s *Service) Describe(resource string) (*schema.Resource, error) {
	return s.env().Resource(resource)
}

// Get fetches one document and embeds the requested relations.
func (s *Service) Get(ctx context.Context, resource, id string, paths []string) (models.Document, error) {
	env := s.env()
	if _, err := env.Resource(resource); err != nil {
		return nil, err
	}
	doc, err := s.deps.Store.Get(ctx, resource, id)
	if err != nil {
		return nil, err
	}
	return hooks.PostFetch(ctx, env, resource, doc, paths), nil
}

// List returns one page of documents of a resource.
func (s *Service) List(ctx context.Context, resource string, q ListQuery) (*ListResult, error) {
	env := s.env()
	if _, err := env.Resource(resource); err != nil {
		return nil, err
	}
	if q.Page < 1 {
		q.Page = 1
	}
	if q.MaxResults <= 0 {
		q.MaxResults = DefaultMaxResults
	}
	if q.MaxResults > MaxPageSize {
		q.MaxResults = MaxPageSize
	}
	docs, total, err := s.deps.Store.List(ctx, resource, docstore.Query{
		Where:      q.Where,
		Page:       q.Page,
		MaxResults: q.MaxResults,
	})
	if err != nil {
		return nil, err
	}
	items := make([]models.Document, len(docs))
	for i, d := range docs {
		items[i] = hooks.PostFetch(ctx, env, resource, d, q.Embed)
	}
	return &ListResult{
		Items: items,
		Meta:  Meta{Page: q.Page, MaxResults: q.MaxResults, Total: total},
	}, nil
}

// Create validates and inserts new documents, then mirrors their files.
// Validation runs for the whole batch before anything is written.
func (s *Service) Create(ctx context.Context, resource string, docs []models.Document) ([]models.Document, error) {
	env := s.env()
	if len(docs) == 0 {
		return nil, apperr.BadRequest("no documents to create")
	}
	for _, doc := range docs {
		delete(doc, fieldEffectiveDate)
		if err := hooks.PreInsert(env, resource, doc); err != nil {
			return nil, err
		}
		if err := hooks.ValidateDocument(ctx, env, resource, doc, ""); err != nil {
			return nil, err
		}
	}
	if err := hooks.ValidateBatch(env, resource, docs); err != nil {
		return nil, err
	}

	for i, doc := range docs {
		if err := s.deps.Store.Insert(ctx, resource, doc); err != nil {
			if errors.Is(err, apperr.ErrAlreadyExists) {
				err = fmt.Errorf("%w: %s/%s", apperr.ErrAlreadyExists, resource, doc.ID())
			}
			s.rollback(ctx, resource, docs[:i])
			return nil, err
		}
	}
	if err := hooks.PostInsert(ctx, env, resource, docs); err != nil {
		return nil, err
	}

	out := make([]models.Document, 0, len(docs))
	for _, doc := range docs {
		stored, err := s.deps.Store.Get(ctx, resource, doc.ID())
		if err != nil {
			return nil, err
		}
		out = append(out, stored)
		s.deps.Metrics.IncWrite(resource, "create")
		s.publish(sse.KindCreated, resource, doc.ID())
	}
	return out, nil
}

// rollback removes documents inserted before a batch insert failed.
func (s *Service) rollback(ctx context.Context, resource string, inserted []models.Document) {
	for _, doc := range inserted {
		if err := s.deps.Store.Delete(ctx, resource, doc.ID()); err != nil {
			s.deps.Logger.Error("entityservice: rollback insert",
				slog.String("resource", resource), slog.String("id", doc.ID()), slog.String("error", err.Error()))
		}
	}
}

// Update applies a partial update (PATCH) to a document.
func (s *Service) Update(ctx context.Context, resource, id string, patch models.Document, opts WriteOptions) (models.Document, error) {
	return s.write(ctx, ledger.Update, resource, id, patch, opts)
}

// Replace replaces a whole document (PUT).
func (s *Service) Replace(ctx context.Context, resource, id string, doc models.Document, opts WriteOptions) (models.Document, error) {
	return s.write(ctx, ledger.Replace, resource, id, doc, opts)
}

func (s *Service) write(ctx context.Context, mode ledger.Mode, resource, id string, payload models.Document, opts WriteOptions) (models.Document, error) {
	env := s.env()
	if _, err := env.Resource(resource); err != nil {
		return nil, err
	}

	raw := opts.EffectiveDate
	if v, ok := payload[fieldEffectiveDate].(string); ok && raw == "" {
		raw = v
	}
	delete(payload, fieldEffectiveDate)
	effective, err := ledger.ParseEffectiveDate(raw, s.deps.Now())
	if err != nil {
		return nil, err
	}
	if v, ok := payload[models.FieldID]; ok && v != id {
		return nil, apperr.Invalid(models.FieldID, v, "id cannot be changed")
	}

	unlock := s.locks.Lock(lockKey(resource, id))
	defer unlock()

	original, err := s.deps.Store.Get(ctx, resource, id)
	if err != nil {
		return nil, err
	}
	if opts.IfMatch != "" && opts.IfMatch != ETag(original) {
		return nil, fmt.Errorf("%w: %s/%s was modified", apperr.ErrConflict, resource, id)
	}
	if err := hooks.ValidateDocument(ctx, env, resource, payload, id); err != nil {
		return nil, err
	}

	proposed, err := hooks.PreWrite(ctx, env, mode, resource, payload, original, effective)
	if err != nil {
		return nil, err
	}

	var next models.Document
	if mode == ledger.Replace {
		next = proposed
	} else {
		next = original.Clone()
		for k, v := range proposed {
			next[k] = v
		}
	}
	next[models.FieldID] = id

	if err := s.deps.Store.Replace(ctx, resource, id, next); err != nil {
		return nil, err
	}
	stored, err := s.deps.Store.Get(ctx, resource, id)
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.IncWrite(resource, mode.String())
	s.publish(sse.KindUpdated, resource, id)
	return stored, nil
}

// Delete removes one document and its mirrored files.
func (s *Service) Delete(ctx context.Context, resource, id, ifMatch string) error {
	env := s.env()
	if _, err := env.Resource(resource); err != nil {
		return err
	}
	unlock := s.locks.Lock(lockKey(resource, id))
	defer unlock()

	original, err := s.deps.Store.Get(ctx, resource, id)
	if err != nil {
		return err
	}
	if ifMatch != "" && ifMatch != ETag(original) {
		return fmt.Errorf("%w: %s/%s was modified", apperr.ErrConflict, resource, id)
	}
	if err := s.deps.Store.Delete(ctx, resource, id); err != nil {
		return err
	}
	hooks.OnDelete(env, resource, original)
	s.deps.Metrics.IncWrite(resource, "delete")
	s.publish(sse.KindDeleted, resource, id)
	return nil
}

// DeleteAll removes every document of a resource and its mirrored files.
func (s *Service) DeleteAll(ctx context.Context, resource string) (int64, error) {
	env := s.env()
	if _, err := env.Resource(resource); err != nil {
		return 0, err
	}
	n, err := s.deps.Store.DeleteAll(ctx, resource)
	if err != nil {
		return 0, err
	}
	hooks.OnDeleteResource(env, resource)
	s.deps.Metrics.IncWrite(resource, "delete_all")
	s.publish(sse.KindCleared, resource, "")
	return n, nil
}

// Assets lists the mirrored files of an entity.
func (s *Service) Assets(ctx context.Context, resource, id string) ([]storage.FileInfo, error) {
	if _, err := s.Get(ctx, resource, id, nil); err != nil {
		return nil, err
	}
	if s.deps.Mirror == nil {
		return []storage.FileInfo{}, nil
	}
	files, err := s.deps.Mirror.Assets(resource, id)
	if err != nil {
		return nil, err
	}
	if files == nil {
		files = []storage.FileInfo{}
	}
	return files, nil
}
