// Package hooks layers the change ledger, asset mirror, validators and
// relation embedder onto generic document persistence. Every hook receives
// an explicit Env instead of reaching for process-wide state.
package hooks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/KohoVolit/api.parldata.eu/internal/apperr"
	"github.com/KohoVolit/api.parldata.eu/internal/docstore"
	"github.com/KohoVolit/api.parldata.eu/internal/embed"
	"github.com/KohoVolit/api.parldata.eu/internal/ledger"
	"github.com/KohoVolit/api.parldata.eu/internal/metrics"
	"github.com/KohoVolit/api.parldata.eu/internal/mirror"
	"github.com/KohoVolit/api.parldata.eu/internal/models"
	"github.com/KohoVolit/api.parldata.eu/internal/schema"
	"github.com/KohoVolit/api.parldata.eu/internal/validate"
)

// Env carries the collaborators of one request.
type Env struct {
	Registry   *schema.Registry
	Store      docstore.Store
	Validators *validate.Registry
	Embedder   *embed.Embedder
	// Mirror may be nil, in which case file fields keep their remote URLs.
	Mirror  *mirror.Mirror
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// NewID generates default ids; uuid when nil.
	NewID func() string
}

func (env *Env) logger() *slog.Logger {
	if env.Logger == nil {
		return slog.Default()
	}
	return env.Logger
}

// Resource returns the metadata of resource or apperr.ErrNotFound.
func (env *Env) Resource(resource string) (*schema.Resource, error) {
	res, ok := env.Registry.Resource(resource)
	if !ok {
		return nil, fmt.Errorf("%w: resource %q", apperr.ErrNotFound, resource)
	}
	return res, nil
}

// stripServerFields removes values the store owns and internal fields.
func stripServerFields(doc models.Document) {
	delete(doc, models.FieldCreatedAt)
	delete(doc, models.FieldUpdatedAt)
	doc.StripInternal()
}

// PreInsert prepares a new document: server and internal fields are
// dropped and a default id is assigned when the payload has none.
func PreInsert(env *Env, resource string, doc models.Document) error {
	if _, err := env.Resource(resource); err != nil {
		return err
	}
	stripServerFields(doc)
	switch id := doc[models.FieldID].(type) {
	case nil:
		newID := env.NewID
		if newID == nil {
			newID = func() string { return uuid.NewString() }
		}
		doc[models.FieldID] = newID()
	case string:
		if id == "" || strings.ContainsAny(id, "/\\") || id == "." || id == ".." {
			return apperr.Invalid(models.FieldID, id, "invalid id")
		}
	default:
		return apperr.Invalid(models.FieldID, id, "must be a string")
	}
	return nil
}

// PostInsert mirrors the file fields of freshly inserted documents and
// persists the rewritten URLs.
func PostInsert(ctx context.Context, env *Env, resource string, docs []models.Document) error {
	res, err := env.Resource(resource)
	if err != nil {
		return err
	}
	if env.Mirror == nil || len(res.SaveFiles) == 0 {
		return nil
	}
	for _, doc := range docs {
		original := models.Document{models.FieldID: doc.ID()}
		changed := false
		for _, field := range res.SaveFiles {
			before, had := doc[field]
			env.Mirror.Relocate(ctx, resource, doc.ID(), field, doc, original)
			after, has := doc[field]
			if had != has || !models.ValuesEqual(before, after) {
				changed = true
			}
		}
		if !changed {
			continue
		}
		if err := env.Store.Replace(ctx, resource, doc.ID(), doc); err != nil {
			return fmt.Errorf("hooks: persist mirrored fields of %s/%s: %w", resource, doc.ID(), err)
		}
	}
	return nil
}

// PreWrite runs before an update or replace is persisted. It mirrors file
// fields and records the change history of tracked fields into proposed,
// which it returns.
func PreWrite(ctx context.Context, env *Env, mode ledger.Mode, resource string, proposed, original models.Document, effective string) (models.Document, error) {
	res, err := env.Resource(resource)
	if err != nil {
		return nil, err
	}
	stripServerFields(proposed)

	if env.Mirror != nil {
		for _, field := range res.SaveFiles {
			env.Mirror.Relocate(ctx, resource, original.ID(), field, proposed, original)
		}
	}

	result, err := ledger.Build(res, mode, proposed, original, effective)
	if err != nil {
		return nil, err
	}
	if result.Set {
		proposed[models.FieldChanges] = result.Changes
	}
	env.Metrics.AddChanges(resource, result.New)
	return proposed, nil
}

// PostFetch embeds the requested relations and strips internal fields.
func PostFetch(ctx context.Context, env *Env, resource string, doc models.Document, paths []string) models.Document {
	doc.StripInternal()
	if len(paths) > 0 && env.Embedder != nil {
		env.Embedder.Embed(ctx, env.Registry, resource, doc, paths)
	}
	return doc
}

// ValidateField dispatches one rule to the validator registry.
func ValidateField(ctx context.Context, env *Env, rule string, arg any, resource, field string, value any, documentID string) error {
	err := env.Validators.Apply(ctx, env.Store, rule, validate.Input{
		Resource:   resource,
		Field:      field,
		Arg:        arg,
		Value:      value,
		DocumentID: documentID,
	})
	if err != nil {
		env.Metrics.IncValidationFailure(resource, field)
	}
	return err
}

// ValidateDocument applies every declared rule to the fields present in doc.
func ValidateDocument(ctx context.Context, env *Env, resource string, doc models.Document, documentID string) error {
	res, err := env.Resource(resource)
	if err != nil {
		return err
	}
	err = env.Validators.Document(ctx, env.Store, res, doc, documentID)
	var ve *apperr.ValidationError
	if errors.As(err, &ve) {
		env.Metrics.IncValidationFailure(resource, ve.Field)
	}
	return err
}

// ValidateBatch rejects a batch of new documents that repeat an id or share
// an element of a disjoint field among themselves.
func ValidateBatch(env *Env, resource string, docs []models.Document) error {
	res, err := env.Resource(resource)
	if err != nil {
		return err
	}
	ids := make(map[string]bool, len(docs))
	for _, doc := range docs {
		if id := doc.ID(); id != "" {
			if ids[id] {
				return fmt.Errorf("%w: id %q repeated in batch", apperr.ErrAlreadyExists, id)
			}
			ids[id] = true
		}
	}
	for _, field := range validate.FieldNames(res) {
		if !res.Fields[field].Disjoint {
			continue
		}
		type owner struct {
			elem models.Element
			doc  int
		}
		var seen []owner
		for i, doc := range docs {
			list, _ := doc[field].([]any)
			for _, item := range list {
				e := models.ElementOf(item)
				for _, s := range seen {
					if s.doc != i && s.elem.Equal(e) {
						env.Metrics.IncValidationFailure(resource, field)
						return apperr.Invalid(field, item, "element is shared by two documents of the batch")
					}
				}
				seen = append(seen, owner{elem: e, doc: i})
			}
		}
	}
	return nil
}

// OnDelete removes the mirrored files of a deleted entity.
func OnDelete(env *Env, resource string, doc models.Document) {
	if env.Mirror == nil {
		return
	}
	if err := env.Mirror.RemoveEntity(resource, doc.ID()); err != nil {
		env.logger().Error("hooks: remove entity assets", slog.String("resource", resource),
			slog.String("id", doc.ID()), slog.String("error", err.Error()))
	}
}

// OnDeleteResource removes the mirrored files of a whole resource.
func OnDeleteResource(env *Env, resource string) {
	if env.Mirror == nil {
		return
	}
	if err := env.Mirror.RemoveResource(resource); err != nil {
		env.logger().Error("hooks: remove resource assets", slog.String("resource", resource),
			slog.String("error", err.Error()))
	}
}
