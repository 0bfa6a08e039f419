// Package embed inlines related entities into fetched documents following
// the relations declared in the schema registry.
package embed

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/KohoVolit/api.parldata.eu/internal/apperr"
	"github.com/KohoVolit/api.parldata.eu/internal/docstore"
	"github.com/KohoVolit/api.parldata.eu/internal/models"
	"github.com/KohoVolit/api.parldata.eu/internal/schema"
)

// MaxDepth bounds the length of the ancestor chain.
const MaxDepth = 3

// ParsePaths decodes the embed query parameter: a JSON array of dot-separated
// relation chains. An empty parameter yields no paths. Paths with empty
// segments are rejected; names that match no relation are skipped by Embed.
func ParsePaths(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	var paths []string
	if err := json.Unmarshal([]byte(raw), &paths); err != nil {
		return nil, apperr.BadRequest("embed must be a JSON array of strings")
	}
	for _, p := range paths {
		for _, segment := range strings.Split(p, ".") {
			if segment == "" {
				return nil, apperr.BadRequest("invalid embed path %q", p)
			}
		}
	}
	return paths, nil
}

type ancestor struct {
	resource string
	id       string
}

// Embedder resolves embed paths against the store.
type Embedder struct {
	finder docstore.Finder
	logger *slog.Logger
}

// New creates an Embedder.
func New(finder docstore.Finder, logger *slog.Logger) *Embedder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Embedder{finder: finder, logger: logger}
}

// Embed mutates doc in place. Unknown relations, missing join fields and
// lookup errors leave the path unresolved without failing. Embedded entities
// lose their join field unless it is the id, which is the only copy left once
// the host join field is removed.
func (e *Embedder) Embed(ctx context.Context, reg *schema.Registry, resource string, doc models.Document, paths []string) {
	for _, p := range paths {
		ancestors := []ancestor{{resource: resource, id: doc.ID()}}
		e.embedPath(ctx, reg, resource, doc, strings.Split(p, "."), ancestors)
	}
}

func (e *Embedder) embedPath(ctx context.Context, reg *schema.Registry, resource string, doc models.Document, parts []string, ancestors []ancestor) {
	head, tail := parts[0], parts[1:]

	res, ok := reg.Resource(resource)
	if !ok {
		return
	}
	rel, ok := res.Relation(head)
	if !ok {
		e.logger.Debug("embed: unknown relation", slog.String("resource", resource), slog.String("relation", head))
		return
	}
	if !doc.Has(head) {
		local, ok := doc[rel.Field]
		if !ok {
			return
		}
		results, err := e.finder.Find(ctx, rel.Resource, rel.FKey, local)
		if err != nil {
			e.logger.Warn("embed: lookup failed",
				slog.String("resource", rel.Resource),
				slog.String("relation", head),
				slog.String("error", err.Error()),
			)
			return
		}
		kept := make([]any, 0, len(results))
		for _, r := range results {
			if isAncestor(ancestors, rel.Resource, r.ID()) {
				continue
			}
			if rel.FKey != models.FieldID {
				delete(r, rel.FKey)
			}
			kept = append(kept, r)
		}
		switch {
		case rel.Many:
			doc[head] = kept
		case len(kept) > 0:
			doc[head] = kept[0]
		default:
			return
		}
		if !rel.Reverse() && len(kept) > 0 {
			delete(doc, rel.Field)
		}
	}

	if len(tail) == 0 || len(ancestors) >= MaxDepth {
		return
	}
	for _, child := range embedded(doc[head]) {
		next := append(ancestors[:len(ancestors):len(ancestors)], ancestor{resource: rel.Resource, id: child.ID()})
		e.embedPath(ctx, reg, rel.Resource, child, tail, next)
	}
}

func isAncestor(ancestors []ancestor, resource, id string) bool {
	for _, a := range ancestors {
		if a.resource == resource && a.id == id {
			return true
		}
	}
	return false
}

// embedded returns the entities held by an embedded value, whether it is a
// single object or a list of objects.
func embedded(v any) []models.Document {
	switch t := v.(type) {
	case models.Document:
		return []models.Document{t}
	case map[string]any:
		return []models.Document{models.Document(t)}
	case []any:
		out := make([]models.Document, 0, len(t))
		for _, item := range t {
			out = append(out, embedded(item)...)
		}
		return out
	default:
		return nil
	}
}
