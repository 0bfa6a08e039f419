package docstore

import (
	"context"

	"github.com/KohoVolit/api.parldata.eu/internal/models"
)

// Finder is the read side needed by validators and the relation embedder.
type Finder interface {
	// Find returns documents of resource whose field equals value.
	Find(ctx context.Context, resource, field string, value any) ([]models.Document, error)
	// FindElement returns a document of resource, other than excludeID, whose
	// list field holds an element structurally equal to element.
	FindElement(ctx context.Context, resource, field string, element any, excludeID string) (models.Document, bool, error)
	// Get returns one document by id or apperr.ErrNotFound.
	Get(ctx context.Context, resource, id string) (models.Document, error)
}

// Store is the full document store used by the entity service.
type Store interface {
	Finder
	List(ctx context.Context, resource string, q Query) ([]models.Document, int, error)
	Insert(ctx context.Context, resource string, doc models.Document) error
	Replace(ctx context.Context, resource, id string, doc models.Document) error
	Delete(ctx context.Context, resource, id string) error
	DeleteAll(ctx context.Context, resource string) (int64, error)
	Close() error
}

// Query filters and paginates List. Where holds top-level equality filters.
type Query struct {
	Where      map[string]any
	Page       int
	MaxResults int
}

// Verify *DB satisfies Store at compile time.
var _ Store = (*DB)(nil)
