package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/KohoVolit/api.parldata.eu/internal/apperr"
	"github.com/KohoVolit/api.parldata.eu/internal/models"
)

// TimeFormat is the layout of created_at and updated_at on read.
const TimeFormat = time.RFC3339

// encodeBody serialises the domain fields; id and timestamps live in columns.
func encodeBody(doc models.Document) (string, error) {
	body := make(map[string]any, len(doc))
	for k, v := range doc {
		switch k {
		case models.FieldID, models.FieldCreatedAt, models.FieldUpdatedAt:
			continue
		}
		body[k] = v
	}
	data, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("docstore: encode: %w", err)
	}
	return string(data), nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanDocument(row scanner) (models.Document, error) {
	var (
		id, body             string
		createdAt, updatedAt time.Time
	)
	if err := row.Scan(&id, &body, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	doc, err := models.DecodeDocument([]byte(body))
	if err != nil {
		return nil, fmt.Errorf("docstore: decode %s: %w", id, err)
	}
	if doc == nil {
		doc = models.Document{}
	}
	doc[models.FieldID] = id
	doc[models.FieldCreatedAt] = createdAt.UTC().Format(TimeFormat)
	doc[models.FieldUpdatedAt] = updatedAt.UTC().Format(TimeFormat)
	return doc, nil
}

func isConstraint(err error) bool {
	var se sqlite3.Error
	return errors.As(err, &se) && se.Code == sqlite3.ErrConstraint
}

// Get returns one document by id.
func (db *DB) Get(ctx context.Context, resource, id string) (models.Document, error) {
	row := db.conn.QueryRowContext(ctx, `
		SELECT id, body, created_at, updated_at
		FROM documents
		WHERE resource = ? AND id = ?
	`, resource, id)
	doc, err := scanDocument(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("docstore: get %s/%s: %w", resource, id, err)
	}
	return doc, nil
}

// Insert stores a new document. The document must carry an id.
func (db *DB) Insert(ctx context.Context, resource string, doc models.Document) error {
	id := doc.ID()
	if id == "" {
		return fmt.Errorf("docstore: insert %s: document has no id", resource)
	}
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	now := time.Now().UTC()
	_, err = db.conn.ExecContext(ctx, `
		INSERT INTO documents (resource, id, body, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, resource, id, body, now, now)
	if isConstraint(err) {
		return apperr.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("docstore: insert %s/%s: %w", resource, id, err)
	}
	return nil
}

// Replace overwrites the document stored under id. The new document may carry
// a different id, in which case the document is renamed.
func (db *DB) Replace(ctx context.Context, resource, id string, doc models.Document) error {
	newID := doc.ID()
	if newID == "" {
		newID = id
	}
	body, err := encodeBody(doc)
	if err != nil {
		return err
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE documents
		SET id = ?, body = ?, updated_at = ?
		WHERE resource = ? AND id = ?
	`, newID, body, time.Now().UTC(), resource, id)
	if isConstraint(err) {
		return apperr.ErrAlreadyExists
	}
	if err != nil {
		return fmt.Errorf("docstore: replace %s/%s: %w", resource, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("docstore: replace %s/%s: %w", resource, id, err)
	}
	if n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// Delete removes one document.
func (db *DB) Delete(ctx context.Context, resource, id string) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM documents WHERE resource = ? AND id = ?`, resource, id)
	if err != nil {
		return fmt.Errorf("docstore: delete %s/%s: %w", resource, id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperr.ErrNotFound
	}
	return nil
}

// DeleteAll removes every document of resource and reports how many went.
func (db *DB) DeleteAll(ctx context.Context, resource string) (int64, error) {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM documents WHERE resource = ?`, resource)
	if err != nil {
		return 0, fmt.Errorf("docstore: delete all %s: %w", resource, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}
