package docstore

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/KohoVolit/api.parldata.eu/internal/apperr"
	"github.com/KohoVolit/api.parldata.eu/internal/models"
)

// Field names reachable through json paths.
var fieldRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func jsonPath(field string) (string, error) {
	if !fieldRe.MatchString(field) {
		return "", apperr.BadRequest("invalid field name %q", field)
	}
	return "$." + field, nil
}

// condition builds a predicate comparing a top-level field to a scalar.
// ok is false when the value can never match (null or composite).
func condition(field string, value any) (clause string, args []any, ok bool, err error) {
	switch field {
	case models.FieldID:
		s, isStr := value.(string)
		if !isStr {
			return "", nil, false, nil
		}
		return "id = ?", []any{s}, true, nil
	case models.FieldCreatedAt, models.FieldUpdatedAt:
		return "", nil, false, apperr.BadRequest("cannot filter on %s", field)
	}
	path, err := jsonPath(field)
	if err != nil {
		return "", nil, false, err
	}
	switch v := value.(type) {
	case string, float64, int, int64:
		return "json_extract(body, ?) = ?", []any{path, v}, true, nil
	case bool:
		kind := "false"
		if v {
			kind = "true"
		}
		return "json_type(body, ?) = ?", []any{path, kind}, true, nil
	default:
		return "", nil, false, nil
	}
}

// Find returns documents whose field equals value. A null or composite value
// matches nothing.
func (db *DB) Find(ctx context.Context, resource, field string, value any) ([]models.Document, error) {
	clause, args, ok, err := condition(field, value)
	if err != nil || !ok {
		return nil, err
	}
	query := `SELECT id, body, created_at, updated_at FROM documents WHERE resource = ? AND ` +
		clause + ` ORDER BY created_at, id`
	return db.queryDocuments(ctx, query, append([]any{resource}, args...)...)
}

// FindElement looks for a document other than excludeID whose list field holds
// an element equal to element. SQL narrows candidates by element type and its
// scalar members; the exact structural check runs on the decoded lists.
func (db *DB) FindElement(ctx context.Context, resource, field string, element any, excludeID string) (models.Document, bool, error) {
	path, err := jsonPath(field)
	if err != nil {
		return nil, false, err
	}
	var (
		conds []string
		args  = []any{resource, excludeID, path}
	)
	elem := models.ElementOf(element)
	switch elem.Kind() {
	case models.KindObject:
		conds = append(conds, "j.type = 'object'")
		for k, member := range elem.Fields() {
			if member.Kind() != models.KindScalar || !fieldRe.MatchString(k) {
				continue
			}
			switch v := member.Scalar().(type) {
			case string, float64:
				conds = append(conds, "json_extract(j.value, ?) = ?")
				args = append(args, "$."+k, v)
			}
		}
	case models.KindList:
		conds = append(conds, "j.type = 'array'")
	default:
		switch v := elem.Scalar().(type) {
		case string:
			conds = append(conds, "j.type = 'text'", "j.value = ?")
			args = append(args, v)
		case float64:
			conds = append(conds, "j.type IN ('integer', 'real')", "j.value = ?")
			args = append(args, v)
		case bool:
			if v {
				conds = append(conds, "j.type = 'true'")
			} else {
				conds = append(conds, "j.type = 'false'")
			}
		case nil:
			conds = append(conds, "j.type = 'null'")
		}
	}
	query := `
		SELECT id, body, created_at, updated_at
		FROM documents d
		WHERE resource = ? AND id != ? AND EXISTS (
			SELECT 1 FROM json_each(d.body, ?) j WHERE ` + strings.Join(conds, " AND ") + `
		)
		ORDER BY created_at, id`
	docs, err := db.queryDocuments(ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	for _, doc := range docs {
		list, _ := doc[field].([]any)
		for _, item := range list {
			if models.ElementOf(item).Equal(elem) {
				return doc, true, nil
			}
		}
	}
	return nil, false, nil
}

// List returns one page of documents matching q together with the total
// number of matches.
func (db *DB) List(ctx context.Context, resource string, q Query) ([]models.Document, int, error) {
	where := []string{"resource = ?"}
	args := []any{resource}
	for field, value := range q.Where {
		clause, cargs, ok, err := condition(field, value)
		if err != nil {
			return nil, 0, err
		}
		if !ok {
			return nil, 0, apperr.BadRequest("unsupported filter value for %s", field)
		}
		where = append(where, clause)
		args = append(args, cargs...)
	}
	filter := strings.Join(where, " AND ")

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM documents WHERE `+filter, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("docstore: count %s: %w", resource, err)
	}

	page, limit := q.Page, q.MaxResults
	if page < 1 {
		page = 1
	}
	query := `SELECT id, body, created_at, updated_at FROM documents WHERE ` + filter + ` ORDER BY created_at, id`
	if limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, (page-1)*limit)
	}
	docs, err := db.queryDocuments(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	return docs, total, nil
}

func (db *DB) queryDocuments(ctx context.Context, query string, args ...any) ([]models.Document, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("docstore: query: %w", err)
	}
	defer rows.Close()

	var docs []models.Document
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}
