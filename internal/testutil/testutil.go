// Package testutil provides shared test helpers for setting up stores and
// the hook environment.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/KohoVolit/api.parldata.eu/internal/docstore"
	"github.com/KohoVolit/api.parldata.eu/internal/embed"
	"github.com/KohoVolit/api.parldata.eu/internal/hooks"
	"github.com/KohoVolit/api.parldata.eu/internal/mirror"
	"github.com/KohoVolit/api.parldata.eu/internal/schema"
	"github.com/KohoVolit/api.parldata.eu/internal/storage"
	"github.com/KohoVolit/api.parldata.eu/internal/validate"
)

// FilesBaseURL is the public base URL used by TestMirror.
const FilesBaseURL = "http://files.test/files"

// TestDB creates a temporary SQLite document store that is automatically cleaned up.
func TestDB(t *testing.T) *docstore.DB {
	t.Helper()
	db, err := docstore.Open(filepath.Join(t.TempDir(), "parldata-test.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// TestFiles creates a temporary files directory with a storage.Provider.
func TestFiles(t *testing.T) (string, storage.Provider) {
	t.Helper()
	dir := t.TempDir()
	files, err := storage.NewFS(dir)
	if err != nil {
		t.Fatal(err)
	}
	return dir, files
}

// TestMirror creates a mirror over temporary files that may fetch from
// loopback servers such as httptest.
func TestMirror(t *testing.T) (*mirror.Mirror, storage.Provider) {
	t.Helper()
	_, files := TestFiles(t)
	m := mirror.New(
		mirror.Config{BaseURL: FilesBaseURL},
		mirror.NewFetcher(mirror.FetcherConfig{AllowPrivate: true}),
		files, nil, nil,
	)
	return m, files
}

// TestEnv builds a hook environment over the built-in schema and a fresh
// store. The mirror is nil unless withMirror is set.
func TestEnv(t *testing.T, withMirror bool) *hooks.Env {
	t.Helper()
	db := TestDB(t)
	env := &hooks.Env{
		Registry:   schema.Default(),
		Store:      db,
		Validators: validate.NewRegistry(),
		Embedder:   embed.New(db, nil),
	}
	if withMirror {
		env.Mirror, _ = TestMirror(t)
	}
	return env
}
