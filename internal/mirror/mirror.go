// Package mirror makes remote files referenced by entity fields locally
// durable and rewrites the fields to the public URL of the local copy.
package mirror

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/KohoVolit/api.parldata.eu/internal/checksum"
	"github.com/KohoVolit/api.parldata.eu/internal/keylock"
	"github.com/KohoVolit/api.parldata.eu/internal/metrics"
	"github.com/KohoVolit/api.parldata.eu/internal/models"
	"github.com/KohoVolit/api.parldata.eu/internal/storage"
)

// Asset describes the local copy backing a field.
type Asset struct {
	Resource  string `json:"resource"`
	EntityID  string `json:"entity_id"`
	Field     string `json:"field"`
	LocalPath string `json:"local_path"`
	PublicURL string `json:"public_url"`
	// Version is 1 for the unsuffixed file and n for "<field>.<n>.<ext>".
	Version int `json:"version"`
	// Stored is true when the call created the file.
	Stored bool `json:"stored"`
}

// Config configures a Mirror.
type Config struct {
	// BaseURL is the public URL of the files root.
	BaseURL string
	// FullFetch lists "resource.field" pairs compared by content instead of
	// by length.
	FullFetch []string
}

// Mirror relocates remote URLs to the local file store.
type Mirror struct {
	fetcher   *Fetcher
	files     storage.Provider
	baseURL   string
	fullFetch map[string]bool
	paths     keylock.Map
	logger    *slog.Logger
	metrics   *metrics.Metrics
}

// New creates a Mirror.
func New(cfg Config, fetcher *Fetcher, files storage.Provider, logger *slog.Logger, m *metrics.Metrics) *Mirror {
	if logger == nil {
		logger = slog.Default()
	}
	full := make(map[string]bool, len(cfg.FullFetch))
	for _, rf := range cfg.FullFetch {
		full[rf] = true
	}
	return &Mirror{
		fetcher:   fetcher,
		files:     files,
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		fullFetch: full,
		logger:    logger,
		metrics:   m,
	}
}

// PublicURL maps a store-relative path to its public URL.
func (m *Mirror) PublicURL(localPath string) string {
	return m.baseURL + "/" + localPath
}

// LocalPath maps a public URL back to a store-relative path; ok is false for
// URLs outside the files root.
func (m *Mirror) LocalPath(publicURL string) (string, bool) {
	prefix := m.baseURL + "/"
	if !strings.HasPrefix(publicURL, prefix) {
		return "", false
	}
	return strings.TrimPrefix(publicURL, prefix), true
}

// Canonical returns the store path of a field without version or extension.
func Canonical(resource, entityID, field string) string {
	return path.Join(resource, entityID, field)
}

// Relocate rewrites proposed[field] from a remote URL to the public URL of a
// local copy. Network and filesystem failures leave the field at its original
// value, or remove it when there was none; the write is never blocked.
func (m *Mirror) Relocate(ctx context.Context, resource, entityID, field string, proposed, original models.Document) (Asset, bool) {
	if !proposed.Has(field) {
		return Asset{}, false
	}
	remote, ok := proposed[field].(string)
	if !ok || remote == "" {
		return Asset{}, false
	}
	prior, _ := original[field].(string)
	if local, ok := m.LocalPath(remote); ok {
		// Already a local copy: nothing to fetch.
		if remote != prior {
			m.logger.Warn("mirror: local URL not owned by entity, keeping previous value",
				slog.String("resource", resource), slog.String("id", entityID), slog.String("field", field))
			m.restore(field, proposed, original)
		}
		return Asset{Resource: resource, EntityID: entityID, Field: field, LocalPath: local, PublicURL: prior}, false
	}

	start := time.Now()
	defer m.metrics.ObserveMirror(start)

	asset, err := m.relocate(ctx, resource, entityID, field, remote, prior)
	if err != nil {
		kind := "network"
		var fsErr *fsError
		if errors.As(err, &fsErr) {
			kind = "filesystem"
			m.logger.Error("mirror: store failed",
				slog.String("resource", resource), slog.String("id", entityID),
				slog.String("field", field), slog.String("error", err.Error()))
		} else {
			m.logger.Warn("mirror: fetch failed",
				slog.String("resource", resource), slog.String("id", entityID),
				slog.String("field", field), slog.String("url", remote), slog.String("error", err.Error()))
		}
		m.metrics.IncMirrorFailure(resource, kind)
		m.restore(field, proposed, original)
		return Asset{}, false
	}
	proposed[field] = asset.PublicURL
	if asset.Stored {
		outcome := "new"
		if asset.Version > 1 {
			outcome = "version"
		}
		m.metrics.IncAssetStored(resource, outcome)
		m.logger.Info("mirror: stored",
			slog.String("resource", resource), slog.String("id", entityID),
			slog.String("field", field), slog.String("path", asset.LocalPath))
	}
	return asset, true
}

func (m *Mirror) restore(field string, proposed, original models.Document) {
	if v, ok := original[field]; ok {
		proposed[field] = v
		return
	}
	delete(proposed, field)
}

// fsError marks failures of the local file store.
type fsError struct{ err error }

func (e *fsError) Error() string { return e.err.Error() }
func (e *fsError) Unwrap() error { return e.err }

func (m *Mirror) relocate(ctx context.Context, resource, entityID, field, remote, prior string) (Asset, error) {
	full := m.fullFetch[resource+"."+field]

	var (
		resp *Response
		err  error
	)
	if full {
		resp, err = m.fetcher.Get(ctx, remote)
	} else {
		resp, err = m.fetcher.Head(ctx, remote)
	}
	if err != nil {
		return Asset{}, err
	}

	canonical := Canonical(resource, entityID, field)
	ext := Extension(resp.ContentType)
	asset := Asset{Resource: resource, EntityID: entityID, Field: field}

	existing, hasLocal := m.LocalPath(prior)
	if hasLocal {
		same, err := m.unchanged(ctx, existing, remote, resp)
		if err != nil {
			return Asset{}, err
		}
		if same {
			asset.LocalPath = existing
			asset.PublicURL = prior
			asset.Version = versionOf(existing)
			return asset, nil
		}
	}

	if resp.Body == nil {
		if resp, err = m.fetcher.Get(ctx, remote); err != nil {
			return Asset{}, err
		}
	}

	unlock := m.paths.Lock(canonical)
	defer unlock()

	localPath, version, err := m.store(canonical, ext, !hasLocal, resp.Body)
	if err != nil {
		return Asset{}, err
	}
	asset.LocalPath = localPath
	asset.PublicURL = m.PublicURL(localPath)
	asset.Version = version
	asset.Stored = true
	return asset, nil
}

// unchanged compares the local copy with the remote resource: by declared
// length, or by content when the body is at hand or the length is unknown.
func (m *Mirror) unchanged(ctx context.Context, existing, remote string, resp *Response) (bool, error) {
	size, ok, err := m.files.Stat(existing)
	if err != nil {
		return false, &fsError{err}
	}
	if !ok {
		return false, nil
	}
	if resp.Body == nil && resp.Length >= 0 {
		return size == resp.Length, nil
	}
	if resp.Body == nil {
		full, err := m.fetcher.Get(ctx, remote)
		if err != nil {
			return false, err
		}
		*resp = *full
	}
	if size != int64(len(resp.Body)) {
		return false, nil
	}
	r, err := m.files.Open(existing)
	if err != nil {
		return false, &fsError{err}
	}
	defer r.Close()
	sum, _, err := checksum.SumReader(r)
	if err != nil {
		return false, &fsError{err}
	}
	return sum == checksum.Sum(resp.Body), nil
}

// store creates the first or next free version of canonical. The first
// version is "<canonical>.<ext>"; later ones are "<canonical>.<n+1>.<ext>"
// where n counts the existing files of canonical.
func (m *Mirror) store(canonical, ext string, first bool, body []byte) (string, int, error) {
	if first {
		p := canonical + "." + ext
		_, err := m.files.Create(p, bytes.NewReader(body))
		if err == nil {
			return p, 1, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", 0, &fsError{err}
		}
	}
	versions, err := m.files.Versions(canonical)
	if err != nil {
		return "", 0, &fsError{err}
	}
	for n := len(versions) + 1; n <= len(versions)+100; n++ {
		p := fmt.Sprintf("%s.%d.%s", canonical, n, ext)
		_, err := m.files.Create(p, bytes.NewReader(body))
		if err == nil {
			return p, n, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", 0, &fsError{err}
		}
	}
	return "", 0, &fsError{fmt.Errorf("mirror: no free version for %s", canonical)}
}

// versionOf reads n from "<field>.<n>.<ext>", 1 otherwise.
func versionOf(localPath string) int {
	parts := strings.Split(path.Base(localPath), ".")
	if len(parts) >= 3 {
		if n, err := strconv.Atoi(parts[len(parts)-2]); err == nil {
			return n
		}
	}
	return 1
}

// RemoveEntity deletes every mirrored file of an entity.
func (m *Mirror) RemoveEntity(resource, entityID string) error {
	if entityID == "" {
		return nil
	}
	if err := m.files.RemoveAll(path.Join(resource, entityID)); err != nil {
		return fmt.Errorf("mirror: remove %s/%s: %w", resource, entityID, err)
	}
	return nil
}

// RemoveResource deletes every mirrored file of a resource.
func (m *Mirror) RemoveResource(resource string) error {
	if err := m.files.RemoveAll(resource); err != nil {
		return fmt.Errorf("mirror: remove %s: %w", resource, err)
	}
	return nil
}

// Assets lists the stored files of an entity.
func (m *Mirror) Assets(resource, entityID string) ([]storage.FileInfo, error) {
	return m.files.List(path.Join(resource, entityID))
}
