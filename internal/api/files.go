package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// FileHandler serves mirrored asset files.
type FileHandler struct {
	root string
}

// NewFileHandler creates a handler rooted at the files directory.
func NewFileHandler(root string) *FileHandler {
	return &FileHandler{root: filepath.Clean(root)}
}

// safePath resolves a request path below the files root.
func (h *FileHandler) safePath(name string) (string, bool) {
	if name == "" || strings.Contains(name, "..") || strings.HasPrefix(filepath.Base(name), ".") {
		return "", false
	}
	abs := filepath.Join(h.root, filepath.FromSlash(name))
	if !strings.HasPrefix(abs, h.root+string(os.PathSeparator)) {
		return "", false
	}
	return abs, true
}

// ServeFile handles GET /files/*. Hidden names, which include in-flight
// temporary files, are never served.
func (h *FileHandler) ServeFile(w http.ResponseWriter, r *http.Request) {
	abs, ok := h.safePath(strings.TrimPrefix(chi.URLParam(r, "*"), "/"))
	if !ok {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid file path"))
		return
	}
	info, err := os.Stat(abs)
	if err != nil || info.IsDir() {
		http.NotFound(w, r)
		return
	}
	http.ServeFile(w, r, abs)
}

// NewFilesRouter mounts the file handler on a chi router.
func NewFilesRouter(root string) chi.Router {
	h := NewFileHandler(root)
	r := chi.NewRouter()
	r.Get("/*", h.ServeFile)
	r.Head("/*", h.ServeFile)
	return r
}
