package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/KohoVolit/api.parldata.eu/internal/entityservice"
	"github.com/KohoVolit/api.parldata.eu/internal/schema"
	"github.com/KohoVolit/api.parldata.eu/internal/testutil"
)

// testEnv sets up a temp store, service, and router for testing.
// An empty authToken means disabled mode.
func testEnv(t *testing.T, authToken string) http.Handler {
	t.Helper()
	return testEnvWithSSE(t, authToken, nil)
}

func testEnvWithSSE(t *testing.T, authToken string, sseHandler http.Handler) http.Handler {
	t.Helper()
	mir, _ := testutil.TestMirror(t)
	svc := entityservice.NewService(entityservice.Deps{
		Store:   testutil.TestDB(t),
		Schemas: schema.NewSource(schema.Default()),
		Mirror:  mir,
	})
	return NewRouter(svc, authToken != "", authToken, sseHandler)
}

func do(t *testing.T, router http.Handler, method, target string, body any, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if s, ok := body.(string); ok {
			buf.WriteString(s)
		} else if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatal(err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode %q: %v", w.Body.String(), err)
	}
	return out
}

func TestCreateAndGet(t *testing.T) {
	router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/people", map[string]any{"id": "p1", "name": "Ann"})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodGet, "/people/p1", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	if w.Header().Get("ETag") == "" {
		t.Error("missing ETag")
	}
	doc := decode(t, w)
	if doc["name"] != "Ann" || doc["id"] != "p1" {
		t.Errorf("doc = %v", doc)
	}
}

func TestCreateBatch(t *testing.T) {
	router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/areas", `[{"id":"a1"},{"id":"a2"}]`)
	if w.Code != http.StatusCreated {
		t.Fatalf("batch create = %d, body = %s", w.Code, w.Body.String())
	}
	items, _ := decode(t, w)["_items"].([]any)
	if len(items) != 2 {
		t.Errorf("items = %v", items)
	}
}

func TestCreateDuplicate(t *testing.T) {
	router := testEnv(t, "")

	body := map[string]any{"id": "dup"}
	if w := do(t, router, http.MethodPost, "/people", body); w.Code != http.StatusCreated {
		t.Fatalf("first create = %d", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/people", body); w.Code != http.StatusConflict {
		t.Errorf("duplicate create = %d, want 409", w.Code)
	}
}

func TestCreateInvalidBody(t *testing.T) {
	router := testEnv(t, "")
	for _, body := range []string{"", "{", "[]", "[1]", `"x"`} {
		if w := do(t, router, http.MethodPost, "/people", body); w.Code != http.StatusBadRequest {
			t.Errorf("body %q = %d, want 400", body, w.Code)
		}
	}
}

func TestValidationError(t *testing.T) {
	router := testEnv(t, "")

	w := do(t, router, http.MethodPost, "/people", map[string]any{"gender": "robot"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422, body = %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	if body["field"] != "gender" || body["value"] != "robot" {
		t.Errorf("error body = %v", body)
	}
}

func TestUpdateRecordsChange(t *testing.T) {
	router := testEnv(t, "")
	do(t, router, http.MethodPost, "/people", map[string]any{"id": "p1", "email": "a@x.com"})

	w := do(t, router, http.MethodPatch, "/people/p1?effective_date=2020-03-01", map[string]any{"email": "b@x.com"})
	if w.Code != http.StatusOK {
		t.Fatalf("patch = %d, body = %s", w.Code, w.Body.String())
	}
	changes, _ := decode(t, w)["changes"].([]any)
	if len(changes) != 1 {
		t.Fatalf("changes = %v", changes)
	}
	ch := changes[0].(map[string]any)
	if ch["property"] != "email" || ch["value"] != "a@x.com" || ch["end_date"] != "2020-02-29" {
		t.Errorf("change = %v", ch)
	}
}

func TestUpdateBadEffectiveDate(t *testing.T) {
	router := testEnv(t, "")
	do(t, router, http.MethodPost, "/people", map[string]any{"id": "p1"})

	w := do(t, router, http.MethodPatch, "/people/p1?effective_date=2020-13-01", map[string]any{"email": "b@x.com"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestUpdateWithIfMatch(t *testing.T) {
	router := testEnv(t, "")
	w := do(t, router, http.MethodPost, "/areas", map[string]any{"id": "a1", "name": "North"})
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("create returned no ETag")
	}

	w = do(t, router, http.MethodPut, "/areas/a1", map[string]any{"name": "South"}, "If-Match", etag)
	if w.Code != http.StatusOK {
		t.Fatalf("put with current etag = %d, body = %s", w.Code, w.Body.String())
	}

	w = do(t, router, http.MethodPut, "/areas/a1", map[string]any{"name": "East"}, "If-Match", etag)
	if w.Code != http.StatusPreconditionFailed {
		t.Errorf("put with stale etag = %d, want 412", w.Code)
	}
}

func TestUpdateNotFound(t *testing.T) {
	router := testEnv(t, "")
	if w := do(t, router, http.MethodPatch, "/people/nope", map[string]any{"name": "x"}); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestListWithWhereAndEmbed(t *testing.T) {
	router := testEnv(t, "")
	do(t, router, http.MethodPost, "/organizations", map[string]any{"id": "o1", "name": "Chamber"})
	do(t, router, http.MethodPost, "/memberships", `[
		{"id":"m1","person_id":"p1","organization_id":"o1"},
		{"id":"m2","person_id":"p2","organization_id":"o1"},
		{"id":"m3","person_id":"p1","organization_id":"o1"}
	]`)

	q := url.Values{}
	q.Set("where", `{"person_id":"p1"}`)
	q.Set("max_results", "1")
	q.Set("embed", `["organization"]`)
	w := do(t, router, http.MethodGet, "/memberships?"+q.Encode(), nil)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d, body = %s", w.Code, w.Body.String())
	}
	body := decode(t, w)
	meta := body["_meta"].(map[string]any)
	if meta["total"] != float64(2) || meta["max_results"] != float64(1) {
		t.Errorf("meta = %v", meta)
	}
	items := body["_items"].([]any)
	if len(items) != 1 {
		t.Fatalf("items = %v", items)
	}
	org, _ := items[0].(map[string]any)["organization"].(map[string]any)
	if org["name"] != "Chamber" {
		t.Errorf("embedded organization = %v", org)
	}
}

func TestListBadQuery(t *testing.T) {
	router := testEnv(t, "")
	for _, q := range []string{"where=%5B%5D", "page=0", "max_results=x", "embed=organization"} {
		if w := do(t, router, http.MethodGet, "/memberships?"+q, nil); w.Code != http.StatusBadRequest {
			t.Errorf("query %q = %d, want 400", q, w.Code)
		}
	}
}

func TestUnknownResource(t *testing.T) {
	router := testEnv(t, "")
	if w := do(t, router, http.MethodGet, "/unicorns", nil); w.Code != http.StatusNotFound {
		t.Errorf("list unknown = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/unicorns", map[string]any{}); w.Code != http.StatusNotFound {
		t.Errorf("create unknown = %d, want 404", w.Code)
	}
}

func TestListResources(t *testing.T) {
	router := testEnv(t, "")
	w := do(t, router, http.MethodGet, "/", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	names, _ := decode(t, w)["resources"].([]any)
	if len(names) == 0 {
		t.Error("no resources listed")
	}
}

func TestDelete(t *testing.T) {
	router := testEnv(t, "")
	do(t, router, http.MethodPost, "/votes", map[string]any{"id": "v1", "option": "yes"})

	if w := do(t, router, http.MethodDelete, "/votes/v1", nil); w.Code != http.StatusNoContent {
		t.Fatalf("delete = %d", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/votes/v1", nil); w.Code != http.StatusNotFound {
		t.Errorf("get after delete = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodDelete, "/votes/v1", nil); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
}

func TestDeleteAll(t *testing.T) {
	router := testEnv(t, "")
	do(t, router, http.MethodPost, "/votes", `[{"option":"yes"},{"option":"no"}]`)

	w := do(t, router, http.MethodDelete, "/votes", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("delete all = %d", w.Code)
	}
	if n := decode(t, w)["deleted"]; n != float64(2) {
		t.Errorf("deleted = %v, want 2", n)
	}
}

func TestAssets(t *testing.T) {
	router := testEnv(t, "")
	do(t, router, http.MethodPost, "/people", map[string]any{"id": "p1"})

	w := do(t, router, http.MethodGet, "/people/p1/assets", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("assets = %d", w.Code)
	}
	assets, ok := decode(t, w)["assets"].([]any)
	if !ok || len(assets) != 0 {
		t.Errorf("assets = %v, want empty list", assets)
	}
	if w := do(t, router, http.MethodGet, "/people/missing/assets", nil); w.Code != http.StatusNotFound {
		t.Errorf("assets of missing entity = %d, want 404", w.Code)
	}
}

func TestAuthMiddleware_WriteRequiresToken(t *testing.T) {
	router := testEnv(t, "secret123")

	if w := do(t, router, http.MethodPost, "/people", map[string]any{"id": "p1"}); w.Code != http.StatusUnauthorized {
		t.Errorf("unauthed create = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/people", map[string]any{"id": "p1"}, "Authorization", "Bearer wrong"); w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token create = %d, want 401", w.Code)
	}
	if w := do(t, router, http.MethodPost, "/people", map[string]any{"id": "p1"}, "Authorization", "Bearer secret123"); w.Code != http.StatusCreated {
		t.Errorf("authed create = %d, want 201", w.Code)
	}
}

func TestAuthMiddleware_ReadsArePublic(t *testing.T) {
	router := testEnv(t, "secret123")
	if w := do(t, router, http.MethodGet, "/people", nil); w.Code != http.StatusOK {
		t.Errorf("unauthed list = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	router := testEnv(t, "")
	if w := do(t, router, http.MethodDelete, "/people", nil); w.Code != http.StatusOK {
		t.Errorf("no auth delete all = %d, want 200", w.Code)
	}
}

func TestSSEEventsMounted(t *testing.T) {
	sseHandler := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("event: ping\n\n"))
	})
	router := testEnvWithSSE(t, "tok", sseHandler)

	w := do(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusOK || w.Body.String() != "event: ping\n\n" {
		t.Errorf("events = %d %q", w.Code, w.Body.String())
	}
}

func TestServeFile(t *testing.T) {
	root := t.TempDir()
	if err := os.MkdirAll(filepath.Join(root, "people", "p1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "people", "p1", "image.png"), []byte("png"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(root, "people", "p1", ".parldata-tmp-1"), []byte("partial"), 0o644); err != nil {
		t.Fatal(err)
	}
	router := NewFilesRouter(root)

	w := do(t, router, http.MethodGet, "/people/p1/image.png", nil)
	if w.Code != http.StatusOK || w.Body.String() != "png" {
		t.Errorf("serve = %d %q", w.Code, w.Body.String())
	}
	if w := do(t, router, http.MethodGet, "/people/p1/other.png", nil); w.Code != http.StatusNotFound {
		t.Errorf("missing file = %d, want 404", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/people/p1/.parldata-tmp-1", nil); w.Code != http.StatusBadRequest {
		t.Errorf("temp file = %d, want 400", w.Code)
	}
	if w := do(t, router, http.MethodGet, "/people/p1", nil); w.Code != http.StatusNotFound {
		t.Errorf("directory = %d, want 404", w.Code)
	}
}

func TestFileHandlerSafePath(t *testing.T) {
	h := NewFileHandler("/srv/files")
	for _, name := range []string{"", "../etc/passwd", "a/../../b", ".hidden"} {
		if _, ok := h.safePath(name); ok {
			t.Errorf("safePath(%q) accepted", name)
		}
	}
	if got, ok := h.safePath("people/p1/image.png"); !ok || got != filepath.Join("/srv/files", "people", "p1", "image.png") {
		t.Errorf("safePath = %q, %v", got, ok)
	}
}
