package da

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/drafterd/drafter/internal/policy"
	"github.com/drafterd/drafter/internal/remote"
)

// fakeEngine mimics the execution-engine registration and work-item API.
type fakeEngine struct {
	mu         sync.Mutex
	bundles    map[string]int // name -> latest version
	activities map[string]int
	aliases    map[string]int // "<kind>/<name>" -> aliased version
	packages   map[string][]byte
	workItems  map[string]string // id -> status
	submitted  []workItemRequest
	srv        *httptest.Server
}

func newFakeEngine(t *testing.T) *fakeEngine {
	t.Helper()
	f := &fakeEngine{
		bundles:    map[string]int{},
		activities: map[string]int{},
		aliases:    map[string]int{},
		packages:   map[string][]byte{},
		workItems:  map[string]string{},
	}
	f.srv = httptest.NewServer(f.handler())
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeEngine) handler() http.Handler {
	mux := newPatternMux()

	mux.HandleFunc("POST /appbundles", func(w http.ResponseWriter, r *http.Request) {
		var req bundleRequest
		decode(r, &req)
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, exists := f.bundles[req.ID]; exists {
			http.Error(w, `{"reason":"AppBundle already exists"}`, http.StatusConflict)
			return
		}
		f.bundles[req.ID] = 1
		fmt.Fprintf(w, `{"id":%q,"version":1,"uploadParameters":{"endpointURL":%q}}`,
			req.ID, f.srv.URL+"/upload/"+req.ID)
	})
	mux.HandleFunc("POST /appbundles/{name}/versions", func(w http.ResponseWriter, r *http.Request) {
		name := pathValue(r, "name")
		f.mu.Lock()
		defer f.mu.Unlock()
		f.bundles[name]++
		fmt.Fprintf(w, `{"id":%q,"version":%d,"uploadParameters":{"endpointURL":%q}}`,
			name, f.bundles[name], f.srv.URL+"/upload/"+name)
	})
	mux.HandleFunc("PUT /upload/{name}", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "" {
			http.Error(w, "signed endpoint must not carry a bearer token", http.StatusBadRequest)
			return
		}
		b, _ := io.ReadAll(r.Body)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.packages[pathValue(r, "name")] = b
	})
	mux.HandleFunc("POST /appbundles/{name}/aliases", f.aliasHandler("appbundles", false))
	mux.HandleFunc("PATCH /appbundles/{name}/aliases/{alias}", f.aliasHandler("appbundles", true))

	mux.HandleFunc("POST /activities", func(w http.ResponseWriter, r *http.Request) {
		var req activityRequest
		decode(r, &req)
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, exists := f.activities[req.ID]; exists {
			http.Error(w, `{"reason":"Activity already exists"}`, http.StatusConflict)
			return
		}
		f.activities[req.ID] = 1
		fmt.Fprintf(w, `{"id":%q,"version":1}`, req.ID)
	})
	mux.HandleFunc("POST /activities/{name}/versions", func(w http.ResponseWriter, r *http.Request) {
		name := pathValue(r, "name")
		f.mu.Lock()
		defer f.mu.Unlock()
		f.activities[name]++
		fmt.Fprintf(w, `{"id":%q,"version":%d}`, name, f.activities[name])
	})
	mux.HandleFunc("POST /activities/{name}/aliases", f.aliasHandler("activities", false))
	mux.HandleFunc("PATCH /activities/{name}/aliases/{alias}", f.aliasHandler("activities", true))

	mux.HandleFunc("DELETE /activities/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.activities[pathValue(r, "name")]; !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		delete(f.activities, pathValue(r, "name"))
	})
	mux.HandleFunc("DELETE /appbundles/{name}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.bundles[pathValue(r, "name")]; !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		delete(f.bundles, pathValue(r, "name"))
	})

	mux.HandleFunc("POST /workitems", func(w http.ResponseWriter, r *http.Request) {
		var req workItemRequest
		decode(r, &req)
		f.mu.Lock()
		defer f.mu.Unlock()
		f.submitted = append(f.submitted, req)
		id := fmt.Sprintf("wi-%d", len(f.submitted))
		f.workItems[id] = WorkItemPending
		fmt.Fprintf(w, `{"id":%q,"status":"pending"}`, id)
	})
	mux.HandleFunc("GET /workitems/{id}", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		status, ok := f.workItems[pathValue(r, "id")]
		if !ok {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		fmt.Fprintf(w, `{"id":%q,"status":%q}`, pathValue(r, "id"), status)
	})
	return mux
}

func (f *fakeEngine) aliasHandler(kind string, patch bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req aliasRequest
		decode(r, &req)
		key := kind + "/" + pathValue(r, "name")
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, exists := f.aliases[key]; exists && !patch {
			http.Error(w, `{"reason":"Alias already exists"}`, http.StatusConflict)
			return
		}
		f.aliases[key] = req.Version
		io.WriteString(w, `{}`)
	}
}

func decode(r *http.Request, v any) {
	b, _ := io.ReadAll(r.Body)
	_ = json.Unmarshal(b, v)
}

func newTestClient(t *testing.T, f *fakeEngine) *Client {
	t.Helper()
	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	api := remote.NewClient(f.srv.URL, remote.StaticTokenProvider("tok"), logger)
	chain := policy.NewChain(policy.WithLogger(logger))
	return NewClient(api, chain, logger)
}

func writePackage(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bundle.zip")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestRegisterTemplateFreshInstall(t *testing.T) {
	f := newFakeEngine(t)
	c := newTestClient(t, f)

	tpl := Template{
		Name:        "create-rfa",
		Engine:      "Autodesk.Inventor+2024",
		Package:     writePackage(t, "zip-bytes"),
		CommandLine: []string{"run.exe"},
	}
	if err := c.RegisterTemplate(context.Background(), tpl); err != nil {
		t.Fatalf("RegisterTemplate: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bundles["create-rfa"] != 1 {
		t.Errorf("bundle version = %d, want 1", f.bundles["create-rfa"])
	}
	if string(f.packages["create-rfa"]) != "zip-bytes" {
		t.Errorf("uploaded package = %q", f.packages["create-rfa"])
	}
	if f.activities["create-rfa"] != 1 {
		t.Errorf("activity version = %d, want 1", f.activities["create-rfa"])
	}
	if f.aliases["appbundles/create-rfa"] != 1 || f.aliases["activities/create-rfa"] != 1 {
		t.Errorf("aliases = %v, want both at version 1", f.aliases)
	}
}

func TestRegisterTemplateUpsertsExisting(t *testing.T) {
	f := newFakeEngine(t)
	c := newTestClient(t, f)

	tpl := Template{
		Name:        "create-rfa",
		Engine:      "Autodesk.Inventor+2024",
		Package:     writePackage(t, "v2"),
		CommandLine: []string{"run.exe"},
	}
	if err := c.RegisterTemplate(context.Background(), tpl); err != nil {
		t.Fatalf("first RegisterTemplate: %v", err)
	}
	// Re-registration must take the conflict path: new version, alias moved.
	if err := c.RegisterTemplate(context.Background(), tpl); err != nil {
		t.Fatalf("second RegisterTemplate: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.bundles["create-rfa"] != 2 {
		t.Errorf("bundle version = %d, want 2", f.bundles["create-rfa"])
	}
	if f.aliases["appbundles/create-rfa"] != 2 {
		t.Errorf("bundle alias = %d, want repointed to 2", f.aliases["appbundles/create-rfa"])
	}
	if f.aliases["activities/create-rfa"] != 2 {
		t.Errorf("activity alias = %d, want repointed to 2", f.aliases["activities/create-rfa"])
	}
}

func TestRegisterTemplateMissingPackage(t *testing.T) {
	f := newFakeEngine(t)
	c := newTestClient(t, f)

	tpl := Template{
		Name:    "create-rfa",
		Engine:  "Autodesk.Inventor+2024",
		Package: filepath.Join(t.TempDir(), "does-not-exist.zip"),
	}
	err := c.RegisterTemplate(context.Background(), tpl)
	if !errors.Is(err, ErrArtifactMissing) {
		t.Fatalf("err = %v, want ErrArtifactMissing", err)
	}

	// Nothing should have been registered remotely.
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bundles) != 0 {
		t.Errorf("bundles registered despite missing package: %v", f.bundles)
	}
}

func TestSubmitWorkItemTargetsProdAlias(t *testing.T) {
	f := newFakeEngine(t)
	c := newTestClient(t, f)

	def := WorkItemDefinition{
		Inputs:  []WorkItemInput{{Name: "in", URL: "https://x/a.ipt"}},
		Outputs: []WorkItemOutput{{Name: "out", URL: "https://x/b.rfa", Verb: "put"}},
	}
	id, err := c.SubmitWorkItem(context.Background(), "create-rfa", def)
	if err != nil {
		t.Fatalf("SubmitWorkItem: %v", err)
	}
	if id != "wi-1" {
		t.Errorf("id = %q, want wi-1", id)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if got := f.submitted[0].ActivityID; got != "create-rfa+prod" {
		t.Errorf("activityId = %q, want create-rfa+prod", got)
	}
}

func TestWorkItemStatus(t *testing.T) {
	f := newFakeEngine(t)
	c := newTestClient(t, f)
	ctx := context.Background()

	id, err := c.SubmitWorkItem(ctx, "create-rfa", WorkItemDefinition{})
	if err != nil {
		t.Fatalf("SubmitWorkItem: %v", err)
	}

	f.mu.Lock()
	f.workItems[id] = WorkItemSuccess
	f.mu.Unlock()

	st, err := c.WorkItemStatus(ctx, id)
	if err != nil {
		t.Fatalf("WorkItemStatus: %v", err)
	}
	if st.Status != WorkItemSuccess {
		t.Errorf("status = %q, want success", st.Status)
	}
	if !TerminalStatus(st.Status) {
		t.Error("success should be terminal")
	}
	if TerminalStatus(WorkItemInProgress) {
		t.Error("inprogress should not be terminal")
	}
}

func TestDeleteTemplateToleratesAbsent(t *testing.T) {
	f := newFakeEngine(t)
	c := newTestClient(t, f)

	tpl := Template{Name: "never-registered"}
	if err := c.DeleteTemplate(context.Background(), tpl); err != nil {
		t.Errorf("DeleteTemplate on absent template: %v", err)
	}
}

func TestDeleteTemplateRemovesBoth(t *testing.T) {
	f := newFakeEngine(t)
	c := newTestClient(t, f)

	tpl := Template{
		Name:    "create-rfa",
		Engine:  "Autodesk.Inventor+2024",
		Package: writePackage(t, "zip"),
	}
	if err := c.RegisterTemplate(context.Background(), tpl); err != nil {
		t.Fatalf("RegisterTemplate: %v", err)
	}
	if err := c.DeleteTemplate(context.Background(), tpl); err != nil {
		t.Fatalf("DeleteTemplate: %v", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.bundles) != 0 || len(f.activities) != 0 {
		t.Errorf("remote resources remain: bundles=%v activities=%v", f.bundles, f.activities)
	}
}
