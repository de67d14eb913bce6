package api

import (
	"net/http"
	"testing"
)

func TestListTemplates(t *testing.T) {
	env := newTestEnv(t)

	resp := env.get(t, "/v1/templates")
	var body struct {
		Templates []templateInfo `json:"templates"`
	}
	decodeBody(t, resp, &body)

	if len(body.Templates) != 2 {
		t.Fatalf("templates = %d, want 2", len(body.Templates))
	}
	if body.Templates[0].Name != "create-rfa" {
		t.Errorf("first template = %q", body.Templates[0].Name)
	}
}

func TestInitializeTemplatesEndpoint(t *testing.T) {
	env := newTestEnv(t)

	resp := env.postJSON(t, "/v1/templates/initialize", nil)
	var body struct {
		Registered []string `json:"registered"`
	}
	decodeBody(t, resp, &body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d, want 200", resp.StatusCode)
	}
	if len(body.Registered) != 2 {
		t.Errorf("registered = %v, want both templates", body.Registered)
	}

	env.registrar.mu.Lock()
	defer env.registrar.mu.Unlock()
	if len(env.registrar.registered) != 2 {
		t.Errorf("registrar saw %v", env.registrar.registered)
	}
}

func TestDeleteTemplatesSkipsShared(t *testing.T) {
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodDelete, env.ts.URL+"/v1/templates", nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Deleted []string `json:"deleted"`
		Skipped []string `json:"skipped"`
	}
	decodeBody(t, del, &body)

	if len(body.Deleted) != 1 || body.Deleted[0] != "create-rfa" {
		t.Errorf("deleted = %v, want only the owned template", body.Deleted)
	}
	if len(body.Skipped) != 1 || body.Skipped[0] != "extract-drawing" {
		t.Errorf("skipped = %v, want the shared template", body.Skipped)
	}
}

func TestDeleteTemplatesAllowSharedStillOwnerGated(t *testing.T) {
	// The test env's client identity is not the shared owner, so even with
	// allowDeleteShared the shared template survives.
	env := newTestEnv(t)

	req, _ := http.NewRequest(http.MethodDelete, env.ts.URL+"/v1/templates?allowDeleteShared=true", nil)
	del, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	var body struct {
		Deleted []string `json:"deleted"`
		Skipped []string `json:"skipped"`
	}
	decodeBody(t, del, &body)

	if len(body.Skipped) != 1 || body.Skipped[0] != "extract-drawing" {
		t.Errorf("skipped = %v, want the shared template owner-gated", body.Skipped)
	}
}
