package web

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/FocuswithJustin/parseweb/internal/server"
)

func decodeAPI(t *testing.T, w *httptest.ResponseRecorder) APIResponse {
	t.Helper()
	if ct := w.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	var resp APIResponse
	if err := json.NewDecoder(w.Body).Decode(&resp); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return resp
}

func TestTypesEntry(t *testing.T) {
	s := newTestServer(t, testConfig(t), &stubInvoker{})

	tests := []struct {
		name        string
		target      string
		wantMeta    string
		wantDefault bool
	}{
		{name: "default entry", target: "/types/Finnish", wantMeta: "fi_tdt", wantDefault: true},
		{name: "other entry", target: "/types/English", wantMeta: "en_ewt"},
		{name: "no metadata", target: "/types/Swedish"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, s.Handler(), tt.target)
			if w.Code != http.StatusOK {
				t.Fatalf("status = %d, want 200", w.Code)
			}
			if got := w.Header().Get("Content-Security-Policy"); got != server.APICSPConfig().BuildCSPHeader() {
				t.Errorf("CSP = %q, want the API policy", got)
			}

			resp := decodeAPI(t, w)
			if !resp.Success || resp.Meta == nil || resp.Meta.Timestamp == "" {
				t.Fatalf("response = %+v", resp)
			}
			data, ok := resp.Data.(map[string]interface{})
			if !ok {
				t.Fatalf("data = %T, want object", resp.Data)
			}
			if data["name"] != strings.TrimPrefix(tt.target, "/types/") {
				t.Errorf("name = %v", data["name"])
			}
			if data["metadata"] != tt.wantMeta {
				t.Errorf("metadata = %v, want %q", data["metadata"], tt.wantMeta)
			}
			if data["default"] != tt.wantDefault {
				t.Errorf("default = %v, want %v", data["default"], tt.wantDefault)
			}
		})
	}
}

func TestTypesList(t *testing.T) {
	s := newTestServer(t, testConfig(t), &stubInvoker{})

	w := get(t, s.Handler(), "/types")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeAPI(t, w)
	items, ok := resp.Data.([]interface{})
	if !ok || len(items) != 3 {
		t.Fatalf("data = %#v, want 3 entries", resp.Data)
	}
	if resp.Meta.Total != 3 {
		t.Errorf("total = %d, want 3", resp.Meta.Total)
	}
	first := items[0].(map[string]interface{})
	if first["name"] != "English" {
		t.Errorf("first entry = %v, want catalog order", first["name"])
	}
}

func TestTypesUnknown(t *testing.T) {
	s := newTestServer(t, testConfig(t), &stubInvoker{})

	w := get(t, s.Handler(), "/types/Klingon")
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	resp := decodeAPI(t, w)
	if resp.Success || resp.Error == nil || resp.Error.Code != "NOT_FOUND" {
		t.Errorf("response = %+v", resp)
	}
}

func TestTypesMethodNotAllowed(t *testing.T) {
	s := newTestServer(t, testConfig(t), &stubInvoker{})

	req := httptest.NewRequest(http.MethodDelete, "/types/Finnish", nil)
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
	if got := w.Header().Get("Allow"); got != "GET" {
		t.Errorf("Allow = %q", got)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, testConfig(t), &stubInvoker{})

	w := get(t, s.Handler(), "/health")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	var got HealthStatus
	if err := json.NewDecoder(w.Body).Decode(&got); err != nil {
		t.Fatal(err)
	}
	if got.Status != "ok" || got.CatalogSize != 3 {
		t.Errorf("health = %+v", got)
	}
}
