package web

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/FocuswithJustin/parseweb/internal/logging"
	"github.com/FocuswithJustin/parseweb/internal/server"
)

// APIResponse is the standard API response wrapper.
type APIResponse struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *APIError   `json:"error,omitempty"`
	Meta    *APIMeta    `json:"meta,omitempty"`
}

// APIError represents an API error.
type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// APIMeta contains response metadata.
type APIMeta struct {
	Total     int    `json:"total,omitempty"`
	Timestamp string `json:"timestamp"`
}

// TypeInfo describes one catalog entry.
type TypeInfo struct {
	Name     string `json:"name"`
	Metadata string `json:"metadata"`
	Default  bool   `json:"default"`
}

// HealthStatus is the body of /health.
type HealthStatus struct {
	Status      string `json:"status"`
	CatalogSize int    `json:"catalog_size"`
}

var apiCSP = server.APICSPConfig().BuildCSPHeader()

func (s *Server) typeInfo(name string) TypeInfo {
	return TypeInfo{
		Name:     name,
		Metadata: s.catalog.Metadata(name),
		Default:  name == s.catalog.Default(),
	}
}

// handleTypes lists the catalog at /types and describes one entry at
// /types/<name>.
func (s *Server) handleTypes(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Security-Policy", apiCSP)
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", "GET")
		respondError(w, r, http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "method not allowed")
		return
	}

	name := strings.TrimPrefix(strings.TrimPrefix(r.URL.Path, "/types"), "/")
	if name == "" {
		names := s.catalog.Names()
		types := make([]TypeInfo, 0, len(names))
		for _, n := range names {
			types = append(types, s.typeInfo(n))
		}
		respondList(w, r, types, len(types))
		return
	}

	if !s.catalog.Contains(name) {
		respondError(w, r, http.StatusNotFound, "NOT_FOUND", "unknown selection: "+name)
		return
	}
	respond(w, r, http.StatusOK, s.typeInfo(name))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Security-Policy", apiCSP)
	writeJSON(w, r, http.StatusOK, HealthStatus{Status: "ok", CatalogSize: s.catalog.Len()})
}

func respond(w http.ResponseWriter, r *http.Request, status int, data interface{}) {
	writeJSON(w, r, status, APIResponse{
		Success: true,
		Data:    data,
		Meta:    &APIMeta{Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

func respondList(w http.ResponseWriter, r *http.Request, data interface{}, total int) {
	writeJSON(w, r, http.StatusOK, APIResponse{
		Success: true,
		Data:    data,
		Meta: &APIMeta{
			Total:     total,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		},
	})
}

func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, r, status, APIResponse{
		Success: false,
		Error:   &APIError{Code: code, Message: message},
		Meta:    &APIMeta{Timestamp: time.Now().UTC().Format(time.RFC3339)},
	})
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logging.DebugContext(r.Context(), "response_write_failed", "error", err.Error())
	}
}
