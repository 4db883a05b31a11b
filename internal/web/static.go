package web

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/FocuswithJustin/parseweb/internal/logging"
	"github.com/FocuswithJustin/parseweb/internal/validation"
)

// staticHandler serves regular files below dir for paths under prefix.
// Anything that is not a regular file inside dir is a 404.
func (s *Server) staticHandler(prefix, dir string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			w.Header().Set("Allow", "GET, HEAD")
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}

		rel := strings.TrimPrefix(r.URL.Path, prefix)
		clean, err := validation.SanitizePath(dir, rel)
		if err != nil {
			if errors.Is(err, validation.ErrPathTraversal) {
				logging.SecurityEvent("path_traversal_rejected", "web",
					"path", r.URL.Path,
					"request_id", logging.GetRequestID(r.Context()))
			}
			http.NotFound(w, r)
			return
		}

		f, err := os.Open(filepath.Join(dir, clean))
		if err != nil {
			http.NotFound(w, r)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || !info.Mode().IsRegular() {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Cache-Control", "public, max-age=86400")
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
	}
}
