package gateway

import (
	"net/http"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// mountStatic serves the dashboard's static assets from s.staticDir,
// falling back to index.html for any path without a file extension so
// client-side routes survive a hard refresh.
func (s *Server) mountStatic(r chi.Router) {
	fileServer := http.FileServer(http.Dir(s.staticDir))
	r.Get("/*", func(w http.ResponseWriter, r *http.Request) {
		upstream := strings.TrimPrefix(r.URL.Path, "/")
		if upstream == "" {
			upstream = "index.html"
		}
		if ext := filepath.Ext(upstream); ext == "" {
			r = cloneWithPath(r, "/index.html")
		}
		setContentType(w, upstream)
		fileServer.ServeHTTP(w, r)
	})
}

func cloneWithPath(r *http.Request, path string) *http.Request {
	r2 := r.Clone(r.Context())
	r2.URL.Path = path
	return r2
}

var staticContentTypes = map[string]string{
	".svg":  "image/svg+xml",
	".js":   "application/javascript",
	".mjs":  "application/javascript",
	".css":  "text/css",
	".json": "application/json",
	".html": "text/html; charset=utf-8",
	".ico":  "image/x-icon",
	".png":  "image/png",
	".woff": "font/woff",
	".woff2": "font/woff2",
}

func setContentType(w http.ResponseWriter, name string) {
	if ct, ok := staticContentTypes[strings.ToLower(filepath.Ext(name))]; ok {
		w.Header().Set("Content-Type", ct)
	}
}
