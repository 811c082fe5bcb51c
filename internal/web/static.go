package web

import (
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/Alviner/tty-web/internal/web/frontend"
)

// handleStatic serves the embedded frontend. The root path serves
// index.html; anything not baked into the binary is a 404.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/")
	if name == "" {
		name = "index.html"
	}

	data, err := frontend.Assets.ReadFile(name)
	if err != nil {
		http.NotFound(w, r)
		return
	}

	ctype := mime.TypeByExtension(path.Ext(name))
	if ctype == "" {
		ctype = "application/octet-stream"
	}
	w.Header().Set("Content-Type", ctype)
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write(data)
}
