package main

import (
	"net/http"
	"path"
	"path/filepath"

	"github.com/go-chi/chi/v5"
)

// serveWebClient serves the built web client from dir beside the API. A path
// that names no file gets index.html, so deep links into the app still load.
func serveWebClient(r chi.Router, dir string) {
	root := http.Dir(dir)
	files := http.FileServer(root)
	index := filepath.Join(dir, "index.html")

	r.Get("/*", func(w http.ResponseWriter, req *http.Request) {
		if f, err := root.Open(path.Clean("/" + req.URL.Path)); err == nil {
			f.Close()
			files.ServeHTTP(w, req)
			return
		}
		http.ServeFile(w, req, index)
	})
}
