package middleware

import (
	"net/http"
	"os"
	"path/filepath"
)

const placeholderSVG = `<svg xmlns="http://www.w3.org/2000/svg" viewBox="0 0 400 200"><rect width="400" height="200" fill="#1b1b2f"/><path d="M140 70h120v60H140z" fill="none" stroke="#e0e0e0" stroke-width="4" stroke-dasharray="8 6"/><circle cx="140" cy="100" r="10" fill="#1b1b2f" stroke="#e0e0e0" stroke-width="4"/><circle cx="260" cy="100" r="10" fill="#1b1b2f" stroke="#e0e0e0" stroke-width="4"/><text x="200" y="170" text-anchor="middle" font-family="Arial" font-size="16" fill="#9a9ab0">EVENT</text></svg>`

// StaticFileServer serves event banner images, falling back to a
// placeholder ticket graphic when the file is missing.
func StaticFileServer(dir string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := filepath.Join(dir, filepath.Clean(r.URL.Path))

		if _, err := os.Stat(path); err == nil {
			w.Header().Set("Cache-Control", "public, max-age=2592000")
			http.ServeFile(w, r, path)
			return
		}

		w.Header().Set("Content-Type", "image/svg+xml")
		w.Header().Set("Cache-Control", "public, max-age=86400")
		w.Write([]byte(placeholderSVG))
	})
}
