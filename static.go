package live

import (
	"io/fs"
	"net/http"
	"strings"
)

// StaticFS serves fsys at urlPrefix, typically an embed.FS. Directory
// listings are not served.
func (v *V) StaticFS(urlPrefix string, fsys fs.FS) {
	if !strings.HasSuffix(urlPrefix, "/") {
		urlPrefix += "/"
	}
	files := http.StripPrefix(urlPrefix, http.FileServerFS(fsys))
	v.mux.HandleFunc("GET "+urlPrefix, func(w http.ResponseWriter, r *http.Request) {
		name := strings.TrimPrefix(r.URL.Path, urlPrefix)
		if name == "" || strings.HasSuffix(name, "/") {
			http.NotFound(w, r)
			return
		}
		if info, err := fs.Stat(fsys, name); err != nil || info.IsDir() {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
