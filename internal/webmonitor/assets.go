package webmonitor

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/samber/lo"
)

// assetHandler serves static files by base name. Earlier directories win,
// so a frontend build overrides the bundled assets.
type assetHandler struct {
	dirs []string
}

func newAssetHandler(dirs ...string) *assetHandler {
	return &assetHandler{dirs: lo.Compact(dirs)}
}

func (h *assetHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := filepath.Base(r.URL.Path)
	if name == "." || name == "/" {
		http.NotFound(w, r)
		return
	}

	path, ok := h.lookup(name)
	if !ok {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Cache-Control", "no-cache")
	http.ServeFile(w, r, path)
}

func (h *assetHandler) lookup(name string) (string, bool) {
	return lo.Find(lo.Map(h.dirs, func(dir string, _ int) string {
		return filepath.Join(dir, name)
	}), fileExists)
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}
