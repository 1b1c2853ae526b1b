package serve

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
)

const indexHTML = "index.html"

// staticHandler serves the dist directory below a mount path. Unknown paths
// get the root index.html so client-side routing works.
type staticHandler struct {
	root   http.FileSystem
	mount  string
	logger *slog.Logger
}

func newStaticHandler(distDir, mount string, logger *slog.Logger) *staticHandler {
	return &staticHandler{
		root:   http.Dir(distDir),
		mount:  mount,
		logger: logger,
	}
}

func (h *staticHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	name, ok := h.relative(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	err := h.serveFile(w, r, name)
	if err == nil {
		return
	}

	if errors.Is(err, fs.ErrNotExist) {
		http.NotFound(w, r)
		return
	}

	h.logger.Error("Failed serving static file",
		slog.String("path", r.URL.Path),
		slog.String("err", err.Error()))
	http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
}

// relative strips the mount path. ok is false for paths outside the mount.
func (h *staticHandler) relative(p string) (string, bool) {
	if h.mount == "/" {
		return p, true
	}

	if p != h.mount && !strings.HasPrefix(p, h.mount+"/") {
		return "", false
	}

	rel := strings.TrimPrefix(p, h.mount)
	if rel == "" {
		rel = "/"
	}

	return rel, true
}

func (h *staticHandler) serveFile(w http.ResponseWriter, r *http.Request, name string) error {
	name = path.Clean("/" + name)

	f, err := h.root.Open(name)
	if errors.Is(err, fs.ErrNotExist) {
		return h.serveIndex(w, r)
	}
	if err != nil {
		return err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return err
	}

	if !info.IsDir() {
		http.ServeContent(w, r, info.Name(), info.ModTime(), f)
		return nil
	}

	if name != "/" && !strings.HasSuffix(r.URL.Path, "/") {
		target := r.URL.Path + "/"
		if r.URL.RawQuery != "" {
			target += "?" + r.URL.RawQuery
		}
		http.Redirect(w, r, target, http.StatusTemporaryRedirect)
		return nil
	}

	index, err := h.root.Open(path.Join(name, indexHTML))
	if errors.Is(err, fs.ErrNotExist) {
		return h.serveIndex(w, r)
	}
	if err != nil {
		return err
	}
	defer index.Close()

	return serveOpened(w, r, index)
}

func (h *staticHandler) serveIndex(w http.ResponseWriter, r *http.Request) error {
	f, err := h.root.Open("/" + indexHTML)
	if err != nil {
		return err
	}
	defer f.Close()

	return serveOpened(w, r, f)
}

func serveOpened(w http.ResponseWriter, r *http.Request, f http.File) error {
	info, err := f.Stat()
	if err != nil {
		return err
	}
	if info.IsDir() {
		return fs.ErrNotExist
	}

	http.ServeContent(w, r, indexHTML, info.ModTime(), f)
	return nil
}
