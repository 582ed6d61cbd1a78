package handlers

import (
	"io"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/voxrelay/backend/libs/errors"
	"github.com/voxrelay/backend/libs/golog"
	"github.com/voxrelay/backend/libs/httputil"
	"github.com/voxrelay/backend/libs/storage"
)

type downloadHandler struct {
	store storage.DeterministicStore
}

// NewDownload returns a handler that streams objects out of store by
// their name. It serves both /download/{path} for media (read by the
// providers) and /download-result/{path} for stored results.
func NewDownload(store storage.DeterministicStore) http.Handler {
	return httputil.SupportedMethods(&downloadHandler{store: store}, []string{"GET"})
}

func (h *downloadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["path"]
	rdc, headers, err := h.store.GetReader(h.store.IDFromName(name))
	if errors.Cause(err) == storage.ErrNoObject {
		http.NotFound(w, r)
		return
	} else if err != nil {
		golog.Errorf("Failed to fetch object %q: %s", name, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	defer rdc.Close()

	contentType := headers.Get("Content-Type")
	if contentType == "" {
		contentType = "application/binary"
	}
	w.Header().Set("Content-Type", contentType)
	if cl := headers.Get("Content-Length"); cl != "" {
		w.Header().Set("Content-Length", cl)
	}
	// Objects are immutable once written so a shared cache is safe.
	w.Header().Set("Cache-Control", "public, max-age=3600")
	if _, err := io.Copy(w, rdc); err != nil {
		golog.Warningf("Failed to stream object %q: %s", name, err)
	}
}
