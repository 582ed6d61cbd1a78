package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/server"
	"github.com/voxrelay/backend/libs/errors"
	"github.com/voxrelay/backend/libs/golog"
	"github.com/voxrelay/backend/libs/httputil"
)

type webhookHandler struct {
	svc *server.Service
}

// NewWebhook returns the handler for POST /webhook/{jobID}. Providers
// deliver terminal status callbacks here; the optional type query
// parameter names the provider when a job uses more than one. The
// response body is plain text for the provider's benefit and carries no
// job state.
func NewWebhook(svc *server.Service) http.Handler {
	return httputil.SupportedMethods(&webhookHandler{svc: svc}, []string{"POST"})
}

func (h *webhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	jobID := mux.Vars(r)["jobID"]
	httputil.CtxLogMap(r.Context()).Set("JobID", jobID)

	var payload map[string]interface{}
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, "invalid JSON payload", http.StatusBadRequest)
		return
	}

	res, err := h.svc.HandleCallback(r.Context(), jobID, r.URL.Query().Get("type"), payload)
	if err != nil {
		if errors.Cause(err) == server.ErrUnknownJob {
			http.Error(w, "Unknown job", http.StatusNotFound)
			return
		}
		golog.Errorf("Failed to handle callback for job %s: %s", jobID, err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	if res.ProviderFailed {
		w.Write([]byte("Job failed"))
		return
	}
	w.Write([]byte("OK"))
}
