// Package handlers contains the HTTP handlers for the scribe service.
package handlers

import (
	"io"
	"net/http"

	"github.com/gorilla/schema"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/server"
	"github.com/voxrelay/backend/libs/errors"
	"github.com/voxrelay/backend/libs/golog"
	"github.com/voxrelay/backend/libs/httputil"
)

// maxUploadMemory bounds the in-memory portion of multipart parsing.
// Larger bodies spill to temp files.
const maxUploadMemory = 32 << 20

var formDecoder = func() *schema.Decoder {
	d := schema.NewDecoder()
	d.IgnoreUnknownKeys(true)
	return d
}()

type uploadParams struct {
	ClientID    string `schema:"client_id"`
	ItemID      string `schema:"item_id"`
	Language    string `schema:"language"`
	NumSpeakers int    `schema:"num_speakers"`
}

type uploadResponse struct {
	JobID   string            `json:"jobId"`
	TaskIDs map[string]string `json:"taskIds"`
	Message string            `json:"message"`
}

type uploadHandler struct {
	svc *server.Service
}

// NewUpload returns the handler for POST /. It accepts a
// multipart form with an "audio" file part and optional client_id,
// item_id, language, and num_speakers fields.
func NewUpload(svc *server.Service) http.Handler {
	return httputil.SupportedMethods(&uploadHandler{svc: svc}, []string{"POST"})
}

func (h *uploadHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "expected a multipart form")
		return
	}
	file, header, err := r.FormFile("audio")
	if err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "audio file missing")
		return
	}
	defer file.Close()

	var params uploadParams
	if err := formDecoder.Decode(&params, r.MultipartForm.Value); err != nil {
		httputil.JSONError(w, http.StatusBadRequest, "invalid form field: "+err.Error())
		return
	}

	audio, err := io.ReadAll(file)
	if err != nil {
		golog.Errorf("Failed to read upload body: %s", err)
		httputil.JSONError(w, http.StatusInternalServerError, "failed to read audio file")
		return
	}

	res, err := h.svc.Dispatch(r.Context(), &server.UploadRequest{
		Audio:           audio,
		ContentType:     header.Header.Get("Content-Type"),
		FileName:        header.Filename,
		ClientID:        params.ClientID,
		ItemID:          params.ItemID,
		Language:        params.Language,
		SpeakerEstimate: params.NumSpeakers,
	})
	if err != nil {
		if ve, ok := errors.Cause(err).(server.ValidationError); ok {
			httputil.JSONError(w, http.StatusBadRequest, string(ve))
			return
		}
		golog.Errorf("Failed to dispatch job: %s", err)
		httputil.JSONError(w, http.StatusInternalServerError, "failed to dispatch transcription job")
		return
	}

	httputil.CtxLogMap(r.Context()).Set("JobID", res.JobID)
	httputil.JSONResponse(w, http.StatusOK, &uploadResponse{
		JobID:   res.JobID,
		TaskIDs: res.TaskIDs,
		Message: "Job dispatched",
	})
}
