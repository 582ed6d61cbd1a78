package httputil

import (
	"encoding/json"
	"net/http"

	"github.com/voxrelay/backend/libs/golog"
)

// JSONContentType is the value used for the Content-Type header on JSON responses.
const JSONContentType = "application/json"

// JSONResponse writes a response with the provided object encoded as JSON
// setting an appropriate Content-Type header.
func JSONResponse(w http.ResponseWriter, statusCode int, res interface{}) {
	w.Header().Set("Content-Type", JSONContentType)
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(res); err != nil {
		golog.LogDepthf(1, golog.ERR, "failed to encode JSON response: %s", err)
	}
}

// JSONError writes an error body of the form {"error": msg}.
func JSONError(w http.ResponseWriter, statusCode int, msg string) {
	JSONResponse(w, statusCode, struct {
		Error string `json:"error"`
	}{Error: msg})
}
