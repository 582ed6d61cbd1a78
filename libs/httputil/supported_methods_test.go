package httputil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/voxrelay/backend/libs/test"
)

func TestSupportedMethods(t *testing.T) {
	h := SupportedMethods(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("hit"))
	}), []string{"POST", "GET"})

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("GET", "/", nil))
	test.HTTPResponseCode(t, http.StatusOK, w)
	test.Equals(t, "hit", w.Body.String())

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("DELETE", "/", nil))
	test.HTTPResponseCode(t, http.StatusMethodNotAllowed, w)
	test.Equals(t, "GET, POST", w.Header().Get("Allow"))

	w = httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest("OPTIONS", "/", nil))
	test.HTTPResponseCode(t, http.StatusOK, w)
	test.Equals(t, "GET, POST", w.Header().Get("Allow"))
}
