package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/gorilla/mux"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/jobstore"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/notify"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/provider"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/server"
	"github.com/voxrelay/backend/libs/conc"
	"github.com/voxrelay/backend/libs/storage"
	"github.com/voxrelay/backend/libs/test"
)

func TestMain(m *testing.M) {
	conc.Testing = true
	os.Exit(m.Run())
}

type stubProvider struct {
	tag        string
	dispatched []*provider.Request
}

func (p *stubProvider) Tag() string { return p.tag }

func (p *stubProvider) Dispatch(ctx context.Context, req *provider.Request) (string, error) {
	p.dispatched = append(p.dispatched, req)
	return "task-1", nil
}

func (p *stubProvider) IsSuccess(payload map[string]interface{}) bool {
	s, _ := payload["status"].(string)
	return s == "ok"
}

func (p *stubProvider) Output(payload map[string]interface{}) interface{} {
	return payload["output"]
}

type testEnv struct {
	router  *mux.Router
	media   map[string]*storage.TestObject
	results map[string]*storage.TestObject
	prov    *stubProvider
}

func newTestEnv(t *testing.T) *testEnv {
	e := &testEnv{
		media:   map[string]*storage.TestObject{},
		results: map[string]*storage.TestObject{},
		prov:    &stubProvider{tag: "transcribe"},
	}
	mediaStore := storage.NewTestStore(e.media)
	resultStore := storage.NewTestStore(e.results)
	svc := server.New(server.Params{
		MediaStore:  mediaStore,
		ResultStore: resultStore,
		Jobs:        jobstore.New(storage.NewTestStore(nil)),
		Providers:   []provider.Provider{e.prov},
		Notifier:    notify.Log{},
		APIDomain:   "https://api.example.com",
	})
	e.router = mux.NewRouter()
	e.router.Handle("/", NewUpload(svc))
	e.router.Handle("/webhook/{jobID}", NewWebhook(svc))
	e.router.Handle("/download/{path:.+}", NewDownload(mediaStore))
	e.router.Handle("/download-result/{path:.+}", NewDownload(resultStore))
	return e
}

func multipartBody(t *testing.T, fields map[string]string, fileField, fileName string, fileData []byte) (*bytes.Buffer, string) {
	body := &bytes.Buffer{}
	mw := multipart.NewWriter(body)
	for k, v := range fields {
		test.OK(t, mw.WriteField(k, v))
	}
	if fileField != "" {
		fw, err := mw.CreateFormFile(fileField, fileName)
		test.OK(t, err)
		_, err = fw.Write(fileData)
		test.OK(t, err)
	}
	test.OK(t, mw.Close())
	return body, mw.FormDataContentType()
}

func TestUpload(t *testing.T) {
	e := newTestEnv(t)

	body, contentType := multipartBody(t, map[string]string{"language": "en"}, "audio", "meeting.wav", []byte("RIFFdata"))
	r := httptest.NewRequest("POST", "/", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	test.HTTPResponseCode(t, http.StatusOK, w)

	var res struct {
		JobID   string            `json:"jobId"`
		TaskIDs map[string]string `json:"taskIds"`
		Message string            `json:"message"`
	}
	test.OK(t, json.NewDecoder(w.Body).Decode(&res))
	test.Assert(t, res.JobID != "", "expected a job ID")
	test.Equals(t, map[string]string{"transcribe": "task-1"}, res.TaskIDs)
	test.Equals(t, "Job dispatched", res.Message)
	test.Equals(t, []byte("RIFFdata"), e.media[res.JobID].Data)
	test.Equals(t, "en", e.prov.dispatched[0].Language)
}

func TestUploadMissingAudio(t *testing.T) {
	e := newTestEnv(t)

	body, contentType := multipartBody(t, map[string]string{"language": "en"}, "", "", nil)
	r := httptest.NewRequest("POST", "/", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	test.HTTPResponseCode(t, http.StatusBadRequest, w)
	test.Assert(t, strings.Contains(w.Body.String(), "audio file missing"), "body: %s", w.Body.String())
	test.Equals(t, 0, len(e.media))
	test.Equals(t, 0, len(e.prov.dispatched))
}

func TestUploadMethodNotAllowed(t *testing.T) {
	e := newTestEnv(t)

	r := httptest.NewRequest("GET", "/", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	test.HTTPResponseCode(t, http.StatusMethodNotAllowed, w)
}

func uploadAudio(t *testing.T, e *testEnv) string {
	body, contentType := multipartBody(t, nil, "audio", "a.wav", []byte("xyz"))
	r := httptest.NewRequest("POST", "/", body)
	r.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	test.HTTPResponseCode(t, http.StatusOK, w)
	var res struct {
		JobID string `json:"jobId"`
	}
	test.OK(t, json.NewDecoder(w.Body).Decode(&res))
	return res.JobID
}

func TestWebhook(t *testing.T) {
	e := newTestEnv(t)
	jobID := uploadAudio(t, e)

	payload := `{"status": "ok", "output": {"text": "hello"}}`
	r := httptest.NewRequest("POST", "/webhook/"+jobID, strings.NewReader(payload))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	test.HTTPResponseCode(t, http.StatusOK, w)
	test.Equals(t, "OK", w.Body.String())
	test.Assert(t, e.results["transcribe_"+jobID+".json"] != nil, "expected stored result")
}

func TestWebhookProviderFailure(t *testing.T) {
	e := newTestEnv(t)
	jobID := uploadAudio(t, e)

	r := httptest.NewRequest("POST", "/webhook/"+jobID, strings.NewReader(`{"status": "failed"}`))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	test.HTTPResponseCode(t, http.StatusOK, w)
	test.Equals(t, "Job failed", w.Body.String())
}

func TestWebhookUnknownJob(t *testing.T) {
	e := newTestEnv(t)

	r := httptest.NewRequest("POST", "/webhook/nope", strings.NewReader(`{"status": "ok"}`))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	test.HTTPResponseCode(t, http.StatusNotFound, w)
}

func TestWebhookBadJSON(t *testing.T) {
	e := newTestEnv(t)
	jobID := uploadAudio(t, e)

	r := httptest.NewRequest("POST", "/webhook/"+jobID, strings.NewReader("not json"))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	test.HTTPResponseCode(t, http.StatusBadRequest, w)
}

func TestDownloadRoundTrip(t *testing.T) {
	e := newTestEnv(t)
	jobID := uploadAudio(t, e)

	r := httptest.NewRequest("GET", "/download/"+jobID, nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	test.HTTPResponseCode(t, http.StatusOK, w)
	test.Equals(t, []byte("xyz"), w.Body.Bytes())
	test.Equals(t, "public, max-age=3600", w.Header().Get("Cache-Control"))
}

func TestDownloadNotFound(t *testing.T) {
	e := newTestEnv(t)

	r := httptest.NewRequest("GET", "/download/nope", nil)
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, r)
	test.HTTPResponseCode(t, http.StatusNotFound, w)
}
