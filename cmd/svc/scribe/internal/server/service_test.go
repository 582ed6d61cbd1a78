package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxrelay/backend/cmd/svc/scribe/internal/jobstore"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/notify"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/provider"
	"github.com/voxrelay/backend/libs/clock"
	"github.com/voxrelay/backend/libs/conc"
	"github.com/voxrelay/backend/libs/errors"
	"github.com/voxrelay/backend/libs/storage"
	"github.com/voxrelay/backend/libs/test"
)

func TestMain(m *testing.M) {
	conc.Testing = true
	os.Exit(m.Run())
}

type fakeProvider struct {
	tag         string
	taskID      string
	dispatchErr error

	mu         sync.Mutex
	dispatched []*provider.Request
}

func (p *fakeProvider) Tag() string { return p.tag }

func (p *fakeProvider) Dispatch(ctx context.Context, req *provider.Request) (string, error) {
	p.mu.Lock()
	p.dispatched = append(p.dispatched, req)
	p.mu.Unlock()
	if p.dispatchErr != nil {
		return "", p.dispatchErr
	}
	return p.taskID, nil
}

func (p *fakeProvider) IsSuccess(payload map[string]interface{}) bool {
	s, _ := payload["status"].(string)
	return s == "ok"
}

func (p *fakeProvider) Output(payload map[string]interface{}) interface{} {
	return payload["output"]
}

type captureNotifier struct {
	completed     []string
	completedURLs []map[string]string
	failed        []string
	failedDetails []string
	archived      []string
	archiveFailed []string
}

func (n *captureNotifier) JobCompleted(jobID string, resultURLs map[string]string) {
	n.completed = append(n.completed, jobID)
	n.completedURLs = append(n.completedURLs, resultURLs)
}

func (n *captureNotifier) JobFailed(jobID, providerTag, detail string) {
	n.failed = append(n.failed, jobID+"/"+providerTag)
	n.failedDetails = append(n.failedDetails, detail)
}

func (n *captureNotifier) JobArchived(jobID, jsonURL, srtURL string) {
	n.archived = append(n.archived, jobID+" "+jsonURL+" "+srtURL)
}

func (n *captureNotifier) ArchiveFailed(jobID string, err error) {
	n.archiveFailed = append(n.archiveFailed, jobID)
}

type env struct {
	svc        *Service
	media      map[string]*storage.TestObject
	results    map[string]*storage.TestObject
	jobObjects map[string]*storage.TestObject
	notifier   *captureNotifier
}

func newEnv(t *testing.T, p Params) *env {
	e := &env{
		media:      map[string]*storage.TestObject{},
		results:    map[string]*storage.TestObject{},
		jobObjects: map[string]*storage.TestObject{},
		notifier:   &captureNotifier{},
	}
	p.MediaStore = storage.NewTestStore(e.media)
	p.ResultStore = storage.NewTestStore(e.results)
	p.Jobs = jobstore.New(storage.NewTestStore(e.jobObjects))
	p.Notifier = e.notifier
	if p.APIDomain == "" {
		p.APIDomain = "https://api.example.com"
	}
	e.svc = New(p)
	return e
}

func TestDispatchTwoProviders(t *testing.T) {
	pa := &fakeProvider{tag: "transcribe", taskID: "task-a"}
	pb := &fakeProvider{tag: "diarize", taskID: "task-b"}
	e := newEnv(t, Params{Providers: []provider.Provider{pa, pb}})

	res, err := e.svc.Dispatch(context.Background(), &UploadRequest{
		Audio:       []byte("RIFFdata"),
		ContentType: "audio/wav",
		Language:    "en",
	})
	test.OK(t, err)
	test.Equals(t, map[string]string{"transcribe": "task-a", "diarize": "task-b"}, res.TaskIDs)

	obj := e.media[res.JobID]
	test.Assert(t, obj != nil, "expected media object at %q", res.JobID)
	test.Equals(t, []byte("RIFFdata"), obj.Data)
	test.Equals(t, "audio/wav", obj.Headers.Get("Content-Type"))

	rec, err := e.svc.jobs.Get(res.JobID)
	test.OK(t, err)
	test.Equals(t, res.TaskIDs, rec.Expected)

	test.Equals(t, 1, len(pa.dispatched))
	test.Equals(t, "https://api.example.com/download/"+res.JobID, pa.dispatched[0].AudioURL)
	test.Equals(t, "https://api.example.com/webhook/"+res.JobID+"?type=transcribe", pa.dispatched[0].CallbackURL)
	test.Equals(t, "https://api.example.com/webhook/"+res.JobID+"?type=diarize", pb.dispatched[0].CallbackURL)
	test.Equals(t, "en", pa.dispatched[0].Language)
}

func TestDispatchSingleProviderNoDiscriminator(t *testing.T) {
	pa := &fakeProvider{tag: "transcribe", taskID: "task-a"}
	e := newEnv(t, Params{Providers: []provider.Provider{pa}})

	res, err := e.svc.Dispatch(context.Background(), &UploadRequest{Audio: []byte("x")})
	test.OK(t, err)
	test.Equals(t, "https://api.example.com/webhook/"+res.JobID, pa.dispatched[0].CallbackURL)
}

func TestDispatchMissingAudio(t *testing.T) {
	e := newEnv(t, Params{Providers: []provider.Provider{&fakeProvider{tag: "transcribe"}}})

	_, err := e.svc.Dispatch(context.Background(), &UploadRequest{})
	_, ok := errors.Cause(err).(ValidationError)
	test.Assert(t, ok, "expected ValidationError, got %v", err)
	test.Equals(t, 0, len(e.media))
	test.Equals(t, 0, len(e.jobObjects))
}

func TestDispatchMultiTenantRequiresScope(t *testing.T) {
	e := newEnv(t, Params{
		Providers:   []provider.Provider{&fakeProvider{tag: "transcribe"}},
		MultiTenant: true,
	})

	_, err := e.svc.Dispatch(context.Background(), &UploadRequest{Audio: []byte("x"), ClientID: "acme"})
	_, ok := errors.Cause(err).(ValidationError)
	test.Assert(t, ok, "expected ValidationError, got %v", err)
	test.Equals(t, 0, len(e.jobObjects))

	res, err := e.svc.Dispatch(context.Background(), &UploadRequest{
		Audio:    []byte("x"),
		ClientID: "acme",
		ItemID:   "call-7",
	})
	test.OK(t, err)
	test.Assert(t, e.media["acme/call-7/"+res.JobID] != nil, "expected owner-scoped media object")
}

func TestDispatchProviderFailure(t *testing.T) {
	pa := &fakeProvider{tag: "transcribe", taskID: "task-a"}
	pb := &fakeProvider{tag: "diarize", dispatchErr: errors.New("quota exceeded")}
	e := newEnv(t, Params{Providers: []provider.Provider{pa, pb}})

	_, err := e.svc.Dispatch(context.Background(), &UploadRequest{Audio: []byte("x")})
	test.Assert(t, err != nil, "expected dispatch error")
	test.Assert(t, strings.Contains(err.Error(), "diarize"), "error should name the provider: %v", err)
	// No record means any callback for the half-dispatched job is rejected.
	test.Equals(t, 0, len(e.jobObjects))
}

func TestDispatchRecordsCreationTime(t *testing.T) {
	clk := clock.NewManaged(time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC))
	pa := &fakeProvider{tag: "transcribe", taskID: "task-a"}
	e := newEnv(t, Params{Providers: []provider.Provider{pa}, Clock: clk})

	res, err := e.svc.Dispatch(context.Background(), &UploadRequest{Audio: []byte("x")})
	test.OK(t, err)
	rec, err := e.svc.jobs.Get(res.JobID)
	test.OK(t, err)
	test.Assert(t, rec.CreatedAt.Equal(clk.Now()), "created_at should be the dispatch time, got %s", rec.CreatedAt)

	warped := clk.WarpForward(45 * time.Minute)
	res, err = e.svc.Dispatch(context.Background(), &UploadRequest{Audio: []byte("y")})
	test.OK(t, err)
	rec, err = e.svc.jobs.Get(res.JobID)
	test.OK(t, err)
	test.Assert(t, rec.CreatedAt.Equal(warped), "created_at should follow the clock, got %s", rec.CreatedAt)
}

func dispatchJob(t *testing.T, e *env) string {
	res, err := e.svc.Dispatch(context.Background(), &UploadRequest{Audio: []byte("x")})
	test.OK(t, err)
	return res.JobID
}

func TestCallbackOrderIndependence(t *testing.T) {
	pa := &fakeProvider{tag: "transcribe", taskID: "task-a"}
	pb := &fakeProvider{tag: "diarize", taskID: "task-b"}
	e := newEnv(t, Params{Providers: []provider.Provider{pa, pb}})
	jobID := dispatchJob(t, e)

	// The diarize callback lands first even though transcribe dispatched first.
	cr, err := e.svc.HandleCallback(context.Background(), jobID, "diarize", map[string]interface{}{
		"status": "ok",
		"output": map[string]interface{}{"speakers": []interface{}{"S1", "S2"}},
	})
	test.OK(t, err)
	test.Equals(t, false, cr.Completed)
	test.Equals(t, 0, len(e.notifier.completed))

	cr, err = e.svc.HandleCallback(context.Background(), jobID, "transcribe", map[string]interface{}{
		"status": "ok",
		"output": map[string]interface{}{"text": "hello"},
	})
	test.OK(t, err)
	test.Equals(t, true, cr.Completed)
	test.Equals(t, []string{jobID}, e.notifier.completed)
	test.Equals(t, map[string]string{
		"transcribe": "https://api.example.com/download-result/transcribe_" + jobID + ".json",
		"diarize":    "https://api.example.com/download-result/diarize_" + jobID + ".json",
	}, e.notifier.completedURLs[0])

	obj := e.results["transcribe_"+jobID+".json"]
	test.Assert(t, obj != nil, "expected transcribe result object")
	test.Equals(t, "application/json", obj.Headers.Get("Content-Type"))
	var out map[string]interface{}
	test.OK(t, json.Unmarshal(obj.Data, &out))
	test.Equals(t, "hello", out["text"])
}

func TestCallbackDuplicateDelivery(t *testing.T) {
	pa := &fakeProvider{tag: "transcribe", taskID: "task-a"}
	e := newEnv(t, Params{Providers: []provider.Provider{pa}})
	jobID := dispatchJob(t, e)

	payload := map[string]interface{}{"status": "ok", "output": map[string]interface{}{"text": "hi"}}
	cr, err := e.svc.HandleCallback(context.Background(), jobID, "", payload)
	test.OK(t, err)
	test.Equals(t, true, cr.Completed)
	first := e.results["transcribe_"+jobID+".json"].Data

	cr, err = e.svc.HandleCallback(context.Background(), jobID, "", payload)
	test.OK(t, err)
	test.Equals(t, true, cr.Completed)
	// Stored data converges while the completion notification repeats.
	test.Equals(t, first, e.results["transcribe_"+jobID+".json"].Data)
	test.Equals(t, []string{jobID, jobID}, e.notifier.completed)
}

func TestCallbackProviderFailure(t *testing.T) {
	pa := &fakeProvider{tag: "transcribe", taskID: "task-a"}
	pb := &fakeProvider{tag: "diarize", taskID: "task-b"}
	e := newEnv(t, Params{Providers: []provider.Provider{pa, pb}})
	jobID := dispatchJob(t, e)

	cr, err := e.svc.HandleCallback(context.Background(), jobID, "transcribe", map[string]interface{}{
		"status": "ok",
		"output": map[string]interface{}{"text": "hello"},
	})
	test.OK(t, err)
	test.Equals(t, false, cr.Completed)

	cr, err = e.svc.HandleCallback(context.Background(), jobID, "diarize", map[string]interface{}{
		"status": "failed",
		"error":  "audio too short",
	})
	test.OK(t, err)
	test.Equals(t, true, cr.ProviderFailed)
	test.Equals(t, false, cr.Completed)
	test.Equals(t, []string{jobID + "/diarize"}, e.notifier.failed)
	// The notification carries the provider's error, not the bare status.
	test.Equals(t, []string{"audio too short"}, e.notifier.failedDetails)
	// The failed provider stored no result so the job never completes.
	test.Equals(t, 0, len(e.notifier.completed))
	test.Assert(t, e.results["diarize_"+jobID+".json"] == nil, "failure must not store a result")

	// Without an error field the status string is the only detail available.
	_, err = e.svc.HandleCallback(context.Background(), jobID, "diarize", map[string]interface{}{
		"status": "canceled",
	})
	test.OK(t, err)
	test.Equals(t, "canceled", e.notifier.failedDetails[1])
}

func TestCallbackUnknownJob(t *testing.T) {
	e := newEnv(t, Params{Providers: []provider.Provider{&fakeProvider{tag: "transcribe"}}})

	_, err := e.svc.HandleCallback(context.Background(), "no-such-job", "", map[string]interface{}{"status": "ok"})
	test.Equals(t, ErrUnknownJob, errors.Cause(err))
	test.Equals(t, 0, len(e.results))
}

func TestCallbackUnknownProviderTag(t *testing.T) {
	e := newEnv(t, Params{Providers: []provider.Provider{
		&fakeProvider{tag: "transcribe", taskID: "task-a"},
		&fakeProvider{tag: "diarize", taskID: "task-b"},
	}})
	jobID := dispatchJob(t, e)

	_, err := e.svc.HandleCallback(context.Background(), jobID, "summarize", map[string]interface{}{"status": "ok"})
	test.Assert(t, err != nil, "expected error for unknown callback type")
	test.Equals(t, 0, len(e.results))
}

func TestCompletionArchivalHandoff(t *testing.T) {
	var gotReq map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		test.OK(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success": true, "jsonUrl": "https://archive.example.com/a.json", "srtUrl": "https://archive.example.com/a.srt"}`))
	}))
	defer srv.Close()

	pa := &fakeProvider{tag: "transcribe", taskID: "task-a"}
	e := newEnv(t, Params{
		Providers: []provider.Provider{pa},
		Archiver:  &notify.Archiver{Endpoint: srv.URL},
	})

	res, err := e.svc.Dispatch(context.Background(), &UploadRequest{
		Audio:    []byte("x"),
		FileName: "meeting.wav",
		ClientID: "acme",
		ItemID:   "call-7",
	})
	test.OK(t, err)

	_, err = e.svc.HandleCallback(context.Background(), res.JobID, "", map[string]interface{}{
		"status": "ok",
		"output": map[string]interface{}{"text": "hello"},
	})
	test.OK(t, err)

	test.Equals(t, "https://api.example.com/download-result/acme/call-7/transcribe_"+res.JobID+".json", gotReq["resultUrl"])
	test.Equals(t, "meeting.wav", gotReq["fileName"])
	test.Equals(t, "acme", gotReq["clientId"])
	test.Equals(t, "call-7", gotReq["itemId"])
	test.Equals(t, 1, len(e.notifier.archived))
	test.Equals(t, res.JobID+" https://archive.example.com/a.json https://archive.example.com/a.srt", e.notifier.archived[0])
}

func TestArchivalFailureDoesNotFailCallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "storage offline", http.StatusInternalServerError)
	}))
	defer srv.Close()

	pa := &fakeProvider{tag: "transcribe", taskID: "task-a"}
	e := newEnv(t, Params{
		Providers: []provider.Provider{pa},
		Archiver:  &notify.Archiver{Endpoint: srv.URL},
	})
	jobID := dispatchJob(t, e)

	cr, err := e.svc.HandleCallback(context.Background(), jobID, "", map[string]interface{}{
		"status": "ok",
		"output": map[string]interface{}{"text": "hello"},
	})
	test.OK(t, err)
	test.Equals(t, true, cr.Completed)
	test.Equals(t, []string{jobID}, e.notifier.completed)
	test.Equals(t, []string{jobID}, e.notifier.archiveFailed)
	test.Equals(t, 0, len(e.notifier.archived))
}
