// Package server implements the transcription job orchestrator: it
// dispatches uploaded audio to the configured providers and aggregates
// their asynchronous callbacks into a completed job.
package server

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
	"github.com/samuel/go-metrics/metrics"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/jobstore"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/notify"
	"github.com/voxrelay/backend/cmd/svc/scribe/internal/provider"
	"github.com/voxrelay/backend/libs/clock"
	"github.com/voxrelay/backend/libs/conc"
	"github.com/voxrelay/backend/libs/errors"
	"github.com/voxrelay/backend/libs/golog"
	"github.com/voxrelay/backend/libs/storage"
)

const defaultContentType = "application/binary"

// ErrUnknownJob is returned by HandleCallback when the job ID does not
// match any stored job record.
var ErrUnknownJob = errors.New("server: unknown job")

// ValidationError indicates invalid client input. Handlers map it to a
// 400 response with the message as the body.
type ValidationError string

func (e ValidationError) Error() string { return string(e) }

// UploadRequest is a validated audio upload ready for dispatch.
type UploadRequest struct {
	Audio           []byte
	ContentType     string
	FileName        string
	ClientID        string
	ItemID          string
	Language        string
	SpeakerEstimate int
}

// DispatchResult reports the accepted job and the provider task IDs it
// fanned out to.
type DispatchResult struct {
	JobID   string
	TaskIDs map[string]string
}

// CallbackResult describes the effect of a single provider callback.
type CallbackResult struct {
	// ProviderFailed is true when the callback reported a terminal
	// provider failure rather than a result.
	ProviderFailed bool
	// Completed is true when this callback was the last outstanding
	// result and the job is now complete.
	Completed bool
}

// Params configures a Service.
type Params struct {
	MediaStore      storage.DeterministicStore
	ResultStore     storage.DeterministicStore
	Jobs            *jobstore.Store
	Providers       []provider.Provider
	Notifier        notify.Notifier
	Archiver        *notify.Archiver // nil disables the archival handoff
	Clock           clock.Clock
	APIDomain       string
	MultiTenant     bool
	MetricsRegistry metrics.Registry
}

// Service orchestrates transcription jobs. All shared job state lives
// in the stores so multiple instances can serve callbacks for jobs they
// did not dispatch.
type Service struct {
	media       storage.DeterministicStore
	results     storage.DeterministicStore
	jobs        *jobstore.Store
	providers   []provider.Provider
	notifier    notify.Notifier
	archiver    *notify.Archiver
	clk         clock.Clock
	apiDomain   string
	multiTenant bool

	statJobsDispatched   *metrics.Counter
	statCallbacks        *metrics.Counter
	statProviderFailures *metrics.Counter
	statJobsCompleted    *metrics.Counter
}

// New returns a Service configured by p.
func New(p Params) *Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.New()
	}
	s := &Service{
		media:                p.MediaStore,
		results:              p.ResultStore,
		jobs:                 p.Jobs,
		providers:            p.Providers,
		notifier:             p.Notifier,
		archiver:             p.Archiver,
		clk:                  clk,
		apiDomain:            p.APIDomain,
		multiTenant:          p.MultiTenant,
		statJobsDispatched:   metrics.NewCounter(),
		statCallbacks:        metrics.NewCounter(),
		statProviderFailures: metrics.NewCounter(),
		statJobsCompleted:    metrics.NewCounter(),
	}
	if p.MetricsRegistry != nil {
		p.MetricsRegistry.Add("jobs/dispatched", s.statJobsDispatched)
		p.MetricsRegistry.Add("callbacks/received", s.statCallbacks)
		p.MetricsRegistry.Add("callbacks/provider-failures", s.statProviderFailures)
		p.MetricsRegistry.Add("jobs/completed", s.statJobsCompleted)
	}
	return s
}

// Dispatch persists the uploaded audio, fans it out to every configured
// provider, and writes the job record. The record is written last so a
// record's existence implies every provider accepted the job. There is
// no rollback: a provider failure after the audio upload leaves the
// media object behind, and callbacks for any tasks that did start hit
// an unknown job and are rejected.
func (s *Service) Dispatch(ctx context.Context, req *UploadRequest) (*DispatchResult, error) {
	if len(req.Audio) == 0 {
		return nil, ValidationError("audio file missing")
	}
	if s.multiTenant && (req.ClientID == "" || req.ItemID == "") {
		return nil, ValidationError("client_id and item_id are required")
	}
	if len(s.providers) == 0 {
		return nil, errors.New("server: no providers configured")
	}

	jobID := uuid.New().String()
	rec := &jobstore.Record{
		JobID:     jobID,
		ClientID:  req.ClientID,
		ItemID:    req.ItemID,
		FileName:  req.FileName,
		Expected:  make(map[string]string, len(s.providers)),
		CreatedAt: s.clk.Now(),
	}

	contentType := req.ContentType
	if contentType == "" {
		contentType = defaultContentType
	}
	mediaName := rec.OwnerPrefix() + jobID
	if _, err := s.media.Put(mediaName, req.Audio, contentType, nil); err != nil {
		return nil, errors.Trace(err)
	}
	audioURL := s.apiDomain + "/download/" + mediaName

	taskIDs := make([]string, len(s.providers))
	par := conc.NewParallel()
	for i, p := range s.providers {
		i, p := i, p
		par.Go(func() error {
			callbackURL := s.apiDomain + "/webhook/" + jobID
			if len(s.providers) > 1 {
				callbackURL += "?type=" + p.Tag()
			}
			taskID, err := p.Dispatch(ctx, &provider.Request{
				AudioURL:        audioURL,
				CallbackURL:     callbackURL,
				Language:        req.Language,
				SpeakerEstimate: req.SpeakerEstimate,
			})
			if err != nil {
				return errors.Annotatef(err, "provider %s", p.Tag())
			}
			taskIDs[i] = taskID
			return nil
		})
	}
	if err := par.Wait(); err != nil {
		return nil, errors.Trace(err)
	}

	for i, p := range s.providers {
		rec.Expected[p.Tag()] = taskIDs[i]
	}
	if err := s.jobs.Put(rec); err != nil {
		return nil, errors.Trace(err)
	}

	s.statJobsDispatched.Inc(1)
	golog.Infof("Dispatched job %s to %d provider(s)", jobID, len(s.providers))
	return &DispatchResult{JobID: jobID, TaskIDs: rec.Expected}, nil
}

// HandleCallback processes one provider callback for jobID. tag selects
// the provider when more than one is configured; with a single provider
// an empty tag resolves to it. Completion is derived from the result
// store on every call, never from a stored counter, so duplicate and
// reordered deliveries converge on the same job state. A duplicate
// delivery of the final callback re-derives completion and re-notifies;
// side effects are at-least-once.
func (s *Service) HandleCallback(ctx context.Context, jobID, tag string, payload map[string]interface{}) (*CallbackResult, error) {
	rec, err := s.jobs.Get(jobID)
	if errors.Cause(err) == jobstore.ErrNotFound {
		return nil, ErrUnknownJob
	} else if err != nil {
		return nil, errors.Trace(err)
	}

	p := s.providerForTag(tag)
	if p == nil {
		return nil, errors.Errorf("server: no provider for callback type %q", tag)
	}
	if _, ok := rec.Expected[p.Tag()]; !ok {
		return nil, errors.Errorf("server: provider %s not expected for job %s", p.Tag(), jobID)
	}
	s.statCallbacks.Inc(1)

	if !p.IsSuccess(payload) {
		s.statProviderFailures.Inc(1)
		// Failure payloads carry the cause under "error"; the status
		// string is only the terminal state sentinel.
		detail, _ := payload["error"].(string)
		if detail == "" {
			detail, _ = payload["status"].(string)
		}
		golog.Warningf("Job %s: provider %s reported failure: %s", jobID, p.Tag(), detail)
		s.notifier.JobFailed(jobID, p.Tag(), detail)
		return &CallbackResult{ProviderFailed: true}, nil
	}

	data, err := json.MarshalIndent(p.Output(payload), "", "  ")
	if err != nil {
		return nil, errors.Trace(err)
	}
	if _, err := s.results.Put(resultName(rec, p.Tag()), data, "application/json", nil); err != nil {
		return nil, errors.Trace(err)
	}

	resultURLs := make(map[string]string, len(rec.Expected))
	for expTag := range rec.Expected {
		name := resultName(rec, expTag)
		if _, err := s.results.GetHeader(s.results.IDFromName(name)); errors.Cause(err) == storage.ErrNoObject {
			return &CallbackResult{}, nil
		} else if err != nil {
			return nil, errors.Trace(err)
		}
		resultURLs[expTag] = s.apiDomain + "/download-result/" + name
	}

	s.statJobsCompleted.Inc(1)
	golog.Infof("Job %s complete", jobID)
	s.completeJob(ctx, rec, resultURLs)
	return &CallbackResult{Completed: true}, nil
}

func (s *Service) providerForTag(tag string) provider.Provider {
	if tag == "" && len(s.providers) == 1 {
		return s.providers[0]
	}
	for _, p := range s.providers {
		if p.Tag() == tag {
			return p
		}
	}
	return nil
}

// completeJob runs the completion side effects. Failures here are
// logged and reported through the notifier but never fail the callback:
// the job's results are already durable.
func (s *Service) completeJob(ctx context.Context, rec *jobstore.Record, resultURLs map[string]string) {
	conc.Go(func() {
		s.notifier.JobCompleted(rec.JobID, resultURLs)
	})

	if s.archiver == nil {
		return
	}
	primaryURL := resultURLs[provider.TagTranscribe]
	if primaryURL == "" {
		tags := make([]string, 0, len(resultURLs))
		for t := range resultURLs {
			tags = append(tags, t)
		}
		sort.Strings(tags)
		primaryURL = resultURLs[tags[0]]
	}
	fileName := rec.FileName
	if fileName == "" {
		fileName = rec.JobID
	}
	req := &notify.ArchiveRequest{
		ResultURL: primaryURL,
		FileName:  fileName,
		ClientID:  rec.ClientID,
		ItemID:    rec.ItemID,
	}
	// The request context dies with the webhook response. The handoff
	// outlives it.
	conc.GoCtx(context.WithoutCancel(ctx), func(ctx context.Context) {
		res, err := s.archiver.Archive(ctx, req)
		if err != nil {
			golog.Errorf("Job %s: archival handoff failed: %s", rec.JobID, err)
			s.notifier.ArchiveFailed(rec.JobID, err)
			return
		}
		s.notifier.JobArchived(rec.JobID, res.JSONURL, res.SRTURL)
	})
}

func resultName(rec *jobstore.Record, tag string) string {
	return rec.OwnerPrefix() + tag + "_" + rec.JobID + ".json"
}
