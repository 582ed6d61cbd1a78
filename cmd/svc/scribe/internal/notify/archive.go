package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"github.com/voxrelay/backend/libs/errors"
)

// ArchiveRequest is the handoff payload for the downstream archival
// integration.
type ArchiveRequest struct {
	ResultURL string `json:"resultUrl"`
	FileName  string `json:"fileName"`
	ClientID  string `json:"clientId,omitempty"`
	ItemID    string `json:"itemId,omitempty"`
}

// ArchiveResult is the structured response of the archival endpoint.
type ArchiveResult struct {
	Success bool   `json:"success"`
	JSONURL string `json:"jsonUrl"`
	SRTURL  string `json:"srtUrl"`
}

// Archiver hands a completed job off to the archival endpoint. The handoff
// is deliberately not retried; a failed handoff is reported through the
// Notifier and otherwise dropped.
type Archiver struct {
	Endpoint string
	// HTTPClient defaults to a client with a 30 second timeout.
	HTTPClient *http.Client
}

// Archive performs the handoff once and returns the structured result.
func (a *Archiver) Archive(ctx context.Context, req *ArchiveRequest) (*ArchiveResult, error) {
	data, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Trace(err)
	}
	httpClient := a.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	hr, err := http.NewRequestWithContext(ctx, "POST", a.Endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, errors.Trace(err)
	}
	hr.Header.Set("Content-Type", "application/json")
	res, err := httpClient.Do(hr)
	if err != nil {
		return nil, errors.Trace(err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return nil, errors.Errorf("notify: archive endpoint returned status %d: %s", res.StatusCode, b)
	}
	out := &ArchiveResult{}
	if err := json.NewDecoder(res.Body).Decode(out); err != nil {
		return nil, errors.Trace(err)
	}
	if !out.Success {
		return nil, errors.New("notify: archive endpoint reported failure")
	}
	return out, nil
}
