package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/voxrelay/backend/libs/errors"
	"github.com/voxrelay/backend/libs/retryhttp"
)

// TagTranscribe is the discriminator for the transcription provider.
const TagTranscribe = "transcribe"

// Transcriber dispatches jobs to a serverless transcription endpoint that
// accepts `{"input": {...}, "webhook": url}` with a bearer token and reports
// status "COMPLETED" in its callback on success.
type Transcriber struct {
	// Endpoint is the full run URL of the deployed transcription function.
	Endpoint string
	// Token is the bearer credential.
	Token string
	// Client performs the dispatch call with bounded retry.
	Client *retryhttp.Client
}

func (p *Transcriber) Tag() string {
	return TagTranscribe
}

func (p *Transcriber) Dispatch(ctx context.Context, req *Request) (string, error) {
	input := map[string]interface{}{
		"audio": req.AudioURL,
	}
	if req.Language != "" {
		input["language"] = req.Language
	}
	return dispatchJSON(ctx, p.Client, p.Endpoint, "Bearer "+p.Token, map[string]interface{}{
		"input":   input,
		"webhook": req.CallbackURL,
	})
}

func (p *Transcriber) IsSuccess(payload map[string]interface{}) bool {
	s, _ := payload["status"].(string)
	return s == "COMPLETED"
}

func (p *Transcriber) Output(payload map[string]interface{}) interface{} {
	return payload["output"]
}

// dispatchJSON posts a JSON body to a provider endpoint and decodes the
// returned task ID. Shared by both adapters since the dispatch wire shape
// is the same even though the callback shapes differ.
func dispatchJSON(ctx context.Context, client *retryhttp.Client, endpoint, authorization string, body map[string]interface{}) (string, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return "", errors.Trace(err)
	}
	req, err := http.NewRequestWithContext(ctx, "POST", endpoint, bytes.NewReader(data))
	if err != nil {
		return "", errors.Trace(err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", authorization)
	res, err := client.Do(req)
	if err != nil {
		return "", errors.Trace(err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		b, _ := io.ReadAll(io.LimitReader(res.Body, 4<<10))
		return "", errors.Errorf("provider: dispatch to %s returned status %d: %s", endpoint, res.StatusCode, b)
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return "", errors.Trace(err)
	}
	if out.ID == "" {
		return "", errors.Errorf("provider: dispatch to %s returned no task id", endpoint)
	}
	return out.ID, nil
}
