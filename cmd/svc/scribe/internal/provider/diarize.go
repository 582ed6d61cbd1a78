package provider

import (
	"context"

	"github.com/voxrelay/backend/libs/retryhttp"
)

// TagDiarize is the discriminator for the speaker diarization provider.
const TagDiarize = "diarize"

// Diarizer dispatches jobs to a hosted model endpoint that accepts
// `{"version", "input", "webhook"}` with a token credential and reports
// status "succeeded" in its callback on success.
type Diarizer struct {
	Endpoint string
	Token    string
	// Version pins the model version to run.
	Version string
	Client  *retryhttp.Client
}

func (p *Diarizer) Tag() string {
	return TagDiarize
}

func (p *Diarizer) Dispatch(ctx context.Context, req *Request) (string, error) {
	input := map[string]interface{}{
		"audio": req.AudioURL,
	}
	if req.SpeakerEstimate > 0 {
		// Bracket the caller's estimate rather than trusting it exactly.
		minSpeakers := req.SpeakerEstimate - 1
		if minSpeakers < 1 {
			minSpeakers = 1
		}
		input["min_speakers"] = minSpeakers
		input["max_speakers"] = req.SpeakerEstimate + 2
	}
	body := map[string]interface{}{
		"input":   input,
		"webhook": req.CallbackURL,
	}
	if p.Version != "" {
		body["version"] = p.Version
	}
	return dispatchJSON(ctx, p.Client, p.Endpoint, "Token "+p.Token, body)
}

func (p *Diarizer) IsSuccess(payload map[string]interface{}) bool {
	s, _ := payload["status"].(string)
	return s == "succeeded"
}

func (p *Diarizer) Output(payload map[string]interface{}) interface{} {
	return payload["output"]
}
