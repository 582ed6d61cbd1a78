// Package provider contains the adapters for the external asynchronous
// compute services that process audio and report back over a webhook. Each
// adapter knows how to start a job against its service and how to read that
// service's callback payload (the success sentinel and the output shape
// differ between integrations).
package provider

import "context"

// Request carries everything a provider needs to start an asynchronous job.
type Request struct {
	// AudioURL is a publicly reachable URL for the stored audio, served by
	// this system's download endpoint.
	AudioURL string
	// CallbackURL is where the provider reports completion or failure.
	CallbackURL string
	// Language is an optional language hint.
	Language string
	// SpeakerEstimate is the caller supplied estimate of distinct speakers,
	// 0 when not provided.
	SpeakerEstimate int
}

// Provider is one external compute integration.
type Provider interface {
	// Tag identifies the provider within a job. It is used as the callback
	// discriminator and in result object names.
	Tag() string
	// Dispatch starts a job and returns the provider's task ID.
	Dispatch(ctx context.Context, req *Request) (string, error)
	// IsSuccess reports whether a callback payload signals success. Every
	// other status is treated as provider failure.
	IsSuccess(payload map[string]interface{}) bool
	// Output extracts the provider's output from a successful callback payload.
	Output(payload map[string]interface{}) interface{}
}
