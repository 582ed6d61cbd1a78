// Package notify delivers best-effort operator notifications to a chat
// webhook. Delivery failures are logged and never surfaced to callers; the
// callback path must not fail because the chat sink is down.
package notify

import (
	"fmt"
	"sort"
	"strings"

	"github.com/voxrelay/backend/libs/golog"
	"github.com/voxrelay/backend/libs/slack"
)

// Notifier is the operator notification sink.
type Notifier interface {
	// JobCompleted reports that every expected provider finished
	// successfully. resultURLs maps provider tag to the result download URL.
	JobCompleted(jobID string, resultURLs map[string]string)
	// JobFailed reports a provider failure callback.
	JobFailed(jobID, providerTag, detail string)
	// JobArchived reports a successful archival handoff with any returned
	// sub-artifact locations.
	JobArchived(jobID, jsonURL, srtURL string)
	// ArchiveFailed reports that the archival handoff failed.
	ArchiveFailed(jobID string, err error)
}

// Slack posts notifications to a Slack incoming webhook.
type Slack struct {
	WebhookURL string
	Channel    string
	Username   string
}

func (s *Slack) post(text string) {
	err := slack.Post(s.WebhookURL, &slack.Message{
		Text:      text,
		Channel:   s.Channel,
		Username:  s.Username,
		IconEmoji: ":studio_microphone:",
	})
	if err != nil {
		golog.Errorf("notify: failed to post to slack: %s", err)
	}
}

func (s *Slack) JobCompleted(jobID string, resultURLs map[string]string) {
	tags := make([]string, 0, len(resultURLs))
	for tag := range resultURLs {
		tags = append(tags, tag)
	}
	sort.Strings(tags)
	links := make([]string, 0, len(tags))
	for _, tag := range tags {
		links = append(links, fmt.Sprintf("<%s|%s>", resultURLs[tag], tag))
	}
	s.post(fmt.Sprintf("Transcription job %s completed: %s", jobID, strings.Join(links, " ")))
}

func (s *Slack) JobFailed(jobID, providerTag, detail string) {
	s.post(fmt.Sprintf("Transcription job %s failed (%s): %s", jobID, providerTag, detail))
}

func (s *Slack) JobArchived(jobID, jsonURL, srtURL string) {
	var links []string
	if jsonURL != "" {
		links = append(links, fmt.Sprintf("<%s|json>", jsonURL))
	}
	if srtURL != "" {
		links = append(links, fmt.Sprintf("<%s|srt>", srtURL))
	}
	s.post(fmt.Sprintf("Transcription job %s archived %s", jobID, strings.Join(links, " ")))
}

func (s *Slack) ArchiveFailed(jobID string, err error) {
	s.post(fmt.Sprintf("Archival of transcription job %s failed: %s", jobID, err))
}

// Log is a Notifier that only writes to the service log. Used when no chat
// webhook is configured.
type Log struct{}

func (Log) JobCompleted(jobID string, resultURLs map[string]string) {
	golog.Infof("notify: job %s completed: %v", jobID, resultURLs)
}

func (Log) JobFailed(jobID, providerTag, detail string) {
	golog.Warningf("notify: job %s provider %s failed: %s", jobID, providerTag, detail)
}

func (Log) JobArchived(jobID, jsonURL, srtURL string) {
	golog.Infof("notify: job %s archived json=%s srt=%s", jobID, jsonURL, srtURL)
}

func (Log) ArchiveFailed(jobID string, err error) {
	golog.Warningf("notify: job %s archive failed: %s", jobID, err)
}
