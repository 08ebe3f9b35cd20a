package build

import (
	"encoding/json"
	"strings"
)

// SentinelPrefix starts every structural marker line in build output.
const SentinelPrefix = "F0RG3::9c1e%%@SYS:: "

type EventType string

const (
	EventBuildStart             EventType = "build.start"
	EventBuildEnd               EventType = "build.end"
	EventStepStart              EventType = "step.start"
	EventStepEnd                EventType = "step.end"
	EventUploadArtifactRegister EventType = "upload-artifact.register"
	EventDownloadArtifactsStart EventType = "download-artifacts.start"
	EventDownloadArtifactsEnd   EventType = "download-artifacts.end"
	EventDownloadArtifactStart  EventType = "download-artifact.start"
	EventDownloadArtifactEnd    EventType = "download-artifact.end"
)

type Event struct {
	Type       EventType `json:"type"`
	StepID     string    `json:"stepId,omitempty"`
	ArtifactID string    `json:"artifactId,omitempty"`
}

// ShellQuote wraps s in single quotes for POSIX shells.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// EchoEvent renders the shell command that prints ev as a sentinel line.
func EchoEvent(ev Event) string {
	raw, _ := json.Marshal(ev)
	return "echo " + ShellQuote(SentinelPrefix+string(raw))
}

// ParseEvent reads a sentinel line. Lines without the prefix, with invalid
// JSON or without a type are not events.
func ParseEvent(line string) (Event, bool) {
	line = strings.TrimRight(line, "\r\n")
	idx := strings.Index(line, SentinelPrefix)
	if idx < 0 {
		return Event{}, false
	}
	var ev Event
	if err := json.Unmarshal([]byte(line[idx+len(SentinelPrefix):]), &ev); err != nil {
		return Event{}, false
	}
	if ev.Type == "" {
		return Event{}, false
	}
	return ev, true
}
