// Package buildprovider defines the contract between the build monitor and
// a remote build service.
package buildprovider

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"time"
)

// ErrBuildNotFound means the provider has no record of the build.
var ErrBuildNotFound = errors.New("buildprovider: build not found")

type Phase string

const (
	PhasePending   Phase = "pending"
	PhaseRunning   Phase = "running"
	PhaseSucceeded Phase = "succeeded"
	PhaseFailed    Phase = "failed"
	PhaseStopped   Phase = "stopped"
	PhaseFault     Phase = "fault"
	PhaseTimedOut  Phase = "timed_out"
)

func (p Phase) Terminal() bool {
	switch p {
	case PhaseSucceeded, PhaseFailed, PhaseStopped, PhaseFault, PhaseTimedOut:
		return true
	default:
		return false
	}
}

type BuildRequest struct {
	RunID    string
	Commands []string
	// Env holds plaintext values; adapters must not log it.
	Env map[string]string
}

// LogHandle locates a build's log stream. It is persisted between polls.
type LogHandle struct {
	Resource string `json:"resource"`
	Filter   string `json:"filter"`
}

type Status struct {
	Phase     Phase
	Raw       string
	Log       *LogHandle
	StartedAt *time.Time
	EndedAt   *time.Time
}

func (s Status) Terminal() bool  { return s.Phase.Terminal() }
func (s Status) Running() bool   { return s.Phase == PhaseRunning }
func (s Status) Succeeded() bool { return s.Phase == PhaseSucceeded }

type LogEvent struct {
	Timestamp time.Time
	Message   string
}

// LogPage is one page of log events. An empty NextToken means the stream is
// exhausted and no further pages will ever be produced.
type LogPage struct {
	Events    []LogEvent
	NextToken string
}

type Adapter interface {
	Name() string
	// Identity describes the adapter configuration; equal identities mean the
	// same provider row.
	Identity() map[string]string
	// Setup provisions provider-side prerequisites. It is idempotent.
	Setup(ctx context.Context) error
	Start(ctx context.Context, req BuildRequest) (string, error)
	PollStatus(ctx context.Context, buildID string) (Status, error)
	FetchLogPage(ctx context.Context, handle LogHandle, token string) (LogPage, error)
}

// Finder is implemented by adapters that can look up a build already
// submitted for a run. Start uses it so a redelivered start job adopts that
// build instead of submitting a second one.
type Finder interface {
	// FindBuild returns the newest build tagged with runID, or "" if none.
	FindBuild(ctx context.Context, runID string) (string, error)
}

// IdentityHash is the stable identifier of an adapter configuration.
func IdentityHash(a Adapter) string {
	raw, _ := json.Marshal(a.Identity())
	sum := sha256.Sum256(append([]byte(a.Name()+":"), raw...))
	return hex.EncodeToString(sum[:])
}
