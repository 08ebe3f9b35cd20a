package buildprovider

import (
	"context"
	"testing"
)

type identityOnly struct {
	name string
	id   map[string]string
}

func (a identityOnly) Name() string                { return a.name }
func (a identityOnly) Identity() map[string]string { return a.id }
func (identityOnly) Setup(context.Context) error   { return nil }
func (identityOnly) Start(context.Context, BuildRequest) (string, error) {
	return "", nil
}
func (identityOnly) PollStatus(context.Context, string) (Status, error) { return Status{}, nil }
func (identityOnly) FetchLogPage(context.Context, LogHandle, string) (LogPage, error) {
	return LogPage{}, nil
}

func TestIdentityHashStable(t *testing.T) {
	a := identityOnly{name: "cloudbuild", id: map[string]string{"project": "p", "region": "r"}}
	b := identityOnly{name: "cloudbuild", id: map[string]string{"region": "r", "project": "p"}}
	if IdentityHash(a) != IdentityHash(b) {
		t.Fatalf("hash depends on map order")
	}
	c := identityOnly{name: "cloudbuild", id: map[string]string{"project": "p", "region": "other"}}
	if IdentityHash(a) == IdentityHash(c) {
		t.Fatalf("different configs share a hash")
	}
}

func TestPhaseTerminal(t *testing.T) {
	for _, p := range []Phase{PhaseSucceeded, PhaseFailed, PhaseStopped, PhaseFault, PhaseTimedOut} {
		if !p.Terminal() {
			t.Fatalf("%s: want terminal", p)
		}
	}
	for _, p := range []Phase{PhasePending, PhaseRunning} {
		if p.Terminal() {
			t.Fatalf("%s: want non-terminal", p)
		}
	}
}
