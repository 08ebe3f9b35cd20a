// Package buildtest provides in-memory collaborators and a wired engine for
// tests of the build pipeline and the services on top of it.
package buildtest

import (
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"time"

	"github.com/yungbote/forge-backend/internal/platform/buildprovider"
	"github.com/yungbote/forge-backend/internal/platform/gcp"
)

const (
	ArtifactBucket = "test-artifacts"
	LogBucket      = "test-logs"
)

// MemBucket is an in-memory gcp.BucketService.
type MemBucket struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func NewMemBucket() *MemBucket {
	return &MemBucket{objects: map[string][]byte{}}
}

func objectID(bucket, key string) string { return bucket + "/" + key }

func (b *MemBucket) BucketName(category gcp.BucketCategory) (string, error) {
	switch category {
	case gcp.BucketCategoryArtifact:
		return ArtifactBucket, nil
	case gcp.BucketCategoryLog:
		return LogBucket, nil
	default:
		return "", fmt.Errorf("unknown bucket category %q", category)
	}
}

func (b *MemBucket) EnsureBuckets(context.Context) error { return nil }

func (b *MemBucket) Put(_ context.Context, bucket, key string, body io.Reader, _ string) error {
	raw, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.objects[objectID(bucket, key)] = raw
	b.mu.Unlock()
	return nil
}

func (b *MemBucket) Get(_ context.Context, bucket, key string) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	raw, ok := b.objects[objectID(bucket, key)]
	if !ok {
		return nil, fmt.Errorf("object %s/%s not found", bucket, key)
	}
	return append([]byte(nil), raw...), nil
}

func (b *MemBucket) Delete(_ context.Context, bucket, key string) error {
	b.mu.Lock()
	delete(b.objects, objectID(bucket, key))
	b.mu.Unlock()
	return nil
}

func (b *MemBucket) Exists(_ context.Context, bucket, key string) (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[objectID(bucket, key)]
	return ok, nil
}

func (b *MemBucket) SignedURL(_ context.Context, bucket, key, method string, ttl time.Duration) (string, error) {
	return fmt.Sprintf("https://storage.test/%s/%s?method=%s&ttl=%d", bucket, key, method, int64(ttl/time.Second)), nil
}

// Keys lists stored objects as bucket/key, sorted.
func (b *MemBucket) Keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]string, 0, len(b.objects))
	for k := range b.objects {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// FakeProvider replays scripted statuses and log pages. The last status
// repeats once the script runs out; pages past the script are empty and
// carry no next token.
type FakeProvider struct {
	mu sync.Mutex

	StartErr error
	PollErr  error
	Statuses []buildprovider.Status
	Pages    []buildprovider.LogPage

	Started []buildprovider.BuildRequest
	Tokens  []string
	polls   int
}

func (f *FakeProvider) Name() string                { return "fake" }
func (f *FakeProvider) Identity() map[string]string { return map[string]string{"kind": "fake"} }
func (f *FakeProvider) Setup(context.Context) error { return nil }

func (f *FakeProvider) Start(_ context.Context, req buildprovider.BuildRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.StartErr != nil {
		return "", f.StartErr
	}
	f.Started = append(f.Started, req)
	return fmt.Sprintf("build-%d", len(f.Started)), nil
}

// FindBuild reports the newest build started for runID.
func (f *FakeProvider) FindBuild(_ context.Context, runID string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.Started) - 1; i >= 0; i-- {
		if f.Started[i].RunID == runID {
			return fmt.Sprintf("build-%d", i+1), nil
		}
	}
	return "", nil
}

func (f *FakeProvider) PollStatus(context.Context, string) (buildprovider.Status, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PollErr != nil {
		return buildprovider.Status{}, f.PollErr
	}
	i := f.polls
	f.polls++
	if len(f.Statuses) == 0 {
		return buildprovider.Status{Phase: buildprovider.PhasePending}, nil
	}
	if i >= len(f.Statuses) {
		i = len(f.Statuses) - 1
	}
	return f.Statuses[i], nil
}

func (f *FakeProvider) FetchLogPage(_ context.Context, _ buildprovider.LogHandle, token string) (buildprovider.LogPage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := len(f.Tokens)
	f.Tokens = append(f.Tokens, token)
	if i >= len(f.Pages) {
		return buildprovider.LogPage{}, nil
	}
	return f.Pages[i], nil
}

func (f *FakeProvider) Polls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

// Running is a running status with a log stream.
func Running() buildprovider.Status {
	return buildprovider.Status{Phase: buildprovider.PhaseRunning, Log: &buildprovider.LogHandle{Resource: "fake", Filter: "all"}}
}

// Ended is a terminal status at the given time.
func Ended(phase buildprovider.Phase, at time.Time) buildprovider.Status {
	return buildprovider.Status{Phase: phase, EndedAt: &at, Log: &buildprovider.LogHandle{Resource: "fake", Filter: "all"}}
}
