package cloudbuild

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/api/option"

	"github.com/yungbote/forge-backend/internal/platform/buildprovider"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

type fakeGCP struct {
	mu        sync.Mutex
	created   map[string]any
	status    string
	logBodies []string
	logReqs   []map[string]any
	existing  string
	filters   []string
}

func (f *fakeGCP) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	body, _ := io.ReadAll(r.Body)
	w.Header().Set("Content-Type", "application/json")
	switch {
	case strings.Contains(r.URL.Path, "/serviceAccounts/"):
		_, _ = w.Write([]byte(`{"email":"forge-builder@proj.iam.gserviceaccount.com"}`))
	case r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/locations/us-central1/builds"):
		_ = json.Unmarshal(body, &f.created)
		_, _ = w.Write([]byte(`{"name":"operations/op-1","metadata":{"build":{"id":"build-1"}}}`))
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/locations/us-central1/builds"):
		f.filters = append(f.filters, r.URL.Query().Get("filter"))
		if f.existing == "" {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		_, _ = w.Write([]byte(`{"builds":[{"id":"` + f.existing + `"}]}`))
	case r.Method == http.MethodGet && strings.HasSuffix(r.URL.Path, "/builds/build-1"):
		_, _ = w.Write([]byte(`{"id":"build-1","status":"` + f.status + `","startTime":"2026-01-02T03:04:05Z"}`))
	case strings.HasSuffix(r.URL.Path, "/builds/missing"):
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"not found"}}`))
	case strings.HasSuffix(r.URL.Path, "entries:list"):
		var req map[string]any
		_ = json.Unmarshal(body, &req)
		f.logReqs = append(f.logReqs, req)
		if len(f.logBodies) == 0 {
			_, _ = w.Write([]byte(`{}`))
			return
		}
		next := f.logBodies[0]
		f.logBodies = f.logBodies[1:]
		_, _ = w.Write([]byte(next))
	default:
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"error":{"code":404,"message":"unrouted"}}`))
	}
}

func newTestAdapter(t *testing.T, f *fakeGCP) *Adapter {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	a, err := New(context.Background(), logger.Nop(), Config{
		ProjectID:        "proj",
		Region:           "us-central1",
		Image:            "ubuntu:22.04",
		ServiceAccountID: "forge-builder",
		Timeout:          time.Hour,
	},
		option.WithEndpoint(srv.URL+"/"),
		option.WithHTTPClient(srv.Client()),
		option.WithoutAuthentication(),
	)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func TestStartSubmitsEscapedScript(t *testing.T) {
	f := &fakeGCP{}
	a := newTestAdapter(t, f)
	id, err := a.Start(context.Background(), buildprovider.BuildRequest{
		RunID:    "run-1",
		Commands: []string{"echo $HOME", "cd ./forge"},
		Env:      map[string]string{"B": "2", "A": "$1"},
	})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if id != "build-1" {
		t.Fatalf("build id: want=build-1 got=%q", id)
	}
	steps, _ := f.created["steps"].([]any)
	if len(steps) != 1 {
		t.Fatalf("steps: want=1 got=%d", len(steps))
	}
	step := steps[0].(map[string]any)
	args := step["args"].([]any)
	script := args[1].(string)
	if !strings.Contains(script, "echo $$HOME") || !strings.Contains(script, "exit $$__forge_rc") {
		t.Fatalf("script not escaped: %q", script)
	}
	env := step["env"].([]any)
	if env[0] != "A=$$1" || env[1] != "B=2" {
		t.Fatalf("env: got=%v", env)
	}
	opts := f.created["options"].(map[string]any)
	if opts["logging"] != "CLOUD_LOGGING_ONLY" {
		t.Fatalf("logging option: got=%v", opts["logging"])
	}
}

func TestFindBuildByRunTag(t *testing.T) {
	f := &fakeGCP{}
	a := newTestAdapter(t, f)
	id, err := a.FindBuild(context.Background(), "r-1")
	if err != nil || id != "" {
		t.Fatalf("FindBuild none: want=%q got=%q err=%v", "", id, err)
	}
	f.mu.Lock()
	f.existing = "build-7"
	f.mu.Unlock()
	id, err = a.FindBuild(context.Background(), "r-1")
	if err != nil || id != "build-7" {
		t.Fatalf("FindBuild: want=%q got=%q err=%v", "build-7", id, err)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.filters) != 2 || f.filters[1] != `tags="run-r-1"` {
		t.Fatalf("filter: got=%q", f.filters)
	}
}

func TestPollStatus(t *testing.T) {
	cases := []struct {
		raw   string
		phase buildprovider.Phase
		log   bool
	}{
		{"QUEUED", buildprovider.PhasePending, false},
		{"WORKING", buildprovider.PhaseRunning, true},
		{"SUCCESS", buildprovider.PhaseSucceeded, true},
		{"FAILURE", buildprovider.PhaseFailed, true},
		{"CANCELLED", buildprovider.PhaseStopped, true},
		{"TIMEOUT", buildprovider.PhaseTimedOut, true},
		{"INTERNAL_ERROR", buildprovider.PhaseFault, true},
	}
	f := &fakeGCP{}
	a := newTestAdapter(t, f)
	for _, tc := range cases {
		f.mu.Lock()
		f.status = tc.raw
		f.mu.Unlock()
		st, err := a.PollStatus(context.Background(), "build-1")
		if err != nil {
			t.Fatalf("%s: PollStatus: %v", tc.raw, err)
		}
		if st.Phase != tc.phase {
			t.Fatalf("%s: phase want=%s got=%s", tc.raw, tc.phase, st.Phase)
		}
		if (st.Log != nil) != tc.log {
			t.Fatalf("%s: log handle presence want=%v", tc.raw, tc.log)
		}
		if st.StartedAt == nil || st.StartedAt.Year() != 2026 {
			t.Fatalf("%s: startedAt not parsed", tc.raw)
		}
	}
}

func TestPollStatusNotFound(t *testing.T) {
	a := newTestAdapter(t, &fakeGCP{})
	if _, err := a.PollStatus(context.Background(), "missing"); !errors.Is(err, buildprovider.ErrBuildNotFound) {
		t.Fatalf("PollStatus: want=ErrBuildNotFound got=%v", err)
	}
}

func TestFetchLogPageResumesWithoutDuplicates(t *testing.T) {
	f := &fakeGCP{logBodies: []string{
		`{"entries":[
			{"insertId":"a","timestamp":"2026-01-02T03:04:05Z","textPayload":"starting build \"x\""},
			{"insertId":"b","timestamp":"2026-01-02T03:04:06Z","textPayload":"hello"}
		],"nextPageToken":"tok-2"}`,
		`{"entries":[
			{"insertId":"c","timestamp":"2026-01-02T03:04:07Z","textPayload":"world"}
		]}`,
		`{"entries":[
			{"insertId":"c","timestamp":"2026-01-02T03:04:07Z","textPayload":"world"},
			{"insertId":"d","timestamp":"2026-01-02T03:04:07Z","textPayload":"same-ts"}
		]}`,
	}}
	a := newTestAdapter(t, f)
	handle := buildprovider.LogHandle{Resource: "projects/proj", Filter: `resource.labels.build_id="build-1"`}

	var got []string
	token := ""
	for i := 0; i < 3; i++ {
		page, err := a.FetchLogPage(context.Background(), handle, token)
		if err != nil {
			t.Fatalf("FetchLogPage %d: %v", i, err)
		}
		if page.NextToken == "" {
			t.Fatalf("FetchLogPage %d: empty next token", i)
		}
		for _, ev := range page.Events {
			got = append(got, ev.Message)
		}
		token = page.NextToken
	}
	want := []string{"hello", "world", "same-ts"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("messages: want=%v got=%v", want, got)
	}
	if pt := f.logReqs[1]["pageToken"]; pt != "tok-2" {
		t.Fatalf("second request page token: want=tok-2 got=%v", pt)
	}
	filter, _ := f.logReqs[2]["filter"].(string)
	if !strings.Contains(filter, `timestamp >= "2026-01-02T03:04:07Z"`) {
		t.Fatalf("third request filter: got=%q", filter)
	}
}

func TestRenderScriptKeepsGoingAfterFailure(t *testing.T) {
	script := RenderScript([]string{"false", "echo after"})
	if !strings.HasPrefix(script, "__forge_rc=0\n") {
		t.Fatalf("script prologue: %q", script)
	}
	if strings.Count(script, "|| __forge_rc=$?") != 2 {
		t.Fatalf("each command must be guarded: %q", script)
	}
	if !strings.HasSuffix(script, "exit $__forge_rc\n") {
		t.Fatalf("script epilogue: %q", script)
	}
}
