package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	forgehttp "github.com/yungbote/forge-backend/internal/http"
	httpH "github.com/yungbote/forge-backend/internal/http/handlers"
	"github.com/yungbote/forge-backend/internal/modules/build/buildtest"
	"github.com/yungbote/forge-backend/internal/platform/logger"
	"github.com/yungbote/forge-backend/internal/services"
)

type api struct {
	t      *testing.T
	engine *gin.Engine
	base   string
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	h := buildtest.New(t)
	rs := h.Repos
	providers := services.NewProviderService(h.DB, h.Log, rs.Providers, h.Provider)
	workflows := services.NewWorkflowService(h.DB, h.Log, rs.Workflows, providers, h.Build)
	versions := services.NewVersionService(h.DB, h.Log, rs.Workflows, rs.Versions, rs.Artifacts, providers)
	runs := services.NewRunService(h.DB, h.Log, rs.Runs, rs.RunSteps, h.Build)
	artifacts := services.NewArtifactService(h.DB, h.Log, rs.Artifacts, h.Build.Broker())

	engine := forgehttp.NewRouter(forgehttp.RouterConfig{
		Log:             h.Log,
		WorkflowHandler: httpH.NewWorkflowHandler(workflows),
		VersionHandler:  httpH.NewVersionHandler(workflows, versions),
		RunHandler:      httpH.NewRunHandler(workflows, runs),
		ArtifactHandler: httpH.NewArtifactHandler(workflows, artifacts),
		HealthHandler:   httpH.NewHealthHandler(),
	})
	return &api{t: t, engine: engine, base: "/api/tenants/" + uuid.NewString()}
}

func (a *api) do(method, path string, body any, out any) int {
	a.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			a.t.Fatalf("encode: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	if out != nil {
		if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
			a.t.Fatalf("%s %s: decode %q: %v", method, path, rec.Body.String(), err)
		}
	}
	return rec.Code
}

type errorBody struct {
	Error struct {
		Code string `json:"code"`
	} `json:"error"`
}

func TestHealthcheck(t *testing.T) {
	a := newAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthcheck", nil)
	rec := httptest.NewRecorder()
	a.engine.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK || rec.Body.String() != "ok" {
		t.Fatalf("healthcheck: got=%d %q", rec.Code, rec.Body.String())
	}
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatalf("healthcheck: missing request id header")
	}
}

func TestWorkflowRunFlowOverHTTP(t *testing.T) {
	a := newAPI(t)

	var created struct {
		Workflow struct {
			ID         string `json:"id"`
			Identifier string `json:"identifier"`
		} `json:"workflow"`
	}
	if code := a.do(http.MethodPost, a.base+"/workflows", services.WorkflowInput{Name: "Web", Identifier: "web"}, &created); code != http.StatusCreated {
		t.Fatalf("upsert: want=201 got=%d", code)
	}
	if code := a.do(http.MethodPost, a.base+"/workflows", services.WorkflowInput{Name: "Web", Identifier: "web"}, nil); code != http.StatusOK {
		t.Fatalf("upsert again: want=200 got=%d", code)
	}
	wf := a.base + "/workflows/web"

	var noVersion errorBody
	if code := a.do(http.MethodPost, wf+"/runs", services.RunInput{}, &noVersion); code != http.StatusConflict || noVersion.Error.Code != "invalid_state" {
		t.Fatalf("run without version: got=%d %q", code, noVersion.Error.Code)
	}

	version := services.VersionInput{Name: "v1", Steps: []services.VersionStepInput{
		{Name: "build", Type: "script", ActionScript: []string{"make"}},
	}}
	var v struct {
		Version struct {
			Identifier string `json:"identifier"`
		} `json:"version"`
	}
	if code := a.do(http.MethodPost, wf+"/versions", version, &v); code != http.StatusCreated || len(v.Version.Identifier) != 12 {
		t.Fatalf("create version: got=%d %+v", code, v)
	}
	if code := a.do(http.MethodGet, wf+"/versions/"+v.Version.Identifier, nil, nil); code != http.StatusOK {
		t.Fatalf("get version: got=%d", code)
	}

	var run struct {
		Run struct {
			ID     string `json:"id"`
			Status string `json:"status"`
			Steps  []struct {
				ID   string `json:"id"`
				Name string `json:"name"`
			} `json:"steps"`
		} `json:"run"`
	}
	body := services.RunInput{Env: map[string]string{"A": "1"}, Files: []services.RunFileInput{{Filename: "main.go", Content: "package main"}}}
	if code := a.do(http.MethodPost, wf+"/runs", body, &run); code != http.StatusCreated {
		t.Fatalf("create run: got=%d", code)
	}
	if run.Run.Status != "pending" || len(run.Run.Steps) != 3 || run.Run.Steps[0].Name != "Setup Build Environment" {
		t.Fatalf("run: got=%+v", run.Run)
	}
	runPath := wf + "/runs/" + run.Run.ID

	var output struct {
		Output []struct {
			Source string `json:"source"`
		} `json:"output"`
	}
	if code := a.do(http.MethodGet, runPath+"/output", nil, &output); code != http.StatusOK || len(output.Output) != 3 {
		t.Fatalf("run output: got=%d %+v", code, output)
	}
	if code := a.do(http.MethodGet, runPath+"/steps/"+run.Run.Steps[1].ID+"/output", nil, nil); code != http.StatusOK {
		t.Fatalf("step output: got=%d", code)
	}
	var missing errorBody
	if code := a.do(http.MethodGet, runPath+"/steps/"+uuid.NewString()+"/output", nil, &missing); code != http.StatusNotFound || missing.Error.Code != "not_found" {
		t.Fatalf("unknown step: got=%d %q", code, missing.Error.Code)
	}

	var artifacts struct {
		Artifacts []struct {
			ID   string `json:"id"`
			Name string `json:"name"`
		} `json:"artifacts"`
	}
	if code := a.do(http.MethodGet, wf+"/artifacts?run_ids="+run.Run.ID, nil, &artifacts); code != http.StatusOK || len(artifacts.Artifacts) != 1 {
		t.Fatalf("artifacts: got=%d %+v", code, artifacts)
	}
	var dl struct {
		Download struct {
			URL string `json:"url"`
		} `json:"download"`
	}
	if code := a.do(http.MethodGet, wf+"/artifacts/"+artifacts.Artifacts[0].ID+"/download", nil, &dl); code != http.StatusOK || dl.Download.URL == "" {
		t.Fatalf("download: got=%d %+v", code, dl)
	}

	if code := a.do(http.MethodDelete, wf, nil, nil); code != http.StatusOK {
		t.Fatalf("delete: got=%d", code)
	}
	if code := a.do(http.MethodGet, wf, nil, nil); code != http.StatusNotFound {
		t.Fatalf("get after delete: want=404 got=%d", code)
	}
}

func TestBadRequestsOverHTTP(t *testing.T) {
	a := newAPI(t)
	cases := []struct {
		method, path string
		status       int
	}{
		{http.MethodGet, "/api/tenants/not-a-uuid/workflows", http.StatusBadRequest},
		{http.MethodGet, a.base + "/workflows?limit=-1", http.StatusBadRequest},
		{http.MethodGet, a.base + "/workflows?after=nope", http.StatusBadRequest},
		{http.MethodGet, a.base + "/workflows/missing", http.StatusNotFound},
	}
	for _, tc := range cases {
		var body errorBody
		if code := a.do(tc.method, tc.path, nil, &body); code != tc.status || body.Error.Code == "" {
			t.Fatalf("%s %s: want=%d got=%d %+v", tc.method, tc.path, tc.status, code, body)
		}
	}
}

func TestHealthcheckReportsFailedProbe(t *testing.T) {
	gin.SetMode(gin.TestMode)
	engine := forgehttp.NewRouter(forgehttp.RouterConfig{
		Log: logger.Nop(),
		HealthHandler: httpH.NewHealthHandler(func(context.Context) error {
			return errors.New("db down")
		}),
	})
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthcheck", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("healthcheck: want=%d got=%d", http.StatusServiceUnavailable, rec.Code)
	}
}
