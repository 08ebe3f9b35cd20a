// Package cloudbuild runs builds on Google Cloud Build and reads their output
// from Cloud Logging.
package cloudbuild

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	cloudbuildapi "google.golang.org/api/cloudbuild/v1"
	"google.golang.org/api/googleapi"
	iamapi "google.golang.org/api/iam/v1"
	loggingapi "google.golang.org/api/logging/v2"
	"google.golang.org/api/option"

	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/buildprovider"
	"github.com/yungbote/forge-backend/internal/platform/envutil"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

const Name = "cloudbuild"

type Config struct {
	ProjectID        string
	Region           string
	Image            string
	ServiceAccountID string
	MachineType      string
	Timeout          time.Duration
	LogRetentionDays int
	LogPageSize      int
}

func ConfigFromEnv() Config {
	return Config{
		ProjectID:        envutil.String("CLOUDBUILD_PROJECT_ID", envutil.String("GOOGLE_CLOUD_PROJECT", "")),
		Region:           envutil.String("CLOUDBUILD_REGION", "us-central1"),
		Image:            envutil.String("CLOUDBUILD_IMAGE", "ubuntu:22.04"),
		ServiceAccountID: envutil.String("CLOUDBUILD_SERVICE_ACCOUNT_ID", "forge-builder"),
		MachineType:      envutil.String("CLOUDBUILD_MACHINE_TYPE", ""),
		Timeout:          envutil.Duration("CLOUDBUILD_TIMEOUT", 2*time.Hour),
		LogRetentionDays: envutil.Int("CLOUDBUILD_LOG_RETENTION_DAYS", 0),
		LogPageSize:      envutil.Int("CLOUDBUILD_LOG_PAGE_SIZE", 1000),
	}
}

type Adapter struct {
	log    *logger.Logger
	cfg    Config
	builds *cloudbuildapi.Service
	logs   *loggingapi.Service
	iam    *iamapi.Service

	setupMu   sync.Mutex
	setupDone bool
}

var (
	_ buildprovider.Adapter = (*Adapter)(nil)
	_ buildprovider.Finder  = (*Adapter)(nil)
)

func New(ctx context.Context, log *logger.Logger, cfg Config, opts ...option.ClientOption) (*Adapter, error) {
	if strings.TrimSpace(cfg.ProjectID) == "" {
		return nil, apierr.ProviderMisconfigured(errors.New("cloudbuild: missing project id"))
	}
	if cfg.Image == "" {
		cfg.Image = "ubuntu:22.04"
	}
	if cfg.LogPageSize <= 0 {
		cfg.LogPageSize = 1000
	}
	builds, err := cloudbuildapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("cloudbuild client: %w", err)
	}
	logs, err := loggingapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("logging client: %w", err)
	}
	iam, err := iamapi.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("iam client: %w", err)
	}
	return &Adapter{
		log:    log.With("service", "CloudBuildAdapter"),
		cfg:    cfg,
		builds: builds,
		logs:   logs,
		iam:    iam,
	}, nil
}

func (a *Adapter) Name() string { return Name }

func (a *Adapter) Identity() map[string]string {
	return map[string]string{
		"project":         a.cfg.ProjectID,
		"region":          a.cfg.Region,
		"service_account": a.serviceAccountEmail(),
	}
}

func (a *Adapter) parent() string {
	return fmt.Sprintf("projects/%s/locations/%s", a.cfg.ProjectID, a.cfg.Region)
}

func (a *Adapter) serviceAccountEmail() string {
	return fmt.Sprintf("%s@%s.iam.gserviceaccount.com", a.cfg.ServiceAccountID, a.cfg.ProjectID)
}

func (a *Adapter) Start(ctx context.Context, req buildprovider.BuildRequest) (string, error) {
	if err := a.Setup(ctx); err != nil {
		return "", err
	}
	build := &cloudbuildapi.Build{
		Steps: []*cloudbuildapi.BuildStep{{
			Name:       a.cfg.Image,
			Entrypoint: "bash",
			Args:       []string{"-c", escapeSubstitutions(RenderScript(req.Commands))},
			Env:        envPairs(req.Env),
		}},
		ServiceAccount: fmt.Sprintf("projects/%s/serviceAccounts/%s", a.cfg.ProjectID, a.serviceAccountEmail()),
		Options: &cloudbuildapi.BuildOptions{
			Logging:     "CLOUD_LOGGING_ONLY",
			MachineType: a.cfg.MachineType,
		},
		Tags: []string{"forge", runTag(req.RunID)},
	}
	if a.cfg.Timeout > 0 {
		build.Timeout = fmt.Sprintf("%ds", int64(a.cfg.Timeout/time.Second))
	}

	op, err := a.builds.Projects.Locations.Builds.Create(a.parent(), build).Context(ctx).Do()
	if err != nil {
		return "", classify(err)
	}
	var md cloudbuildapi.BuildOperationMetadata
	if err := json.Unmarshal(op.Metadata, &md); err != nil || md.Build == nil || md.Build.Id == "" {
		return "", apierr.ProviderUnavailable(fmt.Errorf("cloudbuild: create returned no build id (op=%s)", op.Name))
	}
	a.log.Info("build started", "run_id", req.RunID, "build_id", md.Build.Id)
	return md.Build.Id, nil
}

func runTag(runID string) string { return "run-" + runID }

func (a *Adapter) FindBuild(ctx context.Context, runID string) (string, error) {
	resp, err := a.builds.Projects.Locations.Builds.List(a.parent()).
		Filter(fmt.Sprintf("tags=%q", runTag(runID))).
		PageSize(1).
		Context(ctx).
		Do()
	if err != nil {
		return "", classify(err)
	}
	if len(resp.Builds) == 0 {
		return "", nil
	}
	return resp.Builds[0].Id, nil
}

func (a *Adapter) PollStatus(ctx context.Context, buildID string) (buildprovider.Status, error) {
	name := fmt.Sprintf("%s/builds/%s", a.parent(), buildID)
	b, err := a.builds.Projects.Locations.Builds.Get(name).Context(ctx).Do()
	if err != nil {
		return buildprovider.Status{}, classify(err)
	}
	st := buildprovider.Status{
		Phase:     phaseOf(b.Status),
		Raw:       b.Status,
		StartedAt: parseTime(b.StartTime),
		EndedAt:   parseTime(b.FinishTime),
	}
	if st.Phase == buildprovider.PhaseRunning || st.Phase.Terminal() {
		st.Log = &buildprovider.LogHandle{
			Resource: "projects/" + a.cfg.ProjectID,
			Filter:   fmt.Sprintf(`resource.type="build" AND resource.labels.build_id=%q`, buildID),
		}
	}
	return st, nil
}

func phaseOf(status string) buildprovider.Phase {
	switch status {
	case "WORKING":
		return buildprovider.PhaseRunning
	case "SUCCESS":
		return buildprovider.PhaseSucceeded
	case "FAILURE":
		return buildprovider.PhaseFailed
	case "INTERNAL_ERROR":
		return buildprovider.PhaseFault
	case "TIMEOUT", "EXPIRED":
		return buildprovider.PhaseTimedOut
	case "CANCELLED":
		return buildprovider.PhaseStopped
	default:
		return buildprovider.PhasePending
	}
}

// RenderScript joins commands into one bash program. A failing command does
// not stop later ones; the script exits with the last non-zero status.
func RenderScript(commands []string) string {
	var b strings.Builder
	b.WriteString("__forge_rc=0\n")
	for _, c := range commands {
		b.WriteString("{\n")
		b.WriteString(c)
		b.WriteString("\n} || __forge_rc=$?\n")
	}
	b.WriteString("exit $__forge_rc\n")
	return b.String()
}

// Cloud Build expands $VAR in step args and env; $$ yields a literal $.
func escapeSubstitutions(s string) string {
	return strings.ReplaceAll(s, "$", "$$")
}

func envPairs(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, k+"="+escapeSubstitutions(env[k]))
	}
	return out
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return nil
	}
	t = t.UTC()
	return &t
}

func classify(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		switch gerr.Code {
		case http.StatusNotFound:
			return buildprovider.ErrBuildNotFound
		case http.StatusForbidden, http.StatusUnauthorized:
			return apierr.ProviderMisconfigured(err)
		}
	}
	return apierr.ProviderUnavailable(err)
}
