package services

import (
	"encoding/base64"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/yungbote/forge-backend/internal/data/repos"
	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/modules/build"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/archive"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
	"github.com/yungbote/forge-backend/internal/platform/logger"
)

const (
	EncodingUTF8   = "utf-8"
	EncodingBase64 = "base64"
)

var envKeyPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

type RunFileInput struct {
	Filename string `json:"filename"`
	Content  string `json:"content"`
	Encoding string `json:"encoding,omitempty"`
}

type RunInput struct {
	Env   map[string]string `json:"env"`
	Files []RunFileInput    `json:"files"`
}

type RunService interface {
	// Create plans a run of w's current version and schedules its build.
	Create(dbc dbctx.Context, w *types.Workflow, in RunInput) (*types.WorkflowRun, error)
	Get(dbc dbctx.Context, w *types.Workflow, runID string) (*types.WorkflowRun, error)
	List(dbc dbctx.Context, w *types.Workflow, page repos.Page) ([]*types.WorkflowRun, error)
	// Output returns every step's output in step order.
	Output(dbc dbctx.Context, run *types.WorkflowRun) ([]build.StepOutput, error)
	OutputForStep(dbc dbctx.Context, run *types.WorkflowRun, stepID string) (build.StepOutput, error)
}

type runService struct {
	db    *gorm.DB
	log   *logger.Logger
	runs  repos.WorkflowRunRepo
	steps repos.RunStepRepo
	build build.Usecases
}

func NewRunService(db *gorm.DB, baseLog *logger.Logger, runs repos.WorkflowRunRepo, steps repos.RunStepRepo, u build.Usecases) RunService {
	return &runService{
		db:    db,
		log:   baseLog.With("service", "RunService"),
		runs:  runs,
		steps: steps,
		build: u,
	}
}

func (s *runService) Create(dbc dbctx.Context, w *types.Workflow, in RunInput) (*types.WorkflowRun, error) {
	for k := range in.Env {
		if !envKeyPattern.MatchString(k) {
			return nil, apierr.InvalidArgument("invalid environment variable name %q", k)
		}
	}
	files, err := decodeFiles(in.Files)
	if err != nil {
		return nil, err
	}
	return s.build.CreateRun(dbc, w, build.CreateRunInput{Env: in.Env, Files: files})
}

func decodeFiles(in []RunFileInput) ([]archive.File, error) {
	out := make([]archive.File, 0, len(in))
	for _, f := range in {
		name := strings.TrimSpace(f.Filename)
		if name == "" {
			return nil, apierr.InvalidArgument("file name is required")
		}
		var content []byte
		switch strings.ToLower(strings.TrimSpace(f.Encoding)) {
		case "", EncodingUTF8:
			if !utf8.ValidString(f.Content) {
				return nil, apierr.InvalidArgument("file %q is not valid utf-8", name)
			}
			content = []byte(f.Content)
		case EncodingBase64:
			raw, err := base64.StdEncoding.DecodeString(f.Content)
			if err != nil {
				return nil, apierr.InvalidArgument("file %q: invalid base64 content", name)
			}
			content = raw
		default:
			return nil, apierr.InvalidArgument("file %q: unsupported encoding %q", name, f.Encoding)
		}
		out = append(out, archive.File{Name: name, Content: content})
	}
	return out, nil
}

func (s *runService) Get(dbc dbctx.Context, w *types.Workflow, runID string) (*types.WorkflowRun, error) {
	id, err := uuid.Parse(strings.TrimSpace(runID))
	if err != nil {
		return nil, apierr.NotFound("run %s not found", runID)
	}
	run, err := s.runs.GetForWorkflow(dbc, w.ID, id)
	if err != nil {
		return nil, err
	}
	if run == nil {
		return nil, apierr.NotFound("run %s not found", runID)
	}
	return run, nil
}

func (s *runService) List(dbc dbctx.Context, w *types.Workflow, page repos.Page) ([]*types.WorkflowRun, error) {
	return s.runs.ListByWorkflow(dbc, w.ID, page)
}

func (s *runService) Output(dbc dbctx.Context, run *types.WorkflowRun) ([]build.StepOutput, error) {
	steps, err := s.steps.ListByRun(dbc, run.ID)
	if err != nil {
		return nil, err
	}
	out := make([]build.StepOutput, 0, len(steps))
	for _, step := range steps {
		o, err := s.build.ReadOutput(dbc, step)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, nil
}

func (s *runService) OutputForStep(dbc dbctx.Context, run *types.WorkflowRun, stepID string) (build.StepOutput, error) {
	id, err := uuid.Parse(strings.TrimSpace(stepID))
	if err != nil {
		return build.StepOutput{}, apierr.NotFound("step %s not found", stepID)
	}
	step, err := s.steps.GetForRun(dbc, run.ID, id)
	if err != nil {
		return build.StepOutput{}, err
	}
	if step == nil {
		return build.StepOutput{}, apierr.NotFound("step %s not found", stepID)
	}
	return s.build.ReadOutput(dbc, step)
}
