package build

import (
	"context"
	"fmt"
	"net/http"
	"path"
	"sort"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/domain/forge"
	"github.com/yungbote/forge-backend/internal/platform/apierr"
	"github.com/yungbote/forge-backend/internal/platform/buildprovider"
	"github.com/yungbote/forge-backend/internal/platform/dbctx"
)

const (
	RuntimeVersion = "forge@1.0.0"
	noAction       = `echo "No action"`
	workDir        = "./forge"
	presignLimit   = 8
)

// CompiledBuild is a run rendered for the provider together with the
// upload locations handed out to its upload steps, keyed by run step id.
type CompiledBuild struct {
	Request buildprovider.BuildRequest
	Uploads map[string]forge.UploadTarget
}

type compileInput struct {
	run       *types.WorkflowRun
	steps     []*types.RunStep
	inputs    []*types.Artifact
	downloads map[uuid.UUID]*types.Artifact
	env       map[string]string
}

type presigned struct {
	inputURLs    map[uuid.UUID]string
	downloadURLs map[uuid.UUID]string
	uploads      map[uuid.UUID]UploadHandle
}

// CompileRun renders the run's steps into one linear command list with
// sentinel markers at every structural boundary.
func (u Usecases) CompileRun(dbc dbctx.Context, run *types.WorkflowRun) (CompiledBuild, error) {
	steps, err := u.deps.Steps.ListByRun(dbc, run.ID)
	if err != nil {
		return CompiledBuild{}, err
	}
	artifacts, err := u.deps.Artifacts.ListByRun(dbc, run.ID)
	if err != nil {
		return CompiledBuild{}, err
	}
	var inputs []*types.Artifact
	for _, a := range artifacts {
		if a.Type == forge.ArtifactTypeInput {
			inputs = append(inputs, a)
		}
	}

	var wanted []uuid.UUID
	for _, s := range steps {
		if s.Type != forge.RunStepTypeAction || s.VersionStep == nil {
			continue
		}
		if s.VersionStep.Type == forge.StepTypeDownloadArtifact && s.VersionStep.ArtifactToDownloadID != nil {
			wanted = append(wanted, *s.VersionStep.ArtifactToDownloadID)
		}
	}
	downloads := map[uuid.UUID]*types.Artifact{}
	if len(wanted) > 0 {
		found, err := u.deps.Artifacts.GetByIDs(dbc, wanted)
		if err != nil {
			return CompiledBuild{}, err
		}
		for _, a := range found {
			downloads[a.ID] = a
		}
		for _, id := range wanted {
			if _, ok := downloads[id]; !ok {
				return CompiledBuild{}, apierr.NotFound("artifact %s not found", id)
			}
		}
	}

	env := map[string]string{}
	if run.EncryptedEnvironmentVariables != "" {
		if env, err = u.deps.Secrets.DecryptEnv(run.ID.String(), run.EncryptedEnvironmentVariables); err != nil {
			return CompiledBuild{}, apierr.InvalidState("decrypt run env: %v", err)
		}
	}

	return u.compile(dbc.Ctx, compileInput{
		run:       run,
		steps:     steps,
		inputs:    inputs,
		downloads: downloads,
		env:       env,
	})
}

func (u Usecases) presign(ctx context.Context, in compileInput) (presigned, error) {
	out := presigned{
		inputURLs:    make(map[uuid.UUID]string, len(in.inputs)),
		downloadURLs: make(map[uuid.UUID]string, len(in.downloads)),
		uploads:      map[uuid.UUID]UploadHandle{},
	}
	type signed struct {
		id     uuid.UUID
		url    string
		handle *UploadHandle
		input  bool
	}

	var jobs []func(context.Context) (signed, error)
	for _, a := range in.inputs {
		a := a
		jobs = append(jobs, func(ctx context.Context) (signed, error) {
			url, err := u.broker.DownloadURL(ctx, a)
			return signed{id: a.ID, url: url, input: true}, err
		})
	}
	for _, a := range in.downloads {
		a := a
		jobs = append(jobs, func(ctx context.Context) (signed, error) {
			url, err := u.broker.DownloadURL(ctx, a)
			return signed{id: a.ID, url: url}, err
		})
	}
	for _, s := range in.steps {
		if s.Type != forge.RunStepTypeAction || s.VersionStep == nil || s.VersionStep.Type != forge.StepTypeUploadArtifact {
			continue
		}
		stepID := s.ID
		jobs = append(jobs, func(ctx context.Context) (signed, error) {
			h, err := u.broker.IssueUploadHandle(ctx, in.run.ID, stepID)
			return signed{id: stepID, handle: &h}, err
		})
	}

	results := make([]signed, len(jobs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(presignLimit)
	for i, job := range jobs {
		i, job := i, job
		g.Go(func() error {
			res, err := job(gctx)
			if err != nil {
				return err
			}
			results[i] = res
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return presigned{}, err
	}
	for _, r := range results {
		switch {
		case r.handle != nil:
			out.uploads[r.id] = *r.handle
		case r.input:
			out.inputURLs[r.id] = r.url
		default:
			out.downloadURLs[r.id] = r.url
		}
	}
	return out, nil
}

func (u Usecases) compile(ctx context.Context, in compileInput) (CompiledBuild, error) {
	urls, err := u.presign(ctx, in)
	if err != nil {
		return CompiledBuild{}, err
	}

	steps := make([]*types.RunStep, len(in.steps))
	copy(steps, in.steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].Index < steps[j].Index })

	uploads := map[string]forge.UploadTarget{}
	cmds := []string{EchoEvent(Event{Type: EventBuildStart})}
	for _, s := range steps {
		sid := s.ID.String()
		cmds = append(cmds, EchoEvent(Event{Type: EventStepStart, StepID: sid}))
		switch s.Type {
		case forge.RunStepTypeSetup:
			cmds = append(cmds, setupCommands(in.inputs, urls.inputURLs)...)
		case forge.RunStepTypeInit:
			cmds = append(cmds, scriptOrNoop(s.VersionStep.InitScript)...)
		case forge.RunStepTypeCleanup:
			cmds = append(cmds, scriptOrNoop(s.VersionStep.CleanupScript)...)
		case forge.RunStepTypeTeardown:
			cmds = append(cmds, `echo "Tearing down build environment..."`)
		case forge.RunStepTypeAction:
			action, err := actionCommands(s, urls)
			if err != nil {
				return CompiledBuild{}, err
			}
			cmds = append(cmds, action...)
			if h, ok := urls.uploads[s.ID]; ok {
				uploads[sid] = h.Target()
			}
		default:
			return CompiledBuild{}, apierr.InvalidState("run step %s: unknown type %q", s.ID, s.Type)
		}
		cmds = append(cmds, EchoEvent(Event{Type: EventStepEnd, StepID: sid}))
	}
	cmds = append(cmds, EchoEvent(Event{Type: EventBuildEnd}))

	env := make(map[string]string, len(in.env)+3)
	for k, v := range in.env {
		env[k] = v
	}
	env["WORKFLOW_RUN_ID"] = in.run.ID.String()
	env["WORKFLOW_VERSION_ID"] = in.run.VersionID.String()
	env["RUNTIME"] = RuntimeVersion

	return CompiledBuild{
		Request: buildprovider.BuildRequest{RunID: in.run.ID.String(), Commands: cmds, Env: env},
		Uploads: uploads,
	}, nil
}

func setupCommands(inputs []*types.Artifact, urls map[uuid.UUID]string) []string {
	cmds := []string{
		`echo "Started build..."`,
		`echo "Setting up build environment..."`,
		"apt-get update -y && apt-get install -y zip unzip curl",
		"mkdir -p " + workDir + " && cd " + workDir,
		"mkdir -p ./output",
		EchoEvent(Event{Type: EventDownloadArtifactsStart}),
	}
	for _, a := range inputs {
		aid := a.ID.String()
		tmp := "/tmp/artifact_" + aid + ".zip"
		cmds = append(cmds,
			EchoEvent(Event{Type: EventDownloadArtifactStart, ArtifactID: aid}),
			fmt.Sprintf("curl -sL %s -o %s", ShellQuote(urls[a.ID]), ShellQuote(tmp)),
			fmt.Sprintf("unzip -o %s -d .", ShellQuote(tmp)),
			fmt.Sprintf("rm -f %s", ShellQuote(tmp)),
			EchoEvent(Event{Type: EventDownloadArtifactEnd, ArtifactID: aid}),
		)
	}
	return append(cmds, EchoEvent(Event{Type: EventDownloadArtifactsEnd}))
}

func scriptOrNoop(script []string) []string {
	if len(script) == 0 {
		return []string{noAction}
	}
	out := make([]string, len(script))
	copy(out, script)
	return out
}

func actionCommands(s *types.RunStep, urls presigned) ([]string, error) {
	if s.VersionStep == nil {
		return nil, apierr.InvalidState("action step %s has no version step", s.ID)
	}
	spec, err := s.VersionStep.Spec()
	if err != nil {
		return nil, apierr.InvalidState("%v", err)
	}
	switch st := spec.(type) {
	case forge.ScriptStep:
		return scriptOrNoop(st.ActionScript), nil
	case forge.DownloadArtifactStep:
		url, ok := urls.downloadURLs[st.ArtifactID]
		if !ok {
			return nil, apierr.NotFound("artifact %s not found", st.ArtifactID)
		}
		tmp := "/tmp/download_" + st.ArtifactID.String()
		dest := ShellQuote(st.DestinationPath)
		return []string{
			fmt.Sprintf("curl -sL %s -o %s", ShellQuote(url), ShellQuote(tmp)),
			fmt.Sprintf("mkdir -p \"$(dirname %s)\" && mv %s %s", dest, ShellQuote(tmp), dest),
		}, nil
	case forge.UploadArtifactStep:
		h, ok := urls.uploads[s.ID]
		if !ok {
			return nil, apierr.InvalidState("upload step %s has no upload handle", s.ID)
		}
		return []string{
			fmt.Sprintf("curl -s -X %s -H %s --data-binary @%s %s",
				http.MethodPut,
				ShellQuote("Content-Type: application/octet-stream"),
				ShellQuote(st.SourcePath),
				ShellQuote(h.UploadURL)),
			EchoEvent(Event{Type: EventUploadArtifactRegister, StepID: s.ID.String()}),
		}, nil
	default:
		return nil, apierr.InvalidState("step %s: unsupported kind %q", s.ID, spec.Kind())
	}
}

// uploadArtifactName is the name recorded for an upload step's artifact.
func uploadArtifactName(vs *types.VersionStep) string {
	if vs == nil {
		return "artifact"
	}
	if vs.ArtifactToUploadName != "" {
		return vs.ArtifactToUploadName
	}
	if vs.ArtifactToUploadPath != "" {
		return path.Base(vs.ArtifactToUploadPath)
	}
	return vs.Name
}
