package build

import (
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/domain/forge"
)

func TestPlanRunStepsOrder(t *testing.T) {
	a := &types.VersionStep{
		ID:            uuid.New(),
		Index:         0,
		Name:          "A",
		Type:          forge.StepTypeScript,
		InitScript:    datatypes.JSONSlice[string]{"echo init"},
		ActionScript:  datatypes.JSONSlice[string]{"make"},
		CleanupScript: datatypes.JSONSlice[string]{"make clean"},
	}
	b := &types.VersionStep{
		ID:           uuid.New(),
		Index:        1,
		Name:         "B",
		Type:         forge.StepTypeScript,
		ActionScript: datatypes.JSONSlice[string]{"make test"},
	}
	runID := uuid.New()
	// Out of order on purpose; planning sorts by index.
	steps := PlanRunSteps(runID, []*types.VersionStep{b, a})

	want := []struct {
		typ  forge.RunStepType
		name string
		vs   *types.VersionStep
	}{
		{forge.RunStepTypeSetup, "Setup Build Environment", nil},
		{forge.RunStepTypeInit, "Step: A (setup)", a},
		{forge.RunStepTypeAction, "Step: A", a},
		{forge.RunStepTypeAction, "Step: B", b},
		{forge.RunStepTypeCleanup, "Step: A (cleanup)", a},
		{forge.RunStepTypeTeardown, "Teardown Build Environment", nil},
	}
	if len(steps) != len(want) {
		t.Fatalf("steps: want=%d got=%d", len(want), len(steps))
	}
	seen := map[uuid.UUID]bool{}
	for i, w := range want {
		s := steps[i]
		if s.Index != i || s.Type != w.typ || s.Name != w.name {
			t.Fatalf("step %d: want=(%d %s %q) got=(%d %s %q)", i, i, w.typ, w.name, s.Index, s.Type, s.Name)
		}
		if s.Status != forge.StepStatusPending || s.RunID != runID {
			t.Fatalf("step %d: want pending step of run, got status=%s run=%s", i, s.Status, s.RunID)
		}
		switch {
		case w.vs == nil && s.VersionStepID != nil:
			t.Fatalf("step %d: want no version step got=%v", i, *s.VersionStepID)
		case w.vs != nil && (s.VersionStepID == nil || *s.VersionStepID != w.vs.ID):
			t.Fatalf("step %d: want version step %s got=%v", i, w.vs.ID, s.VersionStepID)
		}
		if seen[s.ID] {
			t.Fatalf("step %d: duplicate id %s", i, s.ID)
		}
		seen[s.ID] = true
	}
}

func TestPlanRunStepsActionOnlyForEveryStep(t *testing.T) {
	vs := []*types.VersionStep{
		{ID: uuid.New(), Index: 0, Name: "empty", Type: forge.StepTypeScript},
		{ID: uuid.New(), Index: 1, Name: "upload", Type: forge.StepTypeUploadArtifact, ArtifactToUploadPath: "out.tar"},
	}
	steps := PlanRunSteps(uuid.New(), vs)
	var names []string
	for _, s := range steps {
		names = append(names, s.Name)
	}
	want := []string{"Setup Build Environment", "Step: empty", "Step: upload", "Teardown Build Environment"}
	if len(names) != len(want) {
		t.Fatalf("names: want=%q got=%q", want, names)
	}
	for i := range want {
		if names[i] != want[i] {
			t.Fatalf("name %d: want=%q got=%q", i, want[i], names[i])
		}
	}
}

func TestUploadArtifactName(t *testing.T) {
	cases := []struct {
		vs   *types.VersionStep
		want string
	}{
		{&types.VersionStep{Name: "pkg", ArtifactToUploadName: "bundle.zip", ArtifactToUploadPath: "dist/out.zip"}, "bundle.zip"},
		{&types.VersionStep{Name: "pkg", ArtifactToUploadPath: "dist/out.zip"}, "out.zip"},
		{&types.VersionStep{Name: "pkg"}, "pkg"},
		{nil, "artifact"},
	}
	for _, c := range cases {
		if got := uploadArtifactName(c.vs); got != c.want {
			t.Fatalf("uploadArtifactName: want=%q got=%q", c.want, got)
		}
	}
}
