package testutil

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	types "github.com/yungbote/forge-backend/internal/domain"
	"github.com/yungbote/forge-backend/internal/domain/forge"
	"github.com/yungbote/forge-backend/internal/platform/ids"
)

func SeedProvider(tb testing.TB, ctx context.Context, tx *gorm.DB) *types.Provider {
	tb.Helper()
	p := &types.Provider{Identifier: "prov-" + ids.Plain(8), Name: "fake"}
	if err := tx.WithContext(ctx).Create(p).Error; err != nil {
		tb.Fatalf("seed provider: %v", err)
	}
	return p
}

func SeedWorkflow(tb testing.TB, ctx context.Context, tx *gorm.DB, tenantID uuid.UUID, identifier string, providerID uuid.UUID) *types.Workflow {
	tb.Helper()
	w := &types.Workflow{
		TenantID:   tenantID,
		Identifier: identifier,
		Name:       identifier,
		Status:     forge.WorkflowStatusActive,
		ProviderID: providerID,
	}
	if err := tx.WithContext(ctx).Create(w).Error; err != nil {
		tb.Fatalf("seed workflow: %v", err)
	}
	return w
}

// SeedVersion creates a current version whose steps are script steps
// named after names, in order.
func SeedVersion(tb testing.TB, ctx context.Context, tx *gorm.DB, w *types.Workflow, names ...string) *types.WorkflowVersion {
	tb.Helper()
	v := &types.WorkflowVersion{
		WorkflowID: w.ID,
		Identifier: ids.Plain(12),
		IsCurrent:  true,
		ProviderID: w.ProviderID,
	}
	for i, name := range names {
		v.Steps = append(v.Steps, &types.VersionStep{
			Index:        i,
			Name:         name,
			Type:         forge.StepTypeScript,
			ActionScript: datatypes.JSONSlice[string]{"echo " + name},
		})
	}
	if err := tx.WithContext(ctx).Create(v).Error; err != nil {
		tb.Fatalf("seed version: %v", err)
	}
	if err := tx.WithContext(ctx).Model(&types.Workflow{}).Where("id = ?", w.ID).
		Update("current_version_id", v.ID).Error; err != nil {
		tb.Fatalf("seed version pointer: %v", err)
	}
	return v
}

func SeedRun(tb testing.TB, ctx context.Context, tx *gorm.DB, w *types.Workflow, v *types.WorkflowVersion, status forge.RunStatus) *types.WorkflowRun {
	tb.Helper()
	r := &types.WorkflowRun{
		WorkflowID: w.ID,
		VersionID:  v.ID,
		ProviderID: w.ProviderID,
		Status:     status,
	}
	if err := tx.WithContext(ctx).Omit("Steps", "Artifacts").Create(r).Error; err != nil {
		tb.Fatalf("seed run: %v", err)
	}
	return r
}

func SeedArtifact(tb testing.TB, ctx context.Context, tx *gorm.DB, run *types.WorkflowRun, name string, typ forge.ArtifactType) *types.Artifact {
	tb.Helper()
	a := &types.Artifact{
		WorkflowID: run.WorkflowID,
		RunID:      run.ID,
		Name:       name,
		Type:       typ,
		Bucket:     "artifacts",
		StorageKey: run.ID.String() + "/" + ids.Plain(10),
	}
	if err := tx.WithContext(ctx).Create(a).Error; err != nil {
		tb.Fatalf("seed artifact: %v", err)
	}
	return a
}
