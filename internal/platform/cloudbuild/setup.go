package cloudbuild

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/api/googleapi"
	iamapi "google.golang.org/api/iam/v1"
	loggingapi "google.golang.org/api/logging/v2"

	"github.com/yungbote/forge-backend/internal/platform/apierr"
)

// Setup makes sure the build service account exists and applies the log
// retention policy. It runs at most once successfully per Adapter.
func (a *Adapter) Setup(ctx context.Context) error {
	a.setupMu.Lock()
	defer a.setupMu.Unlock()
	if a.setupDone {
		return nil
	}
	if err := a.ensureServiceAccount(ctx); err != nil {
		return err
	}
	if a.cfg.LogRetentionDays > 0 {
		name := fmt.Sprintf("projects/%s/locations/global/buckets/_Default", a.cfg.ProjectID)
		_, err := a.logs.Projects.Locations.Buckets.Patch(name, &loggingapi.LogBucket{
			RetentionDays: int64(a.cfg.LogRetentionDays),
		}).UpdateMask("retentionDays").Context(ctx).Do()
		if err != nil {
			return apierr.ProviderUnavailable(fmt.Errorf("cloudbuild setup: log retention: %w", err))
		}
	}
	a.setupDone = true
	a.log.Info("provider setup complete", "project", a.cfg.ProjectID, "region", a.cfg.Region)
	return nil
}

func (a *Adapter) ensureServiceAccount(ctx context.Context) error {
	name := fmt.Sprintf("projects/%s/serviceAccounts/%s", a.cfg.ProjectID, a.serviceAccountEmail())
	_, err := a.iam.Projects.ServiceAccounts.Get(name).Context(ctx).Do()
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if !errors.As(err, &gerr) || gerr.Code != http.StatusNotFound {
		return apierr.ProviderUnavailable(fmt.Errorf("cloudbuild setup: get service account: %w", err))
	}
	_, err = a.iam.Projects.ServiceAccounts.Create("projects/"+a.cfg.ProjectID, &iamapi.CreateServiceAccountRequest{
		AccountId: a.cfg.ServiceAccountID,
		ServiceAccount: &iamapi.ServiceAccount{
			DisplayName: "Forge build runner",
		},
	}).Context(ctx).Do()
	if err != nil {
		if errors.As(err, &gerr) && gerr.Code == http.StatusConflict {
			return nil
		}
		return apierr.ProviderUnavailable(fmt.Errorf("cloudbuild setup: create service account: %w", err))
	}
	a.log.Info("created build service account", "account", a.cfg.ServiceAccountID)
	return nil
}
