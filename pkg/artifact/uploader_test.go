package artifact

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jvreagan/fabric-deploy/pkg/credentials"
	"github.com/jvreagan/fabric-deploy/pkg/fabric"
	"github.com/jvreagan/fabric-deploy/pkg/plan"
)

// fakeItemsAPI scripts per-call failures for CreateItem and records calls.
type fakeItemsAPI struct {
	items []fabric.Item

	// createErrs is consumed one per CreateItem call; nil entries succeed
	createErrs []error
	creates    int
	updates    int

	lastCreate fabric.ItemRequest
	lastUpdate fabric.ItemRequest
}

func (f *fakeItemsAPI) ListItems(ctx context.Context, workspaceID string) ([]fabric.Item, error) {
	return append([]fabric.Item(nil), f.items...), nil
}

func (f *fakeItemsAPI) CreateItem(ctx context.Context, workspaceID string, req fabric.ItemRequest) (fabric.Item, error) {
	f.creates++
	f.lastCreate = req
	if len(f.createErrs) > 0 {
		err := f.createErrs[0]
		f.createErrs = f.createErrs[1:]
		if err != nil {
			return fabric.Item{}, err
		}
	}
	item := fabric.Item{ID: "I-1", DisplayName: req.DisplayName, Type: req.Type}
	f.items = append(f.items, item)
	return item, nil
}

func (f *fakeItemsAPI) UpdateItemDefinition(ctx context.Context, workspaceID, itemID string, req fabric.ItemRequest) error {
	f.updates++
	f.lastUpdate = req
	return nil
}

// fakeLoader returns a canned definition.
type fakeLoader struct {
	err error
}

func (f *fakeLoader) Load(ctx context.Context, source plan.SourceConfig) (*fabric.Definition, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &fabric.Definition{Parts: []fabric.DefinitionPart{
		{Path: "definition.pbism", Payload: "e30=", PayloadType: "InlineBase64"},
	}}, nil
}

// countingCreds records Invalidate calls.
type countingCreds struct {
	invalidations int
}

func (c *countingCreds) Token(ctx context.Context) (credentials.Credential, error) {
	return credentials.Credential{Token: "t"}, nil
}

func (c *countingCreds) Invalidate() { c.invalidations++ }

func fastRetry() plan.RetryConfig {
	return plan.RetryConfig{MaxAttempts: 3, InitialBackoff: time.Millisecond}
}

func modelSpec() plan.Artifact {
	return plan.Artifact{Name: "model", Kind: "SemanticModel", Source: plan.SourceConfig{Path: "./model"}}
}

func TestDeployCreatesWhenAbsent(t *testing.T) {
	api := &fakeItemsAPI{}
	u := NewUploader(api, &countingCreds{}, &fakeLoader{}, fastRetry())

	result, err := u.Deploy(context.Background(), "W1", modelSpec(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ID != "I-1" || result.Kind != "SemanticModel" {
		t.Errorf("unexpected result: %+v", result)
	}
	if api.creates != 1 || api.updates != 0 {
		t.Errorf("creates=%d updates=%d, want 1/0", api.creates, api.updates)
	}
	if result.DeployedAt.IsZero() {
		t.Error("DeployedAt should be set")
	}
}

func TestDeployOverwritesExisting(t *testing.T) {
	api := &fakeItemsAPI{items: []fabric.Item{{ID: "M1", DisplayName: "model", Type: "SemanticModel"}}}
	u := NewUploader(api, &countingCreds{}, &fakeLoader{}, fastRetry())

	result, err := u.Deploy(context.Background(), "W1", modelSpec(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.ID != "M1" {
		t.Errorf("overwrite must return the existing id, got %q", result.ID)
	}
	if api.creates != 0 || api.updates != 1 {
		t.Errorf("creates=%d updates=%d, want 0/1", api.creates, api.updates)
	}
}

func TestDeployIsIdempotent(t *testing.T) {
	api := &fakeItemsAPI{}
	u := NewUploader(api, &countingCreds{}, &fakeLoader{}, fastRetry())
	ctx := context.Background()

	first, err := u.Deploy(ctx, "W1", modelSpec(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	second, err := u.Deploy(ctx, "W1", modelSpec(), nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if first.ID != second.ID {
		t.Errorf("re-run returned a different id: %q then %q", first.ID, second.ID)
	}
	if api.creates != 1 {
		t.Errorf("re-run must overwrite, not duplicate: creates=%d", api.creates)
	}
}

func TestDeployInjectsResolvedProperties(t *testing.T) {
	api := &fakeItemsAPI{}
	u := NewUploader(api, &countingCreds{}, &fakeLoader{}, fastRetry())

	props := map[string]string{"semanticModelId": "M1"}
	spec := plan.Artifact{Name: "report", Kind: "Report", Source: plan.SourceConfig{Path: "./report"}}
	if _, err := u.Deploy(context.Background(), "W1", spec, props); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if api.lastCreate.Properties["semanticModelId"] != "M1" {
		t.Errorf("resolved properties not injected: %+v", api.lastCreate.Properties)
	}
}

func TestDeployAuthExpiryRefreshesOnce(t *testing.T) {
	authErr := &fabric.APIError{Kind: fabric.KindAuthExpired, StatusCode: 401, Message: "token expired"}
	api := &fakeItemsAPI{createErrs: []error{authErr, nil}}
	creds := &countingCreds{}
	u := NewUploader(api, creds, &fakeLoader{}, fastRetry())

	result, err := u.Deploy(context.Background(), "W1", modelSpec(), nil)
	if err != nil {
		t.Fatalf("expected recovery after refresh, got: %v", err)
	}
	if result.ID == "" {
		t.Error("expected a result after the retried upload")
	}
	if creds.invalidations != 1 {
		t.Errorf("expected exactly 1 credential refresh, got %d", creds.invalidations)
	}
	if api.creates != 2 {
		t.Errorf("expected exactly 1 retry, got %d attempts", api.creates)
	}
}

func TestDeployAuthExpiryFailsAfterSecondRejection(t *testing.T) {
	authErr := &fabric.APIError{Kind: fabric.KindAuthExpired, StatusCode: 401, Message: "token expired"}
	api := &fakeItemsAPI{createErrs: []error{authErr, authErr}}
	creds := &countingCreds{}
	u := NewUploader(api, creds, &fakeLoader{}, fastRetry())

	_, err := u.Deploy(context.Background(), "W1", modelSpec(), nil)
	var deployErr *DeployError
	if !errors.As(err, &deployErr) {
		t.Fatalf("expected *DeployError, got %T: %v", err, err)
	}
	if deployErr.Kind != fabric.KindAuthExpired {
		t.Errorf("Kind = %s, want auth-expired", deployErr.Kind)
	}
	if creds.invalidations != 1 {
		t.Errorf("expected exactly 1 refresh, got %d", creds.invalidations)
	}
}

func TestDeployRetriesTransientFailures(t *testing.T) {
	transient := &fabric.APIError{Kind: fabric.KindTransient, StatusCode: 503, Message: "service unavailable"}
	api := &fakeItemsAPI{createErrs: []error{transient, transient, nil}}
	u := NewUploader(api, &countingCreds{}, &fakeLoader{}, fastRetry())

	if _, err := u.Deploy(context.Background(), "W1", modelSpec(), nil); err != nil {
		t.Fatalf("expected recovery within the attempt budget, got: %v", err)
	}
	if api.creates != 3 {
		t.Errorf("expected 3 attempts, got %d", api.creates)
	}
}

func TestDeployTransientBudgetExhausted(t *testing.T) {
	transient := &fabric.APIError{Kind: fabric.KindTransient, StatusCode: 503, Message: "service unavailable"}
	api := &fakeItemsAPI{createErrs: []error{transient, transient, transient}}
	u := NewUploader(api, &countingCreds{}, &fakeLoader{}, fastRetry())

	_, err := u.Deploy(context.Background(), "W1", modelSpec(), nil)
	var deployErr *DeployError
	if !errors.As(err, &deployErr) {
		t.Fatalf("expected *DeployError, got %T: %v", err, err)
	}
	if deployErr.Kind != fabric.KindTransient {
		t.Errorf("Kind = %s, want transient", deployErr.Kind)
	}
	if api.creates != 3 {
		t.Errorf("expected the attempt budget (3), got %d", api.creates)
	}
}

func TestDeployHonorsRetryAfter(t *testing.T) {
	limited := &fabric.APIError{Kind: fabric.KindRateLimited, StatusCode: 429, RetryAfter: 20 * time.Millisecond, Message: "throttled"}
	api := &fakeItemsAPI{createErrs: []error{limited, nil}}
	u := NewUploader(api, &countingCreds{}, &fakeLoader{}, fastRetry())

	start := time.Now()
	if _, err := u.Deploy(context.Background(), "W1", modelSpec(), nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("mandated delay not honored, finished in %v", elapsed)
	}
}

func TestDeployInvalidContentIsNotRetried(t *testing.T) {
	invalid := &fabric.APIError{Kind: fabric.KindInvalidContent, StatusCode: 400, Message: "malformed definition part"}
	api := &fakeItemsAPI{createErrs: []error{invalid, nil}}
	u := NewUploader(api, &countingCreds{}, &fakeLoader{}, fastRetry())

	_, err := u.Deploy(context.Background(), "W1", modelSpec(), nil)
	var deployErr *DeployError
	if !errors.As(err, &deployErr) {
		t.Fatalf("expected *DeployError, got %T: %v", err, err)
	}
	if deployErr.Kind != fabric.KindInvalidContent {
		t.Errorf("Kind = %s, want invalid-content", deployErr.Kind)
	}
	if api.creates != 1 {
		t.Errorf("permanent failures must not be retried, got %d attempts", api.creates)
	}
}

func TestDeployContentLoadFailure(t *testing.T) {
	api := &fakeItemsAPI{}
	u := NewUploader(api, &countingCreds{}, &fakeLoader{err: errors.New("source directory is empty")}, fastRetry())

	_, err := u.Deploy(context.Background(), "W1", modelSpec(), nil)
	var deployErr *DeployError
	if !errors.As(err, &deployErr) {
		t.Fatalf("expected *DeployError, got %T: %v", err, err)
	}
	if deployErr.Kind != fabric.KindInvalidContent {
		t.Errorf("Kind = %s, want invalid-content", deployErr.Kind)
	}
	if api.creates != 0 {
		t.Error("no upload should be attempted when content fails to load")
	}
}
