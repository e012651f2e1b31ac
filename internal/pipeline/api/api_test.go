package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harborline/harborline/internal/pipeline/executor"
	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/harborline/harborline/internal/pipeline/rollback"
	"github.com/harborline/harborline/internal/pipeline/service"
)

type fakePipeline struct {
	res *service.Result
	err error
}

func (f *fakePipeline) Run(_ context.Context, in service.Input) (*service.Result, error) {
	if f.res != nil {
		f.res.Request = &model.DeploymentRequest{ID: in.RequestID, Ref: in.Ref}
	}
	return f.res, f.err
}

type fakeRollbacks struct {
	rec *model.RollbackRecord
	err error
}

func (f *fakeRollbacks) Rollback(context.Context, *model.EnvironmentProfile, rollback.Request) (*model.RollbackRecord, *model.SmokeTestReport, error) {
	return f.rec, nil, f.err
}

type fakeProfiles struct{}

func (fakeProfiles) ByTier(tier model.Tier) (*model.EnvironmentProfile, error) {
	return &model.EnvironmentProfile{Tier: tier, Port: 8100, AgentAddr: "10.0.0.8:9400"}, nil
}

type fakeHistory struct {
	current *model.DeploymentRecord
	backups []time.Time
}

func (f *fakeHistory) ListDeployments(context.Context, model.Tier, int) ([]model.DeploymentRecord, error) {
	return []model.DeploymentRecord{{ID: "d1"}}, nil
}

func (f *fakeHistory) GetCurrentDeployment(context.Context, model.Tier) (*model.DeploymentRecord, error) {
	return f.current, nil
}

func (f *fakeHistory) ListRollbacks(context.Context, model.Tier, int) ([]model.RollbackRecord, error) {
	return nil, nil
}

func (f *fakeHistory) RecordBackup(_ context.Context, _ model.Tier, takenAt time.Time) error {
	f.backups = append(f.backups, takenAt)
	return nil
}

type fakeApprovals struct {
	pending  *executor.PendingApproval
	decision *executor.Decision
}

func (f *fakeApprovals) GetPending(context.Context, model.Tier) (*executor.PendingApproval, error) {
	return f.pending, nil
}

func (f *fakeApprovals) Decide(_ context.Context, d *executor.Decision, _ time.Duration) error {
	f.decision = d
	return nil
}

type testServer struct {
	router    *gin.Engine
	api       *Api
	history   *fakeHistory
	approvals *fakeApprovals
}

func newTestServer(pipeline PipelineRunner) *testServer {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	ts := &testServer{
		router:    router,
		history:   &fakeHistory{},
		approvals: &fakeApprovals{},
	}
	ts.api = NewApi(router, pipeline, &fakeRollbacks{rec: &model.RollbackRecord{ID: "rb1"}}, fakeProfiles{}, ts.history, ts.approvals)
	return ts
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func waitFinished(t *testing.T, api *Api, requestID string) *RunState {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if st, ok := api.runs.get(requestID); ok && st.Finished {
			return st
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("run %s never finished", requestID)
	return nil
}

func TestCreateDeploymentAccepted(t *testing.T) {
	ts := newTestServer(&fakePipeline{res: &service.Result{Status: model.StatusSucceeded}})
	w := doJSON(t, ts.router, http.MethodPost, "/v1/deployments", gin.H{
		"ref": "release/staging", "commit": "abc1234def", "initiator": "ci",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", w.Code, w.Body.String())
	}
	var resp struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil || resp.RequestID == "" {
		t.Fatalf("bad response %s: %v", w.Body.String(), err)
	}

	st := waitFinished(t, ts.api, resp.RequestID)
	if st.Result == nil || st.Result.Status != model.StatusSucceeded {
		t.Errorf("run result = %+v, want succeeded", st.Result)
	}

	w = doJSON(t, ts.router, http.MethodGet, "/v1/deployments/runs/"+resp.RequestID, nil)
	if w.Code != http.StatusOK {
		t.Errorf("run lookup status = %d, want 200", w.Code)
	}
}

func TestCreateDeploymentMissingFields(t *testing.T) {
	ts := newTestServer(&fakePipeline{})
	w := doJSON(t, ts.router, http.MethodPost, "/v1/deployments", gin.H{"ref": "release/staging"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetCurrentDeploymentNotFound(t *testing.T) {
	ts := newTestServer(&fakePipeline{})
	w := doJSON(t, ts.router, http.MethodGet, "/v1/deployments/current?environment=staging", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestGetCurrentDeploymentInvalidTier(t *testing.T) {
	ts := newTestServer(&fakePipeline{})
	w := doJSON(t, ts.router, http.MethodGet, "/v1/deployments/current?environment=qa", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestDecideApproval(t *testing.T) {
	ts := newTestServer(&fakePipeline{})
	w := doJSON(t, ts.router, http.MethodPost, "/v1/approvals/req-123", gin.H{
		"approved": true, "approver": "release-manager", "comment": "ship it",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	d := ts.approvals.decision
	if d == nil || d.RequestID != "req-123" || !d.Approved || d.Approver != "release-manager" {
		t.Errorf("decision = %+v", d)
	}
}

func TestGetPendingApproval(t *testing.T) {
	ts := newTestServer(&fakePipeline{})
	ts.approvals.pending = &executor.PendingApproval{RequestID: "req-9", Tier: model.TierProduction}
	w := doJSON(t, ts.router, http.MethodGet, "/v1/approvals/pending?environment=production", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	ts.approvals.pending = nil
	w = doJSON(t, ts.router, http.MethodGet, "/v1/approvals/pending?environment=production", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404 when nothing pending", w.Code)
	}
}

func TestCreateRollbackAccepted(t *testing.T) {
	ts := newTestServer(&fakePipeline{})
	w := doJSON(t, ts.router, http.MethodPost, "/v1/rollbacks", gin.H{
		"environment": "staging", "reason": "bad release", "initiator": "oncall",
	})
	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want 202 (%s)", w.Code, w.Body.String())
	}
	var resp struct {
		RequestID string `json:"requestId"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	st := waitFinished(t, ts.api, resp.RequestID)
	if st.Rollback == nil || st.Rollback.ID != "rb1" {
		t.Errorf("rollback state = %+v", st.Rollback)
	}
}

func TestRecordBackup(t *testing.T) {
	ts := newTestServer(&fakePipeline{})
	w := doJSON(t, ts.router, http.MethodPost, "/v1/backups", gin.H{"environment": "production"})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (%s)", w.Code, w.Body.String())
	}
	if len(ts.history.backups) != 1 {
		t.Fatalf("backups recorded = %d, want 1", len(ts.history.backups))
	}

	w = doJSON(t, ts.router, http.MethodPost, "/v1/backups", gin.H{
		"environment": "production",
		"takenAt":     time.Now().Add(time.Hour).Format(time.RFC3339),
	})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for future takenAt", w.Code)
	}
}
