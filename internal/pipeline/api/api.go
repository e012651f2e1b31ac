// Package api exposes the orchestrator's HTTP control surface.
package api

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/harborline/harborline/internal/pipeline/rollback"
	"github.com/harborline/harborline/internal/pipeline/service"
)

// PipelineRunner runs one deployment pipeline invocation to completion.
type PipelineRunner interface {
	Run(ctx context.Context, in service.Input) (*service.Result, error)
}

// RollbackRunner restores an environment to a prior version.
type RollbackRunner interface {
	Rollback(ctx context.Context, p *model.EnvironmentProfile, req rollback.Request) (*model.RollbackRecord, *model.SmokeTestReport, error)
}

// ProfileSource resolves environment profiles for API parameters.
type ProfileSource interface {
	ByTier(tier model.Tier) (*model.EnvironmentProfile, error)
}

// HistoryReader serves the read endpoints from the database.
type HistoryReader interface {
	ListDeployments(ctx context.Context, tier model.Tier, limit int) ([]model.DeploymentRecord, error)
	GetCurrentDeployment(ctx context.Context, tier model.Tier) (*model.DeploymentRecord, error)
	ListRollbacks(ctx context.Context, tier model.Tier, limit int) ([]model.RollbackRecord, error)
	RecordBackup(ctx context.Context, tier model.Tier, takenAt time.Time) error
}

// Api wires the control-surface routes onto a gin engine.
type Api struct {
	pipeline  PipelineRunner
	rollbacks RollbackRunner
	profiles  ProfileSource
	history   HistoryReader
	approvals ApprovalGateway
	runs      *runRegistry
}

func NewApi(router *gin.Engine, pipeline PipelineRunner, rollbacks RollbackRunner, profiles ProfileSource, history HistoryReader, approvals ApprovalGateway) *Api {
	api := &Api{
		pipeline:  pipeline,
		rollbacks: rollbacks,
		profiles:  profiles,
		history:   history,
		approvals: approvals,
		runs:      newRunRegistry(),
	}
	api.setupRouters(router)
	return api
}

func (api *Api) setupRouters(router *gin.Engine) {
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/healthz", func(c *gin.Context) { c.JSON(http.StatusOK, gin.H{"status": "ok"}) })

	router.POST("/v1/deployments", api.CreateDeployment)
	router.GET("/v1/deployments", api.ListDeployments)
	router.GET("/v1/deployments/current", api.GetCurrentDeployment)
	router.GET("/v1/deployments/runs/:requestID", api.GetRun)

	router.POST("/v1/rollbacks", api.CreateRollback)
	router.GET("/v1/rollbacks", api.ListRollbacks)

	router.GET("/v1/approvals/pending", api.GetPendingApproval)
	router.POST("/v1/approvals/:requestID", api.DecideApproval)

	router.POST("/v1/backups", api.RecordBackup)
}

func apiError(c *gin.Context, status int, code, message string) {
	c.JSON(status, gin.H{"error": gin.H{"code": code, "message": message}})
}

// tierParam parses and validates the environment query parameter.
func tierParam(c *gin.Context) (model.Tier, bool) {
	tier := model.Tier(c.Query("environment"))
	if !tier.Valid() {
		apiError(c, http.StatusBadRequest, "INVALID_PARAMETER", "unknown environment: "+string(tier))
		return "", false
	}
	return tier, true
}

// runRegistry tracks in-flight and finished pipeline runs so the async
// endpoints can report status by request ID. Entries are process-local; the
// durable record lives in the database.
type runRegistry struct {
	mu   sync.RWMutex
	runs map[string]*RunState
}

// RunState is the reportable view of one asynchronous run.
type RunState struct {
	RequestID  string          `json:"requestId"`
	Kind       string          `json:"kind"` // deployment or rollback
	Finished   bool            `json:"finished"`
	Result     *service.Result `json:"result,omitempty"`
	Rollback   *model.RollbackRecord `json:"rollback,omitempty"`
	Error      string          `json:"error,omitempty"`
	StartedAt  time.Time       `json:"startedAt"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

func newRunRegistry() *runRegistry {
	return &runRegistry{runs: make(map[string]*RunState)}
}

func (r *runRegistry) start(requestID, kind string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[requestID] = &RunState{
		RequestID: requestID,
		Kind:      kind,
		StartedAt: time.Now(),
	}
}

func (r *runRegistry) finish(requestID string, mutate func(*RunState)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.runs[requestID]
	if !ok {
		return
	}
	now := time.Now()
	st.Finished = true
	st.FinishedAt = &now
	mutate(st)
}

func (r *runRegistry) get(requestID string) (*RunState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.runs[requestID]
	return st, ok
}
