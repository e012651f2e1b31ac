package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/harborline/harborline/internal/pipeline/executor"
	"github.com/harborline/harborline/internal/pipeline/model"
)

// decisionRetention keeps decided approvals queryable after the run finishes.
const decisionRetention = 24 * time.Hour

// ApprovalGateway is the slice of the approval store the API needs.
type ApprovalGateway interface {
	GetPending(ctx context.Context, tier model.Tier) (*executor.PendingApproval, error)
	Decide(ctx context.Context, d *executor.Decision, ttl time.Duration) error
}

// GetPendingApproval returns the approval currently blocking an environment,
// if any.
func (api *Api) GetPendingApproval(c *gin.Context) {
	tier, ok := tierParam(c)
	if !ok {
		return
	}
	pending, err := api.approvals.GetPending(c.Request.Context(), tier)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if pending == nil {
		apiError(c, http.StatusNotFound, "NOT_FOUND", "no pending approval for "+string(tier))
		return
	}
	c.JSON(http.StatusOK, pending)
}

type decideApprovalRequest struct {
	Approved bool   `json:"approved"`
	Approver string `json:"approver" binding:"required"`
	Comment  string `json:"comment"`
}

// DecideApproval records the approve/reject decision for a waiting request.
// The executor picks the decision up on its next poll.
func (api *Api) DecideApproval(c *gin.Context) {
	requestID := c.Param("requestID")
	var req decideApprovalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	}
	decision := &executor.Decision{
		RequestID: requestID,
		Approved:  req.Approved,
		Approver:  req.Approver,
		Comment:   req.Comment,
		DecidedAt: time.Now(),
	}
	if err := api.approvals.Decide(c.Request.Context(), decision, decisionRetention); err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, decision)
}

// parseTakenAt accepts an RFC3339 timestamp, defaulting to now and rejecting
// future times.
func parseTakenAt(raw string) (time.Time, error) {
	if raw == "" {
		return time.Now(), nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("takenAt: %w", err)
	}
	if t.After(time.Now()) {
		return time.Time{}, fmt.Errorf("takenAt is in the future")
	}
	return t, nil
}
