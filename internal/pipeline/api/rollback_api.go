package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harborline/harborline/internal/pipeline/model"
	"github.com/harborline/harborline/internal/pipeline/rollback"
)

type createRollbackRequest struct {
	Environment   string `json:"environment" binding:"required"`
	TargetVersion string `json:"targetVersion"`
	Reason        string `json:"reason" binding:"required"`
	Initiator     string `json:"initiator" binding:"required"`
}

// CreateRollback starts an asynchronous rollback. Approval-gated environments
// still require a decision before the swap proceeds.
func (api *Api) CreateRollback(c *gin.Context) {
	var req createRollbackRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	}
	tier := model.Tier(req.Environment)
	if !tier.Valid() {
		apiError(c, http.StatusBadRequest, "INVALID_PARAMETER", "unknown environment: "+req.Environment)
		return
	}
	profile, err := api.profiles.ByTier(tier)
	if err != nil {
		apiError(c, http.StatusNotFound, "NOT_FOUND", err.Error())
		return
	}

	requestID := uuid.New().String()
	api.runs.start(requestID, "rollback")

	go func() {
		rec, _, err := api.rollbacks.Rollback(context.Background(), profile, rollback.Request{
			TargetVersion: req.TargetVersion,
			Reason:        req.Reason,
			Initiator:     req.Initiator,
		})
		api.runs.finish(requestID, func(st *RunState) {
			st.Rollback = rec
			if err != nil {
				st.Error = err.Error()
			}
		})
		if err != nil {
			log.Error().Err(err).Str("environment", req.Environment).Msg("async rollback failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"requestId": requestID})
}

func (api *Api) ListRollbacks(c *gin.Context) {
	tier, ok := tierParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := api.history.ListRollbacks(c.Request.Context(), tier, limit)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"rollbacks": records})
}

type recordBackupRequest struct {
	Environment string `json:"environment" binding:"required"`
	TakenAt     string `json:"takenAt"` // RFC3339; defaults to now
}

// RecordBackup marks a fresh environment backup so the governance gate's
// backup-age check passes. Backup tooling calls this after a successful dump.
func (api *Api) RecordBackup(c *gin.Context) {
	var req recordBackupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	}
	tier := model.Tier(req.Environment)
	if !tier.Valid() {
		apiError(c, http.StatusBadRequest, "INVALID_PARAMETER", "unknown environment: "+req.Environment)
		return
	}
	takenAt, err := parseTakenAt(req.TakenAt)
	if err != nil {
		apiError(c, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	}
	if err := api.history.RecordBackup(c.Request.Context(), tier, takenAt); err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusCreated, gin.H{"environment": req.Environment, "takenAt": takenAt})
}
