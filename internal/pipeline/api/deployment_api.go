package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/harborline/harborline/internal/pipeline/service"
)

type createDeploymentRequest struct {
	Ref           string `json:"ref" binding:"required"`
	Commit        string `json:"commit" binding:"required"`
	Initiator     string `json:"initiator" binding:"required"`
	StageSelector string `json:"stageSelector"`
}

// CreateDeployment accepts a trigger and runs the pipeline asynchronously.
// The caller polls the run endpoint (or the approval endpoints, for gated
// environments) with the returned request ID.
func (api *Api) CreateDeployment(c *gin.Context) {
	var req createDeploymentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		apiError(c, http.StatusBadRequest, "INVALID_PARAMETER", err.Error())
		return
	}

	requestID := uuid.New().String()
	api.runs.start(requestID, "deployment")

	go func() {
		// detached from the request context; the run outlives the HTTP call
		res, err := api.pipeline.Run(context.Background(), service.Input{
			RequestID:     requestID,
			Ref:           req.Ref,
			Commit:        req.Commit,
			Initiator:     req.Initiator,
			StageSelector: req.StageSelector,
		})
		api.runs.finish(requestID, func(st *RunState) {
			st.Result = res
			if err != nil {
				st.Error = err.Error()
			}
		})
		if err != nil {
			log.Error().Err(err).Str("request", requestID).Msg("async deployment run failed")
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{"requestId": requestID})
}

// GetRun reports the state of one asynchronous deployment or rollback run.
func (api *Api) GetRun(c *gin.Context) {
	st, ok := api.runs.get(c.Param("requestID"))
	if !ok {
		apiError(c, http.StatusNotFound, "NOT_FOUND", "unknown run")
		return
	}
	c.JSON(http.StatusOK, st)
}

func (api *Api) ListDeployments(c *gin.Context) {
	tier, ok := tierParam(c)
	if !ok {
		return
	}
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "20"))
	records, err := api.history.ListDeployments(c.Request.Context(), tier, limit)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"deployments": records})
}

func (api *Api) GetCurrentDeployment(c *gin.Context) {
	tier, ok := tierParam(c)
	if !ok {
		return
	}
	rec, err := api.history.GetCurrentDeployment(c.Request.Context(), tier)
	if err != nil {
		apiError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	if rec == nil {
		apiError(c, http.StatusNotFound, "NOT_FOUND", "no current deployment for "+string(tier))
		return
	}
	c.JSON(http.StatusOK, rec)
}
