package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	jobdomain "github.com/scribeflow/creditcore/internal/job/domain"
	pricingdomain "github.com/scribeflow/creditcore/internal/pricing/domain"
)

type submitJobRequest struct {
	AccountID       string `json:"account_id"`
	Kind            string `json:"kind"`
	Title           string `json:"title"`
	SourceURL       string `json:"source_url"`
	DurationSeconds int64  `json:"duration_seconds"`
	CharacterCount  int64  `json:"character_count"`
	AddOns          []struct {
		Code  string `json:"code"`
		Count int64  `json:"count"`
	} `json:"add_ons"`
}

type jobResultRequest struct {
	Succeeded     bool   `json:"succeeded"`
	FailureReason string `json:"failure_reason"`
}

// @Summary      Submit Job
// @Description  Quote a job, reserve credits, and dispatch it to the processor
// @Tags         jobs
// @Accept       json
// @Produce      json
// @Param        request body submitJobRequest true "Submit Job Request"
// @Success      200  {object}  jobdomain.Job
// @Router       /jobs [post]
func (s *Server) SubmitJob(c *gin.Context) {
	var req submitJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	addons := make([]pricingdomain.AddOnSelection, 0, len(req.AddOns))
	for _, addon := range req.AddOns {
		addons = append(addons, pricingdomain.AddOnSelection{
			Code:  strings.TrimSpace(addon.Code),
			Count: addon.Count,
		})
	}

	job, err := s.jobSvc.Submit(c.Request.Context(), jobdomain.SubmitRequest{
		AccountID:       accountID,
		Kind:            jobdomain.JobKind(strings.TrimSpace(req.Kind)),
		Title:           strings.TrimSpace(req.Title),
		SourceURL:       strings.TrimSpace(req.SourceURL),
		DurationSeconds: req.DurationSeconds,
		CharacterCount:  req.CharacterCount,
		AddOns:          addons,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}

// @Summary      Get Job
// @Description  Get job by ID
// @Tags         jobs
// @Produce      json
// @Param        id   path      string  true  "Job ID"
// @Success      200  {object}  jobdomain.Job
// @Router       /jobs/{id} [get]
func (s *Server) GetJob(c *gin.Context) {
	jobID, err := parseJobID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	job, err := s.jobSvc.Get(c.Request.Context(), jobID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}

// @Summary      Report Job Result
// @Description  Settle a job's reservation after the processor finishes
// @Tags         jobs
// @Accept       json
// @Produce      json
// @Param        id      path  string            true  "Job ID"
// @Param        request body  jobResultRequest  true  "Job Result Request"
// @Success      200  {object}  jobdomain.Job
// @Router       /jobs/{id}/result [post]
func (s *Server) ReportJobResult(c *gin.Context) {
	jobID, err := parseJobID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var req jobResultRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	job, err := s.jobSvc.Complete(c.Request.Context(), jobID, jobdomain.Result{
		Succeeded:     req.Succeeded,
		FailureReason: strings.TrimSpace(req.FailureReason),
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": job})
}

func parseJobID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, newValidationError("id", "required", "job id is required")
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, newValidationError("id", "invalid_job_id", "invalid job id")
	}
	return id, nil
}
