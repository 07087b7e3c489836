package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	accountdomain "github.com/scribeflow/creditcore/internal/account/domain"
	pricingdomain "github.com/scribeflow/creditcore/internal/pricing/domain"
)

type estimateRequest struct {
	Plan            string `json:"plan"`
	DurationSeconds int64  `json:"duration_seconds"`
	CharacterCount  int64  `json:"character_count"`
	AddOns          []struct {
		Code  string `json:"code"`
		Count int64  `json:"count"`
	} `json:"add_ons"`
}

// @Summary      Estimate Job Cost
// @Description  Quote a job without reserving credits
// @Tags         pricing
// @Accept       json
// @Produce      json
// @Param        request body estimateRequest true "Estimate Request"
// @Success      200  {object}  pricingdomain.Quote
// @Router       /estimate [post]
func (s *Server) Estimate(c *gin.Context) {
	var req estimateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	plan, err := accountdomain.ParsePlanTier(req.Plan)
	if err != nil {
		AbortWithError(c, newValidationError("plan", "invalid_plan", "unknown plan tier"))
		return
	}

	addons := make([]pricingdomain.AddOnSelection, 0, len(req.AddOns))
	for _, addon := range req.AddOns {
		addons = append(addons, pricingdomain.AddOnSelection{
			Code:  strings.TrimSpace(addon.Code),
			Count: addon.Count,
		})
	}

	quote, err := s.pricingSvc.Estimate(plan, pricingdomain.UsageDescriptor{
		DurationSeconds: req.DurationSeconds,
		CharacterCount:  req.CharacterCount,
	}, addons)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": quote})
}
