package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type redeemPromoRequest struct {
	AccountID string `json:"account_id"`
	Code      string `json:"code"`
}

// @Summary      Redeem Promo Code
// @Description  Redeem a promo code for an account
// @Tags         promo
// @Accept       json
// @Produce      json
// @Param        request body redeemPromoRequest true "Redeem Promo Request"
// @Success      200  {object}  promodomain.Redemption
// @Router       /promo/redeem [post]
func (s *Server) RedeemPromo(c *gin.Context) {
	var req redeemPromoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	accountID, err := parseAccountID(req.AccountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	redemption, err := s.promoSvc.Redeem(c.Request.Context(), accountID, strings.TrimSpace(req.Code))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": redemption})
}
