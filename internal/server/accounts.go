package server

import (
	"net/http"
	"strings"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"

	usagedomain "github.com/scribeflow/creditcore/internal/usage/domain"
	"github.com/scribeflow/creditcore/pkg/db/pagination"
)

// @Summary      Get Account Balance
// @Description  Get credits, pending deductions, and available balance
// @Tags         accounts
// @Produce      json
// @Param        id   path      string  true  "Account ID"
// @Success      200  {object}  ledgerdomain.Balance
// @Router       /accounts/{id}/balance [get]
func (s *Server) GetBalance(c *gin.Context) {
	accountID, err := parseAccountID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	balance, err := s.ledgerSvc.AvailableBalance(c.Request.Context(), accountID)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": balance})
}

// @Summary      List Account Usage
// @Description  List usage records for an account, newest first
// @Tags         accounts
// @Produce      json
// @Param        id          path   string  true   "Account ID"
// @Param        page_token  query  string  false  "Page Token"
// @Param        page_size   query  int     false  "Page Size"
// @Success      200  {object}  usagedomain.ListResponse
// @Router       /accounts/{id}/usage [get]
func (s *Server) ListUsage(c *gin.Context) {
	accountID, err := parseAccountID(c.Param("id"))
	if err != nil {
		AbortWithError(c, err)
		return
	}

	var query pagination.Pagination
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	resp, err := s.usageSvc.List(c.Request.Context(), usagedomain.ListRequest{
		AccountID: accountID,
		PageToken: query.PageToken,
		PageSize:  query.PageSize,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp})
}

func parseAccountID(raw string) (snowflake.ID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, newValidationError("id", "required", "account id is required")
	}
	id, err := snowflake.ParseString(raw)
	if err != nil || id == 0 {
		return 0, newValidationError("id", "invalid_account_id", "invalid account id")
	}
	return id, nil
}
