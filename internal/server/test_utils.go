package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

type testCleanupRequest struct {
	Prefix string `json:"prefix"`
}

// TestCleanup deletes accounts whose payment customer reference starts with
// the given prefix, along with their dependent rows. Registered outside
// production only.
func (s *Server) TestCleanup(c *gin.Context) {
	if s.cfg.Environment == "production" {
		AbortWithError(c, ErrNotFound)
		return
	}

	var req testCleanupRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	prefix := strings.TrimSpace(req.Prefix)
	if prefix == "" {
		AbortWithError(c, newValidationError("prefix", "required", "prefix is required"))
		return
	}

	ctx := c.Request.Context()
	accountIDs, err := s.loadAccountIDsByPrefix(ctx, prefix)
	if err != nil {
		AbortWithError(c, err)
		return
	}
	if err := s.deleteAccountData(ctx, accountIDs); err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) loadAccountIDsByPrefix(ctx context.Context, prefix string) ([]int64, error) {
	like := strings.TrimSpace(prefix) + "%"
	var accountIDs []int64
	err := s.db.WithContext(ctx).
		Raw(`SELECT id FROM accounts WHERE payment_customer_id LIKE ?`, like).
		Scan(&accountIDs).Error
	if err != nil {
		return nil, err
	}
	return accountIDs, nil
}

func (s *Server) deleteAccountData(ctx context.Context, accountIDs []int64) error {
	if len(accountIDs) == 0 {
		return nil
	}

	tables := []string{
		"usage_records",
		"credit_holds",
		"jobs",
		"promo_redemptions",
		"processed_events",
		"credit_events",
		"accounts",
	}
	db := s.db.WithContext(ctx)
	for _, table := range tables {
		column := "account_id"
		if table == "accounts" {
			column = "id"
		}
		if err := db.Exec(`DELETE FROM `+table+` WHERE `+column+` IN ?`, accountIDs).Error; err != nil {
			return err
		}
	}
	return nil
}
