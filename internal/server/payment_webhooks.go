package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// @Summary      Payment Webhook
// @Description  Ingest a signed payment provider event
// @Tags         payments
// @Accept       json
// @Produce      json
// @Param        provider  path  string  true  "Payment Provider"
// @Success      200  {object}  map[string]string
// @Router       /webhooks/payments/{provider} [post]
func (s *Server) HandlePaymentWebhook(c *gin.Context) {
	provider := strings.TrimSpace(c.Param("provider"))
	payload, err := io.ReadAll(c.Request.Body)
	if err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	err = s.paymentSvc.Ingest(c.Request.Context(), provider, payload, c.Request.Header)
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
