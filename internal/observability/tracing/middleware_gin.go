package tracing

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// GinMiddleware creates spans for incoming HTTP requests.
func GinMiddleware() gin.HandlerFunc {
	return otelgin.Middleware("creditcore")
}
