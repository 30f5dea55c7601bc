package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"chat-plugin/internal/middleware"
	"chat-plugin/internal/telemetry"
)

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router gin.IRouter, emitter *telemetry.AuditEmitter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured", "reason": ""})
			return
		}
		requestIDFromContext(c)
		emitter.Emit(c.Request.Context(), telemetry.AuditEvent{
			Action:  "audit_test",
			ActorID: c.GetInt(middleware.UserIDKey),
			Detail:  "debug audit test",
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
}
