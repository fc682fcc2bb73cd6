package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// SetupRouter configures the admin API. Every sync endpoint sits behind the
// data_management.sync capability check.
func SetupRouter(h *Handler, validator SessionValidator, logger *logrus.Logger) *gin.Engine {
	r := gin.Default()

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	v1 := r.Group("/api/v1")
	sync := v1.Group("/sync")
	sync.Use(RequireCapability(validator, CapabilitySync, logger))
	{
		sync.POST("/trigger/:task", h.TriggerSync)

		sync.GET("/runs", h.ListRuns)
		sync.GET("/runs/:id", h.GetRun)

		sync.GET("/tasks", h.ListTasks)
		sync.PATCH("/tasks/:name", h.UpdateTask)

		sync.GET("/failures", h.ListFailures)
		sync.POST("/failures/:id/resolve", h.ResolveFailure)
	}

	return r
}
