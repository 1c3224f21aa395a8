package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/inboxpilot/mailagent/interfaces"
)

func HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Status reports per-account watcher state.
func Status(watcherService interfaces.WatcherService) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"watchers": watcherService.Status()})
	}
}
