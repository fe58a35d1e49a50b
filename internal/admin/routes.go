package admin

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func (a *Admin) registerRoutes() {
	a.router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"uptime":  time.Since(a.Started).String(),
			"node":    a.ID,
			"version": Version,
		})
	})

	a.router.GET("/ready", func(c *gin.Context) {
		steps, updated := a.board.Steps()
		status := http.StatusOK
		if steps == 0 {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{
			"ready":        steps > 0,
			"steps":        steps,
			"last_step_at": updated,
		})
	})

	a.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.router.GET("/clients", func(c *gin.Context) {
		clients := a.board.Clients()
		c.JSON(http.StatusOK, gin.H{
			"count":   len(clients),
			"clients": clients,
		})
	})

	a.router.GET("/clients/:id", func(c *gin.Context) {
		client, ok := a.board.Client(c.Param("id"))
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "client not found"})
			return
		}
		c.JSON(http.StatusOK, client)
	})
}
