package dashboard

import (
	"net/http"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// registerRoutes sets up all admin routes on the Gin router.
func registerRoutes(router *gin.Engine, opts StartOpts) {
	router.GET("/healthz", handleHealth())

	api := router.Group("/api")
	api.GET("/costs", handleCosts(opts.Queries))
	api.GET("/costs/stream", handleCostStream(opts.Queries, opts.PollInterval))
	api.GET("/blocks", handleBlocks(opts.Queries))
	api.GET("/users/:id/spend", handleSpend(opts.Queries, opts.SpendWindow))
}

func handleHealth() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

func handleCosts(q Queries) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := costReport(c.Request.Context(), q)
		if err != nil {
			serverError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

func handleBlocks(q Queries) gin.HandlerFunc {
	return func(c *gin.Context) {
		rows, err := blockRows(c.Request.Context(), q)
		if err != nil {
			serverError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"blocked": rows})
	}
}

// handleSpend reports a user's spend over ?window= (a Go duration),
// defaulting to the selector's window.
func handleSpend(q Queries, defaultWindow time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := snowflake.ParseString(c.Param("id"))
		if err != nil || id <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user id"})
			return
		}
		window := defaultWindow
		if raw := c.Query("window"); raw != "" {
			window, err = time.ParseDuration(raw)
			if err != nil || window <= 0 {
				c.JSON(http.StatusBadRequest, gin.H{"error": "invalid window"})
				return
			}
		}

		to := time.Now()
		from := to.Add(-window)
		total, err := q.TrailingSpend(c.Request.Context(), id.String(), from, to)
		if err != nil {
			serverError(c, err)
			return
		}
		c.JSON(http.StatusOK, SpendReport{UserID: id.String(), From: from, To: to, Total: total})
	}
}

// serverError logs err and answers with a generic 500.
func serverError(c *gin.Context, err error) {
	log.Error().Err(err).Str("path", c.FullPath()).Msg("dashboard: query failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
}
