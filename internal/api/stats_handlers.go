package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
)

// handleStats handles GET /api/v1/stats
func (s *Server) handleStats(c *gin.Context) {
	counts, err := s.store.CountBuildsByStatus()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get build statistics"})
		return
	}

	total := 0
	for _, n := range counts {
		total += n
	}

	c.JSON(http.StatusOK, gin.H{"total": total, "by_status": counts})
}

// maxStatsDays caps the builds-per-day window
const maxStatsDays = 365

// handleBuildsPerDay handles GET /api/v1/builds-per-day
func (s *Server) handleBuildsPerDay(c *gin.Context) {
	days := 30 // default
	if d := c.Query("days"); d != "" {
		n, err := strconv.Atoi(d)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "days must be a positive integer"})
			return
		}
		days = min(n, maxStatsDays)
	}

	stats, err := s.store.GetBuildStatsPerDay(days)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to get builds per day"})
		return
	}

	c.JSON(http.StatusOK, stats)
}
