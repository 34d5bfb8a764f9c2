package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/dkeye/proximity/internal/domain"
	"github.com/dkeye/proximity/internal/proximity"
)

// GET /api/participants is the full-state fetch clients use to resync.
func listParticipants(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"participants": svc.Registry.Snapshot()})
	}
}

func getParticipant(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := domain.ParticipantID(c.Param("id"))
		p, ok := svc.Registry.Participant(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "participant not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"participant": p, "connected": svc.Registry.HasConn(id)})
	}
}

// GET /api/clusters computes clusters from a registry snapshot.
func listClusters(svc *Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		clusters := svc.Engine.Compute(svc.Registry.Snapshot())
		if clusters == nil {
			clusters = []proximity.Cluster{}
		}
		c.JSON(http.StatusOK, gin.H{
			"threshold": svc.Engine.Threshold,
			"clusters":  clusters,
		})
	}
}
