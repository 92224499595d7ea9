package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// ListCommandTypes handles GET /api/v1/catalog/commands.
func (s *Server) ListCommandTypes(c *gin.Context) {
	metas := s.registry.AllCommandTypes()
	out := make([]gin.H, 0, len(metas))
	for _, m := range metas {
		entry := gin.H{
			"type":        m.Type,
			"domain":      m.Domain,
			"description": m.Description,
		}
		if m.Routing != nil {
			entry["aggregateType"] = m.Routing.AggregateType
		}
		if m.PayloadSchema != nil {
			entry["payloadSchema"] = m.PayloadSchema
		}
		out = append(out, entry)
	}
	c.JSON(http.StatusOK, gin.H{"commands": out})
}

// ListEventTypes handles GET /api/v1/catalog/events.
func (s *Server) ListEventTypes(c *gin.Context) {
	metas := s.registry.AllEventTypes()
	out := make([]gin.H, 0, len(metas))
	for _, m := range metas {
		out = append(out, gin.H{
			"type":        m.Type,
			"domain":      m.Domain,
			"description": m.Description,
		})
	}
	c.JSON(http.StatusOK, gin.H{"events": out})
}

// ListDomains handles GET /api/v1/catalog/domains.
func (s *Server) ListDomains(c *gin.Context) {
	infos := s.registry.AllDomains()
	out := make([]gin.H, 0, len(infos))
	for _, d := range infos {
		out = append(out, gin.H{
			"name":        d.Name,
			"description": d.Description,
			"roles":       s.registry.Roles(d.Name),
		})
	}
	c.JSON(http.StatusOK, gin.H{"domains": out})
}
