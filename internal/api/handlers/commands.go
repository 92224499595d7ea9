// Package handlers implements the admin/ingress HTTP surface: command
// submission and lookup, the type catalog, and health probes.
package handlers

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"loomworks.io/loom/internal/api/middleware"
	"loomworks.io/loom/internal/commandstore"
	"loomworks.io/loom/internal/domain"
	apperrors "loomworks.io/loom/internal/pkg/errors"
	"loomworks.io/loom/internal/registry"
)

// Dispatcher is the routing entry point the API submits commands to.
type Dispatcher interface {
	DispatchCommand(ctx context.Context, cmd domain.Command) domain.DispatchResult
}

// Server holds the API's collaborators.
type Server struct {
	dispatcher Dispatcher
	commands   commandstore.Store
	registry   *registry.Registry
	ready      func(ctx context.Context) error
}

// NewServer wires the handler set. ready reports backend readiness; nil
// means always ready.
func NewServer(d Dispatcher, commands commandstore.Store, reg *registry.Registry, ready func(ctx context.Context) error) *Server {
	return &Server{dispatcher: d, commands: commands, registry: reg, ready: ready}
}

type submitCommandRequest struct {
	TenantID string         `json:"tenantId" binding:"required"`
	Type     string         `json:"type" binding:"required"`
	Payload  domain.Payload `json:"payload"`
}

// SubmitCommand handles POST /api/v1/commands: build the command envelope,
// stamp metadata from the authenticated context, and dispatch synchronously.
func (s *Server) SubmitCommand(c *gin.Context) {
	var req submitCommandRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    apperrors.CodeSchemaInvalid,
			"message": "invalid request body: " + err.Error(),
		})
		return
	}
	tenantID, err := uuid.Parse(req.TenantID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    apperrors.CodeSchemaInvalid,
			"message": "tenantId must be a UUID",
		})
		return
	}

	ctx := c.Request.Context()
	meta := domain.Metadata{
		UserID:    middleware.GetUserID(ctx),
		Role:      middleware.GetRole(ctx),
		RequestID: middleware.GetRequestID(ctx),
		Source:    "api",
		Timestamp: time.Now().UTC(),
	}
	cmd, err := domain.NewCommand(tenantID, req.Type, req.Payload, meta)
	if err != nil {
		_ = c.Error(err)
		return
	}

	result := s.dispatcher.DispatchCommand(ctx, cmd)
	if result.Status == domain.DispatchFail {
		c.JSON(middleware.HTTPStatus(result.Error), gin.H{
			"status":    string(result.Status),
			"commandId": cmd.ID.String(),
			"error":     middleware.RenderError(result.Error),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":    string(result.Status),
		"commandId": cmd.ID.String(),
		"events":    result.Events,
	})
}

// GetCommand handles GET /api/v1/commands/:id.
func (s *Server) GetCommand(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"code":    apperrors.CodeSchemaInvalid,
			"message": "command id must be a UUID",
		})
		return
	}
	rec, err := s.commands.GetByID(c.Request.Context(), id)
	if err != nil {
		if de, ok := apperrors.AsDomainError(err); ok && de.Code == apperrors.CodeCommandNotFound {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    de.Code,
				"message": de.Message,
			})
			return
		}
		_ = c.Error(err)
		return
	}
	c.JSON(http.StatusOK, renderRecord(rec))
}

// ListCommands handles GET /api/v1/commands with filter query parameters.
func (s *Server) ListCommands(c *gin.Context) {
	filter := commandstore.Filter{
		Type:   c.Query("type"),
		Status: domain.CommandStatus(c.Query("status")),
		Limit:  50,
	}
	if v := c.Query("tenantId"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    apperrors.CodeSchemaInvalid,
				"message": "tenantId must be a UUID",
			})
			return
		}
		filter.TenantID = id
	}
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 500 {
			filter.Limit = n
		}
	}

	records, err := s.commands.Query(c.Request.Context(), filter)
	if err != nil {
		_ = c.Error(err)
		return
	}
	out := make([]gin.H, 0, len(records))
	for i := range records {
		out = append(out, renderRecord(&records[i]))
	}
	c.JSON(http.StatusOK, gin.H{"commands": out})
}

func renderRecord(rec *commandstore.Record) gin.H {
	body := gin.H{
		"id":        rec.Command.ID.String(),
		"tenantId":  rec.Command.TenantID.String(),
		"type":      rec.Command.Type,
		"payload":   rec.Command.Payload,
		"metadata":  rec.Command.Metadata,
		"status":    string(rec.Command.Status),
		"createdAt": rec.CreatedAt,
		"updatedAt": rec.UpdatedAt,
	}
	if rec.Result != nil {
		body["result"] = rec.Result
	}
	return body
}
