package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"denuncia-service/database"
	"denuncia-service/feed"
	"denuncia-service/listener"
	"denuncia-service/middleware"
	"denuncia-service/models"
	"denuncia-service/notifications"
	ws "denuncia-service/websocket"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	derivations *database.DerivationService
	store       *database.FeedStore
	listener    *listener.ChangeListener
	hub         *ws.Hub
	router      *notifications.Router
	feedOpts    feed.Options
}

// NewHandlers creates a new handlers instance
func NewHandlers(
	derivations *database.DerivationService,
	store *database.FeedStore,
	changeListener *listener.ChangeListener,
	hub *ws.Hub,
	router *notifications.Router,
	feedOpts feed.Options,
) *Handlers {
	return &Handlers{
		derivations: derivations,
		store:       store,
		listener:    changeListener,
		hub:         hub,
		router:      router,
		feedOpts:    feedOpts,
	}
}

// statusForErrorType maps operation error tags onto HTTP status codes.
func statusForErrorType(errType string) int {
	switch errType {
	case database.ErrNoAuth:
		return http.StatusUnauthorized
	case database.ErrInspectorNotFound, database.ErrNotOwner:
		return http.StatusForbidden
	case database.ErrAlreadyClosed:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func abortWithOpError(c *gin.Context, err error) {
	errType := database.TypeOf(err)
	c.JSON(statusForErrorType(errType), gin.H{
		"ok":      false,
		"type":    errType,
		"message": err.Error(),
	})
}

// ListDerivations handles GET /api/v3/derivaciones
func (h *Handlers) ListDerivations(c *gin.Context) {
	userID := middleware.GetUserIDFromContext(c)

	items, err := h.derivations.ListDerivations(c.Request.Context(), userID)
	if err != nil {
		abortWithOpError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":    true,
		"items": items,
		"count": len(items),
	})
}

// MarkInProgress handles POST /api/v3/derivaciones/atender
func (h *Handlers) MarkInProgress(c *gin.Context) {
	var req models.MarkInProgressRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "type": "BAD_REQUEST", "message": err.Error()})
		return
	}

	userID := middleware.GetUserIDFromContext(c)
	result, err := h.derivations.MarkInProgress(c.Request.Context(), userID, req.DerivacionID, req.DenunciaID)
	if err != nil {
		abortWithOpError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":              true,
		"already_started": result.AlreadyStarted,
		"case_advanced":   result.CaseAdvanced,
	})
}

// CloseWithReport handles POST /api/v3/derivaciones/cerrar
func (h *Handlers) CloseWithReport(c *gin.Context) {
	var req models.CloseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "type": "BAD_REQUEST", "message": err.Error()})
		return
	}

	userID := middleware.GetUserIDFromContext(c)
	result, err := h.derivations.CloseWithReport(c.Request.Context(), userID, req.DerivacionID, req.DenunciaID, req.Reporte)
	if err != nil {
		abortWithOpError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":             true,
		"already_closed": result.AlreadyClosed,
		"case_closed":    result.CaseClosed,
	})
}

// ListObservations handles GET /api/v3/denuncias/:id/observaciones
func (h *Handlers) ListObservations(c *gin.Context) {
	denunciaID := c.Param("id")
	if denunciaID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "type": "BAD_REQUEST", "message": "missing denuncia id"})
		return
	}

	observations, err := h.derivations.ListObservations(c.Request.Context(), denunciaID)
	if err != nil {
		abortWithOpError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":            true,
		"observaciones": observations,
		"count":         len(observations),
	})
}

// RouteNotification handles POST /api/v3/notifications/route. It resolves
// the caller's role and answers with the navigation intent, or 204 when the
// payload is dropped.
func (h *Handlers) RouteNotification(c *gin.Context) {
	var payload models.NotificationPayload
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "type": "BAD_REQUEST", "message": err.Error()})
		return
	}

	userID := middleware.GetUserIDFromContext(c)
	role := models.RoleCiudadano
	if userID != "" {
		resolved, err := h.derivations.ResolveRole(c.Request.Context(), userID)
		if err != nil {
			abortWithOpError(c, err)
			return
		}
		role = resolved
	}

	target := h.router.Route(userID, role, payload)
	if target == nil {
		c.Status(http.StatusNoContent)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"ok":     true,
		"target": target,
	})
}

// HealthCheck returns the service health status
func (h *Handlers) HealthCheck(c *gin.Context) {
	connectedClients, lastBroadcastSeq := h.hub.GetStats()

	response := models.HealthResponse{
		Status:           "healthy",
		Service:          "denuncia-service",
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		ConnectedClients: connectedClients,
		LastBroadcastSeq: lastBroadcastSeq,
	}

	c.JSON(http.StatusOK, response)
}
