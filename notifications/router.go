package notifications

import (
	"github.com/apex/log"

	"denuncia-service/models"
)

// Default target screens per notification type, used when the payload
// carries no navigation hint of its own.
const (
	ScreenDerivacionDetalle = "derivacion_detalle"
	ScreenDenunciaDetalle   = "denuncia_detalle"
)

// Router validates inbound push payloads and resolves the in-app target.
// Every check drops the payload rather than guessing: a misdelivered or
// malformed notification must never navigate across roles.
type Router struct{}

func NewRouter() *Router {
	return &Router{}
}

// Route returns the navigation target for a payload, or nil when the
// payload must be dropped. currentUserID and currentRole describe the
// authenticated session the payload arrived in.
func (r *Router) Route(currentUserID, currentRole string, p models.NotificationPayload) *models.RouteTarget {
	if currentUserID == "" {
		log.Warn("Dropping notification: no authenticated user")
		return nil
	}
	if p.DestinatarioUserID == "" {
		// Never assume the current user is the target.
		log.WithField("type", p.Type).Warn("Dropping notification: no recipient id")
		return nil
	}
	if p.DestinatarioUserID != currentUserID {
		log.WithFields(log.Fields{
			"type":      p.Type,
			"recipient": p.DestinatarioUserID,
		}).Warn("Dropping notification: recipient mismatch")
		return nil
	}
	if p.Role != "" && p.Role != currentRole {
		log.WithFields(log.Fields{
			"type":         p.Type,
			"payload_role": p.Role,
			"session_role": currentRole,
		}).Warn("Dropping notification: role mismatch")
		return nil
	}

	switch p.Type {
	case models.NotificationAssigned:
		if currentRole != models.RoleInspector {
			log.WithField("role", currentRole).Warn("Dropping assignment notification for non-inspector")
			return nil
		}
		return &models.RouteTarget{
			Screen:   screenOrDefault(p.Screen, ScreenDerivacionDetalle),
			ReportID: p.ReportID,
		}
	case models.NotificationStatusChange:
		if currentRole == models.RoleInspector {
			log.Warn("Dropping status-change notification for inspector session")
			return nil
		}
		return &models.RouteTarget{
			Screen:   screenOrDefault(p.Screen, ScreenDenunciaDetalle),
			ReportID: p.ReportID,
		}
	default:
		log.WithField("type", p.Type).Warn("Dropping notification of unknown type")
		return nil
	}
}

func screenOrDefault(screen, fallback string) string {
	if screen != "" {
		return screen
	}
	return fallback
}
