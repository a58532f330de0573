package models

// User roles the router distinguishes
const (
	RoleInspector = "inspector"
	RoleCiudadano = "ciudadano"
)

// Notification types
const (
	NotificationStatusChange = "report_status_change"
	NotificationAssigned     = "report_assigned"
)

// NotificationPayload is an inbound push-notification payload. The service
// consumes these, it never produces them.
type NotificationPayload struct {
	Type               string `json:"type"`
	ReportID           string `json:"reportId"`
	DestinatarioUserID string `json:"destinatario_user_id"`
	Role               string `json:"role,omitempty"`
	Screen             string `json:"screen,omitempty"`
}

// RouteTarget is the navigation intent a valid notification resolves to
type RouteTarget struct {
	Screen   string `json:"screen"`
	ReportID string `json:"report_id"`
}
