package models

import (
	"time"
)

// Case status codes stored in denuncias.estado
const (
	EstadoPendiente = 1
	EstadoEnProceso = 2
	EstadoCerrada   = 3
)

// Denuncia represents a citizen-filed incident report
type Denuncia struct {
	ID            string     `json:"id" db:"id"`
	Folio         string     `json:"folio" db:"folio"`
	Titulo        string     `json:"titulo" db:"titulo"`
	Descripcion   string     `json:"descripcion" db:"descripcion"`
	Direccion     string     `json:"direccion" db:"direccion"`
	Latitude      float64    `json:"latitude" db:"latitude"`
	Longitude     float64    `json:"longitude" db:"longitude"`
	Estado        int        `json:"estado" db:"estado"`
	EsPublica     bool       `json:"es_publica" db:"es_publica"`
	EsAnonima     bool       `json:"es_anonima" db:"es_anonima"`
	CategoriaID   int        `json:"categoria_id" db:"categoria_id"`
	ReporterID    *string    `json:"reporter_user_id,omitempty" db:"reporter_user_id"`
	FechaCreacion time.Time  `json:"fecha_creacion" db:"fecha_creacion"`
	FechaAtencion *time.Time `json:"fecha_atencion,omitempty" db:"fecha_atencion"`
	FechaCierre   *time.Time `json:"fecha_cierre,omitempty" db:"fecha_cierre"`
}

// Derivacion links one inspector to one case for field handling.
// A case can carry several concurrent derivations.
type Derivacion struct {
	ID              string     `json:"id" db:"id"`
	DenunciaID      string     `json:"denuncia_id" db:"denuncia_id"`
	InspectorID     string     `json:"inspector_id" db:"inspector_id"`
	FechaAsignacion time.Time  `json:"fecha_asignacion" db:"fecha_asignacion"`
	FechaAtencion   *time.Time `json:"fecha_atencion,omitempty" db:"fecha_atencion"`
	FechaCompletada *time.Time `json:"fecha_completada,omitempty" db:"fecha_completada"`
}

// Inspector is the role record linked to an authenticated account
type Inspector struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`
	Nombre string `json:"nombre" db:"nombre"`
	Activo bool   `json:"activo" db:"activo"`
}

// DerivationItem is the read model an inspector sees: the derivation joined
// with its case plus the resolved display state. Recomputed on every fetch.
type DerivationItem struct {
	Derivacion   Derivacion `json:"derivacion"`
	Denuncia     Denuncia   `json:"denuncia"`
	EstadoNombre string     `json:"estado_nombre"`
}

// Observation types for denuncia_observaciones
const (
	ObservacionTerreno = "TERRENO"
)

// Observacion is an append-only audit note attached to a case
type Observacion struct {
	ID            string    `json:"id" db:"id"`
	DenunciaID    string    `json:"denuncia_id" db:"denuncia_id"`
	Tipo          string    `json:"tipo" db:"tipo"`
	Contenido     string    `json:"contenido" db:"contenido"`
	AutorID       string    `json:"autor_inspector_id" db:"autor_inspector_id"`
	FechaCreacion time.Time `json:"fecha_creacion" db:"fecha_creacion"`
}

// FeedItem is the citizen-facing projection of a public case
type FeedItem struct {
	ID            string    `json:"id"`
	Folio         string    `json:"folio"`
	Titulo        string    `json:"titulo"`
	Descripcion   string    `json:"descripcion"`
	Direccion     string    `json:"direccion"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Estado        int       `json:"estado"`
	CategoriaID   int       `json:"categoria_id"`
	FechaCreacion time.Time `json:"fecha_creacion"`
}

// Change feed event types
const (
	EventInsert = "insert"
	EventUpdate = "update"
	EventDelete = "delete"
)

// FeedEvent is one change-stream notification for a public case
type FeedEvent struct {
	Seq        int       `json:"seq"`
	Type       string    `json:"type"`
	DenunciaID string    `json:"denuncia_id"`
	Item       *FeedItem `json:"item,omitempty"`
	ChangedAt  time.Time `json:"changed_at"`
}

// FeedSnapshot is the initial payload sent to a feed session
type FeedSnapshot struct {
	Items   []FeedItem `json:"items"`
	Count   int        `json:"count"`
	HasMore bool       `json:"has_more"`
}

// BroadcastMessage wraps payloads pushed over the websocket
type BroadcastMessage struct {
	Type      string      `json:"type"`
	Data      interface{} `json:"data"`
	Timestamp time.Time   `json:"timestamp"`
}

// CloseRequest is the payload for closing a derivation with a field report
type CloseRequest struct {
	DerivacionID string `json:"derivacion_id" binding:"required"`
	DenunciaID   string `json:"denuncia_id" binding:"required"`
	Reporte      string `json:"reporte" binding:"required"`
}

// MarkInProgressRequest is the payload for starting attention on a derivation
type MarkInProgressRequest struct {
	DerivacionID string `json:"derivacion_id" binding:"required"`
	DenunciaID   string `json:"denuncia_id" binding:"required"`
}

// HealthResponse represents the health check response
type HealthResponse struct {
	Status           string `json:"status"`
	Service          string `json:"service"`
	Timestamp        string `json:"timestamp"`
	ConnectedClients int    `json:"connected_clients"`
	LastBroadcastSeq int    `json:"last_broadcast_seq"`
}
