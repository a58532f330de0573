package models

import "time"

// Display states shown to an inspector for one derivation
const (
	EstadoNombrePendiente   = "PENDIENTE"
	EstadoNombreEnProceso   = "EN_PROCESO"
	EstadoNombreCerrada     = "CERRADA"
	EstadoNombreDesconocido = "DESCONOCIDO"
)

// ResolveState maps a case's global status plus the derivation's own
// completion timestamp to the state displayed to the assigned inspector.
// A completed derivation is CERRADA for that inspector even while the case
// stays EN_PROCESO globally because other inspectors are still working it.
func ResolveState(estado *int, fechaCompletada *time.Time) string {
	if fechaCompletada != nil {
		return EstadoNombreCerrada
	}
	if estado == nil {
		return EstadoNombreDesconocido
	}
	switch *estado {
	case EstadoPendiente:
		return EstadoNombrePendiente
	case EstadoEnProceso:
		return EstadoNombreEnProceso
	case EstadoCerrada:
		return EstadoNombreCerrada
	default:
		return EstadoNombreDesconocido
	}
}
