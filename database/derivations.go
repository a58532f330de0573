package database

import (
	"context"
	"database/sql"
	"fmt"

	"denuncia-service/models"

	"github.com/apex/log"
	"github.com/google/uuid"
)

// DerivationService implements the case-lifecycle operations available to an
// inspector. Every operation follows the same protocol: resolve the caller's
// inspector record from the authenticated user id, verify ownership of the
// touched derivation, mutate, then re-derive the cascade condition from
// fresh reads. Mutations spanning the derivation and its case are two
// independent writes; the cascade check is idempotent so a failed second
// write heals on the next call.
type DerivationService struct {
	db *sql.DB
}

// NewDerivationService creates a new derivation service instance
func NewDerivationService(db *sql.DB) *DerivationService {
	return &DerivationService{db: db}
}

// MarkResult reports what MarkInProgress actually wrote
type MarkResult struct {
	AlreadyStarted bool `json:"already_started"`
	CaseAdvanced   bool `json:"case_advanced"`
}

// CloseResult reports what CloseWithReport actually wrote
type CloseResult struct {
	AlreadyClosed bool `json:"already_closed"`
	CaseClosed    bool `json:"case_closed"`
}

// ListDerivations returns the caller's derivations joined with their cases,
// newest assignment first, each carrying the resolved display state.
func (s *DerivationService) ListDerivations(ctx context.Context, userID string) ([]models.DerivationItem, error) {
	inspector, err := s.resolveInspector(ctx, userID)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT
			d.id, d.denuncia_id, d.inspector_id, d.fecha_asignacion, d.fecha_atencion, d.fecha_completada,
			n.id, n.folio, n.titulo, n.descripcion, n.direccion, n.latitude, n.longitude,
			n.estado, n.es_publica, n.es_anonima, n.categoria_id, n.reporter_user_id,
			n.fecha_creacion, n.fecha_atencion, n.fecha_cierre
		FROM derivaciones d
		INNER JOIN denuncias n ON d.denuncia_id = n.id
		WHERE d.inspector_id = ?
		ORDER BY d.fecha_asignacion DESC
	`

	rows, err := s.db.QueryContext(ctx, query, inspector.ID)
	if err != nil {
		return nil, opError(ErrDB, fmt.Errorf("failed to query derivations: %w", err))
	}
	defer rows.Close()

	var items []models.DerivationItem
	for rows.Next() {
		var item models.DerivationItem
		var descripcion, direccion, reporterID sql.NullString
		err := rows.Scan(
			&item.Derivacion.ID,
			&item.Derivacion.DenunciaID,
			&item.Derivacion.InspectorID,
			&item.Derivacion.FechaAsignacion,
			&item.Derivacion.FechaAtencion,
			&item.Derivacion.FechaCompletada,
			&item.Denuncia.ID,
			&item.Denuncia.Folio,
			&item.Denuncia.Titulo,
			&descripcion,
			&direccion,
			&item.Denuncia.Latitude,
			&item.Denuncia.Longitude,
			&item.Denuncia.Estado,
			&item.Denuncia.EsPublica,
			&item.Denuncia.EsAnonima,
			&item.Denuncia.CategoriaID,
			&reporterID,
			&item.Denuncia.FechaCreacion,
			&item.Denuncia.FechaAtencion,
			&item.Denuncia.FechaCierre,
		)
		if err != nil {
			return nil, opError(ErrDB, fmt.Errorf("failed to scan derivation: %w", err))
		}
		item.Denuncia.Descripcion = descripcion.String
		item.Denuncia.Direccion = direccion.String
		if reporterID.Valid {
			item.Denuncia.ReporterID = &reporterID.String
		}
		item.EstadoNombre = models.ResolveState(&item.Denuncia.Estado, item.Derivacion.FechaCompletada)
		items = append(items, item)
	}

	if err = rows.Err(); err != nil {
		return nil, opError(ErrDB, fmt.Errorf("error iterating derivations: %w", err))
	}

	return items, nil
}

// MarkInProgress records that the inspector started attention on a
// derivation. Idempotent on the attention timestamp. If the case is still
// pending it gets advanced to in-progress with a backfilled attention
// timestamp, compensating for deployments where no trigger fired.
func (s *DerivationService) MarkInProgress(ctx context.Context, userID, derivacionID, denunciaID string) (*MarkResult, error) {
	inspector, err := s.resolveInspector(ctx, userID)
	if err != nil {
		return nil, err
	}

	derivacion, err := s.fetchOwnedDerivacion(ctx, derivacionID, denunciaID, inspector.ID)
	if err != nil {
		return nil, err
	}

	if derivacion.FechaCompletada != nil {
		return nil, opErrorf(ErrAlreadyClosed, "derivacion %s is already closed", derivacionID)
	}

	result := &MarkResult{AlreadyStarted: derivacion.FechaAtencion != nil}

	if derivacion.FechaAtencion == nil {
		_, err := s.db.ExecContext(ctx,
			"UPDATE derivaciones SET fecha_atencion = NOW() WHERE id = ? AND fecha_atencion IS NULL",
			derivacionID)
		if err != nil {
			return nil, opError(ErrDB, fmt.Errorf("failed to set attention timestamp: %w", err))
		}
	}

	var estado int
	var fechaAtencion sql.NullTime
	err = s.db.QueryRowContext(ctx,
		"SELECT estado, fecha_atencion FROM denuncias WHERE id = ?",
		denunciaID).Scan(&estado, &fechaAtencion)
	if err != nil {
		return nil, opError(ErrCaseUpdateFailed, fmt.Errorf("failed to read case after derivation update: %w", err))
	}

	if estado == models.EstadoPendiente {
		_, err := s.db.ExecContext(ctx, `
			UPDATE denuncias
			SET estado = ?, fecha_atencion = COALESCE(fecha_atencion, NOW())
			WHERE id = ? AND estado = ?
		`, models.EstadoEnProceso, denunciaID, models.EstadoPendiente)
		if err != nil {
			// The derivation write already landed; the caller sees a
			// distinct error type so it can retry just the case side.
			return nil, opError(ErrCaseUpdateFailed, fmt.Errorf("failed to advance case: %w", err))
		}
		result.CaseAdvanced = true
		s.recordChange(ctx, denunciaID, models.EventUpdate)
	}

	return result, nil
}

// CloseWithReport closes the caller's derivation with a field report. The
// close itself is idempotent: a repeat call inserts no second observation
// and leaves the completion timestamp untouched. The cascade check runs on
// every call so a previously missed case close heals here.
func (s *DerivationService) CloseWithReport(ctx context.Context, userID, derivacionID, denunciaID, reporte string) (*CloseResult, error) {
	inspector, err := s.resolveInspector(ctx, userID)
	if err != nil {
		return nil, err
	}

	derivacion, err := s.fetchOwnedDerivacion(ctx, derivacionID, denunciaID, inspector.ID)
	if err != nil {
		return nil, err
	}

	result := &CloseResult{AlreadyClosed: derivacion.FechaCompletada != nil}

	if !result.AlreadyClosed {
		_, err := s.db.ExecContext(ctx, `
			INSERT INTO denuncia_observaciones (id, denuncia_id, tipo, contenido, autor_inspector_id)
			VALUES (?, ?, ?, ?, ?)
		`, uuid.NewString(), denunciaID, models.ObservacionTerreno, reporte, inspector.ID)
		if err != nil {
			return nil, opError(ErrDB, fmt.Errorf("failed to insert observation: %w", err))
		}

		_, err = s.db.ExecContext(ctx,
			"UPDATE derivaciones SET fecha_completada = NOW() WHERE id = ? AND fecha_completada IS NULL",
			derivacionID)
		if err != nil {
			return nil, opError(ErrDB, fmt.Errorf("failed to set completion timestamp: %w", err))
		}
	}

	caseClosed, err := s.cascadeClose(ctx, denunciaID)
	if err != nil {
		return nil, err
	}
	result.CaseClosed = caseClosed

	return result, nil
}

// ListObservations returns the audit trail of a case, oldest first
func (s *DerivationService) ListObservations(ctx context.Context, denunciaID string) ([]models.Observacion, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, denuncia_id, tipo, contenido, autor_inspector_id, fecha_creacion
		FROM denuncia_observaciones
		WHERE denuncia_id = ?
		ORDER BY fecha_creacion ASC
	`, denunciaID)
	if err != nil {
		return nil, opError(ErrDB, fmt.Errorf("failed to query observations: %w", err))
	}
	defer rows.Close()

	var observaciones []models.Observacion
	for rows.Next() {
		var o models.Observacion
		if err := rows.Scan(&o.ID, &o.DenunciaID, &o.Tipo, &o.Contenido, &o.AutorID, &o.FechaCreacion); err != nil {
			return nil, opError(ErrDB, fmt.Errorf("failed to scan observation: %w", err))
		}
		observaciones = append(observaciones, o)
	}
	if err = rows.Err(); err != nil {
		return nil, opError(ErrDB, fmt.Errorf("error iterating observations: %w", err))
	}

	return observaciones, nil
}

// ResolveRole reports whether the authenticated user is a registered
// inspector. Used by the notification router for role matching.
func (s *DerivationService) ResolveRole(ctx context.Context, userID string) (string, error) {
	if userID == "" {
		return "", opErrorf(ErrNoAuth, "no authenticated user")
	}
	var id string
	err := s.db.QueryRowContext(ctx,
		"SELECT id FROM inspectores WHERE user_id = ? AND activo = TRUE", userID).Scan(&id)
	if err == sql.ErrNoRows {
		return models.RoleCiudadano, nil
	}
	if err != nil {
		return "", opError(ErrDB, fmt.Errorf("failed to resolve role: %w", err))
	}
	return models.RoleInspector, nil
}

// resolveInspector maps the authenticated user id to its inspector record
func (s *DerivationService) resolveInspector(ctx context.Context, userID string) (*models.Inspector, error) {
	if userID == "" {
		return nil, opErrorf(ErrNoAuth, "no authenticated user")
	}

	var inspector models.Inspector
	err := s.db.QueryRowContext(ctx,
		"SELECT id, user_id, nombre, activo FROM inspectores WHERE user_id = ? AND activo = TRUE",
		userID).Scan(&inspector.ID, &inspector.UserID, &inspector.Nombre, &inspector.Activo)
	if err == sql.ErrNoRows {
		return nil, opErrorf(ErrInspectorNotFound, "user %s has no inspector record", userID)
	}
	if err != nil {
		return nil, opError(ErrDB, fmt.Errorf("failed to resolve inspector: %w", err))
	}

	return &inspector, nil
}

// fetchOwnedDerivacion fetches by the (id, denuncia_id) composite and checks
// the row belongs to the caller. The inspector id is always the resolved
// caller's, never a client-supplied one.
func (s *DerivationService) fetchOwnedDerivacion(ctx context.Context, derivacionID, denunciaID, inspectorID string) (*models.Derivacion, error) {
	var d models.Derivacion
	err := s.db.QueryRowContext(ctx, `
		SELECT id, denuncia_id, inspector_id, fecha_asignacion, fecha_atencion, fecha_completada
		FROM derivaciones
		WHERE id = ? AND denuncia_id = ?
	`, derivacionID, denunciaID).Scan(
		&d.ID, &d.DenunciaID, &d.InspectorID, &d.FechaAsignacion, &d.FechaAtencion, &d.FechaCompletada)
	if err == sql.ErrNoRows {
		return nil, opErrorf(ErrNotOwner, "derivacion %s not found for case %s", derivacionID, denunciaID)
	}
	if err != nil {
		return nil, opError(ErrDB, fmt.Errorf("failed to fetch derivacion: %w", err))
	}

	if d.InspectorID != inspectorID {
		log.WithFields(log.Fields{
			"derivacion": derivacionID,
			"inspector":  inspectorID,
		}).Warn("Ownership check failed")
		return nil, opErrorf(ErrNotOwner, "derivacion %s belongs to another inspector", derivacionID)
	}

	return &d, nil
}

// cascadeClose closes the case iff every derivation is completed. It always
// re-reads the counts so concurrent closers converge without locking.
func (s *DerivationService) cascadeClose(ctx context.Context, denunciaID string) (bool, error) {
	var total, completadas int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*), COUNT(fecha_completada) FROM derivaciones WHERE denuncia_id = ?",
		denunciaID).Scan(&total, &completadas)
	if err != nil {
		return false, opError(ErrDB, fmt.Errorf("failed to count derivations: %w", err))
	}

	if total == 0 || completadas < total {
		return false, nil
	}

	var estado int
	var fechaCierre sql.NullTime
	err = s.db.QueryRowContext(ctx,
		"SELECT estado, fecha_cierre FROM denuncias WHERE id = ?",
		denunciaID).Scan(&estado, &fechaCierre)
	if err != nil {
		return false, opError(ErrDB, fmt.Errorf("failed to read case for cascade: %w", err))
	}

	if estado == models.EstadoCerrada || fechaCierre.Valid {
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
		UPDATE denuncias
		SET estado = ?, fecha_cierre = NOW()
		WHERE id = ? AND estado <> ? AND fecha_cierre IS NULL
	`, models.EstadoCerrada, denunciaID, models.EstadoCerrada)
	if err != nil {
		return false, opError(ErrCaseUpdateFailed, fmt.Errorf("failed to close case: %w", err))
	}

	s.recordChange(ctx, denunciaID, models.EventUpdate)
	log.Infof("Case %s closed by cascade", denunciaID)
	return true, nil
}

// recordChange appends a change-feed row for the public feed poller.
// Best effort: the mutation already committed, a missed row only delays the
// feed until the next change.
func (s *DerivationService) recordChange(ctx context.Context, denunciaID, changeType string) {
	_, err := s.db.ExecContext(ctx,
		"INSERT INTO denuncia_changes (denuncia_id, change_type) VALUES (?, ?)",
		denunciaID, changeType)
	if err != nil {
		log.WithError(err).Warnf("Failed to record %s change for case %s", changeType, denunciaID)
	}
}
