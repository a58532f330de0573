package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"denuncia-service/geo"
	"denuncia-service/models"
)

const feedServiceName = "feed-listener"

// FeedStore issues the public-feed queries: bounded initial fetches, the
// unfiltered fallback, and the change-feed rows the listener polls.
type FeedStore struct {
	db *sql.DB
}

// NewFeedStore creates a new feed store instance
func NewFeedStore(db *sql.DB) *FeedStore {
	return &FeedStore{db: db}
}

const feedColumns = `id, folio, titulo, descripcion, direccion, latitude, longitude, estado, categoria_id, fecha_creacion`

// changeBatchLimit caps one poll's fetch so a backlog accumulated during
// downtime drains over successive ticks instead of loading at once
const changeBatchLimit = 500

// GetPublicInBox returns public cases created after `since` inside the
// bounding box, newest first. This is the cheap server-side pre-filter;
// callers post-filter with haversine and should over-fetch.
func (s *FeedStore) GetPublicInBox(ctx context.Context, box geo.BoundingBox, since time.Time, limit int) ([]models.FeedItem, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM denuncias
		WHERE es_publica = TRUE
		  AND fecha_creacion >= ?
		  AND latitude BETWEEN ? AND ?
		  AND longitude BETWEEN ? AND ?
		ORDER BY fecha_creacion DESC
		LIMIT ?
	`, feedColumns)

	rows, err := s.db.QueryContext(ctx, query,
		since, box.MinLat, box.MaxLat, box.MinLon, box.MaxLon, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query public cases in box: %w", err)
	}
	defer rows.Close()

	return scanFeedItems(rows)
}

// GetRecentPublic is the fallback when the bounded query fails: the most
// recent public cases regardless of location.
func (s *FeedStore) GetRecentPublic(ctx context.Context, since time.Time, limit int) ([]models.FeedItem, error) {
	query := fmt.Sprintf(`
		SELECT %s
		FROM denuncias
		WHERE es_publica = TRUE AND fecha_creacion >= ?
		ORDER BY fecha_creacion DESC
		LIMIT ?
	`, feedColumns)

	rows, err := s.db.QueryContext(ctx, query, since, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent public cases: %w", err)
	}
	defer rows.Close()

	return scanFeedItems(rows)
}

// GetChangesSince returns change-feed events after the given sequence,
// oldest first, at most changeBatchLimit rows per call. The joined row
// state is only present for public cases;
// a change that made a case private or removed it surfaces as a delete.
func (s *FeedStore) GetChangesSince(ctx context.Context, sinceSeq int) ([]models.FeedEvent, error) {
	query := `
		SELECT c.change_seq, c.change_type, c.denuncia_id, c.changed_at,
		       n.id, n.folio, n.titulo, n.descripcion, n.direccion,
		       n.latitude, n.longitude, n.estado, n.categoria_id, n.fecha_creacion,
		       COALESCE(n.es_publica, FALSE)
		FROM denuncia_changes c
		LEFT JOIN denuncias n ON c.denuncia_id = n.id
		WHERE c.change_seq > ?
		ORDER BY c.change_seq ASC
		LIMIT ?
	`

	rows, err := s.db.QueryContext(ctx, query, sinceSeq, changeBatchLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query changes: %w", err)
	}
	defer rows.Close()

	var events []models.FeedEvent
	for rows.Next() {
		var ev models.FeedEvent
		var item models.FeedItem
		var id, folio, titulo, descripcion, direccion sql.NullString
		var latitude, longitude sql.NullFloat64
		var estado, categoria sql.NullInt64
		var creacion sql.NullTime
		var esPublica bool

		err := rows.Scan(&ev.Seq, &ev.Type, &ev.DenunciaID, &ev.ChangedAt,
			&id, &folio, &titulo, &descripcion, &direccion,
			&latitude, &longitude, &estado, &categoria, &creacion, &esPublica)
		if err != nil {
			return nil, fmt.Errorf("failed to scan change: %w", err)
		}

		switch {
		case ev.Type == models.EventDelete || !id.Valid || !esPublica:
			// Row gone or no longer visible: normalize to a delete
			ev.Type = models.EventDelete
			ev.Item = nil
		default:
			item.ID = id.String
			item.Folio = folio.String
			item.Titulo = titulo.String
			item.Descripcion = descripcion.String
			item.Direccion = direccion.String
			item.Latitude = latitude.Float64
			item.Longitude = longitude.Float64
			item.Estado = int(estado.Int64)
			item.CategoriaID = int(categoria.Int64)
			item.FechaCreacion = creacion.Time
			ev.Item = &item
		}

		events = append(events, ev)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating changes: %w", err)
	}

	return events, nil
}

// GetLatestChangeSeq returns the newest change sequence number
func (s *FeedStore) GetLatestChangeSeq(ctx context.Context) (int, error) {
	var seq int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(change_seq), 0) FROM denuncia_changes").Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("failed to get latest change seq: %w", err)
	}
	return seq, nil
}

// GetLastProcessedSeq retrieves the poller checkpoint from persistent storage
func (s *FeedStore) GetLastProcessedSeq(ctx context.Context) (int, error) {
	var seq int
	err := s.db.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(last_processed_seq), 0) FROM service_state WHERE service_name = ?",
		feedServiceName).Scan(&seq)
	if err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get last processed seq: %w", err)
	}
	return seq, nil
}

// UpdateLastProcessedSeq persists the poller checkpoint
func (s *FeedStore) UpdateLastProcessedSeq(ctx context.Context, seq int) error {
	query := `
		INSERT INTO service_state (service_name, last_processed_seq, updated_at)
		VALUES (?, ?, NOW())
		ON DUPLICATE KEY UPDATE
			last_processed_seq = VALUES(last_processed_seq),
			updated_at = NOW()
	`
	if _, err := s.db.ExecContext(ctx, query, feedServiceName, seq); err != nil {
		return fmt.Errorf("failed to update last processed seq: %w", err)
	}
	return nil
}

func scanFeedItems(rows *sql.Rows) ([]models.FeedItem, error) {
	var items []models.FeedItem
	for rows.Next() {
		var item models.FeedItem
		var descripcion, direccion sql.NullString
		err := rows.Scan(&item.ID, &item.Folio, &item.Titulo, &descripcion, &direccion,
			&item.Latitude, &item.Longitude, &item.Estado, &item.CategoriaID, &item.FechaCreacion)
		if err != nil {
			return nil, fmt.Errorf("failed to scan feed item: %w", err)
		}
		item.Descripcion = descripcion.String
		item.Direccion = direccion.String
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating feed items: %w", err)
	}
	return items, nil
}
