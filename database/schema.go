package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/apex/log"
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS inspectores (
		id CHAR(36) NOT NULL,
		user_id VARCHAR(255) NOT NULL,
		nombre VARCHAR(255) NOT NULL,
		activo BOOLEAN NOT NULL DEFAULT TRUE,
		PRIMARY KEY (id),
		UNIQUE INDEX user_id_unique (user_id)
	)`,
	`CREATE TABLE IF NOT EXISTS denuncias (
		id CHAR(36) NOT NULL,
		folio VARCHAR(32) NOT NULL,
		titulo VARCHAR(255) NOT NULL,
		descripcion TEXT,
		direccion VARCHAR(255),
		latitude DOUBLE NOT NULL,
		longitude DOUBLE NOT NULL,
		estado TINYINT NOT NULL DEFAULT 1,
		es_publica BOOLEAN NOT NULL DEFAULT FALSE,
		es_anonima BOOLEAN NOT NULL DEFAULT FALSE,
		categoria_id INT NOT NULL DEFAULT 0,
		reporter_user_id VARCHAR(255),
		fecha_creacion TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		fecha_atencion TIMESTAMP NULL,
		fecha_cierre TIMESTAMP NULL,
		PRIMARY KEY (id),
		UNIQUE INDEX folio_unique (folio),
		INDEX estado_index (estado),
		INDEX publica_index (es_publica),
		INDEX latitude_index (latitude),
		INDEX longitude_index (longitude),
		INDEX creacion_index (fecha_creacion)
	)`,
	`CREATE TABLE IF NOT EXISTS derivaciones (
		id CHAR(36) NOT NULL,
		denuncia_id CHAR(36) NOT NULL,
		inspector_id CHAR(36) NOT NULL,
		fecha_asignacion TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		fecha_atencion TIMESTAMP NULL,
		fecha_completada TIMESTAMP NULL,
		PRIMARY KEY (id),
		INDEX denuncia_index (denuncia_id),
		INDEX inspector_index (inspector_id),
		FOREIGN KEY (denuncia_id) REFERENCES denuncias(id) ON DELETE CASCADE,
		FOREIGN KEY (inspector_id) REFERENCES inspectores(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS denuncia_observaciones (
		id CHAR(36) NOT NULL,
		denuncia_id CHAR(36) NOT NULL,
		tipo VARCHAR(32) NOT NULL,
		contenido TEXT NOT NULL,
		autor_inspector_id CHAR(36) NOT NULL,
		fecha_creacion TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (id),
		INDEX denuncia_index (denuncia_id),
		FOREIGN KEY (denuncia_id) REFERENCES denuncias(id) ON DELETE CASCADE
	)`,
	`CREATE TABLE IF NOT EXISTS denuncia_changes (
		change_seq INT NOT NULL AUTO_INCREMENT,
		denuncia_id CHAR(36) NOT NULL,
		change_type ENUM('insert', 'update', 'delete') NOT NULL,
		changed_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (change_seq),
		INDEX denuncia_index (denuncia_id)
	)`,
	`CREATE TABLE IF NOT EXISTS service_state (
		service_name VARCHAR(100) NOT NULL,
		last_processed_seq INT NOT NULL DEFAULT 0,
		created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP ON UPDATE CURRENT_TIMESTAMP,
		PRIMARY KEY (service_name)
	)`,
}

// EnsureSchema creates the service tables if they don't exist
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to ensure schema: %w", err)
		}
	}
	log.Info("Database schema ensured")
	return nil
}
