package db

import (
	"fmt"

	"gorm.io/gorm"
)

var migrationStatements = []string{
	`CREATE TABLE IF NOT EXISTS users (
		id              BIGSERIAL PRIMARY KEY,
		username        TEXT NOT NULL,
		password_hash   TEXT NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ux_users_username ON users(username);`,
	`CREATE TABLE IF NOT EXISTS detections (
		id              BIGSERIAL PRIMARY KEY,
		location        TEXT NOT NULL,
		zone_name       TEXT,
		confidence      NUMERIC(5,4),
		image_path      TEXT NOT NULL,
		status          TEXT NOT NULL DEFAULT 'Pending',
		user_id         BIGINT REFERENCES users(id),
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_created_at ON detections(created_at);`,
	`CREATE INDEX IF NOT EXISTS idx_detections_zone_name ON detections(zone_name);`,
	`CREATE TABLE IF NOT EXISTS settings (
		id              BIGSERIAL PRIMARY KEY,
		schedule        JSONB NOT NULL,
		roi_zones       JSONB NOT NULL DEFAULT '[]'::jsonb,
		config          JSONB NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT now()
	);`,
}

func runMigrations(db *gorm.DB) error {
	for i, stmt := range migrationStatements {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}
	return nil
}
