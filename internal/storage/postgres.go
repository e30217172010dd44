package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"hemicycle/internal/models"
)

const createDeputiesTable = `
CREATE TABLE IF NOT EXISTS deputies (
	legislature          TEXT NOT NULL,
	depute_id            TEXT NOT NULL,
	given_name           TEXT NOT NULL DEFAULT '',
	family_name          TEXT NOT NULL DEFAULT '',
	profession           TEXT NOT NULL DEFAULT '',
	political_group_name TEXT NOT NULL DEFAULT '',
	political_group_id   TEXT NOT NULL DEFAULT '',
	updated_at           TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (legislature, depute_id)
)`

type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres opens and pings a pgx-backed pool.
func OpenPostgres(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("postgres backend requires a database url")
	}
	db, err := OpenPostgres(ctx, databaseURL)
	if err != nil {
		return nil, err
	}
	s := NewPostgresStoreWithDB(db)
	if err := s.Migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, createDeputiesTable); err != nil {
		return fmt.Errorf("create deputies table: %w", err)
	}
	return nil
}

func (s *PostgresStore) BatchGet(ctx context.Context, ids []string, legislature string) ([]models.DeputyRecord, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT depute_id, given_name, family_name, profession, political_group_name, political_group_id
		FROM deputies
		WHERE legislature = $1 AND depute_id = ANY($2)
	`, legislature, ids)
	if err != nil {
		return nil, fmt.Errorf("query deputies: %w", err)
	}
	defer rows.Close()

	var out []models.DeputyRecord
	for rows.Next() {
		var d models.DeputyRecord
		if err := rows.Scan(&d.ID, &d.GivenName, &d.FamilyName, &d.Profession, &d.PoliticalGroupName, &d.PoliticalGroupID); err != nil {
			return nil, fmt.Errorf("scan deputy: %w", err)
		}
		if d.Profession == "" {
			d.Profession = models.ProfessionNotProvided
		}
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate deputies: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Count(ctx context.Context, legislature string) (int, error) {
	var total int
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM deputies WHERE legislature = $1`, legislature).Scan(&total); err != nil {
		return 0, fmt.Errorf("count deputies: %w", err)
	}
	return total, nil
}

func (s *PostgresStore) SaveDeputies(ctx context.Context, legislature string, records []models.DeputyRecord) (int, error) {
	records = validRecords(records)
	if len(records) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO deputies (legislature, depute_id, given_name, family_name, profession, political_group_name, political_group_id, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (legislature, depute_id) DO UPDATE SET
			given_name = EXCLUDED.given_name,
			family_name = EXCLUDED.family_name,
			profession = EXCLUDED.profession,
			political_group_name = EXCLUDED.political_group_name,
			political_group_id = EXCLUDED.political_group_id,
			updated_at = now()
	`)
	if err != nil {
		return 0, fmt.Errorf("prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, d := range records {
		if _, err := stmt.ExecContext(ctx, legislature, d.ID, d.GivenName, d.FamilyName, d.Profession, d.PoliticalGroupName, d.PoliticalGroupID); err != nil {
			return 0, fmt.Errorf("upsert deputy %s: %w", d.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit deputies: %w", err)
	}
	return len(records), nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
