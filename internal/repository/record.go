package repository

import (
	"context"
	"fmt"
	"sync"

	"fab/enumerator/internal/domain"

	"github.com/jackc/pgx/v5/pgxpool"
)

// RecordRepository is the output sink for normalized listings. Saving the
// same id twice keeps one row.
type RecordRepository interface {
	SaveRecord(ctx context.Context, record *domain.Record) error
}

type PostgresRepository struct {
	db *pgxpool.Pool
}

func NewRecordRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS listing_records (
		id            TEXT PRIMARY KEY,
		category_key  TEXT NOT NULL,
		partition_key TEXT NOT NULL,
		data          JSONB NOT NULL,
		fetched_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS listing_records_category_key_idx ON listing_records (category_key)`,
}

// EnsureSchema creates the listing table if it does not exist
func (r *PostgresRepository) EnsureSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := r.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create listing schema: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) SaveRecord(ctx context.Context, record *domain.Record) error {
	query := `
	INSERT INTO listing_records (id, category_key, partition_key, data, fetched_at)
	VALUES ($1, $2, $3, $4, $5)
	ON CONFLICT (id)
	DO UPDATE SET category_key = $2, partition_key = $3, data = $4, fetched_at = $5`
	_, err := r.db.Exec(ctx, query, record.ID, record.CategoryKey, record.PartitionKey, record, record.FetchedAt)
	if err != nil {
		return fmt.Errorf("failed to save record %s: %w", record.ID, err)
	}

	return nil
}

// CountRecords returns the number of stored listings
func (r *PostgresRepository) CountRecords(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRow(ctx, `SELECT count(*) FROM listing_records`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count records: %w", err)
	}
	return n, nil
}

// MemoryRepository keeps records in a map keyed by id, for dry runs and tests.
type MemoryRepository struct {
	mu      sync.Mutex
	records map[string]domain.Record
	saves   int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]domain.Record)}
}

func (m *MemoryRepository) SaveRecord(_ context.Context, record *domain.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[record.ID] = *record
	m.saves++
	return nil
}

// Records returns a copy of every stored record
func (m *MemoryRepository) Records() map[string]domain.Record {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]domain.Record, len(m.records))
	for id, record := range m.records {
		out[id] = record
	}
	return out
}

// Saves counts SaveRecord calls including duplicates
func (m *MemoryRepository) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}
