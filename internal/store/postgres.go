package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"ticketcap/internal/models"

	_ "github.com/lib/pq"
)

type DBStore struct {
	DB *sql.DB
}

func NewDBStore(db *sql.DB) *DBStore {
	return &DBStore{DB: db}
}

func ConnectDB(driver, dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open(driver, dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	return db, nil
}

func RunMigrations(db *sql.DB, migrationsDir string) error {
	if migrationsDir == "" {
		return fmt.Errorf("migrations directory not specified")
	}

	entries, err := os.ReadDir(migrationsDir)
	if err != nil {
		return fmt.Errorf("failed to read migrations directory: %w", err)
	}

	var migrationFiles []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			migrationFiles = append(migrationFiles, entry.Name())
		}
	}
	sort.Strings(migrationFiles)

	if len(migrationFiles) == 0 {
		fmt.Println("No migration files found.")
		return nil
	}

	for _, fileName := range migrationFiles {
		content, err := os.ReadFile(filepath.Join(migrationsDir, fileName))
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", fileName, err)
		}

		if _, err := db.Exec(string(content)); err != nil {
			return fmt.Errorf("failed to execute migration %s: %w", fileName, err)
		}
		fmt.Printf("Applied migration: %s\n", fileName)
	}
	return nil
}

func (s *DBStore) Close() error {
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

// RecordCompletion appends one processed checkout to the audit log. Replays
// of the same session produce additional rows.
func (s *DBStore) RecordCompletion(ctx context.Context, rec *models.CompletionRecord) error {
	query := `
        INSERT INTO checkout_completions
            (session_id, payment_link_id, quantity, previous_total, new_total, deactivated, processed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7)`

	_, err := s.DB.ExecContext(ctx, query,
		rec.SessionID,
		rec.ChannelID,
		rec.Quantity,
		rec.PreviousTotal,
		rec.NewTotal,
		rec.Deactivated,
		rec.ProcessedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record checkout completion: %w", err)
	}
	return nil
}

// RecordedTickets sums the quantities logged for one payment link.
func (s *DBStore) RecordedTickets(ctx context.Context, channelID string) (int64, error) {
	query := `SELECT COALESCE(SUM(quantity), 0) FROM checkout_completions WHERE payment_link_id = $1`

	var total int64
	if err := s.DB.QueryRowContext(ctx, query, channelID).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum recorded tickets: %w", err)
	}
	return total, nil
}
