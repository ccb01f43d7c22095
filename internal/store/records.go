// Package store implements the relational collaborators the import
// pipeline persists into: maintenance records and scanned documents.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/domain"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/shared/postgresql"
)

// ErrAircraftNotFound is returned when an aircraft id or tail number is
// unknown.
var ErrAircraftNotFound = errors.New("aircraft not found")

// Aircraft is one managed airframe.
type Aircraft struct {
	ID         string    `db:"aircraft_id"`
	TailNumber string    `db:"tail_number"`
	Make       string    `db:"make"`
	Model      string    `db:"model"`
	CreatedAt  time.Time `db:"created_at"`
}

// RecordStore reads and creates domain records.
type RecordStore struct {
	db *sqlx.DB
}

// NewRecordStore creates a record store over the shared client.
func NewRecordStore(pg *postgresql.Client) *RecordStore {
	return &RecordStore{db: pg.GetDB()}
}

// AircraftByID fetches one aircraft.
func (s *RecordStore) AircraftByID(ctx context.Context, aircraftID string) (*Aircraft, error) {
	var aircraft Aircraft
	query := `
		SELECT aircraft_id, tail_number, make, model, created_at
		FROM aircraft
		WHERE aircraft_id = $1
	`

	err := s.db.GetContext(ctx, &aircraft, query, aircraftID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAircraftNotFound
		}
		return nil, fmt.Errorf("failed to get aircraft: %w", err)
	}

	return &aircraft, nil
}

// AircraftByTailNumber fetches one aircraft by its registration.
func (s *RecordStore) AircraftByTailNumber(ctx context.Context, tailNumber string) (*Aircraft, error) {
	var aircraft Aircraft
	query := `
		SELECT aircraft_id, tail_number, make, model, created_at
		FROM aircraft
		WHERE tail_number = $1
	`

	err := s.db.GetContext(ctx, &aircraft, query, tailNumber)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrAircraftNotFound
		}
		return nil, fmt.Errorf("failed to get aircraft by tail number: %w", err)
	}

	return &aircraft, nil
}

// CreateAircraft inserts a new aircraft and returns its id.
func (s *RecordStore) CreateAircraft(ctx context.Context, tailNumber, make, model string) (string, error) {
	aircraftID := uuid.New().String()
	query := `
		INSERT INTO aircraft (aircraft_id, tail_number, make, model, created_at)
		VALUES ($1, $2, $3, $4, NOW())
	`

	_, err := s.db.ExecContext(ctx, query, aircraftID, tailNumber, make, model)
	if err != nil {
		return "", fmt.Errorf("failed to create aircraft: %w", err)
	}

	return aircraftID, nil
}

// CreateLogEntry inserts one imported maintenance log entry and returns
// its id. Satisfies pipeline.RecordStore.
func (s *RecordStore) CreateLogEntry(ctx context.Context, aircraftID string, entry domain.LogEntry) (string, error) {
	entryID := uuid.New().String()
	query := `
		INSERT INTO maintenance_log_entries (
			entry_id, aircraft_id, entry_date, hours, description,
			source_page, created_at
		) VALUES (
			$1, $2, $3, $4, $5,
			$6, NOW()
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		entryID,
		aircraftID,
		entry.Date,
		entry.Hours,
		entry.Text,
		entry.Page,
	)
	if err != nil {
		return "", fmt.Errorf("failed to create log entry: %w", err)
	}

	return entryID, nil
}
