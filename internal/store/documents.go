package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/marbindrakon/simple-aircraft-manager-sub000/internal/importer/domain"
	"github.com/marbindrakon/simple-aircraft-manager-sub000/shared/postgresql"
)

// DocumentStore persists scanned source documents and their page images.
type DocumentStore struct {
	db *sqlx.DB
}

// NewDocumentStore creates a document store over the shared client.
func NewDocumentStore(pg *postgresql.Client) *DocumentStore {
	return &DocumentStore{db: pg.GetDB()}
}

// CreateDocument inserts a new document container and returns its id.
// Satisfies pipeline.DocumentStore.
func (s *DocumentStore) CreateDocument(ctx context.Context, aircraftID, name string) (string, error) {
	documentID := uuid.New().String()
	query := `
		INSERT INTO documents (document_id, aircraft_id, name, created_at)
		VALUES ($1, $2, $3, NOW())
	`

	_, err := s.db.ExecContext(ctx, query, documentID, aircraftID, name)
	if err != nil {
		return "", fmt.Errorf("failed to create document: %w", err)
	}

	return documentID, nil
}

// AttachPage stores one page image under a document at the given index and
// returns the page image id. Satisfies pipeline.DocumentStore.
func (s *DocumentStore) AttachPage(ctx context.Context, documentID string, index int, page domain.Page) (string, error) {
	imageID := uuid.New().String()
	query := `
		INSERT INTO document_pages (
			image_id, document_id, page_index, file_name,
			content_type, data, created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, NOW()
		)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		imageID,
		documentID,
		index,
		page.Name,
		page.ContentType,
		page.Data,
	)
	if err != nil {
		return "", fmt.Errorf("failed to attach page %d: %w", index, err)
	}

	return imageID, nil
}
