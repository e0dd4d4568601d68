package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

// DocumentRepository stores documents emitted by connectors.
type DocumentRepository struct {
	db *sql.DB
}

// NewDocumentRepository creates a new document repository.
func NewDocumentRepository(db *sql.DB) *DocumentRepository {
	return &DocumentRepository{db: db}
}

// Upsert writes a batch in one transaction and returns how many documents were new.
func (r *DocumentRepository) Upsert(ctx context.Context, connectorID int64, docs []models.Document) (int, error) {
	if len(docs) == 0 {
		return 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin document transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO document (id, source, semantic_identifier, sections, metadata, connector_id, doc_updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			semantic_identifier = EXCLUDED.semantic_identifier,
			sections = EXCLUDED.sections,
			metadata = EXCLUDED.metadata,
			connector_id = EXCLUDED.connector_id,
			doc_updated_at = EXCLUDED.doc_updated_at,
			indexed_at = NOW()
		RETURNING (xmax = 0) AS inserted`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare document upsert: %w", err)
	}
	defer stmt.Close()

	newCount := 0
	for _, doc := range docs {
		sections, err := json.Marshal(doc.Sections)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal sections for %s: %w", doc.ID, err)
		}
		metadata := doc.Metadata
		if metadata == nil {
			metadata = map[string]string{}
		}
		meta, err := json.Marshal(metadata)
		if err != nil {
			return 0, fmt.Errorf("failed to marshal metadata for %s: %w", doc.ID, err)
		}

		var inserted bool
		err = stmt.QueryRowContext(ctx, doc.ID, string(doc.Source), doc.SemanticIdentifier,
			sections, meta, connectorID, doc.UpdatedAt).Scan(&inserted)
		if err != nil {
			return 0, fmt.Errorf("failed to upsert document %s: %w", doc.ID, err)
		}
		if inserted {
			newCount++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit documents: %w", err)
	}
	return newCount, nil
}

// CountByConnector returns how many documents a connector has written.
func (r *DocumentRepository) CountByConnector(ctx context.Context, connectorID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM document WHERE connector_id = $1`, connectorID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}
