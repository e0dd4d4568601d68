package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

// PairRepository stores connector-credential links.
type PairRepository struct {
	db *sql.DB
}

// NewPairRepository creates a new pair repository.
func NewPairRepository(db *sql.DB) *PairRepository {
	return &PairRepository{db: db}
}

// Link pairs a connector with a credential. Existing pairs fail with
// models.ErrAlreadyLinked.
func (r *PairRepository) Link(ctx context.Context, connectorID, credentialID int64, name string) (models.ConnectorCredentialPair, error) {
	var pair models.ConnectorCredentialPair
	err := r.db.QueryRowContext(ctx, `
		INSERT INTO connector_credential_pair (connector_id, credential_id, name)
		VALUES ($1, $2, $3)
		RETURNING id, name, connector_id, credential_id, created_at`,
		connectorID, credentialID, name,
	).Scan(&pair.ID, &pair.Name, &pair.ConnectorID, &pair.CredentialID, &pair.CreatedAt)
	if err != nil {
		return models.ConnectorCredentialPair{}, fmt.Errorf("failed to link connector %d to credential %d: %w",
			connectorID, credentialID, translateError(err))
	}
	return pair, nil
}

// Unlink removes a pair.
func (r *PairRepository) Unlink(ctx context.Context, connectorID, credentialID int64) error {
	result, err := r.db.ExecContext(ctx,
		`DELETE FROM connector_credential_pair WHERE connector_id = $1 AND credential_id = $2`,
		connectorID, credentialID)
	if err != nil {
		return fmt.Errorf("failed to unlink connector %d: %w", connectorID, err)
	}
	return expectOneRow(result, "connector credential pair for connector", connectorID)
}

// List returns every pair ordered by id.
func (r *PairRepository) List(ctx context.Context) ([]models.ConnectorCredentialPair, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, connector_id, credential_id, created_at
		FROM connector_credential_pair
		ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query connector credential pairs: %w", err)
	}
	defer rows.Close()

	pairs := []models.ConnectorCredentialPair{}
	for rows.Next() {
		var p models.ConnectorCredentialPair
		if err := rows.Scan(&p.ID, &p.Name, &p.ConnectorID, &p.CredentialID, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan connector credential pair: %w", err)
		}
		pairs = append(pairs, p)
	}
	return pairs, rows.Err()
}

// CountByCredential returns how many connectors use a credential.
func (r *PairRepository) CountByCredential(ctx context.Context, credentialID int64) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM connector_credential_pair WHERE credential_id = $1`, credentialID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count pairs for credential %d: %w", credentialID, err)
	}
	return n, nil
}
