package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

// ConnectorRepository stores connector definitions.
type ConnectorRepository struct {
	db *sql.DB
}

// NewConnectorRepository creates a new connector repository.
func NewConnectorRepository(db *sql.DB) *ConnectorRepository {
	return &ConnectorRepository{db: db}
}

const connectorSelect = `
	SELECT c.id, c.name, c.source, c.input_type, c.connector_specific_config,
	       c.refresh_freq, c.disabled, c.created_at, c.updated_at,
	       COALESCE(ARRAY_AGG(p.credential_id ORDER BY p.credential_id)
	                FILTER (WHERE p.credential_id IS NOT NULL), '{}') AS credential_ids
	FROM connector c
	LEFT JOIN connector_credential_pair p ON p.connector_id = c.id
`

// Create inserts a connector.
func (r *ConnectorRepository) Create(ctx context.Context, req models.ConnectorRequest) (models.Connector, error) {
	cfg := req.ConnectorSpecificConfig
	if cfg == nil {
		cfg = map[string]any{}
	}
	payload, err := json.Marshal(cfg)
	if err != nil {
		return models.Connector{}, fmt.Errorf("failed to marshal connector config: %w", err)
	}

	var id int64
	err = r.db.QueryRowContext(ctx, `
		INSERT INTO connector (name, source, input_type, connector_specific_config, refresh_freq, disabled)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		req.Name, string(req.Source), string(req.InputType), payload, req.RefreshFreq, req.Disabled,
	).Scan(&id)
	if err != nil {
		return models.Connector{}, fmt.Errorf("failed to create connector: %w", translateError(err))
	}

	return r.Get(ctx, id)
}

// Get retrieves a connector with its linked credential ids.
func (r *ConnectorRepository) Get(ctx context.Context, id int64) (models.Connector, error) {
	row := r.db.QueryRowContext(ctx, connectorSelect+` WHERE c.id = $1 GROUP BY c.id`, id)

	conn, err := scanConnector(row)
	if err != nil {
		return models.Connector{}, fmt.Errorf("failed to get connector %d: %w", id, translateError(err))
	}
	return conn, nil
}

// List returns every connector ordered by id.
func (r *ConnectorRepository) List(ctx context.Context) ([]models.Connector, error) {
	return r.query(ctx, connectorSelect+` GROUP BY c.id ORDER BY c.id`)
}

// ListBySource returns connectors of one source.
func (r *ConnectorRepository) ListBySource(ctx context.Context, source models.DocumentSource) ([]models.Connector, error) {
	return r.query(ctx, connectorSelect+` WHERE c.source = $1 GROUP BY c.id ORDER BY c.id`, string(source))
}

func (r *ConnectorRepository) query(ctx context.Context, query string, args ...any) ([]models.Connector, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query connectors: %w", err)
	}
	defer rows.Close()

	connectors := []models.Connector{}
	for rows.Next() {
		conn, err := scanConnector(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan connector: %w", err)
		}
		connectors = append(connectors, conn)
	}
	return connectors, rows.Err()
}

// SetDisabled toggles a connector.
func (r *ConnectorRepository) SetDisabled(ctx context.Context, id int64, disabled bool) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE connector SET disabled = $1, updated_at = $2 WHERE id = $3`,
		disabled, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to update connector %d: %w", id, err)
	}
	return expectOneRow(result, "connector", id)
}

// Delete removes a connector together with its pairs and attempts.
func (r *ConnectorRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM connector WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete connector %d: %w", id, err)
	}
	return expectOneRow(result, "connector", id)
}

func expectOneRow(result sql.Result, what string, id int64) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s %d: %w", what, id, models.ErrNotFound)
	}
	return nil
}

func scanConnector(row rowScanner) (models.Connector, error) {
	var (
		conn        models.Connector
		source      string
		inputType   string
		payload     []byte
		refreshFreq sql.NullInt64
		credIDs     pq.Int64Array
	)
	err := row.Scan(&conn.ID, &conn.Name, &source, &inputType, &payload,
		&refreshFreq, &conn.Disabled, &conn.CreatedAt, &conn.UpdatedAt, &credIDs)
	if err != nil {
		return models.Connector{}, err
	}

	conn.Source = models.DocumentSource(source)
	conn.InputType = models.InputType(inputType)
	if err := json.Unmarshal(payload, &conn.ConnectorSpecificConfig); err != nil {
		return models.Connector{}, fmt.Errorf("failed to parse connector config: %w", err)
	}
	if refreshFreq.Valid {
		freq := int(refreshFreq.Int64)
		conn.RefreshFreq = &freq
	}
	conn.CredentialIDs = []int64(credIDs)
	if conn.CredentialIDs == nil {
		conn.CredentialIDs = []int64{}
	}
	return conn, nil
}
