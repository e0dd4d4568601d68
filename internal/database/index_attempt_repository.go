package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

// IndexAttemptRepository records connector runs.
type IndexAttemptRepository struct {
	db *sql.DB
}

// NewIndexAttemptRepository creates a new index attempt repository.
func NewIndexAttemptRepository(db *sql.DB) *IndexAttemptRepository {
	return &IndexAttemptRepository{db: db}
}

const indexAttemptColumns = `id, connector_id, credential_id, status, new_docs_indexed,
	total_docs_indexed, error_msg, time_started, time_updated, created_at`

// Create inserts a not-started attempt.
func (r *IndexAttemptRepository) Create(ctx context.Context, connectorID, credentialID int64) (models.IndexAttempt, error) {
	row := r.db.QueryRowContext(ctx, `
		INSERT INTO index_attempt (connector_id, credential_id, status)
		VALUES ($1, $2, $3)
		RETURNING `+indexAttemptColumns,
		connectorID, credentialID, string(models.IndexingStatusNotStarted),
	)
	attempt, err := scanIndexAttempt(row)
	if err != nil {
		return models.IndexAttempt{}, fmt.Errorf("failed to create index attempt: %w", translateError(err))
	}
	return attempt, nil
}

// MarkInProgress stamps the start time.
func (r *IndexAttemptRepository) MarkInProgress(ctx context.Context, id int64) error {
	now := time.Now()
	result, err := r.db.ExecContext(ctx, `
		UPDATE index_attempt SET status = $1, time_started = $2, time_updated = $2
		WHERE id = $3`,
		string(models.IndexingStatusInProgress), now, id)
	if err != nil {
		return fmt.Errorf("failed to start index attempt %d: %w", id, err)
	}
	return expectOneRow(result, "index attempt", id)
}

// MarkSucceeded records document counts on a finished attempt.
func (r *IndexAttemptRepository) MarkSucceeded(ctx context.Context, id int64, newDocs, totalDocs int) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE index_attempt
		SET status = $1, new_docs_indexed = $2, total_docs_indexed = $3, time_updated = $4
		WHERE id = $5`,
		string(models.IndexingStatusSuccess), newDocs, totalDocs, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to complete index attempt %d: %w", id, err)
	}
	return expectOneRow(result, "index attempt", id)
}

// MarkFailed records the failure reason.
func (r *IndexAttemptRepository) MarkFailed(ctx context.Context, id int64, reason string) error {
	result, err := r.db.ExecContext(ctx, `
		UPDATE index_attempt SET status = $1, error_msg = $2, time_updated = $3
		WHERE id = $4`,
		string(models.IndexingStatusFailed), reason, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to fail index attempt %d: %w", id, err)
	}
	return expectOneRow(result, "index attempt", id)
}

// FailUnfinished marks attempts left running by a previous process as failed.
func (r *IndexAttemptRepository) FailUnfinished(ctx context.Context, reason string) (int, error) {
	result, err := r.db.ExecContext(ctx, `
		UPDATE index_attempt SET status = $1, error_msg = $2, time_updated = $3
		WHERE status IN ($4, $5)`,
		string(models.IndexingStatusFailed), reason, time.Now(),
		string(models.IndexingStatusNotStarted), string(models.IndexingStatusInProgress))
	if err != nil {
		return 0, fmt.Errorf("failed to clean up unfinished attempts: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return int(n), nil
}

// Latest returns the most recent attempt for a pair, or nil when none exists.
func (r *IndexAttemptRepository) Latest(ctx context.Context, connectorID, credentialID int64) (*models.IndexAttempt, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+indexAttemptColumns+`
		FROM index_attempt
		WHERE connector_id = $1 AND credential_id = $2
		ORDER BY created_at DESC, id DESC
		LIMIT 1`, connectorID, credentialID)

	attempt, err := scanIndexAttempt(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest index attempt: %w", err)
	}
	return &attempt, nil
}

// LatestSuccess returns when the pair last indexed successfully.
func (r *IndexAttemptRepository) LatestSuccess(ctx context.Context, connectorID, credentialID int64) (*time.Time, error) {
	var ts sql.NullTime
	err := r.db.QueryRowContext(ctx, `
		SELECT MAX(time_updated) FROM index_attempt
		WHERE connector_id = $1 AND credential_id = $2 AND status = $3`,
		connectorID, credentialID, string(models.IndexingStatusSuccess),
	).Scan(&ts)
	if err != nil {
		return nil, fmt.Errorf("failed to get latest success: %w", err)
	}
	if !ts.Valid {
		return nil, nil
	}
	return &ts.Time, nil
}

func scanIndexAttempt(row rowScanner) (models.IndexAttempt, error) {
	var (
		a        models.IndexAttempt
		status   string
		errorMsg sql.NullString
		started  sql.NullTime
	)
	err := row.Scan(&a.ID, &a.ConnectorID, &a.CredentialID, &status, &a.NewDocsIndexed,
		&a.TotalDocsIndexed, &errorMsg, &started, &a.TimeUpdated, &a.CreatedAt)
	if err != nil {
		return models.IndexAttempt{}, err
	}
	a.Status = models.IndexingStatus(status)
	if errorMsg.Valid {
		a.ErrorMsg = &errorMsg.String
	}
	if started.Valid {
		a.TimeStarted = &started.Time
	}
	return a, nil
}
