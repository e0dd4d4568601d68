package database

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

// CredentialRepository stores connector credentials.
type CredentialRepository struct {
	db *sql.DB
}

// NewCredentialRepository creates a new credential repository.
func NewCredentialRepository(db *sql.DB) *CredentialRepository {
	return &CredentialRepository{db: db}
}

const credentialColumns = `id, credential_json, user_id, admin_public, created_at, updated_at`

// Create inserts a credential.
func (r *CredentialRepository) Create(ctx context.Context, req models.CredentialRequest, userID *string) (models.Credential, error) {
	payload, err := json.Marshal(req.CredentialJSON)
	if err != nil {
		return models.Credential{}, fmt.Errorf("failed to marshal credential: %w", err)
	}

	row := r.db.QueryRowContext(ctx, `
		INSERT INTO credential (credential_json, user_id, admin_public)
		VALUES ($1, $2, $3)
		RETURNING `+credentialColumns,
		payload, userID, req.AdminPublic,
	)

	cred, err := scanCredential(row)
	if err != nil {
		return models.Credential{}, fmt.Errorf("failed to create credential: %w", translateError(err))
	}
	return cred, nil
}

// Get retrieves a credential by id.
func (r *CredentialRepository) Get(ctx context.Context, id int64) (models.Credential, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+credentialColumns+` FROM credential WHERE id = $1`, id)

	cred, err := scanCredential(row)
	if err != nil {
		return models.Credential{}, fmt.Errorf("failed to get credential %d: %w", id, translateError(err))
	}
	return cred, nil
}

// List returns every credential ordered by id.
func (r *CredentialRepository) List(ctx context.Context) ([]models.Credential, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+credentialColumns+` FROM credential ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query credentials: %w", err)
	}
	defer rows.Close()

	creds := []models.Credential{}
	for rows.Next() {
		cred, err := scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	return creds, rows.Err()
}

// Delete removes a credential. Credentials still linked to a connector are
// rejected with models.ErrCredentialInUse.
func (r *CredentialRepository) Delete(ctx context.Context, id int64) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM credential WHERE id = $1`, id)
	if err != nil {
		if isForeignKeyViolation(err) {
			return fmt.Errorf("failed to delete credential %d: %w", id, models.ErrCredentialInUse)
		}
		return fmt.Errorf("failed to delete credential %d: %w", id, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("credential %d: %w", id, models.ErrNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCredential(row rowScanner) (models.Credential, error) {
	var (
		cred    models.Credential
		payload []byte
		userID  sql.NullString
	)
	if err := row.Scan(&cred.ID, &payload, &userID, &cred.AdminPublic, &cred.CreatedAt, &cred.UpdatedAt); err != nil {
		return models.Credential{}, err
	}
	if err := json.Unmarshal(payload, &cred.CredentialJSON); err != nil {
		return models.Credential{}, fmt.Errorf("failed to parse credential_json: %w", err)
	}
	if userID.Valid {
		cred.UserID = &userID.String
	}
	return cred, nil
}
