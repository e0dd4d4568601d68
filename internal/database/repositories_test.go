package database

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"os"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

func TestTranslateError(t *testing.T) {
	assert.Nil(t, translateError(nil))
	assert.ErrorIs(t, translateError(sql.ErrNoRows), models.ErrNotFound)
	assert.ErrorIs(t, translateError(&pq.Error{Code: pqUniqueViolation}), models.ErrAlreadyLinked)
	assert.ErrorIs(t, translateError(&pq.Error{Code: pqForeignKeyViolation}), models.ErrNotFound)

	other := errors.New("boom")
	assert.Equal(t, other, translateError(other))
}

func TestMigrationsAreEmbedded(t *testing.T) {
	content, err := fsReadInit()
	require.NoError(t, err)
	assert.Contains(t, content, "CREATE TABLE IF NOT EXISTS connector_credential_pair")
}

func fsReadInit() (string, error) {
	f, err := Migrations().Open("0001_init.sql")
	if err != nil {
		return "", err
	}
	defer f.Close()
	b, err := io.ReadAll(f)
	return string(b), err
}

// openTestDB connects to TEST_DATABASE_URL, skipping when it is unset.
func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	url := os.Getenv("TEST_DATABASE_URL")
	if url == "" {
		t.Skip("TEST_DATABASE_URL not set - requires a PostgreSQL database")
	}

	ctx := context.Background()
	cfg := DefaultConfig()
	cfg.URL = url
	db, err := Connect(ctx, cfg)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	require.NoError(t, RunMigrations(ctx, db, Migrations(), logger))

	_, err = db.ExecContext(ctx, `TRUNCATE document, index_attempt, connector_credential_pair, connector, credential RESTART IDENTITY CASCADE`)
	require.NoError(t, err)
	return db
}

func TestRepositoriesRoundTrip(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	creds := NewCredentialRepository(db)
	connectors := NewConnectorRepository(db)
	pairs := NewPairRepository(db)
	attempts := NewIndexAttemptRepository(db)
	docs := NewDocumentRepository(db)

	cred, err := creds.Create(ctx, models.CredentialRequest{
		CredentialJSON: map[string]string{"canvas_base_url": "https://canvas.example.edu", "canvas_api_key": "k"},
	}, nil)
	require.NoError(t, err)

	freq := 600
	conn, err := connectors.Create(ctx, models.ConnectorRequest{
		Name:        "CanvasConnector",
		Source:      models.SourceCanvas,
		InputType:   models.InputTypeLoadState,
		RefreshFreq: &freq,
	})
	require.NoError(t, err)
	assert.Empty(t, conn.CredentialIDs)
	require.NotNil(t, conn.RefreshFreq)
	assert.Equal(t, 600, *conn.RefreshFreq)

	_, err = pairs.Link(ctx, conn.ID, cred.ID, "CanvasConnector")
	require.NoError(t, err)

	_, err = pairs.Link(ctx, conn.ID, cred.ID, "CanvasConnector")
	assert.ErrorIs(t, err, models.ErrAlreadyLinked)

	got, err := connectors.Get(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{cred.ID}, got.CredentialIDs)

	bySource, err := connectors.ListBySource(ctx, models.SourceCanvas)
	require.NoError(t, err)
	require.Len(t, bySource, 1)
	assert.Equal(t, []int64{cred.ID}, bySource[0].CredentialIDs)

	require.NoError(t, connectors.SetDisabled(ctx, conn.ID, true))
	got, err = connectors.Get(ctx, conn.ID)
	require.NoError(t, err)
	assert.True(t, got.Disabled)
	assert.ErrorIs(t, connectors.SetDisabled(ctx, conn.ID+100, true), models.ErrNotFound)

	err = creds.Delete(ctx, cred.ID)
	assert.ErrorIs(t, err, models.ErrCredentialInUse)

	attempt, err := attempts.Create(ctx, conn.ID, cred.ID)
	require.NoError(t, err)
	require.NoError(t, attempts.MarkInProgress(ctx, attempt.ID))

	n, err := docs.Upsert(ctx, conn.ID, []models.Document{
		{ID: "https://canvas.example.edu/files/1", Source: models.SourceCanvas, SemanticIdentifier: "a.pdf",
			Sections: []models.Section{{Link: "https://canvas.example.edu/files/1", Text: "hello"}}},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = docs.Upsert(ctx, conn.ID, []models.Document{
		{ID: "https://canvas.example.edu/files/1", Source: models.SourceCanvas, SemanticIdentifier: "a.pdf"},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, n, "re-indexed document is not new")

	require.NoError(t, attempts.MarkSucceeded(ctx, attempt.ID, 1, 1))
	latest, err := attempts.Latest(ctx, conn.ID, cred.ID)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, models.IndexingStatusSuccess, latest.Status)

	require.NoError(t, pairs.Unlink(ctx, conn.ID, cred.ID))
	require.NoError(t, connectors.Delete(ctx, conn.ID))
	require.NoError(t, creds.Delete(ctx, cred.ID))

	_, err = creds.Get(ctx, cred.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
