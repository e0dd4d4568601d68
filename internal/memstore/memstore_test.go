package memstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

func TestConnectorDeleteCascades(t *testing.T) {
	ctx := context.Background()
	s := New()

	cred, err := s.Credentials().Create(ctx, models.CredentialRequest{CredentialJSON: map[string]string{"k": "v"}}, nil)
	require.NoError(t, err)
	conn, err := s.Connectors().Create(ctx, models.ConnectorRequest{Name: "c", Source: models.SourceCanvas})
	require.NoError(t, err)
	_, err = s.Pairs().Link(ctx, conn.ID, cred.ID, "c")
	require.NoError(t, err)

	got, err := s.Connectors().Get(ctx, conn.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{cred.ID}, got.CredentialIDs)

	require.ErrorIs(t, s.Credentials().Delete(ctx, cred.ID), models.ErrCredentialInUse)
	require.NoError(t, s.Connectors().Delete(ctx, conn.ID))
	require.NoError(t, s.Credentials().Delete(ctx, cred.ID))
}

func TestAttemptLifecycle(t *testing.T) {
	ctx := context.Background()
	s := New()

	latest, err := s.Attempts().Latest(ctx, 1, 2)
	require.NoError(t, err)
	assert.Nil(t, latest)

	a, err := s.Attempts().Create(ctx, 1, 2)
	require.NoError(t, err)
	require.NoError(t, s.Attempts().MarkInProgress(ctx, a.ID))

	n, err := s.Attempts().FailUnfinished(ctx, "restarted")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	latest, err = s.Attempts().Latest(ctx, 1, 2)
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, models.IndexingStatusFailed, latest.Status)
	require.NotNil(t, latest.ErrorMsg)
	assert.Equal(t, "restarted", *latest.ErrorMsg)

	success, err := s.Attempts().LatestSuccess(ctx, 1, 2)
	require.NoError(t, err)
	assert.Nil(t, success)

	assert.ErrorIs(t, s.Attempts().MarkFailed(ctx, 999, "x"), models.ErrNotFound)
}

func TestDocumentUpsertCountsNew(t *testing.T) {
	ctx := context.Background()
	s := New()

	n, err := s.Documents().Upsert(ctx, 1, []models.Document{{ID: "a"}, {ID: "b"}})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	n, err = s.Documents().Upsert(ctx, 1, []models.Document{{ID: "b", SemanticIdentifier: "B"}, {ID: "c"}})
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	count, err := s.Documents().CountByConnector(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	doc, ok := s.Documents().Document("b")
	require.True(t, ok)
	assert.Equal(t, "B", doc.SemanticIdentifier)
}

func TestConnectorsBySourceAndDisable(t *testing.T) {
	ctx := context.Background()
	s := New()

	canvas, err := s.Connectors().Create(ctx, models.ConnectorRequest{Name: "lms", Source: models.SourceCanvas})
	require.NoError(t, err)
	_, err = s.Connectors().Create(ctx, models.ConnectorRequest{Name: "other", Source: "web"})
	require.NoError(t, err)

	got, err := s.Connectors().ListBySource(ctx, models.SourceCanvas)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, canvas.ID, got[0].ID)

	require.NoError(t, s.Connectors().SetDisabled(ctx, canvas.ID, true))
	conn, err := s.Connectors().Get(ctx, canvas.ID)
	require.NoError(t, err)
	assert.True(t, conn.Disabled)

	assert.ErrorIs(t, s.Connectors().SetDisabled(ctx, 999, true), models.ErrNotFound)
}
