package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasadmin/canvasadmin/internal/auth"
	"github.com/canvasadmin/canvasadmin/internal/client"
	"github.com/canvasadmin/canvasadmin/internal/manage"
	"github.com/canvasadmin/canvasadmin/internal/memstore"
	"github.com/canvasadmin/canvasadmin/internal/metrics"
	"github.com/canvasadmin/canvasadmin/internal/models"
	"github.com/canvasadmin/canvasadmin/internal/sources"
)

const testSecret = "test-secret"

func newTestServer(t *testing.T, health HealthChecker) (*httptest.Server, *client.Client) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	store := memstore.New()
	svc := manage.NewService(manage.Stores{
		Credentials: store.Credentials(),
		Connectors:  store.Connectors(),
		Pairs:       store.Pairs(),
		Attempts:    store.Attempts(),
		Documents:   store.Documents(),
	}, sources.Default(), logger)

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	collector, err := metrics.NewHTTPCollector()
	require.NoError(t, err)

	router := NewRouter(RouterConfig{
		Service: svc,
		Auth:    auth.Config{JWTSecret: testSecret, PasswordHash: hash, TokenDuration: time.Hour},
		Metrics: collector,
		Health:  health,
		Logger:  logger,
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)

	token, err := client.New(srv.URL).Login(context.Background(), "hunter2")
	require.NoError(t, err)
	return srv, client.New(srv.URL, client.WithToken(token))
}

func TestManagementRequiresToken(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	_, err := client.New(srv.URL).ListCredentials(context.Background(), false)
	assert.True(t, client.IsStatus(err, http.StatusUnauthorized))

	_, err = client.New(srv.URL).Login(context.Background(), "wrong")
	assert.True(t, client.IsStatus(err, http.StatusUnauthorized))
}

func TestCredentialAndConnectorLifecycle(t *testing.T) {
	_, c := newTestServer(t, nil)
	ctx := context.Background()

	cred, err := c.CreateCredential(ctx, models.CredentialRequest{
		CredentialJSON: sources.CanvasCredentialJSON{CanvasBaseURL: "https://canvas.example.edu", CanvasAPIKey: "secret-token-9876"}.Map(),
	})
	require.NoError(t, err)
	assert.Equal(t, "***9876", cred.CredentialJSON[sources.CanvasAPIKeyKey])
	require.NotNil(t, cred.UserID)
	assert.Equal(t, "admin", *cred.UserID)

	freq := 600
	conn, err := c.CreateConnector(ctx, models.ConnectorRequest{
		Name:                    "CanvasConnector",
		Source:                  models.SourceCanvas,
		InputType:               models.InputTypeLoadState,
		ConnectorSpecificConfig: map[string]any{},
		RefreshFreq:             &freq,
	})
	require.NoError(t, err)

	_, err = c.LinkCredential(ctx, conn.ID, cred.ID, "")
	require.NoError(t, err)
	_, err = c.LinkCredential(ctx, conn.ID, cred.ID, "")
	assert.True(t, client.IsStatus(err, http.StatusConflict))

	statuses, err := c.ListIndexingStatus(ctx)
	require.NoError(t, err)
	require.Len(t, statuses, 1)
	assert.Equal(t, "CanvasConnector", statuses[0].Name)
	require.NotNil(t, statuses[0].Credential)
	assert.Equal(t, cred.ID, statuses[0].Credential.ID)

	err = c.AdminDeleteCredential(ctx, cred.ID)
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Detail, "still linked")

	require.NoError(t, c.DeleteConnector(ctx, conn.ID))
	require.NoError(t, c.AdminDeleteCredential(ctx, cred.ID))

	err = c.AdminDeleteCredential(ctx, cred.ID)
	assert.True(t, client.IsStatus(err, http.StatusNotFound))
}

func TestValidationErrorsAreBadRequests(t *testing.T) {
	_, c := newTestServer(t, nil)

	_, err := c.CreateCredential(context.Background(), models.CredentialRequest{
		CredentialJSON: map[string]string{sources.CanvasBaseURLKey: "https://x", sources.CanvasAPIKeyKey: ""},
	})
	var apiErr *client.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Contains(t, apiErr.Detail, "Please enter your Canvas API token ID")

	_, err = c.RunOnce(context.Background(), models.RunOnceRequest{ConnectorID: 42})
	assert.True(t, client.IsStatus(err, http.StatusBadRequest))
}

func TestMalformedBody(t *testing.T) {
	srv, _ := newTestServer(t, nil)

	resp, err := http.Post(srv.URL+"/api/auth/login", "application/json", strings.NewReader("{"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t, HealthCheckFunc(func(context.Context) error { return nil }))

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Contains(t, string(body), "canvasadmin_http_requests_total")

	down, _ := newTestServer(t, HealthCheckFunc(func(context.Context) error { return errors.New("db down") }))
	resp, err = http.Get(down.URL + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestWriteErrorStatusCodes(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tests := map[string]struct {
		err  error
		want int
	}{
		"invalid":         {fmt.Errorf("x: %w", manage.ErrInvalid), http.StatusBadRequest},
		"missing":         {fmt.Errorf("x: %w", manage.ErrNotFound), http.StatusNotFound},
		"credential used": {fmt.Errorf("x: %w", manage.ErrCredentialInUse), http.StatusConflict},
		"indexing active": {fmt.Errorf("connector 2, credential 1: %w", manage.ErrIndexingActive), http.StatusConflict},
		"unexpected":      {errors.New("boom"), http.StatusInternalServerError},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeError(rec, httptest.NewRequest(http.MethodDelete, "/api/manage/admin/connector/2", nil), logger, tc.err)
			assert.Equal(t, tc.want, rec.Code)
		})
	}
}

func TestPauseAndResumeConnector(t *testing.T) {
	srv, c := newTestServer(t, nil)
	ctx := context.Background()

	conn, err := c.CreateConnector(ctx, models.ConnectorRequest{
		Name:      "CanvasConnector",
		Source:    models.SourceCanvas,
		InputType: models.InputTypeLoadState,
	})
	require.NoError(t, err)
	assert.False(t, conn.Disabled)

	paused, err := c.SetConnectorDisabled(ctx, conn.ID, true)
	require.NoError(t, err)
	assert.True(t, paused.Disabled)

	canvasConns, err := c.ListConnectors(ctx, models.SourceCanvas)
	require.NoError(t, err)
	require.Len(t, canvasConns, 1)
	assert.True(t, canvasConns[0].Disabled)

	resumed, err := c.SetConnectorDisabled(ctx, conn.ID, false)
	require.NoError(t, err)
	assert.False(t, resumed.Disabled)

	_, err = c.SetConnectorDisabled(ctx, conn.ID+100, true)
	assert.True(t, client.IsStatus(err, http.StatusNotFound))

	_, err = c.ListConnectors(ctx, "dropbox")
	assert.True(t, client.IsStatus(err, http.StatusBadRequest))

	token, err := client.New(srv.URL).Login(ctx, "hunter2")
	require.NoError(t, err)
	req, err := http.NewRequest(http.MethodPatch, srv.URL+"/api/manage/admin/connector/"+fmt.Sprint(conn.ID), strings.NewReader(`{}`))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "disabled must be present")
}
