package cli

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/canvasadmin/canvasadmin/internal/api"
	"github.com/canvasadmin/canvasadmin/internal/auth"
	"github.com/canvasadmin/canvasadmin/internal/manage"
	"github.com/canvasadmin/canvasadmin/internal/memstore"
	"github.com/canvasadmin/canvasadmin/internal/sources"
)

type nopTrigger struct{}

func (nopTrigger) RunOnce(context.Context, int64, int64) error { return nil }

func newAPIServer(t *testing.T) string {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	mem := memstore.New()
	svc := manage.NewService(manage.Stores{
		Credentials: mem.Credentials(),
		Connectors:  mem.Connectors(),
		Pairs:       mem.Pairs(),
		Attempts:    mem.Attempts(),
		Documents:   mem.Documents(),
	}, sources.Default(), logger)
	svc.SetTrigger(nopTrigger{})

	hash, err := auth.HashPassword("hunter2")
	require.NoError(t, err)
	srv := httptest.NewServer(api.NewRouter(api.RouterConfig{
		Service: svc,
		Auth:    auth.Config{JWTSecret: "cli-secret", PasswordHash: hash, TokenDuration: time.Hour},
		Logger:  logger,
	}))
	t.Cleanup(srv.Close)
	return srv.URL
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := Command()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCanvasctlWorkflow(t *testing.T) {
	url := newAPIServer(t)

	out, err := execute(t, "login", "--api-url", url, "--password", "hunter2")
	require.NoError(t, err)
	token := strings.TrimSpace(out)
	require.NotEmpty(t, token)

	base := []string{"--api-url", url, "--token", token}
	run := func(args ...string) (string, error) {
		return execute(t, append(args, base...)...)
	}

	out, err = run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "state: no_credential")
	assert.Contains(t, out, "Please provide your API details first")

	_, err = run("credential", "create", "--base-url", "", "--api-key", "tok")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Please enter the base URL for your Canvas instance")

	out, err = run("credential", "create", "--base-url", "https://school.instructure.com", "--api-key", "7~abcdefgh1234")
	require.NoError(t, err)
	assert.Contains(t, out, "Credentials created successfully!")

	out, err = run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "state: credential_only")
	assert.Contains(t, out, "***1234")

	out, err = run("connector", "create")
	require.NoError(t, err)
	assert.Contains(t, out, "Successfully created connector!")

	out, err = run("status")
	require.NoError(t, err)
	assert.Contains(t, out, "state: connector_active")
	assert.Contains(t, out, "CanvasConnector")

	_, err = run("credential", "delete", "1")
	require.Error(t, err)
	assert.Equal(t, "Must delete all connectors before deleting credentials", err.Error())

	out, err = run("connector", "run", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "queued 1 index run(s)")

	out, err = run("connector", "pause", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "connector 2 paused")

	out, err = run("connector", "resume", "2")
	require.NoError(t, err)
	assert.Contains(t, out, "connector 2 resumed")
}

func TestCanvasctlRequiresToken(t *testing.T) {
	_, err := execute(t, "status", "--api-url", "http://127.0.0.1:1", "--token", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token")
}

func TestParseID(t *testing.T) {
	id, err := parseID("42")
	require.NoError(t, err)
	assert.EqualValues(t, 42, id)

	for _, raw := range []string{"0", "-3", "x"} {
		_, err := parseID(raw)
		assert.Error(t, err, raw)
	}
}
