package ingestion

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/canvasadmin/canvasadmin/internal/canvas"
	"github.com/canvasadmin/canvasadmin/internal/models"
	"github.com/canvasadmin/canvasadmin/internal/retry"
	"github.com/canvasadmin/canvasadmin/internal/sources"
)

// CredentialVerifier proves a credential works before it is stored by making
// the cheapest authenticated call its source offers.
type CredentialVerifier struct {
	httpClient *http.Client
}

// NewCredentialVerifier creates a verifier whose calls time out after
// settings.HTTPTimeout.
func NewCredentialVerifier(settings Settings) *CredentialVerifier {
	return &CredentialVerifier{httpClient: &http.Client{Timeout: settings.HTTPTimeout}}
}

// VerifyCredential checks values for source. Unknown sources pass.
func (v *CredentialVerifier) VerifyCredential(ctx context.Context, source models.DocumentSource, values map[string]string) error {
	if source != models.SourceCanvas {
		return nil
	}

	creds := sources.CanvasCredentialFromMap(values)
	client := canvas.NewClient(creds.CanvasBaseURL, creds.CanvasAPIKey,
		canvas.WithHTTPClient(v.httpClient),
		canvas.WithRetryPolicy(retry.Policy{MaxRetries: 0}),
	)
	_, err := client.Self(ctx)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, canvas.ErrUnauthorized):
		return errors.New("Canvas rejected the API token")
	case errors.Is(err, canvas.ErrNotFound):
		return fmt.Errorf("%s does not look like a Canvas instance", creds.CanvasBaseURL)
	default:
		return fmt.Errorf("could not reach Canvas at %s: %w", creds.CanvasBaseURL, err)
	}
}
