package scheduler

import (
	"context"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

// ConnectorRepository reads connectors.
type ConnectorRepository interface {
	List(ctx context.Context) ([]models.Connector, error)
	Get(ctx context.Context, id int64) (models.Connector, error)
}

// CredentialRepository reads credentials.
type CredentialRepository interface {
	Get(ctx context.Context, id int64) (models.Credential, error)
}

// PairRepository reads connector-credential pairs.
type PairRepository interface {
	List(ctx context.Context) ([]models.ConnectorCredentialPair, error)
}

// AttemptRepository reads and repairs index attempts.
type AttemptRepository interface {
	Latest(ctx context.Context, connectorID, credentialID int64) (*models.IndexAttempt, error)
	FailUnfinished(ctx context.Context, reason string) (int, error)
}

// Repositories adapts per-table repositories to Store.
type Repositories struct {
	Connectors  ConnectorRepository
	Credentials CredentialRepository
	Pairs       PairRepository
	Attempts    AttemptRepository
}

func (r Repositories) ListConnectors(ctx context.Context) ([]models.Connector, error) {
	return r.Connectors.List(ctx)
}

func (r Repositories) GetConnector(ctx context.Context, id int64) (models.Connector, error) {
	return r.Connectors.Get(ctx, id)
}

func (r Repositories) GetCredential(ctx context.Context, id int64) (models.Credential, error) {
	return r.Credentials.Get(ctx, id)
}

func (r Repositories) ListPairs(ctx context.Context) ([]models.ConnectorCredentialPair, error) {
	return r.Pairs.List(ctx)
}

func (r Repositories) LatestAttempt(ctx context.Context, connectorID, credentialID int64) (*models.IndexAttempt, error) {
	return r.Attempts.Latest(ctx, connectorID, credentialID)
}

func (r Repositories) FailUnfinished(ctx context.Context, reason string) (int, error) {
	return r.Attempts.FailUnfinished(ctx, reason)
}
