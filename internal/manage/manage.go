// Package manage holds the rules behind the management API: credential and
// connector lifecycles, linking, and indexing-status assembly.
package manage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/canvasadmin/canvasadmin/internal/models"
	"github.com/canvasadmin/canvasadmin/internal/sources"
)

// Errors returned by the service; storage errors are wrapped around the same values.
var (
	ErrNotFound        = models.ErrNotFound
	ErrCredentialInUse = models.ErrCredentialInUse
	ErrAlreadyLinked   = models.ErrAlreadyLinked
	ErrInvalid         = models.ErrInvalid
	ErrIndexingActive  = models.ErrIndexingActive
)

// MinRefreshFreq is the shortest refresh interval a connector may request, in seconds.
const MinRefreshFreq = 60

// CredentialStore persists credentials.
type CredentialStore interface {
	Create(ctx context.Context, req models.CredentialRequest, userID *string) (models.Credential, error)
	Get(ctx context.Context, id int64) (models.Credential, error)
	List(ctx context.Context) ([]models.Credential, error)
	Delete(ctx context.Context, id int64) error
}

// ConnectorStore persists connectors.
type ConnectorStore interface {
	Create(ctx context.Context, req models.ConnectorRequest) (models.Connector, error)
	Get(ctx context.Context, id int64) (models.Connector, error)
	List(ctx context.Context) ([]models.Connector, error)
	ListBySource(ctx context.Context, source models.DocumentSource) ([]models.Connector, error)
	SetDisabled(ctx context.Context, id int64, disabled bool) error
	Delete(ctx context.Context, id int64) error
}

// PairStore persists connector-credential links.
type PairStore interface {
	Link(ctx context.Context, connectorID, credentialID int64, name string) (models.ConnectorCredentialPair, error)
	Unlink(ctx context.Context, connectorID, credentialID int64) error
	List(ctx context.Context) ([]models.ConnectorCredentialPair, error)
	CountByCredential(ctx context.Context, credentialID int64) (int, error)
}

// AttemptStore reads index attempt history.
type AttemptStore interface {
	Latest(ctx context.Context, connectorID, credentialID int64) (*models.IndexAttempt, error)
	LatestSuccess(ctx context.Context, connectorID, credentialID int64) (*time.Time, error)
}

// DocumentCounter reports how many documents a connector has indexed.
type DocumentCounter interface {
	CountByConnector(ctx context.Context, connectorID int64) (int, error)
}

// Trigger queues an immediate run for a pair.
type Trigger interface {
	RunOnce(ctx context.Context, connectorID, credentialID int64) error
}

// CredentialVerifier checks a credential against its source before it is
// stored. Sources it does not know are accepted.
type CredentialVerifier interface {
	VerifyCredential(ctx context.Context, source models.DocumentSource, values map[string]string) error
}

// Service implements the management operations.
type Service struct {
	credentials CredentialStore
	connectors  ConnectorStore
	pairs       PairStore
	attempts    AttemptStore
	documents   DocumentCounter
	trigger     Trigger
	verifier    CredentialVerifier
	registry    *sources.Registry
	logger      *slog.Logger
}

// Stores groups the persistence dependencies of Service.
type Stores struct {
	Credentials CredentialStore
	Connectors  ConnectorStore
	Pairs       PairStore
	Attempts    AttemptStore
	Documents   DocumentCounter
}

// NewService creates a management service.
func NewService(stores Stores, registry *sources.Registry, logger *slog.Logger) *Service {
	return &Service{
		credentials: stores.Credentials,
		connectors:  stores.Connectors,
		pairs:       stores.Pairs,
		attempts:    stores.Attempts,
		documents:   stores.Documents,
		registry:    registry,
		logger:      logger,
	}
}

// SetTrigger wires the scheduler used by RunOnce.
func (s *Service) SetTrigger(t Trigger) {
	s.trigger = t
}

// SetVerifier makes CreateCredential check credentials with v.
func (s *Service) SetVerifier(v CredentialVerifier) {
	s.verifier = v
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalid, fmt.Sprintf(format, args...))
}
