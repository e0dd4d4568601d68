package manage

import (
	"context"
	"fmt"
	"strings"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

// CreateConnector validates and stores a connector definition.
func (s *Service) CreateConnector(ctx context.Context, req models.ConnectorRequest) (models.Connector, error) {
	req.Name = strings.TrimSpace(req.Name)
	if req.Name == "" {
		return models.Connector{}, invalid("name is required")
	}
	if _, ok := s.registry.Lookup(req.Source); !ok {
		return models.Connector{}, invalid("unsupported source %q", req.Source)
	}
	if !req.InputType.Valid() {
		return models.Connector{}, invalid("unsupported input_type %q", req.InputType)
	}
	if req.RefreshFreq != nil && *req.RefreshFreq < MinRefreshFreq {
		return models.Connector{}, invalid("refresh_freq must be at least %d seconds", MinRefreshFreq)
	}
	if req.ConnectorSpecificConfig == nil {
		req.ConnectorSpecificConfig = map[string]any{}
	}

	conn, err := s.connectors.Create(ctx, req)
	if err != nil {
		return models.Connector{}, err
	}

	s.logger.Info("connector created", "connector_id", conn.ID, "source", conn.Source, "input_type", conn.InputType)
	return conn, nil
}

// ListConnectors returns every connector.
func (s *Service) ListConnectors(ctx context.Context) ([]models.Connector, error) {
	return s.connectors.List(ctx)
}

// ListConnectorsBySource returns the connectors of one source.
func (s *Service) ListConnectorsBySource(ctx context.Context, source models.DocumentSource) ([]models.Connector, error) {
	if _, ok := s.registry.Lookup(source); !ok {
		return nil, invalid("unsupported source %q", source)
	}
	return s.connectors.ListBySource(ctx, source)
}

// SetConnectorDisabled pauses or resumes scheduled indexing of a connector.
func (s *Service) SetConnectorDisabled(ctx context.Context, id int64, disabled bool) (models.Connector, error) {
	if err := s.connectors.SetDisabled(ctx, id, disabled); err != nil {
		return models.Connector{}, err
	}
	conn, err := s.connectors.Get(ctx, id)
	if err != nil {
		return models.Connector{}, err
	}
	s.logger.Info("connector updated", "connector_id", id, "disabled", disabled)
	return conn, nil
}

// DeleteConnector removes a connector and its links. An enabled connector
// whose latest attempt for any linked credential is unfinished is refused
// with ErrIndexingActive, the same rule the status rows use for IsDeletable.
func (s *Service) DeleteConnector(ctx context.Context, id int64) error {
	conn, err := s.connectors.Get(ctx, id)
	if err != nil {
		return err
	}
	if !conn.Disabled {
		for _, credID := range conn.CredentialIDs {
			latest, err := s.attempts.Latest(ctx, conn.ID, credID)
			if err != nil {
				return err
			}
			if latest != nil && !latest.Status.Finished() {
				return fmt.Errorf("connector %d, credential %d: %w", conn.ID, credID, ErrIndexingActive)
			}
		}
	}

	if err := s.connectors.Delete(ctx, id); err != nil {
		return err
	}
	s.logger.Info("connector deleted", "connector_id", id)
	return nil
}

// LinkCredential pairs a connector with a credential.
func (s *Service) LinkCredential(ctx context.Context, connectorID, credentialID int64, name string) (models.ConnectorCredentialPair, error) {
	conn, err := s.connectors.Get(ctx, connectorID)
	if err != nil {
		return models.ConnectorCredentialPair{}, err
	}
	if _, err := s.credentials.Get(ctx, credentialID); err != nil {
		return models.ConnectorCredentialPair{}, err
	}
	for _, id := range conn.CredentialIDs {
		if id == credentialID {
			return models.ConnectorCredentialPair{}, fmt.Errorf("connector %d: %w", connectorID, ErrAlreadyLinked)
		}
	}

	if name == "" {
		name = conn.Name
	}
	pair, err := s.pairs.Link(ctx, connectorID, credentialID, name)
	if err != nil {
		return models.ConnectorCredentialPair{}, err
	}

	s.logger.Info("credential linked", "connector_id", connectorID, "credential_id", credentialID)
	return pair, nil
}

// UnlinkCredential removes a connector-credential pair.
func (s *Service) UnlinkCredential(ctx context.Context, connectorID, credentialID int64) error {
	if err := s.pairs.Unlink(ctx, connectorID, credentialID); err != nil {
		return err
	}
	s.logger.Info("credential unlinked", "connector_id", connectorID, "credential_id", credentialID)
	return nil
}

// RunOnce queues an immediate index run for a connector. With no credential ids,
// every linked credential is run.
func (s *Service) RunOnce(ctx context.Context, req models.RunOnceRequest) (int, error) {
	if s.trigger == nil {
		return 0, invalid("indexing is disabled")
	}
	conn, err := s.connectors.Get(ctx, req.ConnectorID)
	if err != nil {
		return 0, err
	}

	targets := req.CredentialIDs
	if len(targets) == 0 {
		targets = conn.CredentialIDs
	}
	if len(targets) == 0 {
		return 0, invalid("connector %d has no linked credential", conn.ID)
	}

	linked := make(map[int64]bool, len(conn.CredentialIDs))
	for _, id := range conn.CredentialIDs {
		linked[id] = true
	}

	queued := 0
	for _, credID := range targets {
		if !linked[credID] {
			return queued, invalid("credential %d is not linked to connector %d", credID, conn.ID)
		}
		if err := s.trigger.RunOnce(ctx, conn.ID, credID); err != nil {
			return queued, err
		}
		queued++
	}
	return queued, nil
}
