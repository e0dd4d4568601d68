package manage

import (
	"context"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

// IndexingStatuses assembles one status record per connector-credential pair.
func (s *Service) IndexingStatuses(ctx context.Context) ([]models.ConnectorIndexingStatus, error) {
	pairs, err := s.pairs.List(ctx)
	if err != nil {
		return nil, err
	}
	connectors, err := s.connectors.List(ctx)
	if err != nil {
		return nil, err
	}
	creds, err := s.credentials.List(ctx)
	if err != nil {
		return nil, err
	}

	connByID := make(map[int64]models.Connector, len(connectors))
	for _, c := range connectors {
		connByID[c.ID] = c
	}
	credByID := make(map[int64]models.Credential, len(creds))
	for _, c := range creds {
		credByID[c.ID] = c
	}

	paired := make(map[int64]bool, len(pairs))
	statuses := make([]models.ConnectorIndexingStatus, 0, len(pairs))
	for _, pair := range pairs {
		conn, ok := connByID[pair.ConnectorID]
		if !ok {
			continue
		}
		cred, ok := credByID[pair.CredentialID]
		if !ok {
			continue
		}

		status, err := s.pairStatus(ctx, pair, conn, cred)
		if err != nil {
			return nil, err
		}
		paired[conn.ID] = true
		statuses = append(statuses, status)
	}

	// Connectors without a credential still show up so they can be linked.
	for _, conn := range connectors {
		if paired[conn.ID] {
			continue
		}
		statuses = append(statuses, models.ConnectorIndexingStatus{
			Name:        conn.Name,
			Connector:   conn,
			LastStatus:  models.IndexingStatusNotStarted,
			IsDeletable: true,
		})
	}
	return statuses, nil
}

func (s *Service) pairStatus(ctx context.Context, pair models.ConnectorCredentialPair, conn models.Connector, cred models.Credential) (models.ConnectorIndexingStatus, error) {
	latest, err := s.attempts.Latest(ctx, conn.ID, cred.ID)
	if err != nil {
		return models.ConnectorIndexingStatus{}, err
	}
	lastSuccess, err := s.attempts.LatestSuccess(ctx, conn.ID, cred.ID)
	if err != nil {
		return models.ConnectorIndexingStatus{}, err
	}
	docs, err := s.documents.CountByConnector(ctx, conn.ID)
	if err != nil {
		return models.ConnectorIndexingStatus{}, err
	}

	masked := cred.Masked()
	status := models.ConnectorIndexingStatus{
		CCPairID:           pair.ID,
		Name:               pair.Name,
		Connector:          conn,
		Credential:         &masked,
		Public:             cred.AdminPublic,
		LastStatus:         models.IndexingStatusNotStarted,
		LastSuccess:        lastSuccess,
		DocsIndexed:        docs,
		LatestIndexAttempt: latest,
		IsDeletable:        true,
	}
	if cred.UserID != nil {
		status.Owner = *cred.UserID
	}
	if latest != nil {
		status.LastStatus = latest.Status
		status.ErrorMsg = latest.ErrorMsg
		status.IsDeletable = conn.Disabled || latest.Status.Finished()
	}
	return status, nil
}
