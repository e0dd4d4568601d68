package manage

import (
	"context"
	"fmt"

	"github.com/canvasadmin/canvasadmin/internal/models"
	"github.com/canvasadmin/canvasadmin/internal/sources"
)

// CreateCredential validates the payload against every registered source kind and
// stores it. A payload is accepted when at least one kind recognises and accepts it.
func (s *Service) CreateCredential(ctx context.Context, req models.CredentialRequest, userID *string) (models.Credential, error) {
	if len(req.CredentialJSON) == 0 {
		return models.Credential{}, invalid("credential_json is required")
	}

	if kind, ok := s.kindFor(req.CredentialJSON); ok {
		if fe := kind.ValidateCredential(req.CredentialJSON); len(fe) > 0 {
			return models.Credential{}, fmt.Errorf("%w: %s", ErrInvalid, fe.Error())
		}
		if s.verifier != nil {
			if err := s.verifier.VerifyCredential(ctx, kind.Source(), req.CredentialJSON); err != nil {
				s.logger.Warn("credential verification failed", "source", kind.Source(), "error", err)
				return models.Credential{}, invalid("%v", err)
			}
		}
	}

	cred, err := s.credentials.Create(ctx, req, userID)
	if err != nil {
		return models.Credential{}, err
	}

	s.logger.Info("credential created", "credential_id", cred.ID, "admin_public", cred.AdminPublic)
	return cred, nil
}

// kindFor picks the source whose credential fields overlap the payload keys.
func (s *Service) kindFor(values map[string]string) (sources.Kind, bool) {
	for _, kind := range s.registry.Kinds() {
		for _, f := range kind.Fields() {
			if _, ok := values[f.Name]; ok {
				return kind, true
			}
		}
	}
	return nil, false
}

// ListCredentials returns every credential, masked unless reveal is set.
func (s *Service) ListCredentials(ctx context.Context, reveal bool) ([]models.Credential, error) {
	creds, err := s.credentials.List(ctx)
	if err != nil {
		return nil, err
	}
	if reveal {
		return creds, nil
	}
	out := make([]models.Credential, len(creds))
	for i, c := range creds {
		out[i] = c.Masked()
	}
	return out, nil
}

// DeleteCredential removes a credential that no connector references.
func (s *Service) DeleteCredential(ctx context.Context, id int64) error {
	n, err := s.pairs.CountByCredential(ctx, id)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("credential %d linked to %d connector(s): %w", id, n, ErrCredentialInUse)
	}

	if err := s.credentials.Delete(ctx, id); err != nil {
		return err
	}

	s.logger.Info("credential deleted", "credential_id", id)
	return nil
}
