// Package adminpage is the Canvas connector admin page: it fetches connector
// statuses and credentials through a cache store, picks one of four panel
// layouts and performs the page's mutations against the management API.
package adminpage

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/singleflight"

	"github.com/canvasadmin/canvasadmin/internal/models"
	"github.com/canvasadmin/canvasadmin/internal/sources"
	"github.com/canvasadmin/canvasadmin/internal/store"
)

// ErrConnectorsExist is the popup shown when deleting a credential that
// connectors still depend on.
var ErrConnectorsExist = errors.New("Must delete all connectors before deleting credentials")

// ErrNoCredential is returned by mutations that need a visible credential.
var ErrNoCredential = errors.New("no credential has been provided")

// API is the part of the management API the page uses.
type API interface {
	ListIndexingStatus(ctx context.Context) ([]models.ConnectorIndexingStatus, error)
	ListCredentials(ctx context.Context, reveal bool) ([]models.Credential, error)
	CreateCredential(ctx context.Context, req models.CredentialRequest) (models.Credential, error)
	AdminDeleteCredential(ctx context.Context, id int64) error
	CreateConnector(ctx context.Context, req models.ConnectorRequest) (models.Connector, error)
	DeleteConnector(ctx context.Context, id int64) error
	SetConnectorDisabled(ctx context.Context, id int64, disabled bool) (models.Connector, error)
	LinkCredential(ctx context.Context, connectorID, credentialID int64, name string) (models.ConnectorCredentialPair, error)
	RunOnce(ctx context.Context, req models.RunOnceRequest) (int, error)
}

// Page holds one source kind's admin page.
type Page struct {
	api    API
	store  *store.Store
	kind   sources.Kind
	logger *slog.Logger

	// inflight collapses identical concurrent submissions into one call.
	inflight singleflight.Group
}

// New creates a page and registers its fetchers on st.
func New(api API, st *store.Store, kind sources.Kind, logger *slog.Logger) *Page {
	p := &Page{api: api, store: st, kind: kind, logger: logger}

	st.Register(store.KeyIndexingStatus, func(ctx context.Context) (any, error) {
		return api.ListIndexingStatus(ctx)
	})
	st.Register(store.KeyCredentials, func(ctx context.Context) (any, error) {
		creds, err := api.ListCredentials(ctx, false)
		if err != nil {
			return nil, err
		}
		public := make([]models.Credential, 0, len(creds))
		for _, c := range creds {
			if c.AdminPublic {
				public = append(public, c)
			}
		}
		return public, nil
	})
	return p
}

// Kind returns the page's source kind.
func (p *Page) Kind() sources.Kind {
	return p.kind
}

// Load fetches both resources concurrently and selects the view.
func (p *Page) Load(ctx context.Context) View {
	var statuses, credentials store.Result
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		statuses = p.store.Get(ctx, store.KeyIndexingStatus)
	}()
	go func() {
		defer wg.Done()
		credentials = p.store.Get(ctx, store.KeyCredentials)
	}()
	wg.Wait()

	return SelectStateFor(p.kind, statuses, credentials)
}

// current returns the view from cached data, fetching only what is missing.
func (p *Page) current(ctx context.Context) View {
	statuses := p.store.Peek(store.KeyIndexingStatus)
	credentials := p.store.Peek(store.KeyCredentials)
	if statuses.Loading || credentials.Loading {
		return p.Load(ctx)
	}
	return SelectStateFor(p.kind, statuses, credentials)
}

// CreateCredential validates form and stores it as a public credential. Invalid
// forms return sources.FieldErrors without calling the API.
func (p *Page) CreateCredential(ctx context.Context, form map[string]string) (models.Credential, error) {
	if fe := p.kind.ValidateCredential(form); len(fe) > 0 {
		return models.Credential{}, fe
	}

	values := make(map[string]string, len(form))
	for _, f := range p.kind.Fields() {
		values[f.Name] = form[f.Name]
	}
	if p.kind.Source() == models.SourceCanvas {
		values = sources.CanvasCredentialFromMap(values).Map()
	}

	key := "create-credential:" + string(p.kind.Source()) + ":" + valuesDigest(values)
	v, err, _ := p.inflight.Do(key, func() (any, error) {
		cred, err := p.api.CreateCredential(ctx, models.CredentialRequest{CredentialJSON: values, AdminPublic: true})
		if err != nil {
			return nil, err
		}
		p.store.Invalidate(ctx, store.KeyCredentials)
		p.store.Invalidate(ctx, store.KeyIndexingStatus)
		return cred, nil
	})
	if err != nil {
		return models.Credential{}, err
	}
	p.logger.Info("credential created from admin page", "credential_id", v.(models.Credential).ID, "source", p.kind.Source())
	return v.(models.Credential), nil
}

// valuesDigest fingerprints a normalized credential so only identical
// submissions share a singleflight call.
func valuesDigest(values map[string]string) string {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	h := sha256.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write([]byte{0})
		h.Write([]byte(values[k]))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// DeleteCredential deletes a credential unless connectors of the kind exist, in
// which case ErrConnectorsExist is returned without calling the API.
func (p *Page) DeleteCredential(ctx context.Context, id int64) error {
	view := p.current(ctx)
	if view.State == StateError {
		return errors.New(view.ErrorMessage)
	}
	if len(view.Connectors) > 0 {
		return ErrConnectorsExist
	}

	_, err, _ := p.inflight.Do(fmt.Sprintf("delete-credential:%d", id), func() (any, error) {
		if err := p.api.AdminDeleteCredential(ctx, id); err != nil {
			return nil, err
		}
		p.store.Invalidate(ctx, store.KeyCredentials)
		return nil, nil
	})
	return err
}

// LinkCredential attaches the visible credential to connectorID. Without a
// visible credential it does nothing.
func (p *Page) LinkCredential(ctx context.Context, connectorID int64) error {
	view := p.current(ctx)
	if view.Credential == nil {
		return nil
	}
	credID := view.Credential.ID

	_, err, _ := p.inflight.Do(fmt.Sprintf("link:%d:%d", connectorID, credID), func() (any, error) {
		if _, err := p.api.LinkCredential(ctx, connectorID, credID, ""); err != nil {
			return nil, err
		}
		p.store.Invalidate(ctx, store.KeyIndexingStatus)
		return nil, nil
	})
	return err
}

// ConnectorRequest is the connector the creation panel submits.
func (p *Page) ConnectorRequest() models.ConnectorRequest {
	freq := int(p.kind.RefreshFreq().Seconds())
	return models.ConnectorRequest{
		Name:                    p.kind.ConnectorName(),
		Source:                  p.kind.Source(),
		InputType:               p.kind.InputType(),
		ConnectorSpecificConfig: map[string]any{},
		RefreshFreq:             &freq,
	}
}

// CreateConnector creates the kind's connector and pairs it with credentialID.
func (p *Page) CreateConnector(ctx context.Context, credentialID int64) (models.Connector, error) {
	if credentialID <= 0 {
		return models.Connector{}, ErrNoCredential
	}

	v, err, _ := p.inflight.Do(fmt.Sprintf("create-connector:%d", credentialID), func() (any, error) {
		req := p.ConnectorRequest()
		conn, err := p.api.CreateConnector(ctx, req)
		if err != nil {
			return nil, err
		}
		if _, err := p.api.LinkCredential(ctx, conn.ID, credentialID, req.Name); err != nil {
			p.store.Invalidate(ctx, store.KeyIndexingStatus)
			return nil, fmt.Errorf("connector %d created but linking failed: %w", conn.ID, err)
		}
		p.store.Invalidate(ctx, store.KeyIndexingStatus)
		return conn, nil
	})
	if err != nil {
		return models.Connector{}, err
	}
	conn := v.(models.Connector)
	p.logger.Info("connector created from admin page", "connector_id", conn.ID, "credential_id", credentialID)
	return conn, nil
}

// DeleteConnector removes a connector row and refreshes the statuses.
func (p *Page) DeleteConnector(ctx context.Context, connectorID int64) error {
	_, err, _ := p.inflight.Do(fmt.Sprintf("delete-connector:%d", connectorID), func() (any, error) {
		if err := p.api.DeleteConnector(ctx, connectorID); err != nil {
			return nil, err
		}
		p.Update(ctx)
		return nil, nil
	})
	return err
}

// SetConnectorDisabled pauses or resumes a connector row.
func (p *Page) SetConnectorDisabled(ctx context.Context, connectorID int64, disabled bool) error {
	_, err, _ := p.inflight.Do(fmt.Sprintf("disable-connector:%d:%t", connectorID, disabled), func() (any, error) {
		if _, err := p.api.SetConnectorDisabled(ctx, connectorID, disabled); err != nil {
			return nil, err
		}
		p.Update(ctx)
		return nil, nil
	})
	return err
}

// RunNow asks the backend to index connectorID immediately.
func (p *Page) RunNow(ctx context.Context, connectorID int64) (int, error) {
	v, err, _ := p.inflight.Do(fmt.Sprintf("run:%d", connectorID), func() (any, error) {
		n, err := p.api.RunOnce(ctx, models.RunOnceRequest{ConnectorID: connectorID})
		if err != nil {
			return 0, err
		}
		p.Update(ctx)
		return n, nil
	})
	if err != nil {
		return 0, err
	}
	return v.(int), nil
}

// Update marks the statuses stale after a row-level change.
func (p *Page) Update(ctx context.Context) {
	p.store.Invalidate(ctx, store.KeyIndexingStatus)
}
