// Package memstore is an in-process replacement for the PostgreSQL repositories,
// used when no DATABASE_URL is configured and by tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

// Store holds every table behind one lock.
type Store struct {
	mu          sync.Mutex
	nextID      int64
	credentials map[int64]models.Credential
	connectors  map[int64]models.Connector
	pairs       []models.ConnectorCredentialPair
	attempts    []models.IndexAttempt
	documents   map[string]storedDocument
	now         func() time.Time
}

type storedDocument struct {
	doc         models.Document
	connectorID int64
}

// New returns an empty store.
func New() *Store {
	return &Store{
		credentials: make(map[int64]models.Credential),
		connectors:  make(map[int64]models.Connector),
		documents:   make(map[string]storedDocument),
		now:         time.Now,
	}
}

func (s *Store) id() int64 {
	s.nextID++
	return s.nextID
}

// Credentials returns the credential table view.
func (s *Store) Credentials() *Credentials { return &Credentials{s} }

// Connectors returns the connector table view.
func (s *Store) Connectors() *Connectors { return &Connectors{s} }

// Pairs returns the connector-credential pair table view.
func (s *Store) Pairs() *Pairs { return &Pairs{s} }

// Attempts returns the index attempt table view.
func (s *Store) Attempts() *Attempts { return &Attempts{s} }

// Documents returns the document table view.
func (s *Store) Documents() *Documents { return &Documents{s} }

// Credentials implements the credential repository.
type Credentials struct{ s *Store }

func (c *Credentials) Create(_ context.Context, req models.CredentialRequest, userID *string) (models.Credential, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	now := c.s.now()
	values := make(map[string]string, len(req.CredentialJSON))
	for k, v := range req.CredentialJSON {
		values[k] = v
	}
	cred := models.Credential{
		ID:             c.s.id(),
		CredentialJSON: values,
		UserID:         userID,
		AdminPublic:    req.AdminPublic,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	c.s.credentials[cred.ID] = cred
	return cred, nil
}

func (c *Credentials) Get(_ context.Context, id int64) (models.Credential, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	cred, ok := c.s.credentials[id]
	if !ok {
		return models.Credential{}, fmt.Errorf("credential %d: %w", id, models.ErrNotFound)
	}
	return cred, nil
}

func (c *Credentials) List(_ context.Context) ([]models.Credential, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	out := make([]models.Credential, 0, len(c.s.credentials))
	for _, cred := range c.s.credentials {
		out = append(out, cred)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Credentials) Delete(_ context.Context, id int64) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, ok := c.s.credentials[id]; !ok {
		return fmt.Errorf("credential %d: %w", id, models.ErrNotFound)
	}
	for _, p := range c.s.pairs {
		if p.CredentialID == id {
			return fmt.Errorf("credential %d: %w", id, models.ErrCredentialInUse)
		}
	}
	delete(c.s.credentials, id)
	return nil
}

// Connectors implements the connector repository.
type Connectors struct{ s *Store }

func (c *Connectors) Create(_ context.Context, req models.ConnectorRequest) (models.Connector, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	now := c.s.now()
	cfg := req.ConnectorSpecificConfig
	if cfg == nil {
		cfg = map[string]any{}
	}
	conn := models.Connector{
		ID:                      c.s.id(),
		Name:                    req.Name,
		Source:                  req.Source,
		InputType:               req.InputType,
		ConnectorSpecificConfig: cfg,
		RefreshFreq:             req.RefreshFreq,
		Disabled:                req.Disabled,
		CreatedAt:               now,
		UpdatedAt:               now,
	}
	c.s.connectors[conn.ID] = conn
	return c.s.withCredentials(conn), nil
}

func (c *Connectors) Get(_ context.Context, id int64) (models.Connector, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	conn, ok := c.s.connectors[id]
	if !ok {
		return models.Connector{}, fmt.Errorf("connector %d: %w", id, models.ErrNotFound)
	}
	return c.s.withCredentials(conn), nil
}

func (c *Connectors) List(ctx context.Context) ([]models.Connector, error) {
	return c.ListBySource(ctx, "")
}

// ListBySource filters by source; an empty source matches all.
func (c *Connectors) ListBySource(_ context.Context, source models.DocumentSource) ([]models.Connector, error) {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	out := make([]models.Connector, 0, len(c.s.connectors))
	for _, conn := range c.s.connectors {
		if source != "" && conn.Source != source {
			continue
		}
		out = append(out, c.s.withCredentials(conn))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (c *Connectors) SetDisabled(_ context.Context, id int64, disabled bool) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	conn, ok := c.s.connectors[id]
	if !ok {
		return fmt.Errorf("connector %d: %w", id, models.ErrNotFound)
	}
	conn.Disabled = disabled
	conn.UpdatedAt = c.s.now()
	c.s.connectors[id] = conn
	return nil
}

func (c *Connectors) Delete(_ context.Context, id int64) error {
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	if _, ok := c.s.connectors[id]; !ok {
		return fmt.Errorf("connector %d: %w", id, models.ErrNotFound)
	}
	delete(c.s.connectors, id)

	pairs := c.s.pairs[:0]
	for _, p := range c.s.pairs {
		if p.ConnectorID != id {
			pairs = append(pairs, p)
		}
	}
	c.s.pairs = pairs

	attempts := c.s.attempts[:0]
	for _, a := range c.s.attempts {
		if a.ConnectorID != id {
			attempts = append(attempts, a)
		}
	}
	c.s.attempts = attempts
	return nil
}

// withCredentials fills CredentialIDs; callers hold the lock.
func (s *Store) withCredentials(conn models.Connector) models.Connector {
	ids := []int64{}
	for _, p := range s.pairs {
		if p.ConnectorID == conn.ID {
			ids = append(ids, p.CredentialID)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	conn.CredentialIDs = ids
	return conn
}

// Pairs implements the pair repository.
type Pairs struct{ s *Store }

func (p *Pairs) Link(_ context.Context, connectorID, credentialID int64, name string) (models.ConnectorCredentialPair, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	if _, ok := p.s.connectors[connectorID]; !ok {
		return models.ConnectorCredentialPair{}, fmt.Errorf("connector %d: %w", connectorID, models.ErrNotFound)
	}
	if _, ok := p.s.credentials[credentialID]; !ok {
		return models.ConnectorCredentialPair{}, fmt.Errorf("credential %d: %w", credentialID, models.ErrNotFound)
	}
	for _, existing := range p.s.pairs {
		if existing.ConnectorID == connectorID && existing.CredentialID == credentialID {
			return models.ConnectorCredentialPair{}, fmt.Errorf("connector %d: %w", connectorID, models.ErrAlreadyLinked)
		}
	}

	pair := models.ConnectorCredentialPair{
		ID:           p.s.id(),
		Name:         name,
		ConnectorID:  connectorID,
		CredentialID: credentialID,
		CreatedAt:    p.s.now(),
	}
	p.s.pairs = append(p.s.pairs, pair)
	return pair, nil
}

func (p *Pairs) Unlink(_ context.Context, connectorID, credentialID int64) error {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	for i, existing := range p.s.pairs {
		if existing.ConnectorID == connectorID && existing.CredentialID == credentialID {
			p.s.pairs = append(p.s.pairs[:i], p.s.pairs[i+1:]...)
			return nil
		}
	}
	return fmt.Errorf("connector credential pair for connector %d: %w", connectorID, models.ErrNotFound)
}

func (p *Pairs) List(_ context.Context) ([]models.ConnectorCredentialPair, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	out := make([]models.ConnectorCredentialPair, len(p.s.pairs))
	copy(out, p.s.pairs)
	return out, nil
}

func (p *Pairs) CountByCredential(_ context.Context, credentialID int64) (int, error) {
	p.s.mu.Lock()
	defer p.s.mu.Unlock()

	n := 0
	for _, existing := range p.s.pairs {
		if existing.CredentialID == credentialID {
			n++
		}
	}
	return n, nil
}

// Attempts implements the index attempt repository.
type Attempts struct{ s *Store }

func (a *Attempts) Create(_ context.Context, connectorID, credentialID int64) (models.IndexAttempt, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	now := a.s.now()
	attempt := models.IndexAttempt{
		ID:           a.s.id(),
		ConnectorID:  connectorID,
		CredentialID: credentialID,
		Status:       models.IndexingStatusNotStarted,
		TimeUpdated:  now,
		CreatedAt:    now,
	}
	a.s.attempts = append(a.s.attempts, attempt)
	return attempt, nil
}

func (a *Attempts) update(id int64, fn func(*models.IndexAttempt)) error {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	for i := range a.s.attempts {
		if a.s.attempts[i].ID == id {
			fn(&a.s.attempts[i])
			a.s.attempts[i].TimeUpdated = a.s.now()
			return nil
		}
	}
	return fmt.Errorf("index attempt %d: %w", id, models.ErrNotFound)
}

func (a *Attempts) MarkInProgress(_ context.Context, id int64) error {
	now := a.s.now()
	return a.update(id, func(at *models.IndexAttempt) {
		at.Status = models.IndexingStatusInProgress
		at.TimeStarted = &now
	})
}

func (a *Attempts) MarkSucceeded(_ context.Context, id int64, newDocs, totalDocs int) error {
	return a.update(id, func(at *models.IndexAttempt) {
		at.Status = models.IndexingStatusSuccess
		at.NewDocsIndexed = newDocs
		at.TotalDocsIndexed = totalDocs
	})
}

func (a *Attempts) MarkFailed(_ context.Context, id int64, reason string) error {
	return a.update(id, func(at *models.IndexAttempt) {
		at.Status = models.IndexingStatusFailed
		at.ErrorMsg = &reason
	})
}

func (a *Attempts) FailUnfinished(_ context.Context, reason string) (int, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	n := 0
	for i := range a.s.attempts {
		if !a.s.attempts[i].Status.Finished() {
			a.s.attempts[i].Status = models.IndexingStatusFailed
			a.s.attempts[i].ErrorMsg = &reason
			n++
		}
	}
	return n, nil
}

func (a *Attempts) Latest(_ context.Context, connectorID, credentialID int64) (*models.IndexAttempt, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	for i := len(a.s.attempts) - 1; i >= 0; i-- {
		at := a.s.attempts[i]
		if at.ConnectorID == connectorID && at.CredentialID == credentialID {
			return &at, nil
		}
	}
	return nil, nil
}

func (a *Attempts) LatestSuccess(_ context.Context, connectorID, credentialID int64) (*time.Time, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()

	for i := len(a.s.attempts) - 1; i >= 0; i-- {
		at := a.s.attempts[i]
		if at.ConnectorID == connectorID && at.CredentialID == credentialID && at.Status == models.IndexingStatusSuccess {
			ts := at.TimeUpdated
			return &ts, nil
		}
	}
	return nil, nil
}

// Documents implements the document repository.
type Documents struct{ s *Store }

func (d *Documents) Upsert(_ context.Context, connectorID int64, docs []models.Document) (int, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	newCount := 0
	for _, doc := range docs {
		if _, ok := d.s.documents[doc.ID]; !ok {
			newCount++
		}
		d.s.documents[doc.ID] = storedDocument{doc: doc, connectorID: connectorID}
	}
	return newCount, nil
}

func (d *Documents) CountByConnector(_ context.Context, connectorID int64) (int, error) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	n := 0
	for _, sd := range d.s.documents {
		if sd.connectorID == connectorID {
			n++
		}
	}
	return n, nil
}

// Document returns a stored document by id.
func (d *Documents) Document(id string) (models.Document, bool) {
	d.s.mu.Lock()
	defer d.s.mu.Unlock()

	sd, ok := d.s.documents[id]
	return sd.doc, ok
}
