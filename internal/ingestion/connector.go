package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

// ErrMissingCredential is returned when a connector runs before LoadCredentials.
var ErrMissingCredential = errors.New("connector credentials not loaded")

// LoadConnector walks its whole source on every run.
type LoadConnector interface {
	// LoadCredentials configures the connector from a credential_json payload.
	LoadCredentials(credentials map[string]string) error

	// LoadFromState emits every document in batches. An error from emit stops
	// the walk and is returned unchanged.
	LoadFromState(ctx context.Context, emit func([]models.Document) error) error
}

// Settings are shared by every connector built by a Factory.
type Settings struct {
	BatchSize     int
	BatchPause    time.Duration
	FileSizeLimit int64
	HTTPTimeout   time.Duration
}

// DefaultSettings mirrors the configuration defaults.
func DefaultSettings() Settings {
	return Settings{
		BatchSize:     16,
		BatchPause:    200 * time.Millisecond,
		FileSizeLimit: 5000000,
		HTTPTimeout:   30 * time.Second,
	}
}

// Builder creates a connector for one stored connector definition.
type Builder func(conn models.Connector, settings Settings, logger *slog.Logger) (LoadConnector, error)

// Factory maps sources to connector builders.
type Factory struct {
	builders map[models.DocumentSource]Builder
	settings Settings
	logger   *slog.Logger
}

// NewFactory returns a factory with every built-in source registered.
func NewFactory(settings Settings, logger *slog.Logger) *Factory {
	f := &Factory{
		builders: make(map[models.DocumentSource]Builder),
		settings: settings,
		logger:   logger,
	}
	f.Register(models.SourceCanvas, NewCanvasConnectorFrom)
	return f
}

// Register adds or replaces the builder for source.
func (f *Factory) Register(source models.DocumentSource, b Builder) {
	f.builders[source] = b
}

// Build instantiates the connector for conn and loads its credential.
func (f *Factory) Build(conn models.Connector, cred models.Credential) (LoadConnector, error) {
	if conn.InputType != models.InputTypeLoadState {
		return nil, fmt.Errorf("connector %d: input type %q is not supported", conn.ID, conn.InputType)
	}
	b, ok := f.builders[conn.Source]
	if !ok {
		return nil, fmt.Errorf("connector %d: no connector for source %q", conn.ID, conn.Source)
	}

	lc, err := b(conn, f.settings, f.logger.With("connector_id", conn.ID, "source", conn.Source))
	if err != nil {
		return nil, err
	}
	if err := lc.LoadCredentials(cred.CredentialJSON); err != nil {
		return nil, fmt.Errorf("connector %d: %w", conn.ID, err)
	}
	return lc, nil
}
