package sources

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/canvasadmin/canvasadmin/internal/models"
)

// Canvas credential_json keys.
const (
	CanvasBaseURLKey = "canvas_base_url"
	CanvasAPIKeyKey  = "canvas_api_key"
)

// CanvasCredentialJSON is the credential shape of a Canvas LMS instance.
type CanvasCredentialJSON struct {
	CanvasBaseURL string `json:"canvas_base_url" validate:"required"`
	CanvasAPIKey  string `json:"canvas_api_key" validate:"required"`
}

// Map converts the credential into credential_json form.
func (c CanvasCredentialJSON) Map() map[string]string {
	return map[string]string{
		CanvasBaseURLKey: c.CanvasBaseURL,
		CanvasAPIKeyKey:  c.CanvasAPIKey,
	}
}

// CanvasCredentialFromMap reads a credential_json map.
func CanvasCredentialFromMap(m map[string]string) CanvasCredentialJSON {
	return CanvasCredentialJSON{
		CanvasBaseURL: strings.TrimSpace(m[CanvasBaseURLKey]),
		CanvasAPIKey:  strings.TrimSpace(m[CanvasAPIKeyKey]),
	}
}

// Canvas describes the Canvas LMS source.
type Canvas struct {
	validate *validator.Validate
}

// NewCanvas returns the Canvas descriptor.
func NewCanvas() *Canvas {
	return &Canvas{validate: newValidator()}
}

func (c *Canvas) Source() models.DocumentSource { return models.SourceCanvas }
func (c *Canvas) DisplayName() string           { return "Canvas" }
func (c *Canvas) ConnectorName() string         { return "CanvasConnector" }
func (c *Canvas) InputType() models.InputType   { return models.InputTypeLoadState }
func (c *Canvas) RefreshFreq() time.Duration    { return 10 * time.Minute }

func (c *Canvas) Fields() []Field {
	return []Field{
		{
			Name:     CanvasBaseURLKey,
			Label:    "Instance Base URL:",
			Required: "Please enter the base URL for your Canvas instance",
		},
		{
			Name:     CanvasAPIKeyKey,
			Label:    "API Key:",
			Required: "Please enter your Canvas API token ID",
			Secret:   true,
		},
	}
}

func (c *Canvas) ValidateCredential(values map[string]string) FieldErrors {
	return validateStruct(c.validate, CanvasCredentialFromMap(values), c.Fields())
}

func (c *Canvas) MatchCredential(cred models.Credential) bool {
	return cred.CredentialJSON[CanvasAPIKeyKey] != ""
}

func (c *Canvas) CredentialKey(cred models.Credential) string {
	return cred.CredentialJSON[CanvasAPIKeyKey]
}
