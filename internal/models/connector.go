package models

import "time"

// DocumentSource identifies the external system a connector pulls from.
type DocumentSource string

const (
	SourceCanvas DocumentSource = "canvas"
)

// InputType selects how a connector walks its source.
type InputType string

const (
	// InputTypeLoadState reloads the full source on every run.
	InputTypeLoadState InputType = "load_state"
	InputTypePoll      InputType = "poll"
	InputTypeEvent     InputType = "event"
)

// Valid reports whether t is a known input type.
func (t InputType) Valid() bool {
	switch t {
	case InputTypeLoadState, InputTypePoll, InputTypeEvent:
		return true
	}
	return false
}

// Connector is a backend-managed job that periodically pulls data from a source.
type Connector struct {
	ID                      int64          `json:"id"`
	Name                    string         `json:"name"`
	Source                  DocumentSource `json:"source"`
	InputType               InputType      `json:"input_type"`
	ConnectorSpecificConfig map[string]any `json:"connector_specific_config"`
	RefreshFreq             *int           `json:"refresh_freq"` // seconds; nil means manual runs only
	Disabled                bool           `json:"disabled"`
	CredentialIDs           []int64        `json:"credential_ids"`
	CreatedAt               time.Time      `json:"time_created"`
	UpdatedAt               time.Time      `json:"time_updated"`
}

// ConnectorRequest is the body accepted when creating a connector.
type ConnectorRequest struct {
	Name                    string         `json:"name"`
	Source                  DocumentSource `json:"source"`
	InputType               InputType      `json:"input_type"`
	ConnectorSpecificConfig map[string]any `json:"connector_specific_config"`
	RefreshFreq             *int           `json:"refresh_freq"`
	Disabled                bool           `json:"disabled"`
}

// ConnectorCredentialPair links one connector to one credential.
type ConnectorCredentialPair struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	ConnectorID  int64     `json:"connector_id"`
	CredentialID int64     `json:"credential_id"`
	CreatedAt    time.Time `json:"time_created"`
}

// LinkRequest is the body of a link call.
type LinkRequest struct {
	Name string `json:"name"`
}

// ConnectorUpdateRequest pauses or resumes a connector.
type ConnectorUpdateRequest struct {
	Disabled *bool `json:"disabled"`
}

// RunOnceRequest asks the scheduler to index a connector now.
type RunOnceRequest struct {
	ConnectorID   int64   `json:"connector_id"`
	CredentialIDs []int64 `json:"credential_ids"`
}
