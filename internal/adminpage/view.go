package adminpage

import (
	"github.com/canvasadmin/canvasadmin/internal/models"
	"github.com/canvasadmin/canvasadmin/internal/sources"
	"github.com/canvasadmin/canvasadmin/internal/store"
)

// State is the panel layout selected from the two page resources.
type State int

const (
	StateLoading State = iota
	StateError
	StateNoCredential
	StateCredentialOnly
	StateConnectorActive
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateError:
		return "error"
	case StateNoCredential:
		return "no_credential"
	case StateCredentialOnly:
		return "credential_only"
	case StateConnectorActive:
		return "connector_active"
	}
	return "unknown"
}

// Fetch failure messages.
const (
	MsgConnectorsFailed  = "Failed to load connectors"
	MsgCredentialsFailed = "Failed to load credentials"
)

// View is everything the page renders.
type View struct {
	State        State
	ErrorMessage string

	Kind sources.Kind

	// Credential is the first public credential of the kind, nil if none.
	Credential *models.Credential
	// Connectors are the status rows of the kind's connectors.
	Connectors []models.ConnectorIndexingStatus

	ShowGuidance       bool
	ShowCredentialForm bool
	ShowStatusTable    bool
	ShowCreationPanel  bool
	// CreationCredentialID is the credential the creation panel links to.
	CreationCredentialID int64
}

// CredentialKey is the key shown for the visible credential.
func (v View) CredentialKey() string {
	if v.Credential == nil {
		return ""
	}
	return v.Kind.CredentialKey(*v.Credential)
}

// RowCredentialKey is the key shown for a status row.
func (v View) RowCredentialKey(row models.ConnectorIndexingStatus) string {
	if row.Credential == nil {
		return ""
	}
	return v.Kind.CredentialKey(*row.Credential)
}

// CanLink reports whether row can be linked to the visible credential.
func (v View) CanLink(row models.ConnectorIndexingStatus) bool {
	return v.Credential != nil && row.Credential == nil
}

var canvasKind = sources.NewCanvas()

// SelectState picks the Canvas page layout from the indexing-status and
// credential results.
func SelectState(statuses, credentials store.Result) View {
	return SelectStateFor(canvasKind, statuses, credentials)
}

// SelectStateFor picks the layout for any source kind. It is pure: the same
// results always give the same view.
func SelectStateFor(kind sources.Kind, statuses, credentials store.Result) View {
	v := View{Kind: kind}

	if pending(statuses) || pending(credentials) {
		v.State = StateLoading
		return v
	}

	rows, ok := statuses.Data.([]models.ConnectorIndexingStatus)
	if statuses.Err != nil || !ok {
		v.State = StateError
		v.ErrorMessage = MsgConnectorsFailed
		return v
	}
	creds, ok := credentials.Data.([]models.Credential)
	if credentials.Err != nil || !ok {
		v.State = StateError
		v.ErrorMessage = MsgCredentialsFailed
		return v
	}

	for _, row := range rows {
		if row.Connector.Source == kind.Source() {
			v.Connectors = append(v.Connectors, row)
		}
	}
	for i := range creds {
		if kind.MatchCredential(creds[i]) {
			c := creds[i]
			v.Credential = &c
			break
		}
	}

	v.ShowStatusTable = len(v.Connectors) > 0
	switch {
	case v.Credential == nil:
		v.State = StateNoCredential
		v.ShowGuidance = true
		v.ShowCredentialForm = true
	case len(v.Connectors) == 0:
		v.State = StateCredentialOnly
		v.ShowCreationPanel = true
		v.CreationCredentialID = v.Credential.ID
	default:
		v.State = StateConnectorActive
	}
	return v
}

// pending is true while a resource has neither data nor an error.
func pending(r store.Result) bool {
	return r.Loading && r.Data == nil && r.Err == nil
}
