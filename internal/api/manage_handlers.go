package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/canvasadmin/canvasadmin/internal/auth"
	"github.com/canvasadmin/canvasadmin/internal/manage"
	"github.com/canvasadmin/canvasadmin/internal/models"
)

// ManageHandlers serves the credential and connector management endpoints.
type ManageHandlers struct {
	service *manage.Service
	logger  *slog.Logger
}

// NewManageHandlers creates management handlers
func NewManageHandlers(service *manage.Service, logger *slog.Logger) *ManageHandlers {
	return &ManageHandlers{service: service, logger: logger}
}

// IndexingStatus handles GET /api/manage/admin/connector/indexing-status
func (h *ManageHandlers) IndexingStatus(w http.ResponseWriter, r *http.Request) {
	statuses, err := h.service.IndexingStatuses(r.Context())
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, statuses)
}

// ListCredentials handles GET /api/manage/credential
func (h *ManageHandlers) ListCredentials(w http.ResponseWriter, r *http.Request) {
	reveal, _ := strconv.ParseBool(r.URL.Query().Get("reveal"))
	creds, err := h.service.ListCredentials(r.Context(), reveal)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, creds)
}

// CreateCredential handles POST /api/manage/credential
func (h *ManageHandlers) CreateCredential(w http.ResponseWriter, r *http.Request) {
	var req models.CredentialRequest
	if !decodeBody(w, r, &req) {
		return
	}

	var owner *string
	if userID, ok := auth.GetUserIDFromContext(r.Context()); ok {
		owner = &userID
	}

	cred, err := h.service.CreateCredential(r.Context(), req, owner)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, cred.Masked())
}

// DeleteCredential handles DELETE /api/manage/admin/credential/{id}
func (h *ManageHandlers) DeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeDetail(w, http.StatusBadRequest, "Invalid credential id")
		return
	}
	if err := h.service.DeleteCredential(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ListConnectors handles GET /api/manage/admin/connector, optionally filtered
// by ?source=
func (h *ManageHandlers) ListConnectors(w http.ResponseWriter, r *http.Request) {
	var (
		conns []models.Connector
		err   error
	)
	if source := r.URL.Query().Get("source"); source != "" {
		conns, err = h.service.ListConnectorsBySource(r.Context(), models.DocumentSource(source))
	} else {
		conns, err = h.service.ListConnectors(r.Context())
	}
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, conns)
}

// CreateConnector handles POST /api/manage/admin/connector
func (h *ManageHandlers) CreateConnector(w http.ResponseWriter, r *http.Request) {
	var req models.ConnectorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	conn, err := h.service.CreateConnector(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, conn)
}

// DeleteConnector handles DELETE /api/manage/admin/connector/{id}
func (h *ManageHandlers) DeleteConnector(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeDetail(w, http.StatusBadRequest, "Invalid connector id")
		return
	}
	if err := h.service.DeleteConnector(r.Context(), id); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// UpdateConnector handles PATCH /api/manage/admin/connector/{id}
func (h *ManageHandlers) UpdateConnector(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r, "id")
	if !ok {
		writeDetail(w, http.StatusBadRequest, "Invalid connector id")
		return
	}
	var req models.ConnectorUpdateRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Disabled == nil {
		writeDetail(w, http.StatusBadRequest, "disabled is required")
		return
	}

	conn, err := h.service.SetConnectorDisabled(r.Context(), id, *req.Disabled)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, conn)
}

// LinkCredential handles PUT /api/manage/connector/{connector_id}/credential/{credential_id}
func (h *ManageHandlers) LinkCredential(w http.ResponseWriter, r *http.Request) {
	connectorID, ok1 := pathID(r, "connector_id")
	credentialID, ok2 := pathID(r, "credential_id")
	if !ok1 || !ok2 {
		writeDetail(w, http.StatusBadRequest, "Invalid connector or credential id")
		return
	}

	var req models.LinkRequest
	if r.ContentLength != 0 && !decodeBody(w, r, &req) {
		return
	}

	pair, err := h.service.LinkCredential(r.Context(), connectorID, credentialID, req.Name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, pair)
}

// UnlinkCredential handles DELETE /api/manage/connector/{connector_id}/credential/{credential_id}
func (h *ManageHandlers) UnlinkCredential(w http.ResponseWriter, r *http.Request) {
	connectorID, ok1 := pathID(r, "connector_id")
	credentialID, ok2 := pathID(r, "credential_id")
	if !ok1 || !ok2 {
		writeDetail(w, http.StatusBadRequest, "Invalid connector or credential id")
		return
	}
	if err := h.service.UnlinkCredential(r.Context(), connectorID, credentialID); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// RunOnce handles POST /api/manage/admin/connector/run-once
func (h *ManageHandlers) RunOnce(w http.ResponseWriter, r *http.Request) {
	var req models.RunOnceRequest
	if !decodeBody(w, r, &req) {
		return
	}
	queued, err := h.service.RunOnce(r.Context(), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, map[string]int{"queued": queued})
}
