package adminpage

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/canvasadmin/canvasadmin/internal/auth"
	"github.com/canvasadmin/canvasadmin/internal/sources"
)

//go:embed templates/*.html
var templateFS embed.FS

var pageTemplate = template.Must(template.New("page.html").Funcs(template.FuncMap{
	"formatTime": formatTime,
}).ParseFS(templateFS, "templates/page.html"))

var loginTemplate = template.Must(template.ParseFS(templateFS, "templates/login.html"))

// csrfField is the hidden form field every page form posts back.
const csrfField = "csrf_token"

// sessionUserID is the identity of tokens issued by the page login form.
const sessionUserID = "admin"

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05 UTC")
}

// Notice types shown in the popup.
const (
	NoticeSuccess = "success"
	NoticeError   = "error"
)

// Notice is a one-shot popup message.
type Notice struct {
	Type    string
	Message string
}

// HealthFunc reports backend health for the page banner.
type HealthFunc func(ctx context.Context) error

// Handler serves the page as server-rendered HTML with form posts. Every route
// but the login form needs an admin session.
type Handler struct {
	page   *Page
	prefix string
	auth   auth.Config
	health HealthFunc
	logger *slog.Logger
}

// NewHandler creates a handler mounted under prefix, for example
// "/admin/connectors/canvas". health may be nil.
func NewHandler(page *Page, prefix string, authCfg auth.Config, health HealthFunc, logger *slog.Logger) *Handler {
	return &Handler{page: page, prefix: prefix, auth: authCfg, health: health, logger: logger}
}

// Mount registers the page routes on r.
func (h *Handler) Mount(r *mux.Router) {
	sub := r.PathPrefix(h.prefix).Subrouter()
	sub.HandleFunc("/login", h.HandleLoginPage).Methods(http.MethodGet)
	sub.HandleFunc("/login", h.HandleLogin).Methods(http.MethodPost)
	sub.Handle("/logout", h.protect(h.HandleLogout)).Methods(http.MethodPost)

	sub.Handle("", h.protect(h.HandlePage)).Methods(http.MethodGet)
	sub.Handle("/", h.protect(h.HandlePage)).Methods(http.MethodGet)
	sub.Handle("/credential", h.protect(h.HandleCreateCredential)).Methods(http.MethodPost)
	sub.Handle("/credential/{id:[0-9]+}/delete", h.protect(h.HandleDeleteCredential)).Methods(http.MethodPost)
	sub.Handle("/connector", h.protect(h.HandleCreateConnector)).Methods(http.MethodPost)
	sub.Handle("/connector/{id:[0-9]+}/link", h.protect(h.HandleLinkCredential)).Methods(http.MethodPost)
	sub.Handle("/connector/{id:[0-9]+}/delete", h.protect(h.HandleDeleteConnector)).Methods(http.MethodPost)
	sub.Handle("/connector/{id:[0-9]+}/run", h.protect(h.HandleRunNow)).Methods(http.MethodPost)
	sub.Handle("/connector/{id:[0-9]+}/pause", h.protect(h.HandleSetDisabled(true))).Methods(http.MethodPost)
	sub.Handle("/connector/{id:[0-9]+}/resume", h.protect(h.HandleSetDisabled(false))).Methods(http.MethodPost)
	sub.Handle("/refresh", h.protect(h.HandleRefresh)).Methods(http.MethodPost)
}

// protect admits requests carrying an admin session. Unauthenticated page
// loads go to the login form; cookie-authenticated posts must echo the
// session's CSRF token.
func (h *Handler) protect(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s, err := auth.Authenticate(r, h.auth)
		if err != nil {
			if r.Method == http.MethodGet {
				http.Redirect(w, r, h.prefix+"/login", http.StatusSeeOther)
				return
			}
			http.Error(w, err.Error(), http.StatusUnauthorized)
			return
		}
		if r.Method == http.MethodPost && s.FromCookie {
			if err := r.ParseForm(); err != nil {
				http.Error(w, "Invalid form", http.StatusBadRequest)
				return
			}
			if !auth.ValidCSRFToken(h.auth.JWTSecret, s.Token, r.PostForm.Get(csrfField)) {
				h.logger.Warn("admin page post without a valid csrf token", "path", r.URL.Path)
				http.Error(w, "Invalid CSRF token", http.StatusForbidden)
				return
			}
		}
		next(w, r.WithContext(auth.WithSession(r.Context(), s)))
	})
}

// SessionToken returns the admin token of the request being served. Page API
// clients use it so each call runs as the signed-in admin.
func SessionToken(ctx context.Context) (string, error) {
	s, ok := auth.SessionFromContext(ctx)
	if !ok {
		return "", errors.New("no admin session on the request")
	}
	return s.Token, nil
}

type loginData struct {
	Prefix string
	Title  string
	Error  string
}

// HandleLoginPage shows the password form, or the page when a session exists.
func (h *Handler) HandleLoginPage(w http.ResponseWriter, r *http.Request) {
	if _, err := auth.Authenticate(r, h.auth); err == nil {
		http.Redirect(w, r, h.prefix, http.StatusSeeOther)
		return
	}
	h.renderLogin(w, http.StatusOK, "")
}

// HandleLogin checks the admin password and starts a cookie session.
func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	if !auth.CheckPassword(r.PostForm.Get("password"), h.auth.PasswordHash) {
		h.logger.Warn("failed admin page login", "ip", r.RemoteAddr)
		h.renderLogin(w, http.StatusUnauthorized, "Invalid password")
		return
	}

	token, err := auth.GenerateToken(sessionUserID, h.auth.JWTSecret, h.auth.TokenDuration)
	if err != nil {
		h.logger.Error("failed to generate token", "error", err)
		h.renderLogin(w, http.StatusInternalServerError, "Login failed. Please try again.")
		return
	}
	auth.SetSessionCookie(w, r, token, h.auth.TokenDuration)
	h.logger.Info("admin page login", "ip", r.RemoteAddr)
	http.Redirect(w, r, h.prefix, http.StatusSeeOther)
}

// HandleLogout ends the cookie session.
func (h *Handler) HandleLogout(w http.ResponseWriter, r *http.Request) {
	auth.ClearSessionCookie(w, r)
	http.Redirect(w, r, h.prefix+"/login", http.StatusSeeOther)
}

func (h *Handler) renderLogin(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	data := loginData{Prefix: h.prefix, Title: h.page.Kind().DisplayName(), Error: message}
	if err := loginTemplate.Execute(w, data); err != nil {
		h.logger.Error("failed to render login page", "error", err)
	}
}

type pageData struct {
	Prefix      string
	CSRF        string
	View        View
	Fields      []sources.Field
	Values      map[string]string
	FieldErrors sources.FieldErrors
	Notice      *Notice
	Unhealthy   string
	Connector   connectorSummary
}

type connectorSummary struct {
	Name        string
	RefreshMins int
}

// HandlePage renders the current view.
func (h *Handler) HandlePage(w http.ResponseWriter, r *http.Request) {
	var notice *Notice
	if msg := r.URL.Query().Get("notice"); msg != "" {
		notice = &Notice{Type: r.URL.Query().Get("notice_type"), Message: msg}
		if notice.Type != NoticeSuccess {
			notice.Type = NoticeError
		}
	}
	h.render(w, r, http.StatusOK, h.page.Load(r.Context()), nil, nil, notice)
}

// HandleCreateCredential submits the credential form.
func (h *Handler) HandleCreateCredential(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}

	values := make(map[string]string)
	for _, f := range h.page.Kind().Fields() {
		values[f.Name] = r.PostForm.Get(f.Name)
	}

	if _, err := h.page.CreateCredential(r.Context(), values); err != nil {
		var fe sources.FieldErrors
		if errors.As(err, &fe) {
			h.render(w, r, http.StatusUnprocessableEntity, h.page.Load(r.Context()), values, fe, nil)
			return
		}
		h.logger.Error("failed to create credential", "error", err)
		h.redirect(w, r, NoticeError, "Failed to create credential - "+err.Error())
		return
	}
	h.redirect(w, r, NoticeSuccess, "Credentials created successfully!")
}

// HandleDeleteCredential deletes the visible credential.
func (h *Handler) HandleDeleteCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := routeID(w, r)
	if !ok {
		return
	}
	if err := h.page.DeleteCredential(r.Context(), id); err != nil {
		if !errors.Is(err, ErrConnectorsExist) {
			h.logger.Error("failed to delete credential", "credential_id", id, "error", err)
		}
		h.redirect(w, r, NoticeError, err.Error())
		return
	}
	h.redirect(w, r, "", "")
}

// HandleCreateConnector submits the creation panel.
func (h *Handler) HandleCreateConnector(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	credID, err := strconv.ParseInt(r.PostForm.Get("credential_id"), 10, 64)
	if err != nil {
		h.redirect(w, r, NoticeError, ErrNoCredential.Error())
		return
	}

	if _, err := h.page.CreateConnector(r.Context(), credID); err != nil {
		h.logger.Error("failed to create connector", "credential_id", credID, "error", err)
		h.redirect(w, r, NoticeError, "Failed to create connector - "+err.Error())
		return
	}
	h.redirect(w, r, NoticeSuccess, "Successfully created connector!")
}

// HandleLinkCredential links the visible credential to a connector row.
func (h *Handler) HandleLinkCredential(w http.ResponseWriter, r *http.Request) {
	id, ok := routeID(w, r)
	if !ok {
		return
	}
	if err := h.page.LinkCredential(r.Context(), id); err != nil {
		h.logger.Error("failed to link credential", "connector_id", id, "error", err)
		h.redirect(w, r, NoticeError, "Failed to link credential - "+err.Error())
		return
	}
	h.redirect(w, r, "", "")
}

// HandleDeleteConnector removes a connector row.
func (h *Handler) HandleDeleteConnector(w http.ResponseWriter, r *http.Request) {
	id, ok := routeID(w, r)
	if !ok {
		return
	}
	if err := h.page.DeleteConnector(r.Context(), id); err != nil {
		h.logger.Error("failed to delete connector", "connector_id", id, "error", err)
		h.redirect(w, r, NoticeError, "Failed to delete connector - "+err.Error())
		return
	}
	h.redirect(w, r, NoticeSuccess, "Successfully deleted connector")
}

// HandleRunNow triggers an immediate index run.
func (h *Handler) HandleRunNow(w http.ResponseWriter, r *http.Request) {
	id, ok := routeID(w, r)
	if !ok {
		return
	}
	n, err := h.page.RunNow(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to run connector", "connector_id", id, "error", err)
		h.redirect(w, r, NoticeError, "Failed to run connector - "+err.Error())
		return
	}
	h.redirect(w, r, NoticeSuccess, fmt.Sprintf("Triggered %d index run(s)", n))
}

// HandleSetDisabled pauses or resumes a connector row.
func (h *Handler) HandleSetDisabled(disabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := routeID(w, r)
		if !ok {
			return
		}
		if err := h.page.SetConnectorDisabled(r.Context(), id, disabled); err != nil {
			h.logger.Error("failed to update connector", "connector_id", id, "disabled", disabled, "error", err)
			h.redirect(w, r, NoticeError, "Failed to update connector - "+err.Error())
			return
		}
		if disabled {
			h.redirect(w, r, NoticeSuccess, "Connector paused")
			return
		}
		h.redirect(w, r, NoticeSuccess, "Connector resumed")
	}
}

// HandleRefresh drops cached statuses.
func (h *Handler) HandleRefresh(w http.ResponseWriter, r *http.Request) {
	h.page.Update(r.Context())
	h.redirect(w, r, "", "")
}

func (h *Handler) render(w http.ResponseWriter, r *http.Request, status int, view View, values map[string]string, fe sources.FieldErrors, notice *Notice) {
	kind := h.page.Kind()
	data := pageData{
		Prefix:      h.prefix,
		View:        view,
		Fields:      kind.Fields(),
		Values:      values,
		FieldErrors: fe,
		Notice:      notice,
		Connector: connectorSummary{
			Name:        kind.ConnectorName(),
			RefreshMins: int(kind.RefreshFreq().Minutes()),
		},
	}
	if data.Values == nil {
		data.Values = map[string]string{}
	}
	if s, ok := auth.SessionFromContext(r.Context()); ok {
		data.CSRF = auth.CSRFToken(h.auth.JWTSecret, s.Token)
	}
	if h.health != nil {
		if err := h.health(r.Context()); err != nil {
			data.Unhealthy = err.Error()
		}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := pageTemplate.Execute(w, data); err != nil {
		h.logger.Error("failed to render admin page", "error", err)
	}
}

// redirect sends the browser back to the page after a post.
func (h *Handler) redirect(w http.ResponseWriter, r *http.Request, noticeType, message string) {
	target := h.prefix
	if message != "" {
		q := url.Values{}
		q.Set("notice", message)
		q.Set("notice_type", noticeType)
		target += "?" + q.Encode()
	}
	http.Redirect(w, r, target, http.StatusSeeOther)
}

func routeID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		http.Error(w, "Invalid id", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
