package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradecore-io/tradecore-saas/domains/tenants/be/service"
	"github.com/tradecore-io/tradecore-saas/platform/go/logging"
)

const (
	problemTypeValidation = "https://tradecore.io/problems/validation-error"
	problemTypeNotFound   = "https://tradecore.io/problems/not-found"
	problemTypeConflict   = "https://tradecore.io/problems/conflict"
	problemTypeThrottled  = "https://tradecore.io/problems/rate-limited"
	problemTypeInternal   = "https://tradecore.io/problems/internal-error"
)

type problem struct {
	Type   string `json:"type"`
	Title  string `json:"title"`
	Detail string `json:"detail,omitempty"`
	Status int    `json:"status"`
}

// Handler exposes tenant lifecycle operations over HTTP. All routes are
// mounted behind the force-control-plane middleware.
type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("tenants service is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, logger: logger}
}

// Routes mounts the tenant admin surface.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.create)
	r.Get("/", h.list)
	r.Route("/{tenantID}", func(r chi.Router) {
		r.Get("/", h.get)
		r.Delete("/", h.delete)
		r.Get("/status", h.status)
		r.Post("/status", h.updateStatus)
		r.Get("/deletion-preview", h.deletionPreview)
		r.Post("/schema", h.initSchema)
		r.Get("/schema", h.verifySchema)
		r.Get("/permissions", h.permissions)
		r.Get("/connection", h.connection)
	})
	return r
}

type createRequest struct {
	Name      string `json:"name"`
	Email     string `json:"email"`
	Phone     string `json:"phone,omitempty"`
	AdminUser *struct {
		Name  string `json:"name"`
		Email string `json:"email"`
		Role  string `json:"role,omitempty"`
	} `json:"adminUser,omitempty"`
}

type tenantResponse struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Email        string    `json:"email"`
	Phone        string    `json:"phone,omitempty"`
	Status       string    `json:"status"`
	DatabaseName string    `json:"databaseName,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

func toResponse(t service.Tenant) tenantResponse {
	return tenantResponse{
		ID:           t.ID,
		Name:         t.Name,
		Email:        t.Email,
		Phone:        t.Phone,
		Status:       string(t.Status),
		DatabaseName: t.DatabaseName,
		CreatedAt:    t.CreatedAt,
		UpdatedAt:    t.UpdatedAt,
	}
}

func (h *Handler) create(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.problem(w, http.StatusBadRequest, problemTypeValidation, "Invalid request body", err.Error())
		return
	}

	input := service.CreateInput{Name: req.Name, Email: req.Email, Phone: req.Phone}
	if req.AdminUser != nil {
		input.AdminUser = &service.UserSeed{
			ID:    uuid.New(),
			Name:  req.AdminUser.Name,
			Email: req.AdminUser.Email,
			Role:  req.AdminUser.Role,
		}
	}

	t, err := h.svc.Create(r.Context(), input)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	w.Header().Set("Location", "/api/v1/admin/tenants/"+t.ID.String())
	h.respond(w, http.StatusCreated, toResponse(t))
}

func (h *Handler) list(w http.ResponseWriter, r *http.Request) {
	tenants, err := h.svc.List(r.Context())
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	items := make([]tenantResponse, 0, len(tenants))
	for _, t := range tenants {
		items = append(items, toResponse(t))
	}
	h.respond(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	t, err := h.svc.Get(r.Context(), id)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, toResponse(t))
}

type deleteRequest struct {
	SoftDelete bool `json:"softDelete"`
	Force      bool `json:"force"`
}

func (h *Handler) delete(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}

	var req deleteRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.problem(w, http.StatusBadRequest, problemTypeValidation, "Invalid request body", err.Error())
			return
		}
	}
	req.Force = req.Force || r.URL.Query().Get("force") == "true"
	req.SoftDelete = req.SoftDelete || r.URL.Query().Get("soft") == "true"

	result, err := h.svc.SafeDelete(r.Context(), id, service.SafeDeleteOptions{
		SoftDelete: req.SoftDelete,
		Force:      req.Force,
	})
	if err != nil {
		h.problemForError(w, r, err)
		return
	}

	status := http.StatusOK
	if !result.Deleted && !result.SoftDeleted {
		status = http.StatusConflict
	}
	h.respond(w, status, result)
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	var req updateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.problem(w, http.StatusBadRequest, problemTypeValidation, "Invalid request body", err.Error())
		return
	}
	status, err := service.ParseStatus(req.Status)
	if err != nil {
		h.problem(w, http.StatusBadRequest, problemTypeValidation, "Invalid status", err.Error())
		return
	}
	touched, err := h.svc.UpdateStatus(r.Context(), id, status)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]any{"status": status, "usersUpdated": touched})
}

func (h *Handler) status(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	report, err := h.svc.GetStatus(r.Context(), id)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, report)
}

func (h *Handler) deletionPreview(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	preview, err := h.svc.PreviewDeletion(r.Context(), id)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, preview)
}

func (h *Handler) initSchema(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	if err := h.svc.InitializeSchema(r.Context(), id); err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, map[string]string{"result": "schema applied"})
}

func (h *Handler) verifySchema(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	report, err := h.svc.VerifySchema(r.Context(), id)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, report)
}

func (h *Handler) permissions(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	report, err := h.svc.TestPermissions(r.Context(), id)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, report)
}

func (h *Handler) connection(w http.ResponseWriter, r *http.Request) {
	id, ok := h.tenantID(w, r)
	if !ok {
		return
	}
	details, err := h.svc.GetConnectionDetails(r.Context(), id)
	if err != nil {
		h.problemForError(w, r, err)
		return
	}
	h.respond(w, http.StatusOK, details)
}

func (h *Handler) tenantID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "tenantID"))
	if err != nil {
		h.problem(w, http.StatusBadRequest, problemTypeValidation, "Invalid tenant id", err.Error())
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) respond(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.logger.Error("encode response", zap.Error(err))
	}
}

func (h *Handler) problem(w http.ResponseWriter, status int, ptype, title, detail string) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(problem{Type: ptype, Title: title, Detail: detail, Status: status})
}

func (h *Handler) problemForError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrNotFound):
		h.problem(w, http.StatusNotFound, problemTypeNotFound, "Tenant not found", "")
	case errors.Is(err, service.ErrEmailTaken):
		h.problem(w, http.StatusConflict, problemTypeConflict, "Email already registered", "")
	case errors.Is(err, service.ErrThrottled):
		h.problem(w, http.StatusTooManyRequests, problemTypeThrottled, "Too many tenant creations", "")
	default:
		// The request-scoped logger already carries request_id and path.
		logging.FromRequest(r, h.logger).Error("tenant operation failed", zap.Error(err))
		h.problem(w, http.StatusInternalServerError, problemTypeInternal, "Internal error", "")
	}
}
