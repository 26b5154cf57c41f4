package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/oapi-codegen/runtime"
	"go.uber.org/zap"

	"github.com/zenGate-Global/bizdesk/domains/appointments/be/service"
	modulesservice "github.com/zenGate-Global/bizdesk/domains/modules/be/service"
	platformauth "github.com/zenGate-Global/bizdesk/platform/go/auth"
	"github.com/zenGate-Global/bizdesk/platform/go/httpx"
	platformlogging "github.com/zenGate-Global/bizdesk/platform/go/logging"
	"github.com/zenGate-Global/bizdesk/platform/go/tenant"
)

type operation string

const (
	publicAvailabilityOperation operation = "appointmentsPublicAvailability"
	publicSlotsOperation        operation = "appointmentsPublicSlots"
	publicBookOperation         operation = "appointmentsPublicBook"
	availabilityOperation       operation = "appointmentsAvailability"
	businessHoursOperation      operation = "appointmentsReplaceBusinessHours"
	breaksOperation             operation = "appointmentsReplaceBreaks"
	listTimeOffOperation        operation = "appointmentsListTimeOff"
	createTimeOffOperation      operation = "appointmentsCreateTimeOff"
	deleteTimeOffOperation      operation = "appointmentsDeleteTimeOff"
	listOperation               operation = "appointmentsList"
	updateStatusOperation       operation = "appointmentsUpdateStatus"
)

// ModuleGate reports whether a tenant has a module enabled.
type ModuleGate interface {
	IsModuleEnabled(ctx context.Context, tenantID, moduleID string) (bool, error)
}

// Handler wires the appointments service to HTTP.
type Handler struct {
	svc    *service.Service
	gate   ModuleGate
	logger *zap.Logger
}

// New constructs a Handler instance.
func New(svc *service.Service, gate ModuleGate, logger *zap.Logger) *Handler {
	if svc == nil {
		panic("appointments service is required")
	}
	if gate == nil {
		panic("module gate is required")
	}
	if logger == nil {
		panic("logger is required")
	}
	return &Handler{svc: svc, gate: gate, logger: logger}
}

// RegisterPublic mounts the unauthenticated routes. The tenant comes from the Host header.
// bookingLimit wraps the booking endpoint.
func (h *Handler) RegisterPublic(r chi.Router, bookingLimit func(http.Handler) http.Handler) {
	r.Get("/public/availability", h.PublicAvailability)
	r.Get("/public/slots", h.PublicSlots)
	if bookingLimit == nil {
		r.Post("/public/appointments", h.PublicBook)
		return
	}
	r.With(bookingLimit).Post("/public/appointments", h.PublicBook)
}

// Register mounts the tenant routes on r.
func (h *Handler) Register(r chi.Router, authz *platformauth.Authorizer) {
	read := platformauth.RequirePermission(authz, platformauth.PermAppointmentsRead)
	write := platformauth.RequirePermission(authz, platformauth.PermAppointmentsWrite)

	r.With(read).Get("/appointments/availability", h.Availability)
	r.With(write).Put("/appointments/business-hours", h.ReplaceBusinessHours)
	r.With(write).Put("/appointments/breaks", h.ReplaceBreaks)
	r.With(read).Get("/appointments/time-off", h.ListTimeOff)
	r.With(write).Post("/appointments/time-off", h.CreateTimeOff)
	r.With(write).Delete("/appointments/time-off/{timeOffId}", h.DeleteTimeOff)
	r.With(read).Get("/appointments", h.List)
	r.With(write).Patch("/appointments/{appointmentId}", h.UpdateStatus)
}

type windowPayload struct {
	Weekday int    `json:"weekday"`
	Start   string `json:"start"`
	End     string `json:"end"`
}

type timeOffResponse struct {
	ID        uuid.UUID `json:"id"`
	StartsAt  time.Time `json:"startsAt"`
	EndsAt    time.Time `json:"endsAt"`
	Reason    *string   `json:"reason,omitempty"`
	CreatedAt time.Time `json:"createdAt"`
}

type availabilityResponse struct {
	Availability []windowPayload   `json:"availability"`
	Breaks       []windowPayload   `json:"breaks"`
	TimeOff      []timeOffResponse `json:"timeOff"`
	Source       *string           `json:"source"`
}

type slotResponse struct {
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
}

type appointmentResponse struct {
	ID            uuid.UUID `json:"id"`
	CustomerName  string    `json:"customerName"`
	CustomerEmail string    `json:"customerEmail"`
	CustomerPhone *string   `json:"customerPhone,omitempty"`
	StartsAt      time.Time `json:"startsAt"`
	EndsAt        time.Time `json:"endsAt"`
	Status        string    `json:"status"`
	Notes         *string   `json:"notes,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
	UpdatedAt     time.Time `json:"updatedAt"`
}

type publicBookingResponse struct {
	ID       uuid.UUID `json:"id"`
	StartsAt time.Time `json:"startsAt"`
	EndsAt   time.Time `json:"endsAt"`
	Status   string    `json:"status"`
}

// publicTenant returns the host tenant when it has the appointments module enabled.
func (h *Handler) publicTenant(ctx context.Context) (string, bool) {
	tenantID := tenant.TenantIDFromContext(ctx)
	if tenantID == "" {
		return "", false
	}
	enabled, err := h.gate.IsModuleEnabled(ctx, tenantID, modulesservice.ModuleAppointments)
	if err != nil {
		h.loggerFrom(ctx).Warn("check appointments module", zap.String("tenant_id", tenantID), zap.Error(err))
		return "", false
	}
	return tenantID, enabled
}

// PublicAvailability implements GET /public/availability. Unknown tenants and tenants without
// the module get an empty calendar.
func (h *Handler) PublicAvailability(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.publicTenant(r.Context())
	if !ok {
		httpx.WriteJSON(w, http.StatusOK, toAvailabilityResponse(service.Availability{}))
		return
	}

	availability, err := h.svc.GetAvailability(r.Context(), tenantID)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			httpx.WriteJSON(w, http.StatusOK, toAvailabilityResponse(service.Availability{}))
			return
		}
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, publicAvailabilityOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAvailabilityResponse(availability))
}

// PublicSlots implements GET /public/slots?date=YYYY-MM-DD.
func (h *Handler) PublicSlots(w http.ResponseWriter, r *http.Request) {
	var date string
	if err := runtime.BindQueryParameter("form", true, true, "date", r.URL.Query(), &date); err != nil {
		httpx.WriteProblem(w, httpx.Validation(map[string][]string{"date": {"Indica la fecha con el formato AAAA-MM-DD."}}))
		return
	}

	tenantID, ok := h.publicTenant(r.Context())
	if !ok {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"date": date, "items": []slotResponse{}})
		return
	}

	slots, err := h.svc.Slots(r.Context(), tenantID, date)
	if err != nil {
		if errors.Is(err, service.ErrNotFound) {
			httpx.WriteJSON(w, http.StatusOK, map[string]any{"date": date, "items": []slotResponse{}})
			return
		}
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, publicSlotsOperation))
		return
	}

	items := make([]slotResponse, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotResponse{StartsAt: s.StartsAt, EndsAt: s.EndsAt})
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"date": date, "items": items})
}

// PublicBook implements POST /public/appointments.
func (h *Handler) PublicBook(w http.ResponseWriter, r *http.Request) {
	tenantID, ok := h.publicTenant(r.Context())
	if !ok {
		httpx.WriteProblem(w, h.problemForError(r.Context(), service.ErrNotFound, publicBookOperation))
		return
	}

	var body struct {
		StartsAt      time.Time `json:"startsAt"`
		CustomerName  string    `json:"customerName"`
		CustomerEmail string    `json:"customerEmail"`
		CustomerPhone *string   `json:"customerPhone"`
		Notes         *string   `json:"notes"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, publicBookOperation))
		return
	}

	booked, err := h.svc.Book(r.Context(), tenantID, service.BookInput{
		StartsAt:      body.StartsAt,
		CustomerName:  body.CustomerName,
		CustomerEmail: body.CustomerEmail,
		CustomerPhone: body.CustomerPhone,
		Notes:         body.Notes,
	})
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, publicBookOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, publicBookingResponse{
		ID:       booked.ID,
		StartsAt: booked.StartsAt,
		EndsAt:   booked.EndsAt,
		Status:   booked.Status,
	})
}

// Availability implements GET /appointments/availability.
func (h *Handler) Availability(w http.ResponseWriter, r *http.Request) {
	availability, err := h.svc.GetAvailability(r.Context(), tenantOf(r.Context()))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, availabilityOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAvailabilityResponse(availability))
}

type windowsRequest struct {
	Items []windowPayload `json:"items"`
}

// ReplaceBusinessHours implements PUT /appointments/business-hours.
func (h *Handler) ReplaceBusinessHours(w http.ResponseWriter, r *http.Request) {
	var body windowsRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, businessHoursOperation))
		return
	}

	stored, err := h.svc.ReplaceBusinessHours(r.Context(), tenantOf(r.Context()), fromPayload(body.Items))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, businessHoursOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": toPayload(stored)})
}

// ReplaceBreaks implements PUT /appointments/breaks.
func (h *Handler) ReplaceBreaks(w http.ResponseWriter, r *http.Request) {
	var body windowsRequest
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, breaksOperation))
		return
	}

	stored, err := h.svc.ReplaceBreaks(r.Context(), tenantOf(r.Context()), fromPayload(body.Items))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, breaksOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": toPayload(stored)})
}

// ListTimeOff implements GET /appointments/time-off.
func (h *Handler) ListTimeOff(w http.ResponseWriter, r *http.Request) {
	items, err := h.svc.ListTimeOff(r.Context(), tenantOf(r.Context()))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, listTimeOffOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": toTimeOffResponses(items)})
}

// CreateTimeOff implements POST /appointments/time-off.
func (h *Handler) CreateTimeOff(w http.ResponseWriter, r *http.Request) {
	var body struct {
		StartsAt time.Time `json:"startsAt"`
		EndsAt   time.Time `json:"endsAt"`
		Reason   *string   `json:"reason"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, createTimeOffOperation))
		return
	}

	created, err := h.svc.CreateTimeOff(r.Context(), tenantOf(r.Context()), service.CreateTimeOffInput{
		StartsAt: body.StartsAt,
		EndsAt:   body.EndsAt,
		Reason:   body.Reason,
	})
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, createTimeOffOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, toTimeOffResponse(created))
}

// DeleteTimeOff implements DELETE /appointments/time-off/{timeOffId}.
func (h *Handler) DeleteTimeOff(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "timeOffId"))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), service.ErrNotFound, deleteTimeOffOperation))
		return
	}
	if err := h.svc.DeleteTimeOff(r.Context(), tenantOf(r.Context()), id); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, deleteTimeOffOperation))
		return
	}
	httpx.NoContent(w)
}

// List implements GET /appointments?from=&to=&status=.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	var opts service.ListOptions
	if err := runtime.BindQueryParameter("form", true, false, "from", query, &opts.From); err != nil {
		httpx.WriteProblem(w, httpx.Validation(map[string][]string{"from": {"Usa una fecha RFC 3339."}}))
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "to", query, &opts.To); err != nil {
		httpx.WriteProblem(w, httpx.Validation(map[string][]string{"to": {"Usa una fecha RFC 3339."}}))
		return
	}
	opts.Status = query.Get("status")

	items, err := h.svc.List(r.Context(), tenantOf(r.Context()), opts)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, listOperation))
		return
	}
	out := make([]appointmentResponse, 0, len(items))
	for _, a := range items {
		out = append(out, toAppointmentResponse(a))
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": out})
}

// UpdateStatus implements PATCH /appointments/{appointmentId}.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "appointmentId"))
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), service.ErrNotFound, updateStatusOperation))
		return
	}

	var body struct {
		Status string `json:"status"`
	}
	if err := httpx.DecodeJSON(r, &body); err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, updateStatusOperation))
		return
	}

	updated, err := h.svc.UpdateStatus(r.Context(), tenantOf(r.Context()), id, body.Status)
	if err != nil {
		httpx.WriteProblem(w, h.problemForError(r.Context(), err, updateStatusOperation))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, toAppointmentResponse(updated))
}

func tenantOf(ctx context.Context) string {
	p, _ := platformauth.PrincipalFromContext(ctx)
	return p.TenantID
}

func fromPayload(items []windowPayload) []service.Window {
	out := make([]service.Window, 0, len(items))
	for _, item := range items {
		out = append(out, service.Window{Weekday: item.Weekday, Start: item.Start, End: item.End})
	}
	return out
}

func toPayload(windows []service.Window) []windowPayload {
	out := make([]windowPayload, 0, len(windows))
	for _, w := range windows {
		out = append(out, windowPayload{Weekday: w.Weekday, Start: w.Start, End: w.End})
	}
	return out
}

func toAvailabilityResponse(a service.Availability) availabilityResponse {
	resp := availabilityResponse{
		Availability: toPayload(a.Availability),
		Breaks:       toPayload(a.Breaks),
		TimeOff:      toTimeOffResponses(a.TimeOff),
	}
	if a.Source != "" {
		source := string(a.Source)
		resp.Source = &source
	}
	return resp
}

func toTimeOffResponses(items []service.TimeOff) []timeOffResponse {
	out := make([]timeOffResponse, 0, len(items))
	for _, item := range items {
		out = append(out, toTimeOffResponse(item))
	}
	return out
}

func toTimeOffResponse(item service.TimeOff) timeOffResponse {
	return timeOffResponse{ID: item.ID, StartsAt: item.StartsAt, EndsAt: item.EndsAt, Reason: item.Reason, CreatedAt: item.CreatedAt}
}

func toAppointmentResponse(a service.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:            a.ID,
		CustomerName:  a.CustomerName,
		CustomerEmail: a.CustomerEmail,
		CustomerPhone: a.CustomerPhone,
		StartsAt:      a.StartsAt,
		EndsAt:        a.EndsAt,
		Status:        a.Status,
		Notes:         a.Notes,
		CreatedAt:     a.CreatedAt,
		UpdatedAt:     a.UpdatedAt,
	}
}

func (h *Handler) problemForError(ctx context.Context, err error, op operation) httpx.Problem {
	problem := classifyError(err)

	logger := h.loggerFrom(ctx)
	fields := []zap.Field{
		zap.String("operation", string(op)),
		zap.Int("status", problem.Status),
		zap.Error(err),
	}

	switch {
	case problem.Status >= http.StatusInternalServerError:
		logger.Error("appointments operation failed", fields...)
	case problem.Status == http.StatusNotFound:
		logger.Info("appointments resource not found", fields...)
	default:
		logger.Warn("appointments request rejected", fields...)
	}

	return problem
}

func classifyError(err error) httpx.Problem {
	if p, ok := httpx.AsProblem(err); ok {
		return p
	}
	var validationErr *service.ValidationError
	switch {
	case errors.As(err, &validationErr):
		return httpx.Validation(validationErr.Fields)
	case errors.Is(err, service.ErrSlotUnavailable):
		return httpx.Conflict("Ese horario ya no está disponible.")
	case errors.Is(err, service.ErrInvalidTransition):
		return httpx.Conflict("La cita no puede cambiar a ese estado.")
	case errors.Is(err, service.ErrNotFound):
		return httpx.NotFound("No encontramos lo que buscabas.")
	default:
		return httpx.Internal()
	}
}

func (h *Handler) loggerFrom(ctx context.Context) *zap.Logger {
	if logger, ok := platformlogging.FromContext(ctx); ok {
		return logger
	}
	return h.logger
}
