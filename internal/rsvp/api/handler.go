package api

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"ms-rsvp/internal/events"
	"ms-rsvp/internal/logger"
	"ms-rsvp/internal/models"
	"ms-rsvp/internal/rsvp"
	"ms-rsvp/internal/utils"
)

type Handler struct {
	RSVP   *rsvp.Service
	Events *events.DB
	Logger *logger.Logger
}

func NewHandler(service *rsvp.Service, eventsDB *events.DB, log *logger.Logger) *Handler {
	return &Handler{
		RSVP:   service,
		Events: eventsDB,
		Logger: log,
	}
}

// Routes mounts all RSVP endpoints on a chi router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/healthz", h.Health)
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/events", h.ListEvents)
		r.Get("/events/{eventId}", h.GetEvent)
		r.Post("/events/{eventId}/rsvps", h.CreateRSVP)
		r.Get("/events/{eventId}/rsvps/{userId}", h.GetRSVP)
		r.Delete("/events/{eventId}/rsvps/{userId}", h.CancelRSVP)
		r.Get("/rsvps/confirm", h.ConfirmRSVP)
	})
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Write([]byte(`{"status":"ok"}`))
}

func (h *Handler) ListEvents(w http.ResponseWriter, r *http.Request) {
	eventList, err := h.Events.ListEvents(r.Context())
	if err != nil {
		h.Logger.Error("API", fmt.Sprintf("ListEvents: %v", err))
		h.writeError(w, http.StatusInternalServerError, "Could not list events")
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("events", eventList))
}

func (h *Handler) GetEvent(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	event, err := h.Events.GetEventByID(r.Context(), eventID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			h.writeError(w, http.StatusNotFound, "Event not found")
			return
		}
		h.Logger.Error("API", fmt.Sprintf("GetEvent: %v", err))
		h.writeError(w, http.StatusInternalServerError, "Could not load event")
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("event", event))
}

func (h *Handler) CreateRSVP(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")

	var req models.RSVPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, http.StatusBadRequest, "Invalid request body: "+err.Error())
		return
	}
	if req.UserID == "" {
		h.writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}
	h.Logger.Info("API", fmt.Sprintf("CreateRSVP: eventId=%s userId=%s", eventID, req.UserID))

	reservation, err := h.RSVP.Reserve(r.Context(), eventID, req.UserID)
	if err != nil {
		h.writeRSVPError(w, "CreateRSVP", err)
		return
	}

	h.writeJSON(w, http.StatusCreated,
		utils.SuccessResponse("Reservation created; check your email for the confirmation link", reservation))
}

func (h *Handler) ConfirmRSVP(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	if token == "" {
		h.writeError(w, http.StatusBadRequest, "token is required")
		return
	}
	// The token itself is never logged.
	h.Logger.Info("API", "ConfirmRSVP: confirmation attempt received")

	reservation, err := h.RSVP.Confirm(r.Context(), token)
	if err != nil {
		h.writeRSVPError(w, "ConfirmRSVP", err)
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Reservation confirmed", reservation))
}

func (h *Handler) GetRSVP(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	userID := chi.URLParam(r, "userId")

	reservation, err := h.RSVP.Status(r.Context(), eventID, userID)
	if err != nil {
		h.writeRSVPError(w, "GetRSVP", err)
		return
	}
	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("reservation", reservation))
}

func (h *Handler) CancelRSVP(w http.ResponseWriter, r *http.Request) {
	eventID := chi.URLParam(r, "eventId")
	userID := chi.URLParam(r, "userId")
	h.Logger.Info("API", fmt.Sprintf("CancelRSVP: eventId=%s userId=%s", eventID, userID))

	reservation, err := h.RSVP.Cancel(r.Context(), eventID, userID)
	if err != nil {
		h.writeRSVPError(w, "CancelRSVP", err)
		return
	}

	h.writeJSON(w, http.StatusOK, utils.SuccessResponse("Reservation cancelled", reservation))
}

// writeRSVPError maps the engine's sentinel errors onto HTTP statuses.
func (h *Handler) writeRSVPError(w http.ResponseWriter, op string, err error) {
	var status int
	switch {
	case errors.Is(err, rsvp.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, rsvp.ErrAlreadyConfirmed),
		errors.Is(err, rsvp.ErrAlreadyPending),
		errors.Is(err, rsvp.ErrCapacityExceeded):
		status = http.StatusConflict
	case errors.Is(err, rsvp.ErrConfirmationWindowExpired):
		status = http.StatusGone
	case errors.Is(err, rsvp.ErrInvalidOrExpiredToken):
		status = http.StatusBadRequest
	default:
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
		h.writeError(w, http.StatusInternalServerError, "Internal error")
		return
	}
	h.writeError(w, status, err.Error())
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, body utils.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		h.Logger.Error("API", fmt.Sprintf("failed to encode response: %v", err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, utils.ErrorResponse(message, http.StatusText(status)))
}
