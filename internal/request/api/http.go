package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/raktlink/platform/internal/matching"
	"github.com/raktlink/platform/internal/request/domain"
	"github.com/raktlink/platform/internal/request/service"
	"github.com/raktlink/platform/internal/shared/auth"
	"github.com/raktlink/platform/internal/shared/errors"
	"github.com/raktlink/platform/internal/shared/types"
)

// Handler provides HTTP handlers for the request module
type Handler struct {
	svc *service.Service
}

// NewHandler creates a new request handler
func NewHandler(svc *service.Service) *Handler {
	return &Handler{svc: svc}
}

// Routes registers the request routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/", h.ListRequests)
	r.Post("/", h.CreateRequest)

	r.Route("/{requestID}", func(r chi.Router) {
		r.Get("/", h.GetRequest)
		r.Put("/", h.EditRequest)
		r.Post("/cancel", h.CancelRequest)
		r.With(auth.RequireDonor()).Post("/respond", h.Respond)
		r.Post("/complete", h.Complete)
	})

	return r
}

// --- Request/Response types ---

type HospitalPayload struct {
	Name    string  `json:"name"`
	Address string  `json:"address"`
	Lon     float64 `json:"lon"`
	Lat     float64 `json:"lat"`
}

type CreateRequestRequest struct {
	PatientName     string          `json:"patientName"`
	BloodGroup      string          `json:"bloodGroup"`
	Units           int             `json:"units"`
	Urgency         string          `json:"urgency"`
	Reason          string          `json:"reason"`
	AdditionalNotes string          `json:"additionalNotes"`
	Hospital        HospitalPayload `json:"hospital"`
}

type EditRequestRequest struct {
	PatientName     *string          `json:"patientName,omitempty"`
	Units           *int             `json:"units,omitempty"`
	Urgency         *string          `json:"urgency,omitempty"`
	Reason          *string          `json:"reason,omitempty"`
	AdditionalNotes *string          `json:"additionalNotes,omitempty"`
	Hospital        *HospitalPayload `json:"hospital,omitempty"`
}

type RespondRequest struct {
	Response string `json:"response"`
}

type CompleteRequest struct {
	DonorID string `json:"donorId"`
}

// --- Handlers ---

// CreateRequest raises a new blood request
func (h *Handler) CreateRequest(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req CreateRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	created, candidateCount, err := h.svc.Create(r.Context(), user.ID, service.CreateInput{
		PatientName:     req.PatientName,
		BloodGroup:      matching.BloodGroup(req.BloodGroup),
		Units:           req.Units,
		Urgency:         domain.Urgency(req.Urgency),
		Reason:          req.Reason,
		AdditionalNotes: req.AdditionalNotes,
		Hospital: domain.Hospital{
			Name:    req.Hospital.Name,
			Address: req.Hospital.Address,
			Location: types.GeoPoint{
				Lon: req.Hospital.Lon,
				Lat: req.Hospital.Lat,
			},
		},
	})
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"request":              created,
		"potentialDonorsCount": candidateCount,
	})
}

// ListRequests lists blood requests with optional filters
func (h *Handler) ListRequests(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.ListFilter{Limit: 50}

	if v := q.Get("status"); v != "" {
		status := domain.Status(v)
		filter.Status = &status
	}
	if v := q.Get("bloodGroup"); v != "" {
		bg, err := matching.ParseBloodGroup(v)
		if err != nil {
			writeError(w, errors.Validation("invalid blood group", map[string]string{"bloodGroup": v}))
			return
		}
		filter.BloodGroup = &bg
	}
	if q.Get("lon") != "" || q.Get("lat") != "" {
		lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
		lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
		if errLon != nil || errLat != nil {
			writeError(w, errors.BadRequest("lon and lat must both be valid numbers"))
			return
		}
		radiusKm := 10.0
		if v := q.Get("radiusKm"); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
				radiusKm = parsed
			}
		}
		filter.Near = &domain.GeoFilter{
			Center:   types.GeoPoint{Lon: lon, Lat: lat},
			RadiusKm: radiusKm,
		}
	}
	if v := q.Get("limit"); v != "" {
		if limit, err := strconv.Atoi(v); err == nil && limit > 0 && limit <= 100 {
			filter.Limit = limit
		}
	}
	if v := q.Get("offset"); v != "" {
		if offset, err := strconv.Atoi(v); err == nil && offset >= 0 {
			filter.Offset = offset
		}
	}

	requests, err := h.svc.List(r.Context(), filter)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"count":    len(requests),
	})
}

// GetRequest returns a single blood request
func (h *Handler) GetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := requestID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	req, err := h.svc.Get(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, req)
}

// EditRequest updates an active request's details
func (h *Handler) EditRequest(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	id, err := requestID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req EditRequestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	patch := domain.EditPatch{
		PatientName:     req.PatientName,
		Units:           req.Units,
		Reason:          req.Reason,
		AdditionalNotes: req.AdditionalNotes,
	}
	if req.Urgency != nil {
		urgency := domain.Urgency(*req.Urgency)
		patch.Urgency = &urgency
	}
	if req.Hospital != nil {
		patch.Hospital = &domain.Hospital{
			Name:    req.Hospital.Name,
			Address: req.Hospital.Address,
			Location: types.GeoPoint{
				Lon: req.Hospital.Lon,
				Lat: req.Hospital.Lat,
			},
		}
	}

	updated, err := h.svc.Edit(r.Context(), id, user.ID, patch)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// CancelRequest withdraws an active request
func (h *Handler) CancelRequest(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	id, err := requestID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	cancelled, err := h.svc.Cancel(r.Context(), id, user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, cancelled)
}

// Respond records the caller's accept or decline as a donor
func (h *Handler) Respond(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	id, err := requestID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req RespondRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	updated, err := h.svc.Respond(r.Context(), id, user.ID, domain.ResponseStatus(req.Response))
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// Complete confirms a donor's completed donation
func (h *Handler) Complete(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	id, err := requestID(r)
	if err != nil {
		writeError(w, err)
		return
	}

	var req CompleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	donorID, err := types.ParseID(req.DonorID)
	if err != nil {
		writeError(w, errors.BadRequest("invalid donor ID"))
		return
	}

	updated, err := h.svc.Complete(r.Context(), id, user.ID, donorID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, updated)
}

// --- Helpers ---

func requestID(r *http.Request) (types.ID, error) {
	id, err := types.ParseID(chi.URLParam(r, "requestID"))
	if err != nil {
		return "", errors.BadRequest("invalid request ID")
	}
	return id, nil
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, err error) {
	w.Header().Set("Content-Type", "application/json")

	if appErr, ok := err.(*errors.AppError); ok {
		w.WriteHeader(appErr.HTTPStatus)
		json.NewEncoder(w).Encode(map[string]any{
			"error":   appErr.Message,
			"code":    appErr.Code,
			"details": appErr.Details,
		})
		return
	}

	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": "internal server error"})
}
