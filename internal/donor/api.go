package donor

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/raktlink/platform/internal/matching"
	"github.com/raktlink/platform/internal/shared/auth"
	"github.com/raktlink/platform/internal/shared/errors"
	"github.com/raktlink/platform/internal/shared/types"
)

const nearbySearchLimit = 100

// Handler provides HTTP handlers for the donor module
type Handler struct {
	repo Repository
}

// NewHandler creates a new donor handler
func NewHandler(repo Repository) *Handler {
	return &Handler{repo: repo}
}

// Routes registers the donor routes
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/nearby", h.NearbyDonors)

	r.Route("/me", func(r chi.Router) {
		r.Get("/", h.GetProfile)
		r.Put("/", h.UpdateProfile)
		r.Put("/donor-status", h.SetDonorStatus)
		r.Put("/location", h.SetLocation)
		r.Get("/donations", h.ListDonations)
		r.Get("/requests", h.RequestHistory)
		r.Get("/stats", h.GetStats)
	})

	return r
}

// --- Request/Response types ---

type UpdateProfileRequest struct {
	Name       *string `json:"name,omitempty"`
	Phone      *string `json:"phone,omitempty"`
	BloodGroup *string `json:"bloodGroup,omitempty"`
	Address    *string `json:"address,omitempty"`
}

type SetDonorStatusRequest struct {
	IsDonor bool `json:"isDonor"`
}

type SetLocationRequest struct {
	Lon     float64 `json:"lon"`
	Lat     float64 `json:"lat"`
	Address string  `json:"address"`
}

// --- Handlers ---

// NearbyDonors searches for eligible donors compatible with a recipient
// blood group around a point
func (h *Handler) NearbyDonors(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	bg, err := matching.ParseBloodGroup(q.Get("bloodGroup"))
	if err != nil {
		writeError(w, errors.Validation("invalid blood group", map[string]string{"bloodGroup": q.Get("bloodGroup")}))
		return
	}

	lon, errLon := strconv.ParseFloat(q.Get("lon"), 64)
	lat, errLat := strconv.ParseFloat(q.Get("lat"), 64)
	if errLon != nil || errLat != nil {
		writeError(w, errors.BadRequest("lon and lat are required"))
		return
	}

	center, err := types.NewGeoPoint(lon, lat)
	if err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	radiusKm := 10.0
	if v := q.Get("radiusKm"); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil && parsed > 0 {
			radiusKm = parsed
		}
	}

	groups := matching.CompatibleDonorGroups(bg)
	candidates, err := h.repo.FindEligibleDonors(r.Context(), groups, center, radiusKm, nearbySearchLimit)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"donors": candidates,
		"count":  len(candidates),
	})
}

// GetProfile returns the caller's donor profile with recomputed eligibility
func (h *Handler) GetProfile(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	d, err := h.repo.Get(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	d.IsEligible = d.EligibleToDonate(time.Now())
	writeJSON(w, http.StatusOK, d)
}

// UpdateProfile updates the caller's profile fields
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req UpdateProfileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	d, err := h.repo.Get(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	if req.Name != nil {
		d.Name = *req.Name
	}
	if req.Phone != nil {
		d.Phone = *req.Phone
	}
	if req.BloodGroup != nil {
		bg, err := matching.ParseBloodGroup(*req.BloodGroup)
		if err != nil {
			writeError(w, errors.Validation("invalid blood group", map[string]string{"bloodGroup": *req.BloodGroup}))
			return
		}
		d.BloodGroup = bg
	}
	if req.Address != nil {
		d.Address = *req.Address
	}

	if err := h.repo.UpdateProfile(r.Context(), d); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, d)
}

// SetDonorStatus toggles the caller's donor availability
func (h *Handler) SetDonorStatus(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req SetDonorStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	if err := h.repo.SetDonorStatus(r.Context(), user.ID, req.IsDonor); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]bool{"isDonor": req.IsDonor})
}

// SetLocation updates the caller's coordinates
func (h *Handler) SetLocation(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	var req SetLocationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, errors.BadRequest("invalid request body"))
		return
	}

	location, err := types.NewGeoPoint(req.Lon, req.Lat)
	if err != nil {
		writeError(w, errors.BadRequest(err.Error()))
		return
	}

	if err := h.repo.SetLocation(r.Context(), user.ID, location, req.Address); err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"location": location, "address": req.Address})
}

// ListDonations returns the caller's donation history
func (h *Handler) ListDonations(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	donations, err := h.repo.Donations(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"donations": donations,
		"count":     len(donations),
	})
}

// RequestHistory returns the blood requests the caller has raised
func (h *Handler) RequestHistory(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	requests, err := h.repo.RequestHistory(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"requests": requests,
		"count":    len(requests),
	})
}

// GetStats returns the caller's donor statistics
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	user := auth.GetUser(r.Context())

	d, err := h.repo.Get(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	donations, err := h.repo.Donations(r.Context(), user.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, ComputeStats(d, donations, time.Now()))
}

// --- Helpers ---

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
