package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luminahq/lumina/internal/core/domain"
	"github.com/luminahq/lumina/internal/core/ports"
)

// APIHandler handles HTTP requests for license verification and management.
type APIHandler struct {
	svc      ports.LicenseService
	gate     ports.AuthGate
	validate *validator.Validate
}

// NewAPIHandler creates and returns a new APIHandler instance.
func NewAPIHandler(svc ports.LicenseService, gate ports.AuthGate) *APIHandler {
	return &APIHandler{
		svc:      svc,
		gate:     gate,
		validate: validator.New(),
	}
}

// RegisterRoutes registers the API routes with the provided ServeMux.
func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	// Public Routes
	mux.HandleFunc("POST /license/verify", h.VerifyLicense)
	mux.HandleFunc("GET /license/check/{key}", h.CheckLicense)
	mux.HandleFunc("GET /health", h.HealthCheck)
	mux.HandleFunc("GET /health/ping", h.Ping)
	mux.HandleFunc("GET /metrics", h.Metrics)
	mux.HandleFunc("POST /admin/login", h.Login)

	// Middleware
	auth := AuthMiddleware(h.gate)

	// Protected Routes
	mux.Handle("POST /admin/licenses", auth(http.HandlerFunc(h.CreateLicense)))
	mux.Handle("GET /admin/licenses", auth(http.HandlerFunc(h.ListLicenses)))
	mux.Handle("GET /admin/licenses/{key}", auth(http.HandlerFunc(h.GetLicense)))
	mux.Handle("PUT /admin/licenses/{key}", auth(http.HandlerFunc(h.UpdateLicense)))
	mux.Handle("DELETE /admin/licenses/{key}", auth(http.HandlerFunc(h.DeleteLicense)))
}

// Metrics handles Prometheus metrics scraping requests.
func (h *APIHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	promhttp.Handler().ServeHTTP(w, r)
}

// Ping answers liveness probes without touching the store.
func (h *APIHandler) Ping(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"message": "pong"})
}

// HealthCheck reports backend reachability.
func (h *APIHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	status := "UP"
	details := map[string]string{"store": "OK"}
	if err := h.svc.HealthCheck(r.Context()); err != nil {
		status = "DEGRADED"
		details["store"] = err.Error()
	}

	code := http.StatusOK
	if status == "DEGRADED" {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, map[string]interface{}{
		"status":  status,
		"details": details,
	})
}

// VerifyLicense is the public verification endpoint. Policy rejections come
// back as 200 with valid=false; only backend failures produce a 500.
func (h *APIHandler) VerifyLicense(w http.ResponseWriter, r *http.Request) {
	var req domain.VerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	if req.IP == "" {
		req.IP = ClientIP(r)
	}

	result, err := h.svc.Verify(r.Context(), req)
	if err != nil {
		log.Printf("verify failed for %s: %v", req.LicenseKey, err)
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// CheckLicense reports existence and summary fields without consuming an
// activation slot.
func (h *APIHandler) CheckLicense(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	lic, err := h.svc.Get(r.Context(), key)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if lic == nil {
		writeJSON(w, http.StatusOK, map[string]interface{}{"exists": false})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"exists":   true,
		"active":   lic.Status == domain.StatusActive,
		"product":  lic.Product,
		"customer": lic.Customer,
	})
}

// Login exchanges the admin credential for a short-lived bearer token.
func (h *APIHandler) Login(w http.ResponseWriter, r *http.Request) {
	var payload domain.AdminLogin
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	token, err := h.gate.Authenticate(r.Context(), payload.Username, payload.PasswordHash)
	if err != nil {
		if errors.Is(err, domain.ErrAuth) {
			http.Error(w, "Unauthorized: invalid credentials", http.StatusUnauthorized)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, domain.AdminToken{AccessToken: token, TokenType: "bearer"})
}

type createLicensePayload struct {
	Key            string     `json:"key" validate:"omitempty,min=8"`
	Product        string     `json:"product" validate:"required"`
	Version        string     `json:"version"`
	Customer       string     `json:"customer" validate:"required"`
	Email          string     `json:"email" validate:"omitempty,email"`
	MaxActivations int        `json:"max_activations" validate:"omitempty,min=1"`
	MachineBinding bool       `json:"machine_binding"`
	IPWhitelist    []string   `json:"ip_whitelist" validate:"omitempty,dive,ip"`
	ExpiryDate     *time.Time `json:"expiry_date"`
	Status         string     `json:"status" validate:"omitempty,oneof=active suspended revoked"`
}

func (h *APIHandler) CreateLicense(w http.ResponseWriter, r *http.Request) {
	var payload createLicensePayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	if err := h.validate.Struct(payload); err != nil {
		http.Error(w, "Invalid request: "+err.Error(), http.StatusBadRequest)
		return
	}

	lic := &domain.License{
		Key:            payload.Key,
		Product:        payload.Product,
		Version:        payload.Version,
		Customer:       payload.Customer,
		Email:          payload.Email,
		MaxActivations: payload.MaxActivations,
		MachineBinding: payload.MachineBinding,
		IPWhitelist:    payload.IPWhitelist,
		ExpiryDate:     payload.ExpiryDate,
		Status:         payload.Status,
	}

	created, err := h.svc.Create(r.Context(), lic)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrAlreadyExists):
			http.Error(w, err.Error(), http.StatusConflict)
		default:
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *APIHandler) ListLicenses(w http.ResponseWriter, r *http.Request) {
	licenses, err := h.svc.GetAll(r.Context())
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, licenses)
}

func (h *APIHandler) GetLicense(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	lic, err := h.svc.Get(r.Context(), key)
	if err != nil {
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	if lic == nil {
		http.Error(w, "License not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, lic)
}

func (h *APIHandler) UpdateLicense(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var upd domain.LicenseUpdate
	if err := json.NewDecoder(r.Body).Decode(&upd); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	lic, err := h.svc.Update(r.Context(), key, upd)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrValidation):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, domain.ErrNotFound):
			http.Error(w, "License not found", http.StatusNotFound)
		default:
			http.Error(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusOK, lic)
}

func (h *APIHandler) DeleteLicense(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	if err := h.svc.Delete(r.Context(), key); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "License not found", http.StatusNotFound)
			return
		}
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("failed to encode response: %v", err)
	}
}
