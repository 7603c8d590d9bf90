// Package httpapi is the HTTP surface of the service: checkout, order
// lookup, staff hold actions and the compliance settings endpoints.
package httpapi

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"rangemark.org/internal/audit"
	"rangemark.org/internal/compliance"
	"rangemark.org/internal/obs"
	"rangemark.org/internal/order"
)

// ReadyProbe reports readiness (DB ping when a pool is attached).
type ReadyProbe struct {
	DB *sql.DB
}

func (rp ReadyProbe) Check(ctx context.Context) error {
	if rp.DB == nil {
		return nil
	}
	return rp.DB.PingContext(ctx)
}

type API struct {
	router     chi.Router
	readyProbe ReadyProbe
	version    string

	checkout   *order.Service
	staff      *order.StaffActionService
	compliance *compliance.ConfigStore

	rateBurst  int
	ratePerSec int
}

func New(rp ReadyProbe, version string, checkout *order.Service, staff *order.StaffActionService, cfg *compliance.ConfigStore) *API {
	a := &API{
		readyProbe: rp,
		version:    version,
		checkout:   checkout,
		staff:      staff,
		compliance: cfg,
		rateBurst:  40,
		ratePerSec: 20,
	}

	r := chi.NewRouter()
	r.Get("/healthz", a.healthz)
	r.Get("/readyz", a.ready)
	r.Get("/v1/info", a.info)
	r.Method(http.MethodGet, "/metrics", obs.Handler())

	r.Post("/v1/auth/token", a.handleAuthToken)

	r.Post("/v1/checkout", a.handleCheckout)
	r.Route("/v1/orders/{orderID}", func(r chi.Router) {
		r.Get("/", a.handleGetOrder)
		r.Post("/attach-ffl", a.requireStaff(a.handleAttachFFL))
		r.Post("/verify-ffl", a.requireStaff(a.handleVerifyFFL))
		r.Post("/override-hold", a.requireStaff(a.handleOverrideHold))
		r.Post("/void", a.requireStaff(a.handleForceVoid))
		r.Post("/retry-capture", a.requireStaff(a.handleRetryCapture))
		r.Post("/fulfill", a.requireStaff(a.handleFulfill))
	})

	r.Route("/v1/compliance/config", func(r chi.Router) {
		r.Get("/", a.requireStaff(a.handleGetComplianceConfig))
		r.Put("/", a.requireAdmin(a.handleUpdateComplianceConfig))
	})

	a.router = r
	return a
}

// SetRateLimit overrides the default per-IP limiter parameters. Must be
// called before Handler.
func (a *API) SetRateLimit(burst, perSecond int) {
	if burst > 0 {
		a.rateBurst = burst
	}
	if perSecond > 0 {
		a.ratePerSec = perSecond
	}
}

// Handler wraps the router in the shared middleware chain.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.router
	h = a.withAuth(h)
	h = RequestID(h)
	h = MaxBodyBytes(h, 1<<20)
	h = RateLimit(h, a.rateBurst, a.ratePerSec)
	h = CORS(h)
	h = SecurityHeaders(h)
	h = Logging(h)
	return obs.Instrument(h)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": "rangemark-api",
		"version": a.version,
	})
}

func (a *API) ready(w http.ResponseWriter, r *http.Request) {
	if err := a.readyProbe.Check(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status": "not_ready",
			"error":  err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

func (a *API) info(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":    "rangemark-api",
		"time":    time.Now().UTC().Format(time.RFC3339),
		"version": a.version,
	})
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, r *http.Request, code int, msg string) {
	payload := map[string]any{
		"error": msg,
	}
	if rid := audit.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, 1<<20)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is required")
		}
		return err
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		if err == nil {
			return errors.New("unexpected data after JSON body")
		}
		return err
	}
	return nil
}
