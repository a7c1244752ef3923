package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/maltedev/catalog-scraper/internal/browser"
	"github.com/maltedev/catalog-scraper/internal/jobs"
	"github.com/maltedev/catalog-scraper/internal/models"
	"github.com/maltedev/catalog-scraper/internal/parser"
	"github.com/maltedev/catalog-scraper/internal/scraper"
)

// ProductCounter is implemented by both product stores.
type ProductCounter interface {
	CountProducts(ctx context.Context) (map[string]int, error)
}

// OutboxStats is implemented by the outbox relay.
type OutboxStats interface {
	Stats(ctx context.Context) (pending, deadLetter int64, err error)
}

const (
	pendingWarnThreshold    = 1000
	deadLetterFailThreshold = 100
)

type Handlers struct {
	runners  *jobs.Registry
	products ProductCounter
	outbox   OutboxStats
	logger   *slog.Logger
}

// NewHandlers wires the vendor runners into HTTP handlers. products and
// outbox may be nil; outbox is nil when events are not relayed.
func NewHandlers(runners *jobs.Registry, products ProductCounter, outbox OutboxStats, logger *slog.Logger) *Handlers {
	return &Handlers{
		runners:  runners,
		products: products,
		outbox:   outbox,
		logger:   logger.With("component", "api"),
	}
}

func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":  "ok",
		"vendors": h.runners.Names(),
	}
	status := http.StatusOK

	if h.products != nil {
		counts, err := h.products.CountProducts(r.Context())
		if err != nil {
			h.logger.Warn("failed to count products", "error", err)
		} else {
			health["products"] = counts
		}
	}

	if h.outbox != nil {
		pending, deadLetter, err := h.outbox.Stats(r.Context())
		if err != nil {
			h.logger.Error("failed to read outbox stats", "error", err)
			health["status"] = "error"
			health["message"] = "outbox unavailable"
			status = http.StatusServiceUnavailable
		} else {
			health["outbox"] = map[string]any{
				"pending":     pending,
				"dead_letter": deadLetter,
			}
			if pending > pendingWarnThreshold {
				health["status"] = "warning"
				health["message"] = "High number of pending outbox events"
			}
			if deadLetter > deadLetterFailThreshold {
				health["status"] = "error"
				health["message"] = "High number of dead letter events"
				status = http.StatusServiceUnavailable
			}
		}
	}

	h.respondJSON(w, status, health)
}

type VendorsResponse struct {
	Vendors []string `json:"vendors"`
}

func (h *Handlers) ListVendors(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, VendorsResponse{Vendors: h.runners.Names()})
}

type LookupRequest struct {
	GTIN string `json:"gtin"`
}

// Lookup scrapes one barcode from the vendor in the URL.
func (h *Handlers) Lookup(w http.ResponseWriter, r *http.Request) {
	runner, ok := h.runner(w, r)
	if !ok {
		return
	}

	var req LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	gtin, err := models.ParseGTIN(req.GTIN)
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	product, found, err := runner.Lookup(r.Context(), gtin)
	if err != nil {
		h.logger.Error("lookup failed", "vendor", runner.Name(), "gtin", gtin, "error", err)
		h.respondError(w, statusFor(err), err.Error())
		return
	}
	if !found {
		h.respondError(w, http.StatusNotFound, "product not listed by vendor")
		return
	}

	h.respondJSON(w, http.StatusOK, product)
}

func (h *Handlers) Login(w http.ResponseWriter, r *http.Request) {
	runner, ok := h.runner(w, r)
	if !ok {
		return
	}

	if err := runner.Relogin(r.Context()); err != nil {
		h.logger.Error("login failed", "vendor", runner.Name(), "error", err)
		h.respondError(w, statusFor(err), err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, map[string]string{"status": "logged_in"})
}

// GetProduct returns the last stored scrape without touching the browser.
func (h *Handlers) GetProduct(w http.ResponseWriter, r *http.Request) {
	runner, ok := h.runner(w, r)
	if !ok {
		return
	}

	gtin, err := models.ParseGTIN(chi.URLParam(r, "gtin"))
	if err != nil {
		h.respondError(w, http.StatusBadRequest, err.Error())
		return
	}

	product, found, err := runner.Stored(r.Context(), gtin)
	if err != nil {
		h.logger.Error("failed to load product", "vendor", runner.Name(), "gtin", gtin, "error", err)
		h.respondError(w, http.StatusInternalServerError, "failed to load product")
		return
	}
	if !found {
		h.respondError(w, http.StatusNotFound, "product not stored")
		return
	}

	h.respondJSON(w, http.StatusOK, product)
}

type PriceRequest struct {
	Raw string `json:"raw"`
}

type PriceResponse struct {
	Raw   string `json:"raw"`
	Price string `json:"price"`
}

// ParsePrice runs the lenient price parser over a raw string.
func (h *Handlers) ParsePrice(w http.ResponseWriter, r *http.Request) {
	var req PriceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	price, err := parser.ParsePriceNonstrict(req.Raw)
	if err != nil {
		h.respondError(w, statusFor(err), err.Error())
		return
	}

	h.respondJSON(w, http.StatusOK, PriceResponse{Raw: req.Raw, Price: price.String()})
}

func (h *Handlers) runner(w http.ResponseWriter, r *http.Request) (*jobs.Runner, bool) {
	runner, err := h.runners.Get(chi.URLParam(r, "vendor"))
	if err != nil {
		h.respondError(w, http.StatusNotFound, err.Error())
		return nil, false
	}
	return runner, true
}

// statusFor maps lookup, login and parse failures to a response status.
func statusFor(err error) int {
	switch {
	case errors.Is(err, models.ErrInvalidGTIN):
		return http.StatusBadRequest
	case errors.Is(err, jobs.ErrUnknownVendor):
		return http.StatusNotFound
	case errors.Is(err, scraper.ErrInvalidArgument), errors.Is(err, parser.ErrParse):
		return http.StatusUnprocessableEntity
	case errors.Is(err, jobs.ErrRunnerClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	}
	if _, ok := browser.KindOf(err); ok {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handlers) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

func (h *Handlers) respondError(w http.ResponseWriter, status int, message string) {
	h.respondJSON(w, status, map[string]string{"error": message})
}
