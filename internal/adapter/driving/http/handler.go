package httphandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ericfisherdev/ratingsync/internal/application"
	"github.com/ericfisherdev/ratingsync/internal/domain/model"
)

const (
	shopHeader   = "X-Shop-Domain"
	maxBodyBytes = 1 << 20
)

// Handler is the HTTP driving adapter that serves the storefront API and the
// merchant install flow.
type Handler struct {
	ratings     *application.RatingService
	auth        *application.AuthService
	health      *application.HealthService
	defaultShop string
	logger      *slog.Logger
}

// NewHandler creates a Handler with all required dependencies. defaultShop
// is used when a request names no shop; it may be empty.
func NewHandler(
	ratings *application.RatingService,
	auth *application.AuthService,
	health *application.HealthService,
	defaultShop string,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		ratings:     ratings,
		auth:        auth,
		health:      health,
		defaultShop: model.NormalizeShopDomain(defaultShop),
		logger:      logger,
	}
}

// RouterOptions carries the optional cross-cutting pieces of the router.
type RouterOptions struct {
	CORSOrigins []string
	Observer    RequestObserver
	Metrics     http.Handler
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with CORS, logging and recovery middleware.
func NewServeMux(h *Handler, opts RouterOptions, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /{$}", h.Install)
	mux.HandleFunc("GET /auth", h.BeginAuth)
	mux.HandleFunc("GET /auth/callback", h.AuthCallback)
	mux.HandleFunc("GET /reviews/{productId}", h.GetReviews)
	mux.HandleFunc("POST /submit-rating", h.SubmitRating)
	mux.HandleFunc("GET /healthz", h.Health)
	if opts.Metrics != nil {
		mux.Handle("GET /metrics", opts.Metrics)
	}

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, opts.Observer, wrapped)
	wrapped = corsMiddleware(opts.CORSOrigins, wrapped)

	return wrapped
}

// Install is the app's entry point from the admin; it forwards to the
// OAuth start with the shop preserved.
func (h *Handler) Install(w http.ResponseWriter, r *http.Request) {
	shop := r.URL.Query().Get("shop")
	if shop == "" {
		writeText(w, http.StatusBadRequest, "Missing shop parameter.")
		return
	}
	http.Redirect(w, r, "/auth?shop="+url.QueryEscape(shop), http.StatusFound)
}

// BeginAuth redirects the merchant to the platform's consent screen.
func (h *Handler) BeginAuth(w http.ResponseWriter, r *http.Request) {
	shop := r.URL.Query().Get("shop")

	target, err := h.auth.Begin(r.Context(), shop)
	if err != nil {
		if errors.Is(err, model.ErrInvalidInput) {
			writeText(w, http.StatusBadRequest, "Missing or invalid shop parameter.")
			return
		}
		h.logger.Error("failed to start oauth", "shop", shop, "error", err)
		writeText(w, http.StatusInternalServerError, "Could not start installation.")
		return
	}

	http.Redirect(w, r, target, http.StatusFound)
}

// AuthCallback completes the install by exchanging the authorization code.
func (h *Handler) AuthCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	req := application.CallbackRequest{
		Shop:   q.Get("shop"),
		Code:   q.Get("code"),
		State:  q.Get("state"),
		Params: q,
	}

	_, err := h.auth.Complete(r.Context(), req)
	switch {
	case err == nil:
		writeText(w, http.StatusOK, "App installed. Ratings are now enabled for "+req.Shop+".")
	case errors.Is(err, model.ErrInvalidInput):
		writeText(w, http.StatusBadRequest, "Missing parameters.")
	case errors.Is(err, application.ErrCallbackRejected):
		writeText(w, http.StatusForbidden, "Installation request could not be verified.")
	default:
		writeText(w, http.StatusInternalServerError, "OAuth failed.")
	}
}

// GetReviews returns the product's rating history with its average and count.
func (h *Handler) GetReviews(w http.ResponseWriter, r *http.Request) {
	productID := model.ProductID(strings.TrimSpace(r.PathValue("productId")))
	shop := h.resolveShop(r, "")

	summary, err := h.ratings.ReadAggregate(r.Context(), shop, productID)
	if err != nil {
		var verr *model.ValidationError
		switch {
		case errors.As(err, &verr):
			writeError(w, http.StatusBadRequest, verr.Error())
		case errors.Is(err, model.ErrNotAuthorized):
			writeError(w, http.StatusServiceUnavailable, "ratings are not available for this shop yet")
		default:
			h.logger.Error("failed to read ratings", "shop", shop, "product_id", productID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to fetch ratings")
		}
		return
	}

	writeJSON(w, http.StatusOK, toReviewsResponse(summary))
}

// SubmitRating records one rating and returns the new average and count.
func (h *Handler) SubmitRating(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)

	var req SubmitRatingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validateRequest(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}
	rating, err := model.ParseRating(req.Rating)
	if err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return
	}

	shop := h.resolveShop(r, req.ShopDomain)
	agg, err := h.ratings.SubmitRating(r.Context(), shop, req.ProductID, rating)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrInvalidInput):
			writeError(w, http.StatusBadRequest, validationMessage(err))
		case errors.Is(err, model.ErrNotAuthorized):
			writeError(w, http.StatusUnauthorized, "app not installed on this shop")
		default:
			h.logger.Error("failed to submit rating", "shop", shop, "product_id", req.ProductID, "error", err)
			writeError(w, http.StatusInternalServerError, "failed to record rating")
		}
		return
	}

	writeJSON(w, http.StatusOK, SubmitRatingResponse{
		Success:      true,
		NewAvgRating: agg.AverageString(),
		TotalRatings: agg.Count,
	})
}

// Health reports whether the credential store is reachable.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	status := h.health.Check(r.Context())

	resp := HealthResponse{Status: "ok", Time: status.Time.Format(time.RFC3339)}
	code := http.StatusOK
	if !status.OK {
		resp.Status = "unavailable"
		resp.Error = status.Error
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// resolveShop picks the tenant for a storefront request: an explicit value
// from the body, then ?shop=, then the X-Shop-Domain header, then the
// configured default.
func (h *Handler) resolveShop(r *http.Request, explicit string) string {
	for _, candidate := range []string{explicit, r.URL.Query().Get("shop"), r.Header.Get(shopHeader)} {
		if s := model.NormalizeShopDomain(candidate); s != "" {
			return s
		}
	}
	return h.defaultShop
}

func validationMessage(err error) string {
	var verr *model.ValidationError
	if errors.As(err, &verr) {
		return verr.Error()
	}
	return "invalid request"
}
