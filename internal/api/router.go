package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/trellispay/trellis/internal/api/httpx"
	"github.com/trellispay/trellis/internal/api/validate"
	"github.com/trellispay/trellis/internal/config"
	"github.com/trellispay/trellis/internal/middleware"
	"github.com/trellispay/trellis/internal/models"
	repo "github.com/trellispay/trellis/internal/repository"
	"github.com/trellispay/trellis/internal/services"
)

type postTransactionResponse struct {
	ID                  *int64                     `json:"id"`
	PaymentResponseCode models.PaymentResponseCode `json:"payment_response_code"`
}

type reversalResponse struct {
	ID                   *int64                      `json:"id,omitempty"`
	ReversalResponseCode models.ReversalResponseCode `json:"reversal_response_code"`
}

func NewRouter(cfg config.Config, accounts *services.AccountService, tokens *services.TokenService, txns *services.TransactionService) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	// health & metrics
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())

	// ---------- accounts (bootstrap; no credentials yet) ----------
	r.Post("/accounts", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name string `json:"name"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
			httpx.WriteError(w, http.StatusBadRequest, "bad_request", "name required", nil)
			return
		}
		a, secret, err := accounts.Register(r.Context(), req.Name)
		if err != nil {
			httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "registration failed", nil)
			return
		}
		httpx.WriteJSON(w, http.StatusCreated, map[string]string{
			"id":     a.ID,
			"key":    a.Key,
			"secret": secret,
		})
	})

	am := middleware.NewAuthMiddleware(accounts)

	r.Group(func(r chi.Router) {
		r.Use(am.BasicAuth)

		// ---------- impersonation grants ----------
		r.Post("/accounts/impersonation", func(w http.ResponseWriter, r *http.Request) {
			authed, _ := middleware.AccountFrom(r.Context())
			var req struct {
				GranteeKey string `json:"grantee_key"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.GranteeKey == "" {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "grantee_key required", nil)
				return
			}
			key, err := accounts.GrantImpersonation(r.Context(), authed, req.GranteeKey)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusCreated, map[string]string{"impersonation_key": key})
		})

		// ---------- tokens ----------
		r.Post("/tokens", func(w http.ResponseWriter, r *http.Request) {
			authed, _ := middleware.AccountFrom(r.Context())
			var req services.CreateTokenRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed body", nil)
				return
			}
			id, err := tokens.Create(r.Context(), req, authed, middleware.ImpersonationKey(r))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusCreated, map[string]string{"token_id": id})
		})

		// ---------- transactions ----------
		r.Post("/transactions", func(w http.ResponseWriter, r *http.Request) {
			authed, _ := middleware.AccountFrom(r.Context())
			var req services.PostTransactionRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed body", nil)
				return
			}
			id, code, err := txns.Post(r.Context(), req, authed, middleware.ImpersonationKey(r))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, postTransactionResponse{ID: id, PaymentResponseCode: code})
		})

		r.Post("/transactions/authorize", func(w http.ResponseWriter, r *http.Request) {
			authed, _ := middleware.AccountFrom(r.Context())
			var req services.AuthorizeRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed body", nil)
				return
			}
			id, err := txns.Authorize(r.Context(), req, authed, middleware.ImpersonationKey(r))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusCreated, map[string]string{"authorization_id": id})
		})

		r.Get("/transactions/{id}", func(w http.ResponseWriter, r *http.Request) {
			authed, _ := middleware.AccountFrom(r.Context())
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid transaction id", nil)
				return
			}
			tx, err := txns.Get(r.Context(), id, authed, middleware.ImpersonationKey(r))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, tx)
		})

		r.Get("/transactions", func(w http.ResponseWriter, r *http.Request) {
			authed, _ := middleware.AccountFrom(r.Context())
			limit, offset := 50, 0
			if v := r.URL.Query().Get("limit"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n > 0 {
					limit = n
				}
			}
			if v := r.URL.Query().Get("offset"); v != "" {
				if n, err := strconv.Atoi(v); err == nil && n >= 0 {
					offset = n
				}
			}
			txs, err := txns.ListByAccount(r.Context(), authed, limit, offset)
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, txs)
		})

		r.Post("/transactions/{id}/void", func(w http.ResponseWriter, r *http.Request) {
			authed, _ := middleware.AccountFrom(r.Context())
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid transaction id", nil)
				return
			}
			var req services.VoidRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed body", nil)
				return
			}
			code, err := txns.Void(r.Context(), id, req, authed, middleware.ImpersonationKey(r))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, reversalResponse{ReversalResponseCode: code})
		})

		r.Post("/transactions/{id}/refund", func(w http.ResponseWriter, r *http.Request) {
			authed, _ := middleware.AccountFrom(r.Context())
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "invalid transaction id", nil)
				return
			}
			var req services.RefundRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "malformed body", nil)
				return
			}
			refundID, code, err := txns.Refund(r.Context(), id, req, authed, middleware.ImpersonationKey(r))
			if err != nil {
				writeServiceError(w, err)
				return
			}
			httpx.WriteJSON(w, http.StatusOK, reversalResponse{ID: refundID, ReversalResponseCode: code})
		})
	})

	return r
}

// writeServiceError maps service errors onto the transport. Domain outcomes
// travel as response codes and never reach this path.
func writeServiceError(w http.ResponseWriter, err error) {
	var verrs validate.Errs
	switch {
	case errors.As(err, &verrs):
		httpx.WriteError(w, http.StatusBadRequest, "validation_error", verrs.Error(), verrs)
	case errors.Is(err, services.ErrInvalidImpersonation):
		httpx.WriteError(w, http.StatusUnauthorized, "invalid_impersonation", "invalid impersonation key", nil)
	case errors.Is(err, services.ErrInvalidCredentials):
		httpx.WriteError(w, http.StatusUnauthorized, "unauthorized", "invalid credentials", nil)
	case errors.Is(err, services.ErrTokenAccess):
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "token is not accessible", nil)
	case errors.Is(err, services.ErrAuthorizationDeclined):
		httpx.WriteError(w, http.StatusPaymentRequired, "declined", "authorization declined", nil)
	case errors.Is(err, repo.ErrNotFound):
		httpx.WriteError(w, http.StatusNotFound, "not_found", "not found", nil)
	default:
		httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
	}
}
