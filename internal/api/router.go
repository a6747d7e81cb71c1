package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter wires every public route. Everything under /api/v1 except login needs a bearer token.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.recoverPanic, requestID, h.instrument)

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)
	r.HandleFunc("/webhook/topup", h.WebhookHandler).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/auth/login", h.LoginHandler).Methods(http.MethodPost)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(h.authenticate)

	apiV1.HandleFunc("/auth/logout", h.LogoutHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/me", h.MeHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/dashboard", h.DashboardHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/pricing/quote", h.QuoteHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/provider/balance", h.ProviderBalanceHandler).Methods(http.MethodGet)

	apiV1.HandleFunc("/topups", h.CreateTopupHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/topups", h.ListTopupsHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/topups/{number}", h.GetTopupHandler).Methods(http.MethodGet)

	apiV1.HandleFunc("/accounts", requireAdministrator(h.ListAccountsHandler)).Methods(http.MethodGet)
	apiV1.HandleFunc("/accounts", requireAdministrator(h.CreateAccountHandler)).Methods(http.MethodPost)
	apiV1.HandleFunc("/accounts/{id}", h.accountAction(h.GetAccountHandler)).Methods(http.MethodGet)
	apiV1.HandleFunc("/accounts/{id}", requireAdministrator(h.accountAction(h.UpdateAccountHandler))).Methods(http.MethodPatch)
	apiV1.HandleFunc("/accounts/{id}/deposits", requireAdministrator(h.accountAction(h.ListDepositsHandler))).Methods(http.MethodGet)
	apiV1.HandleFunc("/accounts/{id}/deposits", requireAdministrator(h.accountAction(h.CreateDepositHandler))).Methods(http.MethodPost)
	apiV1.HandleFunc("/accounts/{id}/ledger", h.accountAction(h.LedgerHandler)).Methods(http.MethodGet)
	apiV1.HandleFunc("/accounts/{id}/reconcile", requireAdministrator(h.accountAction(h.ReconcileHandler))).Methods(http.MethodGet)

	return r
}
