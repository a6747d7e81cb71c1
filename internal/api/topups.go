package api

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/punchamoorthee/flexyledger/internal/domain"
	"github.com/punchamoorthee/flexyledger/internal/service"
)

const signatureHeader = "X-Signature"

func (h *Handler) CreateTopupHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())

	var in service.TopupInput
	body, ok := decodeJSON(w, r, &in)
	if !ok {
		return
	}
	hash := sha256.Sum256(body)
	reqHash := hex.EncodeToString(hash[:])

	res, err := h.topups.Create(r.Context(), p, in, r.Header.Get("Idempotency-Key"), reqHash)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}

	w.Header().Set("Location", "/api/v1/topups/"+res.Request.RequestNumber)
	if res.Replayed {
		respondWithJSON(w, http.StatusOK, res)
		return
	}
	respondWithJSON(w, http.StatusCreated, res)
}

func (h *Handler) GetTopupHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	req, err := h.topups.Get(r.Context(), p, mux.Vars(r)["number"])
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, req)
}

// ListTopupsHandler serves the operations history. Query: status, limit, account_id.
func (h *Handler) ListTopupsHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	q := r.URL.Query()

	opts := service.ListOptions{Status: domain.Status(q.Get("status"))}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			h.respondWithDomainError(w, r, domain.Invalid("limit", "must be an integer"))
			return
		}
		opts.Limit = n
	}
	if v := q.Get("account_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			h.respondWithDomainError(w, r, domain.Invalid("account_id", "must be an integer"))
			return
		}
		opts.AccountID = &id
	}

	list, err := h.topups.List(r.Context(), p, opts)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"topups": list, "count": len(list)})
}

func (h *Handler) DashboardHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	d, err := h.topups.Dashboard(r.Context(), p)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, d)
}

func (h *Handler) QuoteHandler(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	value, err := decimal.NewFromString(q.Get("value"))
	if err != nil {
		h.respondWithDomainError(w, r, domain.Invalid("value", "must be a decimal amount"))
		return
	}
	quote, err := h.topups.Quote(q.Get("operator"), value, q.Get("mode"))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, quote)
}

func (h *Handler) ProviderBalanceHandler(w http.ResponseWriter, r *http.Request) {
	balance, err := h.topups.ProviderBalance(r.Context())
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]decimal.Decimal{"balance": balance})
}

// WebhookHandler receives provider status callbacks. The raw body is signed, so it is
// verified before any decoding.
func (h *Handler) WebhookHandler(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Stream read error")
		return
	}

	res, err := h.topups.HandleWebhook(r.Context(), body, r.Header.Get(signatureHeader))
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	if res.Outcome != service.OutcomeApplied {
		h.log.Info("webhook acknowledged without change",
			zap.String("outcome", res.Outcome),
			zap.String("request_id", requestIDFrom(r.Context())),
		)
	}
	respondWithJSON(w, http.StatusOK, map[string]string{"status": "ok", "outcome": res.Outcome})
}
