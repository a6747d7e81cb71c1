package api

import (
	"net/http"

	"github.com/punchamoorthee/flexyledger/internal/domain"
	"github.com/punchamoorthee/flexyledger/internal/service"
)

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

func (h *Handler) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if _, ok := decodeJSON(w, r, &req); !ok {
		return
	}
	res, err := h.auth.Login(r.Context(), req.Username, req.Password)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, res)
}

func (h *Handler) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	if err := h.auth.Logout(r.Context(), p); err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) MeHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	a, err := h.accounts.Get(r.Context(), p, p.AccountID)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, a)
}

func (h *Handler) ListAccountsHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	list, err := h.accounts.List(r.Context(), p)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"accounts": list, "count": len(list)})
}

func (h *Handler) CreateAccountHandler(w http.ResponseWriter, r *http.Request) {
	p, _ := principalFrom(r.Context())
	var in service.ProvisionInput
	if _, ok := decodeJSON(w, r, &in); !ok {
		return
	}
	a, err := h.accounts.Provision(r.Context(), p, in)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, a)
}

// accountAction resolves {id} and the caller before running fn.
func (h *Handler) accountAction(fn func(w http.ResponseWriter, r *http.Request, p domain.Principal, id int64)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(r)
		if !ok {
			respondWithError(w, http.StatusBadRequest, "Invalid account ID")
			return
		}
		p, _ := principalFrom(r.Context())
		fn(w, r, p, id)
	}
}

func (h *Handler) GetAccountHandler(w http.ResponseWriter, r *http.Request, p domain.Principal, id int64) {
	a, err := h.accounts.Get(r.Context(), p, id)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, a)
}

func (h *Handler) UpdateAccountHandler(w http.ResponseWriter, r *http.Request, p domain.Principal, id int64) {
	var in service.UpdateInput
	if _, ok := decodeJSON(w, r, &in); !ok {
		return
	}
	a, err := h.accounts.Update(r.Context(), p, id, in)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, a)
}

func (h *Handler) CreateDepositHandler(w http.ResponseWriter, r *http.Request, p domain.Principal, id int64) {
	var in service.DepositInput
	if _, ok := decodeJSON(w, r, &in); !ok {
		return
	}
	d, err := h.accounts.Deposit(r.Context(), p, id, in)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusCreated, d)
}

func (h *Handler) ListDepositsHandler(w http.ResponseWriter, r *http.Request, p domain.Principal, id int64) {
	list, err := h.accounts.Deposits(r.Context(), p, id)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"deposits": list, "count": len(list)})
}

func (h *Handler) LedgerHandler(w http.ResponseWriter, r *http.Request, p domain.Principal, id int64) {
	events, err := h.accounts.Ledger(r.Context(), p, id)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, map[string]interface{}{"events": events, "count": len(events)})
}

func (h *Handler) ReconcileHandler(w http.ResponseWriter, r *http.Request, p domain.Principal, id int64) {
	rec, err := h.accounts.Reconcile(r.Context(), p, id)
	if err != nil {
		h.respondWithDomainError(w, r, err)
		return
	}
	respondWithJSON(w, http.StatusOK, rec)
}
