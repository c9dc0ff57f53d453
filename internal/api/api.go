// Package api exposes a scenario world over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/chain"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/drainer"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/ledger"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/models"
	"github.com/sheikh-saqib/reentrancy-ledger-lab/internal/scenario"
)

type Server struct {
	world  *scenario.World
	logger *zap.Logger

	mu sync.Mutex // one top-level invocation at a time
}

func NewServer(world *scenario.World, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{world: world, logger: logger.Named("api")}
}

// Handler returns the routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	mux.HandleFunc("/mint", s.post(s.handleMint))
	mux.HandleFunc("/deposit", s.post(s.handleDeposit))
	mux.HandleFunc("/withdraw", s.post(s.handleWithdraw))
	mux.HandleFunc("/attack", s.post(s.handleAttack))
	mux.HandleFunc("/sweep", s.post(s.handleSweep))
	mux.HandleFunc("/accounts/balance", s.get(s.handleBalance))
	mux.HandleFunc("/summary", s.get(s.handleSummary))
	mux.HandleFunc("/ledgerEntries", s.get(s.handleLedgerEntries))
	return mux
}

type amountRequest struct {
	Identity string          `json:"identity"`
	Amount   decimal.Decimal `json:"amount"`
}

type attackRequest struct {
	Caller         string          `json:"caller"`
	RecursionLimit int             `json:"recursion_limit"`
	Seed           decimal.Decimal `json:"seed"`
}

type sweepRequest struct {
	Caller string `json:"caller"`
}

type balanceResponse struct {
	AccountID models.Identity `json:"account_id"`
	Held      decimal.Decimal `json:"held"`
	Credited  decimal.Decimal `json:"credited"`
}

type attackResponse struct {
	Seed            decimal.Decimal `json:"seed"`
	RecursionLimit  int             `json:"recursion_limit"`
	Withdrawals     int             `json:"withdrawals"`
	Reentries       int             `json:"reentries"`
	Extracted       decimal.Decimal `json:"extracted"`
	Profit          decimal.Decimal `json:"profit"`
	RejectedReentry string          `json:"rejected_reentry,omitempty"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	id, ok := s.decodeIdentity(w, r, &req, func() string { return req.Identity })
	if !ok {
		return
	}
	err := s.world.Chain.Mint(r.Context(), id, req.Amount)
	s.respond(w, err, http.StatusCreated, s.balance(id))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	id, ok := s.decodeIdentity(w, r, &req, func() string { return req.Identity })
	if !ok {
		return
	}
	err := s.world.Vault.Deposit(r.Context(), id, req.Amount)
	s.respond(w, err, http.StatusCreated, s.balance(id))
}

func (s *Server) handleWithdraw(w http.ResponseWriter, r *http.Request) {
	var req amountRequest
	id, ok := s.decodeIdentity(w, r, &req, func() string { return req.Identity })
	if !ok {
		return
	}
	err := s.world.Vault.Withdraw(r.Context(), id, req.Amount)
	s.respond(w, err, http.StatusOK, s.balance(id))
}

func (s *Server) handleAttack(w http.ResponseWriter, r *http.Request) {
	var req attackRequest
	caller, ok := s.decodeIdentity(w, r, &req, func() string { return req.Caller })
	if !ok {
		return
	}
	report, err := s.world.Drainer.Attack(r.Context(), caller, req.RecursionLimit, req.Seed)
	resp := attackResponse{
		Seed:           report.Seed,
		RecursionLimit: report.RecursionLimit,
		Withdrawals:    report.Withdrawals,
		Reentries:      report.Reentries,
		Extracted:      report.Extracted,
		Profit:         report.Profit(),
	}
	if report.RejectedReentry != nil {
		resp.RejectedReentry = report.RejectedReentry.Error()
	}
	s.respond(w, err, http.StatusOK, resp)
}

func (s *Server) handleSweep(w http.ResponseWriter, r *http.Request) {
	var req sweepRequest
	caller, ok := s.decodeIdentity(w, r, &req, func() string { return req.Caller })
	if !ok {
		return
	}
	swept, err := s.world.Drainer.WithdrawToOwner(r.Context(), caller)
	s.respond(w, err, http.StatusOK, map[string]decimal.Decimal{"swept": swept})
}

func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	accountId := r.URL.Query().Get("account_id")
	if accountId == "" {
		http.Error(w, "account_id is a mandatory field", http.StatusBadRequest)
		return
	}
	id, err := s.world.Resolve(accountId)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, s.balance(id))
}

func (s *Server) handleSummary(w http.ResponseWriter, r *http.Request) {
	stage := r.URL.Query().Get("stage")
	if stage == "" {
		stage = "CURRENT"
	}
	writeJSON(w, http.StatusOK, s.world.Snapshot(stage))
}

func (s *Server) handleLedgerEntries(w http.ResponseWriter, r *http.Request) {
	entries, err := s.world.Store.GetLedgerEntries()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) balance(id models.Identity) balanceResponse {
	return balanceResponse{
		AccountID: id,
		Held:      s.world.Chain.BalanceOf(id),
		Credited:  s.world.Vault.CreditedBalance(id),
	}
}

// decodeIdentity decodes the body into req and resolves the identity named
// by field.
func (s *Server) decodeIdentity(w http.ResponseWriter, r *http.Request, req any, field func() string) (models.Identity, bool) {
	if err := json.NewDecoder(r.Body).Decode(req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return "", false
	}
	id, err := s.world.Resolve(field())
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return "", false
	}
	return id, true
}

func (s *Server) respond(w http.ResponseWriter, err error, status int, body any) {
	if err != nil {
		code := statusFor(err)
		if code == http.StatusInternalServerError {
			s.logger.Error("request failed", zap.Error(err))
		}
		http.Error(w, err.Error(), code)
		return
	}
	writeJSON(w, status, body)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, drainer.ErrUnauthorized):
		return http.StatusForbidden
	case errors.Is(err, ledger.ErrReentrantCall), errors.Is(err, drainer.ErrAttackInFlight):
		return http.StatusConflict
	case errors.Is(err, ledger.ErrInvalidAmount),
		errors.Is(err, ledger.ErrInsufficientFunds),
		errors.Is(err, chain.ErrInvalidAmount),
		errors.Is(err, chain.ErrInsufficientBalance),
		errors.Is(err, chain.ErrSelfTransfer),
		errors.Is(err, drainer.ErrInvalidSeed),
		errors.Is(err, drainer.ErrInvalidRecursionLimit),
		errors.Is(err, drainer.ErrNothingToWithdraw):
		return http.StatusBadRequest
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) post(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		h(w, r)
	}
}

func (s *Server) get(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
