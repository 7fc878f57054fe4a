package rpc

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/big"
	"net/http"

	"github.com/go-chi/chi/v5"

	"crediflow/crypto"
	"crediflow/native/agreements"
	"crediflow/native/credit"
	"crediflow/native/pool"
	"crediflow/native/score"
)

// Server exposes read-only views over the lending engines.
type Server struct {
	pool       *pool.Engine
	registry   *credit.Engine
	agreements *agreements.Engine
	verifier   *score.Verifier
	obs        *Observability
	logger     *log.Logger
}

// NewServer wires the engines behind the HTTP surface.
func NewServer(poolEngine *pool.Engine, registry *credit.Engine, agreementEngine *agreements.Engine, verifier *score.Verifier, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	return &Server{
		pool:       poolEngine,
		registry:   registry,
		agreements: agreementEngine,
		verifier:   verifier,
		obs:        NewObservability(logger),
		logger:     logger,
	}
}

// Handler builds the chi router for the server.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(s.obs.Middleware("root"))

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", s.obs.MetricsHandler())

	r.Route("/v1", func(r chi.Router) {
		r.Get("/pool", s.getPool)
		r.Get("/credit/{address}", s.getCredit)
		r.Get("/score/{address}", s.getScore)
		r.Get("/agreements/{id}", s.getAgreement)
		r.Get("/accounts/{address}/agreements", s.getAccountAgreements)
	})
	return r
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func pathAddress(r *http.Request) ([20]byte, error) {
	encoded := chi.URLParam(r, "address")
	addr, err := crypto.DecodeAddress(encoded)
	if err != nil {
		return [20]byte{}, fmt.Errorf("invalid address %q: %w", encoded, err)
	}
	var out [20]byte
	copy(out[:], addr.Bytes())
	return out, nil
}

func pathAgreementID(r *http.Request) ([32]byte, error) {
	encoded := chi.URLParam(r, "id")
	raw, err := hex.DecodeString(encoded)
	if err != nil || len(raw) != 32 {
		return [32]byte{}, fmt.Errorf("invalid agreement id %q", encoded)
	}
	var id [32]byte
	copy(id[:], raw)
	return id, nil
}

func formatAddress(addr [20]byte) string {
	return crypto.NewAddress(crypto.CFLPrefix, addr[:]).String()
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type poolResponse struct {
	TotalAssets       string `json:"totalAssets"`
	TotalShares       string `json:"totalShares"`
	Reserve           string `json:"reserve"`
	BorrowedTotal     string `json:"borrowedTotal"`
	UtilizationBps    uint64 `json:"utilizationBps"`
	SeniorRatioBps    uint64 `json:"seniorRatioBps"`
	ReserveRatioBps   uint64 `json:"reserveRatioBps"`
	MaxUtilizationBps uint64 `json:"maxUtilizationBps"`
	LastAccrualTime   int64  `json:"lastAccrualTime"`
}

func (s *Server) getPool(w http.ResponseWriter, r *http.Request) {
	state, err := s.pool.State()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	utilization, err := s.pool.UtilizationBps()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, poolResponse{
		TotalAssets:       formatAmount(state.TotalAssets),
		TotalShares:       formatAmount(state.TotalShares),
		Reserve:           formatAmount(state.Reserve),
		BorrowedTotal:     formatAmount(state.BorrowedTotal),
		UtilizationBps:    utilization,
		SeniorRatioBps:    state.SeniorRatioBps,
		ReserveRatioBps:   state.ReserveRatioBps,
		MaxUtilizationBps: state.MaxUtilizationBps,
		LastAccrualTime:   state.LastAccrualTime,
	})
}

type creditResponse struct {
	Account     string `json:"account"`
	Limit       string `json:"limit"`
	APRBps      uint64 `json:"aprBps"`
	Utilization string `json:"utilization"`
	Remaining   string `json:"remaining"`
	Active      bool   `json:"active"`
	LastUpdate  int64  `json:"lastUpdate"`
}

func (s *Server) getCredit(w http.ResponseWriter, r *http.Request) {
	account, err := pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	state, err := s.registry.CreditStateOf(account)
	if err != nil {
		if errors.Is(err, credit.ErrNoCreditState) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	remaining := new(big.Int).Sub(state.Limit, state.Utilization)
	if remaining.Sign() < 0 {
		remaining = big.NewInt(0)
	}
	writeJSON(w, http.StatusOK, creditResponse{
		Account:     formatAddress(account),
		Limit:       formatAmount(state.Limit),
		APRBps:      state.APRBps,
		Utilization: formatAmount(state.Utilization),
		Remaining:   remaining.String(),
		Active:      state.Active,
		LastUpdate:  state.LastUpdate,
	})
}

type scoreResponse struct {
	Subject        string `json:"subject"`
	Score          uint16 `json:"score"`
	PDBps          uint16 `json:"pdBps"`
	FeaturesDigest string `json:"featuresDigest"`
	Expiry         int64  `json:"expiry"`
}

func (s *Server) getScore(w http.ResponseWriter, r *http.Request) {
	subject, err := pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	report, err := s.verifier.GetValidScore(subject)
	if err != nil {
		switch {
		case errors.Is(err, score.ErrScoreNotFound):
			writeError(w, http.StatusNotFound, err)
		case errors.Is(err, score.ErrScoreExpired), errors.Is(err, score.ErrSignatureInvalid):
			writeError(w, http.StatusGone, err)
		default:
			writeError(w, http.StatusInternalServerError, err)
		}
		return
	}
	writeJSON(w, http.StatusOK, scoreResponse{
		Subject:        formatAddress(subject),
		Score:          report.Score,
		PDBps:          report.PDBps,
		FeaturesDigest: hex.EncodeToString(report.FeaturesDigest[:]),
		Expiry:         report.Expiry,
	})
}

type installmentResponse struct {
	Amount         string `json:"amount"`
	DueDate        int64  `json:"dueDate"`
	Paid           bool   `json:"paid"`
	PaidAt         int64  `json:"paidAt,omitempty"`
	PenaltyAccrued string `json:"penaltyAccrued"`
}

type agreementResponse struct {
	ID               string                `json:"id"`
	Borrower         string                `json:"borrower"`
	Counterparty     string                `json:"counterparty"`
	Principal        string                `json:"principal"`
	TotalDue         string                `json:"totalDue"`
	InstallmentCount uint32                `json:"installmentCount"`
	APRBps           uint64                `json:"aprBps"`
	Status           string                `json:"status"`
	PaidInstallments uint32                `json:"paidInstallments"`
	LastPaymentTime  int64                 `json:"lastPaymentTime,omitempty"`
	CreatedAt        int64                 `json:"createdAt"`
	Installments     []installmentResponse `json:"installments"`
}

func encodeAgreement(a *agreements.Agreement) agreementResponse {
	installments := make([]installmentResponse, len(a.Installments))
	for i, installment := range a.Installments {
		installments[i] = installmentResponse{
			Amount:         formatAmount(installment.Amount),
			DueDate:        installment.DueDate,
			Paid:           installment.Paid,
			PaidAt:         installment.PaidAt,
			PenaltyAccrued: formatAmount(installment.PenaltyAccrued),
		}
	}
	return agreementResponse{
		ID:               hex.EncodeToString(a.ID[:]),
		Borrower:         formatAddress(a.Borrower),
		Counterparty:     formatAddress(a.Counterparty),
		Principal:        formatAmount(a.Principal),
		TotalDue:         formatAmount(a.TotalDue()),
		InstallmentCount: a.InstallmentCount,
		APRBps:           a.APRBps,
		Status:           a.Status.String(),
		PaidInstallments: a.PaidInstallments,
		LastPaymentTime:  a.LastPaymentTime,
		CreatedAt:        a.CreatedAt,
		Installments:     installments,
	}
}

func (s *Server) getAgreement(w http.ResponseWriter, r *http.Request) {
	id, err := pathAgreementID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	agreement, err := s.agreements.AgreementByID(id)
	if err != nil {
		if errors.Is(err, agreements.ErrAgreementNotFound) {
			writeError(w, http.StatusNotFound, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, encodeAgreement(agreement))
}

type accountAgreementsResponse struct {
	Borrowed     []agreementResponse `json:"borrowed"`
	Counterparty []agreementResponse `json:"counterparty"`
}

func (s *Server) getAccountAgreements(w http.ResponseWriter, r *http.Request) {
	addr, err := pathAddress(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	borrowed, err := s.agreements.AgreementsByBorrower(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	counterparty, err := s.agreements.AgreementsByCounterparty(addr)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	resp := accountAgreementsResponse{
		Borrowed:     make([]agreementResponse, 0, len(borrowed)),
		Counterparty: make([]agreementResponse, 0, len(counterparty)),
	}
	for _, agreement := range borrowed {
		resp.Borrowed = append(resp.Borrowed, encodeAgreement(agreement))
	}
	for _, agreement := range counterparty {
		resp.Counterparty = append(resp.Counterparty, encodeAgreement(agreement))
	}
	writeJSON(w, http.StatusOK, resp)
}
