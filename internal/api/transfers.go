package api

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/bankops/internal/service"
)

type initiateRequest struct {
	RecipientEmail         string          `json:"recipientEmail"`
	RecipientAccountNumber string          `json:"recipientAccountNumber"`
	Amount                 decimal.Decimal `json:"amount"`
	Description            string          `json:"description"`
}

type initiateResponse struct {
	ChallengeID string    `json:"challengeId"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

type confirmRequest struct {
	ChallengeID string `json:"challengeId"`
	OTP         string `json:"otp"`
	Password    string `json:"password"`
}

type directRequest struct {
	RecipientEmail string          `json:"recipientEmail"`
	Amount         decimal.Decimal `json:"amount"`
	Description    string          `json:"description"`
}

type transferView struct {
	ID             string          `json:"id"`
	Amount         decimal.Decimal `json:"amount"`
	RecipientEmail string          `json:"recipientEmail"`
	RecipientName  string          `json:"recipientName"`
	Description    string          `json:"description"`
	Timestamp      time.Time       `json:"timestamp"`
}

type transferResponse struct {
	Message    string          `json:"message"`
	Transfer   transferView    `json:"transfer"`
	NewBalance decimal.Decimal `json:"newBalance"`
}

type challengeResponse struct {
	ChallengeID       string          `json:"challengeId"`
	Amount            decimal.Decimal `json:"amount"`
	ExpiresAt         time.Time       `json:"expiresAt"`
	AttemptsRemaining int             `json:"attemptsRemaining"`
	Verified          bool            `json:"verified"`
}

func newTransferResponse(res *service.TransferResult) transferResponse {
	return transferResponse{
		Message: "Transfer completed successfully",
		Transfer: transferView{
			ID:             res.TransferID,
			Amount:         res.Amount,
			RecipientEmail: res.RecipientEmail,
			RecipientName:  res.RecipientName,
			Description:    res.Description,
			Timestamp:      res.Timestamp,
		},
		NewBalance: res.NewBalance,
	}
}

func (h *Handler) InitiateTransfer(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.transfers.Initiate(r.Context(), service.InitiateRequest{
		UserID:           currentUserID(r),
		RecipientEmail:   req.RecipientEmail,
		RecipientAccount: req.RecipientAccountNumber,
		Amount:           req.Amount,
		Description:      strings.TrimSpace(req.Description),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, initiateResponse{ChallengeID: res.ChallengeID, ExpiresAt: res.ExpiresAt})
}

func (h *Handler) ConfirmTransfer(w http.ResponseWriter, r *http.Request) {
	var req confirmRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.transfers.Confirm(r.Context(), service.ConfirmRequest{
		UserID:      currentUserID(r),
		ChallengeID: strings.TrimSpace(req.ChallengeID),
		OTP:         strings.TrimSpace(req.OTP),
		Password:    req.Password,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, newTransferResponse(res))
}

// CreateTransfer is the single-step transfer kept for older clients. An
// Idempotency-Key header makes retries safe.
func (h *Handler) CreateTransfer(w http.ResponseWriter, r *http.Request) {
	var req directRequest
	if err := decodeJSON(w, r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}

	res, err := h.transfers.DirectTransfer(r.Context(), service.DirectRequest{
		UserID:         currentUserID(r),
		RecipientEmail: req.RecipientEmail,
		Amount:         req.Amount,
		Description:    strings.TrimSpace(req.Description),
		IdempotencyKey: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, newTransferResponse(res))
}

func (h *Handler) GetChallenge(w http.ResponseWriter, r *http.Request) {
	status, err := h.transfers.ChallengeStatus(r.Context(), currentUserID(r), mux.Vars(r)["id"])
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.respondJSON(w, http.StatusOK, challengeResponse{
		ChallengeID:       status.ChallengeID,
		Amount:            status.Amount,
		ExpiresAt:         status.ExpiresAt,
		AttemptsRemaining: status.AttemptsRemaining,
		Verified:          status.Verified,
	})
}
