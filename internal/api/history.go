package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/punchamoorthee/bankops/internal/domain"
)

type accountView struct {
	ID            string          `json:"id"`
	AccountNumber string          `json:"accountNumber"`
	Balance       decimal.Decimal `json:"balance"`
	CreatedAt     time.Time       `json:"createdAt"`
}

type accountsResponse struct {
	Accounts     []accountView   `json:"accounts"`
	TotalBalance decimal.Decimal `json:"totalBalance"`
}

type transactionView struct {
	ID            string           `json:"id"`
	AccountID     string           `json:"accountId"`
	Type          domain.EntryType `json:"type"`
	Amount        decimal.Decimal  `json:"amount"`
	Description   string           `json:"description"`
	SenderName    string           `json:"senderName"`
	RecipientName string           `json:"receiverName"`
	CreatedAt     time.Time        `json:"createdAt"`
}

type pagination struct {
	CurrentPage int `json:"currentPage"`
	TotalPages  int `json:"totalPages"`
	TotalCount  int `json:"totalCount"`
	Limit       int `json:"limit"`
}

type transactionsResponse struct {
	Transactions []transactionView `json:"transactions"`
	Pagination   pagination        `json:"pagination"`
}

func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.transfers.Accounts(r.Context(), currentUserID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if len(accounts) == 0 {
		h.respondError(w, r, domain.ErrAccountNotFound.WithMessage("No accounts found for user"))
		return
	}

	resp := accountsResponse{Accounts: make([]accountView, 0, len(accounts)), TotalBalance: decimal.Zero}
	for _, a := range accounts {
		resp.Accounts = append(resp.Accounts, accountView{
			ID:            a.ID,
			AccountNumber: a.AccountNumber,
			Balance:       a.Balance,
			CreatedAt:     a.CreatedAt,
		})
		resp.TotalBalance = resp.TotalBalance.Add(a.Balance)
	}
	h.respondJSON(w, http.StatusOK, resp)
}

func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseEntryFilter(r)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	page, err := h.transfers.Transactions(r.Context(), currentUserID(r), filter)
	if err != nil {
		h.respondError(w, r, err)
		return
	}

	resp := transactionsResponse{
		Transactions: make([]transactionView, 0, len(page.Entries)),
		Pagination: pagination{
			CurrentPage: page.Page,
			TotalPages:  page.TotalPages(),
			TotalCount:  page.TotalCount,
			Limit:       page.Limit,
		},
	}
	for _, e := range page.Entries {
		resp.Transactions = append(resp.Transactions, transactionView{
			ID:            e.ID,
			AccountID:     e.AccountID,
			Type:          e.Type,
			Amount:        e.Amount,
			Description:   e.Description,
			SenderName:    e.SenderName,
			RecipientName: e.RecipientName,
			CreatedAt:     e.CreatedAt,
		})
	}
	h.respondJSON(w, http.StatusOK, resp)
}

// parseEntryFilter reads type, startDate, endDate, page and limit. Dates are
// RFC 3339 timestamps or plain dates; a plain endDate covers the whole day.
func parseEntryFilter(r *http.Request) (domain.EntryFilter, error) {
	q := r.URL.Query()
	var f domain.EntryFilter

	if t := q.Get("type"); t != "" && t != "all" {
		f.Type = domain.EntryType(t)
	}

	var err error
	if f.Page, err = intParam(q.Get("page")); err != nil {
		return f, domain.ErrInvalidRequest.WithMessage("page must be a number")
	}
	if f.Limit, err = intParam(q.Get("limit")); err != nil {
		return f, domain.ErrInvalidRequest.WithMessage("limit must be a number")
	}

	if s := q.Get("startDate"); s != "" {
		from, _, err := parseDate(s)
		if err != nil {
			return f, domain.ErrInvalidRequest.WithMessage("startDate is not a valid date")
		}
		f.From = &from
	}
	if s := q.Get("endDate"); s != "" {
		to, dateOnly, err := parseDate(s)
		if err != nil {
			return f, domain.ErrInvalidRequest.WithMessage("endDate is not a valid date")
		}
		if dateOnly {
			to = to.Add(24*time.Hour - time.Nanosecond)
		}
		f.To = &to
	}
	return f, nil
}

func intParam(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseDate(s string) (time.Time, bool, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, false, nil
	}
	t, err := time.Parse("2006-01-02", s)
	return t, true, err
}
