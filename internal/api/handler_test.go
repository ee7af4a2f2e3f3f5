package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankops/internal/auth"
	"github.com/punchamoorthee/bankops/internal/challenge"
	"github.com/punchamoorthee/bankops/internal/domain"
	"github.com/punchamoorthee/bankops/internal/notify"
	"github.com/punchamoorthee/bankops/internal/service"
	"github.com/punchamoorthee/bankops/internal/store"
)

type otpCapture struct {
	mu    sync.Mutex
	codes map[string]string
}

func (c *otpCapture) SendOTP(_ context.Context, msg notify.OTPMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.codes[msg.ChallengeID] = msg.Code
	return nil
}

func (c *otpCapture) code(id string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.codes[id]
}

type plainVerifier struct{}

func (plainVerifier) Verify(password, hash string) bool { return password == hash }

type testServer struct {
	router     http.Handler
	mem        *store.Memory
	otps       *otpCapture
	alice, bob *domain.User
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	mem := store.NewMemory()
	alice, err := mem.AddUser(domain.User{Name: "Alice", Email: "alice@example.com", PasswordHash: "alice-pass"})
	require.NoError(t, err)
	bob, err := mem.AddUser(domain.User{Name: "Bob", Email: "bob@example.com", PasswordHash: "bob-pass"})
	require.NoError(t, err)
	_, err = mem.AddAccount(domain.Account{UserID: alice.ID, AccountNumber: "410000000001", Balance: decimal.RequireFromString("1000.00")})
	require.NoError(t, err)
	_, err = mem.AddAccount(domain.Account{UserID: bob.ID, AccountNumber: "410000000002", Balance: decimal.RequireFromString("50.00")})
	require.NoError(t, err)

	otps := &otpCapture{codes: map[string]string{}}
	svc := service.NewTransferService(service.Deps{
		Directory:  mem,
		Ledger:     mem,
		History:    mem,
		Challenges: challenge.NewMemoryStore(),
		Verifier:   plainVerifier{},
		OTPSender:  otps,
	}, service.DefaultOptions(), zap.NewNop())

	r := mux.NewRouter()
	NewHandler(svc, auth.HeaderAuthenticator{}, zap.NewNop()).Register(r)
	return &testServer{router: r, mem: mem, otps: otps, alice: alice, bob: bob}
}

func (s *testServer) do(t *testing.T, method, path, userID string, body any, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(auth.UserIDHeader, userID)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, dst any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), dst))
}

func (s *testServer) initiate(t *testing.T, amount string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/v1/transfers/initiate", s.alice.ID, map[string]any{
		"recipientEmail": s.bob.Email,
		"amount":         amount,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp initiateResponse
	decodeBody(t, rec, &resp)
	require.NotEmpty(t, resp.ChallengeID)
	return resp.ChallengeID
}

func TestRequiresAuthentication(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/accounts", "", nil)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, "unauthenticated", body.Code)
	assert.Equal(t, "No authentication token provided", body.Error)
}

func TestInitiateAndConfirmTransfer(t *testing.T) {
	s := newTestServer(t)
	id := s.initiate(t, "100.00")

	rec := s.do(t, http.MethodPost, "/api/v1/transfers/confirm", s.alice.ID, map[string]any{
		"challengeId": id,
		"otp":         s.otps.code(id),
		"password":    "alice-pass",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp transferResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "Transfer completed successfully", resp.Message)
	assert.Equal(t, "900.00", resp.NewBalance.StringFixed(2))
	assert.Equal(t, "100.00", resp.Transfer.Amount.StringFixed(2))
	assert.Equal(t, "bob@example.com", resp.Transfer.RecipientEmail)
	assert.Equal(t, "Bob", resp.Transfer.RecipientName)
	assert.NotEmpty(t, resp.Transfer.ID)

	// The challenge is consumed.
	rec = s.do(t, http.MethodPost, "/api/v1/transfers/confirm", s.alice.ID, map[string]any{
		"challengeId": id,
		"otp":         s.otps.code(id),
		"password":    "alice-pass",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, domain.ErrChallengeNotFound.Code, body.Code)
}

func TestErrorStatusMapping(t *testing.T) {
	s := newTestServer(t)

	tests := []struct {
		name   string
		body   map[string]any
		status int
		code   string
	}{
		{"invalid amount", map[string]any{"recipientEmail": "bob@example.com", "amount": "-5"}, http.StatusBadRequest, domain.ErrInvalidAmount.Code},
		{"missing recipient", map[string]any{"amount": "5"}, http.StatusBadRequest, domain.ErrMissingRecipient.Code},
		{"unknown recipient", map[string]any{"recipientEmail": "nobody@example.com", "amount": "5"}, http.StatusNotFound, domain.ErrRecipientNotFound.Code},
		{"insufficient balance", map[string]any{"recipientEmail": "bob@example.com", "amount": "5000"}, http.StatusBadRequest, domain.ErrInsufficientBalance.Code},
		{"self transfer", map[string]any{"recipientAccountNumber": "410000000001", "amount": "5"}, http.StatusBadRequest, domain.ErrSelfTransfer.Code},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, http.MethodPost, "/api/v1/transfers/initiate", s.alice.ID, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			var body errorBody
			decodeBody(t, rec, &body)
			assert.Equal(t, tt.code, body.Code)
		})
	}
}

func TestMalformedJSON(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/transfers/confirm", bytes.NewBufferString("{not json"))
	req.Header.Set(auth.UserIDHeader, s.alice.ID)
	rec := httptest.NewRecorder()

	s.router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, "Invalid JSON", body.Error)
}

func TestWrongOTPAndPassword(t *testing.T) {
	s := newTestServer(t)
	id := s.initiate(t, "10")

	rec := s.do(t, http.MethodPost, "/api/v1/transfers/confirm", s.alice.ID, map[string]any{
		"challengeId": id, "otp": "not-the-code", "password": "alice-pass",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/v1/transfers/confirm", s.alice.ID, map[string]any{
		"challengeId": id, "otp": s.otps.code(id), "password": "wrong",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	var body errorBody
	decodeBody(t, rec, &body)
	assert.Equal(t, domain.ErrInvalidCredentials.Code, body.Code)
}

func TestChallengeStatus(t *testing.T) {
	s := newTestServer(t)
	id := s.initiate(t, "25.50")

	rec := s.do(t, http.MethodGet, "/api/v1/transfers/challenges/"+id, s.alice.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp challengeResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, id, resp.ChallengeID)
	assert.Equal(t, "25.50", resp.Amount.StringFixed(2))
	assert.Equal(t, 5, resp.AttemptsRemaining)
	assert.False(t, resp.Verified)

	rec = s.do(t, http.MethodGet, "/api/v1/transfers/challenges/"+id, s.bob.ID, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/transfers/challenges/unknown", s.alice.ID, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDirectTransferIdempotencyKey(t *testing.T) {
	s := newTestServer(t)
	body := map[string]any{"recipientEmail": "bob@example.com", "amount": "40"}

	rec := s.do(t, http.MethodPost, "/api/v1/transfers", s.alice.ID, body, "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var resp transferResponse
	decodeBody(t, rec, &resp)
	assert.Equal(t, "960.00", resp.NewBalance.StringFixed(2))

	rec = s.do(t, http.MethodPost, "/api/v1/transfers", s.alice.ID, body, "Idempotency-Key", "k-1")
	assert.Equal(t, http.StatusConflict, rec.Code)

	bob, err := s.mem.GetUserByEmail(context.Background(), "bob@example.com")
	require.NoError(t, err)
	acc, err := s.mem.PrimaryAccount(context.Background(), bob.ID)
	require.NoError(t, err)
	assert.Equal(t, "90.00", acc.Balance.StringFixed(2))
}

func TestListAccounts(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(t, http.MethodGet, "/api/v1/accounts", s.alice.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp accountsResponse
	decodeBody(t, rec, &resp)
	require.Len(t, resp.Accounts, 1)
	assert.Equal(t, "410000000001", resp.Accounts[0].AccountNumber)
	assert.Equal(t, "1000.00", resp.TotalBalance.StringFixed(2))

	carol, err := s.mem.AddUser(domain.User{Name: "Carol", Email: "carol@example.com"})
	require.NoError(t, err)
	rec = s.do(t, http.MethodGet, "/api/v1/accounts", carol.ID, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListTransactions(t *testing.T) {
	s := newTestServer(t)
	for i := 0; i < 3; i++ {
		rec := s.do(t, http.MethodPost, "/api/v1/transfers", s.alice.ID, map[string]any{"recipientEmail": "bob@example.com", "amount": "10"})
		require.Equal(t, http.StatusOK, rec.Code)
	}

	rec := s.do(t, http.MethodGet, "/api/v1/transactions?limit=2&page=1", s.alice.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp transactionsResponse
	decodeBody(t, rec, &resp)
	assert.Len(t, resp.Transactions, 2)
	assert.Equal(t, pagination{CurrentPage: 1, TotalPages: 2, TotalCount: 3, Limit: 2}, resp.Pagination)
	for _, tx := range resp.Transactions {
		assert.Equal(t, domain.EntryTransferOut, tx.Type)
		assert.True(t, tx.Amount.IsNegative())
	}

	rec = s.do(t, http.MethodGet, "/api/v1/transactions?type=transfer_in", s.bob.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decodeBody(t, rec, &resp)
	assert.Equal(t, 3, resp.Pagination.TotalCount)
	assert.Equal(t, "Alice", resp.Transactions[0].SenderName)

	rec = s.do(t, http.MethodGet, "/api/v1/transactions?type=all", s.bob.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/v1/transactions?page=9223372036854775807", s.alice.ID, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	decodeBody(t, rec, &resp)
	assert.Empty(t, resp.Transactions)
	assert.Equal(t, 3, resp.Pagination.TotalCount)

	for _, q := range []string{"type=bogus", "page=x", "startDate=yesterday", "startDate=2026-05-02&endDate=2026-05-01"} {
		rec = s.do(t, http.MethodGet, "/api/v1/transactions?"+q, s.alice.ID, nil)
		assert.Equal(t, http.StatusBadRequest, rec.Code, q)
	}
}

func TestParseEntryFilterDateOnlyEndIsInclusive(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/api/v1/transactions?startDate=2026-05-01&endDate=2026-05-01", nil)

	f, err := parseEntryFilter(req)

	require.NoError(t, err)
	require.NotNil(t, f.From)
	require.NotNil(t, f.To)
	assert.Equal(t, "2026-05-01T00:00:00Z", f.From.Format("2006-01-02T15:04:05Z07:00"))
	assert.Equal(t, "2026-05-01T23:59:59Z", f.To.Format("2006-01-02T15:04:05Z07:00"))
}

func TestErrorStatusUntypedIsInternal(t *testing.T) {
	status, e := errorStatus(assert.AnError)
	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, domain.ErrInternal.Code, e.Code)

	status, _ = errorStatus(domain.ErrChallengeExpired)
	assert.Equal(t, http.StatusBadRequest, status)
}
