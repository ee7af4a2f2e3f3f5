package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/punchamoorthee/bankops/internal/auth"
	"github.com/punchamoorthee/bankops/internal/domain"
	"github.com/punchamoorthee/bankops/internal/service"
)

// Metrics
var (
	httpReqTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "endpoint", "status"})

	httpLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ledger_http_request_duration_seconds",
		Help:    "Request latency",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"method", "endpoint"})
)

type Handler struct {
	transfers *service.TransferService
	auth      auth.Authenticator
	logger    *zap.Logger
}

func NewHandler(transfers *service.TransferService, authenticator auth.Authenticator, logger *zap.Logger) *Handler {
	return &Handler{transfers: transfers, auth: authenticator, logger: logger}
}

// Register mounts the authenticated API under /api/v1 on r.
func (h *Handler) Register(r *mux.Router) {
	r.Use(h.recoverer, h.instrument)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(h.authenticate)
	apiV1.HandleFunc("/transfers/initiate", h.InitiateTransfer).Methods(http.MethodPost)
	apiV1.HandleFunc("/transfers/confirm", h.ConfirmTransfer).Methods(http.MethodPost)
	apiV1.HandleFunc("/transfers/challenges/{id}", h.GetChallenge).Methods(http.MethodGet)
	apiV1.HandleFunc("/transfers", h.CreateTransfer).Methods(http.MethodPost)
	apiV1.HandleFunc("/accounts", h.ListAccounts).Methods(http.MethodGet)
	apiV1.HandleFunc("/transactions", h.ListTransactions).Methods(http.MethodGet)
}

func (h *Handler) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := h.auth.Authenticate(r)
		if err != nil {
			h.respondError(w, r, domain.ErrUnauthenticated.WithMessage("No authentication token provided").Wrap(err))
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.WithUserID(r.Context(), userID)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tmpl, err := route.GetPathTemplate(); err == nil {
			return tmpl
		}
	}
	return "unmatched"
}

func (h *Handler) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := routeTemplate(r)
		elapsed := time.Since(start)
		httpReqTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()
		httpLatency.WithLabelValues(r.Method, endpoint).Observe(elapsed.Seconds())
		h.logger.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("endpoint", endpoint),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed))
	})
}

func (h *Handler) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				h.logger.Error("Panic while serving request",
					zap.Any("panic", p), zap.String("path", r.URL.Path), zap.Stack("stack"))
				h.respondJSON(w, http.StatusInternalServerError, errorBody{Error: domain.ErrInternal.Message, Code: domain.ErrInternal.Code})
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Helpers
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (h *Handler) respondJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status, e := errorStatus(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("code", e.Code),
			zap.Error(err))
	}
	h.respondJSON(w, status, errorBody{Error: e.Message, Code: e.Code})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	if err := dec.Decode(dst); err != nil {
		return domain.ErrInvalidRequest.WithMessage("Invalid JSON").Wrap(err)
	}
	return nil
}

func currentUserID(r *http.Request) string {
	id, _ := auth.UserIDFromContext(r.Context())
	return id
}
