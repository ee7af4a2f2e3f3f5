package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/punchamoorthee/bankops/internal/domain"
)

var (
	transfersTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_transfers_total",
		Help: "Transfer operations by path and outcome code",
	}, []string{"path", "outcome"})

	challengesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ledger_challenges_total",
		Help: "Transfer challenges by lifecycle event",
	}, []string{"event"})

	transferAmount = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "ledger_transfer_amount",
		Help:    "Amount of executed transfers",
		Buckets: prometheus.ExponentialBuckets(1, 10, 7),
	})
)

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if e, ok := domain.AsError(err); ok {
		return e.Code
	}
	return "internal_error"
}
