package analytics

import (
	"context"
	"encoding/json"
	"net/http"
	"sort"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StatusSummary aggregates the facts that currently sit in one status.
type StatusSummary struct {
	Status       string          `json:"status"`
	Orders       int64           `json:"orders"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
}

type Summary struct {
	Orders       int64           `json:"orders"`
	TotalAmount  decimal.Decimal `json:"total_amount"`
	RefundAmount decimal.Decimal `json:"refund_amount"`
	ByStatus     []StatusSummary `json:"by_status"`
}

// Reader is the query side of the fact table.
type Reader interface {
	SummaryByStatus(ctx context.Context) ([]StatusSummary, error)
}

// Summarize totals rows and orders them by status name.
func Summarize(rows []StatusSummary) Summary {
	s := Summary{TotalAmount: decimal.Zero, RefundAmount: decimal.Zero, ByStatus: make([]StatusSummary, 0, len(rows))}
	for _, r := range rows {
		s.Orders += r.Orders
		s.TotalAmount = s.TotalAmount.Add(r.TotalAmount)
		s.RefundAmount = s.RefundAmount.Add(r.RefundAmount)
		s.ByStatus = append(s.ByStatus, r)
	}
	sort.Slice(s.ByStatus, func(i, j int) bool { return s.ByStatus[i].Status < s.ByStatus[j].Status })
	return s
}

// SummaryHandler serves the order summary as JSON.
func SummaryHandler(r Reader, logger *zap.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		rows, err := r.SummaryByStatus(req.Context())
		w.Header().Set("Content-Type", "application/json")
		if err != nil {
			logger.Error("order summary failed", zap.Error(err))
			w.WriteHeader(http.StatusInternalServerError)
			_, _ = w.Write([]byte(`{"error":"internal error"}`))
			return
		}
		_ = json.NewEncoder(w).Encode(Summarize(rows))
	})
}
