package memory

import (
	"context"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/nazeru/order-fulfillment/internal/analytics"
)

// Analytics is the in-process inbox and fact table used by the analytics
// projector.
type Analytics struct {
	mu    sync.Mutex
	inbox map[string]string
	facts map[uuid.UUID]analytics.Fact
}

func NewAnalytics() *Analytics {
	return &Analytics{inbox: map[string]string{}, facts: map[uuid.UUID]analytics.Fact{}}
}

func (a *Analytics) Do(ctx context.Context, fn func(ctx context.Context, tx analytics.Tx) error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}

	work := &analyticsTx{
		inbox: make(map[string]string, len(a.inbox)),
		facts: make(map[uuid.UUID]analytics.Fact, len(a.facts)),
	}
	for k, v := range a.inbox {
		work.inbox[k] = v
	}
	for k, v := range a.facts {
		work.facts[k] = v
	}
	if err := fn(ctx, work); err != nil {
		return err
	}
	a.inbox, a.facts = work.inbox, work.facts
	return nil
}

func (a *Analytics) Fact(id uuid.UUID) (analytics.Fact, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	f, ok := a.facts[id]
	return f, ok
}

func (a *Analytics) Seen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inbox)
}

func (a *Analytics) SummaryByStatus(_ context.Context) ([]analytics.StatusSummary, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	byStatus := map[string]*analytics.StatusSummary{}
	for _, f := range a.facts {
		row, ok := byStatus[f.Status]
		if !ok {
			row = &analytics.StatusSummary{Status: f.Status, TotalAmount: decimal.Zero, RefundAmount: decimal.Zero}
			byStatus[f.Status] = row
		}
		row.Orders++
		row.TotalAmount = row.TotalAmount.Add(f.TotalAmount)
		row.RefundAmount = row.RefundAmount.Add(f.RefundAmount)
	}
	out := make([]analytics.StatusSummary, 0, len(byStatus))
	for _, row := range byStatus {
		out = append(out, *row)
	}
	return out, nil
}

type analyticsTx struct {
	inbox map[string]string
	facts map[uuid.UUID]analytics.Fact
}

func (t *analyticsTx) MarkSeen(_ context.Context, eventID, eventType string) (bool, error) {
	if _, ok := t.inbox[eventID]; ok {
		return false, nil
	}
	t.inbox[eventID] = eventType
	return true, nil
}

func (t *analyticsTx) GetFact(_ context.Context, orderID uuid.UUID) (analytics.Fact, bool, error) {
	f, ok := t.facts[orderID]
	return f, ok, nil
}

func (t *analyticsTx) PutFact(_ context.Context, f analytics.Fact) error {
	t.facts[f.OrderID] = f
	return nil
}

var (
	_ analytics.Store  = (*Analytics)(nil)
	_ analytics.Reader = (*Analytics)(nil)
)
