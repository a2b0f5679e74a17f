package domain

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	ProductStatusActive       ProductStatus = "ACTIVE"
	ProductStatusInactive     ProductStatus = "INACTIVE"
	ProductStatusDiscontinued ProductStatus = "DISCONTINUED"
)

// Product is the referenced catalog entity. StockQuantity never goes negative.
type Product struct {
	ID            uuid.UUID
	Name          string
	SKU           string
	Price         decimal.Decimal
	StockQuantity int
	Status        ProductStatus
	UpdatedAt     time.Time
}

type User struct {
	ID    uuid.UUID
	Email string
	Name  string
}

type Address struct {
	Street     string `json:"street"`
	City       string `json:"city"`
	State      string `json:"state"`
	PostalCode string `json:"postal_code"`
	Country    string `json:"country"`
}

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string {
	if a.IsZero() {
		return ""
	}
	return fmt.Sprintf("%s, %s, %s %s, %s", a.Street, a.City, a.State, a.PostalCode, a.Country)
}

// OrderLine is owned by its order. ProductID and UnitPrice are fixed at
// creation; UnitPrice is the catalog price at order time.
type OrderLine struct {
	ProductID   uuid.UUID
	ProductName string
	Quantity    int
	UnitPrice   decimal.Decimal
}

func (l OrderLine) Total() decimal.Decimal {
	return l.UnitPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))
}

// Order is the aggregate root. Monetary fields and status only change through
// its methods so TotalAmount always equals Subtotal + Tax + Shipping.
type Order struct {
	ID              uuid.UUID
	OrderNumber     string
	UserID          uuid.UUID
	ShippingAddress Address
	Notes           string
	IdempotencyKey  string
	CreatedAt       time.Time
	UpdatedAt       time.Time

	status      OrderStatus
	lines       []OrderLine
	subtotal    decimal.Decimal
	tax         decimal.Decimal
	shipping    decimal.Decimal
	total       decimal.Decimal
	shippedAt   *time.Time
	deliveredAt *time.Time
	// stockRestored is set once the lines' quantities went back to stock.
	stockRestored bool
}

type NewOrderParams struct {
	ID              uuid.UUID
	OrderNumber     string
	UserID          uuid.UUID
	TaxAmount       decimal.Decimal
	ShippingAmount  decimal.Decimal
	ShippingAddress Address
	Notes           string
	IdempotencyKey  string
	Now             time.Time
}

// MoneyScale is the number of decimal places every stored amount carries.
const MoneyScale = 2

// CheckAmount rejects negative amounts and amounts finer than a cent.
func CheckAmount(field string, v decimal.Decimal) error {
	if v.IsNegative() || !v.Equal(v.Truncate(MoneyScale)) {
		return fmt.Errorf("%s %s: %w", field, v, ErrInvalidAmount)
	}
	return nil
}

func NewOrder(p NewOrderParams) (*Order, error) {
	if err := CheckAmount("tax", p.TaxAmount); err != nil {
		return nil, err
	}
	if err := CheckAmount("shipping", p.ShippingAmount); err != nil {
		return nil, err
	}
	id := p.ID
	if id == uuid.Nil {
		id = uuid.New()
	}
	o := &Order{
		ID:              id,
		OrderNumber:     p.OrderNumber,
		UserID:          p.UserID,
		ShippingAddress: p.ShippingAddress,
		Notes:           p.Notes,
		IdempotencyKey:  p.IdempotencyKey,
		CreatedAt:       p.Now,
		UpdatedAt:       p.Now,
		status:          OrderStatusPending,
		tax:             p.TaxAmount,
		shipping:        p.ShippingAmount,
	}
	o.recalculate()
	return o, nil
}

// AddLine appends a line and recomputes totals. Lines are never removed.
func (o *Order) AddLine(line OrderLine) error {
	if line.Quantity <= 0 {
		return fmt.Errorf("product %s: %w", line.ProductID, ErrInvalidQuantity)
	}
	if err := CheckAmount("unit price for product "+line.ProductID.String(), line.UnitPrice); err != nil {
		return err
	}
	o.lines = append(o.lines, line)
	o.recalculate()
	return nil
}

func (o *Order) SetTaxAmount(v decimal.Decimal) error {
	if err := CheckAmount("tax", v); err != nil {
		return err
	}
	o.tax = v
	o.recalculate()
	return nil
}

func (o *Order) SetShippingAmount(v decimal.Decimal) error {
	if err := CheckAmount("shipping", v); err != nil {
		return err
	}
	o.shipping = v
	o.recalculate()
	return nil
}

func (o *Order) recalculate() {
	sum := decimal.Zero
	for _, l := range o.lines {
		sum = sum.Add(l.Total())
	}
	o.subtotal = sum
	o.total = sum.Add(o.tax).Add(o.shipping)
}

func (o *Order) Status() OrderStatus             { return o.status }
func (o *Order) Subtotal() decimal.Decimal       { return o.subtotal }
func (o *Order) TaxAmount() decimal.Decimal      { return o.tax }
func (o *Order) ShippingAmount() decimal.Decimal { return o.shipping }
func (o *Order) TotalAmount() decimal.Decimal    { return o.total }
func (o *Order) ShippedAt() *time.Time           { return copyTime(o.shippedAt) }
func (o *Order) DeliveredAt() *time.Time         { return copyTime(o.deliveredAt) }
func (o *Order) StockRestored() bool             { return o.stockRestored }

func (o *Order) Lines() []OrderLine {
	return append([]OrderLine(nil), o.lines...)
}

func (o *Order) TotalItems() int {
	n := 0
	for _, l := range o.lines {
		n += l.Quantity
	}
	return n
}

// Transition is the outcome of a status change.
type Transition struct {
	From    OrderStatus
	To      OrderStatus
	Effects []Effect
}

func (t Transition) RestoresStock() bool {
	for _, e := range t.Effects {
		if e == EffectRestoreStock {
			return true
		}
	}
	return false
}

// Transition moves the order to status `to` under policy and applies the
// timestamp effects. Stock restoration is reported, not performed: the caller
// owns the ledger. An order reports EffectRestoreStock at most once in its
// lifetime, whatever path the policy lets it take.
func (o *Order) Transition(policy *Policy, to OrderStatus, now time.Time) (Transition, error) {
	if !to.Valid() {
		return Transition{}, fmt.Errorf("unknown status %q: %w", to, ErrInvalidTransition)
	}
	rule, ok := policy.Rule(o.status, to)
	if !ok || !rule.Allowed {
		return Transition{}, &TransitionError{From: o.status, To: to, Policy: policy.Name()}
	}

	tr := Transition{From: o.status, To: to}
	for _, e := range rule.Effects {
		if e == EffectRestoreStock && o.stockRestored {
			continue
		}
		tr.Effects = append(tr.Effects, e)
		switch e {
		case EffectStampShipped:
			if o.shippedAt == nil {
				o.shippedAt = timePtr(now)
			}
		case EffectStampDelivered:
			if o.deliveredAt == nil {
				o.deliveredAt = timePtr(now)
			}
			if o.shippedAt == nil {
				o.shippedAt = timePtr(now)
			}
		case EffectRestoreStock:
			o.stockRestored = true
		}
	}
	o.status = to
	o.UpdatedAt = now
	return tr, nil
}

// Validate checks the aggregate invariants.
func (o *Order) Validate() error {
	var errs []error
	sum := decimal.Zero
	for _, l := range o.lines {
		if l.Quantity <= 0 {
			errs = append(errs, fmt.Errorf("line %s: %w", l.ProductID, ErrInvalidQuantity))
		}
		sum = sum.Add(l.Total())
	}
	if !sum.Equal(o.subtotal) {
		errs = append(errs, fmt.Errorf("subtotal %s != sum of lines %s", o.subtotal, sum))
	}
	if want := sum.Add(o.tax).Add(o.shipping); !want.Equal(o.total) {
		errs = append(errs, fmt.Errorf("total %s != %s", o.total, want))
	}
	if o.status == OrderStatusDelivered && o.shippedAt == nil {
		errs = append(errs, errors.New("delivered order without shipped_at"))
	}
	if o.shippedAt != nil && o.deliveredAt != nil && o.deliveredAt.Before(*o.shippedAt) {
		errs = append(errs, errors.New("delivered_at before shipped_at"))
	}
	return errors.Join(errs...)
}

// Snapshot is the flat persisted form of an order.
type Snapshot struct {
	ID              uuid.UUID
	OrderNumber     string
	UserID          uuid.UUID
	Status          OrderStatus
	Lines           []OrderLine
	TaxAmount       decimal.Decimal
	ShippingAmount  decimal.Decimal
	TotalAmount     decimal.Decimal
	ShippingAddress Address
	Notes           string
	IdempotencyKey  string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ShippedAt       *time.Time
	DeliveredAt     *time.Time
	StockRestored   bool
}

func (o *Order) Snapshot() Snapshot {
	return Snapshot{
		ID:              o.ID,
		OrderNumber:     o.OrderNumber,
		UserID:          o.UserID,
		Status:          o.status,
		Lines:           o.Lines(),
		TaxAmount:       o.tax,
		ShippingAmount:  o.shipping,
		TotalAmount:     o.total,
		ShippingAddress: o.ShippingAddress,
		Notes:           o.Notes,
		IdempotencyKey:  o.IdempotencyKey,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		ShippedAt:       copyTime(o.shippedAt),
		DeliveredAt:     copyTime(o.deliveredAt),
		StockRestored:   o.stockRestored,
	}
}

// Rehydrate rebuilds an order loaded from storage. The stored total must match
// the one recomputed from lines, tax and shipping.
func Rehydrate(s Snapshot) (*Order, error) {
	if !s.Status.Valid() {
		return nil, fmt.Errorf("order %s: unknown status %q", s.ID, s.Status)
	}
	o := &Order{
		ID:              s.ID,
		OrderNumber:     s.OrderNumber,
		UserID:          s.UserID,
		ShippingAddress: s.ShippingAddress,
		Notes:           s.Notes,
		IdempotencyKey:  s.IdempotencyKey,
		CreatedAt:       s.CreatedAt,
		UpdatedAt:       s.UpdatedAt,
		status:          s.Status,
		lines:           append([]OrderLine(nil), s.Lines...),
		tax:             s.TaxAmount,
		shipping:        s.ShippingAmount,
		shippedAt:       copyTime(s.ShippedAt),
		deliveredAt:     copyTime(s.DeliveredAt),
		stockRestored:   s.StockRestored,
	}
	o.recalculate()
	if !o.total.Equal(s.TotalAmount) {
		return nil, fmt.Errorf("order %s: stored total %s does not match computed %s", s.ID, s.TotalAmount, o.total)
	}
	return o, nil
}

func timePtr(t time.Time) *time.Time { return &t }

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
