package domain

import (
	"fmt"
	"strings"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
	OrderStatusRefunded   OrderStatus = "REFUNDED"
)

// AllStatuses lists every status in lifecycle order.
var AllStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
	OrderStatusRefunded,
}

// RevenueStatuses are the statuses whose totals count towards revenue.
var RevenueStatuses = []OrderStatus{
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
}

func ParseStatus(s string) (OrderStatus, error) {
	st := OrderStatus(strings.ToUpper(strings.TrimSpace(s)))
	if !st.Valid() {
		return "", fmt.Errorf("%w %q", ErrInvalidStatus, s)
	}
	return st, nil
}

func (s OrderStatus) Valid() bool {
	for _, st := range AllStatuses {
		if st == s {
			return true
		}
	}
	return false
}

func (s OrderStatus) Terminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled || s == OrderStatusRefunded
}

func (s OrderStatus) CountsAsRevenue() bool {
	for _, st := range RevenueStatuses {
		if st == s {
			return true
		}
	}
	return false
}

// Effect is a side effect triggered by entering a status.
type Effect int

const (
	EffectStampShipped Effect = iota + 1
	EffectStampDelivered
	EffectRestoreStock
)

func (e Effect) String() string {
	switch e {
	case EffectStampShipped:
		return "stamp_shipped"
	case EffectStampDelivered:
		return "stamp_delivered"
	case EffectRestoreStock:
		return "restore_stock"
	default:
		return fmt.Sprintf("effect(%d)", int(e))
	}
}

// Rule is one cell of a transition table.
type Rule struct {
	Allowed bool
	Effects []Effect
}

// Policy is a total transition table over AllStatuses x AllStatuses.
type Policy struct {
	name  string
	rules map[OrderStatus]map[OrderStatus]Rule
}

const (
	PolicyStrict     = "strict"
	PolicyPermissive = "permissive"
)

// strictEdges is the forward-only lattice. Every status must have a row, even
// terminal ones; self transitions are always accepted as no-ops.
var strictEdges = map[OrderStatus][]OrderStatus{
	OrderStatusPending:    {OrderStatusConfirmed, OrderStatusCancelled},
	OrderStatusConfirmed:  {OrderStatusProcessing, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusProcessing: {OrderStatusShipped, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusShipped:    {OrderStatusDelivered, OrderStatusCancelled, OrderStatusRefunded},
	OrderStatusDelivered:  {},
	OrderStatusCancelled:  {},
	OrderStatusRefunded:   {},
}

var (
	StrictPolicy     = mustPolicy(PolicyStrict, strictEdges)
	PermissivePolicy = mustPolicy(PolicyPermissive, allEdges())
)

func PolicyByName(name string) (*Policy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", PolicyStrict:
		return StrictPolicy, nil
	case PolicyPermissive:
		return PermissivePolicy, nil
	default:
		return nil, fmt.Errorf("unknown transition policy %q", name)
	}
}

func (p *Policy) Name() string { return p.name }

// Rule returns the cell for (from, to). ok is false only for statuses outside
// AllStatuses.
func (p *Policy) Rule(from, to OrderStatus) (Rule, bool) {
	row, ok := p.rules[from]
	if !ok {
		return Rule{}, false
	}
	r, ok := row[to]
	return r, ok
}

func mustPolicy(name string, edges map[OrderStatus][]OrderStatus) *Policy {
	p, err := newPolicy(name, edges)
	if err != nil {
		panic(err)
	}
	return p
}

func newPolicy(name string, edges map[OrderStatus][]OrderStatus) (*Policy, error) {
	for from, targets := range edges {
		if !from.Valid() {
			return nil, fmt.Errorf("%s policy: unknown source status %q", name, from)
		}
		for _, to := range targets {
			if !to.Valid() {
				return nil, fmt.Errorf("%s policy: unknown target status %q from %s", name, to, from)
			}
		}
	}

	p := &Policy{name: name, rules: make(map[OrderStatus]map[OrderStatus]Rule, len(AllStatuses))}
	for _, from := range AllStatuses {
		targets, ok := edges[from]
		if !ok {
			return nil, fmt.Errorf("%s policy: no row for status %s", name, from)
		}
		allowed := map[OrderStatus]bool{from: true}
		for _, to := range targets {
			allowed[to] = true
		}
		row := make(map[OrderStatus]Rule, len(AllStatuses))
		for _, to := range AllStatuses {
			rule := Rule{Allowed: allowed[to]}
			if rule.Allowed {
				rule.Effects = effectsFor(from, to)
			}
			row[to] = rule
		}
		p.rules[from] = row
	}
	return p, nil
}

func allEdges() map[OrderStatus][]OrderStatus {
	edges := make(map[OrderStatus][]OrderStatus, len(AllStatuses))
	for _, from := range AllStatuses {
		edges[from] = append([]OrderStatus(nil), AllStatuses...)
	}
	return edges
}

// effectsFor is shared by every policy so the side effects of entering a
// status do not depend on which transitions are permitted.
func effectsFor(from, to OrderStatus) []Effect {
	switch to {
	case OrderStatusShipped:
		return []Effect{EffectStampShipped}
	case OrderStatusDelivered:
		return []Effect{EffectStampDelivered}
	case OrderStatusCancelled:
		if from != OrderStatusCancelled {
			return []Effect{EffectRestoreStock}
		}
	case OrderStatusRefunded:
		if from != OrderStatusRefunded && from != OrderStatusCancelled {
			return []Effect{EffectRestoreStock}
		}
	case OrderStatusPending, OrderStatusConfirmed, OrderStatusProcessing:
	}
	return nil
}
