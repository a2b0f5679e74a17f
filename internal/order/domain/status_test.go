package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPoliciesAreTotal(t *testing.T) {
	for _, p := range []*Policy{StrictPolicy, PermissivePolicy} {
		for _, from := range AllStatuses {
			for _, to := range AllStatuses {
				_, ok := p.Rule(from, to)
				assert.True(t, ok, "%s: missing rule %s -> %s", p.Name(), from, to)
			}
		}
	}
}

func TestNewPolicyRejectsIncompleteTable(t *testing.T) {
	edges := map[OrderStatus][]OrderStatus{
		OrderStatusPending: {OrderStatusConfirmed},
	}
	_, err := newPolicy("broken", edges)
	require.Error(t, err)

	edges = allEdges()
	edges[OrderStatusPending] = append(edges[OrderStatusPending], OrderStatus("LOST"))
	_, err = newPolicy("broken", edges)
	require.Error(t, err)
}

func TestStrictPolicy(t *testing.T) {
	allowed := map[[2]OrderStatus]bool{
		{OrderStatusPending, OrderStatusConfirmed}:    true,
		{OrderStatusPending, OrderStatusCancelled}:    true,
		{OrderStatusConfirmed, OrderStatusProcessing}: true,
		{OrderStatusConfirmed, OrderStatusCancelled}:  true,
		{OrderStatusConfirmed, OrderStatusRefunded}:   true,
		{OrderStatusProcessing, OrderStatusShipped}:   true,
		{OrderStatusProcessing, OrderStatusCancelled}: true,
		{OrderStatusProcessing, OrderStatusRefunded}:  true,
		{OrderStatusShipped, OrderStatusDelivered}:    true,
		{OrderStatusShipped, OrderStatusCancelled}:    true,
		{OrderStatusShipped, OrderStatusRefunded}:     true,
	}
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			rule, _ := StrictPolicy.Rule(from, to)
			want := from == to || allowed[[2]OrderStatus{from, to}]
			assert.Equal(t, want, rule.Allowed, "%s -> %s", from, to)
		}
	}
}

func TestStrictTerminalStatesHaveNoExit(t *testing.T) {
	for _, from := range AllStatuses {
		if !from.Terminal() {
			continue
		}
		for _, to := range AllStatuses {
			rule, _ := StrictPolicy.Rule(from, to)
			assert.Equal(t, from == to, rule.Allowed, "%s -> %s", from, to)
		}
	}
}

func TestPermissivePolicyAllowsEverything(t *testing.T) {
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			rule, _ := PermissivePolicy.Rule(from, to)
			assert.True(t, rule.Allowed, "%s -> %s", from, to)
		}
	}
}

func TestRestoreStockEffects(t *testing.T) {
	tests := []struct {
		from, to OrderStatus
		restore  bool
	}{
		{OrderStatusPending, OrderStatusCancelled, true},
		{OrderStatusShipped, OrderStatusCancelled, true},
		{OrderStatusCancelled, OrderStatusCancelled, false},
		{OrderStatusConfirmed, OrderStatusRefunded, true},
		{OrderStatusRefunded, OrderStatusRefunded, false},
		{OrderStatusCancelled, OrderStatusRefunded, false},
		{OrderStatusPending, OrderStatusConfirmed, false},
		{OrderStatusShipped, OrderStatusDelivered, false},
	}
	for _, tt := range tests {
		t.Run(string(tt.from)+"_"+string(tt.to), func(t *testing.T) {
			rule, ok := PermissivePolicy.Rule(tt.from, tt.to)
			require.True(t, ok)
			tr := Transition{From: tt.from, To: tt.to, Effects: rule.Effects}
			assert.Equal(t, tt.restore, tr.RestoresStock())
		})
	}
}

func TestEffectsAreSharedAcrossPolicies(t *testing.T) {
	for _, from := range AllStatuses {
		for _, to := range AllStatuses {
			strict, _ := StrictPolicy.Rule(from, to)
			if !strict.Allowed {
				continue
			}
			loose, _ := PermissivePolicy.Rule(from, to)
			assert.Equal(t, loose.Effects, strict.Effects, "%s -> %s", from, to)
		}
	}
}

func TestPolicyByName(t *testing.T) {
	p, err := PolicyByName("")
	require.NoError(t, err)
	assert.Same(t, StrictPolicy, p)

	p, err = PolicyByName(" Permissive ")
	require.NoError(t, err)
	assert.Same(t, PermissivePolicy, p)

	_, err = PolicyByName("chaotic")
	assert.Error(t, err)
}

func TestParseStatus(t *testing.T) {
	st, err := ParseStatus(" shipped ")
	require.NoError(t, err)
	assert.Equal(t, OrderStatusShipped, st)

	_, err = ParseStatus("LOST")
	assert.ErrorIs(t, err, ErrInvalidStatus)
}

func TestRevenueStatuses(t *testing.T) {
	counted := map[OrderStatus]bool{}
	for _, st := range AllStatuses {
		counted[st] = st.CountsAsRevenue()
	}
	assert.Equal(t, map[OrderStatus]bool{
		OrderStatusPending:    false,
		OrderStatusConfirmed:  true,
		OrderStatusProcessing: true,
		OrderStatusShipped:    true,
		OrderStatusDelivered:  true,
		OrderStatusCancelled:  false,
		OrderStatusRefunded:   false,
	}, counted)
}

func TestEffectString(t *testing.T) {
	assert.Equal(t, "restore_stock", EffectRestoreStock.String())
	assert.Equal(t, "effect(99)", Effect(99).String())
}
