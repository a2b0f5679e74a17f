package outbox

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/nazeru/order-fulfillment/pkg/metrics"
)

type fakeStore struct {
	mu      sync.Mutex
	records []Record
	failed  map[int64]int
}

func (s *fakeStore) add(msgs ...Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, m := range msgs {
		s.records = append(s.records, Record{
			ID: int64(len(s.records) + 1), EventID: m.EventID, EventType: m.EventType,
			Topic: m.Topic, Key: m.Key, Payload: m.Payload,
		})
	}
}

func (s *fakeStore) FetchPending(_ context.Context, limit int) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, r := range s.records {
		if r.SentAt == nil && len(out) < limit {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkSent(_ context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	s.records[id-1].SentAt = &now
	return nil
}

func (s *fakeStore) MarkFailed(_ context.Context, id int64, _ error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failed == nil {
		s.failed = map[int64]int{}
	}
	s.failed[id]++
	return nil
}

func (s *fakeStore) pending() int {
	recs, _ := s.FetchPending(context.Background(), 1<<20)
	return len(recs)
}

type fakeSender struct {
	mu     sync.Mutex
	sent   []Message
	failOn map[string]int
}

func (f *fakeSender) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn[msg.EventID] > 0 {
		f.failOn[msg.EventID]--
		return errors.New("broker unavailable")
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeSender) ids() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.sent))
	for _, m := range f.sent {
		out = append(out, m.EventID)
	}
	return out
}

func TestDrainOnceSendsInOrder(t *testing.T) {
	st := &fakeStore{}
	st.add(
		Message{EventID: "e1", Topic: "order-events", Key: "o1"},
		Message{EventID: "e2", Topic: "order-events", Key: "o1"},
		Message{EventID: "e3", Topic: "order-analytics", Key: "o2"},
	)
	snd := &fakeSender{}
	reg := prometheus.NewRegistry()
	m := metrics.NewOutbox(reg)
	r := NewRelay(st, snd, zaptest.NewLogger(t), m, RelayConfig{BatchSize: 10})

	n, err := r.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"e1", "e2", "e3"}, snd.ids())
	assert.Equal(t, 0, st.pending())
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Published.WithLabelValues("order-events")))
}

func TestDrainOnceHoldsBackFailedKey(t *testing.T) {
	st := &fakeStore{}
	st.add(
		Message{EventID: "e1", Topic: "order-events", Key: "o1"},
		Message{EventID: "e2", Topic: "order-events", Key: "o1"},
		Message{EventID: "e3", Topic: "order-events", Key: "o1"},
		Message{EventID: "e4", Topic: "order-events", Key: "o2"},
		Message{EventID: "e5", Topic: "order-analytics", Key: "o1"},
	)
	snd := &fakeSender{failOn: map[string]int{"e2": 1}}
	r := NewRelay(st, snd, zaptest.NewLogger(t), nil, RelayConfig{BatchSize: 10})

	n, err := r.DrainOnce(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "e2")
	assert.Equal(t, 3, n)
	assert.Equal(t, []string{"e1", "e4", "e5"}, snd.ids())
	assert.Equal(t, 1, st.failed[2])
	assert.Zero(t, st.failed[3])

	n, err = r.DrainOnce(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, []string{"e1", "e4", "e5", "e2", "e3"}, snd.ids())
}

func TestDrainOnceStuckRecordDoesNotBlockOthers(t *testing.T) {
	st := &fakeStore{}
	st.add(
		Message{EventID: "huge", Topic: "order-events", Key: "o1"},
		Message{EventID: "e2", Topic: "order-events", Key: "o2"},
	)
	snd := &fakeSender{failOn: map[string]int{"huge": 100}}
	r := NewRelay(st, snd, zaptest.NewLogger(t), nil, RelayConfig{BatchSize: 10})

	for i := 0; i < 3; i++ {
		_, err := r.DrainOnce(context.Background())
		require.Error(t, err)
	}
	assert.Equal(t, []string{"e2"}, snd.ids())
	assert.Equal(t, 1, st.pending())
	assert.Equal(t, 3, st.failed[1])
}

func TestRunDeliversAfterKick(t *testing.T) {
	st := &fakeStore{}
	snd := &fakeSender{failOn: map[string]int{"e1": 2}}
	r := NewRelay(st, snd, zaptest.NewLogger(t), nil, RelayConfig{
		BatchSize:    5,
		PollInterval: 10 * time.Millisecond,
		MaxBackoff:   20 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	st.add(Message{EventID: "e1", Key: "o1"})
	r.Kick()
	r.Kick()

	require.Eventually(t, func() bool { return st.pending() == 0 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"e1"}, snd.ids())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("relay did not stop")
	}
}
