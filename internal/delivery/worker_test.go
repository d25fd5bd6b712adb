package delivery

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/Cadence/internal/cache"
	"github.com/hray3182/Cadence/internal/models"
)

type fakeStore struct {
	mu       sync.Mutex
	due      []*models.Instance
	notified map[int64]time.Time
	markErr  error
}

func newFakeStore(due ...*models.Instance) *fakeStore {
	return &fakeStore{due: due, notified: make(map[int64]time.Time)}
}

func (f *fakeStore) ListDueBetween(_ context.Context, from, to time.Time) ([]*models.Instance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*models.Instance
	for _, inst := range f.due {
		if _, done := f.notified[inst.InstanceID]; done {
			continue
		}
		if inst.EventTime.After(from) && !inst.EventTime.After(to) {
			out = append(out, inst)
		}
	}
	return out, nil
}

func (f *fakeStore) MarkNotified(_ context.Context, instanceID int64, at time.Time) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.markErr != nil {
		return false, f.markErr
	}
	if _, done := f.notified[instanceID]; done {
		return false, nil
	}
	f.notified[instanceID] = at
	return true, nil
}

type recordingNotifier struct {
	mu      sync.Mutex
	sent    []int64
	sendErr error
}

func (n *recordingNotifier) Send(_ context.Context, inst *models.Instance) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.sendErr != nil {
		return n.sendErr
	}
	n.sent = append(n.sent, inst.InstanceID)
	return nil
}

func disabledCache() *cache.Cache {
	return cache.New(nil, time.Minute, zerolog.Nop())
}

func TestDrainFallsBackToStore(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.June, 15, 9, 30, 20, 0, time.UTC)
	due := &models.Instance{InstanceID: 1, EventTime: time.Date(2024, time.June, 15, 9, 29, 30, 0, time.UTC)}
	later := &models.Instance{InstanceID: 2, EventTime: now.Add(time.Hour)}
	store := newFakeStore(due, later)
	n := &recordingNotifier{}

	w := NewWorker(store, disabledCache(), n, time.Minute, zerolog.Nop())
	w.now = func() time.Time { return now }

	w.drain(context.Background())
	if len(n.sent) != 1 || n.sent[0] != 1 {
		t.Fatalf("sent %v, want just instance 1", n.sent)
	}
	if _, ok := store.notified[1]; !ok {
		t.Error("delivered instance not marked notified")
	}
}

func TestDrainIsIdempotent(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, time.June, 15, 9, 30, 0, 0, time.UTC)
	due := &models.Instance{InstanceID: 1, EventTime: now.Add(-30 * time.Second)}
	store := newFakeStore(due)
	n := &recordingNotifier{}

	w := NewWorker(store, disabledCache(), n, time.Minute, zerolog.Nop())
	w.now = func() time.Time { return now }

	w.drain(context.Background())
	w.drain(context.Background())
	if len(n.sent) != 1 {
		t.Errorf("sent %d notifications across two drains, want 1", len(n.sent))
	}
}

func TestDeliverLoserSkipsSend(t *testing.T) {
	t.Parallel()

	inst := &models.Instance{InstanceID: 3, EventTime: time.Now()}
	store := newFakeStore(inst)
	n := &recordingNotifier{}
	w := NewWorker(store, disabledCache(), n, time.Minute, zerolog.Nop())

	w.Deliver(context.Background(), inst)
	w.Deliver(context.Background(), inst)
	if len(n.sent) != 1 {
		t.Errorf("sent %d times, want 1: the arbiter admits one winner", len(n.sent))
	}
}

func TestDeliverMarkErrorSkipsSend(t *testing.T) {
	t.Parallel()

	inst := &models.Instance{InstanceID: 4, EventTime: time.Now()}
	store := newFakeStore(inst)
	store.markErr = errors.New("connection refused")
	n := &recordingNotifier{}
	w := NewWorker(store, disabledCache(), n, time.Minute, zerolog.Nop())

	w.Deliver(context.Background(), inst)
	if len(n.sent) != 0 {
		t.Error("send happened without winning the arbiter")
	}
}

func TestDeliverSendErrorDoesNotUnmark(t *testing.T) {
	t.Parallel()

	inst := &models.Instance{InstanceID: 5, EventTime: time.Now()}
	store := newFakeStore(inst)
	n := &recordingNotifier{sendErr: errors.New("chat unavailable")}
	w := NewWorker(store, disabledCache(), n, time.Minute, zerolog.Nop())

	w.Deliver(context.Background(), inst)
	if _, ok := store.notified[inst.InstanceID]; !ok {
		t.Error("mark rolled back after a failed send")
	}
}
