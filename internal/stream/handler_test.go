package stream

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/rs/zerolog"

	"github.com/hray3182/Cadence/internal/models"
	"github.com/hray3182/Cadence/internal/repository"
)

type fakeTemplateStore struct {
	templates map[int64]*models.Template
}

func (f *fakeTemplateStore) GetByID(_ context.Context, templateID int64) (*models.Template, error) {
	tmpl, ok := f.templates[templateID]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return tmpl, nil
}

// fakeInstanceSet keeps the instance rows so convergence can be asserted
// across repeated event deliveries.
type fakeInstanceSet struct {
	rows        map[int64][]time.Time
	deleteCalls int
	deleteErr   error
}

func newFakeInstanceSet() *fakeInstanceSet {
	return &fakeInstanceSet{rows: make(map[int64][]time.Time)}
}

func (f *fakeInstanceSet) DeleteByTemplate(_ context.Context, templateID int64) (int64, error) {
	if f.deleteErr != nil {
		return 0, f.deleteErr
	}
	f.deleteCalls++
	n := int64(len(f.rows[templateID]))
	delete(f.rows, templateID)
	return n, nil
}

// fakeExpander writes a deterministic set of fire times into the instance set.
type fakeExpander struct {
	set   *fakeInstanceSet
	times []time.Time
	calls int
}

func (f *fakeExpander) Expand(_ context.Context, tmpl *models.Template, _ int) ([]*models.Instance, error) {
	f.calls++
	out := make([]*models.Instance, 0, len(f.times))
	for _, at := range f.times {
		f.set.rows[tmpl.TemplateID] = append(f.set.rows[tmpl.TemplateID], at)
		out = append(out, &models.Instance{EventTime: at, TemplateID: &tmpl.TemplateID})
	}
	return out, nil
}

func regenEvent(t *testing.T, ev TemplateChangedEvent) *message.Message {
	t.Helper()
	payload, err := json.Marshal(ev)
	if err != nil {
		t.Fatalf("marshal event: %v", err)
	}
	return message.NewMessage("test-message", payload)
}

func TestHandleRegenerationConverges(t *testing.T) {
	t.Parallel()

	tmpl := &models.Template{TemplateID: 10, FromUserID: 5}
	templates := &fakeTemplateStore{templates: map[int64]*models.Template{10: tmpl}}
	set := newFakeInstanceSet()
	set.rows[10] = []time.Time{time.Date(2024, time.June, 1, 9, 0, 0, 0, time.UTC)}
	expander := &fakeExpander{set: set, times: []time.Time{
		time.Date(2024, time.July, 1, 9, 0, 0, 0, time.UTC),
		time.Date(2024, time.August, 1, 9, 0, 0, 0, time.UTC),
	}}
	h := NewHandler(templates, set, expander, zerolog.Nop())

	ev := TemplateChangedEvent{
		Command:           CommandUpdateComplexReminder,
		ComplexReminderID: 10,
		MonthsAhead:       3,
		UserID:            5,
	}

	// Redelivering the same event any number of times leaves the same rows.
	for i := 0; i < 3; i++ {
		if err := h.Handle(regenEvent(t, ev)); err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		if len(set.rows[10]) != 2 {
			t.Fatalf("delivery %d left %d rows, want 2", i, len(set.rows[10]))
		}
	}
	if set.deleteCalls != 3 || expander.calls != 3 {
		t.Errorf("delete/expand called %d/%d times, want 3/3", set.deleteCalls, expander.calls)
	}
}

func TestHandleUnknownCommandDropped(t *testing.T) {
	t.Parallel()

	set := newFakeInstanceSet()
	expander := &fakeExpander{set: set}
	h := NewHandler(&fakeTemplateStore{}, set, expander, zerolog.Nop())

	ev := TemplateChangedEvent{Command: "DEFRAGMENT_CALENDAR", ComplexReminderID: 1}
	if err := h.Handle(regenEvent(t, ev)); err != nil {
		t.Fatalf("unknown command should ack, got %v", err)
	}
	if set.deleteCalls != 0 || expander.calls != 0 {
		t.Error("unknown command reached the regeneration path")
	}
}

func TestHandleUndecodablePayloadDropped(t *testing.T) {
	t.Parallel()

	h := NewHandler(&fakeTemplateStore{}, newFakeInstanceSet(), &fakeExpander{}, zerolog.Nop())
	if err := h.Handle(message.NewMessage("bad", []byte("{not json"))); err != nil {
		t.Fatalf("undecodable payload should ack, got %v", err)
	}
}

func TestHandleMissingTemplateSkipped(t *testing.T) {
	t.Parallel()

	set := newFakeInstanceSet()
	h := NewHandler(&fakeTemplateStore{}, set, &fakeExpander{set: set}, zerolog.Nop())

	ev := TemplateChangedEvent{Command: CommandUpdateComplexReminder, ComplexReminderID: 404, UserID: 5}
	if err := h.Handle(regenEvent(t, ev)); err != nil {
		t.Fatalf("missing template should ack, got %v", err)
	}
	if set.deleteCalls != 0 {
		t.Error("missing template still reset instances")
	}
}

func TestHandleOwnershipMismatchDropped(t *testing.T) {
	t.Parallel()

	tmpl := &models.Template{TemplateID: 10, FromUserID: 5}
	templates := &fakeTemplateStore{templates: map[int64]*models.Template{10: tmpl}}
	set := newFakeInstanceSet()
	expander := &fakeExpander{set: set}
	h := NewHandler(templates, set, expander, zerolog.Nop())

	ev := TemplateChangedEvent{Command: CommandUpdateComplexReminder, ComplexReminderID: 10, UserID: 6}
	if err := h.Handle(regenEvent(t, ev)); err != nil {
		t.Fatalf("foreign template should ack, got %v", err)
	}
	if set.deleteCalls != 0 || expander.calls != 0 {
		t.Error("foreign template was regenerated")
	}
}

func TestHandleStoreErrorNacks(t *testing.T) {
	t.Parallel()

	tmpl := &models.Template{TemplateID: 10, FromUserID: 5}
	templates := &fakeTemplateStore{templates: map[int64]*models.Template{10: tmpl}}
	set := newFakeInstanceSet()
	set.deleteErr = errors.New("connection reset")
	h := NewHandler(templates, set, &fakeExpander{set: set}, zerolog.Nop())

	ev := TemplateChangedEvent{Command: CommandUpdateComplexReminder, ComplexReminderID: 10, UserID: 5}
	if err := h.Handle(regenEvent(t, ev)); err == nil {
		t.Fatal("transient store failure must nack for redelivery")
	}
}
