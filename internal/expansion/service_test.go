package expansion

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/hray3182/Cadence/internal/models"
)

type fakeTemplates struct {
	watermarks map[int64]int
	setCalls   int
}

func newFakeTemplates() *fakeTemplates {
	return &fakeTemplates{watermarks: make(map[int64]int)}
}

func (f *fakeTemplates) SetLastGeneratedYm(_ context.Context, templateID int64, ym int) error {
	if prev, ok := f.watermarks[templateID]; ok && prev >= ym {
		return fmt.Errorf("watermark for template %d would move backwards: %d -> %d", templateID, prev, ym)
	}
	f.watermarks[templateID] = ym
	f.setCalls++
	return nil
}

type fakeInstances struct {
	rows   []*models.Instance
	nextID int64
}

func (f *fakeInstances) BulkInsert(_ context.Context, instances []*models.Instance) error {
	for _, inst := range instances {
		f.nextID++
		inst.InstanceID = f.nextID
		clone := *inst
		f.rows = append(f.rows, &clone)
	}
	return nil
}

func (f *fakeInstances) CountByTemplate(_ context.Context, templateID int64) (int, error) {
	n := 0
	for _, inst := range f.rows {
		if inst.TemplateID != nil && *inst.TemplateID == templateID {
			n++
		}
	}
	return n, nil
}

type fakeRegistrar struct {
	scheduled []int64
}

func (f *fakeRegistrar) Schedule(inst *models.Instance) {
	f.scheduled = append(f.scheduled, inst.InstanceID)
}

// June 15th, midday: half the current month already elapsed.
var testNow = time.Date(2024, time.June, 15, 12, 0, 0, 0, time.UTC)

func newTestService(templates *fakeTemplates, instances *fakeInstances, reg *fakeRegistrar) *Service {
	var registrar Registrar
	if reg != nil {
		registrar = reg
	}
	svc := New(templates, instances, registrar, time.UTC, zerolog.Nop())
	return svc.WithClock(func() time.Time { return testNow })
}

func dailyTemplate() *models.Template {
	return &models.Template{
		TemplateID:     7,
		FromUserID:     1,
		ToUserID:       1,
		Title:          "standup",
		RecurrenceRule: "0 0 9 * * *",
		ReminderType:   "reminder",
	}
}

func TestEnsureGeneratedCurrentMonth(t *testing.T) {
	t.Parallel()

	templates := newFakeTemplates()
	instances := &fakeInstances{}
	reg := &fakeRegistrar{}
	svc := newTestService(templates, instances, reg)
	tmpl := dailyTemplate()

	created, err := svc.EnsureGenerated(context.Background(), tmpl, 2024, time.June)
	if err != nil {
		t.Fatalf("EnsureGenerated returned error: %v", err)
	}
	// Daily 09:00 fires strictly after June 15 12:00: the 16th through the 30th.
	if len(created) != 15 {
		t.Fatalf("got %d instances, want 15", len(created))
	}
	if created[0].EventTime != time.Date(2024, time.June, 16, 9, 0, 0, 0, time.UTC) {
		t.Errorf("first fire at %v", created[0].EventTime)
	}
	if templates.watermarks[tmpl.TemplateID] != 202406 {
		t.Errorf("watermark = %d, want 202406", templates.watermarks[tmpl.TemplateID])
	}
	if tmpl.LastGeneratedYm == nil || *tmpl.LastGeneratedYm != 202406 {
		t.Errorf("in-memory watermark not updated: %v", tmpl.LastGeneratedYm)
	}
	if len(reg.scheduled) != 15 {
		t.Errorf("%d timers registered, want 15", len(reg.scheduled))
	}
}

func TestEnsureGeneratedIdempotent(t *testing.T) {
	t.Parallel()

	templates := newFakeTemplates()
	instances := &fakeInstances{}
	svc := newTestService(templates, instances, nil)
	tmpl := dailyTemplate()

	first, err := svc.EnsureGenerated(context.Background(), tmpl, 2024, time.June)
	if err != nil {
		t.Fatalf("first ensure: %v", err)
	}
	again, err := svc.EnsureGenerated(context.Background(), tmpl, 2024, time.June)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if len(again) != 0 {
		t.Errorf("covered month generated %d instances, want 0", len(again))
	}
	if len(instances.rows) != len(first) {
		t.Errorf("store has %d rows after replay, want %d", len(instances.rows), len(first))
	}
	if templates.setCalls != 1 {
		t.Errorf("watermark written %d times, want 1", templates.setCalls)
	}
}

func TestEnsureGeneratedPastMonth(t *testing.T) {
	t.Parallel()

	templates := newFakeTemplates()
	instances := &fakeInstances{}
	svc := newTestService(templates, instances, nil)
	tmpl := dailyTemplate()

	created, err := svc.EnsureGenerated(context.Background(), tmpl, 2024, time.March)
	if err != nil {
		t.Fatalf("EnsureGenerated returned error: %v", err)
	}
	if len(created) != 0 || len(instances.rows) != 0 {
		t.Errorf("past month generated instances: %d returned, %d stored", len(created), len(instances.rows))
	}
	if templates.watermarks[tmpl.TemplateID] != 202403 {
		t.Errorf("watermark = %d, want 202403", templates.watermarks[tmpl.TemplateID])
	}
}

func TestEnsureGeneratedNoOverlapDuplicates(t *testing.T) {
	t.Parallel()

	templates := newFakeTemplates()
	instances := &fakeInstances{}
	svc := newTestService(templates, instances, nil)
	tmpl := dailyTemplate()

	if _, err := svc.EnsureGenerated(context.Background(), tmpl, 2024, time.June); err != nil {
		t.Fatalf("ensure June: %v", err)
	}
	july, err := svc.EnsureGenerated(context.Background(), tmpl, 2024, time.July)
	if err != nil {
		t.Fatalf("ensure July: %v", err)
	}
	if len(july) != 31 {
		t.Errorf("July ensure created %d instances, want 31", len(july))
	}

	seen := make(map[time.Time]bool)
	for _, inst := range instances.rows {
		if seen[inst.EventTime] {
			t.Fatalf("duplicate instance at %v", inst.EventTime)
		}
		seen[inst.EventTime] = true
	}
	if len(instances.rows) != 46 {
		t.Errorf("store holds %d rows, want 46", len(instances.rows))
	}
	if templates.watermarks[tmpl.TemplateID] != 202407 {
		t.Errorf("watermark = %d, want 202407", templates.watermarks[tmpl.TemplateID])
	}
}

func TestEnsureGeneratedMaxExecutions(t *testing.T) {
	t.Parallel()

	templates := newFakeTemplates()
	instances := &fakeInstances{}
	svc := newTestService(templates, instances, nil)
	tmpl := dailyTemplate()
	maxExecutions := 2
	tmpl.MaxExecutions = &maxExecutions

	created, err := svc.EnsureGenerated(context.Background(), tmpl, 2024, time.June)
	if err != nil {
		t.Fatalf("ensure June: %v", err)
	}
	if len(created) != 2 {
		t.Fatalf("got %d instances, want the cap of 2", len(created))
	}

	// Once the cap is spent, later months advance the watermark but never
	// generate again.
	more, err := svc.EnsureGenerated(context.Background(), tmpl, 2024, time.July)
	if err != nil {
		t.Fatalf("ensure July: %v", err)
	}
	if len(more) != 0 || len(instances.rows) != 2 {
		t.Errorf("cap exceeded: %d new, %d total", len(more), len(instances.rows))
	}
	if templates.watermarks[tmpl.TemplateID] != 202407 {
		t.Errorf("watermark = %d, want 202407", templates.watermarks[tmpl.TemplateID])
	}
}

func TestEnsureGeneratedValidUntilTruncation(t *testing.T) {
	t.Parallel()

	templates := newFakeTemplates()
	instances := &fakeInstances{}
	svc := newTestService(templates, instances, nil)
	tmpl := dailyTemplate()
	until := time.Date(2024, time.June, 20, 23, 0, 0, 0, time.UTC)
	tmpl.ValidUntil = &until

	created, err := svc.EnsureGenerated(context.Background(), tmpl, 2024, time.August)
	if err != nil {
		t.Fatalf("EnsureGenerated returned error: %v", err)
	}
	if len(created) != 5 {
		t.Fatalf("got %d instances, want 5 (16th through 20th)", len(created))
	}
	// The watermark records the actually covered month, not the requested one.
	if templates.watermarks[tmpl.TemplateID] != 202406 {
		t.Errorf("watermark = %d, want 202406", templates.watermarks[tmpl.TemplateID])
	}

	// Re-ensuring the truncated month stays a no-op.
	again, err := svc.EnsureGenerated(context.Background(), tmpl, 2024, time.August)
	if err != nil {
		t.Fatalf("second ensure: %v", err)
	}
	if len(again) != 0 || len(instances.rows) != 5 {
		t.Errorf("truncated replay generated rows: %d new, %d total", len(again), len(instances.rows))
	}
}

func TestExpandMalformedRuleDegrades(t *testing.T) {
	t.Parallel()

	templates := newFakeTemplates()
	instances := &fakeInstances{}
	svc := newTestService(templates, instances, nil)
	tmpl := dailyTemplate()
	tmpl.RecurrenceRule = "every other tuesday maybe"

	created, err := svc.Expand(context.Background(), tmpl, 3)
	if err != nil {
		t.Fatalf("malformed rule should degrade, got error: %v", err)
	}
	if len(created) != 0 {
		t.Errorf("malformed rule generated %d instances", len(created))
	}
	if templates.setCalls != 0 {
		t.Errorf("watermark advanced %d times for a malformed rule", templates.setCalls)
	}
}

func TestExpandMonthsAhead(t *testing.T) {
	t.Parallel()

	templates := newFakeTemplates()
	instances := &fakeInstances{}
	svc := newTestService(templates, instances, nil)
	tmpl := dailyTemplate()

	// Through end of September: 15 (June) + 31 + 31 + 30.
	created, err := svc.Expand(context.Background(), tmpl, 3)
	if err != nil {
		t.Fatalf("Expand returned error: %v", err)
	}
	if len(created) != 107 {
		t.Errorf("got %d instances, want 107", len(created))
	}
	if templates.watermarks[tmpl.TemplateID] != 202409 {
		t.Errorf("watermark = %d, want 202409", templates.watermarks[tmpl.TemplateID])
	}
}

func TestExpandSnapshotsTemplateFields(t *testing.T) {
	t.Parallel()

	templates := newFakeTemplates()
	instances := &fakeInstances{}
	svc := newTestService(templates, instances, nil)
	tmpl := dailyTemplate()
	tmpl.Description = "daily sync"

	created, err := svc.Expand(context.Background(), tmpl, 0)
	if err != nil {
		t.Fatalf("Expand returned error: %v", err)
	}
	if len(created) == 0 {
		t.Fatal("no instances generated")
	}
	for _, inst := range created {
		if inst.Title != tmpl.Title || inst.Description != tmpl.Description {
			t.Fatalf("instance did not snapshot template fields: %+v", inst)
		}
		if inst.TemplateID == nil || *inst.TemplateID != tmpl.TemplateID {
			t.Fatalf("instance not linked to template: %+v", inst)
		}
	}
}
