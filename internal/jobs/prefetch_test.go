package jobs

import (
	"testing"
	"time"

	"github.com/hray3182/Cadence/internal/models"
)

func TestGroupByMinute(t *testing.T) {
	t.Parallel()

	base := time.Date(2024, time.June, 15, 9, 30, 0, 0, time.UTC)
	instances := []*models.Instance{
		{InstanceID: 1, EventTime: base.Add(10 * time.Second)},
		{InstanceID: 2, EventTime: base.Add(45 * time.Second)},
		{InstanceID: 3, EventTime: base.Add(70 * time.Second)},
	}

	groups := groupByMinute(instances)
	if len(groups) != 2 {
		t.Fatalf("got %d groups, want 2", len(groups))
	}
	if len(groups[base]) != 2 {
		t.Errorf("minute %v holds %d instances, want 2", base, len(groups[base]))
	}
	if len(groups[base.Add(time.Minute)]) != 1 {
		t.Errorf("minute %v holds %d instances, want 1", base.Add(time.Minute), len(groups[base.Add(time.Minute)]))
	}
}

func TestGroupByMinuteEmpty(t *testing.T) {
	t.Parallel()

	if groups := groupByMinute(nil); len(groups) != 0 {
		t.Errorf("got %d groups for no instances", len(groups))
	}
}
