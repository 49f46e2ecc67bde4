package aggregator

import (
	"reflect"
	"testing"
	"time"

	"github.com/hpcops/amiereport/internal/usage"
)

func record(project, user, queue, jobID, start, end, nodes, charge string) usage.UsageRecord {
	return usage.UsageRecord{
		Username:       user,
		LocalProjectID: project,
		LocalRecordID:  jobID,
		Resource:       "expanse.sdsc.edu",
		SubmitTime:     start,
		StartTime:      start,
		EndTime:        end,
		Charge:         charge,
		Attributes:     usage.UsageAttributes{NodeCount: nodes, Queue: queue},
	}
}

func sampleRecords() []usage.UsageRecord {
	return []usage.UsageRecord{
		record("CHM140003", "alice", "compute", "1", "2026-02-10T08:00:00Z", "2026-02-10T10:00:00Z", "4", "8.00"),
		record("CHM140003", "bob", "gpu", "2", "2026-02-10T09:00:00Z", "2026-02-10T10:00:00Z", "1", "4.00"),
		record("AST150012", "carol", "compute", "3", "2026-02-11T00:00:00Z", "2026-02-11T01:00:00Z", "2", "2.00"),
	}
}

func TestByProject(t *testing.T) {
	results := ByProject(sampleRecords())
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}

	first := results[0]
	if first.Key != "CHM140003" {
		t.Errorf("first key = %s, want CHM140003 (largest charge first)", first.Key)
	}
	if first.Jobs != 2 {
		t.Errorf("Jobs = %d, want 2", first.Jobs)
	}
	if first.Charge != 12.00 {
		t.Errorf("Charge = %v, want 12.00", first.Charge)
	}
	if first.NodeHours != 9.0 {
		t.Errorf("NodeHours = %v, want 9.0", first.NodeHours)
	}
	if !reflect.DeepEqual(first.Queues, []string{"compute", "gpu"}) {
		t.Errorf("Queues = %v, want [compute gpu]", first.Queues)
	}
}

func TestByUser(t *testing.T) {
	results := ByUser(sampleRecords())
	if len(results) != 3 {
		t.Fatalf("len(results) = %d, want 3", len(results))
	}
	if results[0].Key != "alice" {
		t.Errorf("first key = %s, want alice", results[0].Key)
	}
}

func TestByQueue(t *testing.T) {
	results := ByQueue(sampleRecords())
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	if results[0].Key != "compute" {
		t.Errorf("first key = %s, want compute", results[0].Key)
	}
	if results[0].Charge != 10.00 {
		t.Errorf("compute charge = %v, want 10.00", results[0].Charge)
	}
}

func TestByDay(t *testing.T) {
	results := ByDay(sampleRecords())
	if len(results) != 2 {
		t.Fatalf("len(results) = %d, want 2", len(results))
	}
	// Newest day first
	if results[0].Key != "2026-02-11" {
		t.Errorf("first key = %s, want 2026-02-11", results[0].Key)
	}
	if results[1].Jobs != 2 {
		t.Errorf("2026-02-10 jobs = %d, want 2", results[1].Jobs)
	}
}

func TestFilterRecords(t *testing.T) {
	records := sampleRecords()

	filtered := FilterRecords(records, Options{
		Since: time.Date(2026, 2, 11, 0, 0, 0, 0, time.UTC),
	})
	if len(filtered) != 1 {
		t.Fatalf("len(filtered) = %d, want 1", len(filtered))
	}
	if filtered[0].LocalRecordID != "3" {
		t.Errorf("remaining record = %s, want 3", filtered[0].LocalRecordID)
	}

	filtered = FilterRecords(records, Options{
		Until: time.Date(2026, 2, 10, 23, 59, 59, 0, time.UTC),
	})
	if len(filtered) != 2 {
		t.Errorf("len(filtered) = %d, want 2", len(filtered))
	}
}

func TestCalculateTotal(t *testing.T) {
	total := CalculateTotal(ByProject(sampleRecords()))
	if total.Jobs != 3 {
		t.Errorf("Jobs = %d, want 3", total.Jobs)
	}
	if total.Charge != 14.00 {
		t.Errorf("Charge = %v, want 14.00", total.Charge)
	}
	if !reflect.DeepEqual(total.Queues, []string{"compute", "gpu"}) {
		t.Errorf("Queues = %v, want [compute gpu]", total.Queues)
	}
}
