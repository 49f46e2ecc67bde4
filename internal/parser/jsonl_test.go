package parser

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hpcops/amiereport/internal/charging"
)

var testOpts = Options{
	Resource: "expanse.sdsc.edu",
	Rates: map[string]charging.Rate{
		"compute": {Unit: charging.NodeHour, PerHour: 1.0},
		"shared":  {Unit: charging.CoreHour, PerHour: 1.0 / 128},
	},
}

func writeLog(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestParseFile(t *testing.T) {
	log := `{"job_id":"100","user":"alice","account":"CHM140003","partition":"compute","nodes":4,"cores":128,"job_name":"md-run","max_rss":"64G","state":"COMPLETED","submit_time":"2026-02-10T08:00:00Z","start_time":"2026-02-10T08:05:00Z","end_time":"2026-02-10T10:05:00Z"}

not json at all
{"job_id":"101","user":"bob","account":"AST150012","partition":"shared","cores":64,"state":"RUNNING","submit_time":"2026-02-10T09:00:00Z","start_time":"2026-02-10T09:01:00Z","end_time":""}
{"job_id":"102","user":"bob","account":"AST150012","partition":"shared","cores":64,"parent_id":"99","state":"COMPLETED","start_time":"2026-02-10T09:00:00Z","end_time":"2026-02-10T11:00:00Z"}
{"user":"carol","account":"PHY200001","partition":"compute","start_time":"2026-02-10T09:00:00Z","end_time":"2026-02-10T10:00:00Z"}
`
	path := writeLog(t, t.TempDir(), "jobs.jsonl", log)

	records, err := ParseFile(path, testOpts)
	if err != nil {
		t.Fatalf("ParseFile() error = %v", err)
	}

	// Malformed, unfinished, and ID-less lines are skipped
	if len(records) != 2 {
		t.Fatalf("len(records) = %d, want 2", len(records))
	}

	first := records[0]
	if first.LocalRecordID != "100" {
		t.Errorf("LocalRecordID = %s, want 100", first.LocalRecordID)
	}
	if first.Username != "alice" {
		t.Errorf("Username = %s, want alice", first.Username)
	}
	if first.Resource != "expanse.sdsc.edu" {
		t.Errorf("Resource = %s, want expanse.sdsc.edu", first.Resource)
	}
	// 4 nodes for 2 hours at 1 SU per node-hour
	if first.Charge != "8.00" {
		t.Errorf("Charge = %s, want 8.00", first.Charge)
	}
	if first.Attributes.NodeCount != "4" {
		t.Errorf("NodeCount = %s, want 4", first.Attributes.NodeCount)
	}
	if first.Attributes.CpuCoreCount != "128" {
		t.Errorf("CpuCoreCount = %s, want 128", first.Attributes.CpuCoreCount)
	}
	if first.Attributes.Queue != "compute" {
		t.Errorf("Queue = %s, want compute", first.Attributes.Queue)
	}
	if first.ParentRecordID != "" {
		t.Errorf("ParentRecordID = %s, want empty", first.ParentRecordID)
	}

	second := records[1]
	// 64 cores for 2 hours on the shared per-core rate
	if second.Charge != "1.00" {
		t.Errorf("Charge = %s, want 1.00", second.Charge)
	}
	// nodes defaults to 1 when the log omits it
	if second.Attributes.NodeCount != "1" {
		t.Errorf("NodeCount = %s, want 1", second.Attributes.NodeCount)
	}
	if second.ParentRecordID != "99" {
		t.Errorf("ParentRecordID = %s, want 99", second.ParentRecordID)
	}
	// submit_time falls back to start_time when missing
	if second.SubmitTime != "2026-02-10T09:00:00Z" {
		t.Errorf("SubmitTime = %s, want start time", second.SubmitTime)
	}
}

func TestParseDir(t *testing.T) {
	dir := t.TempDir()
	writeLog(t, dir, "a.jsonl", `{"job_id":"1","user":"alice","account":"CHM140003","partition":"compute","nodes":1,"start_time":"2026-02-10T08:00:00Z","end_time":"2026-02-10T09:00:00Z"}`+"\n")
	writeLog(t, dir, "b.jsonl", `{"job_id":"2","user":"bob","account":"AST150012","partition":"compute","nodes":2,"start_time":"2026-02-10T08:00:00Z","end_time":"2026-02-10T09:00:00Z"}`+"\n")
	writeLog(t, dir, "notes.txt", "ignored\n")

	records, err := ParseDir(dir, testOpts)
	if err != nil {
		t.Fatalf("ParseDir() error = %v", err)
	}
	if len(records) != 2 {
		t.Errorf("len(records) = %d, want 2", len(records))
	}
}

func TestParseFileMissing(t *testing.T) {
	if _, err := ParseFile(filepath.Join(t.TempDir(), "nope.jsonl"), testOpts); err == nil {
		t.Error("ParseFile() error = nil, want open error")
	}
}
