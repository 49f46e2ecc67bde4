package parser

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/hpcops/amiereport/internal/charging"
	"github.com/hpcops/amiereport/internal/usage"
)

// rawJob represents one line of a scheduler job-completion JSONL log
type rawJob struct {
	JobID      string `json:"job_id"`
	ParentID   string `json:"parent_id"`
	User       string `json:"user"`
	Account    string `json:"account"`
	Partition  string `json:"partition"`
	Nodes      int    `json:"nodes"`
	Cores      int    `json:"cores"`
	JobName    string `json:"job_name"`
	MaxRSS     string `json:"max_rss"`
	State      string `json:"state"`
	SubmitTime string `json:"submit_time"`
	StartTime  string `json:"start_time"`
	EndTime    string `json:"end_time"`
}

// Options controls how job lines become usage records.
type Options struct {
	Resource string // resource name as registered with AMIE
	Rates    map[string]charging.Rate
}

// ParseFile parses a single job-completion JSONL file into usage records.
// Blank, malformed, and unfinished entries are skipped.
func ParseFile(path string, opts Options) ([]usage.UsageRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var records []usage.UsageRecord
	scanner := bufio.NewScanner(file)

	// Increase buffer size for large lines
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var raw rawJob
		if err := json.Unmarshal(line, &raw); err != nil {
			// Skip malformed lines
			continue
		}

		record, ok := toRecord(raw, opts)
		if !ok {
			continue
		}
		records = append(records, record)
	}

	return records, scanner.Err()
}

// ParseDir parses every *.jsonl file under dir, skipping files that fail
// to open or read.
func ParseDir(dir string, opts Options) ([]usage.UsageRecord, error) {
	var files []string
	err := filepath.Walk(dir, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if !info.IsDir() && filepath.Ext(path) == ".jsonl" {
			files = append(files, path)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var allRecords []usage.UsageRecord
	for _, file := range files {
		records, err := ParseFile(file, opts)
		if err != nil {
			continue
		}
		allRecords = append(allRecords, records...)
	}

	return allRecords, nil
}

// toRecord converts a raw job line to a usage record, computing the
// allocation charge from the queue's rate. Jobs that never started or
// never finished produce no record.
func toRecord(raw rawJob, opts Options) (usage.UsageRecord, bool) {
	if raw.JobID == "" || raw.User == "" || raw.Account == "" {
		return usage.UsageRecord{}, false
	}

	start, err := time.Parse(time.RFC3339, raw.StartTime)
	if err != nil {
		return usage.UsageRecord{}, false
	}
	end, err := time.Parse(time.RFC3339, raw.EndTime)
	if err != nil {
		return usage.UsageRecord{}, false
	}
	if end.Before(start) {
		return usage.UsageRecord{}, false
	}

	submit := raw.SubmitTime
	if submit == "" {
		submit = raw.StartTime
	}

	nodes := raw.Nodes
	if nodes < 1 {
		nodes = 1
	}

	rate := charging.RateFor(raw.Partition, opts.Rates)
	charge := charging.Charge(rate, nodes, raw.Cores, end.Sub(start))

	attrs := usage.UsageAttributes{
		NodeCount: strconv.Itoa(nodes),
		JobName:   raw.JobName,
		Memory:    raw.MaxRSS,
		Queue:     raw.Partition,
	}
	if raw.Cores > 0 {
		attrs.CpuCoreCount = strconv.Itoa(raw.Cores)
	}

	return usage.UsageRecord{
		Username:       raw.User,
		LocalProjectID: raw.Account,
		LocalRecordID:  raw.JobID,
		Resource:       opts.Resource,
		SubmitTime:     submit,
		StartTime:      raw.StartTime,
		EndTime:        raw.EndTime,
		Charge:         charging.FormatCharge(charge),
		Attributes:     attrs,
		ParentRecordID: raw.ParentID,
	}, true
}
